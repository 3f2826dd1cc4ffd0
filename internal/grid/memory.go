package grid

// MemoryCounter sums tree memory across grids, counting each shared tree
// once.
type MemoryCounter struct {
	seen  map[*TreeSharingInfo]struct{}
	total int64
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{seen: make(map[*TreeSharingInfo]struct{})}
}

func (c *MemoryCounter) add(s *TreeSharingInfo) {
	if s == nil {
		return
	}
	if _, ok := c.seen[s]; ok {
		return
	}
	c.seen[s] = struct{}{}
	c.total += s.memoryUsage()
}

// Total returns the bytes counted so far.
func (c *MemoryCounter) Total() int64 {
	return c.total
}

// Trees returns the number of distinct trees counted.
func (c *MemoryCounter) Trees() int {
	return len(c.seen)
}
