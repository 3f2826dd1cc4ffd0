package cache

import (
	"container/list"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/volgrid/volgrid/internal/grid"
	"github.com/volgrid/volgrid/internal/metrics"
	"github.com/volgrid/volgrid/internal/voxel"
	"github.com/volgrid/volgrid/pkg/errors"
	"github.com/volgrid/volgrid/pkg/types"
)

// Key identifies one memoised tree.
type Key struct {
	Path  string
	Grid  string
	Level int
}

// String renders the key unambiguously; it also names the key's load
// flight, so distinct keys must never render alike.
func (k Key) String() string {
	return fmt.Sprintf("%q#%q@%d", k.Path, k.Grid, k.Level)
}

// Config bounds a TreeCache. MaxSize <= 0 disables memoisation.
type Config struct {
	MaxSize    int64 `yaml:"max_size"`
	MaxEntries int   `yaml:"max_entries"`
}

type treeItem struct {
	key         Key
	sharing     *grid.TreeSharingInfo
	size        int64
	accessTime  time.Time
	accessCount int64
	element     *list.Element
}

// TreeCache memoises loaded trees. The cache holds one user on every
// cached tree's TreeSharingInfo, so a grid that receives a cached tree sees
// it as shared and copies before writing; the memoised tree stays pristine.
// Concurrent misses on the same key compute once.
type TreeCache struct {
	mu          sync.Mutex
	capacity    int64
	currentSize int64
	items       map[Key]*treeItem
	evictList   *list.List
	// waiting counts goroutines between a miss and picking up the
	// computed item. Keys with waiters are never evicted.
	waiting map[Key]int

	config  Config
	group   singleflight.Group
	metrics *metrics.Collector
	stats   types.TreeCacheStats
	now     func() time.Time
}

// NewTreeCache creates a tree cache. m may be nil.
func NewTreeCache(config Config, m *metrics.Collector) *TreeCache {
	return &TreeCache{
		capacity:  config.MaxSize,
		items:     make(map[Key]*treeItem),
		evictList: list.New(),
		waiting:   make(map[Key]int),
		config:    config,
		metrics:   m,
		stats:     types.TreeCacheStats{Capacity: config.MaxSize},
		now:       time.Now,
	}
}

// Enabled reports whether trees are memoised at all.
func (c *TreeCache) Enabled() bool {
	return c != nil && c.capacity > 0
}

// Get returns the tree for key, calling compute on a miss. With the cache
// enabled the returned sharing info carries a user for the caller, who
// must hand it to exactly one GridData (or call RemoveUser). With the
// cache disabled the sharing info is nil and the tree is exclusively the
// caller's.
func (c *TreeCache) Get(key Key, compute func() (voxel.Tree, error)) (voxel.Tree, *grid.TreeSharingInfo, error) {
	if !c.Enabled() {
		tree, err := compute()
		return tree, nil, err
	}

	c.mu.Lock()
	if item, ok := c.items[key]; ok {
		c.touch(item)
		item.sharing.AddUser()
		c.stats.Hits++
		c.mu.Unlock()
		c.metrics.RecordCacheHit(metrics.CacheTree)
		return item.sharing.Tree(), item.sharing, nil
	}
	c.stats.Misses++
	c.waiting[key]++
	c.mu.Unlock()
	c.metrics.RecordCacheMiss(metrics.CacheTree)
	waiting := true
	defer func() {
		if waiting {
			c.doneWaiting(key)
		}
	}()

	_, err, _ := c.group.Do(key.String(), func() (interface{}, error) {
		c.mu.Lock()
		_, ok := c.items[key]
		c.mu.Unlock()
		if ok {
			return nil, nil
		}
		tree, err := compute()
		if err != nil {
			return nil, err
		}
		if tree == nil {
			return nil, errors.Newf(errors.ErrCodeInternalError, "tree cache: compute for %s returned no tree", key)
		}
		c.mu.Lock()
		c.insert(key, tree)
		c.mu.Unlock()
		return nil, nil
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	c.releaseWaiterLocked(key)
	waiting = false
	if err != nil {
		return nil, nil, err
	}
	item, ok := c.items[key]
	if !ok {
		return nil, nil, errors.Newf(errors.ErrCodeInvalidState, "tree cache: %s vanished during load", key)
	}
	item.sharing.AddUser()
	c.evictIfNeeded()
	c.metrics.UpdateTreeCacheSize(c.currentSize)
	return item.sharing.Tree(), item.sharing, nil
}

// doneWaiting releases the waiter of a miss whose compute panicked.
func (c *TreeCache) doneWaiting(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releaseWaiterLocked(key)
}

func (c *TreeCache) releaseWaiterLocked(key Key) {
	if c.waiting[key]--; c.waiting[key] <= 0 {
		delete(c.waiting, key)
	}
}

// Contains reports whether key is cached without touching it.
func (c *TreeCache) Contains(key Key) bool {
	if !c.Enabled() {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[key]
	return ok
}

// Remove drops every cached level of grid name in path. An empty name
// drops the whole file.
func (c *TreeCache) Remove(path, name string) int {
	if !c.Enabled() {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var keys []Key
	for key := range c.items {
		if key.Path == path && (name == "" || key.Grid == name) && c.waiting[key] == 0 {
			keys = append(keys, key)
		}
	}
	for _, key := range keys {
		c.removeItem(key)
	}
	c.metrics.UpdateTreeCacheSize(c.currentSize)
	return len(keys)
}

// Shrink evicts the least valuable entries until at least target bytes
// are freed, weighing recency, access count and size. It returns the bytes
// freed.
func (c *TreeCache) Shrink(target int64) int64 {
	if !c.Enabled() || target <= 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	type weightedItem struct {
		key    Key
		weight float64
	}
	now := c.now()
	items := make([]weightedItem, 0, len(c.items))
	for key, item := range c.items {
		if c.waiting[key] > 0 {
			continue
		}
		items = append(items, weightedItem{key: key, weight: weight(item, now)})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].weight < items[j].weight })

	var freed int64
	for _, it := range items {
		if freed >= target {
			break
		}
		freed += c.items[it.key].size
		c.removeItem(it.key)
	}
	c.metrics.UpdateTreeCacheSize(c.currentSize)
	return freed
}

// Clear evicts every entry not currently being loaded.
func (c *TreeCache) Clear() {
	if !c.Enabled() {
		return
	}
	c.Shrink(1<<63 - 1)
}

// Size returns the bytes charged to the cache.
func (c *TreeCache) Size() int64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentSize
}

// Stats returns cache statistics
func (c *TreeCache) Stats() types.TreeCacheStats {
	if c == nil {
		return types.TreeCacheStats{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.Entries = len(c.items)
	stats.Size = c.currentSize
	if c.capacity > 0 {
		stats.Utilization = float64(c.currentSize) / float64(c.capacity)
	}
	return stats
}

// Resize changes the cache capacity
func (c *TreeCache) Resize(newCapacity int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.capacity = newCapacity
	c.stats.Capacity = newCapacity
	c.evictIfNeeded()
	c.metrics.UpdateTreeCacheSize(c.currentSize)
}

func (c *TreeCache) insert(key Key, tree voxel.Tree) {
	item := &treeItem{
		key:         key,
		sharing:     grid.NewTreeSharingInfo(tree),
		size:        tree.MemoryUsage(),
		accessTime:  c.now(),
		accessCount: 1,
	}
	item.element = c.evictList.PushFront(item)
	c.items[key] = item
	c.currentSize += item.size
}

func (c *TreeCache) touch(item *treeItem) {
	item.accessTime = c.now()
	item.accessCount++
	c.evictList.MoveToFront(item.element)
}

// weight favours recently and frequently used small trees.
func weight(item *treeItem, now time.Time) float64 {
	recencyFactor := 1.0 / (1.0 + now.Sub(item.accessTime).Seconds()/3600.0)
	frequencyFactor := float64(item.accessCount)
	sizeFactor := 1.0 / (1.0 + float64(item.size)/1024.0/1024.0)
	return recencyFactor * frequencyFactor * sizeFactor
}

// removeItem drops the cache's user of the tree. Grids holding the tree
// keep it alive. Callers hold c.mu.
func (c *TreeCache) removeItem(key Key) {
	item, ok := c.items[key]
	if !ok {
		return
	}
	c.evictList.Remove(item.element)
	delete(c.items, key)
	c.currentSize -= item.size
	c.stats.Evictions++
	item.sharing.RemoveUser()
	c.metrics.RecordEviction(metrics.CacheTree, 1)
}

// evictIfNeeded evicts from the LRU end, skipping keys still being
// loaded. Callers hold c.mu.
func (c *TreeCache) evictIfNeeded() {
	over := func() bool {
		if c.currentSize > c.capacity {
			return true
		}
		return c.config.MaxEntries > 0 && len(c.items) > c.config.MaxEntries
	}
	for e := c.evictList.Back(); e != nil && over(); {
		item := e.Value.(*treeItem)
		e = e.Prev()
		if c.waiting[item.key] > 0 {
			continue
		}
		c.removeItem(item.key)
	}
}
