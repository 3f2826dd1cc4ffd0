package grid

import (
	"sync/atomic"

	"github.com/volgrid/volgrid/internal/voxel"
)

// TreeSharingInfo counts the GridData instances referencing one tree. A tree
// with a single user may be modified in place; otherwise writers copy it.
type TreeSharingInfo struct {
	tree    voxel.Tree
	users   atomic.Int64
	ensured atomic.Bool
	// memory caches tree.MemoryUsage; -1 means not computed.
	memory atomic.Int64
}

// NewTreeSharingInfo wraps tree with one user, the caller.
func NewTreeSharingInfo(tree voxel.Tree) *TreeSharingInfo {
	s := &TreeSharingInfo{tree: tree}
	s.users.Store(1)
	s.memory.Store(-1)
	return s
}

// Tree returns the wrapped tree.
func (s *TreeSharingInfo) Tree() voxel.Tree { return s.tree }

func (s *TreeSharingInfo) AddUser() {
	s.users.Add(1)
	s.ensured.Store(false)
}

// RemoveUser drops one user. The last user releases the tree.
func (s *TreeSharingInfo) RemoveUser() {
	n := s.users.Add(-1)
	if n > 0 {
		return
	}
	if n < 0 {
		panic("grid: TreeSharingInfo user count below zero")
	}
	if r, ok := s.tree.(voxel.Releaser); ok {
		r.Release()
	}
}

// IsMutable reports whether the caller is the only user.
func (s *TreeSharingInfo) IsMutable() bool {
	return s.users.Load() == 1
}

// TagEnsuredMutable records that the sole user has checked exclusivity and
// is about to write. AddUser clears the tag.
func (s *TreeSharingInfo) TagEnsuredMutable() {
	s.ensured.Store(true)
}

// EnsuredMutable reports whether TagEnsuredMutable was called since the
// last AddUser.
func (s *TreeSharingInfo) EnsuredMutable() bool {
	return s.ensured.Load()
}

func (s *TreeSharingInfo) Users() int64 {
	return s.users.Load()
}

func (s *TreeSharingInfo) memoryUsage() int64 {
	if m := s.memory.Load(); m >= 0 {
		return m
	}
	m := s.tree.MemoryUsage()
	s.memory.Store(m)
	return m
}

func (s *TreeSharingInfo) invalidateMemory() {
	s.memory.Store(-1)
}
