package cache

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volgrid/volgrid/internal/grid"
	"github.com/volgrid/volgrid/internal/voxel"
)

func floatTree(voxels int) *voxel.TypedTree[float32] {
	tree := voxel.NewTypedTree(voxel.GridTypeFloat, float32(0))
	for i := 0; i < voxels; i++ {
		tree.SetValue(voxel.Coord{X: int32(i * voxel.LeafDim)}, float32(i))
	}
	return tree
}

func computeOf(tree voxel.Tree, calls *atomic.Int32) func() (voxel.Tree, error) {
	return func() (voxel.Tree, error) {
		calls.Add(1)
		return tree, nil
	}
}

func TestTreeCache_Disabled(t *testing.T) {
	c := NewTreeCache(Config{}, nil)
	assert.False(t, c.Enabled())

	var calls atomic.Int32
	tree := floatTree(1)
	got, sharing, err := c.Get(Key{Path: "a", Grid: "d"}, computeOf(tree, &calls))
	require.NoError(t, err)
	assert.Same(t, tree, got)
	assert.Nil(t, sharing)

	_, _, err = c.Get(Key{Path: "a", Grid: "d"}, computeOf(tree, &calls))
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestTreeCache_HitSharesTree(t *testing.T) {
	c := NewTreeCache(Config{MaxSize: 1 << 30}, nil)
	key := Key{Path: "/f.vgrid", Grid: "density"}
	var calls atomic.Int32
	tree := floatTree(2)

	got1, s1, err := c.Get(key, computeOf(tree, &calls))
	require.NoError(t, err)
	got2, s2, err := c.Get(key, computeOf(tree, &calls))
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls.Load())
	assert.Same(t, got1, got2)
	assert.Same(t, s1, s2)
	// cache + two callers
	assert.Equal(t, int64(3), s1.Users())
	assert.False(t, s1.IsMutable())

	stats := c.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, tree.MemoryUsage(), stats.Size)
}

func TestTreeCache_ConcurrentMissComputesOnce(t *testing.T) {
	c := NewTreeCache(Config{MaxSize: 1 << 30}, nil)
	key := Key{Path: "/f.vgrid", Grid: "density"}

	var calls atomic.Int32
	release := make(chan struct{})
	compute := func() (voxel.Tree, error) {
		calls.Add(1)
		<-release
		return floatTree(1), nil
	}

	const n = 16
	var wg sync.WaitGroup
	sharings := make([]*grid.TreeSharingInfo, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, s, err := c.Get(key, compute)
			assert.NoError(t, err)
			sharings[i] = s
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, s := range sharings {
		assert.Same(t, sharings[0], s)
	}
	assert.Equal(t, int64(n+1), sharings[0].Users())
}

func TestTreeCache_ComputeErrorNotCached(t *testing.T) {
	c := NewTreeCache(Config{MaxSize: 1 << 30}, nil)
	key := Key{Path: "/f.vgrid", Grid: "density"}

	_, _, err := c.Get(key, func() (voxel.Tree, error) { return nil, fmt.Errorf("disk gone") })
	require.Error(t, err)
	assert.False(t, c.Contains(key))

	_, _, err = c.Get(key, func() (voxel.Tree, error) { return nil, nil })
	assert.Error(t, err)

	var calls atomic.Int32
	_, s, err := c.Get(key, computeOf(floatTree(1), &calls))
	require.NoError(t, err)
	assert.NotNil(t, s)
	assert.True(t, c.Contains(key))
}

func TestTreeCache_KeysWithSeparatorsLoadIndependently(t *testing.T) {
	c := NewTreeCache(Config{MaxSize: 1 << 30}, nil)
	first := Key{Path: "a#b", Grid: "c"}
	second := Key{Path: "a", Grid: "b#c"}
	require.NotEqual(t, first.String(), second.String())

	started := make(chan struct{})
	release := make(chan struct{})
	firstTree, secondTree := floatTree(1), floatTree(2)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		got, _, err := c.Get(first, func() (voxel.Tree, error) {
			close(started)
			<-release
			return firstTree, nil
		})
		assert.NoError(t, err)
		assert.Same(t, firstTree, got)
	}()
	<-started

	type result struct {
		tree voxel.Tree
		err  error
	}
	done := make(chan result, 1)
	go func() {
		var calls atomic.Int32
		got, _, err := c.Get(second, computeOf(secondTree, &calls))
		done <- result{got, err}
	}()

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Same(t, secondTree, r.tree)
	case <-time.After(5 * time.Second):
		t.Fatal("second key waited on the first key's load")
	}
	close(release)
	wg.Wait()

	assert.True(t, c.Contains(first))
	assert.True(t, c.Contains(second))
}

func TestTreeCache_PanickingComputeReleasesKey(t *testing.T) {
	c := NewTreeCache(Config{MaxSize: 1 << 30}, nil)
	key := Key{Path: "/f.vgrid", Grid: "density"}

	assert.Panics(t, func() {
		_, _, _ = c.Get(key, func() (voxel.Tree, error) { panic("bad payload") })
	})
	c.mu.Lock()
	assert.Empty(t, c.waiting)
	c.mu.Unlock()

	var calls atomic.Int32
	_, _, err := c.Get(key, computeOf(floatTree(1), &calls))
	require.NoError(t, err)
	assert.Equal(t, 1, c.Remove("/f.vgrid", "density"))
}

func TestTreeCache_EvictsLRUOverBudget(t *testing.T) {
	one := floatTree(1).MemoryUsage()
	c := NewTreeCache(Config{MaxSize: 2 * one}, nil)
	var calls atomic.Int32

	keys := []Key{{Path: "p", Grid: "a"}, {Path: "p", Grid: "b"}, {Path: "p", Grid: "c"}}
	var held []*grid.TreeSharingInfo
	for _, k := range keys[:2] {
		_, s, err := c.Get(k, computeOf(floatTree(1), &calls))
		require.NoError(t, err)
		held = append(held, s)
	}
	// Touch a so b becomes least recently used.
	_, s, err := c.Get(keys[0], computeOf(floatTree(1), &calls))
	require.NoError(t, err)
	held = append(held, s)

	_, s, err = c.Get(keys[2], computeOf(floatTree(1), &calls))
	require.NoError(t, err)
	held = append(held, s)

	assert.True(t, c.Contains(keys[0]))
	assert.False(t, c.Contains(keys[1]))
	assert.True(t, c.Contains(keys[2]))
	assert.Equal(t, uint64(1), c.Stats().Evictions)

	// The evicted tree is still owned by the grid that received it.
	assert.Equal(t, int64(1), held[1].Users())
	assert.True(t, held[1].IsMutable())
}

func TestTreeCache_MaxEntries(t *testing.T) {
	c := NewTreeCache(Config{MaxSize: 1 << 30, MaxEntries: 1}, nil)
	var calls atomic.Int32
	for _, name := range []string{"a", "b", "c"} {
		_, s, err := c.Get(Key{Path: "p", Grid: name}, computeOf(floatTree(1), &calls))
		require.NoError(t, err)
		s.RemoveUser()
	}
	assert.Equal(t, 1, c.Stats().Entries)
	assert.True(t, c.Contains(Key{Path: "p", Grid: "c"}))
}

func TestTreeCache_ShrinkByWeight(t *testing.T) {
	c := NewTreeCache(Config{MaxSize: 1 << 30}, nil)
	now := time.Now()
	c.now = func() time.Time { return now }

	var calls atomic.Int32
	hot := Key{Path: "p", Grid: "hot"}
	cold := Key{Path: "p", Grid: "cold"}
	for _, k := range []Key{hot, cold} {
		_, s, err := c.Get(k, computeOf(floatTree(1), &calls))
		require.NoError(t, err)
		s.RemoveUser()
	}
	for i := 0; i < 5; i++ {
		_, s, err := c.Get(hot, computeOf(floatTree(1), &calls))
		require.NoError(t, err)
		s.RemoveUser()
	}

	freed := c.Shrink(1)
	assert.Equal(t, floatTree(1).MemoryUsage(), freed)
	assert.True(t, c.Contains(hot))
	assert.False(t, c.Contains(cold))

	c.Clear()
	assert.Zero(t, c.Size())
	assert.Zero(t, c.Stats().Entries)
}

func TestTreeCache_Remove(t *testing.T) {
	c := NewTreeCache(Config{MaxSize: 1 << 30}, nil)
	var calls atomic.Int32
	for _, k := range []Key{
		{Path: "p", Grid: "a", Level: 0},
		{Path: "p", Grid: "a", Level: 1},
		{Path: "p", Grid: "b"},
		{Path: "q", Grid: "a"},
	} {
		_, s, err := c.Get(k, computeOf(floatTree(1), &calls))
		require.NoError(t, err)
		s.RemoveUser()
	}

	assert.Equal(t, 2, c.Remove("p", "a"))
	assert.Equal(t, 1, c.Remove("p", ""))
	assert.Equal(t, 1, c.Stats().Entries)
}

func TestTreeCache_Resize(t *testing.T) {
	one := floatTree(1).MemoryUsage()
	c := NewTreeCache(Config{MaxSize: 4 * one}, nil)
	var calls atomic.Int32
	for _, name := range []string{"a", "b", "c"} {
		_, s, err := c.Get(Key{Path: "p", Grid: name}, computeOf(floatTree(1), &calls))
		require.NoError(t, err)
		s.RemoveUser()
	}
	c.Resize(one)
	stats := c.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, one, stats.Capacity)
	assert.InDelta(t, 1.0, stats.Utilization, 1e-9)
}

func TestTreeCache_GridCopiesBeforeWrite(t *testing.T) {
	c := NewTreeCache(Config{MaxSize: 1 << 30}, nil)
	key := Key{Path: "p", Grid: "density"}
	var calls atomic.Int32

	load := func() (grid.LoadedGrid, error) {
		tree, sharing, err := c.Get(key, computeOf(floatTree(1), &calls))
		return grid.LoadedGrid{Tree: tree, Sharing: sharing}, err
	}
	h := grid.NewLazy(load, nil)
	defer h.Reset()

	var tok grid.AccessToken
	cached := h.Get().Grid(&tok)
	written := h.Get().GridForWrite(&tok)
	tok.Reset()

	assert.NotSame(t, cached, written)
	assert.True(t, c.Contains(key))
	assert.Equal(t, int64(1), cached.ActiveVoxelCount())
}
