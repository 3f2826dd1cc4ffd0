/*
Package cache memoises voxel trees read from grid files.

A TreeCache maps a (file, grid, simplify level) Key to a loaded tree and
bounds the total by tree memory usage and entry count. Eviction is LRU when
an insert pushes the cache over budget; Shrink evicts by a weight that
favours recent, frequent and small trees, and is what the memory monitor
calls under pressure.

# Sharing

The cache owns one user on each cached tree's grid.TreeSharingInfo. Every
Get adds a user for the caller, which hands the sharing info to exactly one
GridData through grid.LoadedGrid. A grid that later asks for write access
sees a shared tree and copies it, so cached trees are never modified:

	tree, sharing, err := trees.Get(key, func() (voxel.Tree, error) {
		_, tree, err := container.ReadGrid(ctx, opener, path, name)
		return tree, err
	})
	return grid.LoadedGrid{Tree: tree, Sharing: sharing}, err

Evicting an entry only drops the cache's user. Grids that hold the tree keep
it alive and it becomes mutable for the last of them.

# Concurrency

Concurrent misses on one key run compute once through singleflight. Keys
with callers between a miss and picking up the result are never evicted,
so every waiter finds the entry the winner inserted.

A TreeCache with MaxSize <= 0 is disabled: Get calls compute every time and
returns a nil sharing info.
*/
package cache
