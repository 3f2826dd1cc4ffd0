/*
Package filecache hands out grid handles for grids stored in files.

A Cache is an ordinary value: construct one with New and pass it to the code
that needs grids from disk. It keeps one FileCacheEntry per normalised path,
holding the file metadata and one GridCacheEntry per named grid, and within
that one GridHandle per simplify level:

	c := filecache.New(filecache.Options{Trees: cache.Config{MaxSize: 1 << 30}})
	h := c.GetGridFromFile("smoke.vgrid", "density", 0)
	defer h.Reset()

	var tok grid.AccessToken
	defer tok.Reset()
	tree := h.Get().Grid(&tok) // the voxels are read here

Headers are read under the cache lock on first access to a path, so every
path is read at most once. Trees are read lazily by the returned grid and go
through a cache.TreeCache; simplify level N is built by resampling level 0
by 2^N.

Failures never escape as errors. A file that cannot be read is remembered
and every grid requested from it loads as an empty float grid whose
ErrorMessage carries the original error. The entry is not re-read, even if
the file later appears.

UnloadUnused drops handles that only the cache references. It is a
heuristic: a handle shared again by another goroutine between the check and
the drop survives, and trees stay in the tree cache until it evicts them.
*/
package filecache
