package filecache

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/volgrid/volgrid/internal/cache"
	"github.com/volgrid/volgrid/internal/container"
	"github.com/volgrid/volgrid/internal/grid"
	"github.com/volgrid/volgrid/internal/metrics"
	"github.com/volgrid/volgrid/internal/voxel"
	"github.com/volgrid/volgrid/pkg/errors"
	"github.com/volgrid/volgrid/pkg/health"
	"github.com/volgrid/volgrid/pkg/types"
	"github.com/volgrid/volgrid/pkg/utils"
)

// DefaultMaxSimplifyLevel caps the simplify level when Options leaves it
// unset. Level 8 already reduces resolution 256 times per axis.
const DefaultMaxSimplifyLevel = 8

// Options configures a Cache.
type Options struct {
	// Opener resolves grid file paths. Defaults to a Router with local
	// files only.
	Opener container.Opener

	// Trees bounds the memoised tree cache. A zero MaxSize disables it.
	Trees cache.Config

	MaxSimplifyLevel int

	Logger  *utils.StructuredLogger
	Metrics *metrics.Collector

	// Health, when set, is told the outcome of every header and tree read
	// under the component "local" or "s3".
	Health *health.Tracker
}

// Cache hands out grid handles for grids stored in files. File headers are
// read once per path and every (path, grid, level) triple maps to one
// GridData until UnloadUnused evicts it. A file that fails to open is
// remembered and never retried.
//
// Lock order: a level N GridData, then c.mu, then the level 0 GridData.
// Handles are never reset while c.mu is held.
type Cache struct {
	mu    sync.Mutex
	files map[string]*FileCacheEntry

	hits      uint64
	misses    uint64
	evictions uint64

	opener   container.Opener
	trees    *cache.TreeCache
	maxLevel int
	logger   *utils.StructuredLogger
	metrics  *metrics.Collector
	health   *health.Tracker
}

// New creates an empty cache.
func New(opts Options) *Cache {
	if opts.Opener == nil {
		opts.Opener = container.Router{Local: container.LocalOpener{}}
	}
	if opts.Logger == nil {
		opts.Logger = utils.NewNopLogger()
	}
	if opts.MaxSimplifyLevel <= 0 {
		opts.MaxSimplifyLevel = DefaultMaxSimplifyLevel
	}
	return &Cache{
		files:    make(map[string]*FileCacheEntry),
		opener:   opts.Opener,
		trees:    cache.NewTreeCache(opts.Trees, opts.Metrics),
		maxLevel: opts.MaxSimplifyLevel,
		logger:   opts.Logger.WithComponent("filecache"),
		metrics:  opts.Metrics,
		health:   opts.Health,
	}
}

// Trees returns the memoised tree cache.
func (c *Cache) Trees() *cache.TreeCache {
	return c.trees
}

// GetGridFromFile returns a handle to grid name in the file at path,
// resampled to 1/2^level resolution. The tree is read on first access.
//
// An unknown grid name in a readable file yields an invalid handle. A file
// that cannot be read yields a grid that loads as empty and reports the
// file's error through ErrorMessage.
func (c *Cache) GetGridFromFile(path, name string, level int) grid.GridHandle {
	path, err := utils.NormalizeGridPath(path)
	if err != nil {
		return errorGrid(errors.NewError(errors.ErrCodePathInvalid, err.Error()).WithComponent("filecache"))
	}
	level = c.clampLevel(level)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry := c.fileEntry(path)
	if entry.err != nil {
		return errorGrid(entry.err)
	}
	g := entry.grid(name)
	if g == nil {
		return grid.GridHandle{}
	}
	return c.levelHandle(path, g, level).Share()
}

// GetAllGridsFromFile returns a handle for every grid in the file at path.
func (c *Cache) GetAllGridsFromFile(path string, level int) GridsFromFile {
	path, err := utils.NormalizeGridPath(path)
	if err != nil {
		return GridsFromFile{ErrorMessage: err.Error()}
	}
	level = c.clampLevel(level)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry := c.fileEntry(path)
	if entry.err != nil {
		return GridsFromFile{ErrorMessage: entry.ErrorMessage}
	}
	result := GridsFromFile{
		FileMeta: maps.Clone(entry.Meta),
		Grids:    make([]grid.GridHandle, 0, len(entry.Grids)),
	}
	if result.FileMeta == nil {
		result.FileMeta = map[string]string{}
	}
	for _, g := range entry.Grids {
		result.Grids = append(result.Grids, c.levelHandle(path, g, level).Share())
	}
	return result
}

// UnloadUnused drops every cached handle that nothing outside the cache
// references and returns how many were dropped. A handle that is shared
// again while the sweep runs is kept, so this is a best-effort sweep.
// File entries themselves are never dropped.
func (c *Cache) UnloadUnused() int {
	var evicted []grid.GridHandle

	c.mu.Lock()
	for _, entry := range c.files {
		for _, g := range entry.Grids {
			for level, h := range g.byLevel {
				if h.Get().IsMutable() {
					evicted = append(evicted, h)
					delete(g.byLevel, level)
				}
			}
		}
	}
	c.evictions += uint64(len(evicted))
	handles := c.handleCountLocked()
	c.mu.Unlock()

	for i := range evicted {
		evicted[i].Reset()
	}

	c.metrics.RecordUnloadSweep(len(evicted))
	c.metrics.UpdateCachedHandles(handles)
	if len(evicted) > 0 {
		c.logger.Debug("Unloaded unused grids", map[string]interface{}{
			"evicted":   len(evicted),
			"remaining": handles,
		})
	}
	return len(evicted)
}

// Reclaimer returns a reclaimer for a memory monitor. It drops unused
// handles, then shrinks the tree cache to half its current size.
func (c *Cache) Reclaimer() types.Reclaimer {
	return types.ReclaimerFunc(func(ctx context.Context) int64 {
		c.UnloadUnused()
		if ctx.Err() != nil {
			return 0
		}
		return c.trees.Shrink(c.trees.Size() / 2)
	})
}

// CountMemory adds the trees of every cached grid that is currently loaded
// to counter.
func (c *Cache) CountMemory(counter *grid.MemoryCounter) {
	var handles []grid.GridHandle
	c.mu.Lock()
	for _, entry := range c.files {
		for _, g := range entry.Grids {
			for _, h := range g.byLevel {
				handles = append(handles, h.Share())
			}
		}
	}
	c.mu.Unlock()

	for i := range handles {
		handles[i].Get().CountMemory(counter)
		handles[i].Reset()
	}
}

// Stats returns a snapshot of cache statistics.
func (c *Cache) Stats() types.CacheStats {
	c.mu.Lock()
	stats := types.CacheStats{
		Files:     len(c.files),
		Handles:   c.handleCountLocked(),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		HitRate:   types.HitRate(c.hits, c.misses),
	}
	for _, entry := range c.files {
		if entry.err != nil {
			stats.FailedFiles++
		}
		stats.Grids += len(entry.Grids)
	}
	c.mu.Unlock()

	stats.Trees = c.trees.Stats()
	return stats
}

func (c *Cache) clampLevel(level int) int {
	if level < 0 {
		return 0
	}
	if level > c.maxLevel {
		return c.maxLevel
	}
	return level
}

// fileEntry returns the entry for path, reading the file header on first
// access. Callers hold c.mu.
func (c *Cache) fileEntry(path string) *FileCacheEntry {
	if entry, ok := c.files[path]; ok {
		return entry
	}

	entry := &FileCacheEntry{}
	header, err := container.ReadMetadata(context.Background(), c.opener, path)
	c.health.Observe(sourceOf(path), err)
	if err != nil {
		entry.err = err
		entry.ErrorMessage = err.Error()
		c.logger.Warn("Cannot read grid file", map[string]interface{}{
			"path":  path,
			"error": err.Error(),
		})
		c.metrics.RecordError("read_metadata", err)
	} else {
		entry.Meta = header.Meta
		for _, desc := range header.Grids {
			entry.Grids = append(entry.Grids, newGridCacheEntry(desc))
		}
		c.logger.Debug("Read grid file header", map[string]interface{}{
			"path":  path,
			"grids": len(header.Grids),
		})
	}
	c.files[path] = entry
	return entry
}

// levelHandle returns the cached handle for level, creating it on a miss.
// Callers hold c.mu.
func (c *Cache) levelHandle(path string, g *GridCacheEntry, level int) grid.GridHandle {
	if h, ok := g.byLevel[level]; ok {
		c.hits++
		c.metrics.RecordCacheHit(metrics.CacheFile)
		return h
	}
	c.misses++
	c.metrics.RecordCacheMiss(metrics.CacheFile)

	desc := g.MetaGrid
	transform := desc.Transform
	if transform == nil {
		transform = voxel.IdentityTransform()
	}
	seed := &grid.MetaSeed{
		Meta: grid.Meta{
			Name:     desc.Name,
			Class:    desc.Class,
			Type:     desc.Type,
			Metadata: desc.Metadata,
		},
		Transform: transform,
	}

	var load grid.LoadFunc
	if level == 0 {
		load = c.fileLoader(path, desc.Name)
	} else {
		seed.Transform = transform.Scaled(float64(int(1) << level))
		load = c.simplifiedLoader(path, desc.Name, level)
	}

	h := grid.NewLazy(load, seed)
	g.byLevel[level] = h
	c.metrics.UpdateCachedHandles(c.handleCountLocked())
	return h
}

// fileLoader reads the full-resolution tree of a grid through the tree
// cache.
func (c *Cache) fileLoader(path, name string) grid.LoadFunc {
	key := cache.Key{Path: path, Grid: name}
	source := sourceOf(path)
	return func() (grid.LoadedGrid, error) {
		tree, sharing, err := c.trees.Get(key, func() (voxel.Tree, error) {
			start := time.Now()
			_, tree, err := container.ReadGrid(context.Background(), c.opener, path, name)
			var size int64
			if err == nil {
				size = tree.MemoryUsage()
			}
			c.metrics.RecordLoad(source, time.Since(start), size, err)
			c.health.Observe(source, err)
			return tree, err
		})
		if err != nil {
			c.logger.Warn("Cannot load grid", map[string]interface{}{
				"path":  path,
				"grid":  name,
				"error": err.Error(),
			})
			return grid.LoadedGrid{}, err
		}
		return grid.LoadedGrid{Tree: tree, Sharing: sharing}, nil
	}
}

// simplifiedLoader derives a level > 0 tree by resampling the level 0
// grid of the same file, loading that grid if needed.
func (c *Cache) simplifiedLoader(path, name string, level int) grid.LoadFunc {
	key := cache.Key{Path: path, Grid: name, Level: level}
	return func() (grid.LoadedGrid, error) {
		tree, sharing, err := c.trees.Get(key, func() (voxel.Tree, error) {
			start := time.Now()
			base := c.GetGridFromFile(path, name, 0)
			defer base.Reset()
			if !base.Valid() {
				return nil, errors.Newf(errors.ErrCodeGridNotFound, "no grid named %q", name).
					WithComponent("filecache").WithContext("path", path)
			}

			var tok grid.AccessToken
			defer tok.Reset()
			src := base.Get().Grid(&tok)
			if msg := base.Get().ErrorMessage(); msg != "" {
				return nil, errors.NewError(errors.ErrCodeStorageRead, msg).
					WithComponent("filecache").WithContext("path", path)
			}

			tree := voxel.Resample(src, 1<<level)
			c.metrics.RecordLoad("resample", time.Since(start), tree.MemoryUsage(), nil)
			return tree, nil
		})
		if err != nil {
			return grid.LoadedGrid{}, err
		}
		return grid.LoadedGrid{Tree: tree, Sharing: sharing}, nil
	}
}

// handleCountLocked counts cached per-level handles. Callers hold c.mu.
func (c *Cache) handleCountLocked() int {
	n := 0
	for _, entry := range c.files {
		for _, g := range entry.Grids {
			n += len(g.byLevel)
		}
	}
	return n
}

// errorGrid returns a grid whose load fails with err without touching
// the file again.
func errorGrid(err error) grid.GridHandle {
	return grid.NewLazy(func() (grid.LoadedGrid, error) {
		return grid.LoadedGrid{}, err
	}, nil)
}

func sourceOf(path string) string {
	if utils.IsObjectPath(path) {
		return "s3"
	}
	return "local"
}
