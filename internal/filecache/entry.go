package filecache

import (
	"github.com/volgrid/volgrid/internal/container"
	"github.com/volgrid/volgrid/internal/grid"
)

// FileCacheEntry is everything cached for one grid file. It is created on
// first access and never re-read; ErrorMessage is set when the file could
// not be opened or parsed.
type FileCacheEntry struct {
	ErrorMessage string
	Meta         map[string]string
	Grids        []*GridCacheEntry

	err error
}

func (e *FileCacheEntry) grid(name string) *GridCacheEntry {
	for _, g := range e.Grids {
		if g.MetaGrid.Name == name {
			return g
		}
	}
	return nil
}

// GridCacheEntry holds one named grid of a file: the descriptor read from
// the header and the handles built so far, one per simplify level.
type GridCacheEntry struct {
	MetaGrid container.GridDescriptor

	byLevel map[int]grid.GridHandle
}

func newGridCacheEntry(desc container.GridDescriptor) *GridCacheEntry {
	return &GridCacheEntry{
		MetaGrid: desc,
		byLevel:  make(map[int]grid.GridHandle),
	}
}

// Levels returns the number of simplify levels with a cached handle.
func (e *GridCacheEntry) Levels() int {
	return len(e.byLevel)
}

// GridsFromFile is the result of GetAllGridsFromFile.
type GridsFromFile struct {
	ErrorMessage string
	FileMeta     map[string]string
	Grids        []grid.GridHandle
}

// Reset releases every handle in r.
func (r *GridsFromFile) Reset() {
	for i := range r.Grids {
		r.Grids[i].Reset()
	}
	r.Grids = nil
}
