package grid

import (
	"fmt"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/volgrid/volgrid/internal/voxel"
	"github.com/volgrid/volgrid/pkg/errors"
)

// Meta is the per-grid information available without reading voxels.
type Meta struct {
	Name     string
	Class    voxel.GridClass
	Type     voxel.GridType
	Metadata map[string]string
}

func (m Meta) clone() Meta {
	m.Metadata = maps.Clone(m.Metadata)
	return m
}

// LoadedGrid is what a LoadFunc produces. Sharing is set when the tree is
// already referenced elsewhere (for example by a tree cache) and must carry
// a user for the receiving grid; when nil the tree is taken as exclusively
// owned. Transform and Meta are optional.
type LoadedGrid struct {
	Tree      voxel.Tree
	Sharing   *TreeSharingInfo
	Transform *voxel.Transform
	Meta      *Meta
}

// LoadFunc produces a grid's tree on demand. It runs with the grid's lock
// held and must not call back into the same GridData.
type LoadFunc func() (LoadedGrid, error)

// MetaSeed populates a lazily loaded grid before its tree is read.
type MetaSeed struct {
	Meta      Meta
	Transform *voxel.Transform
}

type sourceKind uint8

const (
	sourceNone sourceKind = iota
	sourceLoader
)

// lazySource is the grid's reload state. It only ever moves from
// sourceLoader to sourceNone.
type lazySource struct {
	kind sourceKind
	load LoadFunc
}

func (s *lazySource) drop() {
	s.kind = sourceNone
	s.load = nil
}

// GridData holds one grid: metadata, transform and a possibly lazily loaded
// tree. Access from multiple goroutines is serialised by an internal mutex.
// GridData is reference counted by GridHandle and never copied by value.
type GridData struct {
	mu sync.Mutex

	tree      voxel.Tree
	sharing   *TreeSharingInfo
	transform *voxel.Transform
	meta      Meta

	treeLoaded      bool
	transformLoaded bool
	metaLoaded      bool

	source       lazySource
	errorMessage string

	anchor *tokenAnchor

	// users counts the handles referencing this GridData.
	users atomic.Int64
	// ensured is set by GetForWrite on a sole owner and cleared by Share.
	ensured atomic.Bool
}

func newGridData() *GridData {
	g := &GridData{}
	g.anchor = &tokenAnchor{grid: g}
	g.users.Store(1)
	return g
}

// New returns a handle to an empty, fully loaded grid of the given type.
func New(gridType voxel.GridType) GridHandle {
	return FromTree(voxel.New(gridType), nil, Meta{})
}

// FromTree wraps an existing tree. The tree must not be referenced by any
// other grid. A nil transform means identity.
func FromTree(tree voxel.Tree, transform *voxel.Transform, meta Meta) GridHandle {
	g := newGridData()
	g.tree = tree
	g.sharing = NewTreeSharingInfo(tree)
	g.sharing.TagEnsuredMutable()
	if transform == nil {
		transform = voxel.IdentityTransform()
	}
	g.transform = transform
	g.meta = meta.clone()
	g.meta.Type = tree.GridType()
	g.treeLoaded, g.transformLoaded, g.metaLoaded = true, true, true
	return GridHandle{data: g}
}

// NewLazy returns a handle to a grid whose tree is produced by load on first
// access. A non-nil seed makes metadata (and the transform, when given)
// available without loading.
func NewLazy(load LoadFunc, seed *MetaSeed) GridHandle {
	g := newGridData()
	g.source = lazySource{kind: sourceLoader, load: load}
	if seed != nil {
		g.meta = seed.Meta.clone()
		g.metaLoaded = true
		if g.meta.Type.Valid() {
			g.tree = voxel.New(g.meta.Type)
		}
		if seed.Transform != nil {
			g.transform = seed.Transform.Copy()
			g.transformLoaded = true
		}
	}
	return GridHandle{data: g}
}

func (g *GridData) addUser() {
	g.ensured.Store(false)
	g.users.Add(1)
}

func (g *GridData) removeUser() {
	if g.users.Add(-1) != 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sharing != nil {
		g.sharing.RemoveUser()
		g.sharing = nil
	}
	g.tree = nil
	g.treeLoaded = false
}

// IsMutable reports whether exactly one handle references g.
func (g *GridData) IsMutable() bool {
	return g.users.Load() == 1
}

// EnsuredMutable reports whether GetForWrite handed g out as exclusively
// owned since it was last shared.
func (g *GridData) EnsuredMutable() bool {
	return g.ensured.Load()
}

// Grid returns the tree for reading, loading it first when needed, and
// attaches tok to this grid. The tree stays valid while tok is held.
func (g *GridData) Grid(tok *AccessToken) voxel.Tree {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ensureLoaded()
	tok.attach(g.anchor)
	return g.tree
}

// GridForWrite returns a tree that only this grid references, copying a
// shared tree first. The grid can no longer be reloaded afterwards.
func (g *GridData) GridForWrite(tok *AccessToken) voxel.Tree {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ensureLoaded()
	if g.sharing.IsMutable() {
		g.sharing.TagEnsuredMutable()
	} else {
		dup := g.tree.Copy()
		g.sharing.RemoveUser()
		g.tree = dup
		g.sharing = NewTreeSharingInfo(dup)
		g.sharing.TagEnsuredMutable()
	}
	g.sharing.invalidateMemory()
	g.source.drop()
	tok.attach(g.anchor)
	return g.tree
}

// TreeSharingInfo returns the sharing info of the loaded tree, or nil when
// the tree is not loaded.
func (g *GridData) TreeSharingInfo() *TreeSharingInfo {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sharing
}

// Transform returns the index-to-world transform. The result must not be
// modified; use TransformForWrite.
func (g *GridData) Transform() *voxel.Transform {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.transformLoaded {
		g.ensureLoaded()
	}
	return g.transform
}

// TransformForWrite returns the transform for in-place modification. The
// caller must own g exclusively (see GridHandle.GetForWrite).
func (g *GridData) TransformForWrite() *voxel.Transform {
	return g.Transform()
}

// SetTransform replaces the transform.
func (g *GridData) SetTransform(t *voxel.Transform) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.transform = t.Copy()
	g.transformLoaded = true
}

func (g *GridData) Name() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ensureMetaLoaded()
	return g.meta.Name
}

func (g *GridData) SetName(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ensureMetaLoaded()
	g.meta.Name = name
}

func (g *GridData) GridClass() voxel.GridClass {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ensureMetaLoaded()
	return g.meta.Class
}

func (g *GridData) SetGridClass(class voxel.GridClass) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ensureMetaLoaded()
	g.meta.Class = class
}

// Metadata returns a copy of the free-form grid metadata.
func (g *GridData) Metadata() map[string]string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ensureMetaLoaded()
	return maps.Clone(g.meta.Metadata)
}

func (g *GridData) SetMetadata(key, value string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ensureMetaLoaded()
	if g.meta.Metadata == nil {
		g.meta.Metadata = make(map[string]string)
	}
	g.meta.Metadata[key] = value
}

// GridType returns the value type, loading the grid if the type is not
// known yet.
func (g *GridData) GridType() voxel.GridType {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.metaLoaded || !g.meta.Type.Valid() {
		g.ensureLoaded()
	}
	return g.meta.Type
}

// GridTypeWithoutLoad returns the value type if it is known without
// loading.
func (g *GridData) GridTypeWithoutLoad() (voxel.GridType, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.metaLoaded || !g.meta.Type.Valid() {
		return voxel.GridTypeUnknown, false
	}
	return g.meta.Type, true
}

// IsLoaded reports whether tree, transform and metadata are all present.
func (g *GridData) IsLoaded() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.treeLoaded && g.transformLoaded && g.metaLoaded
}

// IsReloadable reports whether a loader is still attached.
func (g *GridData) IsReloadable() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.source.kind == sourceLoader
}

// ErrorMessage returns the error of the last load attempt, or "".
func (g *GridData) ErrorMessage() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.errorMessage
}

// ActiveBounds returns the index-space bounds of the active voxels.
func (g *GridData) ActiveBounds() (voxel.CoordBBox, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ensureLoaded()
	return g.tree.ActiveBounds()
}

func (g *GridData) ActiveVoxelCount() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ensureLoaded()
	return g.tree.ActiveVoxelCount()
}

// Copy returns a handle to a new grid with its own metadata and transform
// that shares this grid's tree. The copy has no loader. Whichever grid is
// written first copies the tree.
func (g *GridData) Copy() GridHandle {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ensureLoaded()

	dup := newGridData()
	dup.tree = g.tree
	dup.sharing = g.sharing
	dup.sharing.AddUser()
	dup.transform = g.transform.Copy()
	dup.meta = g.meta.clone()
	dup.treeLoaded, dup.transformLoaded, dup.metaLoaded = true, true, true
	return GridHandle{data: dup}
}

// UnloadTreeIfPossible drops the tree when it can be reloaded and no
// AccessToken for this grid is live. It reports whether the tree was
// dropped.
func (g *GridData) UnloadTreeIfPossible() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.tree == nil || !g.treeLoaded {
		return false
	}
	if g.source.kind != sourceLoader {
		return false
	}
	if g.anchor.holders.Load() != 0 {
		return false
	}
	g.tree = g.tree.Empty()
	g.treeLoaded = false
	g.sharing.RemoveUser()
	g.sharing = nil
	return true
}

// CountMemory adds the loaded tree's memory to counter. Trees shared by
// several grids are counted once per counter.
func (g *GridData) CountMemory(counter *MemoryCounter) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.treeLoaded {
		return
	}
	counter.add(g.sharing)
}

func (g *GridData) ensureMetaLoaded() {
	if !g.metaLoaded {
		g.ensureLoaded()
	}
}

// ensureLoaded runs the loader once per unloaded-to-loaded transition.
// Callers hold g.mu.
func (g *GridData) ensureLoaded() {
	if g.treeLoaded && g.transformLoaded && g.metaLoaded {
		return
	}

	g.errorMessage = ""
	loaded, err := g.isolatedLoad()
	if err != nil {
		if errors.IsIOError(err) {
			g.errorMessage = err.Error()
		} else {
			g.errorMessage = "unknown error reading grid: " + err.Error()
		}
		loaded = LoadedGrid{}
	}

	if loaded.Tree == nil {
		// Keep the type of the metadata-only tree when there is one.
		if g.tree != nil {
			loaded.Tree = g.tree.Empty()
		} else {
			loaded.Tree = voxel.New(voxel.GridTypeFloat)
		}
		loaded.Sharing = nil
	}
	if loaded.Sharing == nil {
		loaded.Sharing = NewTreeSharingInfo(loaded.Tree)
	}

	if g.sharing != nil {
		g.sharing.RemoveUser()
	}
	g.tree = loaded.Tree
	g.sharing = loaded.Sharing

	if !g.transformLoaded {
		if loaded.Transform != nil {
			g.transform = loaded.Transform.Copy()
		} else {
			g.transform = voxel.IdentityTransform()
		}
	}
	if !g.metaLoaded && loaded.Meta != nil {
		g.meta = loaded.Meta.clone()
	}
	g.meta.Type = g.tree.GridType()

	g.treeLoaded, g.transformLoaded, g.metaLoaded = true, true, true
}

// isolatedLoad calls the loader, turning a panic into an error so a broken
// loader cannot leave the mutex held.
func (g *GridData) isolatedLoad() (loaded LoadedGrid, err error) {
	if g.source.kind != sourceLoader {
		return LoadedGrid{}, errors.NewError(errors.ErrCodeInvalidState, "grid has no loader").
			WithComponent("grid")
	}
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf(errors.ErrCodePanicRecovered, "loader panicked: %v", r).
				WithComponent("grid").WithStack()
		}
	}()
	loaded, err = g.source.load()
	if err == nil && loaded.Tree == nil {
		err = fmt.Errorf("loader returned no tree")
	}
	return loaded, err
}
