package voxel

import (
	"math/bits"
	"sort"
	"unsafe"

	"github.com/google/uuid"
)

const (
	LeafLog2Dim = 3
	LeafDim     = 1 << LeafLog2Dim
	LeafVoxels  = LeafDim * LeafDim * LeafDim

	leafMask  = LeafDim - 1
	treeBytes = int64(unsafe.Sizeof(TypedTree[float32]{}))
)

// Tree is the type-erased view of a voxel tree the grid layer works with.
type Tree interface {
	GridType() GridType
	// ID identifies this tree instance. Copies get a new ID.
	ID() uuid.UUID
	// Copy returns a deep copy.
	Copy() Tree
	// Empty returns a tree of the same type and background with no voxels.
	Empty() Tree
	MemoryUsage() int64
	ActiveVoxelCount() int64
	ActiveBounds() (CoordBBox, bool)
	LeafCount() int
}

// Releaser is implemented by trees holding resources beyond garbage
// collected memory. Release is called when the last sharing user drops.
type Releaser interface {
	Release()
}

// Value lists the voxel value types a TypedTree can hold.
type Value interface {
	bool | float32 | float64 | int32 | int64 | Vec3f | Vec3d | Vec3i
}

// Mask512 holds one active bit per leaf voxel.
type Mask512 [LeafVoxels / 64]uint64

func (m *Mask512) Set(i int, on bool) {
	if on {
		m[i>>6] |= 1 << (i & 63)
	} else {
		m[i>>6] &^= 1 << (i & 63)
	}
}

func (m *Mask512) Get(i int) bool {
	return m[i>>6]&(1<<(i&63)) != 0
}

func (m *Mask512) CountOn() int {
	n := 0
	for _, w := range m {
		n += bits.OnesCount64(w)
	}
	return n
}

type leaf[V Value] struct {
	values [LeafVoxels]V
	active Mask512
}

// TypedTree is a sparse tree of leaf blocks holding values of type V.
type TypedTree[V Value] struct {
	id         uuid.UUID
	gridType   GridType
	background V
	leaves     map[Coord]*leaf[V]
}

// NewTypedTree creates an empty tree. gridType must agree with V.
func NewTypedTree[V Value](gridType GridType, background V) *TypedTree[V] {
	return &TypedTree[V]{
		id:         uuid.New(),
		gridType:   gridType,
		background: background,
		leaves:     make(map[Coord]*leaf[V]),
	}
}

func leafOrigin(c Coord) Coord {
	return Coord{c.X &^ leafMask, c.Y &^ leafMask, c.Z &^ leafMask}
}

func leafOffset(c Coord) int {
	return int(c.X&leafMask)<<(2*LeafLog2Dim) | int(c.Y&leafMask)<<LeafLog2Dim | int(c.Z&leafMask)
}

func offsetCoord(origin Coord, i int) Coord {
	return Coord{
		X: origin.X + int32(i>>(2*LeafLog2Dim)),
		Y: origin.Y + int32((i>>LeafLog2Dim)&leafMask),
		Z: origin.Z + int32(i&leafMask),
	}
}

func (t *TypedTree[V]) GridType() GridType { return t.gridType }
func (t *TypedTree[V]) ID() uuid.UUID      { return t.id }
func (t *TypedTree[V]) Background() V      { return t.background }
func (t *TypedTree[V]) LeafCount() int     { return len(t.leaves) }

// SetValue stores v at c and marks the voxel active.
func (t *TypedTree[V]) SetValue(c Coord, v V) {
	origin := leafOrigin(c)
	l, ok := t.leaves[origin]
	if !ok {
		l = &leaf[V]{}
		for i := range l.values {
			l.values[i] = t.background
		}
		t.leaves[origin] = l
	}
	i := leafOffset(c)
	l.values[i] = v
	l.active.Set(i, true)
}

// SetValueOff resets c to the background value and deactivates it. Leaves
// left without active voxels are pruned.
func (t *TypedTree[V]) SetValueOff(c Coord) {
	origin := leafOrigin(c)
	l, ok := t.leaves[origin]
	if !ok {
		return
	}
	i := leafOffset(c)
	l.values[i] = t.background
	l.active.Set(i, false)
	if l.active.CountOn() == 0 {
		delete(t.leaves, origin)
	}
}

// Value returns the value at c and whether it is active.
func (t *TypedTree[V]) Value(c Coord) (V, bool) {
	l, ok := t.leaves[leafOrigin(c)]
	if !ok {
		return t.background, false
	}
	i := leafOffset(c)
	return l.values[i], l.active.Get(i)
}

// ForEachActive calls fn for every active voxel in leaf origin order.
func (t *TypedTree[V]) ForEachActive(fn func(c Coord, v V)) {
	for _, origin := range t.sortedOrigins() {
		l := t.leaves[origin]
		for i := 0; i < LeafVoxels; i++ {
			if l.active.Get(i) {
				fn(offsetCoord(origin, i), l.values[i])
			}
		}
	}
}

func (t *TypedTree[V]) sortedOrigins() []Coord {
	origins := make([]Coord, 0, len(t.leaves))
	for o := range t.leaves {
		origins = append(origins, o)
	}
	sort.Slice(origins, func(i, j int) bool {
		a, b := origins[i], origins[j]
		if a.X != b.X {
			return a.X < b.X
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.Z < b.Z
	})
	return origins
}

func (t *TypedTree[V]) Copy() Tree {
	out := NewTypedTree(t.gridType, t.background)
	for origin, l := range t.leaves {
		dup := *l
		out.leaves[origin] = &dup
	}
	return out
}

func (t *TypedTree[V]) Empty() Tree {
	return NewTypedTree(t.gridType, t.background)
}

func (t *TypedTree[V]) MemoryUsage() int64 {
	var l leaf[V]
	return treeBytes + int64(len(t.leaves))*(int64(unsafe.Sizeof(l))+int64(unsafe.Sizeof(Coord{}))+8)
}

func (t *TypedTree[V]) ActiveVoxelCount() int64 {
	var n int64
	for _, l := range t.leaves {
		n += int64(l.active.CountOn())
	}
	return n
}

func (t *TypedTree[V]) ActiveBounds() (CoordBBox, bool) {
	bbox := EmptyBBox()
	for origin, l := range t.leaves {
		for i := 0; i < LeafVoxels; i++ {
			if l.active.Get(i) {
				bbox.Expand(offsetCoord(origin, i))
			}
		}
	}
	return bbox, !bbox.IsEmpty()
}

// New returns an empty tree of the given type with a zero background.
// GridTypeUnknown and out-of-range types fall back to a float tree.
func New(gridType GridType) Tree {
	switch gridType {
	case GridTypeBoolean, GridTypeMask:
		return NewTypedTree(gridType, false)
	case GridTypeDouble:
		return NewTypedTree(gridType, float64(0))
	case GridTypeInt:
		return NewTypedTree(gridType, int32(0))
	case GridTypeInt64:
		return NewTypedTree(gridType, int64(0))
	case GridTypeVectorFloat:
		return NewTypedTree(gridType, Vec3f{})
	case GridTypeVectorDouble:
		return NewTypedTree(gridType, Vec3d{})
	case GridTypeVectorInt:
		return NewTypedTree(gridType, Vec3i{})
	default:
		return NewTypedTree(GridTypeFloat, float32(0))
	}
}
