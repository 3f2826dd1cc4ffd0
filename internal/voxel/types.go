// Package voxel is the sparse voxel tree used by the grid layer.
//
// Trees store values in 8x8x8 leaf blocks keyed by the leaf origin. Only the
// block level is sparse; there are no internal nodes or tiles. Trees are not
// safe for concurrent mutation: callers obtain exclusive ownership through
// the grid layer before writing.
package voxel

import (
	"fmt"
	"math"
	"strings"
)

// GridType identifies the value type stored in a tree.
type GridType uint8

const (
	GridTypeUnknown GridType = iota
	GridTypeBoolean
	GridTypeFloat
	GridTypeDouble
	GridTypeInt
	GridTypeInt64
	GridTypeMask
	GridTypeVectorFloat
	GridTypeVectorDouble
	GridTypeVectorInt
)

var gridTypeNames = map[GridType]string{
	GridTypeUnknown:      "unknown",
	GridTypeBoolean:      "boolean",
	GridTypeFloat:        "float",
	GridTypeDouble:       "double",
	GridTypeInt:          "int",
	GridTypeInt64:        "int64",
	GridTypeMask:         "mask",
	GridTypeVectorFloat:  "vector_float",
	GridTypeVectorDouble: "vector_double",
	GridTypeVectorInt:    "vector_int",
}

func (t GridType) String() string {
	if name, ok := gridTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("GridType(%d)", uint8(t))
}

// Valid reports whether t names a concrete, constructible tree type.
func (t GridType) Valid() bool {
	return t > GridTypeUnknown && t <= GridTypeVectorInt
}

// ParseGridType is the inverse of GridType.String.
func ParseGridType(s string) (GridType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for t, name := range gridTypeNames {
		if name == s && t != GridTypeUnknown {
			return t, nil
		}
	}
	return GridTypeUnknown, fmt.Errorf("unknown grid type %q", s)
}

// GridClass is a hint about how the values of a grid are interpreted.
type GridClass uint8

const (
	GridClassUnknown GridClass = iota
	GridClassLevelSet
	GridClassFogVolume
	GridClassStaggered
)

func (c GridClass) String() string {
	switch c {
	case GridClassLevelSet:
		return "level_set"
	case GridClassFogVolume:
		return "fog_volume"
	case GridClassStaggered:
		return "staggered"
	default:
		return "unknown"
	}
}

// Vec3f is a single precision vector value.
type Vec3f [3]float32

// Vec3d is a double precision vector value.
type Vec3d [3]float64

// Vec3i is an integer vector value.
type Vec3i [3]int32

// Coord is an integer index-space coordinate.
type Coord struct {
	X, Y, Z int32
}

// FloorDiv divides every component by f, rounding toward negative infinity.
func (c Coord) FloorDiv(f int32) Coord {
	return Coord{floorDiv(c.X, f), floorDiv(c.Y, f), floorDiv(c.Z, f)}
}

func floorDiv(a, b int32) int32 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// CoordBBox is an inclusive index-space bounding box.
type CoordBBox struct {
	Min, Max Coord
}

// EmptyBBox returns a box that any Expand call will replace.
func EmptyBBox() CoordBBox {
	return CoordBBox{
		Min: Coord{math.MaxInt32, math.MaxInt32, math.MaxInt32},
		Max: Coord{math.MinInt32, math.MinInt32, math.MinInt32},
	}
}

// IsEmpty reports whether the box contains no coordinates.
func (b CoordBBox) IsEmpty() bool {
	return b.Min.X > b.Max.X || b.Min.Y > b.Max.Y || b.Min.Z > b.Max.Z
}

// Expand grows the box to contain c.
func (b *CoordBBox) Expand(c Coord) {
	b.Min.X = min(b.Min.X, c.X)
	b.Min.Y = min(b.Min.Y, c.Y)
	b.Min.Z = min(b.Min.Z, c.Z)
	b.Max.X = max(b.Max.X, c.X)
	b.Max.Y = max(b.Max.Y, c.Y)
	b.Max.Z = max(b.Max.Z, c.Z)
}

// Dim returns the number of voxels along each axis.
func (b CoordBBox) Dim() Coord {
	if b.IsEmpty() {
		return Coord{}
	}
	return Coord{b.Max.X - b.Min.X + 1, b.Max.Y - b.Min.Y + 1, b.Max.Z - b.Min.Z + 1}
}
