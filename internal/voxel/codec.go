package voxel

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Encode writes the tree's background and leaf blocks to w in little-endian
// order. The stream does not carry the grid type; Decode needs it.
func Encode(w io.Writer, t Tree) error {
	switch tt := t.(type) {
	case *TypedTree[bool]:
		return encode(w, tt)
	case *TypedTree[float32]:
		return encode(w, tt)
	case *TypedTree[float64]:
		return encode(w, tt)
	case *TypedTree[int32]:
		return encode(w, tt)
	case *TypedTree[int64]:
		return encode(w, tt)
	case *TypedTree[Vec3f]:
		return encode(w, tt)
	case *TypedTree[Vec3d]:
		return encode(w, tt)
	case *TypedTree[Vec3i]:
		return encode(w, tt)
	default:
		return fmt.Errorf("voxel: cannot encode tree of type %T", t)
	}
}

func encode[V Value](w io.Writer, t *TypedTree[V]) error {
	if err := binary.Write(w, binary.LittleEndian, t.background); err != nil {
		return err
	}
	origins := t.sortedOrigins()
	if err := binary.Write(w, binary.LittleEndian, uint32(len(origins))); err != nil {
		return err
	}
	for _, origin := range origins {
		l := t.leaves[origin]
		if err := binary.Write(w, binary.LittleEndian, origin); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, &l.active); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, &l.values); err != nil {
			return err
		}
	}
	return nil
}

// Decode reads a tree written by Encode.
func Decode(r io.Reader, gridType GridType) (Tree, error) {
	switch gridType {
	case GridTypeBoolean, GridTypeMask:
		return decode[bool](r, gridType)
	case GridTypeFloat:
		return decode[float32](r, gridType)
	case GridTypeDouble:
		return decode[float64](r, gridType)
	case GridTypeInt:
		return decode[int32](r, gridType)
	case GridTypeInt64:
		return decode[int64](r, gridType)
	case GridTypeVectorFloat:
		return decode[Vec3f](r, gridType)
	case GridTypeVectorDouble:
		return decode[Vec3d](r, gridType)
	case GridTypeVectorInt:
		return decode[Vec3i](r, gridType)
	default:
		return nil, fmt.Errorf("voxel: cannot decode grid type %s", gridType)
	}
}

// maxLeaves bounds the leaf count read from a stream so a corrupt header
// cannot trigger a huge allocation.
const maxLeaves = 1 << 24

func decode[V Value](r io.Reader, gridType GridType) (Tree, error) {
	var background V
	if err := binary.Read(r, binary.LittleEndian, &background); err != nil {
		return nil, fmt.Errorf("voxel: read background: %w", err)
	}
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("voxel: read leaf count: %w", err)
	}
	if count > maxLeaves {
		return nil, fmt.Errorf("voxel: leaf count %d exceeds limit", count)
	}
	t := NewTypedTree(gridType, background)
	for i := uint32(0); i < count; i++ {
		var origin Coord
		if err := binary.Read(r, binary.LittleEndian, &origin); err != nil {
			return nil, fmt.Errorf("voxel: read leaf %d: %w", i, err)
		}
		if origin != leafOrigin(origin) {
			return nil, fmt.Errorf("voxel: leaf %d has unaligned origin %v", i, origin)
		}
		l := &leaf[V]{}
		if err := binary.Read(r, binary.LittleEndian, &l.active); err != nil {
			return nil, fmt.Errorf("voxel: read leaf %d mask: %w", i, err)
		}
		if err := binary.Read(r, binary.LittleEndian, &l.values); err != nil {
			return nil, fmt.Errorf("voxel: read leaf %d values: %w", i, err)
		}
		if l.active.CountOn() > 0 {
			t.leaves[origin] = l
		}
	}
	return t, nil
}
