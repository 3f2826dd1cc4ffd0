package grid

import (
	"fmt"

	"github.com/volgrid/volgrid/internal/voxel"
)

// TypedGrid is a view of a handle whose tree is known to hold values of
// type V. It borrows the handle and does not own a reference.
type TypedGrid[V voxel.Value] struct {
	handle *GridHandle
}

// Typed returns a typed view of h. Builds with the griddebug tag panic when
// the grid's known type does not hold V; other builds trust the caller, so
// check GridTypeWithoutLoad first when unsure.
func Typed[V voxel.Value](h *GridHandle) TypedGrid[V] {
	if debugChecks && h.Valid() {
		if gt, ok := h.Get().GridTypeWithoutLoad(); ok && !holds[V](gt) {
			var zero V
			panic(fmt.Sprintf("grid: %s grid viewed as %T", gt, zero))
		}
	}
	return TypedGrid[V]{handle: h}
}

func (t TypedGrid[V]) Handle() *GridHandle { return t.handle }

func (t TypedGrid[V]) Grid(tok *AccessToken) *voxel.TypedTree[V] {
	return t.handle.Get().Grid(tok).(*voxel.TypedTree[V])
}

func (t TypedGrid[V]) GridForWrite(tok *AccessToken) *voxel.TypedTree[V] {
	return t.handle.GetForWrite().GridForWrite(tok).(*voxel.TypedTree[V])
}

func holds[V voxel.Value](gt voxel.GridType) bool {
	var zero V
	switch any(zero).(type) {
	case bool:
		return gt == voxel.GridTypeBoolean || gt == voxel.GridTypeMask
	case float32:
		return gt == voxel.GridTypeFloat
	case float64:
		return gt == voxel.GridTypeDouble
	case int32:
		return gt == voxel.GridTypeInt
	case int64:
		return gt == voxel.GridTypeInt64
	case voxel.Vec3f:
		return gt == voxel.GridTypeVectorFloat
	case voxel.Vec3d:
		return gt == voxel.GridTypeVectorDouble
	case voxel.Vec3i:
		return gt == voxel.GridTypeVectorInt
	}
	return false
}
