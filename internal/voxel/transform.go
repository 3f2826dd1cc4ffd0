package voxel

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Transform maps index space to world space with a 4x4 affine matrix in
// column-vector convention (world = M * [i j k 1]).
type Transform struct {
	m *mat.Dense
}

// IdentityTransform returns a unit voxel transform at the origin.
func IdentityTransform() *Transform {
	return UniformTransform(1, Vec3d{})
}

// UniformTransform returns a transform with cubic voxels of the given size
// translated to origin.
func UniformTransform(voxelSize float64, origin Vec3d) *Transform {
	return &Transform{m: mat.NewDense(4, 4, []float64{
		voxelSize, 0, 0, origin[0],
		0, voxelSize, 0, origin[1],
		0, 0, voxelSize, origin[2],
		0, 0, 0, 1,
	})}
}

// TransformFromMatrix builds a transform from 16 row-major values. The
// matrix must be affine and invertible.
func TransformFromMatrix(values [16]float64) (*Transform, error) {
	m := mat.NewDense(4, 4, values[:])
	if m.At(3, 0) != 0 || m.At(3, 1) != 0 || m.At(3, 2) != 0 || m.At(3, 3) != 1 {
		return nil, fmt.Errorf("voxel: transform is not affine")
	}
	if det := mat.Det(m); det == 0 || math.IsNaN(det) {
		return nil, fmt.Errorf("voxel: transform is singular")
	}
	return &Transform{m: m}, nil
}

// Matrix returns the 16 row-major matrix values.
func (t *Transform) Matrix() [16]float64 {
	var out [16]float64
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			out[r*4+c] = t.m.At(r, c)
		}
	}
	return out
}

func (t *Transform) apply(m mat.Matrix, p Vec3d) Vec3d {
	var out mat.VecDense
	out.MulVec(m, mat.NewVecDense(4, []float64{p[0], p[1], p[2], 1}))
	return Vec3d{out.AtVec(0), out.AtVec(1), out.AtVec(2)}
}

// IndexToWorld maps an index-space position to world space.
func (t *Transform) IndexToWorld(p Vec3d) Vec3d {
	return t.apply(t.m, p)
}

// WorldToIndex maps a world-space position to index space.
func (t *Transform) WorldToIndex(p Vec3d) (Vec3d, error) {
	var inv mat.Dense
	if err := inv.Inverse(t.m); err != nil {
		return Vec3d{}, fmt.Errorf("voxel: invert transform: %w", err)
	}
	return t.apply(&inv, p), nil
}

// VoxelSize returns the world-space length of each index axis.
func (t *Transform) VoxelSize() Vec3d {
	var out Vec3d
	for c := 0; c < 3; c++ {
		col := mat.Col(nil, c, t.m)
		out[c] = math.Sqrt(col[0]*col[0] + col[1]*col[1] + col[2]*col[2])
	}
	return out
}

// Scaled returns a transform for a grid whose index i corresponds to index
// i*factor of this one.
func (t *Transform) Scaled(factor float64) *Transform {
	scale := mat.NewDiagDense(4, []float64{factor, factor, factor, 1})
	var out mat.Dense
	out.Mul(t.m, scale)
	return &Transform{m: &out}
}

// Copy returns an independent copy.
func (t *Transform) Copy() *Transform {
	return &Transform{m: mat.DenseCopyOf(t.m)}
}

// Equal reports whether both transforms map index space identically.
func (t *Transform) Equal(o *Transform) bool {
	if t == nil || o == nil {
		return t == o
	}
	return mat.EqualApprox(t.m, o.m, 1e-12)
}

// Set overwrites one matrix entry. Callers must own the transform.
func (t *Transform) Set(row, col int, v float64) {
	t.m.Set(row, col, v)
}

func (t *Transform) String() string {
	size := t.VoxelSize()
	origin := t.IndexToWorld(Vec3d{})
	return fmt.Sprintf("voxel=(%g,%g,%g) origin=(%g,%g,%g)",
		size[0], size[1], size[2], origin[0], origin[1], origin[2])
}
