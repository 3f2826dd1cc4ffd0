package voxel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransform_RoundTrip(t *testing.T) {
	tr := UniformTransform(0.5, Vec3d{1, 2, 3})

	world := tr.IndexToWorld(Vec3d{2, 4, 6})
	assert.InDeltaSlice(t, []float64{2, 4, 6}, world[:], 1e-12)

	index, err := tr.WorldToIndex(world)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{2, 4, 6}, index[:], 1e-12)
}

func TestTransform_Scaled(t *testing.T) {
	tr := UniformTransform(0.25, Vec3d{10, 0, 0})
	scaled := tr.Scaled(4)

	scaledSize := scaled.VoxelSize()
	assert.InDeltaSlice(t, []float64{1, 1, 1}, scaledSize[:], 1e-12)
	origin := scaled.IndexToWorld(Vec3d{})
	assert.InDeltaSlice(t, []float64{10, 0, 0}, origin[:], 1e-12)
	origSize := tr.VoxelSize()
	assert.InDeltaSlice(t, []float64{0.25, 0.25, 0.25}, origSize[:], 1e-12, "original untouched")
}

func TestTransform_CopyAndEqual(t *testing.T) {
	tr := IdentityTransform()
	dup := tr.Copy()
	assert.True(t, tr.Equal(dup))

	dup.Set(0, 3, 5)
	assert.False(t, tr.Equal(dup))
}

func TestTransformFromMatrix(t *testing.T) {
	m := IdentityTransform().Matrix()
	tr, err := TransformFromMatrix(m)
	require.NoError(t, err)
	assert.True(t, tr.Equal(IdentityTransform()))

	m[0] = 0
	_, err = TransformFromMatrix(m)
	assert.Error(t, err, "singular")

	m = IdentityTransform().Matrix()
	m[12] = 1
	_, err = TransformFromMatrix(m)
	assert.Error(t, err, "projective")
}
