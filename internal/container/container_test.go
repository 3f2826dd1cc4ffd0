package container

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volgrid/volgrid/internal/voxel"
	"github.com/volgrid/volgrid/pkg/errors"
)

type memBlob struct {
	*bytes.Reader
}

func (memBlob) Close() error { return nil }

func testWriter(t *testing.T) *Writer {
	t.Helper()
	density := voxel.NewTypedTree(voxel.GridTypeFloat, float32(0))
	density.SetValue(voxel.Coord{X: 1, Y: 2, Z: 3}, 0.25)
	density.SetValue(voxel.Coord{X: 40, Y: 2, Z: 3}, 0.75)

	vel := voxel.NewTypedTree(voxel.GridTypeVectorFloat, voxel.Vec3f{})
	vel.SetValue(voxel.Coord{}, voxel.Vec3f{1, 0, 0})

	w := NewWriter()
	w.SetMeta("creator", "test")
	require.NoError(t, w.AddGrid("density", voxel.GridClassFogVolume,
		voxel.UniformTransform(0.5, voxel.Vec3d{}), map[string]string{"units": "kg/m3"}, density))
	require.NoError(t, w.AddGrid("vel", voxel.GridClassStaggered, nil, nil, vel))
	return w
}

func encodeToBytes(t *testing.T, w *Writer) []byte {
	t.Helper()
	var buf bytes.Buffer
	n, err := w.WriteTo(&buf)
	require.NoError(t, err)
	require.Equal(t, int64(buf.Len()), n)
	return buf.Bytes()
}

func TestWriteRead(t *testing.T) {
	data := encodeToBytes(t, testWriter(t))
	r := bytes.NewReader(data)

	h, err := ReadHeader(r, int64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, "test", h.Meta["creator"])
	require.Len(t, h.Grids, 2)

	density, ok := h.Grid("density")
	require.True(t, ok)
	assert.Equal(t, voxel.GridTypeFloat, density.Type)
	assert.Equal(t, voxel.GridClassFogVolume, density.Class)
	assert.Equal(t, int64(2), density.ActiveVoxels)
	assert.Equal(t, "kg/m3", density.Metadata["units"])
	assert.True(t, density.Transform.Equal(voxel.UniformTransform(0.5, voxel.Vec3d{})))
	assert.Positive(t, density.PayloadSize())

	tree, err := ReadTree(r, density)
	require.NoError(t, err)
	v, active := tree.(*voxel.TypedTree[float32]).Value(voxel.Coord{X: 40, Y: 2, Z: 3})
	assert.True(t, active)
	assert.Equal(t, float32(0.75), v)

	vel, ok := h.Grid("vel")
	require.True(t, ok)
	assert.True(t, vel.Transform.Equal(voxel.IdentityTransform()))
	tree, err = ReadTree(r, vel)
	require.NoError(t, err)
	assert.Equal(t, voxel.GridTypeVectorFloat, tree.GridType())

	_, ok = h.Grid("missing")
	assert.False(t, ok)
}

func TestWriter_DuplicateName(t *testing.T) {
	w := testWriter(t)
	err := w.AddGrid("vel", voxel.GridClassUnknown, nil, nil, voxel.New(voxel.GridTypeFloat))
	assert.Error(t, err)
}

func TestReadHeader_Corrupt(t *testing.T) {
	data := encodeToBytes(t, testWriter(t))

	tests := []struct {
		name string
		data []byte
		code errors.ErrorCode
	}{
		{"empty", nil, errors.ErrCodeContainerCorrupt},
		{"bad magic", append([]byte("NOPE"), data[4:]...), errors.ErrCodeContainerCorrupt},
		{"future version", func() []byte {
			b := bytes.Clone(data)
			b[4] = 9
			return b
		}(), errors.ErrCodeContainerVersion},
		{"truncated header", data[:prefixSize+5], errors.ErrCodeContainerCorrupt},
		{"truncated payload", data[:len(data)-3], errors.ErrCodeContainerCorrupt},
		{"overflowing payload bounds", withLastPayload(t, data, 1<<62, 1<<62), errors.ErrCodeContainerCorrupt},
		{"negative payload size", withLastPayload(t, data, prefixSize, -1), errors.ErrCodeContainerCorrupt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadHeader(bytes.NewReader(tt.data), int64(len(tt.data)))
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, tt.code), "got %v", err)
			assert.True(t, errors.IsIOError(err))
		})
	}
}

// withLastPayload rewrites the offset and size of the last grid, which are
// the final 16 bytes of the header.
func withLastPayload(t *testing.T, data []byte, offset, size int64) []byte {
	t.Helper()
	h, err := ReadHeader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	headerEnd := h.Grids[0].offset

	b := bytes.Clone(data)
	binary.LittleEndian.PutUint64(b[headerEnd-16:], uint64(offset))
	binary.LittleEndian.PutUint64(b[headerEnd-8:], uint64(size))
	return b
}

func TestReadTree_OutOfBoundsDescriptor(t *testing.T) {
	data := encodeToBytes(t, testWriter(t))
	desc := GridDescriptor{Name: "density", Type: voxel.GridTypeFloat, offset: 1 << 62, size: 1 << 62}

	_, err := ReadTree(bytes.NewReader(data), desc)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeContainerCorrupt), "got %v", err)
}

func TestReadTree_CorruptPayload(t *testing.T) {
	data := encodeToBytes(t, testWriter(t))
	h, err := ReadHeader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	desc, _ := h.Grid("density")

	broken := bytes.Clone(data)
	for i := desc.offset; i < desc.offset+desc.size; i++ {
		broken[i] ^= 0xff
	}
	_, err = ReadTree(bytes.NewReader(broken), desc)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeContainerCorrupt))
}

func TestReadGrid_FileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.vgrid")
	require.NoError(t, testWriter(t).WriteFile(path))
	ctx := context.Background()

	h, err := ReadMetadata(ctx, LocalOpener{}, path)
	require.NoError(t, err)
	assert.Len(t, h.Grids, 2)

	desc, tree, err := ReadGrid(ctx, LocalOpener{}, path, "density")
	require.NoError(t, err)
	assert.Equal(t, "density", desc.Name)
	assert.Equal(t, int64(2), tree.ActiveVoxelCount())

	_, _, err = ReadGrid(ctx, LocalOpener{}, path, "missing")
	assert.True(t, errors.HasCode(err, errors.ErrCodeGridNotFound))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file removed")
}

func TestLocalOpener_Errors(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	_, err := LocalOpener{}.Open(ctx, filepath.Join(dir, "nope.vgrid"))
	assert.True(t, errors.HasCode(err, errors.ErrCodeFileNotFound))

	_, err = LocalOpener{}.Open(ctx, dir)
	assert.True(t, errors.HasCode(err, errors.ErrCodePathInvalid))

	_, err = ReadMetadata(ctx, LocalOpener{}, filepath.Join(dir, "nope.vgrid"))
	assert.True(t, errors.IsIOError(err))
}

func TestRouter(t *testing.T) {
	data := encodeToBytes(t, testWriter(t))
	var remotePath string
	remote := OpenerFunc(func(_ context.Context, path string) (Blob, error) {
		remotePath = path
		return memBlob{bytes.NewReader(data)}, nil
	})
	ctx := context.Background()

	router := Router{Remote: remote}
	h, err := ReadMetadata(ctx, router, "s3://bucket/grids/test.vgrid")
	require.NoError(t, err)
	assert.Equal(t, "s3://bucket/grids/test.vgrid", remotePath)
	assert.Len(t, h.Grids, 2)

	_, err = Router{}.Open(ctx, "s3://bucket/x")
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidConfig))

	path := filepath.Join(t.TempDir(), "local.vgrid")
	require.NoError(t, testWriter(t).WriteFile(path))
	blob, err := router.Open(ctx, "file://"+path)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), blob.Size())
	require.NoError(t, blob.Close())
}
