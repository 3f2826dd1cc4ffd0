package container

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/volgrid/volgrid/internal/voxel"
)

// Writer collects grids and writes them as one file.
type Writer struct {
	meta  map[string]string
	grids []pendingGrid
	names map[string]bool
}

type pendingGrid struct {
	desc GridDescriptor
	tree voxel.Tree
}

func NewWriter() *Writer {
	return &Writer{meta: make(map[string]string), names: make(map[string]bool)}
}

// SetMeta sets a file-level metadata entry.
func (w *Writer) SetMeta(key, value string) {
	w.meta[key] = value
}

// AddGrid queues a grid. Names must be unique within a file. The tree is
// read during WriteTo and must not change before then.
func (w *Writer) AddGrid(name string, class voxel.GridClass, transform *voxel.Transform,
	metadata map[string]string, tree voxel.Tree) error {
	if w.names[name] {
		return fmt.Errorf("container: duplicate grid name %q", name)
	}
	if !tree.GridType().Valid() {
		return fmt.Errorf("container: grid %q has invalid type", name)
	}
	if transform == nil {
		transform = voxel.IdentityTransform()
	}
	w.names[name] = true
	w.grids = append(w.grids, pendingGrid{
		desc: GridDescriptor{
			Name:         name,
			Type:         tree.GridType(),
			Class:        class,
			Transform:    transform.Copy(),
			Metadata:     maps.Clone(metadata),
			ActiveVoxels: tree.ActiveVoxelCount(),
		},
		tree: tree,
	})
	return nil
}

// WriteTo encodes every queued grid to out.
func (w *Writer) WriteTo(out io.Writer) (int64, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return 0, fmt.Errorf("container: create zstd encoder: %w", err)
	}
	defer enc.Close()

	payloads := make([][]byte, len(w.grids))
	header := &Header{Version: Version, Meta: w.meta}
	for i, g := range w.grids {
		var raw bytes.Buffer
		if err := voxel.Encode(&raw, g.tree); err != nil {
			return 0, fmt.Errorf("container: encode grid %q: %w", g.desc.Name, err)
		}
		payloads[i] = enc.EncodeAll(raw.Bytes(), nil)
		desc := g.desc
		desc.size = int64(len(payloads[i]))
		header.Grids = append(header.Grids, desc)
	}

	// Offsets are fixed width, so the header length does not depend on
	// their values.
	encoded, err := encodeHeader(header)
	if err != nil {
		return 0, fmt.Errorf("container: %w", err)
	}
	offset := int64(prefixSize + len(encoded))
	for i := range header.Grids {
		header.Grids[i].offset = offset
		offset += header.Grids[i].size
	}
	if encoded, err = encodeHeader(header); err != nil {
		return 0, fmt.Errorf("container: %w", err)
	}

	var prefix [prefixSize]byte
	copy(prefix[:4], Magic)
	binary.LittleEndian.PutUint32(prefix[4:8], Version)
	binary.LittleEndian.PutUint32(prefix[8:12], uint32(len(encoded)))

	var written int64
	for _, chunk := range append([][]byte{prefix[:], encoded}, payloads...) {
		n, err := out.Write(chunk)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// WriteFile writes the grids to path through a temporary file in the same
// directory.
func (w *Writer) WriteFile(path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".vgrid-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := w.WriteTo(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
