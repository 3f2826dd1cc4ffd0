// Package container reads and writes volgrid grid files.
//
// A file holds any number of named grids. The header lists every grid's
// metadata and transform so it can be read without touching voxel data;
// each grid's tree follows as an independent zstd-compressed payload.
//
// Layout (little-endian):
//
//	magic "VGRD" | version u32 | header length u32 | header | payloads...
//
// The header is file metadata followed by one descriptor per grid. Strings
// are a u16 length and raw bytes.
package container

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/volgrid/volgrid/internal/voxel"
	"github.com/volgrid/volgrid/pkg/errors"
)

const (
	Magic   = "VGRD"
	Version = uint32(1)

	// prefixSize is magic, version and header length.
	prefixSize = 12
	// maxHeaderSize rejects absurd header lengths before allocating.
	maxHeaderSize = 64 << 20
	// maxPayloadSize bounds a single compressed grid when the file size is
	// unknown.
	maxPayloadSize = 16 << 30
)

// Header is the metadata section of a grid file.
type Header struct {
	Version uint32
	Meta    map[string]string
	Grids   []GridDescriptor
}

// Grid returns the descriptor named name.
func (h *Header) Grid(name string) (GridDescriptor, bool) {
	for _, g := range h.Grids {
		if g.Name == name {
			return g, true
		}
	}
	return GridDescriptor{}, false
}

// GridDescriptor is everything known about a grid without reading its
// voxels.
type GridDescriptor struct {
	Name         string
	Type         voxel.GridType
	Class        voxel.GridClass
	Transform    *voxel.Transform
	Metadata     map[string]string
	ActiveVoxels int64

	offset int64
	size   int64
}

// PayloadSize is the compressed size of the grid's voxel data.
func (d GridDescriptor) PayloadSize() int64 { return d.size }

func corrupt(format string, args ...interface{}) *errors.GridError {
	return errors.Newf(errors.ErrCodeContainerCorrupt, format, args...).WithComponent("container")
}

type headerWriter struct {
	buf bytes.Buffer
}

func (w *headerWriter) put(v interface{}) {
	// Writes to a bytes.Buffer cannot fail for fixed-size values.
	_ = binary.Write(&w.buf, binary.LittleEndian, v)
}

func (w *headerWriter) putString(s string) error {
	if len(s) > math.MaxUint16 {
		return fmt.Errorf("string of %d bytes is too long", len(s))
	}
	w.put(uint16(len(s)))
	w.buf.WriteString(s)
	return nil
}

func (w *headerWriter) putMap(m map[string]string) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	w.put(uint32(len(keys)))
	for _, k := range keys {
		if err := w.putString(k); err != nil {
			return err
		}
		if err := w.putString(m[k]); err != nil {
			return err
		}
	}
	return nil
}

func encodeHeader(h *Header) ([]byte, error) {
	var w headerWriter
	if err := w.putMap(h.Meta); err != nil {
		return nil, err
	}
	w.put(uint32(len(h.Grids)))
	for _, g := range h.Grids {
		if err := w.putString(g.Name); err != nil {
			return nil, err
		}
		w.put(uint8(g.Type))
		w.put(uint8(g.Class))
		transform := g.Transform
		if transform == nil {
			transform = voxel.IdentityTransform()
		}
		w.put(transform.Matrix())
		if err := w.putMap(g.Metadata); err != nil {
			return nil, err
		}
		w.put(g.ActiveVoxels)
		w.put(g.offset)
		w.put(g.size)
	}
	return w.buf.Bytes(), nil
}

type headerReader struct {
	r   *bytes.Reader
	err error
}

func (r *headerReader) get(v interface{}) {
	if r.err != nil {
		return
	}
	r.err = binary.Read(r.r, binary.LittleEndian, v)
}

func (r *headerReader) getString() string {
	var n uint16
	r.get(&n)
	if r.err != nil {
		return ""
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r.r, b); err != nil {
		r.err = err
		return ""
	}
	return string(b)
}

func (r *headerReader) getMap() map[string]string {
	var n uint32
	r.get(&n)
	if r.err != nil || n == 0 {
		return nil
	}
	if int64(n) > int64(r.r.Len()) {
		r.err = fmt.Errorf("map of %d entries exceeds header", n)
		return nil
	}
	m := make(map[string]string, n)
	for i := uint32(0); i < n && r.err == nil; i++ {
		k := r.getString()
		m[k] = r.getString()
	}
	return m
}

func decodeHeader(data []byte, payloadLimit int64) (*Header, error) {
	r := &headerReader{r: bytes.NewReader(data)}
	h := &Header{Version: Version}
	h.Meta = r.getMap()

	var count uint32
	r.get(&count)
	if r.err == nil && int64(count) > int64(len(data)) {
		return nil, corrupt("grid count %d exceeds header size", count)
	}
	for i := uint32(0); i < count && r.err == nil; i++ {
		var (
			g         GridDescriptor
			gridType  uint8
			gridClass uint8
			matrix    [16]float64
		)
		g.Name = r.getString()
		r.get(&gridType)
		r.get(&gridClass)
		r.get(&matrix)
		g.Metadata = r.getMap()
		r.get(&g.ActiveVoxels)
		r.get(&g.offset)
		r.get(&g.size)
		if r.err != nil {
			break
		}

		g.Type = voxel.GridType(gridType)
		g.Class = voxel.GridClass(gridClass)
		if !g.Type.Valid() {
			return nil, corrupt("grid %q has unknown type %d", g.Name, gridType)
		}
		transform, err := voxel.TransformFromMatrix(matrix)
		if err != nil {
			return nil, corrupt("grid %q: %v", g.Name, err)
		}
		g.Transform = transform
		if !payloadInBounds(g.offset, g.size, payloadLimit) {
			return nil, corrupt("grid %q payload [%d,+%d) is out of bounds", g.Name, g.offset, g.size)
		}
		h.Grids = append(h.Grids, g)
	}
	if r.err != nil {
		return nil, corrupt("truncated header").WithCause(r.err)
	}
	return h, nil
}

// payloadInBounds reports whether [offset, offset+size) fits in limit bytes.
// A negative limit means the file size is unknown.
func payloadInBounds(offset, size, limit int64) bool {
	if offset < 0 || size < 0 || size > maxPayloadSize {
		return false
	}
	if limit < 0 {
		return offset <= math.MaxInt64-size
	}
	return size <= limit && offset <= limit-size
}
