package container

import (
	"bytes"
	"context"
	"encoding/binary"
	stderr "errors"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/volgrid/volgrid/internal/voxel"
	"github.com/volgrid/volgrid/pkg/errors"
)

var (
	decoderOnce sync.Once
	decoder     *zstd.Decoder
	decoderErr  error
)

// sharedDecoder returns a process-wide decoder. DecodeAll is safe for
// concurrent use.
func sharedDecoder() (*zstd.Decoder, error) {
	decoderOnce.Do(func() {
		decoder, decoderErr = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	})
	return decoder, decoderErr
}

// ReadHeader reads the metadata section of a grid file of the given size.
// A negative size disables payload bounds checks.
func ReadHeader(r io.ReaderAt, size int64) (*Header, error) {
	prefix := make([]byte, prefixSize)
	if err := readAt(r, prefix, 0); err != nil {
		return nil, corrupt("file too short for header").WithCause(err)
	}
	if string(prefix[:4]) != Magic {
		return nil, corrupt("bad magic %q", prefix[:4])
	}
	version := binary.LittleEndian.Uint32(prefix[4:8])
	if version != Version {
		return nil, errors.Newf(errors.ErrCodeContainerVersion, "unsupported version %d", version).
			WithComponent("container")
	}
	headerLen := binary.LittleEndian.Uint32(prefix[8:12])
	if headerLen > maxHeaderSize || (size >= 0 && int64(prefixSize)+int64(headerLen) > size) {
		return nil, corrupt("header length %d out of range", headerLen)
	}

	data := make([]byte, headerLen)
	if err := readAt(r, data, prefixSize); err != nil {
		return nil, corrupt("truncated header").WithCause(err)
	}
	return decodeHeader(data, size)
}

// ReadTree decodes the voxel payload described by desc.
func ReadTree(r io.ReaderAt, desc GridDescriptor) (voxel.Tree, error) {
	if !payloadInBounds(desc.offset, desc.size, -1) {
		return nil, corrupt("grid %q payload [%d,+%d) is out of bounds", desc.Name, desc.offset, desc.size)
	}
	compressed := make([]byte, desc.size)
	if err := readAt(r, compressed, desc.offset); err != nil {
		return nil, errors.Newf(errors.ErrCodeStorageRead, "read payload of grid %q", desc.Name).
			WithComponent("container").WithCause(err)
	}
	dec, err := sharedDecoder()
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeInternalError, "create zstd decoder").WithCause(err)
	}
	raw, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, corrupt("decompress grid %q", desc.Name).WithCause(err)
	}
	tree, err := voxel.Decode(bytes.NewReader(raw), desc.Type)
	if err != nil {
		return nil, corrupt("decode grid %q", desc.Name).WithCause(err)
	}
	return tree, nil
}

// ReadMetadata opens path and reads its header only.
func ReadMetadata(ctx context.Context, opener Opener, path string) (*Header, error) {
	blob, err := opener.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer blob.Close()
	h, err := ReadHeader(blob, blob.Size())
	if err != nil {
		return nil, withPath(err, path)
	}
	return h, nil
}

// ReadGrid opens path and reads the named grid's descriptor and tree.
func ReadGrid(ctx context.Context, opener Opener, path, name string) (GridDescriptor, voxel.Tree, error) {
	blob, err := opener.Open(ctx, path)
	if err != nil {
		return GridDescriptor{}, nil, err
	}
	defer blob.Close()

	h, err := ReadHeader(blob, blob.Size())
	if err != nil {
		return GridDescriptor{}, nil, withPath(err, path)
	}
	desc, ok := h.Grid(name)
	if !ok {
		return GridDescriptor{}, nil, errors.Newf(errors.ErrCodeGridNotFound, "no grid named %q", name).
			WithComponent("container").WithContext("path", path)
	}
	tree, err := ReadTree(blob, desc)
	if err != nil {
		return GridDescriptor{}, nil, withPath(err, path)
	}
	return desc, tree, nil
}

func withPath(err error, path string) error {
	var gridErr *errors.GridError
	if stderr.As(err, &gridErr) {
		return gridErr.WithContext("path", path)
	}
	return err
}

// readAt fills p, accepting io.EOF when the read ends exactly at the end of
// the input.
func readAt(r io.ReaderAt, p []byte, off int64) error {
	n, err := r.ReadAt(p, off)
	if n == len(p) {
		return nil
	}
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	return err
}
