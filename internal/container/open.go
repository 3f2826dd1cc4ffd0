package container

import (
	"context"
	"os"
	"strings"

	"github.com/volgrid/volgrid/pkg/errors"
	"github.com/volgrid/volgrid/pkg/utils"
)

// Blob is a random-access view of one grid file.
type Blob interface {
	ReadAt(p []byte, off int64) (int, error)
	Size() int64
	Close() error
}

// Opener opens grid files by path.
type Opener interface {
	Open(ctx context.Context, path string) (Blob, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, path string) (Blob, error)

func (f OpenerFunc) Open(ctx context.Context, path string) (Blob, error) {
	return f(ctx, path)
}

type fileBlob struct {
	*os.File
	size int64
}

func (b *fileBlob) Size() int64 { return b.size }

// LocalOpener opens files on the local filesystem.
type LocalOpener struct{}

func (LocalOpener) Open(_ context.Context, path string) (Blob, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.FromFileError(path, err).WithComponent("container")
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.FromFileError(path, err).WithComponent("container")
	}
	if info.IsDir() {
		f.Close()
		return nil, errors.Newf(errors.ErrCodePathInvalid, "%s is a directory", path).
			WithComponent("container")
	}
	return &fileBlob{File: f, size: info.Size()}, nil
}

// Router sends object-store paths (s3://bucket/key) to Remote and
// everything else to Local.
type Router struct {
	Local  Opener
	Remote Opener
}

func (r Router) Open(ctx context.Context, path string) (Blob, error) {
	if utils.IsObjectPath(path) {
		if r.Remote == nil {
			return nil, errors.Newf(errors.ErrCodeInvalidConfig, "no object storage configured for %s", path).
				WithComponent("container")
		}
		return r.Remote.Open(ctx, path)
	}
	local := r.Local
	if local == nil {
		local = LocalOpener{}
	}
	return local.Open(ctx, strings.TrimPrefix(path, "file://"))
}
