package s3

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/volgrid/volgrid/internal/container"
	"github.com/volgrid/volgrid/pkg/errors"
	"github.com/volgrid/volgrid/pkg/types"
	"github.com/volgrid/volgrid/pkg/utils"
)

// Object is a random-access view of one S3 object. Every ReadAt is a
// ranged GET.
type Object struct {
	ctx    context.Context
	reader types.ObjectReader
	key    string
	size   int64
}

var _ container.Blob = (*Object)(nil)

// OpenObject heads key and returns a reader over it. ctx bounds every
// later read.
func OpenObject(ctx context.Context, reader types.ObjectReader, key string) (*Object, error) {
	info, err := reader.HeadObject(ctx, key)
	if err != nil {
		return nil, err
	}
	return &Object{ctx: ctx, reader: reader, key: key, size: info.Size}, nil
}

func (o *Object) Size() int64 { return o.size }

func (o *Object) ReadAt(p []byte, off int64) (int, error) {
	if off >= o.size {
		return 0, io.EOF
	}
	want := int64(len(p))
	if off+want > o.size {
		want = o.size - off
	}
	if want == 0 {
		return 0, nil
	}
	data, err := o.reader.GetObject(o.ctx, o.key, off, want)
	if err != nil {
		return 0, err
	}
	n := copy(p, data)
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (o *Object) Close() error { return nil }

// Opener opens s3://bucket/key paths, creating one backend per bucket on
// first use.
type Opener struct {
	mu        sync.Mutex
	config    *Config
	readers   map[string]types.ObjectReader
	newReader func(ctx context.Context, bucket string) (types.ObjectReader, error)
	logger    *slog.Logger
}

var _ container.Opener = (*Opener)(nil)

func NewOpener(cfg *Config) *Opener {
	o := &Opener{
		config:  cfg,
		readers: make(map[string]types.ObjectReader),
		logger:  slog.Default().With("component", "s3-opener"),
	}
	o.newReader = func(ctx context.Context, bucket string) (types.ObjectReader, error) {
		return NewBackend(ctx, bucket, o.config)
	}
	return o
}

// NewOpenerWithReaders returns an opener over fixed per-bucket readers.
// Unknown buckets fail with BUCKET_NOT_FOUND.
func NewOpenerWithReaders(readers map[string]types.ObjectReader) *Opener {
	o := NewOpener(nil)
	for bucket, r := range readers {
		o.readers[bucket] = r
	}
	o.newReader = func(_ context.Context, bucket string) (types.ObjectReader, error) {
		return nil, errors.Newf(errors.ErrCodeBucketNotFound, "bucket %s is not configured", bucket).
			WithComponent("s3")
	}
	return o
}

func (o *Opener) reader(ctx context.Context, bucket string) (types.ObjectReader, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if r, ok := o.readers[bucket]; ok {
		return r, nil
	}
	r, err := o.newReader(ctx, bucket)
	if err != nil {
		return nil, err
	}
	o.logger.Info("connected to bucket", "bucket", bucket)
	o.readers[bucket] = r
	return r, nil
}

func (o *Opener) Open(ctx context.Context, path string) (container.Blob, error) {
	bucket, key, err := utils.SplitObjectPath(path)
	if err != nil {
		return nil, errors.NewError(errors.ErrCodePathInvalid, err.Error()).WithComponent("s3")
	}
	r, err := o.reader(ctx, bucket)
	if err != nil {
		return nil, err
	}
	return OpenObject(ctx, r, key)
}
