package types

import "context"

// ObjectReader is the read side of an object storage backend.
type ObjectReader interface {
	GetObject(ctx context.Context, key string, offset, size int64) ([]byte, error)
	HeadObject(ctx context.Context, key string) (*ObjectInfo, error)
	HealthCheck(ctx context.Context) error
}

// Reclaimer frees memory on request and reports how many bytes it expects
// to have released. Implementations must be safe for concurrent use.
type Reclaimer interface {
	Reclaim(ctx context.Context) int64
}

// ReclaimerFunc adapts a function to Reclaimer.
type ReclaimerFunc func(ctx context.Context) int64

func (f ReclaimerFunc) Reclaim(ctx context.Context) int64 { return f(ctx) }
