package s3

import (
	"context"
	stderr "errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/volgrid/volgrid/internal/circuit"
	"github.com/volgrid/volgrid/pkg/errors"
	"github.com/volgrid/volgrid/pkg/retry"
	"github.com/volgrid/volgrid/pkg/types"
)

// ObjectAPI is the subset of the S3 client the backend calls.
type ObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Backend reads grid files from one S3 bucket.
type Backend struct {
	client  ObjectAPI
	bucket  string
	config  *Config
	retryer *retry.Retryer
	breaker *circuit.Breaker
	logger  *slog.Logger
	metrics *MetricsCollector
}

var _ types.ObjectReader = (*Backend)(nil)

// NewBackend creates an S3 backend for bucket using the default AWS
// credential chain, or static credentials when cfg carries them.
func NewBackend(ctx context.Context, bucket string, cfg *Config) (*Backend, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket name cannot be empty")
	}
	if cfg == nil {
		cfg = NewDefaultConfig()
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
		config.WithRetryMaxAttempts(cfg.MaxRetries),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	backend := NewBackendWithClient(bucket, client, cfg)
	if !cfg.SkipHealthCheck {
		if err := backend.HealthCheck(ctx); err != nil {
			return nil, fmt.Errorf("S3 backend health check failed: %w", err)
		}
	}
	return backend, nil
}

// NewBackendWithClient wraps an existing client.
func NewBackendWithClient(bucket string, client ObjectAPI, cfg *Config) *Backend {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	logger := slog.Default().With("component", "s3-backend", "bucket", bucket)
	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = cfg.MaxRetries
	retryCfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.Warn("retrying S3 request", "attempt", attempt, "delay", delay, "error", err)
	}
	breakerCfg := cfg.Breaker
	breakerCfg.IsSuccessful = countsAsSuccess
	breakerCfg.OnStateChange = func(name string, from, to circuit.State) {
		logger.Warn("circuit breaker state changed", "from", from.String(), "to", to.String())
	}
	return &Backend{
		client:  client,
		bucket:  bucket,
		config:  cfg,
		retryer: retry.New(retryCfg),
		breaker: circuit.New("s3:"+bucket, breakerCfg),
		logger:  logger,
		metrics: NewMetricsCollector(),
	}
}

func (b *Backend) Bucket() string { return b.bucket }

// BreakerState reports whether requests to the bucket are currently being
// rejected.
func (b *Backend) BreakerState() circuit.State { return b.breaker.State() }

// countsAsSuccess keeps answers that prove the bucket is reachable from
// tripping the breaker.
func countsAsSuccess(err error) bool {
	return err == nil ||
		errors.HasCode(err, errors.ErrCodeObjectNotFound) ||
		errors.HasCode(err, errors.ErrCodeOperationCanceled)
}

func (b *Backend) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.config.RequestTimeout > 0 {
		return context.WithTimeout(ctx, b.config.RequestTimeout)
	}
	return context.WithCancel(ctx)
}

// GetObject retrieves an object or a byte range of it. size <= 0 reads to
// the end of the object.
func (b *Backend) GetObject(ctx context.Context, key string, offset, size int64) ([]byte, error) {
	var rangeHeader *string
	if offset > 0 || size > 0 {
		if size > 0 {
			rangeHeader = aws.String(fmt.Sprintf("bytes=%d-%d", offset, offset+size-1))
		} else {
			rangeHeader = aws.String(fmt.Sprintf("bytes=%d-", offset))
		}
	}

	var data []byte
	err := b.breaker.Execute(ctx, func(ctx context.Context) error {
		return b.retryer.DoWithContext(ctx, func(ctx context.Context) error {
			start := time.Now()
			reqCtx, cancel := b.requestContext(ctx)
			defer cancel()

			result, err := b.client.GetObject(reqCtx, &s3.GetObjectInput{
				Bucket: aws.String(b.bucket),
				Key:    aws.String(key),
				Range:  rangeHeader,
			})
			if err != nil {
				err = b.translateError(err, "GetObject", key)
				b.metrics.RecordRequest(time.Since(start), err)
				return err
			}
			defer result.Body.Close()

			data, err = io.ReadAll(result.Body)
			if err != nil {
				err = errors.NewError(errors.ErrCodeNetworkError, "failed to read object body").
					WithComponent("s3").WithOperation("GetObject").WithContext("key", key).WithCause(err)
			}
			b.metrics.RecordRequest(time.Since(start), err)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	b.metrics.RecordBytesDownloaded(int64(len(data)))
	return data, nil
}

// HeadObject retrieves metadata about an object
func (b *Backend) HeadObject(ctx context.Context, key string) (*types.ObjectInfo, error) {
	var info *types.ObjectInfo
	err := b.breaker.Execute(ctx, func(ctx context.Context) error {
		return b.retryer.DoWithContext(ctx, func(ctx context.Context) error {
			start := time.Now()
			reqCtx, cancel := b.requestContext(ctx)
			defer cancel()

			result, err := b.client.HeadObject(reqCtx, &s3.HeadObjectInput{
				Bucket: aws.String(b.bucket),
				Key:    aws.String(key),
			})
			if err != nil {
				err = b.translateError(err, "HeadObject", key)
				b.metrics.RecordRequest(time.Since(start), err)
				return err
			}
			b.metrics.RecordRequest(time.Since(start), nil)

			info = &types.ObjectInfo{
				Key:          key,
				Size:         aws.ToInt64(result.ContentLength),
				LastModified: aws.ToTime(result.LastModified),
				ETag:         aws.ToString(result.ETag),
				ContentType:  aws.ToString(result.ContentType),
				Metadata:     make(map[string]string, len(result.Metadata)),
			}
			for k, v := range result.Metadata {
				info.Metadata[k] = v
			}
			return nil
		})
	})
	return info, err
}

// HealthCheck verifies the bucket is reachable.
func (b *Backend) HealthCheck(ctx context.Context) error {
	reqCtx, cancel := b.requestContext(ctx)
	defer cancel()
	_, err := b.client.HeadBucket(reqCtx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)})
	if err != nil {
		return b.translateError(err, "HeadBucket", "")
	}
	return nil
}

// GetMetrics returns current backend metrics
func (b *Backend) GetMetrics() BackendMetrics {
	return b.metrics.GetMetrics()
}

func (b *Backend) translateError(err error, operation, key string) error {
	var code errors.ErrorCode
	switch {
	case isErrorType[*s3types.NoSuchKey](err), isErrorType[*s3types.NotFound](err):
		code = errors.ErrCodeObjectNotFound
	case isErrorType[*s3types.NoSuchBucket](err):
		code = errors.ErrCodeBucketNotFound
	case stderr.Is(err, context.DeadlineExceeded):
		code = errors.ErrCodeOperationTimeout
	case stderr.Is(err, context.Canceled):
		code = errors.ErrCodeOperationCanceled
	default:
		code = errors.ErrCodeConnectionFailed
		var apiErr smithy.APIError
		if stderr.As(err, &apiErr) {
			switch apiErr.ErrorCode() {
			case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch":
				code = errors.ErrCodeAccessDenied
			case "NoSuchKey", "NotFound":
				code = errors.ErrCodeObjectNotFound
			case "NoSuchBucket":
				code = errors.ErrCodeBucketNotFound
			case "SlowDown", "RequestTimeout", "InternalError", "ServiceUnavailable":
				code = errors.ErrCodeConnectionTimeout
			default:
				code = errors.ErrCodeStorageRead
			}
		}
	}

	gridErr := errors.NewError(code, fmt.Sprintf("%s failed", operation)).
		WithComponent("s3").
		WithOperation(operation).
		WithContext("bucket", b.bucket).
		WithCause(err)
	if key != "" {
		gridErr.WithContext("key", key)
	}
	return gridErr
}

// isErrorType checks if an error is of a specific type
func isErrorType[T error](err error) bool {
	var target T
	return stderr.As(err, &target)
}
