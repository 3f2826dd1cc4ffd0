/*
Package s3 reads grid files stored in Amazon S3 or an S3-compatible service.

Grid files are addressed as s3://bucket/key. An Opener resolves such paths
to an Object, a container.Blob whose ReadAt issues ranged GetObject calls,
so reading a file's header fetches only the header bytes and reading one
grid fetches only that grid's payload.

# Backends

A Backend is bound to one bucket. NewBackend loads the AWS configuration
through the SDK's default chain (environment, shared config, instance
role) unless static credentials are configured, and probes the bucket with
HeadBucket unless SkipHealthCheck is set. Custom endpoints and path-style
addressing make it usable against MinIO or LocalStack.

Every request runs under Config.RequestTimeout and is retried by pkg/retry
when it fails with a transient code (throttling, timeouts, connection
errors). Missing objects and permission failures are returned at once.

# Errors

SDK errors are translated to pkg/errors codes: OBJECT_NOT_FOUND,
BUCKET_NOT_FOUND, ACCESS_DENIED, STORAGE_READ and the connection codes. The
grid layer treats all of these as I/O failures and records them as the
grid's error message instead of failing the caller.

# Usage

	opener := s3.NewOpener(&s3.Config{Region: "eu-west-1"})
	router := container.Router{Remote: opener}
	header, err := container.ReadMetadata(ctx, router, "s3://scenes/smoke.vgrid")
*/
package s3
