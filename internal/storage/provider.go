// Package storage publishes training artifacts to an object store so they
// can be shared beyond the machine that produced them.
package storage

import (
	"context"
	"io"
)

// Provider is the artifact destination. Implementations must tolerate being
// pointed at an existing bucket.
type Provider interface {
	CreateBucket(ctx context.Context, bucket string) error

	PutObject(ctx context.Context, bucket, key string, data io.Reader) error

	// UploadDir mirrors a local directory under bucket/prefix.
	UploadDir(ctx context.Context, bucket, prefix, src string) error

	// UploadFile stores a single file under bucket/key.
	UploadFile(ctx context.Context, bucket, key, path string) error
}
