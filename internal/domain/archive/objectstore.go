package archive

import (
	"context"
	"time"
)

// ObjectInfo describes a blob returned by List.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// ObjectStore is the blob abstraction the Archiver and the admin surface
// operate against; the production adapter targets an S3-compatible API.
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string, metadata map[string]string) error
	Get(ctx context.Context, key string) ([]byte, map[string]string, error)
	Head(ctx context.Context, key string) (map[string]string, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}
