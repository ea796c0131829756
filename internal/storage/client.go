package storage

import (
	"context"
	"fmt"
	"time"
)

// Backend names accepted by New
const (
	BackendMinIO = "minio"
	BackendAWS   = "aws"
)

// MetaContentType is the metadata key that sets an object's content type on copy
const MetaContentType = "Content-Type"

// Client defines the S3-compatible operations the fixer needs
type Client interface {
	// ListObjects streams every object under prefix. The error channel carries at most one error.
	ListObjects(ctx context.Context, bucket, prefix string) (<-chan ObjectInfo, <-chan error)
	// HeadObject fetches object metadata. Missing objects return ErrNotFound.
	HeadObject(ctx context.Context, bucket, key string) (ObjectInfo, error)
	// CopyInPlace copies an object onto itself, replacing its metadata
	CopyInPlace(ctx context.Context, bucket, key string, opts CopyOptions) error
	// CheckBucket verifies the credentials can reach bucket. A missing bucket returns ErrBucketNotFound.
	CheckBucket(ctx context.Context, bucket string) error
}

// ObjectInfo contains object metadata
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
	ContentType  string
	Metadata     map[string]string
}

// CopyOptions contains options for in-place copies
type CopyOptions struct {
	PreserveACL bool
	// Metadata replaces the object's metadata; MetaContentType sets the content type
	Metadata map[string]string
}

// Config contains client configuration
type Config struct {
	Backend   string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Secure    bool
	PathStyle bool
}

// New creates a client for the configured backend
func New(ctx context.Context, cfg Config) (Client, error) {
	switch cfg.Backend {
	case BackendMinIO, "":
		return NewMinIOClient(cfg)
	case BackendAWS:
		return NewS3Client(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
