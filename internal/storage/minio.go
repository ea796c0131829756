package storage

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOClient implements the Client interface using minio-go
type MinIOClient struct {
	client *minio.Client
}

// NewMinIOClient creates a new MinIO client
func NewMinIOClient(cfg Config) (*MinIOClient, error) {
	// Clean and validate endpoint
	endpoint, err := cleanEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}

	opts := &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	}
	if cfg.PathStyle {
		opts.BucketLookup = minio.BucketLookupPath
	}

	client, err := minio.New(endpoint, opts)
	if err != nil {
		return nil, err
	}

	return &MinIOClient{client: client}, nil
}

// cleanEndpoint removes protocol and path from endpoint URL to get host:port format
func cleanEndpoint(endpoint string) (string, error) {
	if endpoint == "" {
		return "", fmt.Errorf("endpoint cannot be empty")
	}

	// If endpoint doesn't have protocol, it must already be host:port
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		if strings.Contains(endpoint, "/") {
			return "", fmt.Errorf("endpoint contains path but no protocol")
		}
		return endpoint, nil
	}

	parsedURL, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("failed to parse endpoint URL: %w", err)
	}

	if parsedURL.Path != "" && parsedURL.Path != "/" {
		return "", fmt.Errorf("endpoint URL cannot have paths, only host:port is allowed (got path: %s)", parsedURL.Path)
	}

	return parsedURL.Host, nil
}

// ListObjects lists objects with prefix
func (c *MinIOClient) ListObjects(ctx context.Context, bucket, prefix string) (<-chan ObjectInfo, <-chan error) {
	objCh := make(chan ObjectInfo)
	errCh := make(chan error, 1)

	go func() {
		defer close(objCh)
		defer close(errCh)

		for obj := range c.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
			Prefix:    prefix,
			Recursive: true,
		}) {
			if obj.Err != nil {
				errCh <- wrapMinIOError("ListObjects", prefix, obj.Err)
				return
			}

			select {
			case objCh <- ObjectInfo{
				Key:          obj.Key,
				Size:         obj.Size,
				ETag:         obj.ETag,
				LastModified: obj.LastModified,
				ContentType:  obj.ContentType,
			}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return objCh, errCh
}

// CheckBucket verifies the bucket exists and is reachable with the configured credentials
func (c *MinIOClient) CheckBucket(ctx context.Context, bucket string) error {
	exists, err := c.client.BucketExists(ctx, bucket)
	if err != nil {
		return wrapMinIOError("BucketExists", bucket, err)
	}
	if !exists {
		return &ObjectError{Op: "BucketExists", Key: bucket, Err: ErrBucketNotFound}
	}
	return nil
}

// HeadObject gets object metadata
func (c *MinIOClient) HeadObject(ctx context.Context, bucket, key string) (ObjectInfo, error) {
	info, err := c.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return ObjectInfo{}, wrapMinIOError("HeadObject", key, err)
	}

	return ObjectInfo{
		Key:          info.Key,
		Size:         info.Size,
		ETag:         info.ETag,
		LastModified: info.LastModified,
		ContentType:  info.ContentType,
		Metadata:     info.UserMetadata,
	}, nil
}

// CopyInPlace copies an object onto itself with replaced metadata. When PreserveACL
// is set the object's canned ACL or grant headers are read first and sent with the copy.
func (c *MinIOClient) CopyInPlace(ctx context.Context, bucket, key string, opts CopyOptions) error {
	meta := make(map[string]string, len(opts.Metadata)+2)
	for k, v := range opts.Metadata {
		meta[k] = v
	}

	if opts.PreserveACL {
		acl, err := c.client.GetObjectACL(ctx, bucket, key)
		if err != nil {
			return wrapMinIOError("GetObjectACL", key, err)
		}
		for k, v := range aclHeaders(acl.Metadata) {
			meta[k] = v
		}
	}

	_, err := c.client.CopyObject(ctx,
		minio.CopyDestOptions{
			Bucket:          bucket,
			Object:          key,
			ReplaceMetadata: true,
			UserMetadata:    meta,
		},
		minio.CopySrcOptions{
			Bucket: bucket,
			Object: key,
		},
	)
	if err != nil {
		return wrapMinIOError("CopyObject", key, err)
	}
	return nil
}

// aclHeaders extracts the x-amz-acl and x-amz-grant-* headers minio-go reports for an object ACL
func aclHeaders(h http.Header) map[string]string {
	out := make(map[string]string)
	for k, v := range h {
		canonical := http.CanonicalHeaderKey(k)
		if canonical != "X-Amz-Acl" && !strings.HasPrefix(canonical, "X-Amz-Grant-") {
			continue
		}
		if len(v) == 0 {
			continue
		}
		out[canonical] = strings.Join(v, ", ")
	}
	return out
}

func wrapMinIOError(op, key string, err error) error {
	if err == nil {
		return nil
	}

	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchKey" || (resp.StatusCode == http.StatusNotFound && resp.Code != "NoSuchBucket"):
		return &ObjectError{Op: op, Key: key, Err: ErrNotFound}
	case resp.Code == "NoSuchBucket":
		return &ObjectError{Op: op, Key: key, Err: ErrBucketNotFound}
	case resp.Code == "AccessDenied" || resp.StatusCode == http.StatusForbidden:
		return &ObjectError{Op: op, Key: key, Err: ErrAccessDenied}
	}

	return &ObjectError{Op: op, Key: key, Err: err}
}
