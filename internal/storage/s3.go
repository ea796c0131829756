package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// s3API is the subset of *s3.Client used by S3Client
type s3API interface {
	s3.ListObjectsV2APIClient
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObjectAcl(ctx context.Context, params *s3.GetObjectAclInput, optFns ...func(*s3.Options)) (*s3.GetObjectAclOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	PutObjectAcl(ctx context.Context, params *s3.PutObjectAclInput, optFns ...func(*s3.Options)) (*s3.PutObjectAclOutput, error)
}

// S3Client implements the Client interface using the AWS SDK
type S3Client struct {
	api s3API
}

// NewS3Client creates a client backed by aws-sdk-go-v2 with static credentials
func NewS3Client(ctx context.Context, cfg Config) (*S3Client, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Opts := []func(*s3.Options){
		func(o *s3.Options) {
			o.DisableLogOutputChecksumValidationSkipped = true
			o.UsePathStyle = cfg.PathStyle
		},
	}
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
			scheme := "https://"
			if !cfg.Secure {
				scheme = "http://"
			}
			endpoint = scheme + endpoint
		}
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}

	return &S3Client{api: s3.NewFromConfig(awsCfg, s3Opts...)}, nil
}

// ListObjects lists objects with prefix using ListObjectsV2 pagination
func (c *S3Client) ListObjects(ctx context.Context, bucket, prefix string) (<-chan ObjectInfo, <-chan error) {
	objCh := make(chan ObjectInfo)
	errCh := make(chan error, 1)

	go func() {
		defer close(objCh)
		defer close(errCh)

		paginator := s3.NewListObjectsV2Paginator(c.api, &s3.ListObjectsV2Input{
			Bucket: aws.String(bucket),
			Prefix: aws.String(prefix),
		})

		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				errCh <- wrapS3Error("ListObjects", prefix, err)
				return
			}

			for _, obj := range page.Contents {
				info := ObjectInfo{
					Key:  aws.ToString(obj.Key),
					Size: aws.ToInt64(obj.Size),
					ETag: aws.ToString(obj.ETag),
				}
				if obj.LastModified != nil {
					info.LastModified = *obj.LastModified
				}

				select {
				case objCh <- info:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return objCh, errCh
}

// CheckBucket issues HeadBucket. HeadBucket has no error body, so a 404 means the bucket is missing.
func (c *S3Client) CheckBucket(ctx context.Context, bucket string) error {
	_, err := c.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		return nil
	}

	wrapped := wrapS3Error("HeadBucket", bucket, err)
	if errors.Is(wrapped, ErrNotFound) {
		return &ObjectError{Op: "HeadBucket", Key: bucket, Err: ErrBucketNotFound}
	}
	return wrapped
}

// HeadObject gets object metadata
func (c *S3Client) HeadObject(ctx context.Context, bucket, key string) (ObjectInfo, error) {
	out, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return ObjectInfo{}, wrapS3Error("HeadObject", key, err)
	}

	info := ObjectInfo{
		Key:         key,
		Size:        aws.ToInt64(out.ContentLength),
		ETag:        aws.ToString(out.ETag),
		ContentType: aws.ToString(out.ContentType),
		Metadata:    out.Metadata,
	}
	if out.LastModified != nil {
		info.LastModified = *out.LastModified
	}
	return info, nil
}

// CopyInPlace copies an object onto itself with MetadataDirective REPLACE. When
// PreserveACL is set the grant list read before the copy is written back afterwards.
func (c *S3Client) CopyInPlace(ctx context.Context, bucket, key string, opts CopyOptions) error {
	var acl *s3.GetObjectAclOutput
	if opts.PreserveACL {
		var err error
		acl, err = c.api.GetObjectAcl(ctx, &s3.GetObjectAclInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return wrapS3Error("GetObjectAcl", key, err)
		}
	}

	input := &s3.CopyObjectInput{
		Bucket:            aws.String(bucket),
		Key:               aws.String(key),
		CopySource:        aws.String(bucket + "/" + url.PathEscape(key)),
		MetadataDirective: types.MetadataDirectiveReplace,
		Metadata:          map[string]string{},
	}
	for k, v := range opts.Metadata {
		if strings.EqualFold(k, MetaContentType) {
			input.ContentType = aws.String(v)
			continue
		}
		input.Metadata[k] = v
	}

	if _, err := c.api.CopyObject(ctx, input); err != nil {
		return wrapS3Error("CopyObject", key, err)
	}

	if acl != nil {
		_, err := c.api.PutObjectAcl(ctx, &s3.PutObjectAclInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
			AccessControlPolicy: &types.AccessControlPolicy{
				Grants: acl.Grants,
				Owner:  acl.Owner,
			},
		})
		if err != nil {
			return wrapS3Error("PutObjectAcl", key, err)
		}
	}

	return nil
}

func wrapS3Error(op, key string, err error) error {
	if err == nil {
		return nil
	}

	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return &ObjectError{Op: op, Key: key, Err: ErrNotFound}
	}

	var noSuchBucket *types.NoSuchBucket
	if errors.As(err, &noSuchBucket) {
		return &ObjectError{Op: op, Key: key, Err: ErrBucketNotFound}
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return &ObjectError{Op: op, Key: key, Err: ErrNotFound}
		case "NoSuchBucket":
			return &ObjectError{Op: op, Key: key, Err: ErrBucketNotFound}
		case "AccessDenied", "Forbidden":
			return &ObjectError{Op: op, Key: key, Err: ErrAccessDenied}
		}
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case http.StatusNotFound:
			return &ObjectError{Op: op, Key: key, Err: ErrNotFound}
		case http.StatusForbidden:
			return &ObjectError{Op: op, Key: key, Err: ErrAccessDenied}
		}
	}

	return &ObjectError{Op: op, Key: key, Err: err}
}
