package storage

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		want     string
		wantErr  bool
	}{
		{name: "host and port", endpoint: "localhost:9000", want: "localhost:9000"},
		{name: "http url", endpoint: "http://minio.local:9000", want: "minio.local:9000"},
		{name: "https url with slash", endpoint: "https://s3.example.com/", want: "s3.example.com"},
		{name: "empty", endpoint: "", wantErr: true},
		{name: "path without scheme", endpoint: "minio.local/bucket", wantErr: true},
		{name: "url with path", endpoint: "https://s3.example.com/bucket", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := cleanEndpoint(tt.endpoint)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew_UnknownBackend(t *testing.T) {
	_, err := New(context.Background(), Config{Backend: "ftp"})
	assert.ErrorContains(t, err, "unknown storage backend")
}

func TestNewMinIOClient(t *testing.T) {
	c, err := New(context.Background(), Config{
		Backend:   BackendMinIO,
		Endpoint:  "http://localhost:9000",
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		PathStyle: true,
	})
	require.NoError(t, err)
	assert.IsType(t, &MinIOClient{}, c)
}

func TestACLHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Content-Type", "image/png")
	h.Set("X-Amz-Acl", "public-read")
	h.Add("X-Amz-Grant-Read", `id="abc"`)
	h.Add("X-Amz-Grant-Read", `uri="http://acs.amazonaws.com/groups/global/AllUsers"`)
	h.Set("X-Amz-Meta-Owner", "team")

	got := aclHeaders(h)
	assert.Equal(t, map[string]string{
		"X-Amz-Acl":        "public-read",
		"X-Amz-Grant-Read": `id="abc", uri="http://acs.amazonaws.com/groups/global/AllUsers"`,
	}, got)
}

func TestWrapMinIOError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "no such key", err: minio.ErrorResponse{Code: "NoSuchKey", StatusCode: http.StatusNotFound}, want: ErrNotFound},
		{name: "bare 404", err: minio.ErrorResponse{StatusCode: http.StatusNotFound}, want: ErrNotFound},
		{name: "no such bucket", err: minio.ErrorResponse{Code: "NoSuchBucket", StatusCode: http.StatusNotFound}, want: ErrBucketNotFound},
		{name: "access denied", err: minio.ErrorResponse{Code: "AccessDenied", StatusCode: http.StatusForbidden}, want: ErrAccessDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := wrapMinIOError("HeadObject", "k", tt.err)
			assert.ErrorIs(t, err, tt.want)

			var objErr *ObjectError
			require.ErrorAs(t, err, &objErr)
			assert.Equal(t, "HeadObject", objErr.Op)
			assert.Equal(t, "k", objErr.Key)
		})
	}

	plain := errors.New("connection reset")
	err := wrapMinIOError("CopyObject", "k", plain)
	assert.ErrorIs(t, err, plain)
	assert.Nil(t, wrapMinIOError("CopyObject", "k", nil))
}

func TestWrapS3Error(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "typed no such key", err: &types.NoSuchKey{}, want: ErrNotFound},
		{name: "typed not found", err: &types.NotFound{}, want: ErrNotFound},
		{name: "typed no such bucket", err: &types.NoSuchBucket{}, want: ErrBucketNotFound},
		{name: "api access denied", err: &smithy.GenericAPIError{Code: "AccessDenied"}, want: ErrAccessDenied},
		{name: "api not found", err: &smithy.GenericAPIError{Code: "NotFound"}, want: ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, wrapS3Error("HeadObject", "k", tt.err), tt.want)
		})
	}

	other := &smithy.GenericAPIError{Code: "SlowDown"}
	assert.ErrorIs(t, wrapS3Error("CopyObject", "k", other), other)
}

type fakeS3API struct {
	ListObjectsV2Func func(ctx context.Context, params *s3.ListObjectsV2Input) (*s3.ListObjectsV2Output, error)
	HeadBucketFunc    func(ctx context.Context, params *s3.HeadBucketInput) (*s3.HeadBucketOutput, error)
	HeadObjectFunc    func(ctx context.Context, params *s3.HeadObjectInput) (*s3.HeadObjectOutput, error)
	GetObjectAclFunc  func(ctx context.Context, params *s3.GetObjectAclInput) (*s3.GetObjectAclOutput, error)
	CopyObjectFunc    func(ctx context.Context, params *s3.CopyObjectInput) (*s3.CopyObjectOutput, error)
	PutObjectAclFunc  func(ctx context.Context, params *s3.PutObjectAclInput) (*s3.PutObjectAclOutput, error)

	calls []string
}

func (f *fakeS3API) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.calls = append(f.calls, "ListObjectsV2")
	return f.ListObjectsV2Func(ctx, params)
}

func (f *fakeS3API) HeadBucket(ctx context.Context, params *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	f.calls = append(f.calls, "HeadBucket")
	return f.HeadBucketFunc(ctx, params)
}

func (f *fakeS3API) HeadObject(ctx context.Context, params *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.calls = append(f.calls, "HeadObject")
	return f.HeadObjectFunc(ctx, params)
}

func (f *fakeS3API) GetObjectAcl(ctx context.Context, params *s3.GetObjectAclInput, _ ...func(*s3.Options)) (*s3.GetObjectAclOutput, error) {
	f.calls = append(f.calls, "GetObjectAcl")
	return f.GetObjectAclFunc(ctx, params)
}

func (f *fakeS3API) CopyObject(ctx context.Context, params *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	f.calls = append(f.calls, "CopyObject")
	return f.CopyObjectFunc(ctx, params)
}

func (f *fakeS3API) PutObjectAcl(ctx context.Context, params *s3.PutObjectAclInput, _ ...func(*s3.Options)) (*s3.PutObjectAclOutput, error) {
	f.calls = append(f.calls, "PutObjectAcl")
	return f.PutObjectAclFunc(ctx, params)
}

func TestS3Client_ListObjects_Paginates(t *testing.T) {
	api := &fakeS3API{
		ListObjectsV2Func: func(ctx context.Context, params *s3.ListObjectsV2Input) (*s3.ListObjectsV2Output, error) {
			assert.Equal(t, "assets", aws.ToString(params.Bucket))
			assert.Equal(t, "images/", aws.ToString(params.Prefix))
			if params.ContinuationToken == nil {
				return &s3.ListObjectsV2Output{
					Contents:              []types.Object{{Key: aws.String("images/a.png")}, {Key: aws.String("images/b.png")}},
					IsTruncated:           aws.Bool(true),
					NextContinuationToken: aws.String("page-2"),
				}, nil
			}
			assert.Equal(t, "page-2", aws.ToString(params.ContinuationToken))
			return &s3.ListObjectsV2Output{
				Contents:    []types.Object{{Key: aws.String("images/c.png"), Size: aws.Int64(42)}},
				IsTruncated: aws.Bool(false),
			}, nil
		},
	}
	c := &S3Client{api: api}

	objCh, errCh := c.ListObjects(context.Background(), "assets", "images/")
	var keys []string
	for obj := range objCh {
		keys = append(keys, obj.Key)
	}
	require.NoError(t, <-errCh)
	assert.Equal(t, []string{"images/a.png", "images/b.png", "images/c.png"}, keys)
}

func TestS3Client_ListObjects_Error(t *testing.T) {
	api := &fakeS3API{
		ListObjectsV2Func: func(ctx context.Context, params *s3.ListObjectsV2Input) (*s3.ListObjectsV2Output, error) {
			return nil, &types.NoSuchBucket{}
		},
	}
	c := &S3Client{api: api}

	objCh, errCh := c.ListObjects(context.Background(), "missing", "")
	for range objCh {
	}
	assert.ErrorIs(t, <-errCh, ErrBucketNotFound)
}

func TestS3Client_HeadObject(t *testing.T) {
	api := &fakeS3API{
		HeadObjectFunc: func(ctx context.Context, params *s3.HeadObjectInput) (*s3.HeadObjectOutput, error) {
			if aws.ToString(params.Key) == "gone" {
				return nil, &types.NotFound{}
			}
			return &s3.HeadObjectOutput{
				ContentType:   aws.String("application/octet-stream"),
				ContentLength: aws.Int64(10),
			}, nil
		},
	}
	c := &S3Client{api: api}

	info, err := c.HeadObject(context.Background(), "assets", "images/logo.png")
	require.NoError(t, err)
	assert.Equal(t, "images/logo.png", info.Key)
	assert.Equal(t, "application/octet-stream", info.ContentType)
	assert.Equal(t, int64(10), info.Size)

	_, err = c.HeadObject(context.Background(), "assets", "gone")
	assert.True(t, IsNotFound(err))
}

func TestS3Client_CopyInPlace_PreservesACL(t *testing.T) {
	owner := &types.Owner{ID: aws.String("owner-id")}
	grants := []types.Grant{{
		Grantee:    &types.Grantee{Type: types.TypeGroup, URI: aws.String("http://acs.amazonaws.com/groups/global/AllUsers")},
		Permission: types.PermissionRead,
	}}

	api := &fakeS3API{
		GetObjectAclFunc: func(ctx context.Context, params *s3.GetObjectAclInput) (*s3.GetObjectAclOutput, error) {
			return &s3.GetObjectAclOutput{Owner: owner, Grants: grants}, nil
		},
		CopyObjectFunc: func(ctx context.Context, params *s3.CopyObjectInput) (*s3.CopyObjectOutput, error) {
			assert.Equal(t, "assets", aws.ToString(params.Bucket))
			assert.Equal(t, "images/my logo.png", aws.ToString(params.Key))
			assert.Equal(t, "assets/images%2Fmy%20logo.png", aws.ToString(params.CopySource))
			assert.Equal(t, types.MetadataDirectiveReplace, params.MetadataDirective)
			assert.Equal(t, "image/png", aws.ToString(params.ContentType))
			assert.Empty(t, params.Metadata)
			return &s3.CopyObjectOutput{}, nil
		},
		PutObjectAclFunc: func(ctx context.Context, params *s3.PutObjectAclInput) (*s3.PutObjectAclOutput, error) {
			require.NotNil(t, params.AccessControlPolicy)
			assert.Equal(t, owner, params.AccessControlPolicy.Owner)
			assert.Equal(t, grants, params.AccessControlPolicy.Grants)
			return &s3.PutObjectAclOutput{}, nil
		},
	}
	c := &S3Client{api: api}

	err := c.CopyInPlace(context.Background(), "assets", "images/my logo.png", CopyOptions{
		PreserveACL: true,
		Metadata:    map[string]string{MetaContentType: "image/png"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"GetObjectAcl", "CopyObject", "PutObjectAcl"}, api.calls)
}

func TestS3Client_CopyInPlace_WithoutACL(t *testing.T) {
	api := &fakeS3API{
		CopyObjectFunc: func(ctx context.Context, params *s3.CopyObjectInput) (*s3.CopyObjectOutput, error) {
			return nil, &smithy.GenericAPIError{Code: "AccessDenied"}
		},
	}
	c := &S3Client{api: api}

	err := c.CopyInPlace(context.Background(), "assets", "k.css", CopyOptions{
		Metadata: map[string]string{"content-type": "text/css"},
	})
	assert.ErrorIs(t, err, ErrAccessDenied)
	assert.Equal(t, []string{"CopyObject"}, api.calls)
}

func TestMemoryClient(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient("assets")
	c.PutObject("images/logo.png", "application/octet-stream", "public-read")
	c.PutObject("css/site.css", "text/css", "private")

	info, err := c.HeadObject(ctx, "assets", "images/logo.png")
	require.NoError(t, err)
	assert.Equal(t, "application/octet-stream", info.ContentType)
	assert.Equal(t, 1, c.HeadCount("images/logo.png"))

	_, err = c.HeadObject(ctx, "assets", "missing")
	assert.True(t, IsNotFound(err))

	err = c.CopyInPlace(ctx, "assets", "images/logo.png", CopyOptions{
		PreserveACL: true,
		Metadata:    map[string]string{MetaContentType: "image/png"},
	})
	require.NoError(t, err)
	ct, ok := c.ContentType("images/logo.png")
	require.True(t, ok)
	assert.Equal(t, "image/png", ct)
	assert.Equal(t, "public-read", c.ACL("images/logo.png"))
	require.Len(t, c.Copies(), 1)

	objCh, errCh := c.ListObjects(ctx, "assets", "images/")
	var keys []string
	for obj := range objCh {
		keys = append(keys, obj.Key)
	}
	require.NoError(t, <-errCh)
	assert.Equal(t, []string{"images/logo.png"}, keys)

	boom := errors.New("boom")
	c.FailCopy("css/site.css", boom)
	assert.ErrorIs(t, c.CopyInPlace(ctx, "assets", "css/site.css", CopyOptions{}), boom)

	c.ResetCalls()
	assert.Empty(t, c.Copies())
	assert.Zero(t, c.HeadCount("images/logo.png"))
}

func TestS3Client_CheckBucket(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "exists"},
		{name: "missing", err: &types.NotFound{}, want: ErrBucketNotFound},
		{name: "forbidden", err: &smithy.GenericAPIError{Code: "Forbidden"}, want: ErrAccessDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeS3API{
				HeadBucketFunc: func(ctx context.Context, params *s3.HeadBucketInput) (*s3.HeadBucketOutput, error) {
					assert.Equal(t, "assets", aws.ToString(params.Bucket))
					return &s3.HeadBucketOutput{}, tt.err
				},
			}
			c := &S3Client{api: api}

			err := c.CheckBucket(context.Background(), "assets")
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, []string{"HeadBucket"}, api.calls)
		})
	}
}

func TestMemoryClient_CheckBucket(t *testing.T) {
	c := NewMemoryClient("assets")
	assert.NoError(t, c.CheckBucket(context.Background(), "assets"))
	assert.ErrorIs(t, c.CheckBucket(context.Background(), "other"), ErrBucketNotFound)
}
