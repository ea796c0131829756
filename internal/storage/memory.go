package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// CopyCall records one CopyInPlace invocation on a MemoryClient
type CopyCall struct {
	Bucket string
	Key    string
	Opts   CopyOptions
}

// MemoryClient is an in-memory implementation of Client for tests. It records
// every mutating call and supports per-key error injection.
type MemoryClient struct {
	mu      sync.RWMutex
	bucket  string
	objects map[string]memoryObject

	heads  map[string]int
	copies []CopyCall

	listErr map[string]error
	headErr map[string]error
	copyErr map[string]error
}

type memoryObject struct {
	contentType string
	acl         string
	metadata    map[string]string
	modified    time.Time
}

// NewMemoryClient creates an empty in-memory bucket
func NewMemoryClient(bucket string) *MemoryClient {
	return &MemoryClient{
		bucket:  bucket,
		objects: make(map[string]memoryObject),
		heads:   make(map[string]int),
		listErr: make(map[string]error),
		headErr: make(map[string]error),
		copyErr: make(map[string]error),
	}
}

// PutObject adds or replaces an object with the given content type and canned ACL
func (c *MemoryClient) PutObject(key, contentType, acl string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.objects[key] = memoryObject{contentType: contentType, acl: acl, modified: time.Now()}
}

// DeleteObject removes an object, simulating a key that vanished after listing
func (c *MemoryClient) DeleteObject(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.objects, key)
}

// FailList makes listing prefix fail with err
func (c *MemoryClient) FailList(prefix string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listErr[prefix] = err
}

// FailHead makes HeadObject for key fail with err
func (c *MemoryClient) FailHead(key string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.headErr[key] = err
}

// FailCopy makes CopyInPlace for key fail with err
func (c *MemoryClient) FailCopy(key string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.copyErr[key] = err
}

// ContentType returns the stored content type of key
func (c *MemoryClient) ContentType(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	obj, ok := c.objects[key]
	return obj.contentType, ok
}

// ACL returns the stored canned ACL of key
func (c *MemoryClient) ACL(key string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.objects[key].acl
}

// Copies returns the recorded CopyInPlace calls in call order
func (c *MemoryClient) Copies() []CopyCall {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]CopyCall, len(c.copies))
	copy(out, c.copies)
	return out
}

// HeadCount returns how many times HeadObject was called for key
func (c *MemoryClient) HeadCount(key string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.heads[key]
}

// ResetCalls clears the recorded calls
func (c *MemoryClient) ResetCalls() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.heads = make(map[string]int)
	c.copies = nil
}

func (c *MemoryClient) ListObjects(ctx context.Context, bucket, prefix string) (<-chan ObjectInfo, <-chan error) {
	objCh := make(chan ObjectInfo)
	errCh := make(chan error, 1)

	c.mu.RLock()
	listErr := c.listErr[prefix]
	wrongBucket := bucket != c.bucket
	var infos []ObjectInfo
	for key, obj := range c.objects {
		if strings.HasPrefix(key, prefix) {
			infos = append(infos, ObjectInfo{Key: key, LastModified: obj.modified})
		}
	}
	c.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })

	go func() {
		defer close(objCh)
		defer close(errCh)

		if wrongBucket {
			errCh <- &ObjectError{Op: "ListObjects", Key: prefix, Err: ErrBucketNotFound}
			return
		}

		for _, info := range infos {
			select {
			case objCh <- info:
			case <-ctx.Done():
				return
			}
		}

		if listErr != nil {
			errCh <- &ObjectError{Op: "ListObjects", Key: prefix, Err: listErr}
		}
	}()

	return objCh, errCh
}

func (c *MemoryClient) CheckBucket(ctx context.Context, bucket string) error {
	if bucket != c.bucket {
		return &ObjectError{Op: "CheckBucket", Key: bucket, Err: ErrBucketNotFound}
	}
	return nil
}

func (c *MemoryClient) HeadObject(ctx context.Context, bucket, key string) (ObjectInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.heads[key]++
	if err := c.headErr[key]; err != nil {
		return ObjectInfo{}, &ObjectError{Op: "HeadObject", Key: key, Err: err}
	}

	obj, ok := c.objects[key]
	if !ok || bucket != c.bucket {
		return ObjectInfo{}, &ObjectError{Op: "HeadObject", Key: key, Err: ErrNotFound}
	}

	return ObjectInfo{
		Key:          key,
		ContentType:  obj.contentType,
		LastModified: obj.modified,
		Metadata:     obj.metadata,
	}, nil
}

func (c *MemoryClient) CopyInPlace(ctx context.Context, bucket, key string, opts CopyOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.copies = append(c.copies, CopyCall{Bucket: bucket, Key: key, Opts: opts})
	if err := c.copyErr[key]; err != nil {
		return &ObjectError{Op: "CopyObject", Key: key, Err: err}
	}

	obj, ok := c.objects[key]
	if !ok || bucket != c.bucket {
		return &ObjectError{Op: "CopyObject", Key: key, Err: ErrNotFound}
	}

	meta := make(map[string]string)
	for k, v := range opts.Metadata {
		if strings.EqualFold(k, MetaContentType) {
			obj.contentType = v
			continue
		}
		meta[k] = v
	}
	obj.metadata = meta
	if !opts.PreserveACL {
		obj.acl = "private"
	}
	obj.modified = time.Now()
	c.objects[key] = obj

	return nil
}
