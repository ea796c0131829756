package storage

import (
	"errors"
	"fmt"
)

// Common errors returned by Client implementations
var (
	ErrNotFound       = errors.New("object not found")
	ErrAccessDenied   = errors.New("access denied")
	ErrBucketNotFound = errors.New("bucket not found")
)

// ObjectError records the operation and key that failed
type ObjectError struct {
	Op  string
	Key string
	Err error
}

func (e *ObjectError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
}

func (e *ObjectError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err means the object does not exist
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
