package checkpoint

import (
	"time"
)

// Status represents the outcome recorded for an object
type Status string

const (
	StatusMatched Status = "matched"
	StatusFixed   Status = "fixed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Done reports whether an object with this status needs no further work on resume
func (s Status) Done() bool {
	return s == StatusMatched || s == StatusFixed
}

// Record represents one object's last outcome in the checkpoint store
type Record struct {
	Bucket      string    `json:"bucket"`
	Key         string    `json:"key"`
	Status      Status    `json:"status"`
	ContentType string    `json:"content_type"`
	Expected    string    `json:"expected"`
	RunID       string    `json:"run_id"`
	Attempts    int       `json:"attempts"`
	LastError   string    `json:"last_error,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Store defines the interface for checkpoint persistence
type Store interface {
	GetRecord(bucket, key string) (*Record, error)
	SaveRecord(record *Record) error
	ListByStatus(status Status) ([]*Record, error)

	Close() error
}
