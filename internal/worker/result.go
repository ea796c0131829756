package worker

import (
	"time"
)

// Outcome classifies how one key was handled
type Outcome string

const (
	OutcomeMatched      Outcome = "matched"
	OutcomeFixed        Outcome = "fixed"
	OutcomeWouldFix     Outcome = "would_fix"
	OutcomeLookupFailed Outcome = "lookup_failed"
	OutcomeUnknownType  Outcome = "unknown_type"
	OutcomeResumed      Outcome = "resumed"
	OutcomeFailed       Outcome = "failed"
)

// Result is returned for every processed key. Err is set for lookup and copy failures.
type Result struct {
	Key      string
	Outcome  Outcome
	Current  string
	Expected string
	Err      error
	Duration time.Duration
}

// Config contains worker configuration
type Config struct {
	Bucket       string
	Verbose      bool
	DryRun       bool
	Resume       bool
	QueueTimeout time.Duration
	RunID        string
}

// ContentTypeGuesser infers the expected content type from a key name
type ContentTypeGuesser interface {
	Guess(key string) (string, bool)
}
