package progress

import (
	"fmt"
	"sync"
	"time"
)

// Status represents the current run status
type Status struct {
	TotalObjects     int64
	ProcessedObjects int64
	MatchedObjects   int64
	FixedObjects     int64
	SkippedObjects   int64
	FailedObjects    int64
	StartTime        time.Time
	LastUpdateTime   time.Time
	CurrentRate      float64 // objects/second over the recent window
	AverageRate      float64 // objects/second since start
	ETA              time.Duration
}

// Tracker tracks per-object progress
type Tracker struct {
	mu         sync.RWMutex
	status     Status
	samples    []time.Time
	maxSamples int
	window     time.Duration
	now        func() time.Time
}

// NewTracker creates a new progress tracker
func NewTracker() *Tracker {
	return newTracker(time.Now)
}

func newTracker(now func() time.Time) *Tracker {
	start := now()
	return &Tracker{
		status: Status{
			StartTime:      start,
			LastUpdateTime: start,
		},
		samples:    make([]time.Time, 0, 256),
		maxSamples: 256,
		window:     5 * time.Second,
		now:        now,
	}
}

// SetTotal sets the total number of candidate objects
func (t *Tracker) SetTotal(objects int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.TotalObjects = objects
}

// AddMatched records an object whose content type was already correct
func (t *Tracker) AddMatched() {
	t.add(func(s *Status) { s.MatchedObjects++ })
}

// AddFixed records an object whose content type was rewritten
func (t *Tracker) AddFixed() {
	t.add(func(s *Status) { s.FixedObjects++ })
}

// AddSkipped records an object that was skipped without a decision
func (t *Tracker) AddSkipped() {
	t.add(func(s *Status) { s.SkippedObjects++ })
}

// AddFailed records an object whose remediation failed
func (t *Tracker) AddFailed() {
	t.add(func(s *Status) { s.FailedObjects++ })
}

func (t *Tracker) add(bump func(*Status)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	bump(&t.status)
	t.status.ProcessedObjects++
	t.updateRate(t.now())
}

// updateRate must be called with the lock held
func (t *Tracker) updateRate(now time.Time) {
	t.samples = append(t.samples, now)
	if len(t.samples) > t.maxSamples {
		t.samples = t.samples[1:]
	}

	cutoff := now.Add(-t.window)
	recent := 0
	var first time.Time
	for i := len(t.samples) - 1; i >= 0 && !t.samples[i].Before(cutoff); i-- {
		recent++
		first = t.samples[i]
	}
	if elapsed := now.Sub(first); recent > 1 && elapsed > 0 {
		t.status.CurrentRate = float64(recent) / elapsed.Seconds()
	} else {
		t.status.CurrentRate = 0
	}

	if elapsed := now.Sub(t.status.StartTime); elapsed > 0 {
		t.status.AverageRate = float64(t.status.ProcessedObjects) / elapsed.Seconds()
	}

	remaining := t.status.TotalObjects - t.status.ProcessedObjects
	if remaining > 0 && t.status.AverageRate > 0 {
		t.status.ETA = time.Duration(float64(remaining)/t.status.AverageRate) * time.Second
	} else {
		t.status.ETA = 0
	}

	t.status.LastUpdateTime = now
}

// GetStatus returns the current status (thread-safe)
func (t *Tracker) GetStatus() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// GetProgressPercent returns the progress percentage
func (t *Tracker) GetProgressPercent() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.status.TotalObjects == 0 {
		return 0
	}
	return float64(t.status.ProcessedObjects) / float64(t.status.TotalObjects) * 100
}

// FormatRate formats an object rate in human readable format
func FormatRate(objectsPerSecond float64) string {
	if objectsPerSecond >= 1000 {
		return fmt.Sprintf("%.1fk obj/s", objectsPerSecond/1000)
	}
	return fmt.Sprintf("%.1f obj/s", objectsPerSecond)
}

// FormatDuration formats duration in human readable format
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return "calculating..."
	}

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
