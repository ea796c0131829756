// Package queue provides the unbounded blocking FIFO that carries work from the
// coordinator to the worker pool.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTimeout is returned by Get when no item arrived within the timeout
var ErrTimeout = errors.New("queue: timed out waiting for item")

type itemKind uint8

const (
	kindKey itemKind = iota + 1
	kindStop
)

// WorkItem is either an object key or a stop signal
type WorkItem struct {
	kind itemKind
	key  string
}

// KeyItem wraps an object key
func KeyItem(key string) WorkItem {
	return WorkItem{kind: kindKey, key: key}
}

// StopItem tells the consuming worker to exit
func StopItem() WorkItem {
	return WorkItem{kind: kindStop}
}

// IsStop reports whether the item is a stop signal
func (w WorkItem) IsStop() bool {
	return w.kind == kindStop
}

// Key returns the object key. It is empty for stop items.
func (w WorkItem) Key() string {
	return w.key
}

// Queue is a multi-producer, multi-consumer FIFO. Put never blocks.
type Queue struct {
	mu    sync.Mutex
	items []WorkItem
	// ready holds a token whenever items may be available
	ready chan struct{}
}

// New creates an empty queue
func New() *Queue {
	return &Queue{ready: make(chan struct{}, 1)}
}

// Put appends an item
func (q *Queue) Put(item WorkItem) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
	q.signal()
}

// Get removes the oldest item, blocking until one is available, the timeout
// elapses (ErrTimeout) or ctx is done.
func (q *Queue) Get(ctx context.Context, timeout time.Duration) (WorkItem, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if item, ok := q.pop(); ok {
			return item, nil
		}

		select {
		case <-q.ready:
		case <-timer.C:
			// an item may have landed between the last pop and the timer firing
			if item, ok := q.pop(); ok {
				return item, nil
			}
			return WorkItem{}, ErrTimeout
		case <-ctx.Done():
			return WorkItem{}, ctx.Err()
		}
	}
}

// Len returns the number of queued items
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) pop() (WorkItem, bool) {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return WorkItem{}, false
	}

	item := q.items[0]
	q.items[0] = WorkItem{}
	q.items = q.items[1:]
	remaining := len(q.items)
	q.mu.Unlock()

	if remaining > 0 {
		q.signal()
	}
	return item, true
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
