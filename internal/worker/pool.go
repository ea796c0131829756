package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"ctfix/internal/checkpoint"
	"ctfix/internal/metrics"
	"ctfix/internal/queue"
	"ctfix/internal/storage"

	"go.uber.org/zap"
)

// Source is the queue side consumed by workers
type Source interface {
	Get(ctx context.Context, timeout time.Duration) (queue.WorkItem, error)
}

// Stats counts what the pool's workers dequeued
type Stats struct {
	Keys     int64
	Stops    int64
	Timeouts int64
}

// Pool manages a fixed set of workers
type Pool struct {
	size       int
	config     Config
	client     storage.Client
	guesser    ContentTypeGuesser
	checkpoint checkpoint.Store
	metrics    *metrics.Collector
	logger     *zap.Logger
	onResult   func(Result)

	keys     atomic.Int64
	stops    atomic.Int64
	timeouts atomic.Int64
}

// NewPool creates a new worker pool. onResult, when non-nil, is called from the
// worker goroutines for every processed key and must be safe for concurrent use.
func NewPool(
	size int,
	config Config,
	client storage.Client,
	guesser ContentTypeGuesser,
	checkpointStore checkpoint.Store,
	metricsCollector *metrics.Collector,
	logger *zap.Logger,
	onResult func(Result),
) *Pool {
	return &Pool{
		size:       size,
		config:     config,
		client:     client,
		guesser:    guesser,
		checkpoint: checkpointStore,
		metrics:    metricsCollector,
		logger:     logger,
		onResult:   onResult,
	}
}

// Size returns the number of workers Start launches
func (p *Pool) Size() int {
	return p.size
}

// Start launches exactly Size workers. Each runs until it dequeues a stop item or
// its queue wait times out; cancelling ctx also ends the wait, so callers that
// must not interrupt in-flight workers pass a context without cancellation.
func (p *Pool) Start(ctx context.Context, src Source, wg *sync.WaitGroup) {
	for i := 0; i < p.size; i++ {
		wg.Add(1)
		go p.worker(ctx, i, src, wg)
	}
}

// Stats returns the dequeue counters
func (p *Pool) Stats() Stats {
	return Stats{
		Keys:     p.keys.Load(),
		Stops:    p.stops.Load(),
		Timeouts: p.timeouts.Load(),
	}
}

func (p *Pool) worker(ctx context.Context, id int, src Source, wg *sync.WaitGroup) {
	defer wg.Done()

	logger := p.logger.With(zap.Int("worker_id", id))
	logger.Debug("Worker started")

	if p.metrics != nil {
		p.metrics.WorkerStarted()
		defer p.metrics.WorkerStopped()
	}

	processor := NewProcessor(p.config, p.client, p.guesser, p.checkpoint, p.metrics, logger)

	for {
		item, err := src.Get(ctx, p.config.QueueTimeout)
		if err != nil {
			if errors.Is(err, queue.ErrTimeout) {
				p.timeouts.Add(1)
				logger.Warn("Worker queue wait timed out, exiting",
					zap.Duration("timeout", p.config.QueueTimeout))
			} else {
				logger.Info("Worker stopped", zap.Error(err))
			}
			return
		}

		if item.IsStop() {
			p.stops.Add(1)
			logger.Debug("Worker finished - stop received")
			return
		}

		p.keys.Add(1)
		res := processor.Process(ctx, item.Key())
		if p.onResult != nil {
			p.onResult(res)
		}
	}
}
