package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"ctfix/internal/checkpoint"
	"ctfix/internal/config"
	"ctfix/internal/contenttype"
	"ctfix/internal/logger"
	"ctfix/internal/metrics"
	"ctfix/internal/progress"
	"ctfix/internal/queue"
	"ctfix/internal/storage"
	"ctfix/internal/worker"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Phase is the pipeline state of a Fixer
type Phase int32

const (
	PhaseInit Phase = iota
	PhaseEnumerating
	PhaseDispatching
	PhaseRunning
	PhaseDrained
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "INIT"
	case PhaseEnumerating:
		return "ENUMERATING"
	case PhaseDispatching:
		return "DISPATCHING"
	case PhaseRunning:
		return "RUNNING"
	case PhaseDrained:
		return "DRAINED"
	default:
		return fmt.Sprintf("Phase(%d)", int32(p))
	}
}

// Summary describes one run
type Summary struct {
	RunID        string
	Candidates   int
	Workers      int
	Matched      int64
	Fixed        int64
	WouldFix     int64
	LookupFailed int64
	UnknownType  int64
	Resumed      int64
	Failed       int64
	Stops        int64
	Timeouts     int64
	Interrupted  bool
	Elapsed      time.Duration
}

func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "candidates=%d workers=%d matched=%d fixed=%d", s.Candidates, s.Workers, s.Matched, s.Fixed)
	if s.WouldFix > 0 {
		fmt.Fprintf(&b, " would_fix=%d", s.WouldFix)
	}
	fmt.Fprintf(&b, " lookup_failed=%d unknown_type=%d failed=%d", s.LookupFailed, s.UnknownType, s.Failed)
	if s.Resumed > 0 {
		fmt.Fprintf(&b, " resumed=%d", s.Resumed)
	}
	if s.Timeouts > 0 {
		fmt.Fprintf(&b, " timeouts=%d", s.Timeouts)
	}
	if s.Interrupted {
		b.WriteString(" interrupted")
	}
	fmt.Fprintf(&b, " elapsed=%s", s.Elapsed.Round(time.Millisecond))
	return b.String()
}

// Option configures a Fixer
type Option func(*options)

type options struct {
	client      storage.Client
	registry    *prometheus.Registry
	progressOut io.Writer
	logSink     *logger.Sink
}

// WithClient uses client instead of connecting to the configured store
func WithClient(client storage.Client) Option {
	return func(o *options) {
		o.client = client
	}
}

// WithRegistry registers metrics with reg instead of the default registry
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) {
		o.registry = reg
	}
}

// WithProgressOutput sets where the progress display is written
func WithProgressOutput(w io.Writer) Option {
	return func(o *options) {
		o.progressOut = w
	}
}

// WithLogSink routes log lines through the progress display while it is active,
// so they are printed above the live area instead of being redrawn over
func WithLogSink(sink *logger.Sink) Option {
	return func(o *options) {
		o.logSink = sink
	}
}

// Fixer coordinates a content type reconciliation run: it enumerates the
// candidate keys, feeds them to the worker pool and waits for the pool to drain.
type Fixer struct {
	cfg         *config.Config
	logger      *zap.Logger
	client      storage.Client
	guesser     *contenttype.Guesser
	checkpoint  checkpoint.Store
	metrics     *metrics.Collector
	progressOut io.Writer
	logSink     *logger.Sink
	isTerminal  func() bool
	runID       string

	phase  atomic.Int32
	counts outcomeCounts

	mu          sync.Mutex
	workersDone chan struct{}
}

type outcomeCounts struct {
	matched      atomic.Int64
	fixed        atomic.Int64
	wouldFix     atomic.Int64
	lookupFailed atomic.Int64
	unknownType  atomic.Int64
	resumed      atomic.Int64
	failed       atomic.Int64
}

// New creates a new fixer instance. Failing to create the store client or the
// checkpoint store is a setup error.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Fixer, error) {
	o := options{progressOut: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}

	client := o.client
	if client == nil {
		var err error
		client, err = storage.New(context.Background(), storage.Config{
			Backend:   cfg.Store.Backend,
			Endpoint:  cfg.Store.Endpoint,
			Region:    cfg.Store.Region,
			AccessKey: cfg.Store.AccessKey,
			SecretKey: cfg.Store.SecretKey,
			Secure:    cfg.Store.Secure,
			PathStyle: cfg.Store.PathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create storage client: %w", err)
		}
	}

	var checkpointStore checkpoint.Store
	if cfg.Fix.Checkpoint != "" {
		store, err := checkpoint.NewSQLiteStore(cfg.Fix.Checkpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to create checkpoint store: %w", err)
		}
		checkpointStore = store
	}

	var metricsCollector *metrics.Collector
	if o.registry != nil {
		metricsCollector = metrics.NewWithRegistry(o.registry, o.registry)
	} else {
		metricsCollector = metrics.New()
	}

	runID := uuid.NewString()

	return &Fixer{
		cfg:         cfg,
		logger:      logger.With(zap.String("run_id", runID)),
		client:      client,
		guesser:     contenttype.New(cfg.Fix.ContentTypes),
		checkpoint:  checkpointStore,
		metrics:     metricsCollector,
		progressOut: o.progressOut,
		logSink:     o.logSink,
		isTerminal:  progress.IsTerminalSupported,
		runID:       runID,
	}, nil
}

// Phase returns the current pipeline state
func (f *Fixer) Phase() Phase {
	return Phase(f.phase.Load())
}

// RunID returns the identifier attached to this run's logs and checkpoint records
func (f *Fixer) RunID() string {
	return f.runID
}

// WorkersDone is closed once every worker has exited. It is nil until Run has
// started the pool.
func (f *Fixer) WorkersDone() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.workersDone
}

func (f *Fixer) setPhase(p Phase) {
	f.phase.Store(int32(p))
	f.logger.Debug("Pipeline phase", zap.Stringer("phase", p))
}

// Run executes one reconciliation pass. A missing bucket, rejected credentials
// or a listing failure is returned before any worker starts. Cancelling ctx
// only ends the wait for the workers: they keep draining the queue, and Run
// returns a summary marked Interrupted.
// Run must not be called more than once.
func (f *Fixer) Run(ctx context.Context) (Summary, error) {
	startTime := time.Now()
	fix := f.cfg.Fix
	summary := Summary{RunID: f.runID}

	f.logger.Info("Starting content type fix",
		zap.String("bucket", fix.Bucket),
		zap.Strings("prefixes", fix.Prefixes),
		zap.Int("workers", fix.Workers),
		zap.Bool("dry_run", fix.DryRun),
		zap.Bool("resume", fix.Resume),
	)

	if f.cfg.MetricsAddr != "" {
		serverCtx, stopServer := context.WithCancel(context.Background())
		defer stopServer()
		go func() {
			if err := f.metrics.StartServer(serverCtx, f.cfg.MetricsAddr); err != nil {
				f.logger.Error("Failed to start metrics server", zap.Error(err))
			}
		}()
	}

	if err := f.client.CheckBucket(ctx, fix.Bucket); err != nil {
		return summary, fmt.Errorf("failed to connect to bucket %q: %w", fix.Bucket, err)
	}
	f.logger.Debug("Connected to bucket", zap.String("bucket", fix.Bucket))

	f.setPhase(PhaseEnumerating)
	candidates, err := NewEnumerator(f.client, f.logger).Enumerate(ctx, fix.Bucket, fix.Prefixes)
	if err != nil {
		return summary, fmt.Errorf("failed to list objects: %w", err)
	}

	keys := make([]string, 0, len(candidates))
	for key := range candidates {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	summary.Candidates = len(keys)
	f.metrics.SetCandidates(len(keys))
	f.logger.Info("Enumerated candidate keys", zap.Int("candidates", len(keys)))

	stopProgress := f.startProgress()

	f.setPhase(PhaseDispatching)
	q := queue.New()
	pool := worker.NewPool(fix.Workers, worker.Config{
		Bucket:       fix.Bucket,
		Verbose:      fix.Verbose,
		DryRun:       fix.DryRun,
		Resume:       fix.Resume,
		QueueTimeout: fix.QueueTimeout,
		RunID:        f.runID,
	}, f.client, f.guesser, f.checkpoint, f.metrics, f.logger, f.recordResult)

	// workers outlive an interrupt
	var wg sync.WaitGroup
	pool.Start(context.WithoutCancel(ctx), q, &wg)
	summary.Workers = pool.Size()

	for _, key := range keys {
		q.Put(queue.KeyItem(key))
	}
	for i := 0; i < pool.Size(); i++ {
		q.Put(queue.StopItem())
	}

	f.setPhase(PhaseRunning)
	done := make(chan struct{})
	f.mu.Lock()
	f.workersDone = done
	f.mu.Unlock()
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		f.setPhase(PhaseDrained)
	case <-ctx.Done():
		summary.Interrupted = true
		f.logger.Warn("Interrupted, no longer waiting for workers",
			zap.Int("queued", q.Len()))
	}

	stopProgress()

	f.fillSummary(&summary, pool.Stats())
	summary.Elapsed = time.Since(startTime)

	f.logger.Info("Content type fix completed", zap.Stringer("summary", summary))
	return summary, nil
}

// startProgress starts the live display and returns the function that stops it
func (f *Fixer) startProgress() (stop func()) {
	switch {
	case !f.cfg.Fix.ShowProgress:
		f.logger.Debug("Progress display disabled (disabled in config)")
		return func() {}
	case !f.isTerminal():
		f.logger.Debug("Progress display disabled (unsupported terminal)")
		return func() {}
	}

	display := progress.NewDisplay(f.metrics.GetProgressTracker(), time.Second, f.progressOut)
	display.Start()

	restore := func() {}
	if f.logSink != nil {
		restore = f.logSink.Redirect(display.Bypass())
	}

	return func() {
		restore()
		display.Stop()
	}
}

func (f *Fixer) recordResult(res worker.Result) {
	switch res.Outcome {
	case worker.OutcomeMatched:
		f.counts.matched.Add(1)
	case worker.OutcomeFixed:
		f.counts.fixed.Add(1)
	case worker.OutcomeWouldFix:
		f.counts.wouldFix.Add(1)
	case worker.OutcomeLookupFailed:
		f.counts.lookupFailed.Add(1)
	case worker.OutcomeUnknownType:
		f.counts.unknownType.Add(1)
	case worker.OutcomeResumed:
		f.counts.resumed.Add(1)
	case worker.OutcomeFailed:
		f.counts.failed.Add(1)
	}
}

func (f *Fixer) fillSummary(s *Summary, stats worker.Stats) {
	s.Matched = f.counts.matched.Load()
	s.Fixed = f.counts.fixed.Load()
	s.WouldFix = f.counts.wouldFix.Load()
	s.LookupFailed = f.counts.lookupFailed.Load()
	s.UnknownType = f.counts.unknownType.Load()
	s.Resumed = f.counts.resumed.Load()
	s.Failed = f.counts.failed.Load()
	s.Stops = stats.Stops
	s.Timeouts = stats.Timeouts
}

// Close cleans up resources. After an interrupted Run the workers are still
// recording outcomes, so the checkpoint store is closed once they exit.
func (f *Fixer) Close() error {
	if f.checkpoint == nil {
		return nil
	}

	done := f.WorkersDone()
	if done == nil {
		return f.checkpoint.Close()
	}

	select {
	case <-done:
		return f.checkpoint.Close()
	default:
	}

	go func() {
		<-done
		if err := f.checkpoint.Close(); err != nil {
			f.logger.Error("Failed to close checkpoint store", zap.Error(err))
		}
	}()
	return nil
}
