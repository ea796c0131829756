package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"ctfix/internal/progress"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels used by objectsTotal
const (
	OutcomeMatched  = "matched"
	OutcomeFixed    = "fixed"
	OutcomeWouldFix = "would_fix"
	OutcomeSkipped  = "skipped"
	OutcomeFailed   = "failed"
)

// Collector collects and exposes metrics
type Collector struct {
	objectsTotal    *prometheus.CounterVec
	candidates      prometheus.Gauge
	runningWorkers  prometheus.Gauge
	duration        prometheus.Histogram
	gatherer        prometheus.Gatherer
	progressTracker *progress.Tracker
}

// New creates a collector registered with the default Prometheus registry
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewWithRegistry creates a collector registered with reg and served from gatherer
func NewWithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Collector {
	c := &Collector{
		objectsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ctfix_objects_total",
				Help: "Total number of objects processed, by outcome",
			},
			[]string{"outcome"},
		),
		candidates: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ctfix_candidates",
				Help: "Number of candidate keys found by the last enumeration",
			},
		),
		runningWorkers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ctfix_running_workers",
				Help: "Number of workers currently running",
			},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ctfix_object_duration_seconds",
				Help:    "Time taken to check and remediate one object",
				Buckets: prometheus.DefBuckets,
			},
		),
		gatherer:        gatherer,
		progressTracker: progress.NewTracker(),
	}

	reg.MustRegister(c.objectsTotal, c.candidates, c.runningWorkers, c.duration)

	return c
}

// IncMatched counts an object whose content type was already correct
func (c *Collector) IncMatched() {
	c.objectsTotal.WithLabelValues(OutcomeMatched).Inc()
	c.progressTracker.AddMatched()
}

// IncFixed counts an object whose content type was rewritten
func (c *Collector) IncFixed() {
	c.objectsTotal.WithLabelValues(OutcomeFixed).Inc()
	c.progressTracker.AddFixed()
}

// IncWouldFix counts a mismatch found in dry-run mode
func (c *Collector) IncWouldFix() {
	c.objectsTotal.WithLabelValues(OutcomeWouldFix).Inc()
	c.progressTracker.AddFixed()
}

// IncSkipped counts an object skipped without a decision
func (c *Collector) IncSkipped() {
	c.objectsTotal.WithLabelValues(OutcomeSkipped).Inc()
	c.progressTracker.AddSkipped()
}

// IncFailed counts an object whose remediation failed
func (c *Collector) IncFailed() {
	c.objectsTotal.WithLabelValues(OutcomeFailed).Inc()
	c.progressTracker.AddFailed()
}

// SetCandidates records the size of the candidate set
func (c *Collector) SetCandidates(n int) {
	c.candidates.Set(float64(n))
	c.progressTracker.SetTotal(int64(n))
}

// WorkerStarted increments the running worker gauge
func (c *Collector) WorkerStarted() {
	c.runningWorkers.Inc()
}

// WorkerStopped decrements the running worker gauge
func (c *Collector) WorkerStopped() {
	c.runningWorkers.Dec()
}

// ObserveDuration observes the processing time of one object
func (c *Collector) ObserveDuration(duration time.Duration) {
	c.duration.Observe(duration.Seconds())
}

// GetProgressTracker returns the progress tracker
func (c *Collector) GetProgressTracker() *progress.Tracker {
	return c.progressTracker
}

// StartServer serves /metrics on addr until ctx is done
func (c *Collector) StartServer(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
