package worker

import (
	"context"
	"time"

	"ctfix/internal/checkpoint"
	"ctfix/internal/metrics"
	"ctfix/internal/storage"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Processor runs the read-check-remediate cycle for one key at a time
type Processor struct {
	config     Config
	client     storage.Client
	guesser    ContentTypeGuesser
	checkpoint checkpoint.Store
	metrics    *metrics.Collector
	logger     *zap.Logger
}

// NewProcessor creates a processor. checkpointStore may be nil.
func NewProcessor(
	config Config,
	client storage.Client,
	guesser ContentTypeGuesser,
	checkpointStore checkpoint.Store,
	metricsCollector *metrics.Collector,
	logger *zap.Logger,
) *Processor {
	return &Processor{
		config:     config,
		client:     client,
		guesser:    guesser,
		checkpoint: checkpointStore,
		metrics:    metricsCollector,
		logger:     logger,
	}
}

// Process checks one key and rewrites its content type when it is wrong.
// Failures are reported in the Result; Process never panics on store errors.
func (p *Processor) Process(ctx context.Context, key string) Result {
	startTime := time.Now()

	res := p.process(ctx, key)
	res.Key = key
	res.Duration = time.Since(startTime)

	p.record(res)
	return res
}

func (p *Processor) process(ctx context.Context, key string) Result {
	if p.config.Resume && p.alreadyDone(key) {
		p.logger.Debug("Skipping object completed in a previous run", zap.String("key", key))
		return Result{Outcome: OutcomeResumed}
	}

	info, err := p.client.HeadObject(ctx, p.config.Bucket, key)
	if err != nil {
		p.logger.Warn("Could not look up object", zap.String("key", key), zap.Error(err))
		return Result{Outcome: OutcomeLookupFailed, Err: err}
	}

	current := info.ContentType
	expected, ok := p.guesser.Guess(key)
	if !ok {
		p.logger.Warn("Could not guess content type", zap.String("key", key), zap.String("current", current))
		return Result{Outcome: OutcomeUnknownType, Current: current}
	}

	if current == expected {
		if ce := p.logger.Check(p.matchLevel(), "Content type matches expected"); ce != nil {
			ce.Write(zap.String("key", key), zap.String("content_type", current))
		}
		return Result{Outcome: OutcomeMatched, Current: current, Expected: expected}
	}

	if p.config.DryRun {
		p.logger.Info("Content type mismatch, would fix",
			zap.String("key", key),
			zap.String("current", current),
			zap.String("expected", expected),
		)
		return Result{Outcome: OutcomeWouldFix, Current: current, Expected: expected}
	}

	p.logger.Info("Content type mismatch, fixing",
		zap.String("key", key),
		zap.String("current", current),
		zap.String("expected", expected),
	)

	err = p.client.CopyInPlace(ctx, p.config.Bucket, key, storage.CopyOptions{
		PreserveACL: true,
		Metadata:    map[string]string{storage.MetaContentType: expected},
	})
	if err != nil {
		p.logger.Warn("Failed to fix content type", zap.String("key", key), zap.Error(err))
		return Result{Outcome: OutcomeFailed, Current: current, Expected: expected, Err: err}
	}

	return Result{Outcome: OutcomeFixed, Current: current, Expected: expected}
}

// matchLevel raises the "matches" notice to Info in verbose mode
func (p *Processor) matchLevel() zapcore.Level {
	if p.config.Verbose {
		return zapcore.InfoLevel
	}
	return zapcore.DebugLevel
}

func (p *Processor) alreadyDone(key string) bool {
	if p.checkpoint == nil {
		return false
	}

	record, err := p.checkpoint.GetRecord(p.config.Bucket, key)
	if err != nil {
		p.logger.Warn("Failed to read checkpoint", zap.String("key", key), zap.Error(err))
		return false
	}
	return record != nil && record.Status.Done()
}

func (p *Processor) record(res Result) {
	if p.metrics != nil {
		switch res.Outcome {
		case OutcomeMatched:
			p.metrics.IncMatched()
		case OutcomeFixed:
			p.metrics.IncFixed()
		case OutcomeWouldFix:
			p.metrics.IncWouldFix()
		case OutcomeFailed:
			p.metrics.IncFailed()
		default:
			p.metrics.IncSkipped()
		}
		p.metrics.ObserveDuration(res.Duration)
	}

	if p.checkpoint == nil {
		return
	}

	var status checkpoint.Status
	switch res.Outcome {
	case OutcomeMatched:
		status = checkpoint.StatusMatched
	case OutcomeFixed:
		status = checkpoint.StatusFixed
	case OutcomeFailed:
		status = checkpoint.StatusFailed
	case OutcomeLookupFailed, OutcomeUnknownType:
		status = checkpoint.StatusSkipped
	default:
		// dry-run and resumed keys leave the checkpoint untouched
		return
	}

	rec := &checkpoint.Record{
		Bucket:      p.config.Bucket,
		Key:         res.Key,
		Status:      status,
		ContentType: res.Current,
		Expected:    res.Expected,
		RunID:       p.config.RunID,
	}
	if res.Err != nil {
		rec.LastError = res.Err.Error()
	}

	if err := p.checkpoint.SaveRecord(rec); err != nil {
		p.logger.Error("Failed to save checkpoint record",
			zap.String("key", res.Key),
			zap.Error(err))
	}
}
