package logger

import (
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Sink is a log destination that can be redirected while the logger is in use
type Sink struct {
	mu  sync.Mutex
	out io.Writer
}

// NewSink creates a sink writing to out
func NewSink(out io.Writer) *Sink {
	return &Sink{out: out}
}

func (s *Sink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.Write(p)
}

func (s *Sink) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if syncer, ok := s.out.(zapcore.WriteSyncer); ok {
		return syncer.Sync()
	}
	return nil
}

// Redirect sends output to w until the returned restore function is called
func (s *Sink) Redirect(w io.Writer) (restore func()) {
	s.mu.Lock()
	prev := s.out
	s.out = w
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		s.out = prev
		s.mu.Unlock()
	}
}

// New creates a zap logger at the given level (debug/info/warn/error) writing to stderr
func New(level string) (*zap.Logger, error) {
	return NewWithSink(level, NewSink(os.Stderr))
}

// NewWithSink creates a zap logger at the given level writing to sink
func NewWithSink(level string, sink *Sink) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), sink, zap.NewAtomicLevelAt(lvl))

	return zap.New(core,
		zap.AddCaller(),
		zap.ErrorOutput(zapcore.Lock(os.Stderr)),
	), nil
}
