package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		level   string
		want    zapcore.Level
		wantErr bool
	}{
		{level: "debug", want: zapcore.DebugLevel},
		{level: "info", want: zapcore.InfoLevel},
		{level: "warn", want: zapcore.WarnLevel},
		{level: "error", want: zapcore.ErrorLevel},
		{level: "loud", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			log, err := New(tt.level)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, log.Core().Enabled(tt.want))
			if tt.want > zapcore.DebugLevel {
				assert.False(t, log.Core().Enabled(tt.want-1))
			}
		})
	}
}

func TestSink_Redirect(t *testing.T) {
	var first, second bytes.Buffer
	sink := NewSink(&first)
	log, err := NewWithSink("info", sink)
	require.NoError(t, err)

	log.Info("before")
	restore := sink.Redirect(&second)
	log.Info("during", zap.String("key", "images/logo.png"))
	restore()
	log.Info("after")
	log.Debug("hidden")

	assert.Contains(t, first.String(), "before")
	assert.Contains(t, first.String(), "after")
	assert.NotContains(t, first.String(), "during")
	assert.NotContains(t, first.String(), "hidden")
	assert.Contains(t, second.String(), "during")
	assert.Contains(t, second.String(), "images/logo.png")
	assert.NoError(t, sink.Sync())
}
