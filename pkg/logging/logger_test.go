package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger_InvalidLevel(t *testing.T) {
	_, err := NewLogger(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestNewLogger_TeesIntoExtraSyncer(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Level: "info", Format: "json", Output: "stderr", ServiceName: "siem-logging"}, zapcore.AddSync(&buf))
	require.NoError(t, err)

	logger.WithComponent("sink").Info("segment rotated")
	logger.Debug("below level")
	logger.Cleanup()

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "segment rotated", entry["msg"])
	assert.Equal(t, "sink", entry["component"])
	assert.Equal(t, "siem-logging", entry["service"])
	assert.Contains(t, entry, "timestamp")
}

func TestWithContext(t *testing.T) {
	logger := NewNop()
	assert.Same(t, logger, logger.WithContext(context.Background()))

	ctx := context.WithValue(context.Background(), RequestIDKey, "req-1")
	assert.NotSame(t, logger, logger.WithContext(ctx))
}

func TestWithError(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Level: "info", Format: "json", Output: "stderr"}, zapcore.AddSync(&buf))
	require.NoError(t, err)

	logger.WithError(errors.New("disk full")).Error("Failed to persist event")
	logger.Cleanup()

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "disk full", entry["error"])
}
