package logsink

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/isectech/security-logging/pkg/metrics"
	"github.com/isectech/security-logging/services/siem-logging/domain/entity"
	"github.com/isectech/security-logging/services/siem-logging/domain/repository"
)

// Config configures the on-disk sink
type Config struct {
	Directory       string `yaml:"directory" mapstructure:"directory" validate:"required"`
	MaxSegmentBytes int64  `yaml:"max_segment_bytes" mapstructure:"max_segment_bytes" validate:"gte=0"`
	SyncOnWrite     bool   `yaml:"sync_on_write" mapstructure:"sync_on_write"`
}

// Sink appends JSON lines to one rotating segment per stream
type Sink struct {
	config  Config
	logger  *zap.Logger
	metrics *metrics.Collector
	now     func() time.Time

	writers map[entity.Stream]*segmentWriter

	compressions sync.WaitGroup

	statusMu     sync.RWMutex
	lastRotation *time.Time
	lastErr      error
	closed       bool
}

// Option customises a Sink
type Option func(*Sink)

// WithClock overrides the wall clock used for daily rotation
func WithClock(now func() time.Time) Option {
	return func(s *Sink) { s.now = now }
}

// WithMetrics records rotations and failures
func WithMetrics(m *metrics.Collector) Option {
	return func(s *Sink) { s.metrics = m }
}

// NewSink prepares the log directory and compresses segments left over from
// a previous day
func NewSink(config Config, logger *zap.Logger, opts ...Option) (*Sink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Directory == "" {
		return nil, fmt.Errorf("log directory is required")
	}
	if err := os.MkdirAll(config.Directory, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	s := &Sink{
		config:  config,
		logger:  logger,
		now:     time.Now,
		writers: make(map[entity.Stream]*segmentWriter, len(entity.AllStreams)),
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, stream := range entity.AllStreams {
		s.writers[stream] = &segmentWriter{
			stream:   stream,
			dir:      config.Directory,
			maxBytes: config.MaxSegmentBytes,
			sync:     config.SyncOnWrite,
		}
	}

	s.recoverStale()
	return s, nil
}

var _ repository.LogSink = (*Sink)(nil)

// Append durably writes record as one JSON line. onCommit, when set, runs
// after the write succeeded and before the stream lock is released, so
// callbacks observe records in write order.
func (s *Sink) Append(ctx context.Context, stream entity.Stream, record interface{}, onCommit func()) error {
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	return s.appendLine(ctx, stream, append(line, '\n'), onCommit)
}

func (s *Sink) appendLine(ctx context.Context, stream entity.Stream, line []byte, onCommit func()) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	w, ok := s.writers[stream]
	if !ok {
		return fmt.Errorf("unknown stream %q", stream)
	}

	w.mu.Lock()
	if s.isClosed() {
		w.mu.Unlock()
		return fmt.Errorf("log sink is closed")
	}

	rotated, reason, err := w.write(line, s.now())
	s.recordResult(err)
	if err == nil && onCommit != nil {
		onCommit()
	}
	w.mu.Unlock()

	// logged outside the lock, the application stream may be fed by the
	// same logger
	if rotated != "" {
		s.afterRotation(stream, rotated, reason)
	}
	if err != nil {
		s.metrics.RecordDurableFailure(string(stream))
		return err
	}
	return nil
}

// Rotate forces rotation of every stream whose day has changed. It is run
// on a ticker so idle streams still roll over at midnight.
func (s *Sink) Rotate() {
	today := s.now().UTC().Format(dayLayout)
	for stream, w := range s.writers {
		w.mu.Lock()
		var rotated string
		var err error
		if w.file != nil && w.day != today {
			rotated, err = w.rotate()
		}
		w.mu.Unlock()

		if err != nil {
			s.logger.Error("Failed to rotate segment", zap.String("stream", string(stream)), zap.Error(err))
		} else if rotated != "" {
			s.afterRotation(stream, rotated, RotateDaily)
		}
	}
}

// Writer exposes a stream as an io.Writer for the zap application core
func (s *Sink) Writer(stream entity.Stream) *StreamWriter {
	return &StreamWriter{sink: s, stream: stream}
}

// Status reports the sink state for the health check
func (s *Sink) Status() repository.SinkStatus {
	s.statusMu.RLock()
	status := repository.SinkStatus{
		Operative: s.lastErr == nil && !s.closed,
	}
	if s.lastRotation != nil {
		t := *s.lastRotation
		status.LastRotation = &t
	}
	s.statusMu.RUnlock()

	if status.Operative {
		status.Operative = dirWritable(s.config.Directory)
	}
	status.DiskUsageBytes = diskUsage(s.config.Directory)
	return status
}

// Directory returns the log directory
func (s *Sink) Directory() string {
	return s.config.Directory
}

// Close closes every segment and waits for pending compressions
func (s *Sink) Close() error {
	s.statusMu.Lock()
	s.closed = true
	s.statusMu.Unlock()

	var firstErr error
	for _, w := range s.writers {
		w.mu.Lock()
		if err := w.close(); err != nil && firstErr == nil {
			firstErr = err
		}
		w.mu.Unlock()
	}

	s.compressions.Wait()
	return firstErr
}

func (s *Sink) afterRotation(stream entity.Stream, rotated, reason string) {
	now := s.now().UTC()
	s.statusMu.Lock()
	s.lastRotation = &now
	s.statusMu.Unlock()

	s.metrics.RecordRotation(string(stream), reason)
	s.logger.Info("Log segment rotated",
		zap.String("stream", string(stream)),
		zap.String("segment", filepath.Base(rotated)),
		zap.String("reason", reason))

	s.compress(rotated)
}

func (s *Sink) compress(path string) {
	s.compressions.Add(1)
	go func() {
		defer s.compressions.Done()
		if _, err := compressFile(path); err != nil {
			s.logger.Error("Failed to compress rotated segment", zap.String("segment", path), zap.Error(err))
		}
	}()
}

func (s *Sink) recoverStale() {
	today := s.now().UTC().Format(dayLayout)
	for _, stream := range entity.AllStreams {
		for _, path := range staleSegments(s.config.Directory, stream, today) {
			day := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(path), string(stream)+"-"), ".log")
			dst := nextSequencePath(s.config.Directory, stream, day)
			if err := os.Rename(path, dst); err != nil {
				s.logger.Error("Failed to rotate stale segment", zap.String("segment", path), zap.Error(err))
				continue
			}
			s.compress(dst)
		}
	}
}

func (s *Sink) recordResult(err error) {
	s.statusMu.Lock()
	s.lastErr = err
	s.statusMu.Unlock()
}

func (s *Sink) isClosed() bool {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.closed
}

// StreamWriter adapts one stream to zapcore.WriteSyncer
type StreamWriter struct {
	sink   *Sink
	stream entity.Stream
}

// Write appends p, which zap always terminates with a newline
func (w *StreamWriter) Write(p []byte) (int, error) {
	line := make([]byte, len(p))
	copy(line, p)
	if err := w.sink.appendLine(context.Background(), w.stream, line, nil); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Sync flushes the active segment of the stream
func (w *StreamWriter) Sync() error {
	sw := w.sink.writers[w.stream]
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.file == nil {
		return nil
	}
	return sw.file.Sync()
}

func dirWritable(dir string) bool {
	f, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return false
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return true
}

func diskUsage(dir string) int64 {
	var total int64
	_ = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() {
			if info, err := d.Info(); err == nil {
				total += info.Size()
			}
		}
		return nil
	})
	return total
}
