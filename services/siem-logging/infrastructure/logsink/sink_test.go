package logsink

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"

	"github.com/isectech/security-logging/services/siem-logging/domain/entity"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func newTestSink(t *testing.T, cfg Config, clock *testClock) *Sink {
	t.Helper()
	if cfg.Directory == "" {
		cfg.Directory = t.TempDir()
	}
	s, err := NewSink(cfg, zaptest.NewLogger(t), WithClock(clock.Now))
	require.NoError(t, err)
	return s
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	r, err := OpenSegment(path)
	require.NoError(t, err)
	defer r.Close()

	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.NoError(t, sc.Err())
	return lines
}

func TestAppend_WritesJSONLineAndCommits(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC)}
	s := newTestSink(t, Config{}, clock)

	committed := false
	err := s.Append(context.Background(), entity.StreamSecurity, map[string]string{"action": "LOGIN"}, func() { committed = true })
	require.NoError(t, err)
	assert.True(t, committed)
	require.NoError(t, s.Close())

	lines := readLines(t, filepath.Join(s.Directory(), "security-2026-10-18.log"))
	require.Len(t, lines, 1)
	assert.JSONEq(t, `{"action":"LOGIN"}`, lines[0])
}

func TestAppend_UnknownStream(t *testing.T) {
	s := newTestSink(t, Config{}, &testClock{now: time.Now()})
	assert.Error(t, s.Append(context.Background(), entity.Stream("bogus"), "x", nil))
}

func TestAppend_CancelledContext(t *testing.T) {
	s := newTestSink(t, Config{}, &testClock{now: time.Now()})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Append(ctx, entity.StreamAudit, "x", nil), context.Canceled)
}

func TestAppend_SizeRotationCompressesSegment(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC)}
	s := newTestSink(t, Config{MaxSegmentBytes: 64}, clock)

	for i := 0; i < 6; i++ {
		require.NoError(t, s.Append(context.Background(), entity.StreamAudit, map[string]int{"sequence_number": i}, nil))
	}
	require.NoError(t, s.Close())

	rotated, err := filepath.Glob(filepath.Join(s.Directory(), "audit-2026-10-18.*.log"+CompressedExt))
	require.NoError(t, err)
	require.NotEmpty(t, rotated)

	uncompressed, _ := filepath.Glob(filepath.Join(s.Directory(), "audit-2026-10-18.*.log"))
	assert.Empty(t, uncompressed)

	total := 0
	for _, path := range append(rotated, filepath.Join(s.Directory(), "audit-2026-10-18.log")) {
		total += len(readLines(t, path))
	}
	assert.Equal(t, 6, total)

	first := readLines(t, filepath.Join(s.Directory(), "audit-2026-10-18.1.log"+CompressedExt))
	assert.JSONEq(t, `{"sequence_number":0}`, first[0])

	status := s.Status()
	require.NotNil(t, status.LastRotation)
	assert.Greater(t, status.DiskUsageBytes, int64(0))
}

func TestAppend_DailyRotation(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 10, 17, 23, 59, 0, 0, time.UTC)}
	s := newTestSink(t, Config{}, clock)

	require.NoError(t, s.Append(context.Background(), entity.StreamSecurity, "day one", nil))
	clock.Set(time.Date(2026, 10, 18, 0, 1, 0, 0, time.UTC))
	require.NoError(t, s.Append(context.Background(), entity.StreamSecurity, "day two", nil))
	require.NoError(t, s.Close())

	assert.FileExists(t, filepath.Join(s.Directory(), "security-2026-10-17.1.log"+CompressedExt))
	assert.NoFileExists(t, filepath.Join(s.Directory(), "security-2026-10-17.log"))
	assert.Equal(t, []string{`"day two"`}, readLines(t, filepath.Join(s.Directory(), "security-2026-10-18.log")))
}

func TestRotate_IdleStreamRollsOver(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)}
	s := newTestSink(t, Config{}, clock)

	require.NoError(t, s.Append(context.Background(), entity.StreamAlerts, "alert", nil))
	clock.Set(clock.Now().Add(24 * time.Hour))
	s.Rotate()
	require.NoError(t, s.Close())

	assert.FileExists(t, filepath.Join(s.Directory(), "alerts-2026-10-17.1.log"+CompressedExt))
}

func TestNewSink_RecoversStaleSegments(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, "audit-2026-10-01.log")
	require.NoError(t, os.WriteFile(stale, []byte("{\"old\":true}\n"), 0o640))

	clock := &testClock{now: time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)}
	s := newTestSink(t, Config{Directory: dir}, clock)
	require.NoError(t, s.Close())

	assert.NoFileExists(t, stale)
	assert.Equal(t, []string{`{"old":true}`}, readLines(t, filepath.Join(dir, "audit-2026-10-01.1.log"+CompressedExt)))
}

func TestAppend_FailurePropagates(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	clock := &testClock{now: time.Now()}
	s := newTestSink(t, Config{Directory: dir}, clock)

	// replace the directory by a regular file so the segment cannot be created
	require.NoError(t, os.RemoveAll(dir))
	require.NoError(t, os.WriteFile(dir, []byte("not a directory"), 0o640))

	committed := false
	err := s.Append(context.Background(), entity.StreamSecurity, "x", func() { committed = true })
	require.Error(t, err)
	assert.False(t, committed)
	assert.False(t, s.Status().Operative)
}

func TestNewSink_InvalidDirectory(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o640))

	_, err := NewSink(Config{Directory: filepath.Join(blocker, "logs")}, nil)
	assert.Error(t, err)

	_, err = NewSink(Config{}, nil)
	assert.Error(t, err)
}

func TestAppend_ConcurrentWritersStayLineAligned(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC)}
	s := newTestSink(t, Config{}, clock)

	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// onCommit runs under the stream lock, so no extra locking is needed
			assert.NoError(t, s.Append(context.Background(), entity.StreamSecurity, map[string]int{"n": i}, func() {
				order = append(order, i)
			}))
		}(i)
	}
	wg.Wait()
	require.NoError(t, s.Close())

	lines := readLines(t, filepath.Join(s.Directory(), "security-2026-10-18.log"))
	require.Len(t, lines, 50)
	for idx, line := range lines {
		var rec map[string]int
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		assert.Equal(t, order[idx], rec["n"], fmt.Sprintf("line %d", idx))
	}
}

func TestStreamWriter_FeedsApplicationStream(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC)}
	s := newTestSink(t, Config{}, clock)

	core := zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), s.Writer(entity.StreamApplication), zapcore.InfoLevel)
	logger := zap.New(core)
	logger.Info("service started")
	require.NoError(t, logger.Sync())
	require.NoError(t, s.Close())

	lines := readLines(t, filepath.Join(s.Directory(), "application-2026-10-18.log"))
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "service started")
}
