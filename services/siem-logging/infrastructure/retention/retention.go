package retention

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/isectech/security-logging/pkg/metrics"
	"github.com/isectech/security-logging/services/siem-logging/domain/entity"
)

// Policy maps each stream to its retention horizon in days. Files that
// belong to no known stream use DefaultDays.
type Policy struct {
	StreamDays  map[entity.Stream]int
	DefaultDays int
}

// NewPolicy gives the application stream its short retention and every
// other stream the audit retention
func NewPolicy(applicationDays, auditDays int) Policy {
	return Policy{
		StreamDays: map[entity.Stream]int{
			entity.StreamApplication: applicationDays,
			entity.StreamSecurity:    auditDays,
			entity.StreamAudit:       auditDays,
			entity.StreamAlerts:      auditDays,
		},
		DefaultDays: auditDays,
	}
}

// DaysFor returns the horizon applying to a file name
func (p Policy) DaysFor(name string) int {
	for stream, days := range p.StreamDays {
		if strings.HasPrefix(name, string(stream)+"-") {
			return days
		}
	}
	return p.DefaultDays
}

// FileError is a deletion that failed
type FileError struct {
	Path string
	Err  error
}

// SweepResult summarises one pass over the log directory
type SweepResult struct {
	Scanned int
	Deleted []string
	Failed  []FileError
}

// Sweep deletes every regular file in dir whose modification time is older
// than now minus its stream's retention. It never reads the clock. A failed
// deletion is recorded and the sweep continues.
func Sweep(dir string, now time.Time, policy Policy) (SweepResult, error) {
	var result SweepResult

	entries, err := os.ReadDir(dir)
	if err != nil {
		return result, fmt.Errorf("failed to list log directory: %w", err)
	}

	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		result.Scanned++

		days := policy.DaysFor(entry.Name())
		if days <= 0 {
			continue
		}
		horizon := now.AddDate(0, 0, -days)
		if !info.ModTime().Before(horizon) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil {
			result.Failed = append(result.Failed, FileError{Path: path, Err: err})
			continue
		}
		result.Deleted = append(result.Deleted, path)
	}
	return result, nil
}

// Janitor runs Sweep once a day at a fixed UTC hour
type Janitor struct {
	dir     string
	hour    int
	policy  Policy
	logger  *zap.Logger
	metrics *metrics.Collector
	now     func() time.Time
}

// NewJanitor creates a janitor for dir
func NewJanitor(dir string, hour int, policy Policy, logger *zap.Logger, m *metrics.Collector) *Janitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Janitor{
		dir:     dir,
		hour:    hour,
		policy:  policy,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// Run sweeps at every scheduled hour until ctx is done
func (j *Janitor) Run(ctx context.Context) error {
	for {
		wait := NextRun(j.now(), j.hour).Sub(j.now())
		j.logger.Debug("Next retention sweep scheduled", zap.Duration("in", wait))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			j.RunOnce()
		}
	}
}

// RunOnce performs one sweep and logs every deletion
func (j *Janitor) RunOnce() SweepResult {
	start := j.now()
	result, err := Sweep(j.dir, start, j.policy)
	if err != nil {
		j.logger.Error("Retention sweep failed", zap.String("directory", j.dir), zap.Error(err))
		j.metrics.RecordRetention("error")
		return result
	}

	for _, path := range result.Deleted {
		j.logger.Info("Expired log file deleted", zap.String("file", path))
		j.metrics.RecordRetention("deleted")
	}
	for _, failure := range result.Failed {
		j.logger.Error("Failed to delete expired log file",
			zap.String("file", failure.Path),
			zap.Error(failure.Err))
		j.metrics.RecordRetention("failed")
	}

	j.logger.Info("Retention sweep completed",
		zap.Int("scanned", result.Scanned),
		zap.Int("deleted", len(result.Deleted)),
		zap.Int("failed", len(result.Failed)),
		zap.Duration("duration", j.now().Sub(start)))
	return result
}

// NextRun returns the first instant after now at hour:00 UTC
func NextRun(now time.Time, hour int) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
