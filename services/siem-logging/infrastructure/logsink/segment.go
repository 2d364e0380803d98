package logsink

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/isectech/security-logging/services/siem-logging/domain/entity"
)

const dayLayout = "2006-01-02"

// Rotation reasons
const (
	RotateDaily = "daily"
	RotateSize  = "size"
)

// segmentWriter owns the active file of one stream. Every method expects the
// caller to hold mu.
type segmentWriter struct {
	mu       sync.Mutex
	stream   entity.Stream
	dir      string
	maxBytes int64
	sync     bool

	file *os.File
	day  string
	size int64
}

func (w *segmentWriter) activePath(day string) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s-%s.log", w.stream, day))
}

// write appends line, rotating first when the day changed or the segment
// would exceed maxBytes. It returns the path of a segment that was rotated
// out, if any.
func (w *segmentWriter) write(line []byte, now time.Time) (rotated, reason string, err error) {
	day := now.UTC().Format(dayLayout)

	if w.file != nil {
		switch {
		case day != w.day:
			reason = RotateDaily
		case w.maxBytes > 0 && w.size > 0 && w.size+int64(len(line)) > w.maxBytes:
			reason = RotateSize
		}
		if reason != "" {
			if rotated, err = w.rotate(); err != nil {
				return "", "", err
			}
		}
	}

	if w.file == nil {
		if err := w.open(day); err != nil {
			return rotated, reason, err
		}
	}

	n, err := w.file.Write(line)
	w.size += int64(n)
	if err != nil {
		return rotated, reason, fmt.Errorf("failed to append to %s segment: %w", w.stream, err)
	}
	if w.sync {
		if err := w.file.Sync(); err != nil {
			return rotated, reason, fmt.Errorf("failed to sync %s segment: %w", w.stream, err)
		}
	}
	return rotated, reason, nil
}

func (w *segmentWriter) open(day string) error {
	if err := os.MkdirAll(w.dir, 0o750); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	f, err := os.OpenFile(w.activePath(day), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("failed to open %s segment: %w", w.stream, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to stat %s segment: %w", w.stream, err)
	}

	w.file = f
	w.day = day
	w.size = info.Size()
	return nil
}

// rotate closes the active segment and renames it to the next free
// sequence number for its day.
func (w *segmentWriter) rotate() (string, error) {
	if w.file == nil {
		return "", nil
	}

	src := w.file.Name()
	if err := w.file.Close(); err != nil {
		return "", fmt.Errorf("failed to close %s segment: %w", w.stream, err)
	}
	w.file = nil
	w.size = 0

	dst := nextSequencePath(w.dir, w.stream, w.day)
	if err := os.Rename(src, dst); err != nil {
		return "", fmt.Errorf("failed to rotate %s segment: %w", w.stream, err)
	}
	return dst, nil
}

func (w *segmentWriter) close() error {
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

func nextSequencePath(dir string, stream entity.Stream, day string) string {
	for seq := 1; ; seq++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s-%s.%d.log", stream, day, seq))
		if !exists(candidate) && !exists(candidate+CompressedExt) {
			return candidate
		}
	}
}

// staleSegments lists active segments of stream left behind by an earlier
// process for a day other than today
func staleSegments(dir string, stream entity.Stream, today string) []string {
	matches, _ := filepath.Glob(filepath.Join(dir, fmt.Sprintf("%s-*.log", stream)))

	var stale []string
	for _, m := range matches {
		day := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), string(stream)+"-"), ".log")
		if _, err := time.Parse(dayLayout, day); err != nil || day == today {
			continue
		}
		stale = append(stale, m)
	}
	return stale
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
