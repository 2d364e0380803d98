package logsink

import (
	"fmt"
	"io"
	"os"

	"github.com/pierrec/lz4/v4"
)

// CompressedExt is appended to rotated segments once compressed
const CompressedExt = ".lz4"

// compressFile writes src to src+CompressedExt and removes src on success
func compressFile(src string) (string, error) {
	dst := src + CompressedExt

	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("failed to open segment: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return "", fmt.Errorf("failed to create compressed segment: %w", err)
	}

	zw := lz4.NewWriter(out)
	if _, err := io.Copy(zw, in); err != nil {
		out.Close()
		os.Remove(dst)
		return "", fmt.Errorf("failed to compress segment: %w", err)
	}
	if err := zw.Close(); err != nil {
		out.Close()
		os.Remove(dst)
		return "", fmt.Errorf("failed to finish compressed segment: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return "", fmt.Errorf("failed to close compressed segment: %w", err)
	}

	in.Close()
	if err := os.Remove(src); err != nil {
		return dst, fmt.Errorf("failed to remove uncompressed segment: %w", err)
	}
	return dst, nil
}

// OpenSegment opens a segment for reading, decompressing rotated segments
func OpenSegment(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if len(path) < len(CompressedExt) || path[len(path)-len(CompressedExt):] != CompressedExt {
		return f, nil
	}
	return struct {
		io.Reader
		io.Closer
	}{lz4.NewReader(f), f}, nil
}
