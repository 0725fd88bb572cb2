package utils

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

// ProgressReader wraps an io.Reader and tracks bytes read.
type ProgressReader struct {
	reader      io.Reader
	bytesRead   atomic.Int64
	startTime   time.Time
	updateFunc  func(bytesRead int64, elapsed time.Duration)
	updateEvery int64
}

// NewProgressReader creates a new progress tracking reader. updateFunc is
// called after each Read that crosses an updateEvery boundary, once per Read
// even when that Read crosses several boundaries. A non-positive updateEvery
// means every 10MB.
func NewProgressReader(reader io.Reader, updateEvery int64, updateFunc func(bytesRead int64, elapsed time.Duration)) *ProgressReader {
	if updateEvery <= 0 {
		updateEvery = 10 * 1024 * 1024
	}
	return &ProgressReader{
		reader:      reader,
		startTime:   time.Now(),
		updateFunc:  updateFunc,
		updateEvery: updateEvery,
	}
}

// Read implements io.Reader interface with progress tracking.
func (pr *ProgressReader) Read(p []byte) (n int, err error) {
	n, err = pr.reader.Read(p)
	if n > 0 {
		newTotal := pr.bytesRead.Add(int64(n))

		// Fire when this read crossed an updateEvery boundary
		if pr.updateFunc != nil && (newTotal/pr.updateEvery) > ((newTotal-int64(n))/pr.updateEvery) {
			pr.updateFunc(newTotal, time.Since(pr.startTime))
		}
	}
	return n, err
}

// BytesRead returns the total number of bytes read.
func (pr *ProgressReader) BytesRead() int64 {
	return pr.bytesRead.Load()
}

// ReadAll drains r into memory. Archives are held in memory because every
// replica upload needs the same body and its payload hash.
func ReadAll(r io.Reader, sizeHint int64) ([]byte, error) {
	return DefaultBufferPool.Drain(r, sizeHint)
}

// FormatBytes formats bytes in human-readable format.
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// FormatRate formats transfer rate in human-readable format.
func FormatRate(bytesPerSecond float64) string {
	return fmt.Sprintf("%s/s", FormatBytes(int64(bytesPerSecond)))
}
