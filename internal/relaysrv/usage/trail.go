package usage

import (
	"fmt"
	"os"
	"sync"

	jsonitor "github.com/json-iterator/go"
)

var json = jsonitor.ConfigCompatibleWithStandardLibrary

// Record is a single line in the usage trail.
type Record struct {
	Time       int64  `json:"ts"` // unix milliseconds
	RequestID  string `json:"request_id"`
	Method     string `json:"method"`
	Path       string `json:"path"`
	Status     int    `json:"status"` // 0 when no upstream response was produced
	DurationMS int64  `json:"duration_ms"`
	BytesOut   int64  `json:"bytes_out"`
}

// TrailWriter appends usage records to a JSONL file. Entries are buffered and
// written out every flushInterval records; Close flushes the remainder.
type TrailWriter struct {
	file          *os.File
	path          string
	flushInterval int
	mu            sync.Mutex
	buffer        []Record
	closed        bool
}

// NewTrailWriter opens (or creates) the trail file for appending.
func NewTrailWriter(path string, flushInterval int) (*TrailWriter, error) {
	if flushInterval < 1 {
		flushInterval = 1
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &TrailWriter{
		file:          f,
		path:          path,
		flushInterval: flushInterval,
		buffer:        make([]Record, 0, flushInterval),
	}, nil
}

// AddRecord buffers a record for writing. Returns an error if a triggered
// flush fails.
func (tw *TrailWriter) AddRecord(rec Record) error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if tw.closed {
		return fmt.Errorf("usage trail is closed")
	}

	tw.buffer = append(tw.buffer, rec)
	if len(tw.buffer) >= tw.flushInterval {
		return tw.flushLocked()
	}
	return nil
}

// flushLocked writes buffered records to the trail file.
// Must be called with the mutex locked.
func (tw *TrailWriter) flushLocked() error {
	for _, rec := range tw.buffer {
		b, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal usage record: %w", err)
		}
		if _, err := tw.file.Write(append(b, '\n')); err != nil {
			return fmt.Errorf("failed to write usage record: %w", err)
		}
	}
	tw.buffer = tw.buffer[:0]
	return nil
}

// Flush writes all buffered records to the trail file.
func (tw *TrailWriter) Flush() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.closed {
		return nil
	}
	return tw.flushLocked()
}

// Close flushes remaining records and closes the trail file.
// Safe to call multiple times.
func (tw *TrailWriter) Close() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if tw.closed {
		return nil
	}

	if err := tw.flushLocked(); err != nil {
		return err
	}

	err := tw.file.Close()
	tw.closed = true
	return err
}
