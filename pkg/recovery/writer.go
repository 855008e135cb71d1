// SPDX-License-Identifier: GPL-2.0-or-later

package recovery

import (
	"fmt"
	"io"
	"os"
	"sync"

	"mp4kit/pkg/codec"
)

// DefaultSyncInterval is the number of records between syncs.
const DefaultSyncInterval = 64

// File is the log output, *os.File satisfies it.
type File interface {
	io.Writer
	Sync() error
}

// Flusher is the primary output, flushed before every
// sync so the log never points past the written data.
type Flusher interface {
	Flush() error
}

// WriterConfig .
type WriterConfig struct {
	SyncInterval int // DefaultSyncInterval if zero.
	Primary      Flusher
}

// Writer appends records to a log. Records are written whole and
// the file is synced every SyncInterval records. Implements
// mux.SampleLogger.
type Writer struct {
	out      File
	primary  Flusher
	interval int

	mu      sync.Mutex
	buf     []byte
	pending int
	closer  io.Closer
	err     error
}

// NewWriter writes the header to out.
func NewWriter(out File, cfg WriterConfig) (*Writer, error) {
	w := &Writer{
		out:      out,
		primary:  cfg.Primary,
		interval: cfg.SyncInterval,
	}
	if w.interval <= 0 {
		w.interval = DefaultSyncInterval
	}
	if _, err := out.Write(marshalHeader()); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	if err := out.Sync(); err != nil {
		return nil, fmt.Errorf("sync: %w", err)
	}
	return w, nil
}

// Create creates the log file at path. Close closes the file.
func Create(path string, cfg WriterConfig) (*Writer, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	w, err := NewWriter(file, cfg)
	if err != nil {
		file.Close()
		return nil, err
	}
	w.closer = file
	return w, nil
}

// LogTrack records the media type of track index.
func (w *Writer) LogTrack(index int, mt codec.MediaType) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = appendTrack(w.buf, index, mt)
	// Synced immediately.
	return w.sync()
}

// LogSample records a sample written at pos in the primary output.
func (w *Writer) LogSample(track int, pos int64, size int, sync bool, start, duration int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = appendSample(w.buf, Record{
		Track:    track,
		Pos:      pos,
		Size:     size,
		Sync:     sync,
		Start:    start,
		Duration: duration,
	})
	w.pending++
	if w.pending < w.interval {
		return nil
	}
	return w.sync()
}

// Sync writes buffered records and syncs the log.
func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sync()
}

func (w *Writer) sync() error {
	if w.err != nil {
		return w.err
	}
	if len(w.buf) == 0 {
		return nil
	}
	if w.primary != nil {
		if err := w.primary.Flush(); err != nil {
			w.err = fmt.Errorf("flush primary: %w", err)
			return w.err
		}
	}
	if _, err := w.out.Write(w.buf); err != nil {
		w.err = fmt.Errorf("write: %w", err)
		return w.err
	}
	if err := w.out.Sync(); err != nil {
		w.err = fmt.Errorf("sync: %w", err)
		return w.err
	}
	w.buf = w.buf[:0]
	w.pending = 0
	return nil
}

// Close syncs the log and closes the file opened by Create.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	err := w.sync()
	if w.closer != nil {
		if err2 := w.closer.Close(); err == nil {
			err = err2
		}
		w.closer = nil
	}
	return err
}
