// SPDX-License-Identifier: GPL-2.0-or-later

package mp4

import (
	"bufio"
	"fmt"
	"io"
)

// Sink is the byte sink written boxes funnel into.
type Sink interface {
	// Length returns the total number of bytes in the sink.
	Length() int64

	// Position returns the offset the next Append writes at.
	Position() int64

	// Append writes p at Position.
	Append(p []byte) error

	// Replace overwrites already written bytes at pos.
	Replace(pos int64, p []byte) error
}

// MemorySink is an in-memory Sink.
type MemorySink struct {
	buf []byte
}

// NewMemorySink returns an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Length implements Sink.
func (s *MemorySink) Length() int64 { return int64(len(s.buf)) }

// Position implements Sink.
func (s *MemorySink) Position() int64 { return int64(len(s.buf)) }

// Append implements Sink.
func (s *MemorySink) Append(p []byte) error {
	s.buf = append(s.buf, p...)
	return nil
}

// Replace implements Sink.
func (s *MemorySink) Replace(pos int64, p []byte) error {
	if pos < 0 || pos+int64(len(p)) > int64(len(s.buf)) {
		return fmt.Errorf("replace %d bytes at %d: %w", len(p), pos, ErrOutOfRange)
	}
	copy(s.buf[pos:], p)
	return nil
}

// Bytes returns the written bytes.
func (s *MemorySink) Bytes() []byte { return s.buf }

// WriterAtWriter is a sequential writer that can also patch earlier bytes, like *os.File.
type WriterAtWriter interface {
	io.Writer
	io.WriterAt
}

// FileSink is a buffered Sink on top of a file.
type FileSink struct {
	out  WriterAtWriter
	w    *bufio.Writer
	size int64
}

const fileSinkBufferSize = 1 << 20

// NewFileSink returns a sink appending at the current position of out,
// which must be at offset start.
func NewFileSink(out WriterAtWriter, start int64) *FileSink {
	return &FileSink{
		out:  out,
		w:    bufio.NewWriterSize(out, fileSinkBufferSize),
		size: start,
	}
}

// Length implements Sink.
func (s *FileSink) Length() int64 { return s.size }

// Position implements Sink.
func (s *FileSink) Position() int64 { return s.size }

// Append implements Sink.
func (s *FileSink) Append(p []byte) error {
	n, err := s.w.Write(p)
	s.size += int64(n)
	return err
}

// Replace implements Sink.
func (s *FileSink) Replace(pos int64, p []byte) error {
	if pos < 0 || pos+int64(len(p)) > s.size {
		return fmt.Errorf("replace %d bytes at %d: %w", len(p), pos, ErrOutOfRange)
	}
	// Bytes still in the buffer must reach the file before they are patched.
	if pos+int64(len(p)) > s.size-int64(s.w.Buffered()) {
		if err := s.w.Flush(); err != nil {
			return err
		}
	}
	_, err := s.out.WriteAt(p, pos)
	return err
}

// Flush writes buffered data to the file.
func (s *FileSink) Flush() error {
	return s.w.Flush()
}
