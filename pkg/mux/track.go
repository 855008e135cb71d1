// SPDX-License-Identifier: GPL-2.0-or-later

package mux

import (
	"fmt"
	"sync"
	"sync/atomic"

	"mp4kit/pkg/codec"
	"mp4kit/pkg/log"
)

// TrackWriter buffers the samples of one track into chunks
// and builds its sample tables. Safe for concurrent use.
type TrackWriter struct {
	movie   *MovieWriter
	index   int
	handler *codec.Handler
	scale   uint32

	mu       sync.Mutex
	queue    []*MediaChunk
	current  *MediaChunk
	eos      bool
	stopped  bool
	needSync bool
	written  bool
	lastEnd  int64

	bitrate atomic.Int64 // Highest chunk bitrate.

	// Guarded by the movie lock.
	logged    bool
	offset    int64 // Edit list start offset.
	durations *DurationIndex
	sizes     SizeIndex
	chunks    SampleToChunkIndex
	offsets   ChunkOffsetIndex
	syncs     SyncSampleIndex
}

// Index returns the position of the track in the movie.
func (t *TrackWriter) Index() int { return t.index }

// Handler returns the codec handler.
func (t *TrackWriter) Handler() *codec.Handler { return t.handler }

// Add queues a sample. Samples must be added in decode order.
// Returns ErrWrongState after OnEOS or Stop.
func (t *TrackWriter) Add(s Sample) error {
	if err := t.add(s); err != nil {
		return err
	}
	return t.movie.CheckQueues()
}

func (t *TrackWriter) add(s Sample) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.eos || t.stopped {
		return fmt.Errorf("track %d: %w", t.index, ErrWrongState)
	}
	if s.Stop < s.Start {
		s.Stop = s.Start
	}

	if start := t.movie.cfg.StartTime; start != 0 && s.Start < start {
		if s.Stop <= start {
			t.needSync = t.handler.IsVideo()
			return nil
		}
		if t.handler.CanTruncate() {
			s.Data, s.Start = t.handler.Truncate(s.Data, s.Start, start)
			if len(s.Data) == 0 {
				return nil
			}
		}
	}
	if t.needSync {
		if !s.Sync {
			return nil
		}
		t.needSync = false
	}

	s.Data = append([]byte(nil), s.Data...)
	if t.current != nil && !t.current.fits(s, t.movie.InterleaveTarget()) {
		t.closeChunk()
	}
	if t.current == nil {
		t.current = &MediaChunk{}
	}
	t.current.add(s)
	if t.current.Span() >= t.movie.InterleaveTarget() || t.current.Size() >= MaxChunkBytes {
		t.closeChunk()
	}
	return nil
}

// closeChunk moves the current chunk to the queue. Caller must hold t.mu.
func (t *TrackWriter) closeChunk() {
	c := t.current
	t.current = nil
	if c == nil || c.Len() == 0 {
		return
	}
	t.queue = append(t.queue, c)
	if br := c.bitrate(); br > t.bitrate.Load() {
		prev := t.bitrate.Swap(br)
		t.movie.retune(br - prev)
	}
}

// OnEOS queues the partial chunk and ends the track. Reports true to
// exactly one caller once every track has ended and been written.
func (t *TrackWriter) OnEOS() (bool, error) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return false, fmt.Errorf("track %d: %w", t.index, ErrWrongState)
	}
	if !t.eos {
		t.eos = true
		t.closeChunk()
	}
	t.mu.Unlock()

	if err := t.movie.CheckQueues(); err != nil {
		return false, err
	}
	return t.movie.reportDrained(), nil
}

// Stop ends the track. If flush is true unwritten samples are
// discarded, otherwise they are written.
func (t *TrackWriter) Stop(flush bool) error {
	t.mu.Lock()
	t.stopped = true
	if flush {
		t.queue = nil
		t.current = nil
	} else {
		t.closeChunk()
	}
	t.mu.Unlock()

	if flush {
		return nil
	}
	return t.movie.CheckQueues()
}

func (t *TrackWriter) drained() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return (t.eos || t.stopped) && len(t.queue) == 0 && t.current == nil
}

type sampleRecord struct {
	pos   int64
	size  int
	start int64
	dur   int64
	sync  bool
}

// writeHead writes the oldest queued chunk. Caller must hold the movie lock.
func (t *TrackWriter) writeHead() error {
	t.mu.Lock()
	if len(t.queue) == 0 {
		t.mu.Unlock()
		return nil
	}
	c := t.queue[0]
	t.queue[0] = nil
	t.queue = t.queue[1:]
	t.mu.Unlock()

	w := t.movie
	mdat, err := w.mdatFor(c.Size())
	if err != nil {
		return err
	}
	pos := mdat.Position()
	align := 0
	if t.handler.IsOldIndexFormat() {
		align = t.handler.BlockAlign()
	}

	samples := 0
	records := make([]sampleRecord, 0, c.Len())
	for _, s := range c.samples {
		data := s.Data
		if align > 0 {
			data = data[:len(data)/align*align]
		}
		at := mdat.Position()
		n, err := t.handler.WriteData(mdat, data)
		if err != nil {
			return fmt.Errorf("track %d: write sample: %w", t.index, err)
		}
		if align > 0 {
			frames := n / align
			if frames == 0 {
				continue
			}
			t.durations.AddFixed(s.Start, frames)
			t.sizes.AddFixed(frames, uint32(align))
			t.syncs.AddFixed(frames)
			samples += frames
		} else {
			t.durations.Add(s.Start, s.Stop)
			t.sizes.Add(uint32(n))
			t.syncs.Add(s.Sync)
			samples++
		}
		records = append(records, sampleRecord{
			pos:   at,
			size:  n,
			start: s.Start,
			dur:   s.Stop - s.Start,
			sync:  s.Sync,
		})
	}
	if samples > 0 {
		t.chunks.Add(samples)
		t.offsets.Add(pos)
	}
	t.logSamples(records)

	t.mu.Lock()
	t.written = true
	t.lastEnd = c.End()
	t.mu.Unlock()

	if w.onChunkWritten != nil {
		w.onChunkWritten(t, c)
	}
	return nil
}

// logSamples records the written samples in the recovery log. The
// track is logged with its first chunk, once the codec configuration
// is known.
func (t *TrackWriter) logSamples(records []sampleRecord) {
	w := t.movie
	if w.sampleLog == nil || len(records) == 0 {
		return
	}
	err := func() error {
		if !t.logged {
			if err := w.sampleLog.LogTrack(t.index, t.handler.StoredType()); err != nil {
				return err
			}
			t.logged = true
		}
		for _, r := range records {
			err := w.sampleLog.LogSample(t.index, r.pos, r.size, r.sync, r.start, r.dur)
			if err != nil {
				return err
			}
		}
		return nil
	}()
	if err != nil {
		w.logger.Log(log.Entry{
			Level: log.LevelError,
			Src:   "mux",
			Msg:   fmt.Sprintf("recovery log disabled: %v", err),
		})
		w.sampleLog = nil
	}
}
