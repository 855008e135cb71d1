// SPDX-License-Identifier: GPL-2.0-or-later

// Package mux writes MP4 files from elementary streams.
package mux

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"mp4kit/pkg/codec"
	"mp4kit/pkg/log"
	"mp4kit/pkg/mp4"
)

// Errors.
var (
	ErrWrongState = errors.New("track ended")
	ErrClosed     = errors.New("movie closed")
	ErrNoTracks   = errors.New("no tracks with samples")
)

// Limits.
const (
	MaxMdatSize          = 1 << 30
	DefaultMaxInterleave = time.Second
	minInterleave        = mp4.Units / 10
	movieTimescale       = 1000
)

// SampleLogger records written samples for crash recovery.
type SampleLogger interface {
	LogTrack(index int, mt codec.MediaType) error
	LogSample(track int, pos int64, size int, sync bool, start, duration int64) error
}

// Config of a MovieWriter.
type Config struct {
	// Minimum movie duration.
	MinDuration time.Duration

	// Keep the track start times instead of moving the
	// earliest track to zero.
	DisableAlignment bool

	// Upper bound of the interleave target, DefaultMaxInterleave if zero.
	MaxInterleave time.Duration

	// Split size of media data boxes, MaxMdatSize if zero or larger.
	MaxMdatSize int64

	// Optional udta comment.
	Comment string

	// Samples that end before StartTime are dropped if non-zero.
	StartTime int64

	Logger       log.ILogger
	SampleLogger SampleLogger
}

// MovieWriter interleaves the chunks of its tracks into media data
// boxes and writes the movie box on Close.
type MovieWriter struct {
	cfg       Config
	logger    log.ILogger
	sink      mp4.Sink
	sampleLog SampleLogger

	target        atomic.Int64
	bitrateSum    atomic.Int64
	maxInterleave int64
	maxMdat       int64

	mu          sync.Mutex
	tracks      []*TrackWriter
	mdat        *mp4.Atom
	closed      bool
	eosReported bool
	err         error

	// Test hook, called with the movie lock held.
	onChunkWritten func(*TrackWriter, *MediaChunk)
}

// NewMovieWriter writes the file type box and opens the first media data box.
func NewMovieWriter(sink mp4.Sink, cfg Config) (*MovieWriter, error) {
	w := &MovieWriter{
		cfg:           cfg,
		logger:        log.Or(cfg.Logger),
		sink:          sink,
		sampleLog:     cfg.SampleLogger,
		maxInterleave: int64(DefaultMaxInterleave / 100),
		maxMdat:       MaxMdatSize,
	}
	if cfg.MaxInterleave > 0 {
		w.maxInterleave = int64(cfg.MaxInterleave / 100)
	}
	if w.maxInterleave < minInterleave {
		w.maxInterleave = minInterleave
	}
	if cfg.MaxMdatSize > 0 && cfg.MaxMdatSize < MaxMdatSize {
		w.maxMdat = cfg.MaxMdatSize
	}
	w.target.Store(w.maxInterleave)

	ftyp := &mp4.Ftyp{
		MajorBrand:   mp4.StrType("isom"),
		MinorVersion: 0x200,
		CompatibleBrands: []mp4.BoxType{
			mp4.StrType("isom"),
			mp4.StrType("iso2"),
			mp4.StrType("avc1"),
			mp4.StrType("mp41"),
		},
	}
	buf, err := mp4.Marshal(ftyp)
	if err != nil {
		return nil, fmt.Errorf("marshal ftyp: %w", err)
	}
	if err := sink.Append(buf); err != nil {
		return nil, fmt.Errorf("write ftyp: %w", err)
	}
	if w.mdat, err = mp4.NewAtom(sink, mp4.TypeMdat); err != nil {
		return nil, fmt.Errorf("write mdat: %w", err)
	}
	return w, nil
}

// MakeTrack adds a track. Returns codec.ErrUnsupported if the
// media type has no handler.
func (w *MovieWriter) MakeTrack(mt codec.MediaType) (*TrackWriter, error) {
	h, err := codec.NewHandler(mt)
	if err != nil {
		return nil, fmt.Errorf("make track: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, ErrClosed
	}
	t := &TrackWriter{
		movie:     w,
		index:     len(w.tracks),
		handler:   h,
		scale:     h.Timescale(),
		durations: NewDurationIndex(h.Timescale()),
	}
	w.tracks = append(w.tracks, t)
	w.logger.Log(log.Entry{
		Level: log.LevelDebug,
		Src:   "mux",
		Msg:   fmt.Sprintf("track %d: %v", t.index, mt),
	})
	return t, nil
}

// InterleaveTarget returns the current chunk duration target in
// reference time.
func (w *MovieWriter) InterleaveTarget() int64 { return w.target.Load() }

// retune adjusts the interleave target to the sum of the highest
// chunk bitrate of every track, the combined data of one target
// duration should fit in one chunk.
func (w *MovieWriter) retune(delta int64) {
	sum := w.bitrateSum.Add(delta)
	target := w.maxInterleave
	if sum > 0 {
		if t := mp4.Units * MaxChunkBytes * 8 / sum; t < target {
			target = t
		}
	}
	if target < minInterleave {
		target = minInterleave
	}
	w.target.Store(target)
}

// CheckQueues writes every chunk that can be written without
// exceeding the interleave target.
func (w *MovieWriter) CheckQueues() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	return w.checkQueues(false)
}

func (w *MovieWriter) checkQueues(drain bool) error {
	if w.err != nil {
		return w.err
	}
	for {
		t := w.nextTrack(drain)
		if t == nil {
			return nil
		}
		if err := t.writeHead(); err != nil {
			w.err = err
			return err
		}
	}
}

// nextTrack returns the track with the earliest queued chunk, nil
// if nothing is queued or writing it would move that track too far
// ahead of a track that is still filling its first chunk.
func (w *MovieWriter) nextTrack(drain bool) *TrackWriter {
	var next *TrackWriter
	var head *MediaChunk
	var anyEnded, anyWaiting, unknown bool
	var behind int64
	for _, t := range w.tracks {
		t.mu.Lock()
		switch {
		case len(t.queue) > 0:
			if next == nil || t.queue[0].Start() < head.Start() {
				next, head = t, t.queue[0]
			}
		case t.eos || t.stopped:
		default:
			switch {
			case !t.written:
				unknown = true
			case !anyWaiting || t.lastEnd < behind:
				behind = t.lastEnd
			}
			anyWaiting = true
		}
		if t.eos || t.stopped {
			anyEnded = true
		}
		t.mu.Unlock()
	}
	if next == nil {
		return nil
	}
	if drain || anyEnded || !anyWaiting {
		return next
	}
	if unknown || head.End()-behind > w.InterleaveTarget() {
		return nil
	}
	return next
}

func (w *MovieWriter) reportDrained() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.eosReported {
		return false
	}
	for _, t := range w.tracks {
		if !t.drained() {
			return false
		}
	}
	w.eosReported = true
	return true
}

// mdatFor returns the media data box to append size bytes to, a new
// box is started if the current one would grow past the limit.
func (w *MovieWriter) mdatFor(size int) (*mp4.Atom, error) {
	if w.mdat.Length() > 8 && w.mdat.Length()+int64(size) > w.maxMdat {
		if err := w.mdat.Close(); err != nil {
			return nil, fmt.Errorf("close mdat: %w", err)
		}
		mdat, err := mp4.NewAtom(w.sink, mp4.TypeMdat)
		if err != nil {
			return nil, fmt.Errorf("write mdat: %w", err)
		}
		w.mdat = mdat
	}
	return w.mdat, nil
}

type flusher interface {
	Flush() error
}

// Close writes queued samples and the movie box. Returns
// ErrNoTracks if no track has samples.
func (w *MovieWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	w.closed = true

	for _, t := range w.tracks {
		t.mu.Lock()
		t.eos = true
		t.closeChunk()
		t.mu.Unlock()
	}
	if err := w.checkQueues(true); err != nil {
		return err
	}
	if err := w.mdat.Close(); err != nil {
		return fmt.Errorf("close mdat: %w", err)
	}
	if err := w.writeMovie(); err != nil {
		return err
	}
	if f, ok := w.sink.(flusher); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("flush: %w", err)
		}
	}
	return nil
}
