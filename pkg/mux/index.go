// SPDX-License-Identifier: GPL-2.0-or-later

package mux

import (
	"math"
	"sort"

	"mp4kit/pkg/mp4"
)

const (
	// Samples buffered before the duration mode is decided.
	lookahead = 10

	// Frame duration at 70 fps, shorter average durations are not trusted.
	minFrameDuration = mp4.Units / 70
)

type span struct {
	start int64
	stop  int64
}

// DurationIndex builds the stts and ctts tables from the presentation
// times of samples delivered in decode order. Decode times are kept
// in reference time and every table entry is the difference of two
// scaled totals, rounding never accumulates.
type DurationIndex struct {
	scale uint32

	window  []span
	decided bool
	ctts    bool
	fixed   bool
	frame   int64 // Constant duration in composition mode, 0 uses stop-start.

	count   int // Processed samples.
	origin  int64
	prev    span
	dts     int64 // Decode time of prev relative to origin.
	minGap  int64
	lastDur int64
	done    bool

	stts     []mp4.SttsEntry
	offsets  []mp4.CttsEntry
	scaled   int64 // Sum of stts deltas.
	negative bool
}

// NewDurationIndex returns an index for the given media timescale.
func NewDurationIndex(scale uint32) *DurationIndex {
	return &DurationIndex{scale: scale, window: make([]span, 0, lookahead)}
}

// Add appends a sample. Must not be mixed with AddFixed.
func (d *DurationIndex) Add(start, stop int64) {
	if d.Count() == 0 {
		d.origin = start
	}
	if !d.decided {
		d.window = append(d.window, span{start, stop})
		if len(d.window) == lookahead {
			d.decide()
		}
		return
	}
	d.process(span{start, stop})
}

// AddFixed appends frames samples of duration 1, legacy audio
// where the timescale is the sample rate.
func (d *DurationIndex) AddFixed(start int64, frames int) {
	if frames <= 0 {
		return
	}
	if d.Count() == 0 {
		d.origin = start
	}
	d.decided, d.fixed = true, true
	if n := len(d.stts); n > 0 && d.stts[n-1].SampleDelta == 1 {
		d.stts[n-1].SampleCount += uint32(frames)
	} else {
		d.stts = append(d.stts, mp4.SttsEntry{SampleCount: uint32(frames), SampleDelta: 1})
	}
	d.count += frames
	d.scaled += int64(frames)
	d.dts = mp4.FromScale(d.scaled, d.scale)
}

// Count returns the number of samples added.
func (d *DurationIndex) Count() int { return d.count + len(d.window) }

// Start returns the presentation start of the first sample.
func (d *DurationIndex) Start() int64 { return d.origin }

// CompositionMode reports if a ctts table is built.
func (d *DurationIndex) CompositionMode() bool { return d.ctts }

// decide picks the mode from the lookahead window and replays it.
func (d *DurationIndex) decide() {
	d.decided = true
	var backward bool
	var durations int64
	starts := make([]int64, len(d.window))
	for i, s := range d.window {
		durations += s.stop - s.start
		starts[i] = s.start
		if i > 0 && s.start < d.window[i-1].start {
			backward = true
		}
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })
	for i := 1; i < len(starts); i++ {
		d.observeGap(starts[i] - starts[i-1])
	}
	n := int64(len(d.window))
	gaps := d.window[n-1].start - d.window[0].start
	avgDur := durations / n
	switch {
	case backward:
		d.ctts = true
	case n > 1 && gaps/(n-1) < minFrameDuration && avgDur >= minFrameDuration:
		// Start times bunch up while the durations look valid.
		d.ctts = true
	}
	if d.ctts && avgDur < minFrameDuration {
		d.frame = d.minGap
	}

	window := d.window
	d.window = nil
	for _, s := range window {
		d.process(s)
	}
}

func (d *DurationIndex) observeGap(gap int64) {
	if gap > minFrameDuration && (d.minGap == 0 || gap < d.minGap) {
		d.minGap = gap
	}
}

func (d *DurationIndex) process(s span) {
	if d.count == 0 {
		d.prev = s
		d.count = 1
		if d.ctts {
			d.addOffset(s)
		}
		return
	}
	gap := s.start - d.prev.start
	d.observeGap(gap)
	if !d.ctts && gap < 0 {
		d.switchToComposition()
	}

	dur := gap
	if d.ctts {
		dur = d.frameDuration(d.prev)
	}
	d.emit(dur)
	d.prev = s
	d.count++
	if d.ctts {
		d.addOffset(s)
	}
}

// switchToComposition starts the ctts table, every earlier sample
// was presented at its decode time.
func (d *DurationIndex) switchToComposition() {
	d.ctts = true
	d.appendOffset(uint32(d.count), 0)
	if d.prev.stop-d.prev.start < minFrameDuration {
		d.frame = d.minGap
	}
}

func (d *DurationIndex) frameDuration(s span) int64 {
	if d.frame > 0 {
		return d.frame
	}
	if dur := s.stop - s.start; dur > 0 {
		return dur
	}
	return d.lastDur
}

func (d *DurationIndex) emit(dur int64) {
	if dur < 0 {
		dur = 0
	}
	if dur > 0 {
		d.lastDur = dur
	}
	d.dts += dur
	scaled := mp4.ToScale(d.dts, d.scale)
	delta := scaled - d.scaled
	d.scaled = scaled

	if n := len(d.stts); n > 0 && int64(d.stts[n-1].SampleDelta) == delta {
		d.stts[n-1].SampleCount++
		return
	}
	d.stts = append(d.stts, mp4.SttsEntry{SampleCount: 1, SampleDelta: uint32(delta)})
}

// addOffset records the composition offset of the sample whose
// decode time was just emitted.
func (d *DurationIndex) addOffset(s span) {
	off := mp4.ToScale(s.start-d.origin, d.scale) - d.scaled
	if off > math.MaxInt32 {
		off = math.MaxInt32
	} else if off < math.MinInt32 {
		off = math.MinInt32
	}
	d.appendOffset(1, int32(off))
}

func (d *DurationIndex) appendOffset(count uint32, off int32) {
	if count == 0 {
		return
	}
	if off < 0 {
		d.negative = true
	}
	if n := len(d.offsets); n > 0 && d.offsets[n-1].SampleOffset == off {
		d.offsets[n-1].SampleCount += count
		return
	}
	d.offsets = append(d.offsets, mp4.CttsEntry{SampleCount: count, SampleOffset: off})
}

// finish emits the duration of the last sample, no samples
// can be added afterwards.
func (d *DurationIndex) finish() {
	if d.done {
		return
	}
	d.done = true
	if !d.decided && len(d.window) > 0 {
		d.decide()
	}
	if d.fixed || d.count == 0 {
		return
	}
	dur := d.prev.stop - d.prev.start
	if d.ctts {
		dur = d.frameDuration(d.prev)
	} else if dur <= 0 {
		dur = d.lastDur
	}
	d.emit(dur)
}

// MediaDuration returns the total duration in the media timescale.
func (d *DurationIndex) MediaDuration() uint64 {
	d.finish()
	return uint64(d.scaled)
}

// Duration returns the total duration in reference time.
func (d *DurationIndex) Duration() int64 {
	d.finish()
	return mp4.FromScale(d.scaled, d.scale)
}

// Stts returns the decode time table.
func (d *DurationIndex) Stts() *mp4.Stts {
	d.finish()
	return &mp4.Stts{Entries: d.stts}
}

// Ctts returns the composition offset table, nil if not needed.
func (d *DurationIndex) Ctts() *mp4.Ctts {
	d.finish()
	if !d.ctts {
		return nil
	}
	ctts := &mp4.Ctts{Entries: d.offsets}
	if d.negative {
		ctts.Version = 1
	}
	return ctts
}

// WriteTable writes stts and ctts.
func (d *DurationIndex) WriteTable(stbl *mp4.Atom) error {
	if err := stbl.WriteBox(d.Stts()); err != nil {
		return err
	}
	if ctts := d.Ctts(); ctts != nil {
		return stbl.WriteBox(ctts)
	}
	return nil
}

// SizeIndex builds the stsz table. One size is kept until a differing
// sample arrives.
type SizeIndex struct {
	fixed uint32
	count uint32
	sizes []uint32
}

// Add appends a sample size.
func (s *SizeIndex) Add(size uint32) {
	if s.sizes == nil {
		if s.count == 0 {
			s.fixed = size
		}
		if size == s.fixed {
			s.count++
			return
		}
		s.sizes = make([]uint32, s.count, 2*s.count+1)
		for i := range s.sizes {
			s.sizes[i] = s.fixed
		}
	}
	s.sizes = append(s.sizes, size)
	s.count++
}

// AddFixed appends count samples of one size.
func (s *SizeIndex) AddFixed(count int, size uint32) {
	if s.sizes == nil && (s.count == 0 || s.fixed == size) {
		s.fixed = size
		s.count += uint32(count)
		return
	}
	for i := 0; i < count; i++ {
		s.Add(size)
	}
}

// Count returns the number of samples.
func (s *SizeIndex) Count() int { return int(s.count) }

// Box returns the stsz box.
func (s *SizeIndex) Box() *mp4.Stsz {
	if s.sizes == nil && (s.fixed > 0 || s.count == 0) {
		return &mp4.Stsz{SampleSize: s.fixed, SampleCount: s.count}
	}
	sizes := s.sizes
	if sizes == nil {
		// Every sample is empty.
		sizes = make([]uint32, s.count)
	}
	return &mp4.Stsz{SampleCount: s.count, EntrySizes: sizes}
}

// SampleToChunkIndex builds the stsc table.
type SampleToChunkIndex struct {
	entries []mp4.StscEntry
	chunks  uint32
}

// Add appends a chunk holding samples samples.
func (s *SampleToChunkIndex) Add(samples int) {
	s.chunks++
	if n := len(s.entries); n > 0 && s.entries[n-1].SamplesPerChunk == uint32(samples) {
		return
	}
	s.entries = append(s.entries, mp4.StscEntry{
		FirstChunk:             s.chunks,
		SamplesPerChunk:        uint32(samples),
		SampleDescriptionIndex: 1,
	})
}

// Chunks returns the number of chunks.
func (s *SampleToChunkIndex) Chunks() int { return int(s.chunks) }

// Box returns the stsc box.
func (s *SampleToChunkIndex) Box() *mp4.Stsc {
	return &mp4.Stsc{Entries: s.entries}
}

// ChunkOffsetIndex builds the chunk offset table. Offsets are kept in
// 32 bits until one does not fit, the co64 table is produced by Box.
type ChunkOffsetIndex struct {
	narrow []uint32
	wide   []uint64
}

// Add appends the absolute offset of a chunk.
func (c *ChunkOffsetIndex) Add(off int64) {
	if len(c.wide) == 0 && off <= math.MaxUint32 {
		c.narrow = append(c.narrow, uint32(off))
		return
	}
	c.wide = append(c.wide, uint64(off))
}

// Count returns the number of chunks.
func (c *ChunkOffsetIndex) Count() int { return len(c.narrow) + len(c.wide) }

// Wide reports if the offsets need a co64 table.
func (c *ChunkOffsetIndex) Wide() bool { return len(c.wide) > 0 }

// Box returns the stco or co64 box.
func (c *ChunkOffsetIndex) Box() mp4.ImmutableBox {
	if len(c.wide) == 0 {
		return &mp4.Stco{ChunkOffsets: c.narrow}
	}
	offsets := make([]uint64, 0, c.Count())
	for _, off := range c.narrow {
		offsets = append(offsets, uint64(off))
	}
	offsets = append(offsets, c.wide...)
	return &mp4.Co64{ChunkOffsets: offsets}
}

// SyncSampleIndex builds the stss table. No table is written
// while every sample is a sync sample.
type SyncSampleIndex struct {
	count    uint32
	explicit bool
	entries  []uint32
}

// Add appends a sample.
func (s *SyncSampleIndex) Add(sync bool) {
	s.count++
	if !sync && !s.explicit {
		s.explicit = true
		s.entries = make([]uint32, s.count-1)
		for i := range s.entries {
			s.entries[i] = uint32(i + 1)
		}
		return
	}
	if sync && s.explicit {
		s.entries = append(s.entries, s.count)
	}
}

// AddFixed appends count sync samples.
func (s *SyncSampleIndex) AddFixed(count int) {
	if !s.explicit {
		s.count += uint32(count)
		return
	}
	for i := 0; i < count; i++ {
		s.Add(true)
	}
}

// Box returns the stss box, nil if every sample is a sync sample.
func (s *SyncSampleIndex) Box() *mp4.Stss {
	if !s.explicit {
		return nil
	}
	return &mp4.Stss{SampleNumbers: s.entries}
}
