// SPDX-License-Identifier: GPL-2.0-or-later

package demux

import (
	"fmt"
	"io"

	"mp4kit/pkg/codec"
	"mp4kit/pkg/mp4"
)

// EditSegment maps a range of media time to presentation time.
type EditSegment struct {
	Duration int64 // Presentation duration.
	Offset   int64 // Media time of the segment start, ignored if Empty.
	Start    int64 // Presentation time of the segment start.
	Empty    bool
}

// SampleInfo describes one sample in presentation time.
type SampleInfo struct {
	Start  int64
	Stop   int64
	Sync   bool
	Offset int64
	Size   int
}

// Track is one elementary stream of a movie. The index state is
// mutated by queries, a track must be used by one goroutine at a time.
type Track struct {
	id        uint32
	timescale uint32
	handler   mp4.BoxType
	language  string
	mt        codec.MediaType

	sizes *SampleSizes
	keys  *KeyMap
	times *SampleTimes
	edits []EditSegment

	truncate bool
	src      io.ReaderAt
}

// ID returns the track ID.
func (t *Track) ID() uint32 { return t.id }

// Timescale returns the media timescale.
func (t *Track) Timescale() uint32 { return t.timescale }

// Handler returns the hdlr handler type.
func (t *Track) Handler() mp4.BoxType { return t.handler }

// Language returns the ISO-639-2/T language code.
func (t *Track) Language() string { return t.language }

// MediaType returns the elementary stream type.
func (t *Track) MediaType() codec.MediaType { return t.mt }

// Formats returns the candidate output formats, the stored format first.
func (t *Track) Formats() []codec.MediaType { return codec.Formats(t.mt) }

// Sizes returns the size and offset index.
func (t *Track) Sizes() *SampleSizes { return t.sizes }

// Keys returns the sync sample index.
func (t *Track) Keys() *KeyMap { return t.keys }

// Times returns the time index.
func (t *Track) Times() *SampleTimes { return t.times }

// Edits returns the edit segments, nil without an edit list.
func (t *Track) Edits() []EditSegment { return t.edits }

// SampleCount returns the number of samples.
func (t *Track) SampleCount() int { return t.sizes.Count() }

// Duration returns the presentation duration.
func (t *Track) Duration() int64 {
	if len(t.edits) > 0 {
		last := t.edits[len(t.edits)-1]
		return last.Start + last.Duration
	}
	return t.times.Duration()
}

// Frame rates an average frame duration snaps to.
var nominalFrameRates = [][2]int64{
	{24000, 1001}, {24, 1}, {25, 1}, {30000, 1001},
	{30, 1}, {50, 1}, {60000, 1001}, {60, 1},
}

// FrameDuration returns the average frame duration of video,
// snapped to a nominal rate when within 0.5%.
func (t *Track) FrameDuration() int64 {
	if t.mt.FrameDuration > 0 {
		return t.mt.FrameDuration
	}
	n := t.SampleCount()
	if n == 0 || !t.mt.IsVideo() {
		return 0
	}
	avg := t.times.Duration() / int64(n)
	best, bestDiff := avg, int64(-1)
	for _, rate := range nominalFrameRates {
		exact := mp4.Units * rate[1] / rate[0]
		diff := avg - exact
		if diff < 0 {
			diff = -diff
		}
		if diff*1000 > exact*5 {
			continue
		}
		if bestDiff == -1 || diff < bestDiff {
			best, bestDiff = exact, diff
		}
	}
	return best
}

// toPresentation maps media time to presentation time.
func (t *Track) toPresentation(media int64) int64 {
	var first *EditSegment
	for i := range t.edits {
		seg := &t.edits[i]
		if seg.Empty {
			continue
		}
		if first == nil {
			first = seg
		}
		if media >= seg.Offset && media < seg.Offset+seg.Duration {
			return seg.Start + media - seg.Offset
		}
	}
	if first == nil {
		return media
	}
	if media < first.Offset && t.truncate {
		return first.Start
	}
	// Before the first or after the last segment, extend the nearest.
	if media < first.Offset {
		return first.Start + media - first.Offset
	}
	last := t.lastMediaSegment()
	return last.Start + media - last.Offset
}

func (t *Track) lastMediaSegment() *EditSegment {
	for i := len(t.edits) - 1; i >= 0; i-- {
		if !t.edits[i].Empty {
			return &t.edits[i]
		}
	}
	return nil
}

// toMedia maps presentation time to media time.
func (t *Track) toMedia(pres int64) int64 {
	for i, seg := range t.edits {
		if pres >= seg.Start+seg.Duration && i+1 < len(t.edits) {
			continue
		}
		if !seg.Empty {
			return seg.Offset + pres - seg.Start
		}
		// A gap starts at the media of the next segment.
		for _, next := range t.edits[i+1:] {
			if !next.Empty {
				return next.Offset
			}
		}
		return 0
	}
	return pres
}

// FirstSample returns the first sample that is presented. Samples
// before the edit list media time are skipped when truncating.
func (t *Track) FirstSample() int {
	first := 0
	seg := firstMediaSegment(t.edits)
	if !t.truncate || seg == nil {
		return first
	}
	for first < t.SampleCount()-1 {
		stop := t.times.SampleToCTS(first) + t.times.SampleDuration(first)
		if stop > seg.Offset {
			break
		}
		first++
	}
	return first
}

func firstMediaSegment(edits []EditSegment) *EditSegment {
	for i := range edits {
		if !edits[i].Empty {
			return &edits[i]
		}
	}
	return nil
}

// StartSample returns the sample to start at to present time pres,
// snapped back to a sync sample.
func (t *Track) StartSample(pres int64) int {
	n := t.times.DTSToSample(t.toMedia(pres))
	n = t.keys.SyncFor(n)
	if first := t.FirstSample(); n < first {
		n = t.keys.SyncFor(first)
	}
	return n
}

// SampleInfo returns the placement and presentation times of sample n.
func (t *Track) SampleInfo(n int) (SampleInfo, error) {
	if n < 0 || n >= t.SampleCount() {
		return SampleInfo{}, fmt.Errorf("%w: %d of %d", ErrSampleRange, n, t.SampleCount())
	}
	off, err := t.sizes.Offset(n)
	if err != nil {
		return SampleInfo{}, err
	}
	cts := t.times.SampleToCTS(n)
	dur := t.times.SampleDuration(n)
	start := t.toPresentation(cts)
	stop := t.toPresentation(cts+dur)
	if stop < start {
		stop = start
	}
	return SampleInfo{
		Start:  start,
		Stop:   stop,
		Sync:   t.keys.IsSync(n),
		Offset: off,
		Size:   t.sizes.Size(n),
	}, nil
}

// ReadSample reads sample n into buf and returns the number of bytes.
func (t *Track) ReadSample(n int, buf []byte) (int, error) {
	return t.ReadSamples(n, 1, buf)
}

// ReadSamples reads count consecutive samples of one chunk into buf.
func (t *Track) ReadSamples(n, count int, buf []byte) (int, error) {
	if count <= 0 || count > t.sizes.ChunkSamples(n) {
		return 0, fmt.Errorf("%w: %d+%d", ErrSampleRange, n, count)
	}
	off, err := t.sizes.Offset(n)
	if err != nil {
		return 0, err
	}
	size := t.sizes.RunSize(n, count)
	if size > len(buf) {
		return 0, fmt.Errorf("%w: need %d, have %d", ErrBufferTooSmall, size, len(buf))
	}
	read, err := t.src.ReadAt(buf[:size], off)
	if err != nil && !(err == io.EOF && read == size) {
		return read, fmt.Errorf("read sample %d: %w", n, err)
	}
	return size, nil
}
