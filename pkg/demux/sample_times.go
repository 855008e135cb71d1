// SPDX-License-Identifier: GPL-2.0-or-later

package demux

import "mp4kit/pkg/mp4"

// SampleTimes maps between sample indices and media time.
// Forward queries are amortized O(1), a backward query rescans
// from the start. Not safe for concurrent use.
type SampleTimes struct {
	scale uint32
	stts  []mp4.SttsEntry
	ctts  []mp4.CttsEntry
	count int
	total int64 // Track timescale.

	// Decode cursor, the first sample and time of stts[entry].
	entry       int
	entrySample int
	entryTime   int64

	// Composition cursor.
	cttsEntry  int
	cttsSample int
}

// NewSampleTimes returns the time index of count samples.
func NewSampleTimes(scale uint32, stts []mp4.SttsEntry, ctts []mp4.CttsEntry, count int) *SampleTimes {
	t := &SampleTimes{
		scale: scale,
		stts:  stts,
		ctts:  ctts,
		count: count,
	}
	n := 0
	for _, e := range stts {
		c := int(e.SampleCount)
		if n+c > count {
			c = count - n
		}
		t.total += int64(c) * int64(e.SampleDelta)
		n += c
		if n == count {
			break
		}
	}
	return t
}

// Count returns the number of samples.
func (t *SampleTimes) Count() int { return t.count }

// HasCompositionOffsets reports if decode and presentation order differ.
func (t *SampleTimes) HasCompositionOffsets() bool { return len(t.ctts) > 0 }

// Duration returns the total duration in reference time.
func (t *SampleTimes) Duration() int64 { return mp4.FromScale(t.total, t.scale) }

func (t *SampleTimes) resetCursor() {
	t.entry, t.entrySample, t.entryTime = 0, 0, 0
}

// dts returns the decode time of sample n in track units.
func (t *SampleTimes) dts(n int) int64 {
	if n < t.entrySample {
		t.resetCursor()
	}
	for t.entry < len(t.stts) {
		e := t.stts[t.entry]
		if n < t.entrySample+int(e.SampleCount) {
			return t.entryTime + int64(n-t.entrySample)*int64(e.SampleDelta)
		}
		t.entrySample += int(e.SampleCount)
		t.entryTime += int64(e.SampleCount) * int64(e.SampleDelta)
		t.entry++
	}
	// Past the table, continue with the last delta.
	last := int64(0)
	if len(t.stts) > 0 {
		last = int64(t.stts[len(t.stts)-1].SampleDelta)
	}
	return t.entryTime + int64(n-t.entrySample)*last
}

// compositionOffset returns the composition offset of sample n in track units.
func (t *SampleTimes) compositionOffset(n int) int64 {
	if len(t.ctts) == 0 {
		return 0
	}
	if n < t.cttsSample {
		t.cttsEntry, t.cttsSample = 0, 0
	}
	for t.cttsEntry < len(t.ctts) {
		e := t.ctts[t.cttsEntry]
		if n < t.cttsSample+int(e.SampleCount) {
			return int64(e.SampleOffset)
		}
		t.cttsSample += int(e.SampleCount)
		t.cttsEntry++
	}
	return 0
}

// SampleToDTS returns the decode time of sample n.
func (t *SampleTimes) SampleToDTS(n int) int64 {
	return mp4.FromScale(t.dts(n), t.scale)
}

// SampleToCTS returns the composition time of sample n.
func (t *SampleTimes) SampleToCTS(n int) int64 {
	return mp4.FromScale(t.dts(n)+t.compositionOffset(n), t.scale)
}

// SampleDuration returns the duration of sample n.
// The difference of scaled totals keeps rounding from accumulating.
func (t *SampleTimes) SampleDuration(n int) int64 {
	start := t.dts(n)
	var end int64
	if t.entry < len(t.stts) {
		end = start + int64(t.stts[t.entry].SampleDelta)
	} else {
		end = t.dts(n + 1)
	}
	return mp4.FromScale(end, t.scale) - mp4.FromScale(start, t.scale)
}

// DTSToSample returns the sample whose decode interval holds the
// reference time tm. Times past the end clamp to the last sample.
func (t *SampleTimes) DTSToSample(tm int64) int {
	if tm <= 0 || t.count == 0 {
		return 0
	}
	target := mp4.ToScale(tm, t.scale)
	if target >= t.total {
		return t.count - 1
	}
	if target < t.entryTime {
		t.resetCursor()
	}
	for t.entry < len(t.stts) {
		e := t.stts[t.entry]
		span := int64(e.SampleCount) * int64(e.SampleDelta)
		if target < t.entryTime+span && e.SampleCount > 0 {
			n := t.entrySample
			if e.SampleDelta > 0 {
				n += int((target - t.entryTime) / int64(e.SampleDelta))
			}
			// The scaled time may land one tick short of a sample start.
			if n+1 < t.count && mp4.FromScale(t.entryTime+int64(n+1-t.entrySample)*int64(e.SampleDelta), t.scale) <= tm {
				n++
			}
			if n >= t.count {
				n = t.count - 1
			}
			return n
		}
		t.entrySample += int(e.SampleCount)
		t.entryTime += span
		t.entry++
	}
	return t.count - 1
}
