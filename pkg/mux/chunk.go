// SPDX-License-Identifier: GPL-2.0-or-later

package mux

import "mp4kit/pkg/mp4"

// MaxChunkBytes is the size limit of a chunk.
const MaxChunkBytes = 400 * 1024

// Sample is one sample accepted by a TrackWriter. Times are
// presentation times in reference time.
type Sample struct {
	Start int64
	Stop  int64
	Sync  bool
	Data  []byte
}

// MediaChunk is a run of samples of one track that is written
// to the media data in one piece.
type MediaChunk struct {
	samples []Sample
	size    int
	start   int64
	end     int64
}

// Len returns the number of samples.
func (c *MediaChunk) Len() int { return len(c.samples) }

// Size returns the payload size before transformation.
func (c *MediaChunk) Size() int { return c.size }

// Start returns the earliest sample start.
func (c *MediaChunk) Start() int64 { return c.start }

// End returns the latest sample stop.
func (c *MediaChunk) End() int64 { return c.end }

// Span returns End minus Start.
func (c *MediaChunk) Span() int64 { return c.end - c.start }

// fits reports if s can be added without exceeding
// the size limit or the duration target.
func (c *MediaChunk) fits(s Sample, target int64) bool {
	if len(c.samples) == 0 {
		return true
	}
	if c.size+len(s.Data) > MaxChunkBytes {
		return false
	}
	start, end := c.start, c.end
	if s.Start < start {
		start = s.Start
	}
	if s.Stop > end {
		end = s.Stop
	}
	return end-start <= target
}

func (c *MediaChunk) add(s Sample) {
	if len(c.samples) == 0 {
		c.start, c.end = s.Start, s.Stop
	}
	if s.Start < c.start {
		c.start = s.Start
	}
	if s.Stop > c.end {
		c.end = s.Stop
	}
	c.samples = append(c.samples, s)
	c.size += len(s.Data)
}

// bitrate returns bits per second, 0 if the chunk has no duration.
func (c *MediaChunk) bitrate() int64 {
	span := c.Span()
	if span <= 0 {
		return 0
	}
	return int64(c.size) * 8 * mp4.Units / span
}
