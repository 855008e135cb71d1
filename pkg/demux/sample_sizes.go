// SPDX-License-Identifier: GPL-2.0-or-later

package demux

import (
	"fmt"

	"mp4kit/pkg/mp4"
)

// SampleSizes locates samples within the file.
type SampleSizes struct {
	fixedSize uint32
	sizes     []uint32 // nil when every sample has fixedSize.
	count     int

	stsc    []mp4.StscEntry
	offsets []uint64 // Chunk offsets.
	maxSize uint32
}

// NewSampleSizes validates the tables and returns their index.
func NewSampleSizes(stsz mp4.Stsz, stsc mp4.Stsc, offsets []uint64) (*SampleSizes, error) {
	if len(stsc.Entries) == 0 {
		return nil, fmt.Errorf("%w: empty stsc", ErrInvalidTrack)
	}
	if len(offsets) == 0 {
		return nil, fmt.Errorf("%w: empty chunk offset table", ErrInvalidTrack)
	}
	for i, e := range stsc.Entries {
		if e.FirstChunk == 0 || e.SamplesPerChunk == 0 {
			return nil, fmt.Errorf("%w: stsc entry %d", ErrInvalidTrack, i)
		}
		if i > 0 && e.FirstChunk <= stsc.Entries[i-1].FirstChunk {
			return nil, fmt.Errorf("%w: stsc not ascending at %d", ErrInvalidTrack, i)
		}
	}

	s := &SampleSizes{
		fixedSize: stsz.SampleSize,
		count:     int(stsz.SampleCount),
		stsc:      stsc.Entries,
		offsets:   offsets,
		maxSize:   stsz.SampleSize,
	}
	if stsz.SampleSize == 0 {
		s.sizes = stsz.EntrySizes
		s.count = len(stsz.EntrySizes)
		for _, size := range s.sizes {
			if size > s.maxSize {
				s.maxSize = size
			}
		}
	}
	return s, nil
}

// Count returns the number of samples.
func (s *SampleSizes) Count() int { return s.count }

// Size returns the size of sample n.
func (s *SampleSizes) Size(n int) int {
	if s.sizes == nil {
		return int(s.fixedSize)
	}
	if n < 0 || n >= len(s.sizes) {
		return 0
	}
	return int(s.sizes[n])
}

// Max returns the largest sample size.
func (s *SampleSizes) Max() int { return int(s.maxSize) }

// AdjustFixedSize corrects legacy uncompressed audio that records a
// fixed sample size of 1 while every sample is one block.
// Reports if the sizes changed.
func (s *SampleSizes) AdjustFixedSize(blockAlign int) bool {
	if s.sizes != nil || s.fixedSize != 1 || blockAlign <= 1 {
		return false
	}
	s.fixedSize = uint32(blockAlign)
	s.maxSize = s.fixedSize
	return true
}

// chunkRun returns the chunk holding sample n, its first
// sample and the number of samples in it.
func (s *SampleSizes) chunkRun(n int) (chunk int, first int, samples int, ok bool) {
	if n < 0 || n >= s.count {
		return 0, 0, 0, false
	}
	base := 0
	for i, e := range s.stsc {
		firstChunk := int(e.FirstChunk) - 1
		lastChunk := len(s.offsets)
		if i+1 < len(s.stsc) {
			lastChunk = int(s.stsc[i+1].FirstChunk) - 1
			if lastChunk > len(s.offsets) {
				lastChunk = len(s.offsets)
			}
		}
		if lastChunk <= firstChunk {
			continue
		}
		spc := int(e.SamplesPerChunk)
		runSamples := (lastChunk - firstChunk) * spc
		if n < base+runSamples {
			rel := n - base
			chunk = firstChunk + rel/spc
			return chunk, n - rel%spc, spc, true
		}
		base += runSamples
	}
	return 0, 0, 0, false
}

// Offset returns the absolute file offset of sample n.
func (s *SampleSizes) Offset(n int) (int64, error) {
	chunk, first, _, ok := s.chunkRun(n)
	if !ok {
		return 0, fmt.Errorf("%w: %d of %d", ErrSampleRange, n, s.count)
	}
	off := s.offsets[chunk]
	if s.sizes == nil {
		off += uint64(n-first) * uint64(s.fixedSize)
	} else {
		for i := first; i < n; i++ {
			off += uint64(s.sizes[i])
		}
	}
	return int64(off), nil
}

// ChunkSamples returns the number of samples from n to the end of its chunk.
func (s *SampleSizes) ChunkSamples(n int) int {
	_, first, samples, ok := s.chunkRun(n)
	if !ok {
		return 0
	}
	rest := first + samples - n
	if n+rest > s.count {
		rest = s.count - n
	}
	return rest
}

// RunSize returns the total size of count samples starting at n.
func (s *SampleSizes) RunSize(n, count int) int {
	if s.sizes == nil {
		return count * int(s.fixedSize)
	}
	total := 0
	for i := n; i < n+count && i < len(s.sizes); i++ {
		total += int(s.sizes[i])
	}
	return total
}
