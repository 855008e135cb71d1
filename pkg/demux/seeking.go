// SPDX-License-Identifier: GPL-2.0-or-later

package demux

import (
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidPosition start after stop or a non positive rate.
var ErrInvalidPosition = errors.New("invalid position")

// Seeking is the presentation range and rate shared by the streams
// of a movie. One selected track decides where playback starts, the
// requested start is snapped back to its sync sample so that every
// stream starts at the same time. Safe for concurrent use.
type Seeking struct {
	movie *Movie

	mu       sync.Mutex
	selected int // Track index, -1 if none.
	start    int64
	stop     int64
	rate     float64
}

// NewSeeking returns a controller covering the whole movie at rate 1.
// The first video track, or the first track, is selected.
func NewSeeking(m *Movie) *Seeking {
	s := &Seeking{
		movie:    m,
		selected: -1,
		stop:     m.Duration(),
		rate:     1,
	}
	for i, t := range m.tracks {
		if t.mt.IsVideo() {
			s.selected = i
			break
		}
	}
	if s.selected == -1 && len(m.tracks) > 0 {
		s.selected = 0
	}
	return s
}

// Duration returns the movie duration.
func (s *Seeking) Duration() int64 { return s.movie.Duration() }

// Positions returns the requested start and stop times.
func (s *Seeking) Positions() (int64, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.start, s.stop
}

// SetPositions sets the presentation range, stop is clamped to the duration.
func (s *Seeking) SetPositions(start, stop int64) error {
	if stop > s.movie.Duration() {
		stop = s.movie.Duration()
	}
	if start < 0 || start > stop {
		return fmt.Errorf("%w: %d-%d", ErrInvalidPosition, start, stop)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.start, s.stop = start, stop
	return nil
}

// Rate returns the playback rate.
func (s *Seeking) Rate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rate
}

// SetRate sets the playback rate.
func (s *Seeking) SetRate(rate float64) error {
	if rate <= 0 {
		return fmt.Errorf("%w: rate %v", ErrInvalidPosition, rate)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rate = rate
	return nil
}

// SelectSeekingTrack makes track i decide the start position if no
// other track is selected. Reports if i is the selected track.
func (s *Seeking) SelectSeekingTrack(i int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == -1 && i >= 0 && i < len(s.movie.tracks) {
		s.selected = i
	}
	return s.selected == i
}

// DeselectSeekingTrack clears the selection if track i holds it.
func (s *Seeking) DeselectSeekingTrack(i int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == i {
		s.selected = -1
	}
}

// Selected returns the selected track index or -1.
func (s *Seeking) Selected() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// segment is the resolved range of one playback run.
type segment struct {
	start int64
	stop  int64
	rate  float64
}

// resolve snaps the start to the selected track. Must not be
// called while a stream of the selected track is running.
func (s *Seeking) resolve() segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	seg := segment{start: s.start, stop: s.stop, rate: s.rate}
	if s.selected < 0 {
		return seg
	}
	t := s.movie.tracks[s.selected]
	info, err := t.SampleInfo(t.StartSample(s.start))
	if err == nil && info.Start < seg.start {
		seg.start = info.Start
	}
	return seg
}
