// SPDX-License-Identifier: GPL-2.0-or-later

// Package demux reads the tracks and sample indices of MP4 files.
package demux

import (
	"bytes"
	"errors"
	"fmt"

	"mp4kit/pkg/log"
	"mp4kit/pkg/mp4"
)

// Errors.
var (
	ErrNoMovie        = errors.New("no movie box")
	ErrNoValidTracks  = errors.New("no valid tracks")
	ErrInvalidTrack   = errors.New("invalid track")
	ErrBufferTooSmall = errors.New("buffer too small")
	ErrSampleRange    = errors.New("sample out of range")
)

// Options of NewMovie.
type Options struct {
	// Drop samples before the media time of the first edit
	// instead of presenting them at negative times.
	ElstMediaTimeTruncation bool

	Logger log.ILogger
}

// Movie is a parsed MP4 file.
type Movie struct {
	timescale     uint32
	duration      int64
	tracks        []*Track
	invalidTracks int
	comment       string
}

// NewMovie parses the movie box of src. Tracks that fail to parse
// are logged and counted instead of failing the whole file.
func NewMovie(src mp4.Source, opts Options) (*Movie, error) {
	logger := log.Or(opts.Logger)
	root := mp4.NewRoot(src)

	moov := root.FindChild(mp4.TypeMoov)
	if moov == nil {
		return nil, ErrNoMovie
	}
	var mvhd mp4.Mvhd
	if b := moov.FindChild(mp4.TypeMvhd); b != nil {
		if err := parseBox(b, &mvhd); err != nil {
			return nil, fmt.Errorf("mvhd: %w", err)
		}
	}
	if mvhd.Timescale == 0 {
		mvhd.Timescale = 1000
	}

	m := &Movie{
		timescale: mvhd.Timescale,
		duration:  mp4.FromScale(int64(mvhd.Duration), mvhd.Timescale),
	}
	for _, trak := range moov.Children() {
		if trak.Type() != mp4.TypeTrak {
			continue
		}
		t, err := newTrack(trak, mvhd.Timescale, src, opts)
		if err != nil {
			m.invalidTracks++
			logger.Log(log.Entry{
				Level: log.LevelWarning,
				Src:   "demux",
				Msg:   fmt.Sprintf("skipping track %d: %v", m.invalidTracks+len(m.tracks), err),
			})
			continue
		}
		m.tracks = append(m.tracks, t)
	}
	if len(m.tracks) == 0 {
		return nil, fmt.Errorf("%w: %d invalid", ErrNoValidTracks, m.invalidTracks)
	}

	for _, t := range m.tracks {
		if d := t.Duration(); d > m.duration {
			m.duration = d
		}
	}
	m.comment = parseComment(moov)
	return m, nil
}

// parseComment returns the iTunes style comment, moov/udta/meta/ilst/©cmt/data.
func parseComment(moov *mp4.Box) string {
	meta := moov.FindPath(mp4.TypeUdta, mp4.TypeMeta)
	if meta == nil {
		return ""
	}
	var ilst *mp4.Box
	for _, b := range meta.Entries(4) {
		if b.Type() == mp4.TypeIlst {
			ilst = b
		}
	}
	if ilst == nil {
		// QuickTime meta is not a full box.
		ilst = meta.FindChild(mp4.TypeIlst)
	}
	if ilst == nil {
		return ""
	}
	data := ilst.FindPath(mp4.TypeCmt, mp4.TypeData)
	if data == nil {
		return ""
	}
	var d mp4.Data
	if err := parseBox(data, &d); err != nil {
		return ""
	}
	return string(bytes.TrimRight(d.Value, "\x00"))
}

// Timescale returns the movie timescale.
func (m *Movie) Timescale() uint32 { return m.timescale }

// Duration returns the longest of the movie and track durations.
func (m *Movie) Duration() int64 { return m.duration }

// Tracks returns the valid tracks.
func (m *Movie) Tracks() []*Track { return m.tracks }

// InvalidTracks returns the number of dropped tracks.
func (m *Movie) InvalidTracks() int { return m.invalidTracks }

// Comment returns the comment metadata or an empty string.
func (m *Movie) Comment() string { return m.comment }
