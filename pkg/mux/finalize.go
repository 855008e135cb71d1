// SPDX-License-Identifier: GPL-2.0-or-later

package mux

import (
	"fmt"

	"mp4kit/pkg/log"
	"mp4kit/pkg/mp4"
)

// writeMovie aligns the tracks and writes the movie box.
func (w *MovieWriter) writeMovie() error {
	var tracks []*TrackWriter
	for _, t := range w.tracks {
		if t.sizes.Count() == 0 {
			w.logger.Log(log.Entry{
				Level: log.LevelWarning,
				Src:   "mux",
				Msg:   fmt.Sprintf("track %d: no samples", t.index),
			})
			continue
		}
		tracks = append(tracks, t)
	}
	if len(tracks) == 0 {
		return ErrNoTracks
	}

	earliest := tracks[0].durations.Start()
	for _, t := range tracks[1:] {
		if start := t.durations.Start(); start < earliest {
			earliest = start
		}
	}
	var duration int64
	for _, t := range tracks {
		t.offset = t.durations.Start() - earliest
		if w.cfg.DisableAlignment {
			t.offset = t.durations.Start()
		}
		if t.offset < 0 {
			t.offset = 0
		}
		if end := t.offset + t.durations.Duration(); end > duration {
			duration = end
		}
	}
	if minDuration := int64(w.cfg.MinDuration / 100); duration < minDuration {
		duration = minDuration
	}

	moov, err := mp4.NewAtom(w.sink, mp4.TypeMoov)
	if err != nil {
		return fmt.Errorf("write moov: %w", err)
	}
	movieDuration := uint64(mp4.ToScale(duration, movieTimescale))
	mvhd := &mp4.Mvhd{
		FullBox:     mp4.FullBox{Version: mp4.VersionFor(movieDuration)},
		Timescale:   movieTimescale,
		Duration:    movieDuration,
		Rate:        0x10000,
		Volume:      0x100,
		Matrix:      mp4.UnityMatrix,
		NextTrackID: uint32(len(tracks) + 1),
	}
	if err := moov.WriteBox(mvhd); err != nil {
		return fmt.Errorf("write mvhd: %w", err)
	}

	iods := &mp4.Iods{AudioProfile: mp4.ProfileNone, VisualProfile: mp4.ProfileNone}
	for i, t := range tracks {
		if t.handler.IsAudio() || t.handler.IsVideo() {
			iods.TrackIDs = append(iods.TrackIDs, uint32(i+1))
		}
	}
	if err := moov.WriteBox(iods); err != nil {
		return fmt.Errorf("write iods: %w", err)
	}

	for i, t := range tracks {
		if err := t.writeTrack(moov, uint32(i+1)); err != nil {
			return fmt.Errorf("track %d: %w", t.index, err)
		}
	}
	if w.cfg.Comment != "" {
		if err := moov.WriteBoxes(commentBoxes(w.cfg.Comment)); err != nil {
			return fmt.Errorf("write comment: %w", err)
		}
	}
	if err := moov.Close(); err != nil {
		return fmt.Errorf("close moov: %w", err)
	}

	w.logger.Log(log.Entry{
		Level: log.LevelDebug,
		Src:   "mux",
		Msg:   fmt.Sprintf("wrote %d tracks, duration %dms", len(tracks), movieDuration),
	})
	return nil
}

func commentBoxes(comment string) mp4.Boxes {
	return mp4.Boxes{
		Box: mp4.Container(mp4.TypeUdta),
		Children: []mp4.Boxes{{
			Box: &mp4.Meta{},
			Children: []mp4.Boxes{
				{Box: &mp4.Hdlr{HandlerType: mp4.HandlerMeta}},
				{Box: mp4.Container(mp4.TypeIlst), Children: []mp4.Boxes{{
					Box: mp4.Container(mp4.TypeCmt),
					Children: []mp4.Boxes{{Box: &mp4.Data{
						DataType: mp4.DataTypeUTF8,
						Value:    []byte(comment),
					}}},
				}}},
			},
		}},
	}
}

func (t *TrackWriter) writeTrack(moov *mp4.Atom, id uint32) error {
	mediaDuration := t.durations.MediaDuration()
	offset := uint64(mp4.ToScale(t.offset, movieTimescale))
	edit := uint64(mp4.ToScale(t.durations.Duration(), movieTimescale))
	trackDuration := offset + edit

	trak, err := moov.Child(mp4.TypeTrak)
	if err != nil {
		return err
	}
	tkhd := &mp4.Tkhd{
		FullBox: mp4.FullBox{
			Version: mp4.VersionFor(trackDuration),
			Flags:   mp4.TrackEnabled | mp4.TrackInMovie | mp4.TrackInPreview,
		},
		TrackID:  id,
		Duration: trackDuration,
		Matrix:   mp4.UnityMatrix,
	}
	if t.handler.IsAudio() {
		tkhd.Volume = 0x100
	}
	if t.handler.IsVideo() {
		tkhd.Width = uint32(t.handler.Width()) << 16
		tkhd.Height = uint32(t.handler.Height()) << 16
	}
	if err := trak.WriteBox(tkhd); err != nil {
		return err
	}

	if offset > 0 {
		elst := &mp4.Elst{
			FullBox: mp4.FullBox{Version: mp4.VersionFor(offset, edit)},
			Entries: []mp4.ElstEntry{
				{SegmentDuration: offset, MediaTime: -1, MediaRateInteger: 1},
				{SegmentDuration: edit, MediaTime: 0, MediaRateInteger: 1},
			},
		}
		edts := mp4.Boxes{
			Box:      mp4.Container(mp4.TypeEdts),
			Children: []mp4.Boxes{{Box: elst}},
		}
		if err := trak.WriteBoxes(edts); err != nil {
			return err
		}
	}

	mdia, err := trak.Child(mp4.TypeMdia)
	if err != nil {
		return err
	}
	mdhd := &mp4.Mdhd{
		FullBox:   mp4.FullBox{Version: mp4.VersionFor(mediaDuration)},
		Timescale: t.scale,
		Duration:  mediaDuration,
		Language:  [3]byte{'u', 'n', 'd'},
	}
	if err := mdia.WriteBox(mdhd); err != nil {
		return err
	}
	hdlr := &mp4.Hdlr{
		HandlerType: t.handler.HandlerType(),
		Name:        t.handler.HandlerName(),
	}
	if err := mdia.WriteBox(hdlr); err != nil {
		return err
	}

	minf, err := mdia.Child(mp4.TypeMinf)
	if err != nil {
		return err
	}
	if err := minf.WriteBox(t.handler.MediaHeader()); err != nil {
		return err
	}
	dinf := mp4.Boxes{
		Box: mp4.Container(mp4.TypeDinf),
		Children: []mp4.Boxes{{
			Box: &mp4.Dref{EntryCount: 1},
			Children: []mp4.Boxes{
				{Box: &mp4.URL{FullBox: mp4.FullBox{Flags: mp4.URLSelfContained}}},
			},
		}},
	}
	if err := minf.WriteBoxes(dinf); err != nil {
		return err
	}
	if err := t.writeSampleTable(minf, id); err != nil {
		return err
	}

	for _, a := range []*mp4.Atom{minf, mdia, trak} {
		if err := a.Close(); err != nil {
			return err
		}
	}
	return nil
}

// writeSampleTable writes stbl, the children in the order
// stsd, stts, ctts, stss, stsc, stsz, stco or co64.
func (t *TrackWriter) writeSampleTable(minf *mp4.Atom, id uint32) error {
	stbl, err := minf.Child(mp4.TypeStbl)
	if err != nil {
		return err
	}
	stsd, err := stbl.Child(mp4.TypeStsd)
	if err != nil {
		return err
	}
	if err := stsd.WriteFields(&mp4.Stsd{EntryCount: 1}); err != nil {
		return err
	}
	if err := t.handler.WriteDescriptor(stsd, id, 1, t.scale); err != nil {
		return fmt.Errorf("write sample description: %w", err)
	}
	if err := stsd.Close(); err != nil {
		return err
	}

	if err := t.durations.WriteTable(stbl); err != nil {
		return err
	}
	if stss := t.syncs.Box(); stss != nil {
		if err := stbl.WriteBox(stss); err != nil {
			return err
		}
	}
	if err := stbl.WriteBox(t.chunks.Box()); err != nil {
		return err
	}
	if err := stbl.WriteBox(t.sizes.Box()); err != nil {
		return err
	}
	if err := stbl.WriteBox(t.offsets.Box()); err != nil {
		return err
	}
	return stbl.Close()
}
