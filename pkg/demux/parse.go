// SPDX-License-Identifier: GPL-2.0-or-later

package demux

import (
	"fmt"
	"io"

	"mp4kit/pkg/codec"
	"mp4kit/pkg/mp4"
)

type unmarshaler interface {
	Unmarshal(payload []byte) error
}

func parseBox(b *mp4.Box, dst unmarshaler) error {
	payload, err := b.Payload()
	if err != nil {
		return err
	}
	return dst.Unmarshal(payload)
}

// parseChild parses a mandatory child box.
func parseChild(parent *mp4.Box, typ mp4.BoxType, dst unmarshaler) error {
	b := parent.FindChild(typ)
	if b == nil {
		return fmt.Errorf("%w: missing %v", ErrInvalidTrack, typ)
	}
	if err := parseBox(b, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTrack, err)
	}
	return nil
}

func newTrack(trak *mp4.Box, movieScale uint32, src io.ReaderAt, opts Options) (*Track, error) {
	var tkhd mp4.Tkhd
	if err := parseChild(trak, mp4.TypeTkhd, &tkhd); err != nil {
		return nil, err
	}
	if tkhd.Flags&mp4.TrackEnabled == 0 {
		return nil, fmt.Errorf("%w: track %d disabled", ErrInvalidTrack, tkhd.TrackID)
	}

	mdia := trak.FindChild(mp4.TypeMdia)
	if mdia == nil {
		return nil, fmt.Errorf("%w: missing mdia", ErrInvalidTrack)
	}
	var mdhd mp4.Mdhd
	if err := parseChild(mdia, mp4.TypeMdhd, &mdhd); err != nil {
		return nil, err
	}
	if mdhd.Timescale == 0 {
		return nil, fmt.Errorf("%w: zero timescale", ErrInvalidTrack)
	}
	var hdlr mp4.Hdlr
	if err := parseChild(mdia, mp4.TypeHdlr, &hdlr); err != nil {
		return nil, err
	}

	stbl := mdia.FindPath(mp4.TypeMinf, mp4.TypeStbl)
	if stbl == nil {
		return nil, fmt.Errorf("%w: missing stbl", ErrInvalidTrack)
	}
	// The tables are parsed from one read of the whole stbl.
	if _, err := stbl.Buffer(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTrack, err)
	}
	defer stbl.Release()

	mt, err := parseStsd(stbl, hdlr.HandlerType)
	if err != nil {
		return nil, err
	}

	sizes, err := parseSizes(stbl)
	if err != nil {
		return nil, err
	}
	if sizes.Count() == 0 {
		return nil, fmt.Errorf("%w: no samples", ErrInvalidTrack)
	}
	if align := mt.BlockAlign; align > 0 {
		sizes.AdjustFixedSize(align)
	}

	var stts mp4.Stts
	if b := stbl.FindChild(mp4.TypeStts); b != nil {
		if err := parseBox(b, &stts); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTrack, err)
		}
	}
	var ctts mp4.Ctts
	if b := stbl.FindChild(mp4.TypeCtts); b != nil {
		if err := parseBox(b, &ctts); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTrack, err)
		}
	}
	var stss []uint32
	if b := stbl.FindChild(mp4.TypeStss); b != nil {
		var box mp4.Stss
		if err := parseBox(b, &box); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTrack, err)
		}
		stss = box.SampleNumbers
		if stss == nil {
			stss = []uint32{}
		}
	}

	t := &Track{
		id:        tkhd.TrackID,
		timescale: mdhd.Timescale,
		handler:   hdlr.HandlerType,
		language:  string(mdhd.Language[:]),
		mt:        mt,
		sizes:     sizes,
		keys:      NewKeyMap(stss),
		times:     NewSampleTimes(mdhd.Timescale, stts.Entries, ctts.Entries, sizes.Count()),
		truncate:  opts.ElstMediaTimeTruncation,
		src:       src,
	}
	if elst := trak.FindPath(mp4.TypeEdts, mp4.TypeElst); elst != nil {
		var box mp4.Elst
		if err := parseBox(elst, &box); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTrack, err)
		}
		t.edits = editSegments(box.Entries, movieScale, mdhd.Timescale, t.times.Duration())
	}
	if t.mt.IsVideo() {
		t.mt.FrameDuration = t.FrameDuration()
	}
	return t, nil
}

func parseStsd(stbl *mp4.Box, handler mp4.BoxType) (codec.MediaType, error) {
	stsd := stbl.FindChild(mp4.TypeStsd)
	if stsd == nil {
		return codec.MediaType{}, fmt.Errorf("%w: missing stsd", ErrInvalidTrack)
	}
	entries := stsd.Entries(8)
	if len(entries) == 0 {
		return codec.MediaType{}, fmt.Errorf("%w: empty stsd", ErrInvalidTrack)
	}
	mt, err := codec.ParseSampleEntry(entries[0], handler)
	if err != nil {
		return codec.MediaType{}, fmt.Errorf("%w: %w", ErrInvalidTrack, err)
	}
	return mt, nil
}

func parseSizes(stbl *mp4.Box) (*SampleSizes, error) {
	var stsz mp4.Stsz
	if err := parseChild(stbl, mp4.TypeStsz, &stsz); err != nil {
		return nil, err
	}
	var stsc mp4.Stsc
	if err := parseChild(stbl, mp4.TypeStsc, &stsc); err != nil {
		return nil, err
	}

	var offsets []uint64
	if b := stbl.FindChild(mp4.TypeCo64); b != nil {
		var co64 mp4.Co64
		if err := parseBox(b, &co64); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTrack, err)
		}
		offsets = co64.ChunkOffsets
	} else {
		var stco mp4.Stco
		if err := parseChild(stbl, mp4.TypeStco, &stco); err != nil {
			return nil, err
		}
		offsets = make([]uint64, len(stco.ChunkOffsets))
		for i, off := range stco.ChunkOffsets {
			offsets[i] = uint64(off)
		}
	}
	return NewSampleSizes(stsz, stsc, offsets)
}

// editSegments converts elst entries to reference time. A segment
// duration of 0 spans the rest of the media.
func editSegments(entries []mp4.ElstEntry, movieScale, mediaScale uint32, mediaDuration int64) []EditSegment {
	var segs []EditSegment
	var pos int64
	for _, e := range entries {
		seg := EditSegment{
			Duration: mp4.FromScale(int64(e.SegmentDuration), movieScale),
			Start:    pos,
			Empty:    e.MediaTime == -1,
		}
		if !seg.Empty {
			seg.Offset = mp4.FromScale(e.MediaTime, mediaScale)
			if seg.Duration == 0 {
				seg.Duration = mediaDuration - seg.Offset
			}
		}
		segs = append(segs, seg)
		pos += seg.Duration
	}
	return segs
}
