// SPDX-License-Identifier: GPL-2.0-or-later

package mp4

import (
	"bytes"
	"testing"

	"github.com/icza/bitio"
	"github.com/stretchr/testify/require"
)

type unmarshaler interface {
	ImmutableBox
	Unmarshal([]byte) error
}

func TestBoxTypes(t *testing.T) {
	testCases := []struct {
		name string
		src  ImmutableBox
		bin  []byte
		dst  unmarshaler // Decoded back when set.
	}{
		{
			name: "ftyp",
			src: &Ftyp{
				MajorBrand:       StrType("isom"),
				MinorVersion:     0x200,
				CompatibleBrands: []BoxType{StrType("isom"), StrType("avc1")},
			},
			bin: []byte{
				'i', 's', 'o', 'm', // Major brand.
				0, 0, 2, 0, // Minor version.
				'i', 's', 'o', 'm', // Compatible brand.
				'a', 'v', 'c', '1', // Compatible brand.
			},
		},
		{
			name: "ctts: version 1",
			src: &Ctts{
				FullBox: FullBox{Version: 1},
				Entries: []CttsEntry{
					{SampleCount: 0x01234567, SampleOffset: 0x12345678},
					{SampleCount: 0x89abcdef, SampleOffset: -0x789abcde},
				},
			},
			bin: []byte{
				1,                // Version.
				0x00, 0x00, 0x00, // Flags.
				0x00, 0x00, 0x00, 0x02, // Entry count.
				0x01, 0x23, 0x45, 0x67, // Sample count.
				0x12, 0x34, 0x56, 0x78, // Sample offset.
				0x89, 0xab, 0xcd, 0xef, // Sample count.
				0x87, 0x65, 0x43, 0x22, // Sample offset.
			},
			dst: &Ctts{},
		},
		{
			name: "elst: version 0",
			src: &Elst{
				Entries: []ElstEntry{
					{SegmentDuration: 500, MediaTime: -1, MediaRateInteger: 1},
					{SegmentDuration: 0x1000, MediaTime: 0, MediaRateInteger: 1},
				},
			},
			bin: []byte{
				0,       // Version.
				0, 0, 0, // Flags.
				0, 0, 0, 2, // Entry count.
				0, 0, 0x01, 0xf4, // Segment duration.
				0xff, 0xff, 0xff, 0xff, // Media time.
				0, 1, 0, 0, // Media rate.
				0, 0, 0x10, 0, // Segment duration.
				0, 0, 0, 0, // Media time.
				0, 1, 0, 0, // Media rate.
			},
			dst: &Elst{},
		},
		{
			name: "elst: version 1",
			src: &Elst{
				FullBox: FullBox{Version: 1},
				Entries: []ElstEntry{
					{SegmentDuration: 0x100000000, MediaTime: 2, MediaRateInteger: 1},
				},
			},
			bin: []byte{
				1,       // Version.
				0, 0, 0, // Flags.
				0, 0, 0, 1, // Entry count.
				0, 0, 0, 1, 0, 0, 0, 0, // Segment duration.
				0, 0, 0, 0, 0, 0, 0, 2, // Media time.
				0, 1, 0, 0, // Media rate.
			},
			dst: &Elst{},
		},
		{
			name: "mdhd",
			src: &Mdhd{
				Timescale: 90000,
				Duration:  0x12345678,
				Language:  [3]byte{'u', 'n', 'd'},
			},
			bin: []byte{
				0,       // Version.
				0, 0, 0, // Flags.
				0, 0, 0, 0, // Creation time.
				0, 0, 0, 0, // Modification time.
				0, 0x01, 0x5f, 0x90, // Timescale.
				0x12, 0x34, 0x56, 0x78, // Duration.
				0x55, 0xc4, // Language.
				0, 0, // Pre-defined.
			},
			dst: &Mdhd{},
		},
		{
			name: "hdlr",
			src: &Hdlr{
				HandlerType: HandlerVideo,
				Name:        "VideoHandler",
			},
			bin: []byte{
				0,       // Version.
				0, 0, 0, // Flags.
				0, 0, 0, 0, // Pre-defined.
				'v', 'i', 'd', 'e', // Handler type.
				0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, // Reserved.
				'V', 'i', 'd', 'e', 'o', 'H', 'a', 'n', 'd', 'l', 'e', 'r', 0, // Name.
			},
			dst: &Hdlr{},
		},
		{
			name: "stsz: fixed",
			src:  &Stsz{SampleSize: 4, SampleCount: 1000},
			bin: []byte{
				0,       // Version.
				0, 0, 0, // Flags.
				0, 0, 0, 4, // Sample size.
				0, 0, 0x03, 0xe8, // Sample count.
			},
			dst: &Stsz{},
		},
		{
			name: "stsz: table",
			src:  &Stsz{SampleCount: 2, EntrySizes: []uint32{0x10, 0x20}},
			bin: []byte{
				0,       // Version.
				0, 0, 0, // Flags.
				0, 0, 0, 0, // Sample size.
				0, 0, 0, 2, // Sample count.
				0, 0, 0, 0x10, // Entry size.
				0, 0, 0, 0x20, // Entry size.
			},
			dst: &Stsz{},
		},
		{
			name: "co64",
			src:  &Co64{ChunkOffsets: []uint64{0xffffffff, 0x100000010}},
			bin: []byte{
				0,       // Version.
				0, 0, 0, // Flags.
				0, 0, 0, 2, // Entry count.
				0, 0, 0, 0, 0xff, 0xff, 0xff, 0xff, // Chunk offset.
				0, 0, 0, 0x01, 0, 0, 0, 0x10, // Chunk offset.
			},
			dst: &Co64{},
		},
		{
			name: "stsc",
			src: &Stsc{Entries: []StscEntry{
				{FirstChunk: 1, SamplesPerChunk: 1000, SampleDescriptionIndex: 1},
			}},
			bin: []byte{
				0,       // Version.
				0, 0, 0, // Flags.
				0, 0, 0, 1, // Entry count.
				0, 0, 0, 1, // First chunk.
				0, 0, 0x03, 0xe8, // Samples per chunk.
				0, 0, 0, 1, // Sample description index.
			},
			dst: &Stsc{},
		},
		{
			name: "iods",
			src: &Iods{
				AudioProfile:  0xfe,
				VisualProfile: 0xfe,
				TrackIDs:      []uint32{1, 2},
			},
			bin: []byte{
				0,       // Version.
				0, 0, 0, // Flags.
				0x10,       // MP4_IOD_Tag.
				19,         // Length.
				0x00, 0x4f, // Object descriptor ID, flags.
				0xff, 0xff, 0xfe, 0xfe, 0xff, // Profiles.
				0x0e, 4, 0, 0, 0, 1, // ES_ID_Inc.
				0x0e, 4, 0, 0, 0, 2, // ES_ID_Inc.
			},
		},
		{
			name: "url",
			src:  &URL{FullBox: FullBox{Flags: URLSelfContained}},
			bin: []byte{
				0,       // Version.
				0, 0, 1, // Flags.
			},
		},
		{
			name: "container",
			src:  Container(TypeDinf),
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			w := bitio.NewWriter(buf)
			require.NoError(t, tc.src.Marshal(w))
			require.Equal(t, tc.bin, buf.Bytes())
			require.Equal(t, len(tc.bin), tc.src.Size())

			if tc.dst != nil {
				require.NoError(t, tc.dst.Unmarshal(tc.bin))
				require.Equal(t, tc.src, tc.dst)
			}
		})
	}
}

func TestUnmarshalShort(t *testing.T) {
	require.ErrorIs(t, (&Mvhd{}).Unmarshal([]byte{0, 0, 0}), ErrShortPayload)

	// Entry count larger than the payload.
	require.ErrorIs(t, (&Stts{}).Unmarshal([]byte{
		0, 0, 0, 0,
		0xff, 0xff, 0xff, 0xff,
	}), ErrShortPayload)
}

func TestVersionFor(t *testing.T) {
	require.Equal(t, uint8(0), VersionFor(1, MaxBoxSize))
	require.Equal(t, uint8(1), VersionFor(1, MaxBoxSize+1))
}

func TestVisualSampleEntry(t *testing.T) {
	entry := &VisualSampleEntry{
		SampleEntry:    SampleEntry{Typ: StrType("avc1"), DataReferenceIndex: 1},
		Width:          1920,
		Height:         1080,
		Compressorname: "x",
	}
	buf, err := Marshal(entry)
	require.NoError(t, err)
	require.Len(t, buf, 8+VisualSampleEntrySize)

	var decoded VisualSampleEntry
	decoded.Typ = entry.Typ
	require.NoError(t, decoded.Unmarshal(buf[8:]))
	entry.Depth = 0x18
	require.Equal(t, *entry, decoded)
}

func TestAudioSampleEntry(t *testing.T) {
	entry := &AudioSampleEntry{
		SampleEntry:  SampleEntry{Typ: StrType("sowt"), DataReferenceIndex: 1},
		ChannelCount: 2,
		SampleSize:   16,
		SampleRate:   48000,
	}
	buf, err := Marshal(entry)
	require.NoError(t, err)
	require.Equal(t, []byte{0xbb, 0x80, 0, 0}, buf[len(buf)-4:])

	decoded := AudioSampleEntry{SampleEntry: SampleEntry{Typ: entry.Typ}}
	require.NoError(t, decoded.Unmarshal(buf[8:]))
	require.Equal(t, *entry, decoded)
	require.Equal(t, int64(28), decoded.ChildOffset())
}
