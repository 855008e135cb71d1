// SPDX-License-Identifier: GPL-2.0-or-later

package demux

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"testing"

	"mp4kit/pkg/codec"
	"mp4kit/pkg/mp4"

	"github.com/stretchr/testify/require"
)

type testTrack struct {
	id      uint32
	flags   uint32
	handler mp4.BoxType
	scale   uint32
	entry   mp4.ImmutableBox
	stts    []mp4.SttsEntry
	stss    []uint32
	stsz    mp4.Stsz
	stsc    []mp4.StscEntry
	chunks  []uint32 // Offsets into the mdat payload.
	elst    []mp4.ElstEntry
}

func (tt testTrack) boxes() mp4.Boxes {
	var header mp4.ImmutableBox = &mp4.Smhd{}
	if tt.handler == mp4.HandlerVideo {
		header = &mp4.Vmhd{FullBox: mp4.FullBox{Flags: 1}}
	}
	offsets := make([]uint32, len(tt.chunks))
	for i, off := range tt.chunks {
		offsets[i] = off + 8
	}
	stss := tt.stss

	stbl := mp4.Boxes{
		Box: mp4.Container(mp4.TypeStbl),
		Children: []mp4.Boxes{
			{Box: &mp4.Stsd{EntryCount: 1}, Children: []mp4.Boxes{{Box: tt.entry}}},
			{Box: &mp4.Stts{Entries: tt.stts}},
		},
	}
	if stss != nil {
		stbl.Children = append(stbl.Children, mp4.Boxes{Box: &mp4.Stss{SampleNumbers: stss}})
	}
	stsz := tt.stsz
	stbl.Children = append(stbl.Children,
		mp4.Boxes{Box: &mp4.Stsc{Entries: tt.stsc}},
		mp4.Boxes{Box: &stsz},
		mp4.Boxes{Box: &mp4.Stco{ChunkOffsets: offsets}},
	)

	trak := mp4.Boxes{
		Box: mp4.Container(mp4.TypeTrak),
		Children: []mp4.Boxes{
			{Box: &mp4.Tkhd{FullBox: mp4.FullBox{Flags: tt.flags}, TrackID: tt.id}},
		},
	}
	if tt.elst != nil {
		trak.Children = append(trak.Children, mp4.Boxes{
			Box:      mp4.Container(mp4.TypeEdts),
			Children: []mp4.Boxes{{Box: &mp4.Elst{Entries: tt.elst}}},
		})
	}
	trak.Children = append(trak.Children, mp4.Boxes{
		Box: mp4.Container(mp4.TypeMdia),
		Children: []mp4.Boxes{
			{Box: &mp4.Mdhd{Timescale: tt.scale, Language: [3]byte{'u', 'n', 'd'}}},
			{Box: &mp4.Hdlr{HandlerType: tt.handler}},
			{Box: mp4.Container(mp4.TypeMinf), Children: []mp4.Boxes{
				{Box: header},
				{Box: mp4.Container(mp4.TypeDinf), Children: []mp4.Boxes{
					{Box: &mp4.Dref{EntryCount: 1}, Children: []mp4.Boxes{
						{Box: &mp4.URL{FullBox: mp4.FullBox{Flags: mp4.URLSelfContained}}},
					}},
				}},
				stbl,
			}},
		},
	})
	return trak
}

func buildFile(t *testing.T, payload []byte, comment string, tracks ...testTrack) []byte {
	t.Helper()
	sink := mp4.NewMemorySink()
	mdat, err := mp4.NewAtom(sink, mp4.TypeMdat)
	require.NoError(t, err)
	require.NoError(t, mdat.Append(payload))
	require.NoError(t, mdat.Close())

	moov, err := mp4.NewAtom(sink, mp4.TypeMoov)
	require.NoError(t, err)
	require.NoError(t, moov.WriteBox(&mp4.Mvhd{Timescale: 1000, Rate: 0x10000, Volume: 0x100}))
	for _, tt := range tracks {
		require.NoError(t, moov.WriteBoxes(tt.boxes()))
	}
	if comment != "" {
		require.NoError(t, moov.WriteBoxes(mp4.Boxes{
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
		}))
	}
	require.NoError(t, moov.Close())
	return sink.Bytes()
}

const (
	enabled      = mp4.TrackEnabled | mp4.TrackInMovie
	videoSamples = 10
	audioFrames  = 800
)

func videoSample(i int) []byte { return bytes.Repeat([]byte{byte(i)}, 10+i) }

// testMovie holds a 30 fps M-JPEG track delayed by an empty edit of
// 100ms, 100ms of 8 kHz stereo audio with the legacy sample size of 1
// and a disabled track.
func testMovie(t *testing.T) []byte {
	var payload []byte
	var videoChunks, audioChunks []uint32
	for chunk := 0; chunk < 2; chunk++ {
		videoChunks = append(videoChunks, uint32(len(payload)))
		for i := chunk * 5; i < chunk*5+5; i++ {
			payload = append(payload, videoSample(i)...)
		}
		audioChunks = append(audioChunks, uint32(len(payload)))
		payload = append(payload, bytes.Repeat([]byte{0xa0 + byte(chunk)}, 1600)...)
	}

	sizes := make([]uint32, videoSamples)
	for i := range sizes {
		sizes[i] = uint32(10 + i)
	}
	video := testTrack{
		id:      1,
		flags:   enabled,
		handler: mp4.HandlerVideo,
		scale:   90000,
		entry: &mp4.VisualSampleEntry{
			SampleEntry: mp4.SampleEntry{Typ: codec.TypeJpeg, DataReferenceIndex: 1},
			Width:       64,
			Height:      48,
		},
		stts:   []mp4.SttsEntry{{SampleCount: videoSamples, SampleDelta: 3000}},
		stss:   []uint32{1, 6},
		stsz:   mp4.Stsz{SampleCount: videoSamples, EntrySizes: sizes},
		stsc:   []mp4.StscEntry{{FirstChunk: 1, SamplesPerChunk: 5, SampleDescriptionIndex: 1}},
		chunks: videoChunks,
		elst: []mp4.ElstEntry{
			{SegmentDuration: 100, MediaTime: -1, MediaRateInteger: 1},
			{SegmentDuration: 0, MediaTime: 0, MediaRateInteger: 1},
		},
	}
	audio := testTrack{
		id:      2,
		flags:   enabled,
		handler: mp4.HandlerSound,
		scale:   8000,
		entry: &mp4.AudioSampleEntry{
			SampleEntry:  mp4.SampleEntry{Typ: codec.TypeSowt, DataReferenceIndex: 1},
			ChannelCount: 2,
			SampleSize:   16,
			SampleRate:   8000,
		},
		stts:   []mp4.SttsEntry{{SampleCount: audioFrames, SampleDelta: 1}},
		stsz:   mp4.Stsz{SampleSize: 1, SampleCount: audioFrames},
		stsc:   []mp4.StscEntry{{FirstChunk: 1, SamplesPerChunk: 400, SampleDescriptionIndex: 1}},
		chunks: audioChunks,
	}
	disabled := audio
	disabled.id = 3
	disabled.flags = 0

	return buildFile(t, payload, "hello", video, audio, disabled)
}

func TestNewMovie(t *testing.T) {
	m, err := NewMovie(bytes.NewReader(testMovie(t)), Options{})
	require.NoError(t, err)
	require.Equal(t, uint32(1000), m.Timescale())
	require.Len(t, m.Tracks(), 2)
	require.Equal(t, 1, m.InvalidTracks())
	require.Equal(t, "hello", m.Comment())

	video := m.Tracks()[0]
	require.Equal(t, uint32(1), video.ID())
	require.Equal(t, mp4.HandlerVideo, video.Handler())
	require.Equal(t, "und", video.Language())
	require.Equal(t, codec.KindFourCC, video.MediaType().Kind)
	require.Equal(t, 64, video.MediaType().Width)
	require.Equal(t, videoSamples, video.SampleCount())
	require.Equal(t, int64(mp4.Units/30), video.FrameDuration())
	require.Len(t, video.Formats(), 1)

	const mediaDuration = 10 * mp4.Units / 30
	require.Equal(t, []EditSegment{
		{Duration: mp4.Units / 10, Start: 0, Empty: true},
		{Duration: mediaDuration, Offset: 0, Start: mp4.Units / 10},
	}, video.Edits())
	require.Equal(t, int64(mp4.Units/10+mediaDuration), video.Duration())
	require.Equal(t, video.Duration(), m.Duration())

	info, err := video.SampleInfo(0)
	require.NoError(t, err)
	require.Equal(t, SampleInfo{
		Start:  mp4.Units / 10,
		Stop:   mp4.Units/10 + mp4.FromScale(3000, 90000),
		Sync:   true,
		Offset: 8,
		Size:   10,
	}, info)
	info, err = video.SampleInfo(6)
	require.NoError(t, err)
	require.False(t, info.Sync)
	require.Equal(t, int64(8+60+1600+15), info.Offset)
	_, err = video.SampleInfo(videoSamples)
	require.ErrorIs(t, err, ErrSampleRange)

	buf := make([]byte, 32)
	n, err := video.ReadSample(3, buf)
	require.NoError(t, err)
	require.Equal(t, videoSample(3), buf[:n])
	_, err = video.ReadSample(3, buf[:5])
	require.ErrorIs(t, err, ErrBufferTooSmall)

	// Seven frames after the empty edit snaps back to the sync sample 5.
	require.Equal(t, 5, video.StartSample(mp4.Units/10+7*mp4.Units/30))
	require.Equal(t, 0, video.StartSample(0))

	audio := m.Tracks()[1]
	mt := audio.MediaType()
	require.Equal(t, codec.KindPCM, mt.Kind)
	require.Equal(t, 4, mt.BlockAlign)
	require.True(t, mt.OldIndex)
	require.Equal(t, 4, audio.Sizes().Size(0))
	require.Equal(t, 400, audio.Sizes().ChunkSamples(0))
	require.Nil(t, audio.Edits())
	require.Equal(t, int64(mp4.Units/10), audio.Duration())

	buf = make([]byte, 1600)
	n, err = audio.ReadSamples(400, 400, buf)
	require.NoError(t, err)
	require.Equal(t, bytes.Repeat([]byte{0xa1}, 1600), buf[:n])
	_, err = audio.ReadSamples(399, 2, buf)
	require.ErrorIs(t, err, ErrSampleRange)
}

func TestNewMovieErrors(t *testing.T) {
	t.Run("noMovie", func(t *testing.T) {
		sink := mp4.NewMemorySink()
		mdat, err := mp4.NewAtom(sink, mp4.TypeMdat)
		require.NoError(t, err)
		require.NoError(t, mdat.Close())

		_, err = NewMovie(bytes.NewReader(sink.Bytes()), Options{})
		require.ErrorIs(t, err, ErrNoMovie)
	})
	t.Run("noValidTracks", func(t *testing.T) {
		empty := testTrack{
			id:      1,
			flags:   enabled,
			handler: mp4.HandlerSound,
			scale:   8000,
			entry: &mp4.AudioSampleEntry{
				SampleEntry:  mp4.SampleEntry{Typ: codec.TypeSowt, DataReferenceIndex: 1},
				ChannelCount: 1,
				SampleSize:   16,
				SampleRate:   8000,
			},
			stsz:   mp4.Stsz{SampleSize: 2},
			stsc:   []mp4.StscEntry{{FirstChunk: 1, SamplesPerChunk: 1}},
			chunks: []uint32{0},
		}
		unsupported := empty
		unsupported.entry = &mp4.AudioSampleEntry{
			SampleEntry: mp4.SampleEntry{Typ: mp4.StrType("xxxx"), DataReferenceIndex: 1},
		}
		unsupported.stsz = mp4.Stsz{SampleSize: 2, SampleCount: 1}

		file := buildFile(t, []byte{0, 0}, "", empty, unsupported)
		_, err := NewMovie(bytes.NewReader(file), Options{})
		require.ErrorIs(t, err, ErrNoValidTracks)
	})
}

func TestElstMediaTimeTruncation(t *testing.T) {
	// Two frames of composition delay removed by the edit list.
	var payload []byte
	sizes := make([]uint32, videoSamples)
	for i := range sizes {
		payload = append(payload, videoSample(i)...)
		sizes[i] = uint32(10 + i)
	}
	track := testTrack{
		id:      1,
		flags:   enabled,
		handler: mp4.HandlerVideo,
		scale:   90000,
		entry: &mp4.VisualSampleEntry{
			SampleEntry: mp4.SampleEntry{Typ: codec.TypeJpeg, DataReferenceIndex: 1},
		},
		stts:   []mp4.SttsEntry{{SampleCount: videoSamples, SampleDelta: 3000}},
		stsz:   mp4.Stsz{SampleCount: videoSamples, EntrySizes: sizes},
		stsc:   []mp4.StscEntry{{FirstChunk: 1, SamplesPerChunk: videoSamples}},
		chunks: []uint32{0},
		elst:   []mp4.ElstEntry{{SegmentDuration: 266, MediaTime: 6000, MediaRateInteger: 1}},
	}
	file := buildFile(t, payload, "", track)
	frame := mp4.FromScale(3000, 90000)

	m, err := NewMovie(bytes.NewReader(file), Options{})
	require.NoError(t, err)
	shifted := m.Tracks()[0]
	require.Equal(t, 0, shifted.FirstSample())
	info, err := shifted.SampleInfo(0)
	require.NoError(t, err)
	require.Equal(t, -mp4.FromScale(6000, 90000), info.Start)
	info, err = shifted.SampleInfo(2)
	require.NoError(t, err)
	require.Equal(t, int64(0), info.Start)

	m, err = NewMovie(bytes.NewReader(file), Options{ElstMediaTimeTruncation: true})
	require.NoError(t, err)
	truncated := m.Tracks()[0]
	require.Equal(t, 2, truncated.FirstSample())
	require.Equal(t, 2, truncated.StartSample(0))
	info, err = truncated.SampleInfo(0)
	require.NoError(t, err)
	require.Equal(t, int64(0), info.Start)
	info, err = truncated.SampleInfo(3)
	require.NoError(t, err)
	require.Equal(t, mp4.FromScale(9000, 90000)-mp4.FromScale(6000, 90000), info.Start)
	require.InDelta(t, frame, info.Stop-info.Start, 1)
}

func TestFrameDuration(t *testing.T) {
	cases := map[string]struct {
		delta uint32
		want  int64
	}{
		"ntsc":     {3003, mp4.Units * 1001 / 30000},
		"nearNTSC": {3010, mp4.Units * 1001 / 30000},
		"pal":      {3600, mp4.Units / 25},
		"odd":      {3300, mp4.FromScale(3300*videoSamples, 90000) / videoSamples},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			track := &Track{
				mt:    codec.MediaType{Kind: codec.KindFourCC},
				sizes: &SampleSizes{count: videoSamples, fixedSize: 1},
				times: NewSampleTimes(90000, []mp4.SttsEntry{
					{SampleCount: videoSamples, SampleDelta: tc.delta},
				}, nil, videoSamples),
			}
			require.Equal(t, tc.want, track.FrameDuration())
		})
	}
}

type collector struct {
	mu      sync.Mutex
	samples map[int][]Sample
}

func (c *collector) collect(_ context.Context, s Sample) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.samples == nil {
		c.samples = make(map[int][]Sample)
	}
	s.Data = append([]byte(nil), s.Data...)
	c.samples[s.Track] = append(c.samples[s.Track], s)
	return nil
}

func TestPlay(t *testing.T) {
	m, err := NewMovie(bytes.NewReader(testMovie(t)), Options{})
	require.NoError(t, err)
	frame := mp4.FromScale(3000, 90000)

	t.Run("all", func(t *testing.T) {
		seek := NewSeeking(m)
		require.Equal(t, 0, seek.Selected())

		var c collector
		require.NoError(t, m.Play(context.Background(), seek, c.collect))

		video := c.samples[0]
		require.Len(t, video, videoSamples)
		for i, s := range video {
			require.Equal(t, i, s.Index)
			require.Equal(t, videoSample(i), s.Data)
			require.Equal(t, i == 0 || i == 5, s.Sync)
		}
		require.Equal(t, int64(mp4.Units/10), video[0].Start)
		require.Equal(t, mp4.Units/10+frame, video[0].Stop)

		audio := c.samples[1]
		require.Len(t, audio, 2)
		require.Equal(t, 400, audio[0].Count)
		require.Equal(t, int64(0), audio[0].Start)
		require.Equal(t, int64(mp4.Units/20), audio[0].Stop)
		require.Equal(t, bytes.Repeat([]byte{0xa0}, 1600), audio[0].Data)
		require.Equal(t, bytes.Repeat([]byte{0xa1}, 1600), audio[1].Data)
	})
	t.Run("seek", func(t *testing.T) {
		seek := NewSeeking(m)
		require.NoError(t, seek.SetPositions(mp4.Units/10+5*frame+10, m.Duration()+1000))
		_, stop := seek.Positions()
		require.Equal(t, m.Duration(), stop)

		var c collector
		require.NoError(t, m.Play(context.Background(), seek, c.collect))

		video := c.samples[0]
		require.Len(t, video, 5)
		require.Equal(t, 5, video[0].Index)
		require.Equal(t, int64(0), video[0].Start)
		require.Empty(t, c.samples[1])
	})
	t.Run("rate", func(t *testing.T) {
		seek := NewSeeking(m)
		require.NoError(t, seek.SetRate(2))

		var c collector
		require.NoError(t, m.Play(context.Background(), seek, c.collect))
		require.Equal(t, int64(mp4.Units/20), c.samples[0][0].Start)
		require.Equal(t, int64(mp4.Units/40), c.samples[1][0].Stop)
	})
	t.Run("canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		var c collector
		err := m.Play(ctx, NewSeeking(m), c.collect)
		require.ErrorIs(t, err, context.Canceled)
	})
	t.Run("callbackError", func(t *testing.T) {
		errStop := context.DeadlineExceeded
		var mu sync.Mutex
		var tracks []int
		err := m.Play(context.Background(), NewSeeking(m), func(_ context.Context, s Sample) error {
			mu.Lock()
			defer mu.Unlock()
			tracks = append(tracks, s.Track)
			return errStop
		})
		require.ErrorIs(t, err, errStop)
		sort.Ints(tracks)
		require.NotEmpty(t, tracks)
	})
}

func TestSeeking(t *testing.T) {
	m, err := NewMovie(bytes.NewReader(testMovie(t)), Options{})
	require.NoError(t, err)

	seek := NewSeeking(m)
	require.Equal(t, m.Duration(), seek.Duration())
	require.Equal(t, 1.0, seek.Rate())
	require.Error(t, seek.SetRate(0))
	require.ErrorIs(t, seek.SetPositions(10, 5), ErrInvalidPosition)
	require.ErrorIs(t, seek.SetPositions(-1, 5), ErrInvalidPosition)

	require.Equal(t, 0, seek.Selected())
	require.False(t, seek.SelectSeekingTrack(1))

	seek.DeselectSeekingTrack(1)
	require.Equal(t, 0, seek.Selected())
	seek.DeselectSeekingTrack(0)
	require.Equal(t, -1, seek.Selected())

	require.True(t, seek.SelectSeekingTrack(1))
	require.Equal(t, 1, seek.Selected())
	require.False(t, seek.SelectSeekingTrack(5))
}
