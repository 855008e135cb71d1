// SPDX-License-Identifier: GPL-2.0-or-later

package codec

import (
	"errors"
	"fmt"

	"mp4kit/pkg/mp4"
)

// Sample entry and codec configuration box types.
var (
	TypeAvc1 = mp4.StrType("avc1")
	TypeAvc3 = mp4.StrType("avc3")
	TypeAvcC = mp4.StrType("avcC")
	TypeMp4v = mp4.StrType("mp4v")
	TypeMp4a = mp4.StrType("mp4a")
	TypeMp3  = mp4.StrType(".mp3")
	TypeAC3  = mp4.StrType("ac-3")
	TypeDac3 = mp4.StrType("dac3")
	TypeEAC3 = mp4.StrType("ec-3")
	TypeDec3 = mp4.StrType("dec3")
	TypeSowt = mp4.StrType("sowt")
	TypeTwos = mp4.StrType("twos")
	TypeRaw  = mp4.StrType("raw ")
	TypeIn24 = mp4.StrType("in24")
	TypeIn32 = mp4.StrType("in32")
	TypeLpcm = mp4.StrType("lpcm")
	TypeAlaw = mp4.StrType("alaw")
	TypeUlaw = mp4.StrType("ulaw")
	TypeC608 = mp4.StrType("c608")
	TypeWave = mp4.StrType("wave")
	TypeJpeg = mp4.StrType("jpeg")
	TypeMjpa = mp4.StrType("mjpa")
)

// Timescales of the track media.
const (
	VideoTimescale   = 90000
	CaptionTimescale = 1000
)

// Errors.
var (
	ErrUnsupported = errors.New("unsupported media type")
	ErrInvalid     = errors.New("invalid media type")
)

// Appender is the destination of sample data.
type Appender interface {
	Append(p []byte) error
}

type ops struct {
	handler     mp4.BoxType
	handlerName string

	init       func(*Handler) error
	timescale  func(*Handler) uint32
	descriptor func(h *Handler, stsd *mp4.Atom, trackID uint32, dataRef uint16, timescale uint32) error

	// Optional, payload is written as is when nil.
	write func(h *Handler, dst Appender, payload []byte) (int, error)

	// Optional, the input type is stored when nil.
	stored func(*Handler) MediaType
}

var handlers = [kindCount]ops{
	KindH264: {
		handler:     mp4.HandlerVideo,
		handlerName: "VideoHandler",
		init:        initH264,
		timescale:   videoTimescale,
		descriptor:  writeAVCDescriptor,
		write:       writeH264,
		stored:      storedH264,
	},
	KindH264ByteStream: {
		handler:     mp4.HandlerVideo,
		handlerName: "VideoHandler",
		init:        initH264,
		timescale:   videoTimescale,
		descriptor:  writeAVCDescriptor,
		write:       writeH264ByteStream,
		stored:      storedH264,
	},
	KindMPEG4Video: {
		handler:     mp4.HandlerVideo,
		handlerName: "VideoHandler",
		timescale:   videoTimescale,
		descriptor:  writeMPEGVideoDescriptor,
	},
	KindMPEG2Video: {
		handler:     mp4.HandlerVideo,
		handlerName: "VideoHandler",
		timescale:   videoTimescale,
		descriptor:  writeMPEGVideoDescriptor,
	},
	KindFourCC: {
		handler:     mp4.HandlerVideo,
		handlerName: "VideoHandler",
		init:        initFourCC,
		timescale:   videoTimescale,
		descriptor:  writeFourCCDescriptor,
	},
	KindMPEGAudio: {
		handler:     mp4.HandlerSound,
		handlerName: "SoundHandler",
		init:        initAudio,
		timescale:   audioTimescale,
		descriptor:  writeMPEGAudioDescriptor,
	},
	KindAAC: {
		handler:     mp4.HandlerSound,
		handlerName: "SoundHandler",
		init:        initAAC,
		timescale:   audioTimescale,
		descriptor:  writeAACDescriptor,
		write:       writeAAC,
		stored:      storedAAC,
	},
	KindPCM: {
		handler:     mp4.HandlerSound,
		handlerName: "SoundHandler",
		init:        initPCM,
		timescale:   audioTimescale,
		descriptor:  writePCMDescriptor,
	},
	KindALaw: {
		handler:     mp4.HandlerSound,
		handlerName: "SoundHandler",
		init:        initPCM,
		timescale:   audioTimescale,
		descriptor:  writePCMDescriptor,
	},
	KindMuLaw: {
		handler:     mp4.HandlerSound,
		handlerName: "SoundHandler",
		init:        initPCM,
		timescale:   audioTimescale,
		descriptor:  writePCMDescriptor,
	},
	KindAC3: {
		handler:     mp4.HandlerSound,
		handlerName: "SoundHandler",
		init:        initDolby,
		timescale:   audioTimescale,
		descriptor:  writeDolbyDescriptor,
		write:       writeDolby,
		stored:      storedDolby,
	},
	KindEAC3: {
		handler:     mp4.HandlerSound,
		handlerName: "SoundHandler",
		init:        initDolby,
		timescale:   audioTimescale,
		descriptor:  writeDolbyDescriptor,
		write:       writeDolby,
		stored:      storedDolby,
	},
	KindCEA608: {
		handler:     mp4.HandlerCaption,
		handlerName: "ClosedCaptionHandler",
		timescale:   func(*Handler) uint32 { return CaptionTimescale },
		descriptor:  writeCaptionDescriptor,
	},
}

// Handler writes the sample description and sample data of one track.
// Codec configuration missing from the media type is learned from the
// samples, the description must therefore be written after the data.
type Handler struct {
	mt  MediaType
	ops *ops

	// H.264.
	lengthSize int
	sps        []byte
	pps        []byte
	avcC       []byte

	// AAC AudioSpecificConfig.
	asc []byte

	// dac3 or dec3 payload.
	dolby []byte
}

// NewHandler returns the handler of a media type.
func NewHandler(mt MediaType) (*Handler, error) {
	if mt.Kind >= kindCount || handlers[mt.Kind].descriptor == nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, mt.Kind)
	}
	h := &Handler{mt: mt, ops: &handlers[mt.Kind]}
	if h.ops.init != nil {
		if err := h.ops.init(h); err != nil {
			return nil, fmt.Errorf("%v: %w", mt.Kind, err)
		}
	}
	return h, nil
}

// MediaType returns the input media type.
func (h *Handler) MediaType() MediaType { return h.mt }

// StoredType returns the media type as stored in the file,
// this is what a reader of the file will see.
func (h *Handler) StoredType() MediaType {
	if h.ops.stored != nil {
		return h.ops.stored(h)
	}
	return h.mt
}

// HandlerType returns the hdlr handler type.
func (h *Handler) HandlerType() mp4.BoxType { return h.ops.handler }

// HandlerName returns the hdlr name.
func (h *Handler) HandlerName() string { return h.ops.handlerName }

// MediaHeader returns the media information header, vmhd, smhd or nmhd.
func (h *Handler) MediaHeader() mp4.ImmutableBox {
	switch h.ops.handler {
	case mp4.HandlerVideo:
		return &mp4.Vmhd{FullBox: mp4.FullBox{Flags: 1}}
	case mp4.HandlerSound:
		return &mp4.Smhd{}
	}
	return &mp4.Nmhd{}
}

// Timescale returns the media timescale.
func (h *Handler) Timescale() uint32 { return h.ops.timescale(h) }

// Width of video in pixels.
func (h *Handler) Width() int {
	w, _ := h.dimensions()
	return w
}

// Height of video in pixels.
func (h *Handler) Height() int {
	_, height := h.dimensions()
	return height
}

// FrameDuration returns the nominal frame duration, 0 if unknown.
func (h *Handler) FrameDuration() int64 { return h.mt.FrameDuration }

// IsVideo reports if the stream is video.
func (h *Handler) IsVideo() bool { return h.mt.IsVideo() }

// IsAudio reports if the stream is audio.
func (h *Handler) IsAudio() bool { return h.mt.IsAudio() }

// BlockAlign returns the size of one audio frame of uncompressed
// audio, 0 for all other kinds.
func (h *Handler) BlockAlign() int {
	switch h.mt.Kind {
	case KindPCM, KindALaw, KindMuLaw:
		if h.mt.BlockAlign > 0 {
			return h.mt.BlockAlign
		}
		return h.mt.Channels * h.bitsPerSample() / 8
	}
	return 0
}

// IsOldIndexFormat reports if every audio frame is indexed as one
// sample of duration 1.
func (h *Handler) IsOldIndexFormat() bool {
	return h.mt.OldIndex && h.BlockAlign() > 0
}

// CanTruncate reports if the start of a sample can be cut.
func (h *Handler) CanTruncate() bool { return h.BlockAlign() > 0 }

// Truncate drops the data of the sample that starts at start
// until newStart. The new start of the sample is snapped down to
// an audio frame boundary.
func (h *Handler) Truncate(payload []byte, start, newStart int64) ([]byte, int64) {
	align := h.BlockAlign()
	if align == 0 || newStart <= start {
		return payload, start
	}
	frames := mp4.ToScale(newStart-start, uint32(h.mt.SampleRate))
	drop := frames * int64(align)
	if drop >= int64(len(payload)) {
		return nil, newStart
	}
	return payload[drop:], start + mp4.FromScale(frames, uint32(h.mt.SampleRate))
}

// WriteDescriptor writes the sample entry to the stsd box.
func (h *Handler) WriteDescriptor(stsd *mp4.Atom, trackID uint32, dataRef uint16, timescale uint32) error {
	return h.ops.descriptor(h, stsd, trackID, dataRef, timescale)
}

// WriteData appends the sample payload to dst and
// returns the number of bytes written.
func (h *Handler) WriteData(dst Appender, payload []byte) (int, error) {
	if h.ops.write != nil {
		return h.ops.write(h, dst, payload)
	}
	if err := dst.Append(payload); err != nil {
		return 0, err
	}
	return len(payload), nil
}

func (h *Handler) dimensions() (int, int) {
	if h.mt.Width > 0 && h.mt.Height > 0 {
		return h.mt.Width, h.mt.Height
	}
	if h.mt.Kind == KindH264 || h.mt.Kind == KindH264ByteStream {
		if w, height, ok := h.avcDimensions(); ok {
			return w, height
		}
	}
	return h.mt.Width, h.mt.Height
}

func (h *Handler) bitsPerSample() int {
	switch h.mt.Kind {
	case KindALaw, KindMuLaw:
		return 8
	}
	return h.mt.BitsPerSample
}

func videoTimescale(*Handler) uint32 { return VideoTimescale }

func audioTimescale(h *Handler) uint32 { return uint32(h.mt.SampleRate) }

func initAudio(h *Handler) error {
	if h.mt.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate: %d", ErrInvalid, h.mt.SampleRate)
	}
	return nil
}

func audioEntry(h *Handler, typ mp4.BoxType, dataRef uint16, timescale uint32) *mp4.AudioSampleEntry {
	channels := h.mt.Channels
	if channels == 0 {
		channels = 2
	}
	bits := h.bitsPerSample()
	if bits == 0 {
		bits = 16
	}
	return &mp4.AudioSampleEntry{
		SampleEntry:  mp4.SampleEntry{Typ: typ, DataReferenceIndex: dataRef},
		ChannelCount: uint16(channels),
		SampleSize:   uint16(bits),
		SampleRate:   timescale,
	}
}

func visualEntry(h *Handler, typ mp4.BoxType, dataRef uint16, name string) *mp4.VisualSampleEntry {
	w, height := h.dimensions()
	return &mp4.VisualSampleEntry{
		SampleEntry:    mp4.SampleEntry{Typ: typ, DataReferenceIndex: dataRef},
		Width:          uint16(w),
		Height:         uint16(height),
		Compressorname: name,
	}
}
