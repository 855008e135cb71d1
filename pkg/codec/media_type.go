// SPDX-License-Identifier: GPL-2.0-or-later

// Package codec describes elementary streams and writes their
// codec specific sample descriptions and payloads.
package codec

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Kind of elementary stream.
type Kind uint8

// Supported kinds.
const (
	KindUnknown        Kind = iota
	KindH264                // Length prefixed NAL units.
	KindH264ByteStream      // Annex B start codes.
	KindMPEG4Video
	KindMPEG2Video
	KindMPEGAudio // MPEG-1/2 layer 1, 2 and 3.
	KindAAC
	KindPCM
	KindALaw
	KindMuLaw
	KindFourCC // Raw or M-JPEG video identified by FourCC.
	KindAC3
	KindEAC3
	KindCEA608

	kindCount
)

var kindNames = [kindCount]string{
	KindUnknown:        "unknown",
	KindH264:           "h264",
	KindH264ByteStream: "h264-annexb",
	KindMPEG4Video:     "mpeg4video",
	KindMPEG2Video:     "mpeg2video",
	KindMPEGAudio:      "mpegaudio",
	KindAAC:            "aac",
	KindPCM:            "pcm",
	KindALaw:           "alaw",
	KindMuLaw:          "mulaw",
	KindFourCC:         "fourcc",
	KindAC3:            "ac3",
	KindEAC3:           "eac3",
	KindCEA608:         "cea608",
}

func (k Kind) String() string {
	if k < kindCount {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// MediaType describes an elementary stream.
type MediaType struct {
	Kind Kind

	// Sample entry type. Required for KindFourCC,
	// optional for KindPCM where it selects the byte order.
	FourCC [4]byte

	// Video.
	Width         int
	Height        int
	FrameDuration int64 // Reference time, 0 if unknown.

	// Audio.
	SampleRate    int
	Channels      int
	BitsPerSample int
	BlockAlign    int
	Bitrate       int

	LengthSize int  // NAL unit length field size of KindH264, defaults to 4.
	ADTS       bool // KindAAC payload carries ADTS headers.
	OldIndex   bool // Uncompressed audio indexed per frame.

	// avcC, AudioSpecificConfig, MPEG-4 decoder specific info, dac3 or dec3.
	Extradata []byte
}

// IsVideo reports if the stream is video.
func (m MediaType) IsVideo() bool {
	switch m.Kind {
	case KindH264, KindH264ByteStream, KindMPEG4Video, KindMPEG2Video, KindFourCC:
		return true
	}
	return false
}

// IsAudio reports if the stream is audio.
func (m MediaType) IsAudio() bool {
	switch m.Kind {
	case KindMPEGAudio, KindAAC, KindPCM, KindALaw, KindMuLaw, KindAC3, KindEAC3:
		return true
	}
	return false
}

// IsText reports if the stream is captions.
func (m MediaType) IsText() bool {
	return m.Kind == KindCEA608
}

func (m MediaType) String() string {
	switch {
	case m.IsVideo():
		return fmt.Sprintf("%v %dx%d", m.Kind, m.Width, m.Height)
	case m.IsAudio():
		return fmt.Sprintf("%v %dHz %dch", m.Kind, m.SampleRate, m.Channels)
	}
	return m.Kind.String()
}

const (
	fieldKind protowire.Number = iota + 1
	fieldFourCC
	fieldWidth
	fieldHeight
	fieldFrameDuration
	fieldSampleRate
	fieldChannels
	fieldBitsPerSample
	fieldBlockAlign
	fieldBitrate
	fieldLengthSize
	fieldADTS
	fieldOldIndex
	fieldExtradata
)

// Marshal encodes the media type in protobuf wire format.
func (m MediaType) Marshal() []byte {
	var b []byte
	appendVarint := func(num protowire.Number, v uint64) {
		if v == 0 {
			return
		}
		b = protowire.AppendTag(b, num, protowire.VarintType)
		b = protowire.AppendVarint(b, v)
	}
	appendBytes := func(num protowire.Number, v []byte) {
		if len(v) == 0 {
			return
		}
		b = protowire.AppendTag(b, num, protowire.BytesType)
		b = protowire.AppendBytes(b, v)
	}

	appendVarint(fieldKind, uint64(m.Kind))
	if m.FourCC != [4]byte{} {
		appendBytes(fieldFourCC, m.FourCC[:])
	}
	appendVarint(fieldWidth, uint64(m.Width))
	appendVarint(fieldHeight, uint64(m.Height))
	appendVarint(fieldFrameDuration, protowire.EncodeZigZag(m.FrameDuration))
	appendVarint(fieldSampleRate, uint64(m.SampleRate))
	appendVarint(fieldChannels, uint64(m.Channels))
	appendVarint(fieldBitsPerSample, uint64(m.BitsPerSample))
	appendVarint(fieldBlockAlign, uint64(m.BlockAlign))
	appendVarint(fieldBitrate, uint64(m.Bitrate))
	appendVarint(fieldLengthSize, uint64(m.LengthSize))
	appendVarint(fieldADTS, protowire.EncodeBool(m.ADTS))
	appendVarint(fieldOldIndex, protowire.EncodeBool(m.OldIndex))
	appendBytes(fieldExtradata, m.Extradata)
	return b
}

// ErrBadDescriptor malformed media type encoding.
var ErrBadDescriptor = errors.New("bad media type descriptor")

// UnmarshalMediaType decodes a media type encoded by Marshal. Unknown fields are skipped.
func UnmarshalMediaType(b []byte) (MediaType, error) {
	var m MediaType
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return MediaType{}, fmt.Errorf("%w: %v", ErrBadDescriptor, protowire.ParseError(n))
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return MediaType{}, fmt.Errorf("%w: field %d: %v",
					ErrBadDescriptor, num, protowire.ParseError(n))
			}
			b = b[n:]
			m.setVarint(num, v)

		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return MediaType{}, fmt.Errorf("%w: field %d: %v",
					ErrBadDescriptor, num, protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldFourCC:
				copy(m.FourCC[:], v)
			case fieldExtradata:
				m.Extradata = append([]byte(nil), v...)
			}

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return MediaType{}, fmt.Errorf("%w: field %d: %v",
					ErrBadDescriptor, num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	if m.Kind >= kindCount {
		return MediaType{}, fmt.Errorf("%w: %v", ErrBadDescriptor, m.Kind)
	}
	return m, nil
}

func (m *MediaType) setVarint(num protowire.Number, v uint64) {
	switch num {
	case fieldKind:
		m.Kind = Kind(v)
	case fieldWidth:
		m.Width = int(v)
	case fieldHeight:
		m.Height = int(v)
	case fieldFrameDuration:
		m.FrameDuration = protowire.DecodeZigZag(v)
	case fieldSampleRate:
		m.SampleRate = int(v)
	case fieldChannels:
		m.Channels = int(v)
	case fieldBitsPerSample:
		m.BitsPerSample = int(v)
	case fieldBlockAlign:
		m.BlockAlign = int(v)
	case fieldBitrate:
		m.Bitrate = int(v)
	case fieldLengthSize:
		m.LengthSize = int(v)
	case fieldADTS:
		m.ADTS = protowire.DecodeBool(v)
	case fieldOldIndex:
		m.OldIndex = protowire.DecodeBool(v)
	}
}
