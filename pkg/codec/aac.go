// SPDX-License-Identifier: GPL-2.0-or-later

package codec

import (
	"bytes"
	"fmt"

	"mp4kit/pkg/mp4"

	"github.com/deepch/vdk/codec/aacparser"
)

const (
	aacObjectTypeLC = 2
	adtsHeaderSize  = 7
)

func initAAC(h *Handler) error {
	if len(h.mt.Extradata) > 0 {
		config, err := aacparser.ParseMPEG4AudioConfigBytes(h.mt.Extradata)
		if err != nil {
			return fmt.Errorf("%w: audio specific config: %v", ErrInvalid, err)
		}
		h.asc = h.mt.Extradata
		if h.mt.SampleRate == 0 {
			h.mt.SampleRate = config.SampleRate
		}
		if h.mt.Channels == 0 {
			h.mt.Channels = int(config.ChannelConfig)
		}
	}
	if h.mt.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate: %d", ErrInvalid, h.mt.SampleRate)
	}
	if h.asc == nil && !h.mt.ADTS {
		asc, err := synthesizeASC(h.mt.SampleRate, h.mt.Channels)
		if err != nil {
			return err
		}
		h.asc = asc
	}
	return nil
}

func synthesizeASC(sampleRate, channels int) ([]byte, error) {
	if channels <= 0 {
		channels = 2
	}
	var buf bytes.Buffer
	err := aacparser.WriteMPEG4AudioConfig(&buf, aacparser.MPEG4AudioConfig{
		ObjectType:    aacObjectTypeLC,
		SampleRate:    sampleRate,
		ChannelConfig: uint(channels),
	})
	if err != nil {
		return nil, fmt.Errorf("write audio specific config: %w", err)
	}
	return buf.Bytes(), nil
}

func isADTS(p []byte) bool {
	return len(p) >= adtsHeaderSize && p[0] == 0xff && p[1]&0xf6 == 0xf0
}

// writeAAC strips ADTS headers, a payload may hold several frames.
func writeAAC(h *Handler, dst Appender, payload []byte) (int, error) {
	if !h.mt.ADTS || !isADTS(payload) {
		if err := dst.Append(payload); err != nil {
			return 0, err
		}
		return len(payload), nil
	}

	written := 0
	for isADTS(payload) {
		config, hdrlen, framelen, _, err := aacparser.ParseADTSHeader(payload)
		if err != nil || framelen > len(payload) || hdrlen > framelen {
			break
		}
		if h.asc == nil {
			var buf bytes.Buffer
			if err := aacparser.WriteMPEG4AudioConfig(&buf, config); err == nil {
				h.asc = buf.Bytes()
			}
		}
		if err := dst.Append(payload[hdrlen:framelen]); err != nil {
			return written, err
		}
		written += framelen - hdrlen
		payload = payload[framelen:]
	}
	if len(payload) > 0 {
		if err := dst.Append(payload); err != nil {
			return written, err
		}
		written += len(payload)
	}
	return written, nil
}

func (h *Handler) audioSpecificConfig() []byte {
	if h.asc != nil {
		return h.asc
	}
	asc, err := synthesizeASC(h.mt.SampleRate, h.mt.Channels)
	if err != nil {
		return nil
	}
	return asc
}

func writeAACDescriptor(h *Handler, stsd *mp4.Atom, trackID uint32, dataRef uint16, timescale uint32) error {
	return stsd.WriteBoxes(mp4.Boxes{
		Box: audioEntry(h, TypeMp4a, dataRef, timescale),
		Children: []mp4.Boxes{{Box: &Esds{
			ESID:                uint16(trackID),
			ObjectType:          ObjectTypeAAC,
			StreamType:          StreamTypeAudio,
			MaxBitrate:          uint32(h.mt.Bitrate),
			AvgBitrate:          uint32(h.mt.Bitrate),
			DecoderSpecificInfo: h.audioSpecificConfig(),
		}}},
	})
}

func storedAAC(h *Handler) MediaType {
	mt := h.mt
	mt.ADTS = false
	mt.Extradata = h.audioSpecificConfig()
	return mt
}

// RawToADTS prefixes a raw AAC frame with an ADTS header.
func RawToADTS(payload []byte, asc []byte) ([]byte, error) {
	config, err := aacparser.ParseMPEG4AudioConfigBytes(asc)
	if err != nil {
		return nil, fmt.Errorf("%w: audio specific config: %v", ErrInvalid, err)
	}
	out := make([]byte, adtsHeaderSize+len(payload))
	aacparser.FillADTSHeader(out[:adtsHeaderSize], config, 1024, len(payload))
	copy(out[adtsHeaderSize:], payload)
	return out, nil
}
