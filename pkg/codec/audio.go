// SPDX-License-Identifier: GPL-2.0-or-later

package codec

import (
	"fmt"

	"mp4kit/pkg/mp4"
)

func initPCM(h *Handler) error {
	if h.mt.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate: %d", ErrInvalid, h.mt.SampleRate)
	}
	if h.mt.Channels <= 0 {
		return fmt.Errorf("%w: channels: %d", ErrInvalid, h.mt.Channels)
	}
	if h.mt.Kind == KindPCM {
		switch h.mt.BitsPerSample {
		case 8, 16, 24, 32:
		default:
			return fmt.Errorf("%w: bits per sample: %d", ErrInvalid, h.mt.BitsPerSample)
		}
	}
	return nil
}

// pcmEntryType returns the sample entry type of uncompressed audio.
// 8 bit audio is unsigned, wider samples are little endian.
func pcmEntryType(mt MediaType) mp4.BoxType {
	switch mt.Kind {
	case KindALaw:
		return TypeAlaw
	case KindMuLaw:
		return TypeUlaw
	}
	if mt.FourCC != [4]byte{} {
		return mp4.BoxType(mt.FourCC)
	}
	switch mt.BitsPerSample {
	case 8:
		return TypeRaw
	case 24:
		return TypeIn24
	case 32:
		return TypeIn32
	}
	return TypeSowt
}

func writePCMDescriptor(h *Handler, stsd *mp4.Atom, _ uint32, dataRef uint16, timescale uint32) error {
	entry := audioEntry(h, pcmEntryType(h.mt), dataRef, timescale)
	if h.IsOldIndexFormat() {
		align := uint32(h.BlockAlign())
		bytesPerSample := uint32(h.bitsPerSample() / 8)
		entry.Version = 1
		entry.SamplesPerPacket = 1
		entry.BytesPerPacket = bytesPerSample
		entry.BytesPerFrame = align
		entry.BytesPerSample = bytesPerSample
	}
	return stsd.WriteBoxes(mp4.Boxes{Box: entry})
}

func writeMPEGAudioDescriptor(h *Handler, stsd *mp4.Atom, trackID uint32, dataRef uint16, timescale uint32) error {
	objectType := uint8(ObjectTypeMPEG1Audio)
	if h.mt.SampleRate < 32000 {
		objectType = ObjectTypeMPEG2Audio
	}
	return stsd.WriteBoxes(mp4.Boxes{
		Box: audioEntry(h, TypeMp4a, dataRef, timescale),
		Children: []mp4.Boxes{{Box: &Esds{
			ESID:       uint16(trackID),
			ObjectType: objectType,
			StreamType: StreamTypeAudio,
			MaxBitrate: uint32(h.mt.Bitrate),
			AvgBitrate: uint32(h.mt.Bitrate),
		}}},
	})
}
