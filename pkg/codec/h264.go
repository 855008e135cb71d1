// SPDX-License-Identifier: GPL-2.0-or-later

package codec

import (
	"encoding/binary"
	"fmt"

	"mp4kit/pkg/mp4"

	"github.com/deepch/vdk/codec/h264parser"
)

// NAL unit types.
const (
	naluTypeSPS = 7
	naluTypePPS = 8
	naluTypeAUD = 9
)

func naluType(nalu []byte) uint8 { return nalu[0] & 0x1f }

func initH264(h *Handler) error {
	h.lengthSize = 4
	if h.mt.Kind == KindH264 && h.mt.LengthSize != 0 {
		switch h.mt.LengthSize {
		case 1, 2, 4:
			h.lengthSize = h.mt.LengthSize
		default:
			return fmt.Errorf("%w: nalu length size: %d", ErrInvalid, h.mt.LengthSize)
		}
	}

	extra := h.mt.Extradata
	if len(extra) == 0 {
		return nil
	}
	if extra[0] == 1 {
		// avcC.
		if _, err := h264parser.NewCodecDataFromAVCDecoderConfRecord(extra); err != nil {
			return fmt.Errorf("%w: avcC: %v", ErrInvalid, err)
		}
		h.avcC = extra
		return nil
	}

	// Annex B parameter sets.
	nalus, _ := h264parser.SplitNALUs(extra)
	for _, nalu := range nalus {
		h.learnParameterSet(nalu)
	}
	return nil
}

func (h *Handler) learnParameterSet(nalu []byte) {
	if len(nalu) == 0 || h.avcC != nil {
		return
	}
	switch naluType(nalu) {
	case naluTypeSPS:
		if h.sps == nil {
			h.sps = append([]byte(nil), nalu...)
		}
	case naluTypePPS:
		if h.pps == nil {
			h.pps = append([]byte(nil), nalu...)
		}
	}
}

// decoderConfig returns the avcC payload, nil until the
// parameter sets are known.
func (h *Handler) decoderConfig() []byte {
	if h.avcC != nil {
		return h.avcC
	}
	if h.sps == nil || h.pps == nil {
		return nil
	}
	codec, err := h264parser.NewCodecDataFromSPSAndPPS(h.sps, h.pps)
	if err != nil {
		return nil
	}
	rec := append([]byte(nil), codec.AVCDecoderConfRecordBytes()...)
	if len(rec) > 4 {
		rec[4] = 0xfc | byte(h.lengthSize-1)
	}
	h.avcC = rec
	return rec
}

func (h *Handler) avcDimensions() (int, int, bool) {
	rec := h.decoderConfig()
	if rec == nil {
		return 0, 0, false
	}
	codec, err := h264parser.NewCodecDataFromAVCDecoderConfRecord(rec)
	if err != nil {
		return 0, 0, false
	}
	return codec.Width(), codec.Height(), true
}

func writeAVCDescriptor(h *Handler, stsd *mp4.Atom, _ uint32, dataRef uint16, _ uint32) error {
	entry := mp4.Boxes{Box: visualEntry(h, TypeAvc1, dataRef, "")}
	if rec := h.decoderConfig(); rec != nil {
		entry.Children = []mp4.Boxes{{Box: &mp4.RawBox{Typ: TypeAvcC, Data: rec}}}
	}
	return stsd.WriteBoxes(entry)
}

// writeH264 stores length prefixed samples as is.
func writeH264(h *Handler, dst Appender, payload []byte) (int, error) {
	if h.avcC == nil {
		walkNALUs(payload, h.lengthSize, h.learnParameterSet)
	}
	if err := dst.Append(payload); err != nil {
		return 0, err
	}
	return len(payload), nil
}

// writeH264ByteStream replaces start codes with 4 byte lengths.
func writeH264ByteStream(h *Handler, dst Appender, payload []byte) (int, error) {
	nalus, typ := h264parser.SplitNALUs(payload)
	if typ == h264parser.NALU_AVCC {
		return writeH264(h, dst, payload)
	}

	var buf []byte
	for _, nalu := range nalus {
		if len(nalu) == 0 || naluType(nalu) == naluTypeAUD {
			continue
		}
		h.learnParameterSet(nalu)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(nalu)))
		buf = append(buf, nalu...)
	}
	if err := dst.Append(buf); err != nil {
		return 0, err
	}
	return len(buf), nil
}

func storedH264(h *Handler) MediaType {
	mt := h.mt
	mt.Kind = KindH264
	mt.LengthSize = h.lengthSize
	mt.Extradata = h.decoderConfig()
	mt.Width, mt.Height = h.dimensions()
	return mt
}

// walkNALUs calls fn for every NAL unit of a length prefixed sample.
func walkNALUs(payload []byte, lengthSize int, fn func([]byte)) {
	for len(payload) >= lengthSize {
		var n int
		for _, b := range payload[:lengthSize] {
			n = n<<8 | int(b)
		}
		payload = payload[lengthSize:]
		if n > len(payload) {
			return
		}
		fn(payload[:n])
		payload = payload[n:]
	}
}

var startCode = []byte{0, 0, 0, 1}

// LengthPrefixedToAnnexB converts a length prefixed sample to start codes.
func LengthPrefixedToAnnexB(payload []byte, lengthSize int) []byte {
	out := make([]byte, 0, len(payload)+16)
	walkNALUs(payload, lengthSize, func(nalu []byte) {
		out = append(out, startCode...)
		out = append(out, nalu...)
	})
	return out
}
