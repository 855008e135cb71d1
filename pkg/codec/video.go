// SPDX-License-Identifier: GPL-2.0-or-later

package codec

import (
	"fmt"

	"mp4kit/pkg/mp4"
)

func writeMPEGVideoDescriptor(h *Handler, stsd *mp4.Atom, trackID uint32, dataRef uint16, _ uint32) error {
	objectType := uint8(ObjectTypeMPEG4Visual)
	if h.mt.Kind == KindMPEG2Video {
		objectType = ObjectTypeMPEG2Video
	}
	return stsd.WriteBoxes(mp4.Boxes{
		Box: visualEntry(h, TypeMp4v, dataRef, ""),
		Children: []mp4.Boxes{{Box: &Esds{
			ESID:                uint16(trackID),
			ObjectType:          objectType,
			StreamType:          StreamTypeVisual,
			MaxBitrate:          uint32(h.mt.Bitrate),
			AvgBitrate:          uint32(h.mt.Bitrate),
			DecoderSpecificInfo: h.mt.Extradata,
		}}},
	})
}

func initFourCC(h *Handler) error {
	if h.mt.FourCC == [4]byte{} {
		return fmt.Errorf("%w: missing fourcc", ErrInvalid)
	}
	return nil
}

func writeFourCCDescriptor(h *Handler, stsd *mp4.Atom, _ uint32, dataRef uint16, _ uint32) error {
	typ := mp4.BoxType(h.mt.FourCC)
	name := ""
	if typ == TypeJpeg || typ == TypeMjpa {
		name = "Motion JPEG"
	}
	return stsd.WriteBoxes(mp4.Boxes{Box: visualEntry(h, typ, dataRef, name)})
}

func writeCaptionDescriptor(_ *Handler, stsd *mp4.Atom, _ uint32, dataRef uint16, _ uint32) error {
	return stsd.WriteBoxes(mp4.Boxes{Box: &mp4.SampleEntry{
		Typ:                TypeC608,
		DataReferenceIndex: dataRef,
	}})
}
