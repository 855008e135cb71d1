// SPDX-License-Identifier: GPL-2.0-or-later

package mp4

import (
	"github.com/icza/bitio"
)

// MPEG-4 systems descriptor tags.
const (
	TagMP4IOD   = 0x10
	TagESIDInc  = 0x0e
	DefaultOD   = 1
	ProfileNone = 0xff
)

// Iods is the initial object descriptor box listing the audio and video tracks.
type Iods struct {
	FullBox
	AudioProfile  uint8
	VisualProfile uint8
	TrackIDs      []uint32
}

// Type returns the BoxType.
func (*Iods) Type() BoxType { return TypeIods }

func (b *Iods) descriptorSize() int {
	return 7 + len(b.TrackIDs)*6
}

// Size returns the marshaled size in bytes.
func (b *Iods) Size() int {
	return 4 + 1 + DescriptorLengthSize(b.descriptorSize()) + b.descriptorSize()
}

// Marshal box to writer.
func (b *Iods) Marshal(w *bitio.Writer) error {
	b.marshalField(w)
	w.TryWriteByte(TagMP4IOD)
	WriteDescriptorLength(w, b.descriptorSize())
	// Object descriptor ID, URL flag, inline profile flag and reserved bits.
	w.TryWriteBits(DefaultOD, 10)
	w.TryWriteBits(0, 2)
	w.TryWriteBits(0xf, 4)

	// OD, scene, audio, visual and graphics profiles.
	w.TryWrite([]byte{ProfileNone, ProfileNone, b.AudioProfile, b.VisualProfile, ProfileNone})
	for _, id := range b.TrackIDs {
		w.TryWriteByte(TagESIDInc)
		w.TryWriteByte(4)
		writeUint32(w, id)
	}
	return w.TryError
}

// DescriptorLengthSize returns the number of bytes WriteDescriptorLength uses for n.
func DescriptorLengthSize(n int) int {
	size := 1
	for n >= 0x80 {
		n >>= 7
		size++
	}
	return size
}

// WriteDescriptorLength writes an expandable MPEG-4 descriptor length.
func WriteDescriptorLength(w *bitio.Writer, n int) {
	size := DescriptorLengthSize(n)
	for i := size - 1; i > 0; i-- {
		w.TryWriteByte(byte(n>>(7*i))&0x7f | 0x80)
	}
	w.TryWriteByte(byte(n) & 0x7f)
}
