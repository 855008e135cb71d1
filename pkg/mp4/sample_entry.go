// SPDX-License-Identifier: GPL-2.0-or-later

package mp4

import (
	"math"

	"github.com/icza/bitio"
)

/*********************** SampleEntry *************************/

// SampleEntry is the common start of every sample description.
type SampleEntry struct {
	Typ                BoxType
	DataReferenceIndex uint16
}

// Type returns the BoxType.
func (b *SampleEntry) Type() BoxType { return b.Typ }

// Size returns the marshaled size in bytes.
func (*SampleEntry) Size() int { return 8 }

// Marshal box to writer.
func (b *SampleEntry) Marshal(w *bitio.Writer) error {
	w.TryWrite(make([]byte, 6)) // Reserved.
	writeUint16(w, b.DataReferenceIndex)
	return w.TryError
}

func (b *SampleEntry) unmarshalField(r reader) {
	r.skip(6)
	b.DataReferenceIndex = r.u16()
}

/******************** VisualSampleEntry **********************/

// VisualSampleEntrySize is the size of the fixed fields, children follow.
const VisualSampleEntrySize = 78

// VisualSampleEntry avc1, mp4v, jpeg and other video sample descriptions.
type VisualSampleEntry struct {
	SampleEntry
	Width          uint16
	Height         uint16
	Compressorname string // Max 31 bytes.
	Depth          uint16
}

// Size returns the marshaled size in bytes.
func (*VisualSampleEntry) Size() int { return VisualSampleEntrySize }

// Marshal box to writer.
func (b *VisualSampleEntry) Marshal(w *bitio.Writer) error {
	if err := b.SampleEntry.Marshal(w); err != nil {
		return err
	}
	// Pre-defined, reserved, pre-defined.
	w.TryWrite(make([]byte, 16))
	writeUint16(w, b.Width)
	writeUint16(w, b.Height)
	writeUint32(w, 0x00480000) // 72 dpi.
	writeUint32(w, 0x00480000)
	writeUint32(w, 0) // Reserved.
	writeUint16(w, 1) // Frame count.

	var name [32]byte
	n := copy(name[1:], b.Compressorname)
	name[0] = byte(n)
	w.TryWrite(name[:])

	depth := b.Depth
	if depth == 0 {
		depth = 0x18
	}
	writeUint16(w, depth)
	writeUint16(w, 0xffff) // Pre-defined -1.
	return w.TryError
}

// Unmarshal the fixed fields from a sample entry payload.
func (b *VisualSampleEntry) Unmarshal(payload []byte) error {
	r := newReader(payload)
	b.SampleEntry.unmarshalField(r)
	r.skip(16)
	b.Width = r.u16()
	b.Height = r.u16()
	r.skip(14)
	var name [32]byte
	r.TryRead(name[:])
	if n := int(name[0]); n < 32 {
		b.Compressorname = string(name[1 : 1+n])
	}
	b.Depth = r.u16()
	r.skip(2)
	return r.err(b.Typ)
}

/********************* AudioSampleEntry **********************/

// AudioSampleEntry mp4a, sowt, ac-3 and other audio sample descriptions.
// Version 1 and 2 are the QuickTime sound description extensions.
type AudioSampleEntry struct {
	SampleEntry
	Version      uint16
	ChannelCount uint16
	SampleSize   uint16 // Bits per sample.
	SampleRate   uint32 // Hz.

	// Version 1.
	SamplesPerPacket uint32
	BytesPerPacket   uint32
	BytesPerFrame    uint32
	BytesPerSample   uint32
}

// Size returns the marshaled size in bytes.
func (b *AudioSampleEntry) Size() int {
	if b.Version == 1 {
		return 44
	}
	return 28
}

// ChildOffset returns the offset of the first child box in the payload.
func (b *AudioSampleEntry) ChildOffset() int64 {
	switch b.Version {
	case 1:
		return 44
	case 2:
		return 64
	}
	return 28
}

// Marshal box to writer.
func (b *AudioSampleEntry) Marshal(w *bitio.Writer) error {
	if err := b.SampleEntry.Marshal(w); err != nil {
		return err
	}
	writeUint16(w, b.Version)
	w.TryWrite(make([]byte, 6)) // Reserved.
	writeUint16(w, b.ChannelCount)
	writeUint16(w, b.SampleSize)
	writeUint16(w, 0) // Pre-defined.
	writeUint16(w, 0) // Reserved.

	rate := b.SampleRate
	if rate > 0xffff {
		rate = 0
	}
	writeUint32(w, rate<<16)

	if b.Version == 1 {
		writeUint32(w, b.SamplesPerPacket)
		writeUint32(w, b.BytesPerPacket)
		writeUint32(w, b.BytesPerFrame)
		writeUint32(w, b.BytesPerSample)
	}
	return w.TryError
}

// Unmarshal the fixed fields from a sample entry payload.
func (b *AudioSampleEntry) Unmarshal(payload []byte) error {
	r := newReader(payload)
	b.SampleEntry.unmarshalField(r)
	b.Version = r.u16()
	r.skip(6)
	b.ChannelCount = r.u16()
	b.SampleSize = r.u16()
	r.skip(4)
	b.SampleRate = r.u32() >> 16

	switch b.Version {
	case 1:
		b.SamplesPerPacket = r.u32()
		b.BytesPerPacket = r.u32()
		b.BytesPerFrame = r.u32()
		b.BytesPerSample = r.u32()
	case 2:
		r.skip(4) // Size of struct.
		rate := r.u64()
		b.SampleRate = uint32(math.Float64frombits(rate))
		b.ChannelCount = uint16(r.u32())
		r.skip(4) // Always 0x7f000000.
		b.SampleSize = uint16(r.u32())
		r.skip(4) // Format specific flags.
		b.BytesPerFrame = r.u32()
		b.SamplesPerPacket = r.u32()
	}
	return r.err(b.Typ)
}
