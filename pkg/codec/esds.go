// SPDX-License-Identifier: GPL-2.0-or-later

package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"mp4kit/pkg/mp4"

	"github.com/icza/bitio"
)

// Object type indications.
const (
	ObjectTypeMPEG4Visual = 0x20
	ObjectTypeAAC         = 0x40
	ObjectTypeMPEG2Video  = 0x61 // Main profile.
	ObjectTypeMPEG2Audio  = 0x69
	ObjectTypeMPEG1Audio  = 0x6b
)

// Stream types.
const (
	StreamTypeVisual = 0x04
	StreamTypeAudio  = 0x05
)

const (
	tagESDescriptor            = 0x03
	tagDecoderConfigDescriptor = 0x04
	tagDecoderSpecificInfo     = 0x05
	tagSLConfigDescriptor      = 0x06
)

// TypeEsds elementary stream descriptor box.
var TypeEsds = mp4.StrType("esds")

// Esds MPEG-4 elementary stream descriptor.
type Esds struct {
	ESID                uint16
	ObjectType          uint8
	StreamType          uint8
	BufferSize          uint32 // 24 bits.
	MaxBitrate          uint32
	AvgBitrate          uint32
	DecoderSpecificInfo []byte
}

// Type returns the BoxType.
func (*Esds) Type() mp4.BoxType { return TypeEsds }

func descriptorSize(payload int) int {
	return 1 + mp4.DescriptorLengthSize(payload) + payload
}

func (b *Esds) decoderConfigSize() int {
	n := 13
	if len(b.DecoderSpecificInfo) > 0 {
		n += descriptorSize(len(b.DecoderSpecificInfo))
	}
	return n
}

func (b *Esds) esSize() int {
	return 3 + descriptorSize(b.decoderConfigSize()) + descriptorSize(1)
}

// Size returns the marshaled size in bytes.
func (b *Esds) Size() int {
	return 4 + descriptorSize(b.esSize())
}

// Marshal box to writer.
func (b *Esds) Marshal(w *bitio.Writer) error {
	w.TryWrite([]byte{0, 0, 0, 0}) // Version and flags.

	w.TryWriteByte(tagESDescriptor)
	mp4.WriteDescriptorLength(w, b.esSize())
	w.TryWriteBits(uint64(b.ESID), 16)
	w.TryWriteByte(0) // Flags and stream priority.

	w.TryWriteByte(tagDecoderConfigDescriptor)
	mp4.WriteDescriptorLength(w, b.decoderConfigSize())
	w.TryWriteByte(b.ObjectType)
	w.TryWriteBits(uint64(b.StreamType), 6)
	w.TryWriteBits(0, 1) // Up stream.
	w.TryWriteBits(1, 1) // Reserved.
	w.TryWriteBits(uint64(b.BufferSize), 24)
	w.TryWriteBits(uint64(b.MaxBitrate), 32)
	w.TryWriteBits(uint64(b.AvgBitrate), 32)
	if len(b.DecoderSpecificInfo) > 0 {
		w.TryWriteByte(tagDecoderSpecificInfo)
		mp4.WriteDescriptorLength(w, len(b.DecoderSpecificInfo))
		w.TryWrite(b.DecoderSpecificInfo)
	}

	w.TryWriteByte(tagSLConfigDescriptor)
	mp4.WriteDescriptorLength(w, 1)
	w.TryWriteByte(2) // Pre-defined MP4.
	return w.TryError
}

// Unmarshal esds payload. Unknown descriptors are skipped.
func (b *Esds) Unmarshal(payload []byte) error {
	*b = Esds{}
	r := bitio.NewReader(bytes.NewReader(payload))
	r.TryReadBits(32) // Version and flags.

	tag, size, _ := readDescriptorHeader(r)
	if r.TryError != nil {
		return esdsErr(r.TryError)
	}
	if tag != tagESDescriptor {
		return fmt.Errorf("%w: esds: tag %#x", ErrBadDescriptor, tag)
	}
	b.ESID = uint16(r.TryReadBits(16))
	flags := r.TryReadByte()
	consumed := 3
	if flags&0x80 != 0 { // Stream dependence.
		r.TryReadBits(16)
		consumed += 2
	}
	if flags&0x40 != 0 { // URL.
		n := int(r.TryReadByte())
		skipBytes(r, n)
		consumed += 1 + n
	}
	if flags&0x20 != 0 { // OCR stream.
		r.TryReadBits(16)
		consumed += 2
	}

	for consumed < size && r.TryError == nil {
		tag, n, hdr := readDescriptorHeader(r)
		consumed += hdr + n
		if tag != tagDecoderConfigDescriptor || n < 13 {
			skipBytes(r, n)
			continue
		}
		b.ObjectType = r.TryReadByte()
		b.StreamType = uint8(r.TryReadBits(6))
		r.TryReadBits(2)
		b.BufferSize = uint32(r.TryReadBits(24))
		b.MaxBitrate = uint32(r.TryReadBits(32))
		b.AvgBitrate = uint32(r.TryReadBits(32))

		inner := 13
		for inner < n && r.TryError == nil {
			tag, m, hdr := readDescriptorHeader(r)
			inner += hdr + m
			if tag != tagDecoderSpecificInfo {
				skipBytes(r, m)
				continue
			}
			b.DecoderSpecificInfo = make([]byte, m)
			r.TryRead(b.DecoderSpecificInfo)
		}
	}
	if r.TryError != nil {
		return esdsErr(r.TryError)
	}
	return nil
}

func esdsErr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("esds: %w", mp4.ErrShortPayload)
	}
	return fmt.Errorf("esds: %w", err)
}

// readDescriptorHeader returns the tag, payload size and header size.
func readDescriptorHeader(r *bitio.Reader) (uint8, int, int) {
	tag := r.TryReadByte()
	size, hdr := 0, 1
	for i := 0; i < 4; i++ {
		b := r.TryReadByte()
		hdr++
		size = size<<7 | int(b&0x7f)
		if b&0x80 == 0 {
			break
		}
	}
	return tag, size, hdr
}

func skipBytes(r *bitio.Reader, n int) {
	for i := 0; i < n && r.TryError == nil; i++ {
		r.TryReadByte()
	}
}
