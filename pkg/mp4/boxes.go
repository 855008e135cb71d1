// SPDX-License-Identifier: GPL-2.0-or-later

package mp4

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/icza/bitio"
)

// ImmutableBox is common interface of box.
type ImmutableBox interface {
	// Type returns the BoxType.
	Type() BoxType

	// Size returns the marshaled payload size in bytes.
	// The size must be known before marshaling
	// since the box header contains the size.
	Size() int

	// Marshal payload to writer.
	Marshal(w *bitio.Writer) error
}

// Boxes is a structure of boxes that can be marshaled together.
type Boxes struct {
	Box      ImmutableBox
	Children []Boxes
}

// Size returns the total size of the box including header and children.
func (b *Boxes) Size() int {
	total := b.Box.Size() + 8
	for _, child := range b.Children {
		total += child.Size()
	}
	return total
}

// Marshal box including children.
func (b *Boxes) Marshal(w *bitio.Writer) error {
	writeBoxInfo(w, uint32(b.Size()), b.Box.Type())
	if err := b.Box.Marshal(w); err != nil {
		return err
	}
	for _, child := range b.Children {
		if err := child.Marshal(w); err != nil {
			return err
		}
	}
	return w.TryError
}

func writeBoxInfo(w *bitio.Writer, size uint32, typ BoxType) {
	writeUint32(w, size)
	w.TryWrite(typ[:])
}

// WriteSingleBox writes header and payload of a single box.
func WriteSingleBox(w *bitio.Writer, b ImmutableBox) (int, error) {
	size := 8 + b.Size()
	writeBoxInfo(w, uint32(size), b.Type())
	if err := b.Marshal(w); err != nil {
		return 0, err
	}
	if w.TryError != nil {
		return 0, w.TryError
	}
	return size, nil
}

// Marshal returns the encoded box including its header.
func Marshal(b ImmutableBox) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(8 + b.Size())
	w := bitio.NewWriter(&buf)
	if _, err := WriteSingleBox(w, b); err != nil {
		return nil, fmt.Errorf("marshal %v: %w", b.Type(), err)
	}
	if buf.Len() != 8+b.Size() {
		return nil, fmt.Errorf("marshal %v: %w: size %d, wrote %d",
			b.Type(), errSizeMismatch, 8+b.Size(), buf.Len())
	}
	return buf.Bytes(), nil
}

var errSizeMismatch = errors.New("size mismatch")

// Container is a box without fields of its own.
type Container BoxType

// Type returns the BoxType.
func (c Container) Type() BoxType { return BoxType(c) }

// Size returns the marshaled size in bytes.
func (Container) Size() int { return 0 }

// Marshal is a no-op.
func (Container) Marshal(*bitio.Writer) error { return nil }

// RawBox is a box with an opaque payload.
type RawBox struct {
	Typ  BoxType
	Data []byte
}

// Type returns the BoxType.
func (b *RawBox) Type() BoxType { return b.Typ }

// Size returns the marshaled size in bytes.
func (b *RawBox) Size() int { return len(b.Data) }

// Marshal box to writer.
func (b *RawBox) Marshal(w *bitio.Writer) error {
	w.TryWrite(b.Data)
	return w.TryError
}

func writeUint16(w *bitio.Writer, v uint16) { w.TryWriteBits(uint64(v), 16) }
func writeUint32(w *bitio.Writer, v uint32) { w.TryWriteBits(uint64(v), 32) }
func writeUint64(w *bitio.Writer, v uint64) { w.TryWriteBits(v, 64) }

// reader wraps a payload for field decoding.
type reader struct {
	*bitio.Reader
}

func newReader(payload []byte) reader {
	return reader{bitio.NewReader(bytes.NewReader(payload))}
}

func (r reader) u8() uint8 { return r.TryReadByte() }
func (r reader) u16() uint16 { return uint16(r.TryReadBits(16)) }
func (r reader) u32() uint32 { return uint32(r.TryReadBits(32)) }
func (r reader) u64() uint64 { return r.TryReadBits(64) }

func (r reader) skip(n int) {
	for i := 0; i < n; i++ {
		r.TryReadByte()
	}
}

func (r reader) err(typ BoxType) error {
	if r.TryError == nil {
		return nil
	}
	if errors.Is(r.TryError, io.EOF) || errors.Is(r.TryError, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%v: %w", typ, ErrShortPayload)
	}
	return fmt.Errorf("%v: %w", typ, r.TryError)
}

// checkCount guards table allocations against entry counts the payload cannot hold.
func checkCount(typ BoxType, count uint32, entrySize int, payload []byte, header int) error {
	if int64(count)*int64(entrySize) > int64(len(payload)-header) {
		return fmt.Errorf("%v: %d entries: %w", typ, count, ErrShortPayload)
	}
	return nil
}
