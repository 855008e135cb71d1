// SPDX-License-Identifier: GPL-2.0-or-later

package mp4

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Source is the byte source a box tree is read from.
// *io.SectionReader and *bytes.Reader satisfy it.
type Source interface {
	io.ReaderAt
	Size() int64
}

// Box is a lazily parsed box read from a Source.
// Children are scanned on first access and offsets are
// resolved through the parent chain. Not safe for concurrent use.
type Box struct {
	typ      BoxType
	userType [16]byte
	size     int64 // Total size including header.
	header   int64
	pos      int64 // Offset of the box within the parent payload.

	parent *Box
	src    Source // Root only.

	children []*Box
	scanned  bool

	buf     []byte
	bufRefs int
}

// NewRoot returns a container box spanning the whole source.
func NewRoot(src Source) *Box {
	return &Box{
		size: src.Size(),
		src:  src,
	}
}

// Type returns the BoxType.
func (b *Box) Type() BoxType { return b.typ }

// UserType returns the extended type of a uuid box.
func (b *Box) UserType() [16]byte { return b.userType }

// Size returns the total size including the header.
func (b *Box) Size() int64 { return b.size }

// HeaderSize returns 8, 16, 24 or 32, or 0 for the root.
func (b *Box) HeaderSize() int64 { return b.header }

// PayloadSize returns the size without the header.
func (b *Box) PayloadSize() int64 { return b.size - b.header }

// Offset returns the absolute offset of the box in the source.
func (b *Box) Offset() int64 {
	if b.parent == nil {
		return 0
	}
	return b.parent.Offset() + b.parent.header + b.pos
}

// Parent returns the parent box or nil for the root.
func (b *Box) Parent() *Box { return b.parent }

// ReadAt reads from the payload of the box, off is relative to the end of the header.
func (b *Box) ReadAt(p []byte, off int64) (int, error) {
	size := b.PayloadSize()
	if off < 0 || off > size {
		return 0, fmt.Errorf("%w: %d", ErrOutOfRange, off)
	}

	var eof bool
	if int64(len(p)) > size-off {
		p = p[:size-off]
		eof = true
	}

	var n int
	var err error
	switch {
	case b.buf != nil:
		n = copy(p, b.buf[off:])
	case b.parent == nil:
		n, err = b.src.ReadAt(p, off)
	default:
		n, err = b.parent.ReadAt(p, b.pos+b.header+off)
	}
	if err == nil && eof {
		err = io.EOF
	}
	return n, err
}

// Payload returns a copy, or the buffer if one is held, of the whole payload.
func (b *Box) Payload() ([]byte, error) {
	if b.buf != nil {
		return b.buf, nil
	}
	p := make([]byte, b.PayloadSize())
	if _, err := b.ReadAt(p, 0); err != nil && err != io.EOF {
		return nil, fmt.Errorf("read %v payload: %w", b.typ, err)
	}
	return p, nil
}

// Buffer loads the payload into memory. The buffer serves every read of
// the box and its descendants until the matching Release.
func (b *Box) Buffer() ([]byte, error) {
	if b.buf == nil {
		p, err := b.Payload()
		if err != nil {
			return nil, err
		}
		b.buf = p
	}
	b.bufRefs++
	return b.buf, nil
}

// Release drops a Buffer reference, the buffer is freed when none remain.
func (b *Box) Release() {
	if b.bufRefs == 0 {
		return
	}
	b.bufRefs--
	if b.bufRefs == 0 {
		b.buf = nil
	}
}

// IsBuffered reports if the payload is held in memory.
func (b *Box) IsBuffered() bool { return b.buf != nil }

// ChildCount scans the children if needed and returns the number of
// successfully parsed children. Scanning stops silently at the first
// malformed child.
func (b *Box) ChildCount() int {
	if !b.scanned {
		b.children = b.scan(0)
		b.scanned = true
	}
	return len(b.children)
}

// Child returns child i.
func (b *Box) Child(i int) *Box {
	if i < 0 || i >= b.ChildCount() {
		return nil
	}
	return b.children[i]
}

// Children returns all parsed children.
func (b *Box) Children() []*Box {
	b.ChildCount()
	return b.children
}

// FindChild returns the first child of the given type or nil.
func (b *Box) FindChild(typ BoxType) *Box {
	for _, c := range b.Children() {
		if c.typ == typ {
			return c
		}
	}
	return nil
}

// FindPath follows a path of child types, returns nil if any step is missing.
func (b *Box) FindPath(types ...BoxType) *Box {
	cur := b
	for _, typ := range types {
		cur = cur.FindChild(typ)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// Entries scans boxes starting skip bytes into the payload, used for
// boxes that carry fields before their children (stsd, sample entries).
// The result is not cached.
func (b *Box) Entries(skip int64) []*Box {
	return b.scan(skip)
}

func (b *Box) scan(start int64) []*Box {
	var boxes []*Box
	pos := start
	end := b.PayloadSize()
	for pos+8 <= end {
		child, ok := b.readHeader(pos, end-pos)
		if !ok {
			break
		}
		boxes = append(boxes, child)
		pos += child.size
	}
	return boxes
}

func (b *Box) readHeader(pos int64, avail int64) (*Box, bool) {
	var hdr [16]byte
	if _, err := b.ReadAt(hdr[:8], pos); err != nil {
		return nil, false
	}

	child := &Box{
		pos:    pos,
		parent: b,
		header: 8,
	}
	copy(child.typ[:], hdr[4:8])

	size := int64(binary.BigEndian.Uint32(hdr[:4]))
	switch size {
	case 0:
		// Extends to the end of the file, only valid at the top level.
		if b.parent != nil {
			return nil, false
		}
		size = avail
	case 1:
		if avail < 16 {
			return nil, false
		}
		if _, err := b.ReadAt(hdr[8:16], pos+8); err != nil {
			return nil, false
		}
		large := binary.BigEndian.Uint64(hdr[8:16])
		if large > math.MaxInt64 {
			return nil, false
		}
		size = int64(large)
		child.header = 16
	}

	if child.typ == TypeUUID {
		if child.header+16 > avail {
			return nil, false
		}
		if _, err := b.ReadAt(child.userType[:], pos+child.header); err != nil {
			return nil, false
		}
		child.header += 16
	}

	if size < child.header || size > avail {
		return nil, false
	}
	child.size = size
	return child, true
}
