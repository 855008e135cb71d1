// SPDX-License-Identifier: GPL-2.0-or-later

package mp4

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/icza/bitio"
)

// Atom is a box being written. Creating an atom appends a placeholder
// header of length 8, every byte appended to a child is also counted
// by its ancestors, Close patches the real length into the header.
type Atom struct {
	sink   Sink
	parent *Atom
	typ    BoxType
	start  int64
	length int64
	closed bool
}

// NewAtom starts a top-level box at the end of sink.
func NewAtom(sink Sink, typ BoxType) (*Atom, error) {
	a := &Atom{
		sink:  sink,
		typ:   typ,
		start: sink.Position(),
	}
	if err := a.appendHeader(); err != nil {
		return nil, err
	}
	return a, nil
}

// Child starts a child box at the end of a.
func (a *Atom) Child(typ BoxType) (*Atom, error) {
	if a.closed {
		return nil, ErrClosed
	}
	child := &Atom{
		sink:   a.sink,
		parent: a,
		typ:    typ,
		start:  a.sink.Position(),
	}
	if err := child.appendHeader(); err != nil {
		return nil, err
	}
	return child, nil
}

func (a *Atom) appendHeader() error {
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[:4], 8)
	copy(hdr[4:], a.typ[:])
	return a.Append(hdr[:])
}

// Type returns the BoxType.
func (a *Atom) Type() BoxType { return a.typ }

// Start returns the absolute offset of the box header.
func (a *Atom) Start() int64 { return a.start }

// Length returns the number of bytes written so far, including the header.
func (a *Atom) Length() int64 { return a.length }

// Position returns the absolute offset of the next appended byte.
func (a *Atom) Position() int64 { return a.sink.Position() }

// Append appends p to the box.
func (a *Atom) Append(p []byte) error {
	if a.closed {
		return ErrClosed
	}
	var err error
	if a.parent != nil {
		err = a.parent.Append(p)
	} else {
		err = a.sink.Append(p)
	}
	if err != nil {
		return err
	}
	a.length += int64(len(p))
	return nil
}

// Replace overwrites bytes at offset off from the start of the box.
func (a *Atom) Replace(off int64, p []byte) error {
	if off < 0 || off+int64(len(p)) > a.length {
		return fmt.Errorf("%v: replace at %d: %w", a.typ, off, ErrOutOfRange)
	}
	return a.sink.Replace(a.start+off, p)
}

// Close writes the final length into the header.
func (a *Atom) Close() error {
	if a.closed {
		return ErrClosed
	}
	if a.length > MaxBoxSize {
		return fmt.Errorf("%v: %d: %w", a.typ, a.length, ErrBoxTooLarge)
	}
	var size [4]byte
	binary.BigEndian.PutUint32(size[:], uint32(a.length))
	if err := a.sink.Replace(a.start, size[:]); err != nil {
		return fmt.Errorf("patch %v length: %w", a.typ, err)
	}
	a.closed = true
	return nil
}

// WriteBox appends a complete box as a child.
func (a *Atom) WriteBox(b ImmutableBox) error {
	buf, err := Marshal(b)
	if err != nil {
		return err
	}
	return a.Append(buf)
}

// WriteBoxes appends a complete box tree as a child.
func (a *Atom) WriteBoxes(b Boxes) error {
	var buf bytes.Buffer
	buf.Grow(b.Size())
	w := bitio.NewWriter(&buf)
	if err := b.Marshal(w); err != nil {
		return fmt.Errorf("marshal %v: %w", b.Box.Type(), err)
	}
	return a.Append(buf.Bytes())
}

// WriteFields appends the payload of b without a header. Used for boxes
// like stsd and dref that have both fields and children.
func (a *Atom) WriteFields(b ImmutableBox) error {
	var buf bytes.Buffer
	buf.Grow(b.Size())
	w := bitio.NewWriter(&buf)
	if err := b.Marshal(w); err != nil {
		return fmt.Errorf("marshal %v: %w", b.Type(), err)
	}
	return a.Append(buf.Bytes())
}
