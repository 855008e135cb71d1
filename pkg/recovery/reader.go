// SPDX-License-Identifier: GPL-2.0-or-later

package recovery

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"mp4kit/pkg/codec"
)

// Reader reads the records of a log in order.
type Reader struct {
	in      *bufio.Reader
	records int
}

// NewReader reads and checks the header.
func NewReader(in io.Reader) (*Reader, error) {
	r := &Reader{in: bufio.NewReader(in)}

	var hdr [headerSize]byte
	if _, err := io.ReadFull(r.in, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: short header", ErrBadSignature)
		}
		return nil, err
	}
	if [4]byte(hdr[0:4]) != signature {
		return nil, fmt.Errorf("%w: %q", ErrBadSignature, hdr[0:4])
	}
	if v := binary.BigEndian.Uint32(hdr[4:8]); v != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, v)
	}
	return r, nil
}

// Next returns the next record, io.EOF at the end of the log.
// A truncated or unknown record returns ErrBadRecord.
func (r *Reader) Next() (Record, error) {
	var tag [4]byte
	n, err := io.ReadFull(r.in, tag[:])
	if n == 0 && errors.Is(err, io.EOF) {
		return Record{}, io.EOF
	}
	if err != nil {
		return Record{}, r.badRecord(err)
	}

	switch tag {
	case tagTrack:
		var hdr [trackHeaderSize]byte
		copy(hdr[:], tag[:])
		if _, err := io.ReadFull(r.in, hdr[4:]); err != nil {
			return Record{}, r.badRecord(err)
		}
		size := binary.BigEndian.Uint32(hdr[8:12])
		if size > maxDescriptorSize {
			return Record{}, r.badRecord(fmt.Errorf("descriptor size %d", size))
		}
		desc := make([]byte, size)
		if _, err := io.ReadFull(r.in, desc); err != nil {
			return Record{}, r.badRecord(err)
		}
		mt, err := codec.UnmarshalMediaType(desc)
		if err != nil {
			return Record{}, r.badRecord(err)
		}
		r.records++
		return Record{
			Kind:      RecordTrack,
			Track:     int(binary.BigEndian.Uint32(hdr[4:8])),
			MediaType: mt,
		}, nil

	case tagSample:
		var b [sampleRecordSize]byte
		copy(b[:], tag[:])
		if _, err := io.ReadFull(r.in, b[4:]); err != nil {
			return Record{}, r.badRecord(err)
		}
		rec := unmarshalSample(b[:])
		if rec.Pos < 0 || rec.Duration < 0 {
			return Record{}, r.badRecord(fmt.Errorf("pos %d duration %d", rec.Pos, rec.Duration))
		}
		r.records++
		return rec, nil
	}
	return Record{}, r.badRecord(fmt.Errorf("tag %q", tag[:]))
}

func (r *Reader) badRecord(err error) error {
	return fmt.Errorf("%w %d: %v", ErrBadRecord, r.records+1, err)
}
