// SPDX-License-Identifier: GPL-2.0-or-later

// Package recovery keeps a sample log beside an MP4 file that is
// being written and rebuilds the file from it if the movie box was
// never written.
//
// The log is a header followed by records, all integers big endian.
//
//	header  "MP4I" version:u32
//	track   "IPIN" index:u32 length:u32 media type:[length]
//	sample  "SAMP" track:u32 pos:u64 flags:u32 size:u32 start:i64 duration:i64
package recovery

import (
	"encoding/binary"
	"errors"
	"fmt"

	"mp4kit/pkg/codec"
)

// Version of the log format.
const Version = 1

// Errors.
var (
	ErrBadSignature       = errors.New("bad signature")
	ErrUnsupportedVersion = errors.New("unsupported version")
	ErrBadRecord          = errors.New("bad record")
	ErrNotNeeded          = errors.New("recovery not needed")
	ErrNoSpace            = errors.New("not enough free space")
)

var (
	signature = [4]byte{'M', 'P', '4', 'I'}
	tagTrack  = [4]byte{'I', 'P', 'I', 'N'}
	tagSample = [4]byte{'S', 'A', 'M', 'P'}
)

const (
	headerSize       = 8
	trackHeaderSize  = 12
	sampleRecordSize = 40

	// Upper bound of an encoded media type.
	maxDescriptorSize = 1 << 20
)

// FlagSync marks a sync sample.
const FlagSync = uint32(0x1)

// RecordKind .
type RecordKind uint8

// Record kinds.
const (
	RecordTrack RecordKind = iota + 1
	RecordSample
)

func (k RecordKind) String() string {
	switch k {
	case RecordTrack:
		return "track"
	case RecordSample:
		return "sample"
	}
	return fmt.Sprintf("kind(%d)", k)
}

// Record is one entry of the log. MediaType is set for
// RecordTrack, the sample fields for RecordSample.
type Record struct {
	Kind  RecordKind
	Track int

	MediaType codec.MediaType

	Pos      int64
	Size     int
	Sync     bool
	Start    int64
	Duration int64
}

func marshalHeader() []byte {
	out := make([]byte, headerSize)
	copy(out[0:4], signature[:])
	binary.BigEndian.PutUint32(out[4:8], Version)
	return out
}

func appendTrack(out []byte, index int, mt codec.MediaType) []byte {
	desc := mt.Marshal()
	var hdr [trackHeaderSize]byte
	copy(hdr[0:4], tagTrack[:])
	binary.BigEndian.PutUint32(hdr[4:8], uint32(index))
	binary.BigEndian.PutUint32(hdr[8:12], uint32(len(desc)))
	out = append(out, hdr[:]...)
	return append(out, desc...)
}

func appendSample(out []byte, r Record) []byte {
	var flags uint32
	if r.Sync {
		flags |= FlagSync
	}
	var b [sampleRecordSize]byte
	copy(b[0:4], tagSample[:])
	binary.BigEndian.PutUint32(b[4:8], uint32(r.Track))
	binary.BigEndian.PutUint64(b[8:16], uint64(r.Pos))
	binary.BigEndian.PutUint32(b[16:20], flags)
	binary.BigEndian.PutUint32(b[20:24], uint32(r.Size))
	binary.BigEndian.PutUint64(b[24:32], uint64(r.Start))
	binary.BigEndian.PutUint64(b[32:40], uint64(r.Duration))
	return append(out, b[:]...)
}

func unmarshalSample(b []byte) Record {
	flags := binary.BigEndian.Uint32(b[16:20])
	return Record{
		Kind:     RecordSample,
		Track:    int(binary.BigEndian.Uint32(b[4:8])),
		Pos:      int64(binary.BigEndian.Uint64(b[8:16])),
		Sync:     flags&FlagSync != 0,
		Size:     int(binary.BigEndian.Uint32(b[20:24])),
		Start:    int64(binary.BigEndian.Uint64(b[24:32])),
		Duration: int64(binary.BigEndian.Uint64(b[32:40])),
	}
}
