// SPDX-License-Identifier: GPL-2.0-or-later

// Package mp4 reads and writes ISO base media file format boxes.
package mp4

import (
	"errors"
	"math"
)

// BoxType is mpeg box type.
type BoxType [4]byte

func (t BoxType) String() string {
	b := make([]byte, 0, 4)
	for _, c := range t {
		if c < 0x20 || c > 0x7e {
			c = '.'
		}
		b = append(b, c)
	}
	return string(b)
}

// StrType converts a four character string to a BoxType.
func StrType(s string) BoxType {
	var t BoxType
	copy(t[:], s)
	return t
}

// Box types.
var (
	TypeFtyp = StrType("ftyp")
	TypeMdat = StrType("mdat")
	TypeMoov = StrType("moov")
	TypeFree = StrType("free")
	TypeSkip = StrType("skip")
	TypeUUID = StrType("uuid")
	TypeMvhd = StrType("mvhd")
	TypeIods = StrType("iods")
	TypeTrak = StrType("trak")
	TypeTkhd = StrType("tkhd")
	TypeEdts = StrType("edts")
	TypeElst = StrType("elst")
	TypeMdia = StrType("mdia")
	TypeMdhd = StrType("mdhd")
	TypeHdlr = StrType("hdlr")
	TypeMinf = StrType("minf")
	TypeVmhd = StrType("vmhd")
	TypeSmhd = StrType("smhd")
	TypeNmhd = StrType("nmhd")
	TypeDinf = StrType("dinf")
	TypeDref = StrType("dref")
	TypeURL  = StrType("url ")
	TypeStbl = StrType("stbl")
	TypeStsd = StrType("stsd")
	TypeStts = StrType("stts")
	TypeCtts = StrType("ctts")
	TypeStss = StrType("stss")
	TypeStsc = StrType("stsc")
	TypeStsz = StrType("stsz")
	TypeStco = StrType("stco")
	TypeCo64 = StrType("co64")
	TypeUdta = StrType("udta")
	TypeMeta = StrType("meta")
	TypeIlst = StrType("ilst")
	TypeData = StrType("data")
	TypeCmt  = BoxType{0xa9, 'c', 'm', 't'}
)

// Handler types.
var (
	HandlerVideo   = StrType("vide")
	HandlerSound   = StrType("soun")
	HandlerCaption = StrType("clcp")
	HandlerText    = StrType("text")
	HandlerSubt    = StrType("sbtl")
	HandlerMeta    = StrType("mdir")
)

// Errors.
var (
	ErrBoxTooLarge  = errors.New("box larger than 4 GiB")
	ErrClosed       = errors.New("box closed")
	ErrShortPayload = errors.New("payload too short")
	ErrOutOfRange   = errors.New("position out of range")
)

// MaxBoxSize is the largest size a written box can record in its header.
const MaxBoxSize = math.MaxUint32
