// SPDX-License-Identifier: GPL-2.0-or-later

package codec

import (
	"bytes"
	"errors"
	"fmt"

	"mp4kit/pkg/mp4"

	"github.com/icza/bitio"
)

const dolbySyncWord = 0x0b77

var (
	dolbySampleRates        = [3]int{48000, 44100, 32000}
	dolbyReducedSampleRates = [3]int{24000, 22050, 16000}
	dolbyChannels           = [8]int{2, 1, 2, 3, 3, 4, 4, 5}
	eac3Blocks              = [4]int{1, 2, 3, 6}
)

// AC-3 nominal bit rates in kbit/s by bit_rate_code.
var ac3Bitrates = [19]int{
	32, 40, 48, 56, 64, 80, 96, 112, 128,
	160, 192, 224, 256, 320, 384, 448, 512, 576, 640,
}

var errNotDolbyFrame = errors.New("not a dolby frame")

// DolbyInfo fields shared by dac3 and dec3.
type DolbyInfo struct {
	Fscod       uint8
	Bsid        uint8
	Bsmod       uint8
	Acmod       uint8
	Lfeon       bool
	BitrateCode uint8  // AC-3.
	DataRate    uint16 // E-AC-3, kbit/s.

	// Set when the fscod is 3 in an E-AC-3 frame.
	SampleRate int
}

// Rate returns the sample rate in Hz.
func (d DolbyInfo) Rate() int {
	if d.SampleRate != 0 {
		return d.SampleRate
	}
	if int(d.Fscod) < len(dolbySampleRates) {
		return dolbySampleRates[d.Fscod]
	}
	return 0
}

// ChannelCount returns the number of channels including LFE.
func (d DolbyInfo) ChannelCount() int {
	n := dolbyChannels[d.Acmod&7]
	if d.Lfeon {
		n++
	}
	return n
}

func boolBit(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// MarshalDac3 returns the dac3 payload.
func (d DolbyInfo) MarshalDac3() []byte {
	var buf bytes.Buffer
	w := bitio.NewWriter(&buf)
	w.TryWriteBits(uint64(d.Fscod), 2)
	w.TryWriteBits(uint64(d.Bsid), 5)
	w.TryWriteBits(uint64(d.Bsmod), 3)
	w.TryWriteBits(uint64(d.Acmod), 3)
	w.TryWriteBits(boolBit(d.Lfeon), 1)
	w.TryWriteBits(uint64(d.BitrateCode), 5)
	w.TryWriteBits(0, 5) // Reserved.
	return buf.Bytes()
}

// MarshalDec3 returns the dec3 payload of a single independent substream.
func (d DolbyInfo) MarshalDec3() []byte {
	var buf bytes.Buffer
	w := bitio.NewWriter(&buf)
	w.TryWriteBits(uint64(d.DataRate), 13)
	w.TryWriteBits(0, 3) // num_ind_sub minus one.
	w.TryWriteBits(uint64(d.Fscod), 2)
	w.TryWriteBits(uint64(d.Bsid), 5)
	w.TryWriteBits(0, 1) // Reserved.
	w.TryWriteBits(0, 1) // asvc.
	w.TryWriteBits(uint64(d.Bsmod), 3)
	w.TryWriteBits(uint64(d.Acmod), 3)
	w.TryWriteBits(boolBit(d.Lfeon), 1)
	w.TryWriteBits(0, 3) // Reserved.
	w.TryWriteBits(0, 4) // num_dep_sub.
	w.TryWriteBits(0, 1) // Reserved.
	return buf.Bytes()
}

func bitReader(p []byte) *bitio.Reader {
	return bitio.NewReader(bytes.NewReader(p))
}

// ParseDac3 parses a dac3 payload.
func ParseDac3(p []byte) (DolbyInfo, error) {
	r := bitReader(p)
	var d DolbyInfo
	d.Fscod = uint8(r.TryReadBits(2))
	d.Bsid = uint8(r.TryReadBits(5))
	d.Bsmod = uint8(r.TryReadBits(3))
	d.Acmod = uint8(r.TryReadBits(3))
	d.Lfeon = r.TryReadBits(1) == 1
	d.BitrateCode = uint8(r.TryReadBits(5))
	if r.TryError != nil {
		return DolbyInfo{}, fmt.Errorf("dac3: %w", mp4.ErrShortPayload)
	}
	return d, nil
}

// ParseDec3 parses the first independent substream of a dec3 payload.
func ParseDec3(p []byte) (DolbyInfo, error) {
	r := bitReader(p)
	var d DolbyInfo
	d.DataRate = uint16(r.TryReadBits(13))
	r.TryReadBits(3)
	d.Fscod = uint8(r.TryReadBits(2))
	d.Bsid = uint8(r.TryReadBits(5))
	r.TryReadBits(2)
	d.Bsmod = uint8(r.TryReadBits(3))
	d.Acmod = uint8(r.TryReadBits(3))
	d.Lfeon = r.TryReadBits(1) == 1
	if r.TryError != nil {
		return DolbyInfo{}, fmt.Errorf("dec3: %w", mp4.ErrShortPayload)
	}
	return d, nil
}

// ParseAC3Frame parses the sync info and bit stream info of an AC-3 frame.
func ParseAC3Frame(p []byte) (DolbyInfo, error) {
	r := bitReader(p)
	if r.TryReadBits(16) != dolbySyncWord {
		return DolbyInfo{}, errNotDolbyFrame
	}
	r.TryReadBits(16) // crc1.

	var d DolbyInfo
	d.Fscod = uint8(r.TryReadBits(2))
	frmsizecod := uint8(r.TryReadBits(6))
	d.BitrateCode = frmsizecod >> 1
	d.Bsid = uint8(r.TryReadBits(5))
	d.Bsmod = uint8(r.TryReadBits(3))
	d.Acmod = uint8(r.TryReadBits(3))
	if d.Acmod&1 != 0 && d.Acmod != 1 {
		r.TryReadBits(2) // cmixlev.
	}
	if d.Acmod&4 != 0 {
		r.TryReadBits(2) // surmixlev.
	}
	if d.Acmod == 2 {
		r.TryReadBits(2) // dsurmod.
	}
	d.Lfeon = r.TryReadBits(1) == 1
	if r.TryError != nil {
		return DolbyInfo{}, fmt.Errorf("ac-3 frame: %w", mp4.ErrShortPayload)
	}
	if d.Fscod == 3 || int(d.BitrateCode) >= len(ac3Bitrates) {
		return DolbyInfo{}, fmt.Errorf("%w: ac-3 frame", ErrInvalid)
	}
	return d, nil
}

// ParseEAC3Frame parses the sync info and bit stream info of an E-AC-3 frame.
func ParseEAC3Frame(p []byte) (DolbyInfo, error) {
	r := bitReader(p)
	if r.TryReadBits(16) != dolbySyncWord {
		return DolbyInfo{}, errNotDolbyFrame
	}
	r.TryReadBits(2) // strmtyp.
	r.TryReadBits(3) // substreamid.
	frameBytes := (int(r.TryReadBits(11)) + 1) * 2

	var d DolbyInfo
	d.Fscod = uint8(r.TryReadBits(2))
	blocks := 6
	if d.Fscod == 3 {
		fscod2 := r.TryReadBits(2)
		if fscod2 == 3 {
			return DolbyInfo{}, fmt.Errorf("%w: e-ac-3 fscod2", ErrInvalid)
		}
		d.SampleRate = dolbyReducedSampleRates[fscod2]
	} else {
		blocks = eac3Blocks[r.TryReadBits(2)]
	}
	d.Acmod = uint8(r.TryReadBits(3))
	d.Lfeon = r.TryReadBits(1) == 1
	d.Bsid = uint8(r.TryReadBits(5))
	if r.TryError != nil {
		return DolbyInfo{}, fmt.Errorf("e-ac-3 frame: %w", mp4.ErrShortPayload)
	}
	d.DataRate = uint16(frameBytes * 8 * d.Rate() / (blocks * 256) / 1000)
	return d, nil
}

func (h *Handler) parseDolbyConfig(p []byte) (DolbyInfo, error) {
	if h.mt.Kind == KindAC3 {
		return ParseDac3(p)
	}
	return ParseDec3(p)
}

func (h *Handler) parseDolbyFrame(p []byte) (DolbyInfo, error) {
	if h.mt.Kind == KindAC3 {
		return ParseAC3Frame(p)
	}
	return ParseEAC3Frame(p)
}

func (h *Handler) marshalDolby(d DolbyInfo) []byte {
	if h.mt.Kind == KindAC3 {
		return d.MarshalDac3()
	}
	return d.MarshalDec3()
}

func initDolby(h *Handler) error {
	if len(h.mt.Extradata) > 0 {
		d, err := h.parseDolbyConfig(h.mt.Extradata)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		h.dolby = h.mt.Extradata
		if h.mt.SampleRate == 0 {
			h.mt.SampleRate = d.Rate()
		}
		if h.mt.Channels == 0 {
			h.mt.Channels = d.ChannelCount()
		}
	}
	return initAudio(h)
}

// writeDolby learns the configuration from the first frame.
func writeDolby(h *Handler, dst Appender, payload []byte) (int, error) {
	if h.dolby == nil {
		if d, err := h.parseDolbyFrame(payload); err == nil {
			h.dolby = h.marshalDolby(d)
		}
	}
	if err := dst.Append(payload); err != nil {
		return 0, err
	}
	return len(payload), nil
}

// dolbyConfig returns the learned configuration or
// one derived from the media type.
func (h *Handler) dolbyConfig() []byte {
	if h.dolby != nil {
		return h.dolby
	}
	var d DolbyInfo
	for i, rate := range dolbySampleRates {
		if rate == h.mt.SampleRate {
			d.Fscod = uint8(i)
		}
	}
	d.Bsid = 8
	d.Acmod = 2
	switch h.mt.Channels {
	case 1:
		d.Acmod = 1
	case 6:
		d.Acmod, d.Lfeon = 7, true
	}
	kbps := h.mt.Bitrate / 1000
	if h.mt.Kind == KindEAC3 {
		d.Bsid = 16
		d.DataRate = uint16(kbps)
	} else {
		for i, rate := range ac3Bitrates {
			if rate <= kbps {
				d.BitrateCode = uint8(i)
			}
		}
	}
	return h.marshalDolby(d)
}

func writeDolbyDescriptor(h *Handler, stsd *mp4.Atom, _ uint32, dataRef uint16, timescale uint32) error {
	entryType, configType := TypeAC3, TypeDac3
	if h.mt.Kind == KindEAC3 {
		entryType, configType = TypeEAC3, TypeDec3
	}
	return stsd.WriteBoxes(mp4.Boxes{
		Box: audioEntry(h, entryType, dataRef, timescale),
		Children: []mp4.Boxes{{
			Box: &mp4.RawBox{Typ: configType, Data: h.dolbyConfig()},
		}},
	})
}

func storedDolby(h *Handler) MediaType {
	mt := h.mt
	mt.Extradata = h.dolby
	return mt
}
