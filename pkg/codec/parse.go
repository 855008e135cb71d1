// SPDX-License-Identifier: GPL-2.0-or-later

package codec

import (
	"fmt"

	"mp4kit/pkg/mp4"

	"github.com/deepch/vdk/codec/aacparser"
)

// ParseSampleEntry returns the media type of a sample entry, a child of stsd.
func ParseSampleEntry(entry *mp4.Box, handler mp4.BoxType) (MediaType, error) {
	payload, err := entry.Payload()
	if err != nil {
		return MediaType{}, err
	}
	typ := entry.Type()

	switch handler {
	case mp4.HandlerVideo:
		return parseVisualEntry(entry, typ, payload)
	case mp4.HandlerSound:
		return parseAudioEntry(entry, typ, payload)
	case mp4.HandlerCaption:
		if typ == TypeC608 {
			return MediaType{Kind: KindCEA608}, nil
		}
	}
	return MediaType{}, fmt.Errorf("%w: %v/%v", ErrUnsupported, handler, typ)
}

func parseVisualEntry(entry *mp4.Box, typ mp4.BoxType, payload []byte) (MediaType, error) {
	var v mp4.VisualSampleEntry
	v.Typ = typ
	if err := v.Unmarshal(payload); err != nil {
		return MediaType{}, err
	}
	mt := MediaType{Width: int(v.Width), Height: int(v.Height)}
	children := entry.Entries(mp4.VisualSampleEntrySize)

	switch typ {
	case TypeAvc1, TypeAvc3:
		mt.Kind = KindH264
		mt.LengthSize = 4
		if avcC := findEntry(children, TypeAvcC); avcC != nil {
			rec, err := avcC.Payload()
			if err != nil {
				return MediaType{}, err
			}
			if len(rec) < 5 {
				return MediaType{}, fmt.Errorf("avcC: %w", mp4.ErrShortPayload)
			}
			mt.LengthSize = int(rec[4]&3) + 1
			mt.Extradata = rec
		}
		return mt, nil

	case TypeMp4v:
		esds, err := parseEsdsChild(children)
		if err != nil {
			return MediaType{}, err
		}
		switch {
		case esds.ObjectType == ObjectTypeMPEG4Visual:
			mt.Kind = KindMPEG4Video
		case esds.ObjectType >= 0x60 && esds.ObjectType <= 0x65, esds.ObjectType == 0x6a:
			mt.Kind = KindMPEG2Video
		default:
			return MediaType{}, fmt.Errorf("%w: mp4v object type %#x", ErrUnsupported, esds.ObjectType)
		}
		mt.Bitrate = int(esds.AvgBitrate)
		mt.Extradata = esds.DecoderSpecificInfo
		return mt, nil
	}

	mt.Kind = KindFourCC
	mt.FourCC = typ
	return mt, nil
}

func parseAudioEntry(entry *mp4.Box, typ mp4.BoxType, payload []byte) (MediaType, error) {
	var a mp4.AudioSampleEntry
	a.Typ = typ
	if err := a.Unmarshal(payload); err != nil {
		return MediaType{}, err
	}
	mt := MediaType{
		SampleRate:    int(a.SampleRate),
		Channels:      int(a.ChannelCount),
		BitsPerSample: int(a.SampleSize),
	}
	children := entry.Entries(a.ChildOffset())

	switch typ {
	case TypeMp4a:
		esds, err := parseEsdsChild(children)
		if err != nil {
			return MediaType{}, err
		}
		mt.Bitrate = int(esds.AvgBitrate)
		switch esds.ObjectType {
		case ObjectTypeAAC, 0x66, 0x67, 0x68:
			mt.Kind = KindAAC
			mt.Extradata = esds.DecoderSpecificInfo
			if config, err := aacparser.ParseMPEG4AudioConfigBytes(mt.Extradata); err == nil {
				mt.SampleRate = config.SampleRate
				mt.Channels = int(config.ChannelConfig)
			}
		case ObjectTypeMPEG1Audio, ObjectTypeMPEG2Audio:
			mt.Kind = KindMPEGAudio
		default:
			return MediaType{}, fmt.Errorf("%w: mp4a object type %#x", ErrUnsupported, esds.ObjectType)
		}
		return mt, nil

	case TypeMp3:
		mt.Kind = KindMPEGAudio
		return mt, nil

	case TypeAC3, TypeEAC3:
		mt.Kind = KindAC3
		configType := TypeDac3
		parse := ParseDac3
		if typ == TypeEAC3 {
			mt.Kind = KindEAC3
			configType = TypeDec3
			parse = ParseDec3
		}
		if box := findEntry(children, configType); box != nil {
			config, err := box.Payload()
			if err != nil {
				return MediaType{}, err
			}
			d, err := parse(config)
			if err != nil {
				return MediaType{}, err
			}
			mt.Extradata = config
			mt.Channels = d.ChannelCount()
		}
		return mt, nil

	case TypeAlaw, TypeUlaw:
		mt.Kind = KindALaw
		if typ == TypeUlaw {
			mt.Kind = KindMuLaw
		}
		mt.BitsPerSample = 8
		mt.BlockAlign = mt.Channels
		mt.OldIndex = true
		return mt, nil

	case TypeSowt, TypeTwos, TypeRaw, TypeIn24, TypeIn32, TypeLpcm:
		mt.Kind = KindPCM
		mt.FourCC = typ
		switch typ {
		case TypeRaw:
			mt.BitsPerSample = 8
		case TypeIn24:
			mt.BitsPerSample = 24
		case TypeIn32:
			mt.BitsPerSample = 32
		}
		mt.BlockAlign = mt.Channels * mt.BitsPerSample / 8
		if a.Version >= 1 && a.BytesPerFrame > 0 {
			mt.BlockAlign = int(a.BytesPerFrame)
		}
		mt.OldIndex = true
		return mt, nil
	}
	return MediaType{}, fmt.Errorf("%w: audio %v", ErrUnsupported, typ)
}

func findEntry(boxes []*mp4.Box, typ mp4.BoxType) *mp4.Box {
	for _, b := range boxes {
		if b.Type() == typ {
			return b
		}
	}
	return nil
}

// parseEsdsChild finds the esds directly or inside a QuickTime wave box.
func parseEsdsChild(children []*mp4.Box) (Esds, error) {
	box := findEntry(children, TypeEsds)
	if box == nil {
		if wave := findEntry(children, TypeWave); wave != nil {
			box = wave.FindChild(TypeEsds)
		}
	}
	if box == nil {
		return Esds{}, fmt.Errorf("%w: missing esds", ErrInvalid)
	}
	payload, err := box.Payload()
	if err != nil {
		return Esds{}, err
	}
	var esds Esds
	if err := esds.Unmarshal(payload); err != nil {
		return Esds{}, err
	}
	return esds, nil
}
