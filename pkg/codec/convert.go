// SPDX-License-Identifier: GPL-2.0-or-later

package codec

import "fmt"

// Formats returns the media types a stream of type mt can be delivered as.
// The first is always mt itself.
func Formats(mt MediaType) []MediaType {
	formats := []MediaType{mt}
	switch {
	case mt.Kind == KindH264:
		alt := mt
		alt.Kind = KindH264ByteStream
		alt.LengthSize = 0
		formats = append(formats, alt)
	case mt.Kind == KindAAC && !mt.ADTS:
		alt := mt
		alt.ADTS = true
		formats = append(formats, alt)
	}
	return formats
}

// Convert transforms a sample payload from one of the formats of
// Formats(from) into to.
func Convert(payload []byte, from, to MediaType) ([]byte, error) {
	switch {
	case from.Kind == to.Kind && from.ADTS == to.ADTS:
		return payload, nil

	case from.Kind == KindH264 && to.Kind == KindH264ByteStream:
		lengthSize := from.LengthSize
		if lengthSize == 0 {
			lengthSize = 4
		}
		return LengthPrefixedToAnnexB(payload, lengthSize), nil

	case from.Kind == KindAAC && to.Kind == KindAAC && to.ADTS:
		return RawToADTS(payload, from.Extradata)
	}
	return nil, fmt.Errorf("%w: convert %v to %v", ErrUnsupported, from.Kind, to.Kind)
}
