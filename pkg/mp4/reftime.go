// SPDX-License-Identifier: GPL-2.0-or-later

package mp4

// Units is the number of reference time units per second.
// Reference time is counted in 100 nanosecond units.
const Units = 10000000

// ToScale converts reference time to the given timescale, truncating toward zero.
func ToScale(t int64, scale uint32) int64 {
	s := int64(scale)
	return (t/Units)*s + (t%Units)*s/Units
}

// FromScale converts a value in the given timescale to reference time,
// truncating toward zero.
func FromScale(v int64, scale uint32) int64 {
	if scale == 0 {
		return 0
	}
	s := int64(scale)
	return (v/s)*Units + (v%s)*Units/s
}
