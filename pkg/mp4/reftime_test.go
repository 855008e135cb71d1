// SPDX-License-Identifier: GPL-2.0-or-later

package mp4

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestToScale(t *testing.T) {
	cases := []struct {
		t        int64
		scale    uint32
		expected int64
	}{
		{0, 90000, 0},
		{Units, 90000, 90000},
		{333667, 90000, 3003},
		{333666, 90000, 3002},
		{-Units, 1000, -1000},
		{-333667, 90000, -3003},
		{math.MaxInt64 / 2, 90000, 41505174165846491},
	}
	for _, tc := range cases {
		require.Equal(t, tc.expected, ToScale(tc.t, tc.scale), "%d@%d", tc.t, tc.scale)
	}
}

func TestFromScale(t *testing.T) {
	require.Equal(t, int64(Units), FromScale(90000, 90000))
	require.Equal(t, int64(333666), FromScale(3003, 90000))
	require.Equal(t, int64(20833), FromScale(1, 480))
	require.Equal(t, int64(-333666), FromScale(-3003, 90000))
	require.Equal(t, int64(0), FromScale(5, 0))
}

func TestScaleRoundTrip(t *testing.T) {
	for _, scale := range []uint32{1000, 44100, 48000, 90000} {
		for v := int64(0); v < 5000; v += 7 {
			back := ToScale(FromScale(v, scale), scale)
			require.LessOrEqual(t, back, v)
			require.GreaterOrEqual(t, back, v-1)
		}
	}
}
