// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"mp4kit/pkg/codec"
	"mp4kit/pkg/mp4"
	"mp4kit/pkg/mux"

	"github.com/stretchr/testify/require"
)

func TestRun(t *testing.T) {
	sink := mp4.NewMemorySink()
	movie, err := mux.NewMovieWriter(sink, mux.Config{Comment: "dump"})
	require.NoError(t, err)
	video, err := movie.MakeTrack(codec.MediaType{
		Kind:   codec.KindFourCC,
		FourCC: codec.TypeJpeg,
		Width:  16,
		Height: 16,
	})
	require.NoError(t, err)
	for i := int64(0); i < 25; i++ {
		require.NoError(t, video.Add(mux.Sample{
			Start: i * mp4.Units / 25,
			Stop:  (i + 1) * mp4.Units / 25,
			Sync:  true,
			Data:  []byte{1, 2, 3},
		}))
	}
	require.NoError(t, movie.Close())

	path := filepath.Join(t.TempDir(), "a.mp4")
	require.NoError(t, os.WriteFile(path, sink.Bytes(), 0o600))

	var out bytes.Buffer
	require.NoError(t, run([]string{path}, &out))
	for _, want := range []string{
		"  ftyp 32\n",
		"  moov ",
		"    trak ",
		"            jpeg ",
		`comment "dump"`,
		"track 1: vide fourcc 16x16, 25 samples, 1.000s, timescale 90000, 25.000 fps\n",
	} {
		require.Contains(t, out.String(), want)
	}

	out.Reset()
	require.NoError(t, run([]string{"-tracks=false", path}, &out))
	require.NotContains(t, out.String(), "track 1")

	require.ErrorIs(t, run(nil, &out), errUsage)
}
