// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"mp4kit/pkg/codec"
	"mp4kit/pkg/demux"
	"mp4kit/pkg/log"
	"mp4kit/pkg/mp4"
	"mp4kit/pkg/mux"
	"mp4kit/pkg/storage"

	"github.com/stretchr/testify/require"
)

const frame = mp4.Units / 10

func writeInput(t *testing.T, path string) {
	t.Helper()
	sink := mp4.NewMemorySink()
	movie, err := mux.NewMovieWriter(sink, mux.Config{Comment: "input"})
	require.NoError(t, err)
	video, err := movie.MakeTrack(codec.MediaType{
		Kind:   codec.KindFourCC,
		FourCC: codec.TypeJpeg,
		Width:  16,
		Height: 16,
	})
	require.NoError(t, err)
	audio, err := movie.MakeTrack(codec.MediaType{
		Kind:          codec.KindPCM,
		SampleRate:    8000,
		Channels:      1,
		BitsPerSample: 16,
	})
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		start := int64(i) * frame
		require.NoError(t, video.Add(mux.Sample{
			Start: start,
			Stop:  start + frame,
			Sync:  i%10 == 0,
			Data:  bytes.Repeat([]byte{byte(i)}, 200),
		}))
		require.NoError(t, audio.Add(mux.Sample{
			Start: start,
			Stop:  start + frame,
			Sync:  true,
			Data:  make([]byte, 1600),
		}))
	}
	require.NoError(t, movie.Close())
	require.NoError(t, os.WriteFile(path, sink.Bytes(), 0o600))
}

func readMovie(t *testing.T, path string) *demux.Movie {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	m, err := demux.NewMovie(bytes.NewReader(b), demux.Options{})
	require.NoError(t, err)
	return m
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.mp4")
	out := filepath.Join(dir, "out.mp4")
	writeInput(t, in)

	args := []string{"-o", out, "-start", "2s", "-comment", "cut", in}
	require.NoError(t, run(context.Background(), args, log.NewDummyLogger()))

	m := readMovie(t, out)
	require.Equal(t, "cut", m.Comment())
	require.Len(t, m.Tracks(), 2)
	require.Equal(t, 30, m.Tracks()[0].SampleCount())
	require.Equal(t, int64(3*mp4.Units), m.Duration())

	buf := make([]byte, 200)
	n, err := m.Tracks()[0].ReadSample(0, buf)
	require.NoError(t, err)
	require.Equal(t, bytes.Repeat([]byte{20}, 200), buf[:n])
}

func TestRunWithEnv(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.mp4")
	out := filepath.Join(dir, "out.mp4")
	envPath := filepath.Join(dir, "env.yaml")
	writeInput(t, in)
	require.NoError(t, os.WriteFile(envPath, []byte("mux:\n  comment: env\n"), 0o600))

	args := []string{"-o", out, "-env", envPath, in}
	require.NoError(t, run(context.Background(), args, log.NewDummyLogger()))

	m := readMovie(t, out)
	require.Equal(t, "env", m.Comment())
	require.Equal(t, 50, m.Tracks()[0].SampleCount())

	_, err := os.Stat(out + ".mp4i")
	require.ErrorIs(t, err, os.ErrNotExist)

	env, err := storage.ReadConfigEnv(envPath)
	require.NoError(t, err)
	reg, err := storage.OpenRegistry(env.RegistryPath)
	require.NoError(t, err)
	defer reg.Close()
	entries, err := reg.List()
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestParseArgs(t *testing.T) {
	_, err := parseArgs([]string{"in.mp4"})
	require.ErrorIs(t, err, errUsage)
	_, err = parseArgs([]string{"-o", "out.mp4"})
	require.ErrorIs(t, err, errUsage)

	o, err := parseArgs([]string{"-o", "out.mp4", "-rate", "2", "in.mp4"})
	require.NoError(t, err)
	require.Equal(t, options{input: "in.mp4", output: "out.mp4", rate: 2}, o)
}
