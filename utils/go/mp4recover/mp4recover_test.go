// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"mp4kit/pkg/codec"
	"mp4kit/pkg/demux"
	"mp4kit/pkg/log"
	"mp4kit/pkg/mp4"
	"mp4kit/pkg/mux"
	"mp4kit/pkg/recovery"
	"mp4kit/pkg/storage"

	"github.com/stretchr/testify/require"
)

// writeUnfinished writes 2s of video and stops before the
// movie box is written.
func writeUnfinished(t *testing.T, path, logPath string) {
	t.Helper()
	file, err := os.Create(path)
	require.NoError(t, err)
	defer file.Close()

	sink := mp4.NewFileSink(file, 0)
	logWriter, err := recovery.Create(logPath, recovery.WriterConfig{Primary: sink})
	require.NoError(t, err)
	movie, err := mux.NewMovieWriter(sink, mux.Config{SampleLogger: logWriter})
	require.NoError(t, err)
	video, err := movie.MakeTrack(codec.MediaType{
		Kind:   codec.KindFourCC,
		FourCC: codec.TypeJpeg,
		Width:  16,
		Height: 16,
	})
	require.NoError(t, err)

	const frame = mp4.Units / 10
	for i := 0; i < 25; i++ {
		require.NoError(t, video.Add(mux.Sample{
			Start: int64(i) * frame,
			Stop:  int64(i+1) * frame,
			Sync:  true,
			Data:  []byte{byte(i)},
		}))
	}
	require.NoError(t, logWriter.Close())
}

func newEnv(t *testing.T) (string, *storage.ConfigEnv) {
	t.Helper()
	dir := t.TempDir()
	envPath := filepath.Join(dir, "env.yaml")
	require.NoError(t, os.WriteFile(envPath, []byte{}, 0o600))
	env, err := storage.ReadConfigEnv(envPath)
	require.NoError(t, err)
	require.NoError(t, env.PrepareEnvironment())
	return envPath, env
}

func TestRunRegistry(t *testing.T) {
	envPath, env := newEnv(t)
	reg, err := storage.OpenRegistry(env.RegistryPath)
	require.NoError(t, err)
	var paths []string
	for _, name := range []string{"a.mp4", "b.mp4"} {
		path := filepath.Join(env.StorageDir, name)
		writeUnfinished(t, path, env.LogPath(path))
		require.NoError(t, reg.Add(storage.Entry{
			Path:    path,
			LogPath: env.LogPath(path),
			Created: time.Now(),
		}))
		paths = append(paths, path)
	}
	require.NoError(t, reg.Close())

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-env", envPath, "-jobs", "2"}, &out, log.NewDummyLogger()))
	require.True(t, strings.HasPrefix(out.String(), "Found 2 unfinished files.\n"), out.String())
	require.Equal(t, 2, strings.Count(out.String(), "[OK]"), out.String())

	for _, path := range paths {
		b, err := os.ReadFile(path)
		require.NoError(t, err)
		m, err := demux.NewMovie(bytes.NewReader(b), demux.Options{})
		require.NoError(t, err)
		require.Equal(t, 20, m.Tracks()[0].SampleCount())
	}

	reg, err = storage.OpenRegistry(env.RegistryPath)
	require.NoError(t, err)
	defer reg.Close()
	entries, err := reg.List()
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestRunArgs(t *testing.T) {
	envPath, env := newEnv(t)
	good := filepath.Join(env.StorageDir, "good.mp4")
	writeUnfinished(t, good, env.LogPath(good))
	missing := filepath.Join(env.StorageDir, "missing.mp4")

	var out bytes.Buffer
	err := run(context.Background(), []string{"-env", envPath, good, missing}, &out, log.NewDummyLogger())
	require.ErrorIs(t, err, errFailed)
	require.Contains(t, out.String(), "[OK] "+good)
	require.Contains(t, out.String(), "[ERR] "+missing)

	_, err = os.Stat(env.LogPath(good))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestRunUsage(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), nil, &out, log.NewDummyLogger()))
	require.Equal(t, usage+"\n", out.String())
}

type entryLog struct {
	mu      sync.Mutex
	entries []log.Entry
}

func (l *entryLog) Log(e log.Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
}

func TestRunLogs(t *testing.T) {
	envPath, env := newEnv(t)
	path := filepath.Join(env.StorageDir, "a.mp4")
	writeUnfinished(t, path, env.LogPath(path))

	logger := &entryLog{}
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-env", envPath, path}, &out, logger))

	var msgs []string
	for _, e := range logger.entries {
		if e.Src == "recovery" && e.Level == log.LevelInfo {
			msgs = append(msgs, e.Msg)
		}
	}
	require.Equal(t, []string{"a.mp4: recovered 20 samples"}, msgs)
}

func TestRunInvalidJobs(t *testing.T) {
	envPath, env := newEnv(t)
	path := filepath.Join(env.StorageDir, "a.mp4")
	writeUnfinished(t, path, env.LogPath(path))

	for _, jobs := range []string{"0", "-1"} {
		t.Run(jobs, func(t *testing.T) {
			var out bytes.Buffer
			args := []string{"-env", envPath, "-jobs", jobs, path}
			err := run(context.Background(), args, &out, log.NewDummyLogger())
			require.ErrorIs(t, err, errInvalidJobs)
			require.Empty(t, out.String())
		})
	}

	_, err := os.Stat(env.LogPath(path))
	require.NoError(t, err)
}
