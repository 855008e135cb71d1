// SPDX-License-Identifier: GPL-2.0-or-later

package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"mp4kit/pkg/log"
	"mp4kit/pkg/mp4"
	"mp4kit/pkg/mux"
	"mp4kit/pkg/recovery"
)

// Output is an MP4 file that is written with a recovery log.
type Output struct {
	Movie *mux.MovieWriter

	path      string
	logPath   string
	file      *os.File
	logWriter *recovery.Writer
	registry  *Registry
}

// CreateOutput creates the file at path and its recovery log and
// registers both. registry may be nil.
func CreateOutput(env *ConfigEnv, registry *Registry, path string, logger log.ILogger) (*Output, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	sink := mp4.NewFileSink(file, 0)

	logPath := env.LogPath(path)
	logWriter, err := recovery.Create(logPath, recovery.WriterConfig{
		SyncInterval: env.Recovery.SyncInterval,
		Primary:      sink,
	})
	if err != nil {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("create recovery log: %w", err)
	}

	o := &Output{
		path:      path,
		logPath:   logPath,
		file:      file,
		logWriter: logWriter,
		registry:  registry,
	}
	fail := func(err error) (*Output, error) {
		logWriter.Close()
		file.Close()
		os.Remove(logPath)
		os.Remove(path)
		return nil, err
	}

	if registry != nil {
		err := registry.Add(Entry{Path: path, LogPath: logPath, Created: time.Now()})
		if err != nil {
			return fail(fmt.Errorf("register: %w", err))
		}
	}

	cfg := env.MuxConfig(logger)
	cfg.SampleLogger = logWriter
	if o.Movie, err = mux.NewMovieWriter(sink, cfg); err != nil {
		if registry != nil {
			registry.Remove(path)
		}
		return fail(err)
	}
	return o, nil
}

// Path returns the output path.
func (o *Output) Path() string { return o.path }

// Close finalizes the movie and removes the recovery log. The log
// and the registry entry are kept if the movie can't be finalized.
func (o *Output) Close() error {
	if err := o.Movie.Close(); err != nil {
		o.logWriter.Close()
		o.file.Close()
		return fmt.Errorf("finalize %v: %w", o.path, err)
	}
	if err := o.file.Sync(); err != nil {
		return err
	}
	if err := o.file.Close(); err != nil {
		return err
	}
	if err := o.logWriter.Close(); err != nil {
		return err
	}
	if err := os.Remove(o.logPath); err != nil {
		return err
	}
	if o.registry != nil {
		return o.registry.Remove(o.path)
	}
	return nil
}

// Rebuild recovers the output of a registry entry. The entry is
// removed once the file is complete.
func Rebuild(ctx context.Context, env *ConfigEnv, registry *Registry, e Entry, logger log.ILogger) error {
	cfg := env.MuxConfig(logger)
	err := recovery.NewRebuilder(e.Path, e.LogPath, cfg, FreeSpace).Rebuild(ctx)
	switch {
	case errors.Is(err, recovery.ErrNotNeeded):
		// Finalized before the entry was removed.
		if err := os.Remove(e.LogPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	case err != nil:
		return err
	}
	if registry != nil {
		return registry.Remove(e.Path)
	}
	return nil
}
