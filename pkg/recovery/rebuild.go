// SPDX-License-Identifier: GPL-2.0-or-later

package recovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"mp4kit/pkg/log"
	"mp4kit/pkg/mp4"
	"mp4kit/pkg/mux"
)

// Needed reports if the file at path has an open media data
// box and no movie box.
func Needed(path string) (bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return false, err
	}
	return needed(io.NewSectionReader(file, 0, stat.Size())), nil
}

func needed(src mp4.Source) bool {
	open := false
	for _, b := range mp4.NewRoot(src).Children() {
		switch b.Type() {
		case mp4.TypeMoov:
			if b.Size() > 8 {
				return false
			}
			open = true
		case mp4.TypeMdat:
			if b.Size() == 8 {
				open = true
			}
		}
	}
	return open
}

// State of a Rebuilder.
type State uint8

// States.
const (
	StateIdle State = iota
	StateProbing
	StateReplaying
	StateFinalizing
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProbing:
		return "probing"
	case StateReplaying:
		return "replaying"
	case StateFinalizing:
		return "finalizing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", s)
}

// FreeSpaceFunc returns the free bytes of the file system holding dir.
type FreeSpaceFunc func(dir string) (uint64, error)

// Rebuilder replays the log of an unfinished file into a new file
// and replaces the original with it.
type Rebuilder struct {
	path    string
	logPath string
	cfg     mux.Config

	logger    log.ILogger
	freeSpace FreeSpaceFunc

	state State
}

// NewRebuilder returns a rebuilder of path from the log at logPath.
// cfg configures the movie writer, its StartTime and SampleLogger
// are ignored. freeSpace may be nil.
func NewRebuilder(path, logPath string, cfg mux.Config, freeSpace FreeSpaceFunc) *Rebuilder {
	cfg.StartTime = 0
	cfg.SampleLogger = nil
	return &Rebuilder{
		path:      path,
		logPath:   logPath,
		cfg:       cfg,
		logger:    log.Or(cfg.Logger),
		freeSpace: freeSpace,
	}
}

// State returns the current state.
func (r *Rebuilder) State() State { return r.state }

func (r *Rebuilder) setState(s State) {
	r.state = s
	r.logger.Log(log.Entry{
		Level: log.LevelDebug,
		Src:   "recovery",
		Msg:   fmt.Sprintf("%v: %v", filepath.Base(r.path), s),
	})
}

// Rebuild returns ErrNotNeeded if the file is complete. On failure or
// cancellation the original file and the log are left untouched.
func (r *Rebuilder) Rebuild(ctx context.Context) error {
	err := r.rebuild(ctx)
	if err != nil {
		if !errors.Is(err, ErrNotNeeded) {
			r.setState(StateFailed)
		}
		return err
	}
	r.setState(StateDone)
	return nil
}

func (r *Rebuilder) rebuild(ctx context.Context) error {
	r.setState(StateProbing)
	src, err := os.Open(r.path)
	if err != nil {
		return err
	}
	defer src.Close()

	stat, err := src.Stat()
	if err != nil {
		return err
	}
	size := stat.Size()
	if !needed(io.NewSectionReader(src, 0, size)) {
		return ErrNotNeeded
	}

	dir := filepath.Dir(r.path)
	if r.freeSpace != nil {
		free, err := r.freeSpace(dir)
		if err != nil {
			return fmt.Errorf("free space: %w", err)
		}
		if free < uint64(size) {
			return fmt.Errorf("%w: need %d, have %d", ErrNoSpace, size, free)
		}
	}

	logFile, err := os.Open(r.logPath)
	if err != nil {
		return err
	}
	defer logFile.Close()
	records, err := NewReader(logFile)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(r.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if err := r.replay(ctx, records, src, size, tmp); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, r.path); err != nil {
		return fmt.Errorf("replace original: %w", err)
	}
	ok = true

	if err := os.Remove(r.logPath); err != nil {
		r.logger.Log(log.Entry{
			Level: log.LevelWarning,
			Src:   "recovery",
			Msg:   fmt.Sprintf("remove log: %v", err),
		})
	}
	return nil
}

func (r *Rebuilder) replay(ctx context.Context, records *Reader, src io.ReaderAt, size int64, out *os.File) error {
	r.setState(StateReplaying)
	sink := mp4.NewFileSink(out, 0)
	movie, err := mux.NewMovieWriter(sink, r.cfg)
	if err != nil {
		return err
	}

	tracks := make(map[int]*mux.TrackWriter)
	var samples int
	var buf []byte
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := records.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		switch rec.Kind {
		case RecordTrack:
			if _, exists := tracks[rec.Track]; exists {
				return fmt.Errorf("%w: duplicate track %d", ErrBadRecord, rec.Track)
			}
			t, err := movie.MakeTrack(rec.MediaType)
			if err != nil {
				return fmt.Errorf("track %d: %w", rec.Track, err)
			}
			tracks[rec.Track] = t

		case RecordSample:
			t, exists := tracks[rec.Track]
			if !exists {
				return fmt.Errorf("%w: sample of unknown track %d", ErrBadRecord, rec.Track)
			}
			// Data that never reached the file ends the replay.
			if rec.Pos+int64(rec.Size) > size {
				r.logger.Log(log.Entry{
					Level: log.LevelWarning,
					Src:   "recovery",
					Msg: fmt.Sprintf("%v: sample %d at %d beyond end of file",
						filepath.Base(r.path), samples, rec.Pos),
				})
				return r.finalize(movie, tracks, samples)
			}
			if cap(buf) < rec.Size {
				buf = make([]byte, rec.Size)
			}
			data := buf[:rec.Size]
			if _, err := src.ReadAt(data, rec.Pos); err != nil {
				return fmt.Errorf("read sample: %w", err)
			}
			err := t.Add(mux.Sample{
				Start: rec.Start,
				Stop:  rec.Start + rec.Duration,
				Sync:  rec.Sync,
				Data:  data,
			})
			if err != nil {
				return err
			}
			samples++
		}
	}
	return r.finalize(movie, tracks, samples)
}

func (r *Rebuilder) finalize(movie *mux.MovieWriter, tracks map[int]*mux.TrackWriter, samples int) error {
	r.setState(StateFinalizing)
	for _, t := range tracks {
		if _, err := t.OnEOS(); err != nil {
			return err
		}
	}
	if err := movie.Close(); err != nil {
		return fmt.Errorf("finalize: %w", err)
	}
	r.logger.Log(log.Entry{
		Level: log.LevelInfo,
		Src:   "recovery",
		Msg:   fmt.Sprintf("%v: recovered %d samples", filepath.Base(r.path), samples),
	})
	return nil
}
