// SPDX-License-Identifier: GPL-2.0-or-later

// Package mp4remux is a CLI utility that rewrites an mp4 file
// through the muxer, optionally with a recovery log.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	stdlog "log"
	"os"
	"os/signal"
	"time"

	"mp4kit/pkg/demux"
	"mp4kit/pkg/log"
	"mp4kit/pkg/mp4"
	"mp4kit/pkg/mux"
	"mp4kit/pkg/storage"
)

const usage = `rewrite an mp4 file
example: mp4remux -o out.mp4 -start 10s -stop 1m -env ./configs/env.yaml in.mp4`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logger := log.NewLogger()
	go logger.Start(ctx)
	go logger.LogToStdout(ctx)

	if err := run(ctx, os.Args[1:], logger); err != nil {
		stdlog.Fatal(err)
	}
}

type options struct {
	input   string
	output  string
	envPath string
	start   time.Duration
	stop    time.Duration
	rate    float64
	comment string
}

var errUsage = errors.New(usage)

func parseArgs(args []string) (options, error) {
	var o options
	flags := flag.NewFlagSet("mp4remux", flag.ContinueOnError)
	flags.StringVar(&o.output, "o", "", "output file")
	flags.StringVar(&o.envPath, "env", "", "env.yaml, enables the recovery log and registry")
	flags.DurationVar(&o.start, "start", 0, "start position")
	flags.DurationVar(&o.stop, "stop", 0, "stop position, end of file if zero")
	flags.Float64Var(&o.rate, "rate", 1, "playback rate")
	flags.StringVar(&o.comment, "comment", "", "movie comment, overrides env.yaml")
	if err := flags.Parse(args); err != nil {
		return options{}, err
	}
	if flags.NArg() != 1 || o.output == "" {
		return options{}, errUsage
	}
	o.input = flags.Arg(0)
	return o, nil
}

func run(ctx context.Context, args []string, logger log.ILogger) error {
	o, err := parseArgs(args)
	if err != nil {
		return err
	}

	in, err := os.Open(o.input)
	if err != nil {
		return err
	}
	defer in.Close()
	stat, err := in.Stat()
	if err != nil {
		return err
	}

	var env *storage.ConfigEnv
	if o.envPath != "" {
		if env, err = storage.ReadConfigEnv(o.envPath); err != nil {
			return err
		}
	}

	opts := demux.Options{Logger: logger}
	if env != nil {
		opts.ElstMediaTimeTruncation = env.Recovery.ElstMediaTimeTruncation
	}
	m, err := demux.NewMovie(io.NewSectionReader(in, 0, stat.Size()), opts)
	if err != nil {
		return fmt.Errorf("read %v: %w", o.input, err)
	}

	seek := demux.NewSeeking(m)
	stop := int64(o.stop / 100)
	if stop == 0 {
		stop = m.Duration()
	}
	if err := seek.SetPositions(int64(o.start/100), stop); err != nil {
		return err
	}
	if err := seek.SetRate(o.rate); err != nil {
		return err
	}

	out, err := createOutput(env, o, logger)
	if err != nil {
		return err
	}
	if err := remux(ctx, m, seek, out.movie(), logger); err != nil {
		out.abort()
		return err
	}
	if err := out.close(); err != nil {
		return err
	}

	logger.Log(log.Entry{
		Level: log.LevelInfo,
		Src:   "app",
		Msg:   fmt.Sprintf("wrote %v", o.output),
	})
	return nil
}

func remux(ctx context.Context, m *demux.Movie, seek *demux.Seeking, movie *mux.MovieWriter, logger log.ILogger) error {
	tracks := make([]*mux.TrackWriter, len(m.Tracks()))
	for i, t := range m.Tracks() {
		tw, err := movie.MakeTrack(t.MediaType())
		if err != nil {
			logger.Log(log.Entry{
				Level: log.LevelWarning,
				Src:   "app",
				Msg:   fmt.Sprintf("skipping track %d: %v", t.ID(), err),
			})
			continue
		}
		tracks[i] = tw
	}

	err := m.Play(ctx, seek, func(_ context.Context, s demux.Sample) error {
		tw := tracks[s.Track]
		if tw == nil {
			return nil
		}
		return tw.Add(mux.Sample{
			Start: s.Start,
			Stop:  s.Stop,
			Sync:  s.Sync,
			Data:  s.Data,
		})
	})
	if err != nil {
		return err
	}
	for _, tw := range tracks {
		if tw == nil {
			continue
		}
		if _, err := tw.OnEOS(); err != nil {
			return err
		}
	}
	return nil
}

// output is a plain file or a storage output with a recovery log.
type output struct {
	file   *os.File
	plain  *mux.MovieWriter
	stored *storage.Output
	reg    *storage.Registry
}

func createOutput(env *storage.ConfigEnv, o options, logger log.ILogger) (*output, error) {
	if env == nil {
		file, err := os.Create(o.output)
		if err != nil {
			return nil, err
		}
		movie, err := mux.NewMovieWriter(mp4.NewFileSink(file, 0), mux.Config{
			Comment: o.comment,
			Logger:  logger,
		})
		if err != nil {
			file.Close()
			return nil, err
		}
		return &output{file: file, plain: movie}, nil
	}

	if o.comment != "" {
		env.Mux.Comment = o.comment
	}
	if err := env.PrepareEnvironment(); err != nil {
		return nil, err
	}
	reg, err := storage.OpenRegistry(env.RegistryPath)
	if err != nil {
		return nil, err
	}
	stored, err := storage.CreateOutput(env, reg, o.output, logger)
	if err != nil {
		reg.Close()
		return nil, err
	}
	return &output{stored: stored, reg: reg}, nil
}

func (o *output) movie() *mux.MovieWriter {
	if o.stored != nil {
		return o.stored.Movie
	}
	return o.plain
}

func (o *output) close() error {
	if o.stored != nil {
		defer o.reg.Close()
		return o.stored.Close()
	}
	if err := o.plain.Close(); err != nil {
		o.file.Close()
		return err
	}
	return o.file.Close()
}

// abort leaves a stored output unfinished for mp4recover.
func (o *output) abort() {
	if o.stored != nil {
		o.reg.Close()
		return
	}
	o.file.Close()
	os.Remove(o.file.Name())
}
