// SPDX-License-Identifier: GPL-2.0-or-later

// Package mp4recover is a CLI utility that rebuilds mp4 files that
// were not finalized from their recovery logs.
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
	"path/filepath"
	"runtime"
	"sync"

	"mp4kit/pkg/log"
	"mp4kit/pkg/storage"

	"golang.org/x/sync/errgroup"
)

const usage = `rebuild unfinished mp4 files
example: mp4recover -env ./configs/env.yaml
         mp4recover -env ./configs/env.yaml ./storage/a.mp4`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logger := log.NewLogger()
	go logger.Start(ctx)
	go logger.LogToStdout(ctx)

	if err := run(ctx, os.Args[1:], os.Stdout, logger); err != nil {
		stdlog.Fatal(err)
	}
}

func run(ctx context.Context, args []string, out io.Writer, logger log.ILogger) error {
	flags := flag.NewFlagSet("mp4recover", flag.ContinueOnError)
	envPath := flags.String("env", "", "env.yaml")
	jobs := flags.Int("jobs", runtime.NumCPU(), "parallel rebuilds")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *envPath == "" {
		fmt.Fprintln(out, usage)
		return nil
	}
	if *jobs < 1 {
		return fmt.Errorf("%w: %d", errInvalidJobs, *jobs)
	}

	env, err := loadEnv(*envPath)
	if err != nil {
		return err
	}

	var reg *storage.Registry
	if _, err := os.Stat(env.RegistryPath); err == nil || flags.NArg() == 0 {
		if err := env.PrepareEnvironment(); err != nil {
			return err
		}
		if reg, err = storage.OpenRegistry(env.RegistryPath); err != nil {
			return err
		}
		defer reg.Close()
	}

	var entries []storage.Entry
	if flags.NArg() == 0 {
		if entries, err = reg.List(); err != nil {
			return err
		}
	}
	for _, path := range flags.Args() {
		e := storage.Entry{Path: path, LogPath: env.LogPath(path)}
		if reg != nil {
			if stored, found, err := reg.Get(path); err == nil && found {
				e = stored
			}
		}
		entries = append(entries, e)
	}

	n := len(entries)
	fmt.Fprintf(out, "Found %v unfinished files.\n", n)

	var mu sync.Mutex
	done := 0
	report := func(e storage.Entry, err error) {
		mu.Lock()
		defer mu.Unlock()
		done++
		switch {
		case err != nil:
			fmt.Fprintf(out, "[%v/%v][ERR] %v %v\n", done, n, e.Path, err)
		default:
			fmt.Fprintf(out, "[%v/%v][OK] %v\n", done, n, e.Path)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(*jobs)
	var failed bool
	for _, e := range entries {
		e := e
		g.Go(func() error {
			err := storage.Rebuild(ctx, env, reg, e, logger)
			report(e, err)
			if errors.Is(err, context.Canceled) {
				return err
			}
			if err != nil {
				mu.Lock()
				failed = true
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if failed {
		return errFailed
	}
	return nil
}

var (
	errFailed      = errors.New("some files could not be recovered")
	errInvalidJobs = errors.New("jobs must be at least 1")
)

func loadEnv(envPath string) (*storage.ConfigEnv, error) {
	envPath, err := filepath.Abs(envPath)
	if err != nil {
		return nil, err
	}
	env, err := storage.ReadConfigEnv(envPath)
	if errors.Is(err, os.ErrNotExist) {
		return storage.NewConfigEnv(envPath, nil)
	}
	return env, err
}
