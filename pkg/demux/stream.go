// SPDX-License-Identifier: GPL-2.0-or-later

package demux

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Sample is one delivered sample. Times are relative to the start
// of playback and divided by the rate.
type Sample struct {
	Track int
	Index int
	Count int // Consecutive samples in Data.
	Start int64
	Stop  int64
	Sync  bool
	Data  []byte
}

// SampleFunc receives the samples of a stream. It is called from one
// goroutine per track. Data is only valid during the call.
type SampleFunc func(ctx context.Context, s Sample) error

// Play delivers the samples of every track in the seeking range, one
// cancellable task per track. Returns the first error.
func (m *Movie) Play(ctx context.Context, seek *Seeking, fn SampleFunc) error {
	seg := seek.resolve()
	g, ctx := errgroup.WithContext(ctx)
	for i, t := range m.tracks {
		i, t := i, t
		g.Go(func() error {
			return t.stream(ctx, i, seg, fn)
		})
	}
	return g.Wait()
}

// maxRunSamples limits the samples of legacy audio delivered at once.
const maxRunSamples = 4096

func (t *Track) stream(ctx context.Context, index int, seg segment, fn SampleFunc) error {
	buf := make([]byte, t.sizes.Max())
	n := t.StartSample(seg.start)
	count := t.SampleCount()
	oldIndex := t.mt.OldIndex && t.sizes.sizes == nil

	for n < count {
		if err := ctx.Err(); err != nil {
			return err
		}
		info, err := t.SampleInfo(n)
		if err != nil {
			return err
		}
		if info.Start >= seg.stop {
			return nil
		}
		if t.keys.AllSync() && info.Start < seg.start && info.Stop <= seg.start {
			n++
			continue
		}

		run := 1
		if oldIndex {
			run = t.sizes.ChunkSamples(n)
			if run > maxRunSamples {
				run = maxRunSamples
			}
			if last, err := t.SampleInfo(n + run - 1); err == nil {
				info.Stop = last.Stop
			}
		}
		size := t.sizes.RunSize(n, run)
		if size > len(buf) {
			buf = make([]byte, size)
		}
		if _, err := t.ReadSamples(n, run, buf); err != nil {
			return fmt.Errorf("track %d: %w", t.id, err)
		}

		s := Sample{
			Track: index,
			Index: n,
			Count: run,
			Start: scaleTime(info.Start-seg.start, seg.rate),
			Stop:  scaleTime(info.Stop-seg.start, seg.rate),
			Sync:  info.Sync,
			Data:  buf[:size],
		}
		if err := fn(ctx, s); err != nil {
			return err
		}
		n += run
	}
	return nil
}

func scaleTime(t int64, rate float64) int64 {
	if rate == 1 {
		return t
	}
	return int64(float64(t) / rate)
}
