// SPDX-License-Identifier: GPL-2.0-or-later

// Package mp4dump is a CLI utility that prints the box tree and
// the tracks of mp4 files.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"mp4kit/pkg/demux"
	"mp4kit/pkg/mp4"
	"mp4kit/pkg/storage"
)

const usage = `print the box tree and tracks of mp4 files
example: mp4dump -tracks=false ./storage/a.mp4`

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Fatal(err)
	}
}

var errUsage = errors.New("usage")

func run(args []string, out io.Writer) error {
	flags := flag.NewFlagSet("mp4dump", flag.ContinueOnError)
	tracks := flags.Bool("tracks", true, "print track summary")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() == 0 {
		fmt.Fprintln(out, usage)
		return errUsage
	}

	for _, path := range flags.Args() {
		if err := dump(path, *tracks, out); err != nil {
			return fmt.Errorf("%v: %w", path, err)
		}
	}
	return nil
}

var containers = map[mp4.BoxType]bool{
	mp4.TypeMoov: true,
	mp4.TypeTrak: true,
	mp4.TypeEdts: true,
	mp4.TypeMdia: true,
	mp4.TypeMinf: true,
	mp4.TypeDinf: true,
	mp4.TypeStbl: true,
	mp4.TypeUdta: true,
	mp4.TypeIlst: true,
	mp4.TypeCmt:  true,
}

func dump(path string, tracks bool, out io.Writer) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return err
	}
	src := io.NewSectionReader(file, 0, stat.Size())

	fmt.Fprintf(out, "%v %v\n", path, storage.FormatSize(stat.Size()))
	printBoxes(out, mp4.NewRoot(src), 1)

	if !tracks {
		return nil
	}
	m, err := demux.NewMovie(src, demux.Options{})
	if errors.Is(err, demux.ErrNoMovie) {
		fmt.Fprintln(out, "no movie box")
		return nil
	}
	if err != nil {
		return err
	}
	printMovie(out, m)
	return nil
}

func printBoxes(out io.Writer, b *mp4.Box, depth int) {
	for _, child := range b.Children() {
		fmt.Fprintf(out, "%v%v %d\n", strings.Repeat("  ", depth), child.Type(), child.Size())
		switch {
		case containers[child.Type()]:
			printBoxes(out, child, depth+1)
		case child.Type() == mp4.TypeStsd:
			for _, entry := range child.Entries(8) {
				fmt.Fprintf(out, "%v%v %d\n", strings.Repeat("  ", depth+1), entry.Type(), entry.Size())
			}
		}
	}
}

func printMovie(out io.Writer, m *demux.Movie) {
	fmt.Fprintf(out, "duration %.3fs timescale %d\n", seconds(m.Duration()), m.Timescale())
	if c := m.Comment(); c != "" {
		fmt.Fprintf(out, "comment %q\n", c)
	}
	if n := m.InvalidTracks(); n > 0 {
		fmt.Fprintf(out, "%d invalid tracks\n", n)
	}
	for _, t := range m.Tracks() {
		fmt.Fprintf(out, "track %d: %v %v, %d samples, %.3fs, timescale %d",
			t.ID(), t.Handler(), t.MediaType(), t.SampleCount(), seconds(t.Duration()), t.Timescale())
		if d := t.FrameDuration(); d > 0 {
			fmt.Fprintf(out, ", %.3f fps", float64(mp4.Units)/float64(d))
		}
		fmt.Fprintln(out)
		for _, e := range t.Edits() {
			if e.Empty {
				fmt.Fprintf(out, "  edit empty %.3fs\n", seconds(e.Duration))
				continue
			}
			fmt.Fprintf(out, "  edit %.3fs from %.3fs\n", seconds(e.Duration), seconds(e.Offset))
		}
	}
}

func seconds(t int64) float64 {
	return float64(t) / mp4.Units
}
