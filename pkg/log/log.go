// SPDX-License-Identifier: GPL-2.0-or-later

package log

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Level defines log level.
type Level uint8

// Logging constants, matching ffmpeg.
const (
	LevelError   Level = 16
	LevelWarning Level = 24
	LevelInfo    Level = 32
	LevelDebug   Level = 48
)

// UnixMicro microseconds since unix epoch.
type UnixMicro uint64

// Entry log entry.
type Entry struct {
	Level Level
	Time  UnixMicro // Timestamp, set by the logger if zero.
	Src   string    // Source.
	File  string    // Caller "file.go:line", set by the logger if empty.
	Msg   string
}

// ILogger logger interface.
type ILogger interface {
	Log(Entry)
}

// Feed defines feed of logs.
type Feed <-chan Entry

type logFeed chan Entry

// Logger fans out log entries to subscribers.
type Logger struct {
	feed  logFeed      // feed of logs.
	sub   chan logFeed // subscribe requests.
	unsub chan logFeed // unsubscribe requests.

	done     chan struct{}
	stopOnce sync.Once
}

// NewLogger returns a new Logger. Start must be called before any entry is logged.
func NewLogger() *Logger {
	return &Logger{
		feed:  make(logFeed),
		sub:   make(chan logFeed),
		unsub: make(chan logFeed),
		done:  make(chan struct{}),
	}
}

// Start logger. Blocks until the context is canceled.
func (l *Logger) Start(ctx context.Context) {
	subs := map[logFeed]struct{}{}
	for {
		select {
		case <-ctx.Done():
			l.stopOnce.Do(func() { close(l.done) })
			return

		case ch := <-l.sub:
			subs[ch] = struct{}{}

		case ch := <-l.unsub:
			close(ch)
			delete(subs, ch)

		case entry := <-l.feed:
			for ch := range subs {
				ch <- entry
			}
		}
	}
}

// Log sends entry to all subscribers. Entries are dropped after the logger is stopped.
func (l *Logger) Log(entry Entry) {
	if entry.Time == 0 {
		entry.Time = UnixMicro(time.Now().UnixMicro())
	}
	if entry.File == "" {
		entry.File = caller(2)
	}
	select {
	case l.feed <- entry:
	case <-l.done:
	}
}

func caller(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}

// CancelFunc cancels log feed subsciption.
type CancelFunc func()

// Subscribe returns a new chan with log feed and a CancelFunc.
func (l *Logger) Subscribe() (<-chan Entry, CancelFunc) {
	feed := make(logFeed)
	select {
	case l.sub <- feed:
	case <-l.done:
		close(feed)
		return feed, func() {}
	}

	cancel := func() {
		l.unSubscribe(feed)
	}
	return feed, cancel
}

func (l *Logger) unSubscribe(feed logFeed) {
	// Read feed until unsub request is accepted.
	for {
		select {
		case l.unsub <- feed:
			return
		case <-feed:
		case <-l.done:
			return
		}
	}
}

// LogToStdout prints log feed to Stdout.
func (l *Logger) LogToStdout(ctx context.Context) {
	feed, cancel := l.Subscribe()
	defer cancel()
	for {
		select {
		case entry, ok := <-feed:
			if !ok {
				return
			}
			fmt.Println(formatEntry(entry))
		case <-ctx.Done():
			return
		}
	}
}

func formatEntry(entry Entry) string {
	var b strings.Builder

	switch entry.Level {
	case LevelError:
		b.WriteString("[ERROR] ")
	case LevelWarning:
		b.WriteString("[WARNING] ")
	case LevelInfo:
		b.WriteString("[INFO] ")
	case LevelDebug:
		b.WriteString("[DEBUG] ")
	}

	if entry.File != "" {
		b.WriteString(entry.File + ": ")
	}
	if entry.Src != "" {
		b.WriteString(strings.ToUpper(entry.Src[:1]) + entry.Src[1:] + ": ")
	}

	b.WriteString(entry.Msg)
	return b.String()
}

type dummyLogger struct{}

func (dummyLogger) Log(Entry) {}

// NewDummyLogger returns a logger that discards everything.
func NewDummyLogger() ILogger {
	return dummyLogger{}
}

// Or returns logger, or a dummy logger if it's nil.
func Or(logger ILogger) ILogger {
	if logger == nil {
		return dummyLogger{}
	}
	return logger
}
