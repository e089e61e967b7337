// Package logging builds the process logger: JSON lines in a dated file under
// the Vitalis directory, an optional human-readable stderr stream, and a short
// in-memory tail the console can show with /log.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel is a configured minimum level.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// ParseLevel maps a config string onto a LogLevel, defaulting to info.
func ParseLevel(s string) LogLevel {
	switch LogLevel(strings.ToLower(strings.TrimSpace(s))) {
	case LevelDebug:
		return LevelDebug
	case LevelWarn, "warning":
		return LevelWarn
	case LevelError:
		return LevelError
	default:
		return LevelInfo
	}
}

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Entry is one line of the in-memory tail.
type Entry struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// String formats the entry for the console.
func (e Entry) String() string {
	return fmt.Sprintf("%s %-5s %s", e.Time.Format("15:04:05"), e.Level, e.Message)
}

// tail is a fixed-size ring of recent entries. It doubles as a zerolog hook so
// every logger derived from the root feeds it.
type tail struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
}

func newTail(size int) *tail {
	return &tail{entries: make([]Entry, size)}
}

func (t *tail) Run(_ *zerolog.Event, level zerolog.Level, msg string) {
	if level == zerolog.NoLevel || msg == "" {
		return
	}
	t.mu.Lock()
	t.entries[t.next] = Entry{Time: time.Now(), Level: level.String(), Message: msg}
	t.next = (t.next + 1) % len(t.entries)
	if t.next == 0 {
		t.full = true
	}
	t.mu.Unlock()
}

// last returns up to n entries, oldest first.
func (t *tail) last(n int) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	count := t.next
	if t.full {
		count = len(t.entries)
	}
	if n <= 0 || n > count {
		n = count
	}
	out := make([]Entry, 0, n)
	for i := count - n; i < count; i++ {
		idx := i
		if t.full {
			idx = (t.next + i) % len(t.entries)
		}
		out = append(out, t.entries[idx])
	}
	return out
}

// Config selects the outputs.
type Config struct {
	Dir        string   // log file directory; empty disables the file
	Level      LogLevel // default info
	TailSize   int      // entries kept for History; default 200
	Console    bool     // human-readable output to ConsoleOut
	ConsoleOut io.Writer
}

// Logger owns the root zerolog.Logger and the file it writes to.
type Logger struct {
	zlog zerolog.Logger
	file *os.File
	path string
	tail *tail
}

// New opens the log file (if any) and builds the root logger.
func New(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = &Config{Level: LevelInfo}
	}
	size := cfg.TailSize
	if size <= 0 {
		size = 200
	}

	l := &Logger{tail: newTail(size)}

	var writers []io.Writer
	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		l.path = filepath.Join(cfg.Dir, "omni_"+time.Now().Format("2006-01-02")+".log")
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		l.file = f
		writers = append(writers, f)
	}
	if cfg.Console {
		out := cfg.ConsoleOut
		if out == nil {
			out = os.Stderr
		}
		writers = append(writers, zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"})
	}

	var sink io.Writer = io.Discard
	if len(writers) > 0 {
		sink = zerolog.MultiLevelWriter(writers...)
	}

	l.zlog = zerolog.New(sink).
		Level(cfg.Level.zerolog()).
		Hook(l.tail).
		With().
		Timestamp().
		Str("app", "omni").
		Logger()

	l.zlog.Debug().Str("file", l.path).Str("level", string(cfg.Level)).Msg("Logger ready")
	return l, nil
}

// Zerolog returns the root logger. Components derive their own with
// .With().Str("component", ...).
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zlog
}

// Component is shorthand for a component-scoped child logger.
func (l *Logger) Component(name string) zerolog.Logger {
	return l.zlog.With().Str("component", name).Logger()
}

// History returns up to limit recent entries, oldest first. limit <= 0 means
// everything kept.
func (l *Logger) History(limit int) []Entry {
	return l.tail.last(limit)
}

// Path is the log file, empty when file output is off.
func (l *Logger) Path() string {
	return l.path
}

// Close closes the log file.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
