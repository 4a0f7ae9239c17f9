// Package logging builds the process-wide slog logger: human-readable text
// on an interactive terminal, JSON otherwise, mirrored into a size-rotated
// daily log file.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures New.
type Options struct {
	// Name prefixes the log file name (logs/<name>_YYYYMMDD.log).
	Name string

	// Level is one of debug, info, warn, error.
	Level string

	// Format forces "text" or "json". Empty picks text for terminals.
	Format string

	// Dir is the log directory. Empty disables file output.
	Dir string

	MaxSizeMB  int
	MaxBackups int

	// Stdout overrides the console writer (tests).
	Stdout io.Writer
}

// Logger pairs the slog logger with its rotating file so housekeeping can
// roll the file over at midnight.
type Logger struct {
	*slog.Logger
	file *rotatingFile
	opts Options
	now  func() time.Time
}

// rotatingFile serializes writes against Rotate swapping the file out.
type rotatingFile struct {
	mu   sync.Mutex
	file *lumberjack.Logger
}

func (r *rotatingFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file.Write(p)
}

// New creates the logger and its log file.
func New(opts Options) (*Logger, error) {
	if opts.Name == "" {
		opts.Name = "cohost"
	}
	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = 10
	}
	if opts.MaxBackups <= 0 {
		opts.MaxBackups = 5
	}

	console := opts.Stdout
	if console == nil {
		console = os.Stdout
	}

	l := &Logger{opts: opts, now: time.Now}
	out := console
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating log directory: %w", err)
		}
		l.file = &rotatingFile{file: l.openFile(l.fileName(l.now()))}
		out = io.MultiWriter(console, l.file)
	}

	handlerOpts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}
	var handler slog.Handler
	if useText(opts.Format, console) {
		handler = slog.NewTextHandler(out, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(out, handlerOpts)
	}
	l.Logger = slog.New(handler)
	return l, nil
}

// Rotate switches the file to today's name and closes the previous one.
// It is a no-op without file output.
func (l *Logger) Rotate() error {
	if l.file == nil {
		return nil
	}
	name := l.fileName(l.now())

	l.file.mu.Lock()
	defer l.file.mu.Unlock()
	if name == l.file.file.Filename {
		return l.file.file.Rotate()
	}
	prev := l.file.file
	l.file.file = l.openFile(name)
	if err := prev.Close(); err != nil {
		return fmt.Errorf("closing log file: %w", err)
	}
	return nil
}

// FilePath returns the current log file, or "" when file output is off.
func (l *Logger) FilePath() string {
	if l.file == nil {
		return ""
	}
	l.file.mu.Lock()
	defer l.file.mu.Unlock()
	return l.file.file.Filename
}

// Close flushes and closes the log file.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	l.file.mu.Lock()
	defer l.file.mu.Unlock()
	return l.file.file.Close()
}

// openFile returns a lumberjack logger for name; it opens lazily on the
// first write.
func (l *Logger) openFile(name string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   name,
		MaxSize:    l.opts.MaxSizeMB,
		MaxBackups: l.opts.MaxBackups,
	}
}

func (l *Logger) fileName(now time.Time) string {
	return filepath.Join(l.opts.Dir, fmt.Sprintf("%s_%s.log", l.opts.Name, now.Format("20060102")))
}

// ParseLevel maps a level name to slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func useText(format string, w io.Writer) bool {
	switch format {
	case "text":
		return true
	case "json":
		return false
	}
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
