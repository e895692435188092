package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

const timeFormat = "2006-01-02 15:04:05"

var (
	mu           sync.RWMutex
	currentLevel = LevelInfo
	logger       = slog.New(newTextHandler(os.Stdout))
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel converts a level name (case-insensitive) into a Level.
func ParseLevel(level string) (Level, bool) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return LevelDebug, true
	case "INFO":
		return LevelInfo, true
	case "WARN":
		return LevelWarn, true
	case "ERROR":
		return LevelError, true
	}
	return LevelInfo, false
}

// SetLevel sets the minimum level. Unknown names leave the level unchanged.
func SetLevel(level string) {
	parsed, ok := ParseLevel(level)
	if !ok {
		return
	}

	mu.Lock()
	currentLevel = parsed
	mu.Unlock()
}

// GetLevel returns the current minimum level.
func GetLevel() Level {
	mu.RLock()
	defer mu.RUnlock()
	return currentLevel
}

// SetOutput redirects log output to w using the given format ("text" or "json").
func SetOutput(w io.Writer, format string) {
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
	} else {
		handler = newTextHandler(w)
	}

	mu.Lock()
	logger = slog.New(handler)
	mu.Unlock()
}

// Configure applies level, format and output in one step.
//
// Output is "stdout", "stderr" or a file path. When a file is opened the
// returned closer must be closed on shutdown; otherwise it is a no-op.
func Configure(level, format, output string) (io.Closer, error) {
	var (
		w      io.Writer
		closer io.Closer = nopCloser{}
	)

	switch strings.ToLower(output) {
	case "", "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log output %s: %w", output, err)
		}
		w = f
		closer = f
	}

	SetOutput(w, format)
	SetLevel(level)
	return closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// newTextHandler builds a tint handler; colour is only used on terminals.
func newTextHandler(w io.Writer) slog.Handler {
	noColor := true
	if f, ok := w.(*os.File); ok {
		noColor = !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd())
	}

	return tint.NewHandler(w, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: timeFormat,
		NoColor:    noColor,
	})
}

func log(level Level, format string, v ...any) {
	mu.RLock()
	l, minLevel := logger, currentLevel
	mu.RUnlock()

	if level < minLevel {
		return
	}

	l.Log(context.Background(), level.slogLevel(), fmt.Sprintf(format, v...))
}

func Debug(format string, v ...any) {
	log(LevelDebug, format, v...)
}

func Info(format string, v ...any) {
	log(LevelInfo, format, v...)
}

func Warn(format string, v ...any) {
	log(LevelWarn, format, v...)
}

func Error(format string, v ...any) {
	log(LevelError, format, v...)
}
