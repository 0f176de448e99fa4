// Package logger is a thin printf front over slog shared by every component.
package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"log/slog"
)

var (
	mu sync.RWMutex
	// zero LevelVar is Info, the default level
	level slog.LevelVar
	log   = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: &level}))
)

// SetOutput swaps the destination, typically for the stdout+file tee set up
// in main.
func SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	mu.Lock()
	log = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: &level}))
	mu.Unlock()
}

// SetLevel parses the configured level name. Unknown names fall back to info.
func SetLevel(name string) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn", "warning":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
}

func logf(l slog.Level, format string, v ...any) {
	mu.RLock()
	lg := log
	mu.RUnlock()
	lg.Log(context.Background(), l, fmt.Sprintf(format, v...))
}

func Debugf(format string, v ...any) { logf(slog.LevelDebug, format, v...) }
func Infof(format string, v ...any)  { logf(slog.LevelInfo, format, v...) }
func Warnf(format string, v ...any)  { logf(slog.LevelWarn, format, v...) }
func Errorf(format string, v ...any) { logf(slog.LevelError, format, v...) }
