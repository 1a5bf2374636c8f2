// Package logger is a small formatted facade over log/slog shared by every
// package in the binary. Level and destination are process-wide and may be
// changed at runtime.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	level slog.LevelVar
	mu    sync.RWMutex
	root  = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: &level}))
)

var levelNames = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// SetOutput swaps the destination for all subsequent lines; w is typically
// an io.MultiWriter over stdout and a log file.
func SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	mu.Lock()
	root = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: &level}))
	mu.Unlock()
}

// SetLevel accepts debug, info, warn or error; unknown names keep info.
func SetLevel(name string) {
	lv, ok := levelNames[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		lv = slog.LevelInfo
	}
	level.Set(lv)
}

func get() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root
}

func Debugf(format string, v ...any) {
	get().Debug(fmt.Sprintf(format, v...))
}

func Infof(format string, v ...any) {
	get().Info(fmt.Sprintf(format, v...))
}

func Warnf(format string, v ...any) {
	get().Warn(fmt.Sprintf(format, v...))
}

func Errorf(format string, v ...any) {
	get().Error(fmt.Sprintf(format, v...))
}
