// v1
// internal/logging/logging.go

// Package logging builds the process logger: text handler writing to stdout
// and an append-only logfile. Components derive child loggers with
// log.With(slog.String("component", ...)).
package logging

import (
	"io"
	"log/slog"
	"os"
)

// Init opens the logfile at LOG_PATH (default <service>.log) and returns a
// logger writing to both stdout and the file. A logfile that cannot be opened
// degrades to stdout-only; the process never refuses to start over logging.
func Init(service string) *slog.Logger {
	logPath := os.Getenv("LOG_PATH")
	if logPath == "" {
		logPath = service + ".log"
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
		l := slog.New(handler)
		l.Error("failed to open log file", "path", logPath, "err", err)
		return l
	}
	mw := io.MultiWriter(os.Stdout, f)
	handler := slog.NewTextHandler(mw, &slog.HandlerOptions{Level: slog.LevelInfo})
	l := slog.New(handler)
	l.Info("logger initialized", "service", service, "file", logPath)
	return l
}
