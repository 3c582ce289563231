package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

// New returns a JSON slog.Logger configured for the given service name.
func New(service string, level slog.Level) *slog.Logger {
	return NewWithWriters(service, level, os.Stdout)
}

// NewWithFile fans the stdout JSON stream out to an appended log file as well.
// The returned close function releases the file.
func NewWithFile(service string, level slog.Level, path string) (*slog.Logger, func() error, error) {
	if path == "" {
		return New(service, level), func() error { return nil }, nil
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return NewWithWriters(service, level, os.Stdout, file), file.Close, nil
}

// NewWithWriters builds a logger writing JSON records to every writer.
func NewWithWriters(service string, level slog.Level, writers ...io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	handlers := make([]slog.Handler, 0, len(writers))
	for _, w := range writers {
		handlers = append(handlers, slog.NewJSONHandler(w, opts))
	}
	return slog.New(slogmulti.Fanout(handlers...)).With("service", service)
}
