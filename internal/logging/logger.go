package logging

import (
	"log/slog"
	"os"
)

// New creates the process logger. The addon logs JSON to stdout so the
// supervisor can ingest the stream.
func New(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
