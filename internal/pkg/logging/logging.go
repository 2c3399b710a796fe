package logging

import (
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
)

// Setup installs the process-wide slog logger: colored console output in
// development, JSON otherwise.
func Setup(level string, development bool) {
	slog.SetDefault(slog.New(NewHandler(os.Stdout, level, development)))
}

// NewHandler builds the handler Setup installs.
func NewHandler(w io.Writer, level string, development bool) slog.Handler {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	if development {
		return tint.NewHandler(w, &tint.Options{Level: logLevel})
	}
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: logLevel})
}
