package telemetry

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger creates the Gateway's structured logger. format is "json" or
// "text"; level is one of debug, info, warn, error. Every line carries a
// "component" attribute fixed to "gateway" so log aggregation can tell
// this process's output apart from the device and cloud sides it talks
// to. At debug level the handler also records the call site, since that's
// the level an operator reaches for when chasing one component's
// misbehavior rather than watching the whole fleet.
func NewLogger(format, level string) *slog.Logger {
	lvl, addSource := parseLevel(level)

	opts := &slog.HandlerOptions{Level: lvl, AddSource: addSource}
	var handler slog.Handler

	var w io.Writer = os.Stdout
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler).With("component", "gateway")
}

func parseLevel(level string) (slog.Level, bool) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, true
	case "warn", "warning":
		return slog.LevelWarn, false
	case "error":
		return slog.LevelError, false
	default:
		return slog.LevelInfo, false
	}
}
