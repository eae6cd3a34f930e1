package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds the structured logger for one quoradb-node process. Every
// record carries node_id so a log aggregator fed by every voter in a cluster
// can tell them apart; the teacher's single-server/single-agent layout never
// needed that, since there was only ever one process to attribute a line to.
//
// format is "json" (default) or "text"; level is "debug", "info" (default),
// "warn" or "error". When filePath is non-empty, logs go to stdout and the
// file (MultiWriter); the returned io.Closer must be called on shutdown to
// flush and close the file, and is a no-op when filePath is empty.
func NewLogger(nodeID, level, format, filePath string) (*slog.Logger, io.Closer) {
	lvl := parseLevel(level)
	opts := &slog.HandlerOptions{Level: lvl}

	var w io.Writer = os.Stdout
	var closer io.Closer = io.NopCloser(strings.NewReader(""))

	if filePath != "" {
		f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			// Can't open the file: fall back to stdout only rather than fail node startup.
			fmt.Fprintf(os.Stderr, "WARNING: could not open log file %q: %v (logging to stdout only)\n", filePath, err)
		} else {
			w = io.MultiWriter(os.Stdout, f)
			closer = f
		}
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	logger := slog.New(handler)
	if nodeID != "" {
		logger = logger.With("node_id", nodeID)
	}
	return logger, closer
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
