// Package logging builds the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"strings"
)

// ParseLevel maps debug, info, warn or error to a slog level. An empty
// string is info.
func ParseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if strings.TrimSpace(s) == "" {
		return slog.LevelInfo, nil
	}
	err := lvl.UnmarshalText([]byte(strings.TrimSpace(s)))
	return lvl, err
}

// New returns a JSON logger writing to w. An unknown level falls back to
// info and is reported once through the new logger.
func New(level string, w io.Writer) *slog.Logger {
	lvl, err := ParseLevel(level)
	if err != nil {
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
	if err != nil {
		logger.Warn("unknown log level, using info", "level", level)
	}
	return logger
}
