// Package logging provides structured logging for jaithon-ls using log/slog.
//
// Configuration is controlled via environment variables:
//   - JAITHON_LS_LOG_LEVEL: debug, info, warn, error (default: info)
//   - JAITHON_LS_LOG_FORMAT: text, json (default: text)
//   - JAITHON_LS_LOG_FILE: append logs to this file instead of stderr
//
// Logs never go to stdout, which carries the LSP stream.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Log levels re-exported for convenience
const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

const (
	envLevel  = "JAITHON_LS_LOG_LEVEL"
	envFormat = "JAITHON_LS_LOG_FORMAT"
	envFile   = "JAITHON_LS_LOG_FILE"
)

// Config holds logging configuration
type Config struct {
	Level  slog.Level
	Format string    // "text" or "json"
	Output io.Writer // defaults to os.Stderr
	File   string    // optional log file, overrides Output when opened
	Source string    // component name for context
}

// DefaultConfig returns defaults for the given source component.
func DefaultConfig(source string) Config {
	return Config{
		Level:  LevelInfo,
		Format: "text",
		Output: os.Stderr,
		Source: source,
	}
}

// ParseLevel maps a level name to a slog level. Unknown names report false.
func ParseLevel(name string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return LevelDebug, true
	case "info":
		return LevelInfo, true
	case "warn", "warning":
		return LevelWarn, true
	case "error":
		return LevelError, true
	}
	return LevelInfo, false
}

// LoadConfigFromEnv reads logging config from the JAITHON_LS_LOG_* variables
// on top of DefaultConfig.
func LoadConfigFromEnv(source string) Config {
	cfg := DefaultConfig(source)

	if level, ok := ParseLevel(os.Getenv(envLevel)); ok {
		cfg.Level = level
	}
	if format := os.Getenv(envFormat); format != "" {
		cfg.Format = strings.ToLower(format)
	}
	cfg.File = os.Getenv(envFile)

	return cfg
}

// New creates a configured slog.Logger writing to cfg.Output.
func New(cfg Config) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level: cfg.Level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	return slog.New(handler).With("source", cfg.Source)
}

// Open is like New but honors cfg.File. The returned closer releases the
// log file and is a no-op when logging to cfg.Output.
func Open(cfg Config) (*slog.Logger, io.Closer, error) {
	if cfg.File == "" {
		return New(cfg), nopCloser{}, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}
	cfg.Output = f
	return New(cfg), f, nil
}

// Default returns a logger with configuration loaded from environment.
// A log file that cannot be opened falls back to stderr.
func Default(source string) *slog.Logger {
	cfg := LoadConfigFromEnv(source)
	logger, _, err := Open(cfg)
	if err != nil {
		cfg.File = ""
		logger = New(cfg)
		logger.Warn("log file unavailable, using stderr", "error", err)
	}
	return logger
}

// Nop returns a logger that discards all output.
func Nop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
