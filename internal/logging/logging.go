// Package logging provides structured logging using slog.
package logging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	slogmulti "github.com/samber/slog-multi"
)

// Config holds logging configuration.
type Config struct {
	Format string // "json" | "text"
	Level  string // "debug" | "info" | "warn" | "error"
	File   string // optional append-only JSON log file
}

// Setup initializes the global slog logger based on configuration.
// The returned function closes the log file, if one was opened.
func Setup(cfg Config) (func(), error) {
	logger, closer, err := New(os.Stdout, cfg)
	if err != nil {
		return func() {}, err
	}
	slog.SetDefault(logger)
	return closer, nil
}

// New builds a logger writing to w and, when cfg.File is set, fanning out
// to the log file as JSON.
func New(w io.Writer, cfg Config) (*slog.Logger, func(), error) {
	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	if cfg.File == "" {
		return slog.New(handler), func() {}, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file %s: %w", cfg.File, err)
	}

	fileHandler := slog.NewJSONHandler(f, opts)
	logger := slog.New(slogmulti.Fanout(handler, fileHandler))
	return logger, func() { f.Close() }, nil
}

// parseLevel converts a string level to slog.Level.
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

// correlationIDKey is the context key for correlation IDs.
type correlationIDKey struct{}

// WithCorrelationID adds a correlation ID to the context.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, id)
}

// CorrelationID retrieves the correlation ID from context.
func CorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey{}).(string); ok {
		return id
	}
	return ""
}

// GenerateCorrelationID creates a new unique correlation ID.
func GenerateCorrelationID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// UnitLogger creates a logger with spatial unit context fields.
func UnitLogger(ctx context.Context, unit string, seq, pass int) *slog.Logger {
	return slog.With(
		"correlation_id", CorrelationID(ctx),
		"unit", unit,
		"seq", seq,
		"pass", pass,
	)
}

// WorkerLogger tags pool worker output.
func WorkerLogger(workerID int) *slog.Logger {
	return slog.With("worker_id", workerID)
}
