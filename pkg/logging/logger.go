// Copyright (C) 2025 Cisco Systems, Inc.
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

// Package logging provides structured logging for FIRST server components.
//
// The package is a thin layer over the standard library slog package with
// two destinations:
//
//   - Default: stderr output (follows Unix conventions for services)
//   - Optional: JSON file logging with automatic directory creation
//
// # Basic Usage
//
//	logger := logging.Default()
//	logger.Info("engine scan complete", "engine", name, "hits", len(results))
//	logger.Error("storage unavailable", "error", err)
//
// # File Logging
//
//	logger, err := logging.New(logging.Config{
//	    Level:   logging.LevelInfo,
//	    LogDir:  "/var/log/first",
//	    Service: "first-server",
//	})
//	defer logger.Close() // flushes and closes the log file
//
// File logs are named {service}_{date}.log and are JSON formatted so they
// can be shipped to an aggregator without further parsing.
//
// # Thread Safety
//
// Logger is safe for concurrent use; the underlying slog handlers are
// thread-safe and file state is guarded by a mutex.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Level represents log severity, ordered Debug < Info < Warn < Error.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel converts a config string ("debug", "info", "warn", "error")
// to a Level. Unknown strings map to LevelInfo.
func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Config controls logger construction.
type Config struct {
	// Level is the minimum severity to emit. Defaults to LevelInfo.
	Level Level

	// LogDir enables file logging when non-empty. The directory is
	// created if it does not exist.
	LogDir string

	// Service names the emitting component; it becomes part of the log
	// file name and a "service" attribute on every record.
	Service string

	// Stderr overrides the default stderr destination. Used by tests.
	Stderr io.Writer
}

// Logger wraps slog.Logger with optional file output.
type Logger struct {
	*slog.Logger

	mu   sync.Mutex
	file *os.File
}

// Default returns a stderr-only logger at Info level.
func Default() *Logger {
	l, _ := New(Config{Level: LevelInfo})
	return l
}

// New builds a Logger from cfg. When cfg.LogDir is set, records are written
// both to stderr (text) and to {service}_{date}.log (JSON) in that
// directory. Returns an error only when the log directory or file cannot
// be created.
func New(cfg Config) (*Logger, error) {
	stderr := cfg.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: cfg.Level.slogLevel()}
	handlers := []slog.Handler{slog.NewTextHandler(stderr, opts)}

	logger := &Logger{}
	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}

		service := cfg.Service
		if service == "" {
			service = "first"
		}
		name := fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02"))
		f, err := os.OpenFile(filepath.Join(cfg.LogDir, name),
			os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		logger.file = f
		handlers = append(handlers, slog.NewJSONHandler(f, opts))
	}

	var h slog.Handler
	if len(handlers) == 1 {
		h = handlers[0]
	} else {
		h = multiHandler(handlers)
	}

	logger.Logger = slog.New(h)
	if cfg.Service != "" {
		logger.Logger = logger.Logger.With("service", cfg.Service)
	}
	return logger, nil
}

// Close flushes and closes the log file if one is open. Safe to call on
// stderr-only loggers and safe to call more than once.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// multiHandler fans records out to every wrapped handler.
type multiHandler []slog.Handler

func (m multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, h := range m {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(multiHandler, len(m))
	for i, h := range m {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (m multiHandler) WithGroup(name string) slog.Handler {
	out := make(multiHandler, len(m))
	for i, h := range m {
		out[i] = h.WithGroup(name)
	}
	return out
}
