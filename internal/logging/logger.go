// Package logging builds the zap logger and feeds the user-visible activity
// ring kept in the runtime document.
package logging

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"ambler/internal/config"
	"ambler/internal/types"
)

// New builds the process logger from config. Debug switches the level; JSON
// selects the production encoder, otherwise the console encoder is used.
func New(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.JSON {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	if cfg.Debug {
		zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	if cfg.File != "" {
		zc.OutputPaths = append(zc.OutputPaths, cfg.File)
	}
	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// Feed mirrors engine events into both the zap logger and the bounded
// activity ring of the runtime document, which the status surface reads.
type Feed struct {
	log   *zap.Logger
	store types.RuntimeStore
	clock types.Clock
}

// NewFeed wires a Feed. clock may be nil, defaulting to the real clock.
func NewFeed(log *zap.Logger, store types.RuntimeStore, clock types.Clock) *Feed {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &Feed{log: log, store: store, clock: clock}
}

// Logger exposes the underlying zap logger for structured fields.
func (f *Feed) Logger() *zap.Logger { return f.log }

// Named returns a Feed whose zap logger carries the given name.
func (f *Feed) Named(name string) *Feed {
	return &Feed{log: f.log.Named(name), store: f.store, clock: f.clock}
}

// Info records an informational feed event.
func (f *Feed) Info(ctx context.Context, code, msg string, fields ...zap.Field) {
	f.log.Info(msg, append(fields, zap.String("code", code))...)
	f.append(ctx, "INFO", code, msg)
}

// Warn records a warning feed event.
func (f *Feed) Warn(ctx context.Context, code, msg string, fields ...zap.Field) {
	f.log.Warn(msg, append(fields, zap.String("code", code))...)
	f.append(ctx, "WARN", code, msg)
}

// Error records an error feed event.
func (f *Feed) Error(ctx context.Context, code, msg string, fields ...zap.Field) {
	f.log.Error(msg, append(fields, zap.String("code", code))...)
	f.append(ctx, "ERROR", code, msg)
}

func (f *Feed) append(ctx context.Context, level, code, msg string) {
	entry := types.FeedEntry{
		TS:      f.clock.Now().Truncate(time.Millisecond),
		Level:   level,
		Code:    code,
		Message: msg,
	}
	// The feed is best-effort; a store failure must never take an engine down.
	if _, err := f.store.MutateRuntime(ctx, func(r *types.RuntimeState) {
		r.AppendFeed(entry)
	}); err != nil {
		f.log.Warn("feed append failed", zap.Error(err))
	}
}
