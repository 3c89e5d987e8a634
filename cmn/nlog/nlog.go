// Package nlog - mempool logger: leveled, structured when asked to, and
// quiet by default below the configured verbosity
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package nlog

import (
	"os"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	EncConsole = "console"
	EncJSON    = "json"
)

var (
	slog    atomic.Pointer[zap.SugaredLogger]
	level   = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	verbose atomic.Int32 // see FastV
)

func init() {
	slog.Store(newLogger(EncConsole))
}

// Init (re)configures the logger; empty values keep the defaults (info, console).
func Init(lvl, encoding string, verbosity int) error {
	if lvl != "" {
		l, err := zapcore.ParseLevel(lvl)
		if err != nil {
			return err
		}
		level.SetLevel(l)
	}
	if encoding == "" {
		encoding = EncConsole
	}
	old := slog.Swap(newLogger(encoding))
	_ = old.Sync()
	verbose.Store(int32(verbosity))
	return nil
}

func newLogger(encoding string) *zap.SugaredLogger {
	ecfg := zap.NewProductionEncoderConfig()
	ecfg.EncodeTime = zapcore.ISO8601TimeEncoder
	ecfg.EncodeDuration = zapcore.StringDurationEncoder
	ecfg.EncodeCaller = zapcore.ShortCallerEncoder

	var enc zapcore.Encoder
	if encoding == EncJSON {
		enc = zapcore.NewJSONEncoder(ecfg)
	} else {
		ecfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(ecfg)
	}
	core := zapcore.NewCore(enc, zapcore.Lock(os.Stderr), level)
	// +1: callers see their own file:line rather than this package's
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).Sugar()
}

func sugar() *zap.SugaredLogger { return slog.Load() }

// FastV returns true when the configured verbosity is at least `lvl`;
// used to guard chatty logging in hot paths
func FastV(lvl int) bool { return verbose.Load() >= int32(lvl) }
