// Package nlog - mempool logger: leveled, structured when asked to, and
// quiet by default below the configured verbosity
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package nlog

import "go.uber.org/zap"

func InfoDepth(depth int, args ...any) {
	sugar().WithOptions(zap.AddCallerSkip(depth)).Info(args...)
}

func ErrorDepth(depth int, args ...any) {
	sugar().WithOptions(zap.AddCallerSkip(depth)).Error(args...)
}

func Infoln(args ...any)                  { sugar().Infoln(args...) }
func Infof(format string, args ...any)    { sugar().Infof(format, args...) }
func Warningln(args ...any)               { sugar().Warnln(args...) }
func Warningf(format string, args ...any) { sugar().Warnf(format, args...) }
func Errorln(args ...any)                 { sugar().Errorln(args...) }
func Errorf(format string, args ...any)   { sugar().Errorf(format, args...) }

// structured variant, e.g.: nlog.Infow("grow", "pool", name, "npages", n)
func Infow(msg string, kv ...any) { sugar().Infow(msg, kv...) }

func Flush() { _ = sugar().Sync() }
