// Package pool implements page-backed pools of fixed-size items with an optional per-CPU cache layer
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package pool

import (
	"fmt"

	"github.com/NVIDIA/mempool/cmn/nlog"
	"github.com/pkg/errors"
)

var (
	// backing page allocation failed, or hard limit reached and the caller declined to wait
	ErrNoMem = errors.New("out of memory")
	// non-blocking caller while another goroutine is (blocking-) growing the pool
	ErrWouldBlock = errors.New("operation would block")
	// cache constructor failed (see CtorError)
	ErrCtorFailed = errors.New("constructor failed")

	// internal: state changed while the pool lock was dropped - start over
	errRestart = errors.New("restart")
)

// CtorError is returned by Cache.Get when the object constructor fails;
// the raw item has already been returned to the pool.
type CtorError struct {
	Err  error
	Pool string
}

func (e *CtorError) Error() string {
	return fmt.Sprintf("pool %q: %v: %v", e.Pool, ErrCtorFailed, e.Err)
}

func (e *CtorError) Unwrap() error { return e.Err }

func (*CtorError) Is(target error) bool { return target == ErrCtorFailed }

// fatal consistency violation: caller or allocator bug
func fatalf(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	nlog.ErrorDepth(1, msg)
	nlog.Flush()
	panic(msg)
}
