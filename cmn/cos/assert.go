// Package cos provides common low-level types and utilities for all mempool packages
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"fmt"

	"github.com/NVIDIA/mempool/cmn/nlog"
)

const assertMsg = "assertion failed"

// always-on assertions: fatal consistency violations, never environmental errors
// (compare w/ cmn/debug that compiles out without the `debug` build tag)

func Assert(cond bool) {
	if !cond {
		nlog.Flush()
		panic(assertMsg)
	}
}

// NOTE: when formatting, `if !cond { AssertMsg(false, fmt.Sprintf(...)) }` is the preferable usage.
func AssertMsg(cond bool, msg string) {
	if !cond {
		nlog.Flush()
		panic(assertMsg + ": " + msg)
	}
}

func Assertf(cond bool, f string, a ...any) {
	if !cond {
		AssertMsg(cond, fmt.Sprintf(f, a...))
	}
}

func AssertNoErr(err error) {
	if err != nil {
		nlog.Flush()
		panic(err)
	}
}
