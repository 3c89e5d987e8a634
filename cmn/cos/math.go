// Package cos provides common low-level types and utilities for all mempool packages
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import "github.com/NVIDIA/mempool/cmn/debug"

func IsPow2(n int) bool { return n > 0 && n&(n-1) == 0 }

// smallest multiple of `align` that is greater or equal `val`
func RoundUp(val, align int) int {
	debug.Assert(align > 0)
	if mod := val % align; mod != 0 {
		val += align - mod
	}
	return val
}

// largest multiple of `align` that is less or equal `val`
func RoundDown(val, align int) int {
	debug.Assert(align > 0)
	return val - val%align
}

// number of `per`-sized units needed to hold `n`; 0 => 0
func HowMany(n, per int) int {
	if n <= 0 {
		return 0
	}
	return (n + per - 1) / per
}
