//go:build deadbeef

// Package pool implements page-backed pools of fixed-size items with an optional per-CPU cache layer
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package pool

const (
	deadbeefOn = true
	deadBEEF   = "DEADBEEF"
)

func deadbeef(b []byte) {
	l := len(b)
	for i := 0; i < l; i += len(deadBEEF) {
		copy(b[i:], deadBEEF)
	}
}
