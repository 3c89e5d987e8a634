//go:build !deadbeef

// Package pool implements page-backed pools of fixed-size items with an optional per-CPU cache layer
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package pool

const deadbeefOn = false

func deadbeef([]byte) {}
