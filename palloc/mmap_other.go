//go:build !linux

// Package palloc provides page allocators that back pool memory:
// page-aligned Go heap pages and (linux) anonymous mmap.
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package palloc

// Mmap falls back to the Go heap where anonymous mmap is not wired
type Mmap struct {
	Heap
}

func NewMmap(pageSize, maxPages int) *Mmap {
	checkSize(pageSize)
	m := &Mmap{}
	m.pageSize = pageSize
	m.limiter.init(maxPages)
	return m
}
