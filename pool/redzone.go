// Package pool implements page-backed pools of fixed-size items with an optional per-CPU cache layer
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package pool

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

const dfltRedzone = 8

// redzone bytes are derived from the slot address, so that a stray copy
// of one item's guard into another is still detected
type redzone struct {
	size int
}

// interface guard
var _ RedzoneGuard = (*redzone)(nil)

func NewRedzone() RedzoneGuard { return &redzone{size: dfltRedzone} }

func (rz *redzone) Size() int { return rz.size }

func (*redzone) pattern(slot []byte) uint64 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(addrOf(slot)))
	return xxhash.Sum64(b[:])
}

func (rz *redzone) Fill(slot []byte, n int) {
	pat := rz.pattern(slot)
	for i := 0; i < rz.size && n+i < len(slot); i++ {
		slot[n+i] = byte(pat >> (8 * (i % 8)))
	}
}

func (rz *redzone) Check(slot []byte, n int) bool {
	pat := rz.pattern(slot)
	for i := 0; i < rz.size && n+i < len(slot); i++ {
		if slot[n+i] != byte(pat>>(8*(i%8))) {
			return false
		}
	}
	return true
}
