// Package pool implements page-backed pools of fixed-size items with an optional per-CPU cache layer
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package pool

import "strings"

type (
	// read-only pool flags
	Flags uint32

	// Get flags: exactly one of WaitOK | NoWait, optionally LimitFail and/or Zero
	WaitFlags uint32

	// PageAllocator provides backing pages; pages must be aligned at their size.
	// Called without the pool lock.
	PageAllocator interface {
		PageSize() int
		Alloc(size int, wait bool) ([]byte, error)
		Free(page []byte)
	}

	// DrainHook is called (without the pool lock) when the hard limit is reached,
	// and by Reclaim; it may return items to the pool.
	DrainHook func(arg any, flags WaitFlags)

	// RedzoneGuard writes and verifies guard bytes past the first `n` (requested size)
	// bytes of an item's slot.
	RedzoneGuard interface {
		Size() int
		Fill(slot []byte, n int)
		Check(slot []byte, n int) bool
	}

	// QuarantineRing delays reuse of freed items. Put returns the evicted
	// (oldest) item, if any, that is then actually freed. Called under the pool lock.
	QuarantineRing interface {
		Put(item []byte) (evicted []byte)
		Flush() [][]byte
		Len() int
	}

	Args struct {
		Allocator  PageAllocator  // nil: registry default
		Redzone    RedzoneGuard   // nil: disabled unless the registry config enables it
		Quarantine QuarantineRing // ditto
		Name       string
		Size       int // requested item size
		Align      int // power of two; 0: word
		Flags      Flags
	}
)

const (
	// items must never be written by the pool (no intrusive free list, no poisoning)
	NoTouch Flags = 1 << iota
	// force page header into the page; requires aligned pages (not with NoAlign)
	PHInPage
	// pages are not assumed aligned: off-page headers, ordered lookup
	NoAlign
)

const (
	WaitOK WaitFlags = 1 << iota
	NoWait
	// with WaitOK: fail instead of waiting at the hard limit
	LimitFail
	// zero the item before handing it out
	Zero
)

func (f WaitFlags) wait() bool { return f&WaitOK != 0 }

func (f WaitFlags) String() string {
	var sb strings.Builder
	for _, e := range []struct {
		f WaitFlags
		s string
	}{{WaitOK, "waitok"}, {NoWait, "nowait"}, {LimitFail, "limitfail"}, {Zero, "zero"}} {
		if f&e.f != 0 {
			if sb.Len() > 0 {
				sb.WriteByte('|')
			}
			sb.WriteString(e.s)
		}
	}
	return sb.String()
}
