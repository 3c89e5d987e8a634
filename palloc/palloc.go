// Package palloc provides page allocators that back pool memory:
// page-aligned Go heap pages and (linux) anonymous mmap.
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package palloc

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/NVIDIA/mempool/cmn/cos"
	"github.com/pkg/errors"
)

var (
	ErrExhausted = errors.New("page allocator exhausted")
	ErrSize      = errors.New("invalid page size")
)

type (
	Stats struct {
		NumAlloc int64 `json:"nalloc"`
		NumFree  int64 `json:"nfree"`
		NumFail  int64 `json:"nfail"`
		InUse    int64 `json:"inuse"` // pages
	}

	// common accounting and optional page cap;
	// when capped, blocking allocations wait for a Free
	limiter struct {
		mu       sync.Mutex
		cond     sync.Cond
		maxPages int64
		inuse    int64
		nalloc   atomic.Int64
		nfree    atomic.Int64
		nfail    atomic.Int64
	}
)

func (l *limiter) init(maxPages int) {
	l.maxPages = int64(maxPages)
	l.cond.L = &l.mu
}

func (l *limiter) acquire(wait bool) error {
	l.mu.Lock()
	for l.maxPages > 0 && l.inuse >= l.maxPages {
		if !wait {
			l.mu.Unlock()
			l.nfail.Add(1)
			return ErrExhausted
		}
		l.cond.Wait()
	}
	l.inuse++
	l.mu.Unlock()
	return nil
}

func (l *limiter) undo() {
	l.mu.Lock()
	l.inuse--
	l.cond.Signal()
	l.mu.Unlock()
	l.nfail.Add(1)
}

func (l *limiter) release() {
	l.mu.Lock()
	l.inuse--
	l.cond.Signal()
	l.mu.Unlock()
	l.nfree.Add(1)
}

func (l *limiter) stats() Stats {
	l.mu.Lock()
	inuse := l.inuse
	l.mu.Unlock()
	return Stats{NumAlloc: l.nalloc.Load(), NumFree: l.nfree.Load(), NumFail: l.nfail.Load(), InUse: inuse}
}

func checkSize(pageSize int) {
	cos.Assertf(cos.IsPow2(pageSize) && pageSize >= 512, "%v: %d", ErrSize, pageSize)
}

// returns the offset that makes &b[off] size-aligned
func alignOff(b []byte, size int) int {
	addr := uintptr(unsafe.Pointer(unsafe.SliceData(b)))
	return int((uintptr(size) - addr&uintptr(size-1)) & uintptr(size-1))
}

func Aligned(page []byte, size int) bool {
	return uintptr(unsafe.Pointer(unsafe.SliceData(page)))&uintptr(size-1) == 0
}
