// Package palloc provides page allocators that back pool memory:
// page-aligned Go heap pages and (linux) anonymous mmap.
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package palloc

import (
	"github.com/NVIDIA/mempool/cmn/debug"
	"github.com/pkg/errors"
)

// Heap allocates size-aligned pages from the Go heap. Freed pages are left
// to the garbage collector.
type Heap struct {
	limiter
	pageSize int
}

// NewHeap returns a Go-heap page allocator; maxPages == 0 means no cap
func NewHeap(pageSize, maxPages int) *Heap {
	checkSize(pageSize)
	h := &Heap{pageSize: pageSize}
	h.limiter.init(maxPages)
	return h
}

func (h *Heap) PageSize() int { return h.pageSize }

// Alloc returns a zeroed page of the given size (a multiple of PageSize)
// aligned at that size.
func (h *Heap) Alloc(size int, wait bool) ([]byte, error) {
	if size <= 0 || size%h.pageSize != 0 {
		return nil, errors.Wrapf(ErrSize, "heap: %d", size)
	}
	if err := h.acquire(wait); err != nil {
		return nil, err
	}
	b := make([]byte, size)
	if !Aligned(b, size) {
		b = make([]byte, 2*size)
		off := alignOff(b, size)
		b = b[off : off+size : off+size]
	}
	debug.Assert(Aligned(b, size))
	h.nalloc.Add(1)
	return b, nil
}

func (h *Heap) Free(page []byte) {
	debug.Assert(len(page) > 0 && len(page)%h.pageSize == 0, len(page))
	clear(page[:min(len(page), 64)]) // scrub in-page header, if any
	h.release()
}

func (h *Heap) Stats() Stats { return h.stats() }
