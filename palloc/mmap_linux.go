// Package palloc provides page allocators that back pool memory:
// page-aligned Go heap pages and (linux) anonymous mmap.
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package palloc

import (
	"time"
	"unsafe"

	"github.com/NVIDIA/mempool/cmn/debug"
	"github.com/NVIDIA/mempool/cmn/nlog"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const (
	mmapRetries = 8
	mmapBackoff = 10 * time.Millisecond
)

// Mmap allocates size-aligned pages via anonymous private mappings, outside
// of the Go heap. Pages must never hold Go pointers.
type Mmap struct {
	limiter
	pageSize int
}

func NewMmap(pageSize, maxPages int) *Mmap {
	checkSize(pageSize)
	m := &Mmap{pageSize: pageSize}
	m.limiter.init(maxPages)
	return m
}

func (m *Mmap) PageSize() int { return m.pageSize }

func (m *Mmap) Alloc(size int, wait bool) ([]byte, error) {
	if size <= 0 || size%m.pageSize != 0 {
		return nil, errors.Wrapf(ErrSize, "mmap: %d", size)
	}
	if err := m.acquire(wait); err != nil {
		return nil, err
	}
	var (
		p   unsafe.Pointer
		err error
	)
	for i := 0; ; i++ {
		if p, err = m.mmap(size); err == nil {
			break
		}
		if !wait || i >= mmapRetries {
			m.undo()
			return nil, errors.Wrapf(err, "mmap %d", size)
		}
		nlog.Warningln("mmap", size, "failed:", err, "- retrying")
		time.Sleep(mmapBackoff << i)
	}
	m.nalloc.Add(1)
	return unsafe.Slice((*byte)(p), size), nil
}

// over-map by size and trim both ends to get a size-aligned region
func (m *Mmap) mmap(size int) (unsafe.Pointer, error) {
	// page-sized requests at the OS page size are aligned as is
	if size <= unix.Getpagesize() {
		return unix.MmapPtr(-1, 0, nil, uintptr(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	}
	total := uintptr(2 * size)
	p, err := unix.MmapPtr(-1, 0, nil, total, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, err
	}
	var (
		addr    = uintptr(p)
		aligned = (addr + uintptr(size) - 1) &^ (uintptr(size) - 1)
		head    = aligned - addr
		tail    = total - head - uintptr(size)
	)
	if head > 0 {
		err = unix.MunmapPtr(p, head)
		debug.AssertNoErr(err)
	}
	if tail > 0 {
		err = unix.MunmapPtr(unsafe.Add(p, head+uintptr(size)), tail)
		debug.AssertNoErr(err)
	}
	return unsafe.Add(p, head), nil
}

func (m *Mmap) Free(page []byte) {
	debug.Assert(len(page) > 0 && len(page)%m.pageSize == 0, len(page))
	if err := unix.MunmapPtr(unsafe.Pointer(unsafe.SliceData(page)), uintptr(len(page))); err != nil {
		nlog.Errorln("munmap", len(page), "failed:", err)
	}
	m.release()
}

func (m *Mmap) Stats() Stats { return m.stats() }
