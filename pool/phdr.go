// Package pool implements page-backed pools of fixed-size items with an optional per-CPU cache layer
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package pool

import (
	"unsafe"

	"github.com/NVIDIA/mempool/cmn/debug"
)

const (
	phMagic   = 0x70686472 // on-page tag
	phTagSize = int(unsafe.Sizeof(phTag{}))
	// nominal on-page header: tag plus one bitmap word
	phSize = phTagSize + 8
)

type (
	// written at the start of a page when its header is on-page;
	// holds no Go pointers (pages may live outside the Go heap)
	phTag struct {
		magic  uint32
		poolID uint32
		idx    uint32 // index into Pool.slots
		nwords uint32 // in-page bitmap words
	}

	pageHeader struct {
		page     []byte
		next     *pageHeader
		prev     *pageHeader
		list     *phList
		bmap     []uint64 // 1 = free; nil when using the linked list
		base     uintptr
		time     int64 // mono time when it last became idle
		nmissing int   // items out
		off      int   // first item: header + color
		idx      int32 // on-page: slot index; -1 otherwise
		head     uint32
	}

	// intrusive doubly-linked list of page headers; insertion at the head
	phList struct {
		head *pageHeader
		name string
		n    int
	}
)

func addrOf(b []byte) uintptr { return uintptr(unsafe.Pointer(unsafe.SliceData(b))) }

func pageTag(page []byte) *phTag { return (*phTag)(unsafe.Pointer(unsafe.SliceData(page))) }

// the tag of the page that contains `item`, given the page mask
func itemTag(item []byte, mask uintptr) (*phTag, uintptr) {
	var (
		ptr  = unsafe.Pointer(unsafe.SliceData(item))
		addr = uintptr(ptr)
		base = addr &^ mask
	)
	return (*phTag)(unsafe.Add(ptr, -int(addr-base))), base
}

////////////
// phList //
////////////

func (l *phList) first() *pageHeader { return l.head }

func (l *phList) insertHead(ph *pageHeader) {
	debug.Assert(ph.list == nil)
	ph.prev, ph.next = nil, l.head
	if l.head != nil {
		l.head.prev = ph
	}
	l.head = ph
	ph.list = l
	l.n++
}

func (l *phList) remove(ph *pageHeader) {
	debug.Assert(ph.list == l, ph.list, l)
	if ph.prev != nil {
		ph.prev.next = ph.next
	} else {
		l.head = ph.next
	}
	if ph.next != nil {
		ph.next.prev = ph.prev
	}
	ph.next, ph.prev, ph.list = nil, nil, nil
	l.n--
}

// move to the head of `to`
func (ph *pageHeader) moveTo(to *phList) {
	ph.list.remove(ph)
	to.insertHead(ph)
}
