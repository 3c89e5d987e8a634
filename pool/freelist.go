// Package pool implements page-backed pools of fixed-size items with an optional per-CPU cache layer
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package pool

import (
	"encoding/binary"
	"math/bits"
	"unsafe"
)

// Each pool picks one of the two free-list variants at init and keeps it:
// - bitmap: one bit per slot (1 = free); lives in the on-page header slack
//   or, for off-page headers, next to the header;
// - linked list: free items carry {freeMagic, next slot+1} in their first 8 bytes.

const (
	freeMagic = 0xdeadbeef
	linkSize  = 8
)

func bmapWords(ipp int) int { return (ipp + 63) / 64 }

////////////
// bitmap //
////////////

func (ph *pageHeader) bmapInit(p *Pool) {
	nw := bmapWords(p.ipp)
	if p.phInPage {
		ph.bmap = unsafe.Slice((*uint64)(unsafe.Pointer(&ph.page[phTagSize])), nw)
	} else {
		ph.bmap = make([]uint64, nw)
	}
	for i := range ph.bmap {
		ph.bmap[i] = ^uint64(0)
	}
	if rem := p.ipp % 64; rem != 0 {
		ph.bmap[nw-1] = 1<<rem - 1
	}
}

func (ph *pageHeader) bmapGet(p *Pool) int {
	for i, w := range ph.bmap {
		if w != 0 {
			bit := bits.TrailingZeros64(w)
			ph.bmap[i] = w &^ (1 << bit)
			return i*64 + bit
		}
	}
	fatalf("pool %q: page %#x: bitmap empty, nmissing %d", p.name, ph.base, ph.nmissing)
	return -1
}

func (ph *pageHeader) bmapPut(p *Pool, slot int) {
	i, bit := slot/64, uint(slot%64)
	if ph.bmap[i]&(1<<bit) != 0 {
		fatalf("pool %q: double free: page %#x, slot %d", p.name, ph.base, slot)
	}
	ph.bmap[i] |= 1 << bit
}

func (ph *pageHeader) bmapCount() (n int) {
	for _, w := range ph.bmap {
		n += bits.OnesCount64(w)
	}
	return
}

/////////////////
// linked list //
/////////////////

func (ph *pageHeader) link(p *Pool, slot int) []byte {
	off := ph.off + slot*p.size
	return ph.page[off : off+linkSize]
}

func (ph *pageHeader) listInit(p *Pool) {
	ph.head = 0
	for slot := p.ipp - 1; slot >= 0; slot-- {
		ph.listPush(p, slot)
	}
}

func (ph *pageHeader) listPush(p *Pool, slot int) {
	l := ph.link(p, slot)
	binary.NativeEndian.PutUint32(l, freeMagic)
	binary.NativeEndian.PutUint32(l[4:], ph.head)
	ph.head = uint32(slot + 1)
}

func (ph *pageHeader) listGet(p *Pool) int {
	if ph.head == 0 {
		fatalf("pool %q: page %#x: free list empty, nmissing %d", p.name, ph.base, ph.nmissing)
	}
	slot := int(ph.head - 1)
	l := ph.link(p, slot)
	if binary.NativeEndian.Uint32(l) != freeMagic {
		fatalf("pool %q: free list modified: page %#x, slot %d, magic %#x", p.name, ph.base, slot,
			binary.NativeEndian.Uint32(l))
	}
	next := binary.NativeEndian.Uint32(l[4:])
	if next > uint32(p.ipp) {
		fatalf("pool %q: free list modified: page %#x, slot %d, next %d", p.name, ph.base, slot, next)
	}
	ph.head = next
	binary.NativeEndian.PutUint32(l, 0) // live items don't carry the magic
	return slot
}

func (ph *pageHeader) listPut(p *Pool, slot int) {
	if binary.NativeEndian.Uint32(ph.link(p, slot)) == freeMagic && ph.listHas(p, slot) {
		fatalf("pool %q: double free: page %#x, slot %d", p.name, ph.base, slot)
	}
	ph.listPush(p, slot)
}

func (ph *pageHeader) listHas(p *Pool, slot int) bool {
	for i, n := ph.head, 0; i != 0 && n <= p.ipp; n++ {
		if int(i-1) == slot {
			return true
		}
		i = binary.NativeEndian.Uint32(ph.link(p, int(i-1))[4:])
	}
	return false
}

// walks the list; returns -1 when the list is corrupted
func (ph *pageHeader) listCount(p *Pool) (n int) {
	for i := ph.head; i != 0; n++ {
		if n >= p.ipp || i > uint32(p.ipp) {
			return -1
		}
		l := ph.link(p, int(i-1))
		if binary.NativeEndian.Uint32(l) != freeMagic {
			return -1
		}
		i = binary.NativeEndian.Uint32(l[4:])
	}
	return n
}

//////////////////////
// variant dispatch //
//////////////////////

func (ph *pageHeader) freelistInit(p *Pool) {
	if p.useBitmap {
		ph.bmapInit(p)
	} else {
		ph.listInit(p)
	}
}

func (ph *pageHeader) take(p *Pool) int {
	if p.useBitmap {
		return ph.bmapGet(p)
	}
	return ph.listGet(p)
}

func (ph *pageHeader) give(p *Pool, slot int) {
	if p.useBitmap {
		ph.bmapPut(p, slot)
	} else {
		ph.listPut(p, slot)
	}
}

func (ph *pageHeader) nfree(p *Pool) int {
	if p.useBitmap {
		return ph.bmapCount()
	}
	return ph.listCount(p)
}
