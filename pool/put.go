// Package pool implements page-backed pools of fixed-size items with an optional per-CPU cache layer
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package pool

import (
	"github.com/NVIDIA/mempool/cmn/mono"
)

// Put returns an item obtained from this pool via Get. Returning anything
// else, or returning an item twice, is a fatal error.
func (p *Pool) Put(item []byte) {
	if pq := p.put(item); len(pq) > 0 {
		p.freePages(pq)
	}
}

func (p *Pool) put(item []byte) (pq []*pageHeader) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		fatalf("pool %q: put to destroyed pool", p.name)
	}

	ph, slot := p.findItem(item)
	if p.redzone != nil && !p.redzone.Check(ph.slot(p, slot), p.reqSize) {
		fatalf("pool %q: redzone violation: item %#x (size %d)", p.name, addrOf(item), p.reqSize)
	}
	if p.quar != nil {
		evicted := p.quar.Put(item)
		if evicted == nil {
			return nil
		}
		ph, slot = p.findItem(evicted)
	}
	return p.doPut(ph, slot, pq)
}

func (ph *pageHeader) slot(p *Pool, slot int) []byte {
	off := ph.off + slot*p.size
	return ph.page[off : off+p.size]
}

func (p *Pool) doPut(ph *pageHeader, slot int, pq []*pageHeader) []*pageHeader {
	if ph.nmissing == 0 {
		fatalf("pool %q: double free: page %#x is idle", p.name, ph.base)
	}
	ph.give(p, slot)
	if deadbeefOn && !p.noTouch {
		b := ph.slot(p, slot)
		if !p.useBitmap {
			b = b[linkSize:]
		}
		deadbeef(b)
	}
	ph.nmissing--
	p.nput++
	p.nitems++
	p.nout--

	// hard-limit waiters
	if p.wanted {
		p.wanted = false
		p.cond.Broadcast()
	}

	switch {
	case ph.nmissing == 0:
		p.nidle++
		if p.nitems-p.ipp >= p.minItems && p.npages > p.minPages && p.npages > p.maxPages {
			pq = p.rmPage(ph, pq)
		} else {
			ph.moveTo(&p.emptyPages)
			ph.time = mono.NanoTime()
		}
		p.updateCurpage()
	case ph.nmissing == p.ipp-1:
		// was full: reuse before fragmenting further
		ph.moveTo(&p.partPages)
		p.curpage = ph
	}
	return pq
}

// findItem locates the item's page header and slot, and validates both
func (p *Pool) findItem(item []byte) (*pageHeader, int) {
	ph := p.findPage(item)
	if ph == nil {
		fatalf("pool %q: item %#x not found", p.name, addrOf(item))
	}
	var (
		addr = addrOf(item)
		off  = int(addr - ph.base)
	)
	if off < ph.off || (off-ph.off)%p.size != 0 || (off-ph.off)/p.size >= p.ipp {
		fatalf("pool %q: item %#x: invalid offset %d in page %#x", p.name, addr, off, ph.base)
	}
	return ph, (off - ph.off) / p.size
}

func (p *Pool) findPage(item []byte) *pageHeader {
	if cap(item) == 0 {
		return nil
	}
	if p.phInPage {
		tag, base := itemTag(item, p.pageMask)
		if tag.magic != phMagic || tag.poolID != p.id || int(tag.idx) >= len(p.slots) {
			return nil
		}
		ph := p.slots[tag.idx]
		if ph == nil || ph.base != base {
			return nil
		}
		return ph
	}
	addr := addrOf(item)
	if p.noAlign {
		var ph *pageHeader
		p.phtree.Descend(addr, func(_ uintptr, v *pageHeader) bool {
			ph = v
			return false
		})
		if ph == nil || addr >= ph.base+uintptr(len(ph.page)) {
			return nil
		}
		return ph
	}
	ph, _ := p.phtree.Get(addr &^ p.pageMask)
	return ph
}
