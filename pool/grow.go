// Package pool implements page-backed pools of fixed-size items with an optional per-CPU cache layer
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package pool

import (
	"runtime"

	"github.com/NVIDIA/mempool/cmn/cos"
	"github.com/NVIDIA/mempool/cmn/debug"
	"github.com/NVIDIA/mempool/cmn/mono"
	"github.com/NVIDIA/mempool/cmn/nlog"
	"github.com/pkg/errors"
)

// grow adds one page. Growth is serialized: a blocking caller waits for the
// current grower and restarts; a non-blocking one restarts (after yielding)
// when the current grower is itself non-blocking, and fails otherwise.
// Called and returns with the pool lock held; drops it around the allocation.
func (p *Pool) grow(flags WaitFlags) error {
	debug.AssertMutexLocked(&p.mu)
	if p.destroyed {
		fatalf("pool %q: grow after destroy", p.name)
	}
	if p.growing {
		if flags.wait() {
			for p.growing {
				p.cond.Wait()
			}
			return errRestart
		}
		if p.growingNoWait {
			// give the other grower a chance to finish
			p.mu.Unlock()
			runtime.Gosched()
			p.mu.Lock()
			return errRestart
		}
		return errors.Wrapf(ErrWouldBlock, "pool %q: growing", p.name)
	}

	p.growing = true
	if !flags.wait() {
		p.growingNoWait = true
	}
	p.mu.Unlock()
	page, err := p.alloc.Alloc(p.pageSize, flags.wait())
	p.mu.Lock()

	debug.Assert(p.growing)
	p.growing, p.growingNoWait = false, false
	p.cond.Broadcast()
	if err != nil {
		return errors.Wrapf(ErrNoMem, "pool %q: failed to allocate page: %v", p.name, err)
	}
	if len(page) != p.pageSize || (!p.noAlign && addrOf(page)&p.pageMask != 0) {
		p.mu.Unlock()
		p.alloc.Free(page)
		p.mu.Lock()
		fatalf("pool %q: allocator returned invalid page %#x (len %d, page size %d)", p.name, addrOf(page), len(page), p.pageSize)
	}
	p.primePage(page)
	p.npagealloc++
	return nil
}

func (p *Pool) primePage(page []byte) {
	ph := &pageHeader{page: page, base: addrOf(page), time: mono.NanoTime(), idx: -1}
	if p.phInPage {
		ph.idx = p.allocSlot(ph)
		*pageTag(page) = phTag{magic: phMagic, poolID: p.id, idx: uint32(ph.idx), nwords: uint32(bmapWords(p.ipp))}
	} else {
		p.phtree.Set(ph.base, ph)
	}
	p.nidle++

	// color
	ph.off = p.itemOffset + p.curColor
	if p.curColor += p.colorStep; p.curColor > p.maxColor {
		p.curColor = 0
	}
	debug.Assert(p.noAlign || (ph.base+uintptr(ph.off))&uintptr(p.align-1) == 0)

	p.emptyPages.insertHead(ph)
	p.nitems += p.ipp
	ph.freelistInit(p)
	if p.curpage == nil {
		p.curpage = ph
	}
	if p.npages++; p.npages > p.hiwat {
		p.hiwat = p.npages
	}
}

// rmPage takes the page out of the pool and queues it to be freed outside the lock
func (p *Pool) rmPage(ph *pageHeader, pq []*pageHeader) []*pageHeader {
	debug.Assert(ph.nmissing == 0)
	p.nidle--
	p.nitems -= p.ipp
	ph.list.remove(ph)
	if p.phInPage {
		tag := pageTag(ph.page)
		if tag.poolID != p.id || tag.magic != phMagic {
			fatalf("pool %q: page %#x: invalid tag (pool %d, magic %#x)", p.name, ph.base, tag.poolID, tag.magic)
		}
		*tag = phTag{}
		p.freeSlot(ph.idx)
	} else {
		p.phtree.Delete(ph.base)
	}
	p.npages--
	p.npagefree++
	p.updateCurpage()
	return append(pq, ph)
}

func (p *Pool) freePages(pq []*pageHeader) {
	for _, ph := range pq {
		p.alloc.Free(ph.page)
		ph.page, ph.bmap = nil, nil
	}
	if nlog.FastV(5) {
		nlog.Infow("freed pages", "pool", p.name, "n", len(pq))
	}
}

// grow (non-blocking) until above low water
func (p *Pool) catchup() error {
	for p.needsCatchup() {
		if err := p.grow(NoWait); err != nil {
			if errors.Is(err, errRestart) {
				continue
			}
			return err
		}
	}
	return nil
}

// Prime grows the pool (blocking) to hold at least n items, and keeps that many pages
func (p *Pool) Prime(n int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.minPages = cos.HowMany(n, p.ipp)
	if p.maxPages <= p.minPages {
		p.maxPages = p.minPages + 1
	}
	for p.npages < p.minPages {
		if err := p.grow(WaitOK); err != nil && !errors.Is(err, errRestart) {
			return err
		}
	}
	return nil
}
