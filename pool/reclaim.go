// Package pool implements page-backed pools of fixed-size items with an optional per-CPU cache layer
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package pool

import (
	"math"
	"time"

	"github.com/NVIDIA/mempool/cmn/cos"
	"github.com/NVIDIA/mempool/cmn/mono"
	"github.com/NVIDIA/mempool/cmn/nlog"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// Reclaim frees idle pages that have been inactive for at least the registry's
// inactive time, without going below low water. Gives up right away when the
// pool is busy. Returns true if any page was freed.
func (p *Pool) Reclaim() bool {
	if !p.mu.TryLock() {
		return false
	}
	if hook, arg := p.drainHook, p.drainArg; hook != nil {
		p.mu.Unlock()
		hook(arg, NoWait)
		if !p.mu.TryLock() {
			return false
		}
	}
	var (
		pq       []*pageHeader
		now      = mono.NanoTime()
		inactive = p.r.inactiveTime.Nanoseconds()
	)
	for ph := p.emptyPages.first(); ph != nil; {
		next := ph.next
		if p.npages <= p.minPages {
			break
		}
		cos.Assert(ph.nmissing == 0)
		if now-ph.time < inactive {
			ph = next
			continue
		}
		if p.nitems-p.ipp < p.minItems || p.npages-1 < p.minPages {
			break
		}
		pq = p.rmPage(ph, pq)
		ph = next
	}
	p.mu.Unlock()

	if len(pq) == 0 {
		return false
	}
	p.freePages(pq)
	return true
}

// SetLowWater keeps at least n free items (and the pages to hold them),
// growing right away when below.
func (p *Pool) SetLowWater(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.minItems = n
	p.minPages = cos.HowMany(n, p.ipp)
	if p.needsCatchup() {
		if err := p.catchup(); err != nil {
			nlog.Warningf("pool %q: low water %d: %v", p.name, n, err)
		}
	}
}

// SetHighWater: idle pages above howmany(n) are freed as soon as they become idle
func (p *Pool) SetHighWater(n int) {
	p.mu.Lock()
	if n == 0 {
		p.maxPages = 0
	} else {
		p.maxPages = cos.HowMany(n, p.ipp)
	}
	p.mu.Unlock()
}

// SetHardLimit caps the number of items out (0: no limit); warning, if not empty,
// is logged at most once per ratecap when the limit is hit.
func (p *Pool) SetHardLimit(n int, warning string, ratecap time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n < 0 || (n > 0 && n < p.nout) {
		return errors.Errorf("pool %q: invalid hard limit %d (items out %d)", p.name, n, p.nout)
	}
	if n == 0 {
		p.hardLimit, p.maxPages = math.MaxInt, math.MaxInt
	} else {
		p.hardLimit = n
		p.maxPages = cos.HowMany(n, p.ipp)
	}
	p.hardLimitWarn = warning
	p.hardLimitRate = &rate.Sometimes{Interval: ratecap}
	if p.wanted {
		p.wanted = false
		p.cond.Broadcast()
	}
	return nil
}

// Destroy frees all pages and unregisters the pool. All items must have been
// returned and no cache may be attached.
func (p *Pool) Destroy() {
	var pq []*pageHeader
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		fatalf("pool %q: destroyed twice", p.name)
	}
	if p.quar != nil {
		for _, item := range p.quar.Flush() {
			ph, slot := p.findItem(item)
			pq = p.doPut(ph, slot, pq)
		}
	}
	if p.cache != nil {
		p.mu.Unlock()
		fatalf("pool %q: destroying with cache attached", p.name)
	}
	if p.nout != 0 {
		nout := p.nout
		p.mu.Unlock()
		fatalf("pool %q: busy: %d items still out", p.name, nout)
	}
	for ph := p.emptyPages.first(); ph != nil; ph = p.emptyPages.first() {
		pq = p.rmPage(ph, pq)
	}
	cos.Assert(p.npages == 0 && p.partPages.n == 0 && p.fullPages.n == 0)
	p.destroyed = true
	p.mu.Unlock()

	p.freePages(pq)
	p.r.unregister(p)
}
