// Package pool implements page-backed pools of fixed-size items with an optional per-CPU cache layer
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package pool

import (
	"github.com/NVIDIA/mempool/cmn/debug"
	"github.com/NVIDIA/mempool/cmn/nlog"
	"github.com/pkg/errors"
)

// Get returns an item of the requested size (its capacity is the slot size).
// WaitOK may block on the hard limit (unless LimitFail) and on page growth;
// NoWait fails instead with ErrNoMem or ErrWouldBlock.
func (p *Pool) Get(flags WaitFlags) ([]byte, error) {
	debug.Assert(flags&(WaitOK|NoWait) == WaitOK || flags&(WaitOK|NoWait) == NoWait, flags)
	item, err := p.get(flags)
	if err != nil {
		return nil, err
	}
	if flags&Zero != 0 {
		clear(item)
	}
	if p.redzone != nil {
		p.redzone.Fill(item[:cap(item)], p.reqSize)
	}
	return item, nil
}

func (p *Pool) get(flags WaitFlags) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		fatalf("pool %q: get from destroyed pool", p.name)
	}
	for {
		if p.nout > p.hardLimit {
			fatalf("pool %q: items out (%d) exceed hard limit (%d)", p.name, p.nout, p.hardLimit)
		}
		if p.nout == p.hardLimit {
			if p.drainHook != nil {
				hook, arg := p.drainHook, p.drainArg
				p.mu.Unlock()
				hook(arg, flags)
				p.mu.Lock()
				if p.nout < p.hardLimit {
					continue
				}
			}
			if flags.wait() && flags&LimitFail == 0 {
				// until Put
				p.wanted = true
				for p.wanted {
					p.cond.Wait()
				}
				continue
			}
			if p.hardLimitWarn != "" {
				p.hardLimitRate.Do(func() { nlog.Warningf("pool %q: %s", p.name, p.hardLimitWarn) })
			}
			p.nfail++
			return nil, errors.Wrapf(ErrNoMem, "pool %q: hard limit %d reached", p.name, p.hardLimit)
		}

		ph := p.curpage
		if ph == nil {
			debug.Assertf(p.nitems == 0, "pool %q: no current page with %d free items", p.name, p.nitems)
			err := p.grow(flags)
			if err == nil || errors.Is(err, errRestart) || p.curpage != nil {
				continue
			}
			p.nfail++
			return nil, err
		}
		return p.take(ph), nil
	}
}

func (p *Pool) take(ph *pageHeader) []byte {
	if ph.nmissing >= p.ipp {
		fatalf("pool %q: current page %#x is full (%d missing)", p.name, ph.base, ph.nmissing)
	}
	slot := ph.take(p)
	p.nitems--
	p.nout++
	if ph.nmissing == 0 {
		debug.Assert(ph.list == &p.emptyPages, ph.list.name)
		p.nidle--
		ph.moveTo(&p.partPages)
	}
	ph.nmissing++
	if ph.nmissing == p.ipp {
		ph.moveTo(&p.fullPages)
		p.updateCurpage()
	}
	p.nget++

	if p.needsCatchup() {
		if err := p.catchup(); err != nil {
			p.catchupRate.Do(func() { nlog.Warningf("pool %q: low-water catch-up: %v", p.name, err) })
		}
	}
	off := ph.off + slot*p.size
	return ph.page[off : off+p.reqSize : off+p.size]
}
