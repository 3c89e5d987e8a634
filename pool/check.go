// Package pool implements page-backed pools of fixed-size items with an optional per-CPU cache layer
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package pool

import (
	"math"
	"strings"

	"github.com/pkg/errors"
)

type Stats struct {
	Cache        *CacheStats `json:"cache,omitempty"`
	Name         string      `json:"name"`
	Flags        string      `json:"flags"`
	ID           uint32      `json:"id"`
	Size         int         `json:"size"`
	SlotSize     int         `json:"slot_size"`
	Align        int         `json:"align"`
	PageSize     int         `json:"page_size"`
	ItemsPerPage int         `json:"ipp"`
	ItemOffset   int         `json:"item_offset"`
	MaxColor     int         `json:"max_color"`
	NItems       int         `json:"nitems"`
	NOut         int         `json:"nout"`
	NPages       int         `json:"npages"`
	NIdle        int         `json:"nidle"`
	NQuarantined int         `json:"nquarantined"`
	HiWat        int         `json:"hiwat"`
	MinItems     int         `json:"min_items"`
	MinPages     int         `json:"min_pages"`
	MaxPages     int         `json:"max_pages"`  // -1: unlimited
	HardLimit    int         `json:"hard_limit"` // -1: unlimited
	NGet         int64       `json:"nget"`
	NPut         int64       `json:"nput"`
	NFail        int64       `json:"nfail"`
	NPageAlloc   int64       `json:"npagealloc"`
	NPageFree    int64       `json:"npagefree"`
}

func unlimited(n int) int {
	if n == math.MaxInt {
		return -1
	}
	return n
}

func (p *Pool) flags() string {
	var f []string
	if p.noTouch {
		f = append(f, "notouch")
	}
	if p.phInPage {
		f = append(f, "phinpage")
	} else {
		f = append(f, "phoffpage")
	}
	if p.useBitmap {
		f = append(f, "bitmap")
	} else {
		f = append(f, "list")
	}
	if p.noAlign {
		f = append(f, "noalign")
	}
	if p.redzone != nil {
		f = append(f, "redzone")
	}
	if p.quar != nil {
		f = append(f, "quarantine")
	}
	return strings.Join(f, ",")
}

func (p *Pool) Stats() *Stats {
	p.mu.Lock()
	s := &Stats{
		Name:         p.name,
		Flags:        p.flags(),
		ID:           p.id,
		Size:         p.reqSize,
		SlotSize:     p.size,
		Align:        p.align,
		PageSize:     p.pageSize,
		ItemsPerPage: p.ipp,
		ItemOffset:   p.itemOffset,
		MaxColor:     p.maxColor,
		NItems:       p.nitems,
		NOut:         p.nout,
		NPages:       p.npages,
		NIdle:        p.nidle,
		HiWat:        p.hiwat,
		MinItems:     p.minItems,
		MinPages:     p.minPages,
		MaxPages:     unlimited(p.maxPages),
		HardLimit:    unlimited(p.hardLimit),
		NGet:         p.nget,
		NPut:         p.nput,
		NFail:        p.nfail,
		NPageAlloc:   p.npagealloc,
		NPageFree:    p.npagefree,
	}
	if p.quar != nil {
		s.NQuarantined = p.quar.Len()
	}
	pc := p.cache
	p.mu.Unlock()

	if pc != nil {
		s.Cache = pc.Stats()
	}
	return s
}

// Check walks all pages and verifies pool invariants: list membership vs.
// occupancy, free-list contents, header lookup, and item conservation.
func (p *Pool) Check() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var (
		npages, nfree, nmissing, nidle int
		curFound                       bool
	)
	for _, l := range []*phList{&p.emptyPages, &p.partPages, &p.fullPages} {
		var n int
		for ph := l.first(); ph != nil; ph = ph.next {
			n++
			if ph.list != l {
				return errors.Errorf("pool %q: page %#x: misplaced on %s list", p.name, ph.base, l.name)
			}
			switch {
			case l == &p.emptyPages && ph.nmissing != 0,
				l == &p.partPages && (ph.nmissing == 0 || ph.nmissing >= p.ipp),
				l == &p.fullPages && ph.nmissing != p.ipp:
				return errors.Errorf("pool %q: page %#x: %d missing on %s list", p.name, ph.base, ph.nmissing, l.name)
			}
			free := ph.nfree(p)
			if free < 0 {
				return errors.Errorf("pool %q: page %#x: corrupted free list", p.name, ph.base)
			}
			if free+ph.nmissing != p.ipp {
				return errors.Errorf("pool %q: page %#x: %d free + %d missing != %d", p.name, ph.base, free, ph.nmissing, p.ipp)
			}
			if ph.nmissing == 0 {
				nidle++
			}
			if ph == p.curpage {
				curFound = true
			}
			if err := p.checkLookup(ph); err != nil {
				return err
			}
			nfree += free
			nmissing += ph.nmissing
		}
		if n != l.n {
			return errors.Errorf("pool %q: %s list: counted %d, expected %d", p.name, l.name, n, l.n)
		}
		npages += n
	}

	switch {
	case npages != p.npages:
		return errors.Errorf("pool %q: %d pages on lists, expected %d", p.name, npages, p.npages)
	case nfree != p.nitems:
		return errors.Errorf("pool %q: %d free items, expected %d", p.name, nfree, p.nitems)
	case nmissing != p.nout:
		return errors.Errorf("pool %q: %d missing items, expected %d out", p.name, nmissing, p.nout)
	case p.nitems+p.nout != p.ipp*p.npages:
		return errors.Errorf("pool %q: %d free + %d out != %d pages x %d", p.name, p.nitems, p.nout, p.npages, p.ipp)
	case nidle != p.nidle:
		return errors.Errorf("pool %q: %d idle pages, expected %d", p.name, nidle, p.nidle)
	case p.curpage != nil && (!curFound || p.curpage.list == &p.fullPages):
		return errors.Errorf("pool %q: invalid current page %#x", p.name, p.curpage.base)
	case p.curpage == nil && p.nitems != 0:
		return errors.Errorf("pool %q: no current page with %d free items", p.name, p.nitems)
	case p.nout > p.hardLimit:
		return errors.Errorf("pool %q: %d items out exceed hard limit %d", p.name, p.nout, p.hardLimit)
	}
	if !p.phInPage && p.phtree.Len() != p.npages {
		return errors.Errorf("pool %q: %d indexed headers, expected %d", p.name, p.phtree.Len(), p.npages)
	}
	return nil
}

func (p *Pool) checkLookup(ph *pageHeader) error {
	if p.phInPage {
		tag := pageTag(ph.page)
		if tag.magic != phMagic || tag.poolID != p.id || int(tag.idx) >= len(p.slots) || p.slots[tag.idx] != ph {
			return errors.Errorf("pool %q: page %#x: invalid tag %+v", p.name, ph.base, *tag)
		}
		return nil
	}
	if v, ok := p.phtree.Get(ph.base); !ok || v != ph {
		return errors.Errorf("pool %q: page %#x: not indexed", p.name, ph.base)
	}
	return nil
}
