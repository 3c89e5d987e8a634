// Package pool implements page-backed pools of fixed-size items with an optional per-CPU cache layer
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package pool

import (
	"math"
	"sync"
	"time"

	"github.com/NVIDIA/mempool/cmn/cos"
	"github.com/NVIDIA/mempool/cmn/nlog"
	"github.com/NVIDIA/mempool/sys"
	"github.com/tidwall/btree"
	"golang.org/x/time/rate"
)

// ============== Theory Of Operations ==================================
//
// Pool carves fixed-size items out of pages obtained from a PageAllocator.
// Each page is described by a page header that is either:
// - on-page: a small tag at the start of the page identifies the pool and
//   the header (items are then located by masking their address), or
// - off-page: headers are indexed by page base address in a B-tree.
// Free items are tracked per page by a bitmap or an intrusive linked list;
// the variant is chosen once, at init.
//
// Pages move between three lists: empty (all items free), partial, and full.
// Get takes from `curpage` (a partial page if any, else an empty one) and
// grows the pool one page at a time; Put returns the item to its page, and
// idle pages are either freed right away (above high water) or left for
// Reclaim once inactive.
//
// All pool state is protected by a single mutex; page allocation and page
// freeing always happen with the mutex released. Cache (see cache.go) adds
// a lock-free per-CPU layer on top.
//
// ======================================================================

const (
	dfltAlign   = 8
	maxPoolName = 64
)

type Pool struct {
	mu   sync.Mutex
	cond sync.Cond

	r      *Registry
	alloc  PageAllocator
	phtree *btree.Map[uintptr, *pageHeader] // off-page headers
	cache  *Cache

	redzone RedzoneGuard
	quar    QuarantineRing

	drainHook DrainHook
	drainArg  any

	hardLimitWarn string
	hardLimitRate *rate.Sometimes
	catchupRate   rate.Sometimes

	name string

	emptyPages phList
	partPages  phList
	fullPages  phList
	curpage    *pageHeader

	slots     []*pageHeader // on-page headers by tag index
	freeSlots []int32

	// geometry (read-only after init)
	reqSize    int
	size       int
	align      int
	pageSize   int
	ipp        int
	itemOffset int
	maxColor   int
	colorStep  int
	curColor   int
	pageMask   uintptr

	// counters
	nitems     int
	nout       int
	npages     int
	nidle      int
	hiwat      int
	nget       int64
	nput       int64
	nfail      int64
	npagealloc int64
	npagefree  int64

	// limits
	minItems  int
	minPages  int
	maxPages  int
	hardLimit int

	id uint32

	noTouch   bool
	phInPage  bool
	useBitmap bool
	noAlign   bool

	growing       bool
	growingNoWait bool
	wanted        bool
	destroyed     bool
}

func newPool(r *Registry, args *Args) *Pool {
	p := &Pool{
		r:         r,
		alloc:     args.Allocator,
		name:      args.Name,
		reqSize:   args.Size,
		align:     args.Align,
		noTouch:   args.Flags&NoTouch != 0,
		noAlign:   args.Flags&NoAlign != 0,
		redzone:   args.Redzone,
		quar:      args.Quarantine,
		maxPages:  math.MaxInt,
		hardLimit: math.MaxInt,
	}
	p.cond.L = &p.mu
	p.catchupRate.Interval = 10 * time.Second
	cos.Assert(p.alloc != nil)
	if len(p.name) > maxPoolName {
		p.name = p.name[:maxPoolName]
	}
	p.pageSize = p.alloc.PageSize()
	cos.Assertf(cos.IsPow2(p.pageSize), "pool %q: invalid page size %d", p.name, p.pageSize)
	p.pageMask = uintptr(p.pageSize - 1)

	if p.align == 0 {
		p.align = dfltAlign
	}
	cos.Assertf(cos.IsPow2(p.align) && p.align <= p.pageSize, "pool %q: invalid alignment %d", p.name, p.align)
	cos.Assertf(p.reqSize > 0, "pool %q: invalid item size %d", p.name, p.reqSize)

	// slot size
	size := p.reqSize
	if !p.noTouch {
		size = max(size, linkSize)
	}
	p.size = cos.RoundUp(size, p.align)
	if p.noTouch {
		p.redzone = nil
	}
	p.initRedzone()
	if p.size > p.pageSize {
		fatalf("pool %q: item size %d exceeds page size %d", p.name, p.size, p.pageSize)
	}

	if args.Flags&PHInPage != 0 && p.noAlign {
		fatalf("pool %q: on-page headers require page-aligned pages (NoAlign)", p.name)
	}
	p.initGeometry(args.Flags&PHInPage != 0)
	if p.ipp == 0 {
		fatalf("pool %q: zero items per page (size %d, page %d, offset %d)", p.name, p.size, p.pageSize, p.itemOffset)
	}
	p.initColor()
	if !p.phInPage {
		p.phtree = btree.NewMap[uintptr, *pageHeader](32)
	}
	p.emptyPages.name, p.partPages.name, p.fullPages.name = "empty", "partial", "full"
	return p
}

// grow the slot when the redzone doesn't fit in the alignment slack
func (p *Pool) initRedzone() {
	if p.redzone == nil {
		return
	}
	rz := p.redzone.Size()
	if p.size-p.reqSize >= rz {
		return
	}
	nsz := cos.RoundUp(p.reqSize+rz, p.align)
	if nsz > p.pageSize {
		nlog.Warningf("pool %q: no room for %dB redzone (item %d, page %d) - disabling", p.name, rz, p.size, p.pageSize)
		p.redzone = nil
		return
	}
	p.size = nsz
}

// header placement, free-list variant, items per page
func (p *Pool) initGeometry(forceInPage bool) {
	switch {
	case forceInPage:
		p.phInPage = true
	case p.noAlign:
		p.phInPage = false
	case p.size < min(p.pageSize/16, phSize*8):
		p.phInPage = true
	default:
		// the header is free when it wastes no items
		off := cos.RoundUp(phSize, p.align)
		p.phInPage = (p.pageSize-off)/p.size == p.pageSize/p.size
	}
	if !p.phInPage {
		p.itemOffset = 0
		p.ipp = p.pageSize / p.size
		p.useBitmap = true
		return
	}
	p.itemOffset = cos.RoundUp(phSize, p.align)
	p.ipp = (p.pageSize - p.itemOffset) / p.size
	if p.noTouch {
		// the header must hold the bitmap
		for {
			need := cos.RoundUp(phTagSize+8*bmapWords(p.ipp), p.align)
			if need <= p.itemOffset {
				break
			}
			p.itemOffset = need
			p.ipp = max((p.pageSize-p.itemOffset)/p.size, 0)
		}
		p.useBitmap = true
		return
	}
	// bitmap only if it fits into the aligned header slack
	p.useBitmap = 8*bmapWords(p.ipp) <= p.itemOffset-phTagSize
}

// rotate the first item offset by cache line (or alignment) within the page slack
func (p *Pool) initColor() {
	slack := p.pageSize - p.itemOffset - p.ipp*p.size
	p.maxColor = cos.RoundDown(slack, p.align)
	cl := sys.CacheLineSize()
	if cl%p.align == 0 && cl <= p.maxColor {
		p.colorStep = cl
	} else {
		p.colorStep = p.align
	}
}

func (p *Pool) Name() string      { return p.name }
func (p *Pool) ID() uint32        { return p.id }
func (p *Pool) Size() int         { return p.reqSize }
func (p *Pool) SlotSize() int     { return p.size }
func (p *Pool) ItemsPerPage() int { return p.ipp }
func (p *Pool) PageSize() int     { return p.pageSize }

func (p *Pool) Cache() *Cache {
	p.mu.Lock()
	pc := p.cache
	p.mu.Unlock()
	return pc
}

func (p *Pool) SetDrainHook(hook DrainHook, arg any) {
	p.mu.Lock()
	if p.drainHook != nil {
		p.mu.Unlock()
		fatalf("pool %q: drain hook already set", p.name)
	}
	p.drainHook, p.drainArg = hook, arg
	p.mu.Unlock()
}

func (p *Pool) attach(pc *Cache) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cache != nil {
		fatalf("pool %q: cache already attached", p.name)
	}
	p.cache = pc
}

func (p *Pool) detach(pc *Cache) {
	p.mu.Lock()
	cos.Assert(p.cache == pc)
	p.cache = nil
	p.mu.Unlock()
}

// on-page tag slot index
func (p *Pool) allocSlot(ph *pageHeader) int32 {
	if n := len(p.freeSlots); n > 0 {
		idx := p.freeSlots[n-1]
		p.freeSlots = p.freeSlots[:n-1]
		p.slots[idx] = ph
		return idx
	}
	p.slots = append(p.slots, ph)
	return int32(len(p.slots) - 1)
}

func (p *Pool) freeSlot(idx int32) {
	p.slots[idx] = nil
	p.freeSlots = append(p.freeSlots, idx)
}

func (p *Pool) updateCurpage() {
	p.curpage = p.partPages.first()
	if p.curpage == nil {
		p.curpage = p.emptyPages.first()
	}
}

// low water
func (p *Pool) needsCatchup() bool { return p.nitems < p.minItems || p.npages < p.minPages }
