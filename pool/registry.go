// Package pool implements page-backed pools of fixed-size items with an optional per-CPU cache layer
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package pool

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NVIDIA/mempool/cmn/config"
	"github.com/NVIDIA/mempool/cmn/cos"
	"github.com/NVIDIA/mempool/cmn/nlog"
	"github.com/NVIDIA/mempool/hk"
	"github.com/NVIDIA/mempool/palloc"
	"github.com/NVIDIA/mempool/percpu"
	"github.com/NVIDIA/mempool/sys"
)

const drainName = "pool-drain" + hk.NameSuffix

// Registry is the allocator subsystem context: it owns the list of pools,
// the CPU set used by caches, the default page allocator, and the
// empty cache-group lists shared by all caches.
// Multiple registries may coexist; there is no global state.
type Registry struct {
	config       *config.Config
	cpus         *percpu.Set
	alloc        PageAllocator
	hk           *hk.Housekeeper
	pools        []*Pool
	normalEmpty  lflist[cacheGroup, *cacheGroup]
	largeEmpty   lflist[cacheGroup, *cacheGroup]
	mu           sync.Mutex
	inactiveTime time.Duration
	nextID       atomic.Uint32
	drainIdx     int
	largeGroups  bool
	started      bool
}

// NewRegistry validates the config (nil: defaults) and creates an idle registry;
// Start enables periodic draining.
func NewRegistry(cfg *config.Config) (*Registry, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ncpu := cfg.NumCPU
	if ncpu == 0 {
		ncpu = sys.NumCPU()
	}
	maxCPU := max(cfg.MaxCPU, ncpu)
	r := &Registry{
		config:       cfg,
		cpus:         percpu.NewSet(ncpu, maxCPU),
		alloc:        palloc.NewHeap(int(cfg.PageSize), 0),
		inactiveTime: cfg.InactiveTime,
		largeGroups:  cfg.LargeGroups,
	}
	r.normalEmpty.init()
	r.largeEmpty.init()
	return r, nil
}

func (r *Registry) CPUs() *percpu.Set    { return r.cpus }
func (r *Registry) Config() *config.Config { return r.config }

func (r *Registry) Allocator() PageAllocator {
	r.mu.Lock()
	a := r.alloc
	r.mu.Unlock()
	return a
}

// SetAllocator replaces the default page allocator for pools created from now on
func (r *Registry) SetAllocator(a PageAllocator) {
	r.mu.Lock()
	r.alloc = a
	r.mu.Unlock()
}

// NewPool creates and registers a pool; invalid arguments are fatal.
func (r *Registry) NewPool(args *Args) *Pool {
	a := *args
	if a.Redzone == nil && r.config.Redzone && a.Flags&NoTouch == 0 {
		a.Redzone = NewRedzone()
	}
	if a.Quarantine == nil && r.config.Quarantine > 0 {
		a.Quarantine = NewQuarantine(r.config.Quarantine)
	}
	if a.Allocator == nil {
		a.Allocator = r.Allocator()
	}
	p := newPool(r, &a)
	p.id = r.nextID.Add(1)

	r.mu.Lock()
	if nlog.FastV(4) {
		for _, other := range r.pools {
			if other.name == p.name {
				nlog.Infoln("duplicate pool name", p.name, "ids", other.id, p.id)
				break
			}
		}
	}
	r.pools = append(r.pools, p)
	r.mu.Unlock()

	if nlog.FastV(4) {
		nlog.Infof("pool %q[%d]: size %d (slot %d), %d per %s page, %s", p.name, p.id, p.reqSize, p.size, p.ipp,
			cos.ToSizeIEC(int64(p.pageSize), 0), p.flags())
	}
	return p
}

func (r *Registry) unregister(p *Pool) {
	r.mu.Lock()
	if i := slices.Index(r.pools, p); i >= 0 {
		r.pools = slices.Delete(r.pools, i, i+1)
	}
	r.mu.Unlock()
}

// Pools returns a snapshot, in creation order
func (r *Registry) Pools() []*Pool {
	r.mu.Lock()
	pools := slices.Clone(r.pools)
	r.mu.Unlock()
	return pools
}

// Drain picks the next pool (round robin), invalidates its cache, reclaims its
// idle pages, and drops recycled empty cache groups. Returns true if any page was freed.
func (r *Registry) Drain() bool {
	r.mu.Lock()
	if len(r.pools) == 0 {
		r.mu.Unlock()
		return false
	}
	r.drainIdx %= len(r.pools)
	p := r.pools[r.drainIdx]
	r.drainIdx++
	r.mu.Unlock()

	if pc := p.Cache(); pc != nil {
		pc.Invalidate()
	}
	reclaimed := p.Reclaim()
	r.normalEmpty.trunc()
	r.largeEmpty.trunc()
	return reclaimed
}

// hk callback: one Drain per pool
func (r *Registry) housekeep(int64) time.Duration {
	var n int
	for range len(r.Pools()) {
		if r.Drain() {
			n++
		}
	}
	if n > 0 && nlog.FastV(4) {
		nlog.Infoln("drain: reclaimed pages in", n, "pools")
	}
	return r.config.DrainInterval
}

// Start runs periodic draining (config.DrainInterval; zero: never)
func (r *Registry) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.config.DrainInterval == 0 {
		return
	}
	r.started = true
	r.hk = hk.New("pool-registry")
	go r.hk.Run()
	r.hk.Reg(drainName, r.housekeep, r.config.DrainInterval)
}

func (r *Registry) Terminate() {
	r.mu.Lock()
	h := r.hk
	r.hk, r.started = nil, false
	r.mu.Unlock()
	if h != nil {
		h.Unreg(drainName)
		h.Stop(nil)
	}
}
