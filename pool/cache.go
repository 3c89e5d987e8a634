// Package pool implements page-backed pools of fixed-size items with an optional per-CPU cache layer
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package pool

import (
	"strconv"
	"sync/atomic"

	"github.com/NVIDIA/mempool/cmn/cos"
	"github.com/NVIDIA/mempool/cmn/debug"
	"github.com/NVIDIA/mempool/cmn/nlog"
	"github.com/NVIDIA/mempool/percpu"
)

// Cache keeps constructed objects in per-CPU pairs of groups (current, previous)
// and in global lists of full and partially full groups. Only the goroutine that
// pins a CPU touches that CPU's groups; cross-CPU draining runs on each CPU via
// percpu XCall.

const (
	groupNormal = 15
	groupLarge  = 63

	// PaddrInvalid is returned by GetPaddr when no address translation is known
	PaddrInvalid = ^uintptr(0)
)

type (
	// Ctor constructs a freshly allocated object; on error the object is returned to the pool
	Ctor func(arg any, obj []byte, flags WaitFlags) error
	// Dtor must not fail
	Dtor func(arg any, obj []byte)

	CacheArgs struct {
		Ctor  Ctor
		Dtor  Dtor
		Arg   any
		Paddr func(obj []byte) uintptr // optional address translation for the GetPaddr slow path
		// group size class; nil: registry default
		Large *bool
		// cap on groups held by this cache (0: unlimited); when reached, Put destructs
		MaxGroups int
	}

	groupObj struct {
		obj []byte
		pa  uintptr
	}
	cacheGroup struct {
		next  *cacheGroup
		objs  []groupObj
		avail int
		size  int
	}

	cpuCache struct {
		current   *cacheGroup
		previous  *cacheGroup
		hits      atomic.Int64
		misses    atomic.Int64
		pcmisses  atomic.Int64
		contended atomic.Int64
		cpu       int
	}

	Cache struct {
		pool       *Pool
		r          *Registry
		ctor       Ctor
		dtor       Dtor
		arg        any
		paddr      func([]byte) uintptr
		empty      *lflist[cacheGroup, *cacheGroup] // registry-wide, per size class
		cpus       []atomic.Pointer[cpuCache]
		hook       string
		fullGroups lflist[cacheGroup, *cacheGroup]
		partGroups lflist[cacheGroup, *cacheGroup]
		ngroups    atomic.Int32
		maxGroups  int
		groupSize  int
	}

	CacheStats struct {
		Hits      int64 `json:"hits"`
		Misses    int64 `json:"misses"`
		PCMisses  int64 `json:"pcmisses"`
		Contended int64 `json:"contended"`
		NFull     int   `json:"nfull"`
		NPart     int   `json:"npart"`
		NGroups   int   `json:"ngroups"`
		GroupSize int   `json:"group_size"`
		NCPU      int   `json:"ncpu"`
	}
)

// size 0: never has objects, never has room
var dummyGroup = &cacheGroup{}

func (g *cacheGroup) lfNext() *cacheGroup     { return g.next }
func (g *cacheGroup) setLFNext(n *cacheGroup) { g.next = n }

func newGroup(size int) *cacheGroup {
	return &cacheGroup{objs: make([]groupObj, size), size: size}
}

func nopCtor(any, []byte, WaitFlags) error { return nil }
func nopDtor(any, []byte)                  {}

// NewCache wraps the pool with a per-CPU cache; a pool has at most one.
func NewCache(p *Pool, args *CacheArgs) *Cache {
	r := p.r
	pc := &Cache{
		pool:      p,
		r:         r,
		ctor:      args.Ctor,
		dtor:      args.Dtor,
		arg:       args.Arg,
		paddr:     args.Paddr,
		maxGroups: args.MaxGroups,
		cpus:      make([]atomic.Pointer[cpuCache], r.cpus.Max()),
		hook:      "pool-cache-" + p.name + "-" + strconv.FormatUint(uint64(p.id), 10),
	}
	if pc.ctor == nil {
		pc.ctor = nopCtor
	}
	if pc.dtor == nil {
		pc.dtor = nopDtor
	}
	large := r.largeGroups
	if args.Large != nil {
		large = *args.Large
	}
	if large {
		pc.groupSize, pc.empty = groupLarge, &r.largeEmpty
	} else {
		pc.groupSize, pc.empty = groupNormal, &r.normalEmpty
	}
	pc.fullGroups.init()
	pc.partGroups.init()
	p.attach(pc)

	// all online CPUs if more than one; the rest on first use or when brought online
	if n := r.cpus.NumOnline(); n > 1 {
		for id := range n {
			pc.cpuCache(id)
		}
	} else {
		pc.cpuCache(0)
	}
	r.cpus.Hook(pc.hook, func(id int) { pc.cpuCache(id) })
	if nlog.FastV(4) {
		nlog.Infoln("pool", p.name, "cache: group size", pc.groupSize)
	}
	return pc
}

func (pc *Cache) Pool() *Pool { return pc.pool }

func (pc *Cache) cpuCache(id int) *cpuCache {
	if cc := pc.cpus[id].Load(); cc != nil {
		return cc
	}
	cc := &cpuCache{cpu: id, current: dummyGroup, previous: dummyGroup}
	if pc.cpus[id].CompareAndSwap(nil, cc) {
		return cc
	}
	return pc.cpus[id].Load()
}

/////////
// get //
/////////

func (pc *Cache) Get(flags WaitFlags) ([]byte, error) {
	obj, _, err := pc.GetPaddr(flags)
	return obj, err
}

// GetPaddr returns a constructed object and its recorded address (or PaddrInvalid)
func (pc *Cache) GetPaddr(flags WaitFlags) ([]byte, uintptr, error) {
	cpu := pc.r.cpus.Pin()
	cc := pc.cpuCache(cpu.ID())
	for {
		g := cc.current
		if g.avail > 0 {
			g.avail--
			o := g.objs[g.avail]
			g.objs[g.avail] = groupObj{}
			cc.hits.Add(1)
			cpu.Unpin()
			pc.prep(o.obj, flags)
			return o.obj, o.pa, nil
		}
		if g = cc.previous; g.avail > 0 {
			cc.previous, cc.current = cc.current, g
			continue
		}
		if !pc.getSlow(cc) {
			break
		}
	}
	cc.pcmisses.Add(1)
	cpu.Unpin()

	// construct a new one
	obj, err := pc.pool.Get(flags)
	if err != nil {
		return nil, 0, err
	}
	if err := pc.ctor(pc.arg, obj, flags); err != nil {
		pc.pool.Put(obj)
		return nil, 0, &CtorError{Pool: pc.pool.name, Err: err}
	}
	pa := PaddrInvalid
	if pc.paddr != nil {
		pa = pc.paddr(obj)
	}
	return obj, pa, nil
}

// cached objects are handed out as is, except for a fresh redzone
func (pc *Cache) prep(obj []byte, flags WaitFlags) {
	if flags&Zero != 0 {
		clear(obj)
	}
	if rz := pc.pool.redzone; rz != nil {
		rz.Fill(obj[:cap(obj)], pc.pool.reqSize)
	}
}

// take a full group from the global list
func (pc *Cache) getSlow(cc *cpuCache) bool {
	cc.misses.Add(1)
	g, contended := pc.fullGroups.get()
	if contended {
		cc.contended.Add(1)
	}
	if g == nil {
		return false
	}
	if cur := cc.current; cur != dummyGroup {
		debug.Assert(cur.avail == 0)
		pc.releaseGroup(cur)
	}
	cc.current = g
	return true
}

/////////
// put //
/////////

func (pc *Cache) Put(obj []byte) { pc.PutPaddr(obj, PaddrInvalid) }

func (pc *Cache) PutPaddr(obj []byte, pa uintptr) {
	p := pc.pool
	if p.redzone != nil && !p.redzone.Check(obj[:cap(obj)], p.reqSize) {
		fatalf("pool %q: redzone violation: object %#x (size %d)", p.name, addrOf(obj), p.reqSize)
	}
	// quarantined pools don't cache
	if p.quar != nil {
		pc.DestructObject(obj)
		return
	}

	cpu := pc.r.cpus.Pin()
	cc := pc.cpuCache(cpu.ID())
	for {
		g := cc.current
		if g.avail < g.size {
			g.objs[g.avail] = groupObj{obj: obj, pa: pa}
			g.avail++
			cc.hits.Add(1)
			cpu.Unpin()
			return
		}
		if g = cc.previous; g.avail < g.size {
			cc.previous, cc.current = cc.current, g
			continue
		}
		if !pc.putSlow(cc) {
			break
		}
	}
	cc.pcmisses.Add(1)
	cpu.Unpin()
	pc.DestructObject(obj)
}

// install an empty group, pushing the full current one to the global list
func (pc *Cache) putSlow(cc *cpuCache) bool {
	cc.misses.Add(1)
	g := pc.emptyGroup()
	if g == nil {
		return false
	}
	if cc.previous == dummyGroup {
		cc.previous = g
		return true
	}
	if cur := cc.current; cur != dummyGroup {
		debug.Assert(cur.avail == cur.size)
		if pc.fullGroups.put(cur) {
			cc.contended.Add(1)
		}
	}
	cc.current = g
	return true
}

func (pc *Cache) emptyGroup() *cacheGroup {
	if pc.maxGroups > 0 && int(pc.ngroups.Load()) >= pc.maxGroups {
		return nil
	}
	g, _ := pc.empty.get()
	if g == nil {
		g = newGroup(pc.groupSize)
	}
	debug.Assert(g.avail == 0 && g.size == pc.groupSize)
	pc.ngroups.Add(1)
	return g
}

func (pc *Cache) releaseGroup(g *cacheGroup) {
	debug.Assert(g.avail == 0)
	pc.ngroups.Add(-1)
	pc.empty.put(g)
}

// DestructObject bypasses the cache: dtor, then back to the pool
func (pc *Cache) DestructObject(obj []byte) {
	pc.dtor(pc.arg, obj)
	pc.pool.Put(obj)
}

////////////////
// invalidate //
////////////////

// Invalidate destructs all cached objects: every CPU first moves its own groups
// to the global lists, which are then drained.
func (pc *Cache) Invalidate() {
	cpus := pc.r.cpus
	if cpus.NumOnline() < 2 {
		c := cpus.PinOn(0)
		pc.transfer(c)
		c.Unpin()
	} else {
		err := cpus.XCall(func(c *percpu.CPU) error {
			pc.transfer(c)
			return nil
		})
		debug.AssertNoErr(err)
	}
	pc.invalidateGroups(pc.fullGroups.trunc())
	pc.invalidateGroups(pc.partGroups.trunc())
}

// runs pinned on the given CPU
func (pc *Cache) transfer(c *percpu.CPU) {
	cc := pc.cpus[c.ID()].Load()
	if cc == nil {
		return
	}
	cur, prev := cc.current, cc.previous
	cc.current, cc.previous = dummyGroup, dummyGroup
	pc.stash(cur)
	pc.stash(prev)
}

func (pc *Cache) stash(g *cacheGroup) {
	switch {
	case g == dummyGroup:
	case g.avail == g.size:
		pc.fullGroups.put(g)
	case g.avail == 0:
		pc.releaseGroup(g)
	default:
		pc.partGroups.put(g)
	}
}

func (pc *Cache) invalidateGroups(g *cacheGroup) {
	for g != nil {
		next := g.next
		g.next = nil
		for i := range g.avail {
			pc.DestructObject(g.objs[i].obj)
			g.objs[i] = groupObj{}
		}
		g.avail = 0
		pc.releaseGroup(g)
		g = next
	}
}

// Destroy invalidates and detaches the cache, then destroys the pool
func (pc *Cache) Destroy() {
	pc.r.cpus.Unhook(pc.hook)
	pc.Invalidate()
	cos.Assertf(pc.ngroups.Load() == 0, "pool %q: cache destroyed with %d groups", pc.pool.name, pc.ngroups.Load())
	pc.pool.detach(pc)
	pc.pool.Destroy()
}

func (pc *Cache) Stats() *CacheStats {
	s := &CacheStats{
		NFull:     pc.fullGroups.len(),
		NPart:     pc.partGroups.len(),
		NGroups:   int(pc.ngroups.Load()),
		GroupSize: pc.groupSize,
	}
	for i := range pc.cpus {
		cc := pc.cpus[i].Load()
		if cc == nil {
			continue
		}
		s.NCPU++
		s.Hits += cc.hits.Load()
		s.Misses += cc.misses.Load()
		s.PCMisses += cc.pcmisses.Load()
		s.Contended += cc.contended.Load()
	}
	return s
}
