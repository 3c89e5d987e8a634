// Package percpu provides CPU slots that goroutines pin for exclusive,
// lock-free access to per-CPU state, and cross-calls that run a function
// on every online CPU.
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package percpu

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/NVIDIA/mempool/cmn/cos"
	"github.com/NVIDIA/mempool/cmn/debug"
	"github.com/NVIDIA/mempool/cmn/nlog"
	"golang.org/x/sync/errgroup"
)

type (
	// CPU is a slot: at most one goroutine owns it at any time (between Pin and Unpin)
	CPU struct {
		set       *Set
		id        int
		busy      atomic.Bool
		contended atomic.Int64
		_         [32]byte // false sharing
	}

	// HookFunc is called for every CPU brought online after the hook is registered
	HookFunc func(id int)

	Set struct {
		cpus   []*CPU
		hints  sync.Pool // of *int
		next   atomic.Int32
		online atomic.Int32
		mu     sync.Mutex
		hooks  map[string]HookFunc
	}
)

func NewSet(online, maxCPUs int) *Set {
	cos.Assertf(online > 0 && online <= maxCPUs, "invalid CPU set: online %d, max %d", online, maxCPUs)
	s := &Set{
		cpus:  make([]*CPU, maxCPUs),
		hooks: make(map[string]HookFunc, 2),
	}
	for i := range s.cpus {
		s.cpus[i] = &CPU{set: s, id: i}
	}
	s.online.Store(int32(online))
	s.hints.New = s.newHint
	return s
}

func (s *Set) newHint() any {
	id := int(s.next.Add(1)-1) % len(s.cpus)
	return &id
}

func (s *Set) Max() int       { return len(s.cpus) }
func (s *Set) NumOnline() int { return int(s.online.Load()) }

// Pin acquires exclusive ownership of one of the online CPUs, preferring
// the one last used on the current P. Never blocks for long: owners only hold
// a CPU for the duration of a short, non-blocking critical section.
func (s *Set) Pin() *CPU {
	var (
		hint   = s.hints.Get().(*int)
		online = s.NumOnline()
		start  = *hint % online
	)
	for spins := 0; ; spins++ {
		for i := range online {
			id := (start + i) % online
			c := s.cpus[id]
			if c.busy.CompareAndSwap(false, true) {
				*hint = id
				s.hints.Put(hint)
				return c
			}
			c.contended.Add(1)
		}
		runtime.Gosched()
	}
}

// PinOn acquires the given CPU, waiting for its current owner (if any) to unpin
func (s *Set) PinOn(id int) *CPU {
	debug.Assert(id >= 0 && id < len(s.cpus), id)
	c := s.cpus[id]
	for !c.busy.CompareAndSwap(false, true) {
		c.contended.Add(1)
		runtime.Gosched()
	}
	return c
}

func (c *CPU) Unpin() {
	debug.Assert(c.busy.Load())
	c.busy.Store(false)
}

func (c *CPU) ID() int          { return c.id }
func (c *CPU) Contended() int64 { return c.contended.Load() }

// XCall runs fn on every online CPU (each pinned for the duration of the call),
// in parallel, and waits for all to complete.
func (s *Set) XCall(fn func(c *CPU) error) error {
	var g errgroup.Group
	for id := range s.NumOnline() {
		g.Go(func() error {
			c := s.PinOn(id)
			defer c.Unpin()
			return fn(c)
		})
	}
	return g.Wait()
}

// Online brings CPUs [current, n) up and runs registered hooks for each
func (s *Set) Online(n int) {
	cos.Assertf(n <= len(s.cpus), "cannot online %d CPUs (max %d)", n, len(s.cpus))
	s.mu.Lock()
	prev := s.NumOnline()
	if n <= prev {
		s.mu.Unlock()
		return
	}
	s.online.Store(int32(n))
	hooks := make([]HookFunc, 0, len(s.hooks))
	for _, fn := range s.hooks {
		hooks = append(hooks, fn)
	}
	s.mu.Unlock()

	for id := prev; id < n; id++ {
		for _, fn := range hooks {
			fn(id)
		}
	}
	if nlog.FastV(4) {
		nlog.Infoln("percpu: online", prev, "=>", n)
	}
}

func (s *Set) Hook(name string, fn HookFunc) {
	s.mu.Lock()
	_, ok := s.hooks[name]
	debug.Assert(!ok, "duplicate hook ", name)
	s.hooks[name] = fn
	s.mu.Unlock()
}

func (s *Set) Unhook(name string) {
	s.mu.Lock()
	delete(s.hooks, name)
	s.mu.Unlock()
}
