// Package pool implements page-backed pools of fixed-size items with an optional per-CPU cache layer
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package pool

import (
	"sync"
	"time"

	"github.com/NVIDIA/mempool/cmn/config"
	"github.com/NVIDIA/mempool/palloc"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Registry", func() {
	It("should reject invalid config", func() {
		cfg := config.Default()
		cfg.PageSize = 1000
		_, err := NewRegistry(cfg)
		Expect(err).To(HaveOccurred())
	})

	It("should run with defaults", func() {
		r, err := NewRegistry(nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(r.CPUs().NumOnline()).To(BeNumerically(">=", 1))
		Expect(r.Allocator().PageSize()).To(Equal(int(config.DefaultPageSize)))
		Expect(r.Config().PageSize).To(BeEquivalentTo(config.DefaultPageSize))
	})

	It("should enumerate pools in creation order", func() {
		r := newTestRegistry(1, nil)
		a := r.NewPool(&Args{Name: "a", Size: 16})
		b := r.NewPool(&Args{Name: "b", Size: 32})
		c := r.NewPool(&Args{Name: "c", Size: 64})
		Expect(a.ID()).NotTo(Equal(b.ID()))
		Expect(b.ID()).NotTo(Equal(c.ID()))

		pools := r.Pools()
		Expect(pools).To(HaveLen(3))
		Expect(pools[0]).To(BeIdenticalTo(a))
		Expect(pools[2]).To(BeIdenticalTo(c))

		b.Destroy()
		pools = r.Pools()
		Expect(pools).To(HaveLen(2))
		Expect(pools[1]).To(BeIdenticalTo(c))
	})

	It("should use the configured default allocator", func() {
		r := newTestRegistry(1, func(c *config.Config) { c.PageSize = 16 * 1024 })
		p := r.NewPool(&Args{Name: "big", Size: 8 * 1024})
		Expect(p.PageSize()).To(Equal(16 * 1024))

		heap := palloc.NewHeap(8*1024, 0)
		r.SetAllocator(heap)
		q := r.NewPool(&Args{Name: "small", Size: 64})
		Expect(q.PageSize()).To(Equal(8 * 1024))
	})

	It("should switch allocators while pools are being created", func() {
		r := newTestRegistry(1, nil)
		small, big := palloc.NewHeap(4096, 0), palloc.NewHeap(8192, 0)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer GinkgoRecover()
			defer wg.Done()
			for i := range 100 {
				if i%2 == 0 {
					r.SetAllocator(big)
				} else {
					r.SetAllocator(small)
				}
			}
		}()
		go func() {
			defer GinkgoRecover()
			defer wg.Done()
			for range 100 {
				p := r.NewPool(&Args{Name: "switch", Size: 64})
				Expect(p.PageSize()).To(SatisfyAny(Equal(4096), Equal(8192), Equal(int(config.DefaultPageSize))))
				p.Destroy()
			}
		}()
		wg.Wait()
		Expect(r.Pools()).To(BeEmpty())
	})

	It("should truncate long pool names", func() {
		r := newTestRegistry(1, nil)
		name := string(make([]byte, 2*maxPoolName))
		Expect(r.NewPool(&Args{Name: name, Size: 16}).Name()).To(HaveLen(maxPoolName))
	})

	It("should drain pools round robin", func() {
		r := newTestRegistry(2, nil)
		p1 := r.NewPool(&Args{Name: "p1", Size: 128})
		p2 := r.NewPool(&Args{Name: "p2", Size: 128})
		pc := NewCache(p2, &CacheArgs{})

		b, err := p1.Get(WaitOK)
		Expect(err).NotTo(HaveOccurred())
		p1.Put(b)
		obj, err := pc.Get(WaitOK)
		Expect(err).NotTo(HaveOccurred())
		pc.Put(obj) // cached, page stays busy

		Expect(r.Drain()).To(BeTrue()) // p1
		Expect(p1.Stats().NPages).To(BeZero())
		Expect(p2.Stats().NPages).To(Equal(1))

		Expect(r.Drain()).To(BeTrue()) // p2: invalidate, then reclaim
		Expect(p2.Stats().NPages).To(BeZero())
		Expect(pc.Stats().NGroups).To(BeZero())

		Expect(r.Drain()).To(BeFalse())
		Expect(r.normalEmpty.len()).To(BeZero())
		pc.Destroy()
	})

	It("should drain periodically once started", func() {
		r := newTestRegistry(1, func(c *config.Config) { c.DrainInterval = 10 * time.Millisecond })
		p := r.NewPool(&Args{Name: "periodic", Size: 256})
		items := make([][]byte, 0, 64)
		for range 64 {
			b, err := p.Get(WaitOK)
			Expect(err).NotTo(HaveOccurred())
			items = append(items, b)
		}
		for _, b := range items {
			p.Put(b)
		}
		Expect(p.Stats().NPages).To(BeNumerically(">", 0))

		r.Start()
		r.Start() // idempotent
		Eventually(func() int { return p.Stats().NPages }, 2*time.Second).Should(BeZero())
		r.Terminate()
		r.Terminate()
	})

	It("should not start without a drain interval", func() {
		r := newTestRegistry(1, nil)
		r.Start()
		Expect(r.hk).To(BeNil())
		r.Terminate()
	})
})
