// Package pool implements page-backed pools of fixed-size items with an optional per-CPU cache layer
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package pool

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NVIDIA/mempool/cmn/config"
	"github.com/NVIDIA/mempool/cmn/cos"
	"github.com/NVIDIA/mempool/palloc"
	"github.com/pkg/errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Pool", func() {
	var r *Registry

	BeforeEach(func() {
		r = newTestRegistry(2, nil)
	})

	AfterEach(func() {
		r.Terminate()
	})

	getN := func(p *Pool, n int) [][]byte {
		items := make([][]byte, 0, n)
		for range n {
			b, err := p.Get(NoWait)
			Expect(err).NotTo(HaveOccurred())
			items = append(items, b)
		}
		return items
	}
	putAll := func(p *Pool, items [][]byte) {
		for _, b := range items {
			p.Put(b)
		}
	}

	Describe("geometry", func() {
		DescribeTable("header placement and free list",
			func(size, align int, flags Flags, inPage, bitmap bool, ipp int) {
				p := r.NewPool(&Args{Name: "geo", Size: size, Align: align, Flags: flags})
				Expect(p.phInPage).To(Equal(inPage))
				Expect(p.useBitmap).To(Equal(bitmap))
				Expect(p.ItemsPerPage()).To(Equal(ipp))
				Expect(p.SlotSize()%p.align).To(BeZero())
				Expect(p.SlotSize()).To(BeNumerically(">=", size))

				items := getN(p, 2*ipp+1)
				for i, b := range items {
					Expect(b).To(HaveLen(size))
					Expect(cap(b)).To(Equal(p.SlotSize()))
					Expect(addrOf(b) % uintptr(p.align)).To(BeZero())
					stamp(b, byte(i))
				}
				Expect(p.Check()).To(Succeed())
				for i, b := range items {
					Expect(stamped(b, byte(i))).To(BeTrue(), "item %d overwritten", i)
				}
				putAll(p, items)
				Expect(p.Check()).To(Succeed())
				Expect(p.Stats().NOut).To(BeZero())
				p.Destroy()
			},
			Entry("small items: on-page, linked list", 16, 0, Flags(0), true, false, 254),
			Entry("tiny items grow to the link size", 4, 0, Flags(0), true, false, 509),
			Entry("no waste: on-page, bitmap", 1000, 0, Flags(0), true, true, 4),
			Entry("waste: off-page", 1024, 0, Flags(0), false, true, 4),
			Entry("forced on-page", 1024, 0, PHInPage, true, true, 3),
			Entry("notouch: bitmap in the header", 16, 0, NoTouch, true, true, 253),
			Entry("noalign: off-page", 64, 0, NoAlign, false, true, 64),
			Entry("large alignment", 100, 64, Flags(0), true, true, 31),
		)

		It("should panic on items that do not fit into a page", func() {
			Expect(func() { r.NewPool(&Args{Name: "huge", Size: 8 * cos.KiB}) }).To(Panic())
			Expect(func() { r.NewPool(&Args{Name: "align", Size: 64, Align: 48}) }).To(Panic())
			Expect(func() { r.NewPool(&Args{Name: "zero", Size: 0}) }).To(Panic())
		})

		It("should color pages within the slack", func() {
			p := r.NewPool(&Args{Name: "color", Size: 200})
			offs := make(map[int]struct{})
			items := getN(p, 5*p.ItemsPerPage())
			for _, b := range items {
				ph := p.findPage(b)
				Expect(ph).NotTo(BeNil())
				Expect(ph.off - p.itemOffset).To(BeNumerically("<=", p.maxColor))
				offs[ph.off] = struct{}{}
			}
			if p.maxColor >= p.colorStep {
				Expect(len(offs)).To(BeNumerically(">", 1))
			}
			putAll(p, items)
		})
	})

	Describe("get and put", func() {
		It("should hand out distinct items", func() {
			p := r.NewPool(&Args{Name: "scenario-a", Size: 16, Align: 8})
			var (
				items = getN(p, 1000)
				seen  = make(map[uintptr]struct{}, 1000)
			)
			for _, b := range items {
				Expect(b).NotTo(BeNil())
				seen[addrOf(b)] = struct{}{}
			}
			Expect(seen).To(HaveLen(1000))
			Expect(p.Check()).To(Succeed())

			putAll(p, items)
			Expect(p.Stats().NOut).To(BeZero())
			Expect(p.Check()).To(Succeed())
		})

		It("should reuse the just-returned item", func() {
			for _, size := range []int{16, 1024} {
				p := r.NewPool(&Args{Name: "roundtrip", Size: size})
				b, err := p.Get(WaitOK)
				Expect(err).NotTo(HaveOccurred())
				addr := addrOf(b)
				p.Put(b)
				b, err = p.Get(WaitOK)
				Expect(err).NotTo(HaveOccurred())
				Expect(addrOf(b)).To(Equal(addr))
				p.Put(b)
				p.Destroy()
			}
		})

		It("should refill a page that was full before growing", func() {
			p := r.NewPool(&Args{Name: "scenario-d", Size: 128, Allocator: palloc.NewHeap(512, 0)})
			Expect(p.ItemsPerPage()).To(Equal(4))

			items := getN(p, 4)
			Expect(p.Stats().NPages).To(Equal(1))
			Expect(p.fullPages.n).To(Equal(1))

			p.Put(items[2])
			Expect(p.partPages.n).To(Equal(1))
			Expect(p.curpage).To(BeIdenticalTo(p.findPage(items[0])))

			b, err := p.Get(NoWait)
			Expect(err).NotTo(HaveOccurred())
			Expect(addrOf(b) &^ p.pageMask).To(Equal(addrOf(items[0]) &^ p.pageMask))
			Expect(p.Stats().NPages).To(Equal(1))
			Expect(p.Stats().NPageAlloc).To(BeEquivalentTo(1))

			items[2] = b
			putAll(p, items)
			Expect(p.Check()).To(Succeed())
		})

		It("should zero items on request", func() {
			p := r.NewPool(&Args{Name: "zero", Size: 100})
			b, err := p.Get(WaitOK)
			Expect(err).NotTo(HaveOccurred())
			stamp(b, 0xff)
			p.Put(b)

			b, err = p.Get(WaitOK | Zero)
			Expect(err).NotTo(HaveOccurred())
			Expect(stamped(b, 0)).To(BeTrue())
			p.Put(b)
		})

		It("should keep counters consistent", func() {
			p := r.NewPool(&Args{Name: "counters", Size: 48})
			items := getN(p, 3*p.ItemsPerPage()+7)
			putAll(p, items[:10])
			s := p.Stats()
			Expect(s.NGet).To(BeEquivalentTo(len(items)))
			Expect(s.NPut).To(BeEquivalentTo(10))
			Expect(s.NOut).To(Equal(len(items) - 10))
			Expect(s.NItems + s.NOut).To(Equal(s.NPages * s.ItemsPerPage))
			Expect(s.HiWat).To(Equal(4))
			Expect(p.Check()).To(Succeed())
			putAll(p, items[10:])
			Expect(p.Stats().NIdle).To(Equal(4))
		})

		It("should survive concurrent get and put", func() {
			const (
				workers = 8
				iters   = 2000
				hold    = 16
			)
			p := r.NewPool(&Args{Name: "concurrent", Size: 64})
			var (
				wg      sync.WaitGroup
				corrupt atomic.Int32
			)
			for w := range workers {
				wg.Add(1)
				go func(id byte) {
					defer wg.Done()
					held := make([][]byte, 0, hold)
					for i := range iters {
						b, err := p.Get(WaitOK)
						if err != nil {
							corrupt.Add(1)
							return
						}
						stamp(b, id)
						held = append(held, b)
						if len(held) == hold || i == iters-1 {
							for _, h := range held {
								if !stamped(h, id) {
									corrupt.Add(1)
								}
								p.Put(h)
							}
							held = held[:0]
						}
					}
				}(byte(w + 1))
			}
			wg.Wait()
			Expect(corrupt.Load()).To(BeZero())
			Expect(p.Stats().NOut).To(BeZero())
			Expect(p.Check()).To(Succeed())
		})
	})

	Describe("invalid put", func() {
		It("should panic on foreign items", func() {
			for _, size := range []int{16, 1024} {
				p := r.NewPool(&Args{Name: "foreign", Size: size})
				b, err := p.Get(WaitOK)
				Expect(err).NotTo(HaveOccurred())

				page, err := palloc.NewHeap(4096, 0).Alloc(4096, false)
				Expect(err).NotTo(HaveOccurred())
				Expect(func() { p.Put(page[64:80]) }).To(Panic())
				Expect(func() { p.Put(nil) }).To(Panic())
				// misaligned pointer into a valid page
				Expect(func() { p.Put(b[1:]) }).To(Panic())
				p.Put(b)
				Expect(p.Check()).To(Succeed())
			}
		})

		It("should panic on double free", func() {
			for _, size := range []int{16, 1024} {
				p := r.NewPool(&Args{Name: "double", Size: size})
				items := getN(p, 2)
				p.Put(items[0])
				Expect(func() { p.Put(items[0]) }).To(Panic())
				p.Put(items[1])
				Expect(func() { p.Put(items[1]) }).To(Panic())
				Expect(p.Check()).To(Succeed())
			}
		})

		It("should detect a modified free list", func() {
			p := r.NewPool(&Args{Name: "uaf", Size: 32})
			Expect(p.useBitmap).To(BeFalse())
			items := getN(p, 2)
			p.Put(items[1])
			items[1][0] ^= 0xff // write after free
			Expect(func() { p.Get(NoWait) }).To(Panic())
		})

		It("should report corrupted accounting", func() {
			p := r.NewPool(&Args{Name: "check", Size: 64})
			items := getN(p, 3)
			Expect(p.Check()).To(Succeed())
			p.mu.Lock()
			p.nout++
			p.mu.Unlock()
			Expect(p.Check()).To(HaveOccurred())
			p.mu.Lock()
			p.nout--
			p.mu.Unlock()
			putAll(p, items)
		})
	})

	Describe("water marks", func() {
		It("should grow to low water and stay above it", func() {
			p := r.NewPool(&Args{Name: "lowat", Size: 1024})
			p.SetLowWater(100)
			s := p.Stats()
			Expect(s.NPages).To(Equal(25))
			Expect(s.NItems).To(Equal(100))
			Expect(s.MinPages).To(Equal(25))

			items := getN(p, 10)
			Expect(p.Stats().NItems).To(BeNumerically(">=", 100))
			putAll(p, items)

			// reclaim never goes below low water
			Expect(p.Reclaim()).To(BeTrue())
			Expect(p.Stats().NItems).To(BeNumerically(">=", 100))
			Expect(p.Check()).To(Succeed())
		})

		It("should free pages above high water right away", func() {
			p := r.NewPool(&Args{Name: "hiwat", Size: 1024})
			p.SetHighWater(0)
			items := getN(p, 8)
			Expect(p.Stats().NPages).To(Equal(2))
			putAll(p, items)
			s := p.Stats()
			Expect(s.NPages).To(BeZero())
			Expect(s.NPageFree).To(BeEquivalentTo(2))
			Expect(p.Check()).To(Succeed())
		})

		It("should keep idle pages at or below high water", func() {
			p := r.NewPool(&Args{Name: "hiwat2", Size: 1024})
			p.SetHighWater(8)
			items := getN(p, 16)
			putAll(p, items)
			Expect(p.Stats().NPages).To(Equal(2))
		})

		It("should prime", func() {
			p := r.NewPool(&Args{Name: "prime", Size: 1024})
			Expect(p.Prime(10)).To(Succeed())
			s := p.Stats()
			Expect(s.NPages).To(Equal(3))
			Expect(s.MinPages).To(Equal(3))

			items := getN(p, 20)
			putAll(p, items)
			Expect(p.Stats().NPages).To(Equal(5))
			Expect(p.Reclaim()).To(BeTrue())
			Expect(p.Stats().NPages).To(Equal(3))
		})
	})

	Describe("reclaim", func() {
		It("should free idle pages", func() {
			p := r.NewPool(&Args{Name: "reclaim", Size: 512})
			items := getN(p, 3*p.ItemsPerPage())
			putAll(p, items)
			Expect(p.Stats().NIdle).To(Equal(3))
			Expect(p.Reclaim()).To(BeTrue())
			s := p.Stats()
			Expect(s.NPages).To(BeZero())
			Expect(s.NPageFree).To(BeEquivalentTo(3))
			Expect(p.Reclaim()).To(BeFalse())
			Expect(p.Check()).To(Succeed())
		})

		It("should keep recently idle pages", func() {
			r2 := newTestRegistry(1, func(c *config.Config) { c.InactiveTime = time.Hour })
			p := r2.NewPool(&Args{Name: "inactive", Size: 512})
			putAll(p, getN(p, 2*p.ItemsPerPage()))
			Expect(p.Reclaim()).To(BeFalse())
			Expect(p.Stats().NPages).To(Equal(2))
		})

		It("should give up when the pool is busy", func() {
			p := r.NewPool(&Args{Name: "busy", Size: 512})
			putAll(p, getN(p, 1))
			p.mu.Lock()
			Expect(p.Reclaim()).To(BeFalse())
			p.mu.Unlock()
			Expect(p.Reclaim()).To(BeTrue())
		})
	})

	Describe("hard limit", func() {
		It("should fail at the limit and recover after put", func() {
			p := r.NewPool(&Args{Name: "scenario-b", Size: 16})
			Expect(p.SetHardLimit(10, "scenario-b: hard limit reached", time.Minute)).To(Succeed())
			items := getN(p, 10)

			_, err := p.Get(NoWait)
			Expect(errors.Is(err, ErrNoMem)).To(BeTrue())
			_, err = p.Get(WaitOK | LimitFail)
			Expect(errors.Is(err, ErrNoMem)).To(BeTrue())
			Expect(p.Stats().NFail).To(BeEquivalentTo(2))

			p.Put(items[9])
			items[9], err = p.Get(NoWait)
			Expect(err).NotTo(HaveOccurred())
			putAll(p, items)
		})

		It("should block until an item is returned", func() {
			p := r.NewPool(&Args{Name: "wait", Size: 16})
			Expect(p.SetHardLimit(2, "", 0)).To(Succeed())
			items := getN(p, 2)

			got := make(chan []byte, 1)
			go func() {
				defer GinkgoRecover()
				b, err := p.Get(WaitOK)
				Expect(err).NotTo(HaveOccurred())
				got <- b
			}()
			Consistently(got, 100*time.Millisecond).ShouldNot(Receive())
			p.Put(items[0])
			var b []byte
			Eventually(got, time.Second).Should(Receive(&b))
			Expect(addrOf(b)).To(Equal(addrOf(items[0])))
			p.Put(b)
			p.Put(items[1])
		})

		It("should call the drain hook at the limit", func() {
			var (
				p     = r.NewPool(&Args{Name: "hook", Size: 16})
				calls atomic.Int32
				stash [][]byte
			)
			p.SetDrainHook(func(arg any, _ WaitFlags) {
				calls.Add(1)
				pp := arg.(*Pool)
				if len(stash) > 0 {
					pp.Put(stash[0])
					stash = stash[1:]
				}
			}, p)
			Expect(func() { p.SetDrainHook(func(any, WaitFlags) {}, nil) }).To(Panic())
			Expect(p.SetHardLimit(2, "", 0)).To(Succeed())

			items := getN(p, 2)
			stash = append(stash, items[1])
			b, err := p.Get(NoWait)
			Expect(err).NotTo(HaveOccurred())
			Expect(calls.Load()).To(BeEquivalentTo(1))

			Expect(p.Reclaim()).To(BeFalse()) // pages in use
			Expect(calls.Load()).To(BeEquivalentTo(2))
			p.Put(b)
			p.Put(items[0])
		})

		It("should validate the limit", func() {
			p := r.NewPool(&Args{Name: "limit", Size: 16})
			items := getN(p, 5)
			Expect(p.SetHardLimit(3, "", 0)).NotTo(Succeed())
			Expect(p.SetHardLimit(-1, "", 0)).NotTo(Succeed())
			Expect(p.SetHardLimit(5, "", 0)).To(Succeed())
			Expect(p.Stats().HardLimit).To(Equal(5))
			Expect(p.SetHardLimit(0, "", 0)).To(Succeed())
			Expect(p.Stats().HardLimit).To(Equal(-1))
			putAll(p, items)
		})
	})

	Describe("page allocator", func() {
		It("should fail non-blocking get when out of pages", func() {
			heap := palloc.NewHeap(4096, 1)
			p := r.NewPool(&Args{Name: "nomem", Size: 1024, Allocator: heap})
			items := getN(p, 4)
			_, err := p.Get(NoWait)
			Expect(errors.Is(err, ErrNoMem)).To(BeTrue())
			Expect(p.Stats().NFail).To(BeEquivalentTo(1))
			Expect(heap.Stats().NumFail).To(BeEquivalentTo(1))
			putAll(p, items)
			Expect(p.Check()).To(Succeed())
		})

		It("should wait for a page when blocking", func() {
			heap := palloc.NewHeap(4096, 1)
			p := r.NewPool(&Args{Name: "waitpage", Size: 1024, Allocator: heap})
			p.SetHighWater(0)
			items := getN(p, 4)

			got := make(chan []byte, 1)
			go func() {
				defer GinkgoRecover()
				b, err := p.Get(WaitOK)
				Expect(err).NotTo(HaveOccurred())
				got <- b
			}()
			Consistently(got, 100*time.Millisecond).ShouldNot(Receive())

			// a non-blocking caller must not wait behind the blocking grower
			_, err := p.Get(NoWait)
			Expect(errors.Is(err, ErrWouldBlock)).To(BeTrue())

			putAll(p, items) // frees the page
			var b []byte
			Eventually(got, time.Second).Should(Receive(&b))
			p.Put(b)
			Expect(heap.Stats().InUse).To(BeZero())
		})

		It("should serve unaligned pages with off-page headers", func() {
			heap := &skewedHeap{pageSize: 4096, skew: 64}
			p := r.NewPool(&Args{Name: "skewed", Size: 64, Flags: NoAlign, Allocator: heap})
			Expect(p.flags()).NotTo(ContainSubstring("phinpage"))

			items := getN(p, 200)
			Expect(heap.inuse.Load()).To(BeEquivalentTo(cos.HowMany(200, p.ItemsPerPage())))
			Expect(p.Check()).To(Succeed())
			putAll(p, items)
			Expect(p.Stats().NOut).To(BeZero())
			Expect(p.Check()).To(Succeed())
			p.Destroy()
			Expect(heap.inuse.Load()).To(BeZero())
		})

		It("should refuse on-page headers without page alignment", func() {
			heap := &skewedHeap{pageSize: 4096, skew: 64}
			Expect(func() {
				r.NewPool(&Args{Name: "skewed", Size: 64, Flags: NoAlign | PHInPage, Allocator: heap})
			}).To(Panic())
			Expect(r.Pools()).To(BeEmpty())
			Expect(heap.inuse.Load()).To(BeZero())
		})
	})

	Describe("redzone", func() {
		It("should detect overflow past the requested size", func() {
			p := r.NewPool(&Args{Name: "redzone", Size: 16, Redzone: NewRedzone()})
			Expect(p.SlotSize()).To(BeNumerically(">=", 16+dfltRedzone))
			Expect(p.Stats().Flags).To(ContainSubstring("redzone"))

			b, err := p.Get(WaitOK)
			Expect(err).NotTo(HaveOccurred())
			stamp(b, 0xaa)
			full := b[:cap(b)]
			full[len(b)] ^= 0xff
			Expect(func() { p.Put(b) }).To(Panic())
			full[len(b)] ^= 0xff
			p.Put(b)
			Expect(p.Check()).To(Succeed())
		})

		It("should be enabled by config unless notouch", func() {
			r2 := newTestRegistry(1, func(c *config.Config) { c.Redzone = true })
			p := r2.NewPool(&Args{Name: "rz", Size: 24})
			Expect(p.redzone).NotTo(BeNil())
			p = r2.NewPool(&Args{Name: "rz-notouch", Size: 24, Flags: NoTouch})
			Expect(p.redzone).To(BeNil())
		})
	})

	Describe("quarantine", func() {
		It("should delay reuse and catch double free", func() {
			p := r.NewPool(&Args{Name: "quar", Size: 32, Quarantine: NewQuarantine(4)})
			items := getN(p, 8)
			putAll(p, items[:3])
			s := p.Stats()
			Expect(s.NQuarantined).To(Equal(3))
			Expect(s.NOut).To(Equal(8))

			Expect(func() { p.Put(items[1]) }).To(Panic())

			putAll(p, items[3:])
			s = p.Stats()
			Expect(s.NQuarantined).To(Equal(4))
			Expect(s.NOut).To(Equal(4))

			// recently freed items are not handed out
			b, err := p.Get(NoWait)
			Expect(err).NotTo(HaveOccurred())
			for _, q := range items[4:] {
				Expect(addrOf(b)).NotTo(Equal(addrOf(q)))
			}
			p.Put(b)
			Expect(p.Check()).To(Succeed())
			p.Destroy()
			Expect(r.Pools()).NotTo(ContainElement(BeIdenticalTo(p)))
		})
	})

	Describe("destroy", func() {
		It("should refuse to destroy a busy pool", func() {
			p := r.NewPool(&Args{Name: "destroy", Size: 64})
			b, err := p.Get(WaitOK)
			Expect(err).NotTo(HaveOccurred())
			Expect(p.Destroy).To(Panic())
			p.Put(b)
			p.Destroy()
			Expect(r.Pools()).NotTo(ContainElement(BeIdenticalTo(p)))
		})

		It("should return all pages to the allocator", func() {
			heap := palloc.NewHeap(4096, 0)
			p := r.NewPool(&Args{Name: "pages", Size: 64, Allocator: heap})
			putAll(p, getN(p, 4*p.ItemsPerPage()))
			Expect(heap.Stats().InUse).To(BeEquivalentTo(4))
			p.Destroy()
			Expect(heap.Stats().InUse).To(BeZero())
		})

		It("should refuse to use a destroyed pool", func() {
			p := r.NewPool(&Args{Name: "gone", Size: 64})
			b, err := p.Get(NoWait)
			Expect(err).NotTo(HaveOccurred())
			p.Put(b)
			p.Destroy()

			Expect(func() { p.Get(NoWait) }).To(Panic())
			Expect(func() { p.Put(b) }).To(Panic())
			Expect(func() { p.Prime(10) }).To(Panic())
			Expect(p.Destroy).To(Panic())
			Expect(p.Stats().NPages).To(BeZero())
		})
	})

	It("should dump stats as JSON", func() {
		p := r.NewPool(&Args{Name: "json", Size: 64})
		putAll(p, getN(p, 3))
		s := cos.MustMarshalToString(p.Stats())
		Expect(s).To(ContainSubstring(`"name":"json"`))
		Expect(s).To(ContainSubstring(`"ipp":`))
		Expect(strings.Contains(s, `"cache"`)).To(BeFalse())
	})
})
