// Package stats exports pool, cache and page allocator statistics as Prometheus metrics.
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package stats

import (
	"strconv"

	"github.com/NVIDIA/mempool/cmn/debug"
	"github.com/NVIDIA/mempool/cmn/nlog"
	"github.com/NVIDIA/mempool/palloc"
	"github.com/NVIDIA/mempool/pool"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mempool"

var (
	poolLabels  = []string{"pool", "id"}
	allocLabels = []string{"page_size"}
)

type (
	// per-pool metric: a snapshot field and its kind
	poolMetric struct {
		desc *prometheus.Desc
		get  func(*pool.Stats) float64
		kind prometheus.ValueType
	}
	cacheMetric struct {
		desc *prometheus.Desc
		get  func(*pool.CacheStats) float64
		kind prometheus.ValueType
	}
	allocMetric struct {
		desc *prometheus.Desc
		get  func(*palloc.Stats) float64
		kind prometheus.ValueType
	}

	// page allocators that keep their own accounting (palloc.Heap, palloc.Mmap)
	statser interface {
		PageSize() int
		Stats() palloc.Stats
	}

	// Collector walks the registry's pools on every scrape
	Collector struct {
		r     *pool.Registry
		pools []poolMetric
		cache []cacheMetric
		alloc []allocMetric
	}
)

// interface guard
var _ prometheus.Collector = (*Collector)(nil)

func NewCollector(r *pool.Registry) *Collector {
	c := &Collector{r: r}
	c.pools = []poolMetric{
		c.gauge("nitems", "free items", func(s *pool.Stats) float64 { return float64(s.NItems) }),
		c.gauge("nout", "items currently out", func(s *pool.Stats) float64 { return float64(s.NOut) }),
		c.gauge("npages", "pages", func(s *pool.Stats) float64 { return float64(s.NPages) }),
		c.gauge("nidle", "idle pages", func(s *pool.Stats) float64 { return float64(s.NIdle) }),
		c.gauge("nquarantined", "items in quarantine", func(s *pool.Stats) float64 { return float64(s.NQuarantined) }),
		c.gauge("hiwat", "max pages ever", func(s *pool.Stats) float64 { return float64(s.HiWat) }),
		c.gauge("item_size", "item size (bytes)", func(s *pool.Stats) float64 { return float64(s.Size) }),
		c.gauge("slot_size", "slot size (bytes)", func(s *pool.Stats) float64 { return float64(s.SlotSize) }),
		c.counter("get_n", "total number of gets", func(s *pool.Stats) float64 { return float64(s.NGet) }),
		c.counter("put_n", "total number of puts", func(s *pool.Stats) float64 { return float64(s.NPut) }),
		c.counter("fail_n", "total number of failed gets", func(s *pool.Stats) float64 { return float64(s.NFail) }),
		c.counter("pagealloc_n", "total number of page allocations", func(s *pool.Stats) float64 { return float64(s.NPageAlloc) }),
		c.counter("pagefree_n", "total number of page frees", func(s *pool.Stats) float64 { return float64(s.NPageFree) }),
	}
	c.cache = []cacheMetric{
		c.cacheCounter("hit_n", "per-CPU group hits", func(s *pool.CacheStats) float64 { return float64(s.Hits) }),
		c.cacheCounter("miss_n", "per-CPU group misses", func(s *pool.CacheStats) float64 { return float64(s.Misses) }),
		c.cacheCounter("pcmiss_n", "misses that went to the pool", func(s *pool.CacheStats) float64 { return float64(s.PCMisses) }),
		c.cacheCounter("contended_n", "contended global list operations", func(s *pool.CacheStats) float64 { return float64(s.Contended) }),
		c.cacheGauge("groups", "groups held", func(s *pool.CacheStats) float64 { return float64(s.NGroups) }),
		c.cacheGauge("full_groups", "full groups on the global list", func(s *pool.CacheStats) float64 { return float64(s.NFull) }),
		c.cacheGauge("part_groups", "partial groups on the global list", func(s *pool.CacheStats) float64 { return float64(s.NPart) }),
	}
	c.alloc = []allocMetric{
		c.allocMetric("pages_inuse", "pages in use", prometheus.GaugeValue, func(s *palloc.Stats) float64 { return float64(s.InUse) }),
		c.allocMetric("alloc_n", "total number of page allocations", prometheus.CounterValue, func(s *palloc.Stats) float64 { return float64(s.NumAlloc) }),
		c.allocMetric("free_n", "total number of page frees", prometheus.CounterValue, func(s *palloc.Stats) float64 { return float64(s.NumFree) }),
		c.allocMetric("fail_n", "total number of failed page allocations", prometheus.CounterValue, func(s *palloc.Stats) float64 { return float64(s.NumFail) }),
	}
	return c
}

// Register with the default prometheus registerer
func (c *Collector) Register() error {
	if err := prometheus.Register(c); err != nil {
		return err
	}
	nlog.Infoln("Using Prometheus")
	return nil
}

func (*Collector) gauge(name, help string, get func(*pool.Stats) float64) poolMetric {
	return poolMetric{desc: newDesc("pool", name, help, poolLabels), get: get, kind: prometheus.GaugeValue}
}

func (*Collector) counter(name, help string, get func(*pool.Stats) float64) poolMetric {
	return poolMetric{desc: newDesc("pool", name, help, poolLabels), get: get, kind: prometheus.CounterValue}
}

func (*Collector) cacheGauge(name, help string, get func(*pool.CacheStats) float64) cacheMetric {
	return cacheMetric{desc: newDesc("cache", name, help, poolLabels), get: get, kind: prometheus.GaugeValue}
}

func (*Collector) cacheCounter(name, help string, get func(*pool.CacheStats) float64) cacheMetric {
	return cacheMetric{desc: newDesc("cache", name, help, poolLabels), get: get, kind: prometheus.CounterValue}
}

func (*Collector) allocMetric(name, help string, kind prometheus.ValueType, get func(*palloc.Stats) float64) allocMetric {
	return allocMetric{desc: newDesc("palloc", name, help, allocLabels), get: get, kind: kind}
}

// e.g. mempool_pool_nout{pool="bufs",id="3"}
func newDesc(subsystem, name, help string, labels []string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, labels, nil)
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.pools {
		ch <- m.desc
	}
	for _, m := range c.cache {
		ch <- m.desc
	}
	for _, m := range c.alloc {
		ch <- m.desc
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, p := range c.r.Pools() {
		var (
			s      = p.Stats()
			labels = []string{s.Name, strconv.FormatUint(uint64(s.ID), 10)}
		)
		for _, m := range c.pools {
			c.publish(ch, m.desc, m.kind, m.get(s), labels)
		}
		if s.Cache == nil {
			continue
		}
		for _, m := range c.cache {
			c.publish(ch, m.desc, m.kind, m.get(s.Cache), labels)
		}
	}
	if a, ok := c.r.Allocator().(statser); ok {
		var (
			s      = a.Stats()
			labels = []string{strconv.Itoa(a.PageSize())}
		)
		for _, m := range c.alloc {
			c.publish(ch, m.desc, m.kind, m.get(&s), labels)
		}
	}
}

func (*Collector) publish(ch chan<- prometheus.Metric, desc *prometheus.Desc, kind prometheus.ValueType, v float64, labels []string) {
	m, err := prometheus.NewConstMetric(desc, kind, v, labels...)
	debug.AssertNoErr(err)
	if err == nil {
		ch <- m
	}
}
