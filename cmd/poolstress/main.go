// Package main: poolstress runs get/put workers against a pool (optionally
// cached) and reports pool statistics.
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"flag"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"time"

	"github.com/NVIDIA/mempool/cmn/config"
	"github.com/NVIDIA/mempool/cmn/cos"
	"github.com/NVIDIA/mempool/cmn/mono"
	"github.com/NVIDIA/mempool/cmn/nlog"
	"github.com/NVIDIA/mempool/palloc"
	"github.com/NVIDIA/mempool/pool"
	"github.com/NVIDIA/mempool/stats"
	"github.com/NVIDIA/mempool/sys"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

var flags struct {
	config    string
	metrics   string
	duration  time.Duration
	workers   int
	size      int
	align     int
	hold      int
	hardlimit int
	cache     bool
	mmap      bool
	json      bool
	help      bool
}

const helpMsg = `Build:
	go install ./cmd/poolstress

Examples:
	poolstress -h                                      - show usage
	poolstress -size=256 -duration=10s                 - 256B items, uncached pool, default config
	poolstress -size=64 -cache -workers=64             - per-CPU cached pool
	poolstress -config=/etc/mempool.yaml -json         - use config file; dump stats as JSON
	poolstress -hardlimit=1000 -hold=64                - exercise hard-limit waits
	poolstress -mmap -metrics=:9100 -duration=1m       - mmap-backed pages; serve /metrics
`

func main() {
	newFlag := flag.NewFlagSet(os.Args[0], flag.ExitOnError) // discard flags of imported packages

	newFlag.StringVar(&flags.config, "config", "", "YAML config file (optional; MEMPOOL_* environment applies)")
	newFlag.StringVar(&flags.metrics, "metrics", "", "listen address for Prometheus /metrics (e.g. \":9100\")")
	newFlag.DurationVar(&flags.duration, "duration", 5*time.Second, "test duration")
	newFlag.IntVar(&flags.workers, "workers", 0, "number of workers (0: number of CPUs)")
	newFlag.IntVar(&flags.size, "size", 128, "item size")
	newFlag.IntVar(&flags.align, "align", 0, "item alignment (0: default)")
	newFlag.IntVar(&flags.hold, "hold", 16, "max items held by a worker at a time")
	newFlag.IntVar(&flags.hardlimit, "hardlimit", 0, "pool hard limit (0: unlimited)")
	newFlag.BoolVar(&flags.cache, "cache", false, "wrap the pool with a per-CPU cache")
	newFlag.BoolVar(&flags.mmap, "mmap", false, "back the pool with anonymous mmap pages")
	newFlag.BoolVar(&flags.json, "json", false, "print final stats as JSON")
	newFlag.BoolVar(&flags.help, "h", false, "print usage and exit")
	newFlag.Parse(os.Args[1:])

	if flags.help {
		fmt.Print(helpMsg)
		newFlag.PrintDefaults()
		os.Exit(0)
	}
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "poolstress:", err)
		nlog.Flush()
		os.Exit(1)
	}
}

func run() error {
	sys.GoEnvMaxprocs()
	cfg, err := config.Load(flags.config)
	if err != nil {
		return err
	}
	if err := nlog.Init(cfg.Log.Level, cfg.Log.Encoding, cfg.Log.Verbosity); err != nil {
		return err
	}
	if flags.size <= 0 || flags.hold <= 0 {
		return errors.New("size and hold must be positive")
	}
	r, err := pool.NewRegistry(cfg)
	if err != nil {
		return err
	}
	if flags.mmap {
		r.SetAllocator(palloc.NewMmap(int(cfg.PageSize), 0))
	}
	r.Start()
	defer r.Terminate()

	if flags.metrics != "" {
		if err := stats.NewCollector(r).Register(); err != nil {
			return err
		}
		http.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(flags.metrics, nil); err != nil {
				nlog.Errorln("metrics:", err)
			}
		}()
	}

	p := r.NewPool(&pool.Args{Name: "poolstress", Size: flags.size, Align: flags.align})
	if flags.hardlimit > 0 {
		if err := p.SetHardLimit(flags.hardlimit, "poolstress: hard limit reached", 10*time.Second); err != nil {
			return err
		}
	}
	var (
		pc      *pool.Cache
		get     = p.Get
		put     = p.Put
		workers = flags.workers
	)
	if flags.cache {
		pc = pool.NewCache(p, &pool.CacheArgs{})
		get, put = pc.Get, pc.Put
	}
	if workers <= 0 {
		workers = r.CPUs().NumOnline()
	}

	nlog.Infof("poolstress: %d workers, item %s, page %s, %s, %v", workers,
		cos.ToSizeIEC(int64(p.Size()), 0), cos.ToSizeIEC(int64(p.PageSize()), 0), p.Stats().Flags, flags.duration)

	var (
		g       errgroup.Group
		stopCh  = cos.NewStopCh()
		started = mono.NanoTime()
	)
	for i := range workers {
		g.Go(func() error { return worker(i, get, put, stopCh) })
	}
	time.Sleep(flags.duration)
	stopCh.Close()
	if err := g.Wait(); err != nil {
		return err
	}
	elapsed := mono.Since(started)

	if pc != nil {
		pc.Invalidate()
	}
	r.Drain()
	if err := p.Check(); err != nil {
		return err
	}
	s := p.Stats()
	if flags.json {
		fmt.Println(string(cos.MustMarshalIndent(s)))
	} else {
		fmt.Printf("%s: %d gets, %d puts, %d failed in %v (%.0f ops/s)\n", s.Name, s.NGet, s.NPut, s.NFail,
			elapsed.Round(time.Millisecond), float64(s.NGet+s.NPut)/elapsed.Seconds())
		fmt.Printf("pages: %d now, %d max, %d allocated, %d freed\n", s.NPages, s.HiWat, s.NPageAlloc, s.NPageFree)
		if s.Cache != nil {
			fmt.Printf("cache: %d hits, %d misses, %d pool misses, %d contended\n",
				s.Cache.Hits, s.Cache.Misses, s.Cache.PCMisses, s.Cache.Contended)
		}
	}
	if pc != nil {
		pc.Destroy()
	} else {
		p.Destroy()
	}
	return nil
}

func worker(id int, get func(pool.WaitFlags) ([]byte, error), put func([]byte), stopCh *cos.StopCh) error {
	var (
		rnd    = rand.New(rand.NewPCG(uint64(id), uint64(time.Now().UnixNano())))
		held   = make([][]byte, 0, flags.hold)
		wflags = pool.WaitOK
	)
	if flags.hardlimit > 0 {
		// workers hold items while getting more: never wait at the limit
		wflags |= pool.LimitFail
	}
	defer func() {
		for _, b := range held {
			put(b)
		}
	}()
	for {
		select {
		case <-stopCh.Listen():
			return nil
		default:
		}
		n := rnd.IntN(flags.hold) + 1
		for range n {
			b, err := get(wflags)
			if err != nil {
				if errors.Is(err, pool.ErrNoMem) {
					break
				}
				return errors.Wrapf(err, "worker %d", id)
			}
			b[0] = byte(id)
			held = append(held, b)
		}
		for _, b := range held {
			if b[0] != byte(id) {
				return errors.Errorf("worker %d: item %p clobbered", id, &b[0])
			}
			put(b)
		}
		held = held[:0]
	}
}
