// Package sys provides methods to read system information
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package sys

import (
	"fmt"
	"os"
	"runtime"

	"github.com/NVIDIA/mempool/cmn/nlog"
	"github.com/klauspost/cpuid/v2"
)

const dfltCacheLine = 64

var (
	contCPUs      int
	containerized bool
	cacheLine     int
	pageSize      int
)

func init() {
	contCPUs = runtime.NumCPU()
	if containerized = isContainerized(); containerized {
		if c, err := containerNumCPU(); err == nil {
			contCPUs = c
		} else {
			fmt.Fprintln(os.Stderr, err) // (cannot nlog yet)
		}
	}
	cacheLine = cpuid.CPU.CacheLine
	if cacheLine <= 0 || cacheLine&(cacheLine-1) != 0 {
		cacheLine = dfltCacheLine
	}
	pageSize = os.Getpagesize()
}

func Containerized() bool { return containerized }
func NumCPU() int         { return contCPUs }

// L1 data cache line size, in bytes (used for page coloring)
func CacheLineSize() int { return cacheLine }

// OS page size
func PageSize() int { return pageSize }

func CPUBrand() string { return cpuid.CPU.BrandName }

func GoEnvMaxprocs() {
	if val, exists := os.LookupEnv("GOMEMLIMIT"); exists {
		nlog.Warningln("Go environment: GOMEMLIMIT =", val)
	}
	if val, exists := os.LookupEnv("GOMAXPROCS"); exists {
		nlog.Warningln("Go environment: GOMAXPROCS =", val)
		return
	}

	maxprocs := runtime.GOMAXPROCS(0)
	ncpu := NumCPU()
	if maxprocs > ncpu {
		nlog.Warningf("Reducing GOMAXPROCS (prev = %d) to %d", maxprocs, ncpu)
		runtime.GOMAXPROCS(ncpu)
	}
}
