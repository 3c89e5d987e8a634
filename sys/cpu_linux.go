// Package sys provides methods to read system information
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package sys

import (
	"bufio"
	"errors"
	"os"
	"runtime"
	"strconv"
	"strings"
)

const (
	rootProcess   = "/proc/1/cgroup"
	contCPULimit  = "/sys/fs/cgroup/cpu/cpu.cfs_quota_us"
	contCPUPeriod = "/sys/fs/cgroup/cpu/cpu.cfs_period_us"
)

func isContainerized() (yes bool) {
	f, err := os.Open(rootProcess)
	if err != nil {
		return false
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, "docker") || strings.Contains(line, "lxc") || strings.Contains(line, "kube") {
			return true
		}
	}
	return false
}

// Returns an approximate number of CPUs allocated for the container.
// Negative cfs_quota_us means no limit; otherwise rounds quota/period up.
func containerNumCPU() (int, error) {
	quota, err := readOneInt64(contCPULimit)
	if err != nil {
		return 0, err
	}
	if quota <= 0 {
		return runtime.NumCPU(), nil
	}
	period, err := readOneInt64(contCPUPeriod)
	if err != nil {
		return 0, err
	}
	if period <= 0 {
		return 0, errors.New("failed to read container CPU info")
	}
	approx := (quota + period - 1) / period
	return int(max(approx, 1)), nil
}

func readOneInt64(path string) (int64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(string(b)), 10, 64)
}
