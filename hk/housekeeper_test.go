// Package hk provides mechanism for registering cleanup
// functions which are invoked at specified intervals.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package hk_test

import (
	"sync/atomic"
	"time"

	"github.com/NVIDIA/mempool/hk"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Housekeeper", func() {
	var h *hk.Housekeeper

	BeforeEach(func() {
		h = hk.New("test-hk")
		go h.Run()
		h.WaitStarted()
	})

	AfterEach(func() {
		h.Stop(nil)
		Eventually(h.Running).Should(BeFalse())
	})

	It("should call registered function at its interval", func() {
		var cnt atomic.Int32
		h.Reg("foo"+hk.NameSuffix, func(int64) time.Duration {
			cnt.Add(1)
			return 20 * time.Millisecond
		}, 20*time.Millisecond)

		Eventually(cnt.Load, time.Second).Should(BeNumerically(">=", 3))
	})

	It("should call right away when registered with zero interval", func() {
		var cnt atomic.Int32
		h.Reg("now", func(int64) time.Duration {
			cnt.Add(1)
			return time.Hour
		}, 0)

		Eventually(cnt.Load, 200*time.Millisecond).Should(BeEquivalentTo(1))
		Consistently(cnt.Load, 100*time.Millisecond).Should(BeEquivalentTo(1))
	})

	It("should stop calling after unregistering", func() {
		var cnt atomic.Int32
		h.Reg("bar", func(int64) time.Duration {
			cnt.Add(1)
			return 10 * time.Millisecond
		}, 10*time.Millisecond)
		Eventually(cnt.Load, time.Second).Should(BeNumerically(">=", 1))

		h.Unreg("bar")
		time.Sleep(50 * time.Millisecond)
		prev := cnt.Load()
		Consistently(cnt.Load, 100*time.Millisecond).Should(Equal(prev))
	})

	It("should unregister when callback returns UnregInterval", func() {
		var cnt atomic.Int32
		h.Reg("once", func(int64) time.Duration {
			cnt.Add(1)
			return hk.UnregInterval
		}, 10*time.Millisecond)

		Eventually(cnt.Load, time.Second).Should(BeEquivalentTo(1))
		Consistently(cnt.Load, 100*time.Millisecond).Should(BeEquivalentTo(1))
		h.UnregIf("once", func(int64) time.Duration { return 0 }) // non-presence is fine
	})

	It("should order callbacks by next-run time", func() {
		var (
			fast, slow atomic.Int32
		)
		h.Reg("slow", func(int64) time.Duration {
			slow.Add(1)
			return 200 * time.Millisecond
		}, 200*time.Millisecond)
		h.Reg("fast", func(int64) time.Duration {
			fast.Add(1)
			return 10 * time.Millisecond
		}, 10*time.Millisecond)

		Eventually(fast.Load, time.Second).Should(BeNumerically(">=", 5))
		Expect(slow.Load()).To(BeNumerically("<=", 1))
	})
})
