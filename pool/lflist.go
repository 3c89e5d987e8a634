// Package pool implements page-backed pools of fixed-size items with an optional per-CPU cache layer
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package pool

import (
	"runtime"
	"sync/atomic"
)

// lock-free intrusive LIFO list: get() locks out concurrent get/put by swapping
// the head with a per-list busy sentinel, reads `next`, and unlocks by storing it;
// put() and trunc() wait (with backoff) while the list is busy

const (
	backoffMin = 4
	backoffMax = 128
)

type (
	lfnode[T any] interface {
		*T
		lfNext() *T
		setLFNext(*T)
	}
	lflist[T any, P lfnode[T]] struct {
		head atomic.Pointer[T]
		busy *T
		n    atomic.Int32
	}
)

func (l *lflist[T, P]) init() { l.busy = new(T) }

func (l *lflist[T, P]) len() int { return int(l.n.Load()) }

// spin `count` times, doubling up to backoffMax; then yield
func (l *lflist[T, P]) backoff(count *int) {
	if *count >= backoffMax {
		runtime.Gosched()
		return
	}
	for range *count {
		if l.head.Load() != l.busy {
			break
		}
	}
	*count += *count
}

// returns nil when empty; contended: had to back off
func (l *lflist[T, P]) get() (o *T, contended bool) {
	count := backoffMin
	for o = l.head.Load(); ; o = l.head.Load() {
		if o == l.busy {
			l.backoff(&count)
			continue
		}
		if o == nil {
			break
		}
		if l.head.CompareAndSwap(o, l.busy) {
			l.head.Store(P(o).lfNext())
			P(o).setLFNext(nil)
			l.n.Add(-1)
			break
		}
	}
	return o, count != backoffMin
}

func (l *lflist[T, P]) put(x *T) (contended bool) {
	count := backoffMin
	for o := l.head.Load(); ; o = l.head.Load() {
		if o == l.busy {
			l.backoff(&count)
			continue
		}
		P(x).setLFNext(o)
		if l.head.CompareAndSwap(o, x) {
			l.n.Add(1)
			return count != backoffMin
		}
	}
}

// detach the entire list; returns its (linked) head
func (l *lflist[T, P]) trunc() *T {
	count := backoffMin
	for o := l.head.Load(); ; o = l.head.Load() {
		if o == l.busy {
			l.backoff(&count)
			continue
		}
		if l.head.CompareAndSwap(o, nil) {
			var k int32
			for x := o; x != nil; x = P(x).lfNext() {
				k++
			}
			l.n.Add(-k)
			return o
		}
	}
}
