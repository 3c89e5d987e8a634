//go:build debug

// Package debug provides build-tag gated assertions and debug logging
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package debug

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/NVIDIA/mempool/cmn/nlog"
)

func ON() bool { return true }

func Infof(f string, a ...any) {
	nlog.InfoDepth(1, fmt.Sprintf("[DEBUG] "+f, a...))
}

func Func(f func()) { f() }

func _panic(a ...any) {
	msg := "DEBUG PANIC"
	if len(a) > 0 {
		msg += ": " + fmt.Sprint(a...)
	}
	nlog.Flush()
	panic(msg)
}

func Assert(cond bool, a ...any) {
	if !cond {
		_panic(a...)
	}
}

func AssertFunc(f func() bool, a ...any) {
	if !f() {
		_panic(a...)
	}
}

func Assertf(cond bool, f string, a ...any) {
	if !cond {
		_panic(fmt.Sprintf(f, a...))
	}
}

func AssertNoErr(err error) {
	if err != nil {
		_panic(err)
	}
}

func AssertMutexLocked(m *sync.Mutex) {
	state := reflect.ValueOf(m).Elem().FieldByName("mu").FieldByName("state")
	if !state.IsValid() {
		state = reflect.ValueOf(m).Elem().FieldByName("state")
	}
	Assert(state.Int()&1 == 1, "mutex not locked")
}
