// Package pool implements page-backed pools of fixed-size items with an optional per-CPU cache layer
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package pool

import (
	"encoding/binary"

	"github.com/NVIDIA/mempool/cmn/cos"
	cuckoo "github.com/seiflotfy/cuckoofilter"
)

// fixed-depth ring of recently freed items; a cuckoo filter over item
// addresses pre-screens double frees before the exact scan
type quarantine struct {
	filter *cuckoo.Filter
	ring   [][]byte
	rotor  int
	n      int
	exact  bool // filter overflowed: always scan
}

// interface guard
var _ QuarantineRing = (*quarantine)(nil)

func NewQuarantine(depth int) QuarantineRing {
	cos.Assertf(depth > 0, "invalid quarantine depth %d", depth)
	return &quarantine{
		ring:   make([][]byte, depth),
		filter: cuckoo.NewFilter(uint(max(2*depth, 64))),
	}
}

func addrKey(item []byte) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(addrOf(item)))
	return b[:]
}

func (q *quarantine) Len() int { return q.n }

func (q *quarantine) has(item []byte) bool {
	addr := addrOf(item)
	for _, b := range q.ring {
		if b != nil && addrOf(b) == addr {
			return true
		}
	}
	return false
}

func (q *quarantine) Put(item []byte) (evicted []byte) {
	key := addrKey(item)
	if (q.exact || q.filter.Lookup(key)) && q.has(item) {
		fatalf("quarantine: double free: item %#x", addrOf(item))
	}
	evicted = q.ring[q.rotor]
	q.ring[q.rotor] = item
	q.rotor = (q.rotor + 1) % len(q.ring)
	if !q.filter.Insert(key) {
		q.exact = true
	}
	if evicted != nil {
		q.filter.Delete(addrKey(evicted))
	} else {
		q.n++
	}
	return evicted
}

func (q *quarantine) Flush() [][]byte {
	items := make([][]byte, 0, q.n)
	for i, b := range q.ring {
		if b != nil {
			items = append(items, b)
			q.ring[i] = nil
		}
	}
	q.n, q.rotor, q.exact = 0, 0, false
	q.filter.Reset()
	return items
}
