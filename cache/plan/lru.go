/**
 * Copyright (c) 2020, The Selene Authors.
 *
 * Permission to use, copy, modify, and/or distribute this software for any
 * purpose with or without fee is hereby granted, provided that the above
 * copyright notice and this permission notice appear in all copies.
 *
 * THE SOFTWARE IS PROVIDED "AS IS" AND THE AUTHOR DISCLAIMS ALL WARRANTIES
 * WITH REGARD TO THIS SOFTWARE INCLUDING ALL IMPLIED WARRANTIES OF
 * MERCHANTABILITY AND FITNESS. IN NO EVENT SHALL THE AUTHOR BE LIABLE FOR
 * ANY SPECIAL, DIRECT, INDIRECT, OR CONSEQUENTIAL DAMAGES OR ANY DAMAGES
 * WHATSOEVER RESULTING FROM LOSS OF USE, DATA OR PROFITS, WHETHER IN AN
 * ACTION OF CONTRACT, NEGLIGENCE OR OTHER TORTIOUS ACTION, ARISING OUT OF
 * OR IN CONNECTION WITH THE USE OR PERFORMANCE OF THIS SOFTWARE.
 */

package plan

import (
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/willf/bitset"
)

// A CacheKey identifies a (document source, operation name) pair in an LRU.
type CacheKey uint64

// KeyFor hashes a document source and operation name into a CacheKey.
func KeyFor(source, operationName string) CacheKey {
	digest := xxhash.New()
	_, _ = digest.WriteString(source)
	_, _ = digest.Write([]byte{0})
	_, _ = digest.WriteString(operationName)
	return CacheKey(digest.Sum64())
}

const noSlot = -1

type lruEntry struct {
	key  CacheKey
	plan *Plan

	// Slot indices of the neighboring entries in recency order; noSlot at the ends.
	prev, next int
}

// An LRU caches built plans to save parsing and planning effort when the same document is watched
// or read repeatedly. Entries live in a fixed slab; a bitset tracks the free slots, so filling and
// recycling the cache allocates nothing.
type LRU struct {
	mu sync.Mutex

	entries []lruEntry
	free    bitset.BitSet
	byKey   map[CacheKey]int

	// Most and least recently used slots.
	front, back int
}

// NewLRU creates an LRU holding at most maxEntries plans. It panics when maxEntries is 0.
func NewLRU(maxEntries uint) *LRU {
	if maxEntries == 0 {
		panic("plan.NewLRU: maxEntries must be positive")
	}
	lru := &LRU{
		entries: make([]lruEntry, maxEntries),
		byKey:   make(map[CacheKey]int, maxEntries),
		front:   noSlot,
		back:    noSlot,
	}
	// All slots start free.
	for i := uint(0); i < maxEntries; i++ {
		lru.free.Set(i)
	}
	return lru
}

// Get looks up the plan cached for key and marks it most recently used.
func (lru *LRU) Get(key CacheKey) (*Plan, bool) {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	slot, ok := lru.byKey[key]
	if !ok {
		return nil, false
	}
	lru.moveToFront(slot)
	return lru.entries[slot].plan, true
}

// Add caches a plan under key, evicting the least recently used entry when the slab is full.
func (lru *LRU) Add(key CacheKey, p *Plan) {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	if slot, ok := lru.byKey[key]; ok {
		lru.entries[slot].plan = p
		lru.moveToFront(slot)
		return
	}

	index, ok := lru.free.NextSet(0)
	if !ok {
		// Recycle the least recently used slot.
		index = uint(lru.back)
		lru.unlink(lru.back)
		delete(lru.byKey, lru.entries[index].key)
		lru.free.Set(index)
	}

	lru.free.Clear(index)
	lru.entries[index] = lruEntry{key: key, plan: p, prev: noSlot, next: noSlot}
	lru.byKey[key] = int(index)
	lru.pushFront(int(index))
}

// Len returns the number of cached plans.
func (lru *LRU) Len() int {
	lru.mu.Lock()
	defer lru.mu.Unlock()
	return len(lru.byKey)
}

func (lru *LRU) unlink(slot int) {
	entry := &lru.entries[slot]
	if entry.prev != noSlot {
		lru.entries[entry.prev].next = entry.next
	} else {
		lru.front = entry.next
	}
	if entry.next != noSlot {
		lru.entries[entry.next].prev = entry.prev
	} else {
		lru.back = entry.prev
	}
	entry.prev, entry.next = noSlot, noSlot
}

func (lru *LRU) pushFront(slot int) {
	entry := &lru.entries[slot]
	entry.prev = noSlot
	entry.next = lru.front
	if lru.front != noSlot {
		lru.entries[lru.front].prev = slot
	}
	lru.front = slot
	if lru.back == noSlot {
		lru.back = slot
	}
}

func (lru *LRU) moveToFront(slot int) {
	if lru.front == slot {
		return
	}
	lru.unlink(slot)
	lru.pushFront(slot)
}
