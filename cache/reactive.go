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

package cache

import (
	"reflect"

	"github.com/oklog/ulid/v2"
)

// A ReactiveVariable is a mutable single-value cell living outside the normalized store. Reading
// it through a field policy's ReadContext records a dependency of the enclosing operation; writing
// it schedules re-evaluation of exactly the operations whose latest evaluation read it. The value
// is never normalized and never included in snapshots.
//
// The variable is owned by whoever created it. The cache's notifier holds only subscription
// records keyed by the variable's identity, so dropping the variable drops its subscriptions with
// the operations that recorded them.
type ReactiveVariable struct {
	id    string
	cache *Cache

	// value is guarded by cache.mu so policy reads observe a consistent snapshot.
	value interface{}
}

// NewReactiveVariable creates a reactive variable with an initial value. The variable can be read
// and written directly, outside of any operation.
func (c *Cache) NewReactiveVariable(initial interface{}) *ReactiveVariable {
	return &ReactiveVariable{
		id:    ulid.Make().String(),
		cache: c,
		value: initial,
	}
}

// ID returns the variable's unique identity.
func (v *ReactiveVariable) ID() string {
	return v.id
}

// Value returns the current value.
func (v *ReactiveVariable) Value() interface{} {
	c := v.cache
	c.mu.Lock()
	defer c.mu.Unlock()
	return v.value
}

// Set replaces the value and schedules re-evaluation of every operation whose most recent
// dependency set includes this variable. Setting an equal value is a no-op.
func (v *ReactiveVariable) Set(value interface{}) {
	c := v.cache
	c.mu.Lock()
	defer c.mu.Unlock()

	if reflect.DeepEqual(v.value, value) {
		return
	}
	v.value = value
	c.notifier.variableChanged(v.id)
}
