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
	"github.com/botobag/selene/concurrent"
)

// A dependency is one item an operation's evaluation read: either a field slot on an entity or a
// reactive variable. The zero sig/key with a non-empty varID denotes a variable.
type dependency struct {
	key   EntityKey
	sig   FieldSignature
	varID string
}

func fieldDependency(key EntityKey, sig FieldSignature) dependency {
	return dependency{key: key, sig: sig}
}

func variableDependency(varID string) dependency {
	return dependency{varID: varID}
}

// notifier tracks which operations depend on which store entries and reactive variables, and
// schedules coalesced re-evaluation when any of them change. All state is guarded by the owning
// Cache's mutex; only the flush task submission escapes it.
type notifier struct {
	cache *Cache

	// executor runs flush tasks one at a time, off the writer's call stack.
	executor concurrent.Executor

	// operations is the registry of live watched operations.
	operations map[*operation]struct{}

	// dependents indexes operations by the dependencies their latest evaluation recorded.
	dependents map[dependency]map[*operation]struct{}

	// dirty collects operations awaiting re-evaluation. Multiple dependency changes arriving
	// before the scheduled flush collapse into a single re-evaluation per operation.
	dirty map[*operation]struct{}

	flushScheduled bool

	// batchDepth suppresses flush scheduling inside Cache.Batch; the closing of the outermost
	// batch schedules one flush for everything the batch dirtied.
	batchDepth int

	// writeback is the operation whose remote response is currently being normalized. Dirtiness
	// caused by that write-back must not re-arm the operation's own refetch, or a response that
	// never satisfies the operation would fetch forever.
	writeback *operation
}

func newNotifier(c *Cache, executor concurrent.Executor) *notifier {
	return &notifier{
		cache:      c,
		executor:   executor,
		operations: map[*operation]struct{}{},
		dependents: map[dependency]map[*operation]struct{}{},
		dirty:      map[*operation]struct{}{},
	}
}

var _ writeObserver = (*notifier)(nil)

// register adds a watched operation to the registry.
func (n *notifier) register(op *operation) {
	n.operations[op] = struct{}{}
}

// recordDeps replaces an operation's dependency records with the set its latest evaluation read.
func (n *notifier) recordDeps(op *operation, deps map[dependency]struct{}) {
	for dep := range op.deps {
		if _, ok := deps[dep]; ok {
			continue
		}
		if dependents := n.dependents[dep]; dependents != nil {
			delete(dependents, op)
			if len(dependents) == 0 {
				delete(n.dependents, dep)
			}
		}
	}
	for dep := range deps {
		dependents := n.dependents[dep]
		if dependents == nil {
			dependents = map[*operation]struct{}{}
			n.dependents[dep] = dependents
		}
		dependents[op] = struct{}{}
	}
	op.deps = deps
}

// removeOperation drops every record of an operation. A flush already scheduled becomes a no-op
// for it.
func (n *notifier) removeOperation(op *operation) {
	for dep := range op.deps {
		if dependents := n.dependents[dep]; dependents != nil {
			delete(dependents, op)
			if len(dependents) == 0 {
				delete(n.dependents, dep)
			}
		}
	}
	op.deps = nil
	delete(n.dirty, op)
	delete(n.operations, op)
}

// fieldWritten implements writeObserver: the store calls it after a field slot changed.
func (n *notifier) fieldWritten(key EntityKey, sig FieldSignature) {
	n.notify(fieldDependency(key, sig))
}

// variableChanged is called by ReactiveVariable.Set.
func (n *notifier) variableChanged(varID string) {
	n.notify(variableDependency(varID))
}

func (n *notifier) notify(dep dependency) {
	for op := range n.dependents[dep] {
		n.markDirty(op)
	}
}

func (n *notifier) markDirty(op *operation) {
	if op.cancelled {
		return
	}
	if op != n.writeback {
		op.fetchSettled = false
	}
	op.dirty = true
	n.dirty[op] = struct{}{}
	n.scheduleFlush()
}

// invalidateAll marks every live operation dirty. Restore uses it after wholesale store
// replacement.
func (n *notifier) invalidateAll() {
	for op := range n.operations {
		n.markDirty(op)
	}
}

func (n *notifier) scheduleFlush() {
	if n.flushScheduled || n.batchDepth > 0 || len(n.dirty) == 0 {
		return
	}
	n.flushScheduled = true

	// Submission failure only happens after Close; dirty flags stay set and are simply never
	// delivered, which is the documented post-Close behavior.
	_ = n.executor.Submit(concurrent.TaskFunc(n.cache.flushDirty))
}

// takeDirty hands the dirty set to a running flush and resets scheduling state.
func (n *notifier) takeDirty() []*operation {
	n.flushScheduled = false
	if len(n.dirty) == 0 {
		return nil
	}
	ops := make([]*operation, 0, len(n.dirty))
	for op := range n.dirty {
		if !op.cancelled {
			ops = append(ops, op)
		}
	}
	n.dirty = map[*operation]struct{}{}
	return ops
}
