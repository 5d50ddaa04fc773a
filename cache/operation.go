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
	"context"

	"github.com/botobag/selene/cache/plan"
)

//===----------------------------------------------------------------------------------------====//
// Result
//===----------------------------------------------------------------------------------------====//

// A Result is the outcome of resolving an operation against the cache: the result tree shaped
// like the operation document, any field-scoped errors, and whether every requested field could
// be resolved.
type Result struct {
	// Data is the result tree. Positions that could not be resolved are absent.
	Data map[string]interface{}

	// Errors carries the field-scoped errors found during resolution (missing fields, policy
	// failures) and, after a remote round trip, any response-level errors from the transport.
	Errors Errors

	// Complete is true when every requested field resolved without a missing-field error.
	Complete bool
}

//===----------------------------------------------------------------------------------------====//
// operation
//===----------------------------------------------------------------------------------------====//

// An operation is one actively watched (document, variables) pair. Its cached result is reused
// until one of its recorded dependencies changes; the notifier then marks it dirty and the next
// coalesced flush re-evaluates it.
type operation struct {
	id        string
	plan      *plan.Plan
	variables map[string]interface{}

	// overrides are the operation's WatchOptions.TypePolicies, or nil; they shadow the cache-level
	// registry while this operation's reads resolve.
	overrides *Policies

	// deps is the dependency set recorded by the most recent evaluation.
	deps map[dependency]struct{}

	lastResult *Result
	dirty      bool
	cancelled  bool

	// remoteErrs carries the response-level errors of the most recent remote round trip; they ride
	// along on every re-evaluated result until the next round trip replaces them.
	remoteErrs Errors

	// fetching is true while a remote fetch for this operation is in flight; it keeps a dirty
	// re-evaluation from piling refetches on top of each other.
	fetching bool

	// fetchSettled is set once a remote round trip finishes. It blocks another round trip until a
	// store or variable dependency changes outside the fetch's own write-back: a response that
	// cannot satisfy the operation must not trigger an immediate refetch of the same thing.
	fetchSettled bool

	// updates carries re-deliveries. It has capacity 1 with keep-latest semantics: a slow consumer
	// observes the newest result, never a stale backlog. Sends happen only under the cache mutex.
	updates chan *Result

	// ctx and cancel scope the subscription's in-flight remote work.
	ctx    context.Context
	cancel context.CancelFunc
}

// deliver hands a result to the subscriber without ever blocking. Caller holds the cache mutex.
func (op *operation) deliver(result *Result) {
	if op.cancelled {
		return
	}
	select {
	case op.updates <- result:
	default:
		// The subscriber has not drained the previous result; replace it. The channel has a single
		// producer (always under the cache mutex), so space freed here cannot be stolen.
		select {
		case <-op.updates:
		default:
		}
		op.updates <- result
	}
}

//===----------------------------------------------------------------------------------------====//
// Subscription
//===----------------------------------------------------------------------------------------====//

// A Subscription is the live handle returned by Watch. The view-binding collaborator receives the
// synchronous initial result from Watch itself and asynchronous re-deliveries through Updates.
type Subscription struct {
	cache *Cache
	op    *operation
}

// ID returns the subscription's unique identity.
func (s *Subscription) ID() string {
	return s.op.id
}

// Updates returns the channel of re-deliveries. It is closed by Unsubscribe. The channel keeps
// only the latest undelivered result.
func (s *Subscription) Updates() <-chan *Result {
	return s.op.updates
}

// Unsubscribe cancels the subscription. The operation is removed from every dependency index and
// no further delivery occurs, even if a re-evaluation was already scheduled. Store writes the
// operation already caused are not rolled back.
func (s *Subscription) Unsubscribe() {
	c := s.cache
	c.mu.Lock()
	defer c.mu.Unlock()

	op := s.op
	if op.cancelled {
		return
	}
	c.notifier.removeOperation(op)
	op.cancelled = true
	if op.cancel != nil {
		op.cancel()
	}
	close(op.updates)
}
