/**
 * Copyright (c) 2019, The Selene Authors.
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

// Package cache implements a normalized, reactive client-side GraphQL cache: result data is
// decomposed into keyed entity records connected by references, field policies customize how
// fields are read and merged, operation documents may mix remote fields with local-only (@client)
// fields, and watched operations are re-evaluated when anything their last evaluation read
// changes.
package cache

import (
	"context"
	"log"
	"reflect"
	"sync"

	"github.com/botobag/selene/cache/plan"
	"github.com/botobag/selene/concurrent"

	"github.com/oklog/ulid/v2"
)

// Cache is one client instance's cache: the normalized store, the policy registry, the plan LRU
// and the reactive notifier, sharing a single mutex. Concurrent operations sharing the instance
// share the store and observe each other's writes; the dependency tracking, not the callers,
// decides who needs to know.
type Cache struct {
	mu sync.Mutex

	store    *EntityStore
	policies *Policies
	notifier *notifier
	plans    *plan.LRU

	transport Transport
	logger    *log.Logger
	executor  *concurrent.SerialExecutor

	compareResults bool
}

// New creates a Cache from the configuration.
func New(config Config) *Cache {
	logger := config.logger()
	policies := NewPolicies(config.TypePolicies)

	c := &Cache{
		store:          newEntityStore(policies, logger),
		policies:       policies,
		plans:          plan.NewLRU(config.planCacheSize()),
		transport:      config.Transport,
		logger:         logger,
		executor:       concurrent.NewSerialExecutor(),
		compareResults: !config.DisableResultComparison,
	}
	c.notifier = newNotifier(c, c.executor)
	c.store.observer = c.notifier
	return c
}

// Close shuts down notification delivery. Scheduled flushes still run; nothing new is scheduled.
// The returned channel is closed once delivery has drained.
func (c *Cache) Close() <-chan struct{} {
	return c.executor.Shutdown()
}

//===----------------------------------------------------------------------------------------====//
// Planning
//===----------------------------------------------------------------------------------------====//

// planFor builds (or recalls from the LRU) the plan for an operation document, logging any
// diagnostics found while planning.
func (c *Cache) planFor(query string, operationName string) (*plan.Plan, error) {
	key := plan.KeyFor(query, operationName)
	if p, ok := c.plans.Get(key); ok {
		return p, nil
	}

	p, err := plan.Build(query, operationName)
	if err != nil {
		return nil, NewError(
			"preparing operation document", err, ErrKindDocument, Op("cache.plan"))
	}
	// Planner diagnostics are all export conflicts; attach the kind so log scrapers can classify
	// them the same way returned errors are classified.
	for _, diagnostic := range p.Diagnostics {
		c.logger.Printf("[WARN] cache: %v", NewError(
			diagnostic.Message, ErrKindExportConflict, Op("cache.plan"),
			ErrorLocation{Line: diagnostic.Line, Column: diagnostic.Column}))
	}

	c.plans.Add(key, p)
	return p, nil
}

func rootKeyFor(p *plan.Plan) EntityKey {
	if p.IsMutation() {
		return RootMutationKey
	}
	return RootQueryKey
}

//===----------------------------------------------------------------------------------------====//
// Synchronous read/write surface
//===----------------------------------------------------------------------------------------====//

// ReadQuery resolves an operation document against the cache only; no transport round trip is
// made. Missing fields surface as field-scoped errors on the result, leaving it incomplete.
func (c *Cache) ReadQuery(query string, variables map[string]interface{}) (*Result, error) {
	p, err := c.planFor(query, "")
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	run := c.newReadRun(variables, false)
	root := entitySource(c.store, rootKeyFor(p))
	run.applyExports(p, root)
	data := run.resolveObject(root, p.Fields, ResponsePath{})
	return &Result{Data: data, Errors: run.errs, Complete: run.complete}, nil
}

// WriteQuery normalizes a result tree shaped like the operation document into the store. Watched
// operations whose dependencies change are scheduled for one coalesced re-evaluation.
func (c *Cache) WriteQuery(query string, variables, data map[string]interface{}) Errors {
	p, err := c.planFor(query, "")
	if err != nil {
		return ErrorsOf(err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rootKey := rootKeyFor(p)
	run := c.newWriteRun(variables)
	run.writeObject(rootKey, rootKey.Typename(), p.Fields, data, ResponsePath{})
	return run.errs
}

// ReadFragment resolves a fragment document against one entity.
func (c *Cache) ReadFragment(fragment string, key EntityKey, variables map[string]interface{}) (*Result, error) {
	p, _, err := plan.BuildFragment(fragment, "")
	if err != nil {
		return nil, NewError(
			"preparing fragment document", err, ErrKindDocument, Op("cache.ReadFragment"))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	run := c.newReadRun(variables, false)
	data := run.resolveObject(entitySource(c.store, key), p.Fields, ResponsePath{})
	return &Result{Data: data, Errors: run.errs, Complete: run.complete}, nil
}

// WriteFragment normalizes a fragment-shaped result tree onto one entity.
func (c *Cache) WriteFragment(fragment string, key EntityKey, variables, data map[string]interface{}) Errors {
	p, condition, err := plan.BuildFragment(fragment, "")
	if err != nil {
		return ErrorsOf(NewError(
			"preparing fragment document", err, ErrKindDocument, Op("cache.WriteFragment")))
	}

	typename, _ := data[typenameFieldName].(string)
	if typename == "" {
		typename = condition
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	run := c.newWriteRun(variables)
	run.writeObject(key, typename, p.Fields, data, ResponsePath{})
	return run.errs
}

// ReadField reads one field of one entity, applying the field's read policy. No dependency is
// recorded; this is the one-shot counterpart of a policy's ReadContext.ReadField.
func (c *Cache) ReadField(key EntityKey, field string, args map[string]interface{}) (interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	run := c.newReadRun(nil, false)
	return run.readSibling(entitySource(c.store, key), field, args)
}

// WriteField writes one field of one entity, applying the field's merge policy, and returns the
// resulting stored value.
func (c *Cache) WriteField(key EntityKey, field string, args map[string]interface{}, value interface{}) (interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.store.WriteField(key, "", field, args, nil, value)
}

// Modify rewrites one field of one entity with a caller-supplied function, bypassing its merge
// policy. It returns false when the entity is not in the store.
func (c *Cache) Modify(
	key EntityKey,
	field string,
	args map[string]interface{},
	modify func(existing interface{}, exists bool) interface{}) bool {

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.store.Has(key) {
		return false
	}
	sig := c.policies.FieldSignatureFor(c.store.Typename(key), field, args)
	existing, err := c.store.Read(key, sig)
	exists := err == nil
	c.store.writeSignature(key, sig, modify(existing, exists))
	return true
}

// Identify computes the entity key for a raw result object; ok is false for objects with no
// stable key.
func (c *Cache) Identify(object map[string]interface{}) (EntityKey, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Identify(object)
}

// Evict removes a whole entity from the store.
func (c *Cache) Evict(key EntityKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Evict(key)
}

// EvictField removes one field slot from an entity.
func (c *Cache) EvictField(key EntityKey, field string, args map[string]interface{}) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.EvictField(key, c.policies.FieldSignatureFor(c.store.Typename(key), field, args))
}

// GarbageCollect removes entities unreachable from the roots and the retained set, returning the
// removed keys.
func (c *Cache) GarbageCollect() []EntityKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.GarbageCollect()
}

// Retain pins an entity as an extra garbage-collection root.
func (c *Cache) Retain(key EntityKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.Retain(key)
}

// Release undoes one Retain.
func (c *Cache) Release(key EntityKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.Release(key)
}

// Batch runs fn with notification flushing suspended: however many writes fn performs, dirty
// operations get one coalesced re-evaluation when the outermost batch ends. Batches nest.
func (c *Cache) Batch(fn func()) {
	c.mu.Lock()
	c.notifier.batchDepth++
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.notifier.batchDepth--
		if c.notifier.batchDepth == 0 {
			c.notifier.scheduleFlush()
		}
		c.mu.Unlock()
	}()

	fn()
}

//===----------------------------------------------------------------------------------------====//
// Operation execution
//===----------------------------------------------------------------------------------------====//

// Execute resolves an operation end to end: exported variables are bound, the remote-only subtree
// (if any) is executed through the transport and its result normalized into the store, and the full
// document shape is then resolved against the store so remote and local fields merge into one
// result tree. Response-level errors from the transport ride along on the result; network-level
// failures are returned as the error.
func (c *Cache) Execute(ctx context.Context, query string, variables map[string]interface{}) (*Result, error) {
	p, err := c.planFor(query, "")
	if err != nil {
		return nil, err
	}
	rootKey := rootKeyFor(p)

	// Exporting fields resolve before anything that consumes their variables is transmitted.
	c.mu.Lock()
	exportRun := c.newReadRun(variables, false)
	exportRun.applyExports(p, entitySource(c.store, rootKey))
	boundVariables := exportRun.variables
	c.mu.Unlock()

	var remoteErrs Errors
	if p.HasRemote() && c.transport != nil {
		response, err := c.transport.Execute(ctx, &Request{
			Query:         p.RemoteQuery,
			OperationName: p.Name,
			Variables:     boundVariables,
		})
		if err != nil {
			return nil, NewError(
				"executing remote operation", err, ErrKindNetwork, Op("cache.Execute"))
		}

		c.mu.Lock()
		writeRun := c.newWriteRun(boundVariables)
		writeRun.writeObject(rootKey, rootKey.Typename(), p.Fields, response.Data, ResponsePath{})
		c.mu.Unlock()

		remoteErrs.AppendErrors(response.Errors, writeRun.errs)
	}

	c.mu.Lock()
	readRun := c.newReadRun(boundVariables, false)
	data := readRun.resolveObject(entitySource(c.store, rootKey), p.Fields, ResponsePath{})
	c.mu.Unlock()

	errs := readRun.errs
	errs.AppendErrors(remoteErrs)
	return &Result{Data: data, Errors: errs, Complete: readRun.complete}, nil
}

//===----------------------------------------------------------------------------------------====//
// Watching
//===----------------------------------------------------------------------------------------====//

// WatchOptions customizes one watched operation.
type WatchOptions struct {
	// TypePolicies shadow the cache-level registry while this operation resolves: a field with a
	// policy here uses it instead of the registered one. Writes, including the normalization of
	// this operation's own remote responses, always use the cache-level registry, so a per-watch
	// override cannot fork the shared store's identity or merge behavior.
	TypePolicies map[string]TypePolicy
}

// Watch begins observing an operation. The initial result is resolved synchronously from the
// cache; when the operation has remote fields, a transport is configured and the initial result is
// incomplete, a remote fetch is started and its outcome re-delivered through the subscription.
// Thereafter any change to the operation's recorded dependencies triggers a coalesced
// re-evaluation and re-delivery.
func (c *Cache) Watch(
	ctx context.Context,
	query string,
	variables map[string]interface{},
	options ...WatchOptions) (*Subscription, *Result, error) {
	p, err := c.planFor(query, "")
	if err != nil {
		return nil, nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	opCtx, cancel := context.WithCancel(ctx)

	copied := make(map[string]interface{}, len(variables))
	for name, value := range variables {
		copied[name] = value
	}

	var overrides *Policies
	for _, option := range options {
		if len(option.TypePolicies) > 0 {
			overrides = NewPolicies(option.TypePolicies)
		}
	}

	op := &operation{
		id:        ulid.Make().String(),
		plan:      p,
		variables: copied,
		overrides: overrides,
		dirty:     true,
		updates:   make(chan *Result, 1),
		ctx:       opCtx,
		cancel:    cancel,
	}

	c.mu.Lock()
	c.notifier.register(op)
	initial := c.evaluateLocked(op)
	fetch := !initial.Complete && p.HasRemote() && c.transport != nil
	if fetch {
		op.fetching = true
	}
	c.mu.Unlock()

	if fetch {
		go c.fetchForOperation(op)
	}
	return &Subscription{cache: c, op: op}, initial, nil
}

// evaluateLocked resolves an operation against the store, re-recording its dependency set. The
// cached result is reused while none of the recorded dependencies have changed since the last
// evaluation. Caller holds c.mu.
func (c *Cache) evaluateLocked(op *operation) *Result {
	if !op.dirty && op.lastResult != nil {
		return op.lastResult
	}

	run := c.newReadRun(op.variables, true)
	run.overrides = op.overrides
	root := entitySource(c.store, rootKeyFor(op.plan))
	run.applyExports(op.plan, root)
	data := run.resolveObject(root, op.plan.Fields, ResponsePath{})

	errs := run.errs
	errs.AppendErrors(op.remoteErrs)

	result := &Result{Data: data, Errors: errs, Complete: run.complete}
	c.notifier.recordDeps(op, run.deps)
	op.dirty = false
	op.lastResult = result
	return result
}

// fetchForOperation runs the remote round trip for a watched operation and hands the outcome to
// the notifier for coalesced delivery.
func (c *Cache) fetchForOperation(op *operation) {
	rootKey := rootKeyFor(op.plan)

	c.mu.Lock()
	exportRun := c.newReadRun(op.variables, false)
	exportRun.overrides = op.overrides
	exportRun.applyExports(op.plan, entitySource(c.store, rootKey))
	boundVariables := exportRun.variables
	c.mu.Unlock()

	response, err := c.transport.Execute(op.ctx, &Request{
		Query:         op.plan.RemoteQuery,
		OperationName: op.plan.Name,
		Variables:     boundVariables,
	})

	c.mu.Lock()
	defer c.mu.Unlock()

	op.fetching = false
	op.fetchSettled = true
	if op.cancelled {
		return
	}

	if err != nil {
		var errs Errors
		errs.Emplace("executing remote operation", err, ErrKindNetwork, Op("cache.Watch"))
		op.remoteErrs = errs

		result := &Result{Errors: errs, Complete: false}
		if op.lastResult != nil {
			result.Data = op.lastResult.Data
		}
		op.lastResult = result
		op.deliver(result)
		return
	}

	// Dirtiness raised while this operation's own response is normalized must not re-arm its
	// refetch; only a later change from elsewhere does.
	c.notifier.writeback = op
	defer func() { c.notifier.writeback = nil }()

	writeRun := c.newWriteRun(boundVariables)
	writeRun.writeObject(rootKey, rootKey.Typename(), op.plan.Fields, response.Data, ResponsePath{})

	op.remoteErrs = NoErrors()
	op.remoteErrs.AppendErrors(response.Errors, writeRun.errs)

	// The writes above usually dirtied the operation already; marking it here covers responses
	// that changed nothing but still carried errors worth delivering.
	c.notifier.markDirty(op)
}

// flushDirty is the coalesced re-evaluation pass, run on the serial executor. Every operation
// marked dirty since the last flush is re-evaluated once, regardless of how many dependency
// changes accumulated.
func (c *Cache) flushDirty() {
	c.mu.Lock()

	var refetch []*operation
	for _, op := range c.notifier.takeDirty() {
		previous := op.lastResult
		result := c.evaluateLocked(op)

		if c.compareResults && previous != nil &&
			reflect.DeepEqual(previous.Data, result.Data) &&
			reflect.DeepEqual(previous.Errors, result.Errors) {
			continue
		}
		op.deliver(result)

		if !result.Complete && op.plan.HasRemote() && c.transport != nil &&
			!op.fetching && !op.fetchSettled {
			op.fetching = true
			refetch = append(refetch, op)
		}
	}
	c.mu.Unlock()

	for _, op := range refetch {
		go c.fetchForOperation(op)
	}
}
