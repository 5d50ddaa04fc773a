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

package cache

import (
	"fmt"
	"log"
	"reflect"
	"sort"
)

//===----------------------------------------------------------------------------------------====//
// entityRecord
//===----------------------------------------------------------------------------------------====//

// entityRecord holds the field data of one normalized entity. The typename lives in the field map
// under typenameFieldName so it round-trips through snapshots like any other field.
type entityRecord struct {
	fields map[FieldSignature]interface{}
}

func newEntityRecord() *entityRecord {
	return &entityRecord{fields: map[FieldSignature]interface{}{}}
}

func (record *entityRecord) typename() string {
	typename, _ := record.fields[typenameFieldName].(string)
	return typename
}

//===----------------------------------------------------------------------------------------====//
// EntityStore
//===----------------------------------------------------------------------------------------====//

// writeObserver is told about every field slot whose stored value changed (by write or eviction).
// The reactive notifier implements it to find the operations that must re-evaluate.
type writeObserver interface {
	fieldWritten(key EntityKey, sig FieldSignature)
}

// EntityStore is the normalized arena of entity records, addressed by EntityKey. Links between
// entities are stored as Reference values, so cyclic graphs carry no ownership cycles. The store
// performs no locking of its own; the owning Cache serializes access.
type EntityStore struct {
	entities map[EntityKey]*entityRecord
	policies *Policies
	logger   *log.Logger

	// retained counts explicit pins that act as extra garbage-collection roots.
	retained map[EntityKey]uint

	observer writeObserver
}

func newEntityStore(policies *Policies, logger *log.Logger) *EntityStore {
	return &EntityStore{
		entities: map[EntityKey]*entityRecord{},
		policies: policies,
		logger:   logger,
		retained: map[EntityKey]uint{},
	}
}

// Has returns true when an entity record exists for key.
func (store *EntityStore) Has(key EntityKey) bool {
	_, ok := store.entities[key]
	return ok
}

// Size returns the number of entity records.
func (store *EntityStore) Size() int {
	return len(store.entities)
}

// Keys returns the keys of all entity records in sorted order.
func (store *EntityStore) Keys() []EntityKey {
	keys := make([]EntityKey, 0, len(store.entities))
	for key := range store.entities {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Typename returns the stored typename of an entity, or "" if the entity is absent.
func (store *EntityStore) Typename(key EntityKey) string {
	if record, ok := store.entities[key]; ok {
		return record.typename()
	}
	return ""
}

// Read returns the raw stored value for a field signature. It fails with a MissingFieldError when
// either the entity or the field slot is absent; read policies are applied by the read pipeline,
// not here.
func (store *EntityStore) Read(key EntityKey, sig FieldSignature) (interface{}, error) {
	record, ok := store.entities[key]
	if !ok {
		return nil, NewError(
			fmt.Sprintf("entity %q is not in the store", key), ErrKindMissingField)
	}
	value, ok := record.fields[sig]
	if !ok {
		return nil, NewError(
			fmt.Sprintf("field %q is missing on entity %q", sig, key), ErrKindMissingField)
	}
	return value, nil
}

// ensure returns the record for key, creating it when absent. An incoming typename that conflicts
// with the stored one is a surfaced-but-tolerated condition: a diagnostic is logged and the most
// recently written typename is retained.
func (store *EntityStore) ensure(key EntityKey, typename string) *entityRecord {
	record, ok := store.entities[key]
	if !ok {
		record = newEntityRecord()
		store.entities[key] = record
	}

	if typename != "" {
		if stored := record.typename(); stored != "" && stored != typename {
			store.logger.Printf("[WARN] cache: %v", NewError(
				fmt.Sprintf("entity %q rewritten with typename %q (was %q); keeping the newest",
					key, typename, stored),
				ErrKindIdentification, Op("cache.write")))
		}
		record.fields[typenameFieldName] = typename
	}
	return record
}

// WriteField writes a field occurrence on an entity. The storage signature honors the field's
// KeyArgs; a registered merge policy combines the incoming value with the existing one, otherwise
// the write replaces wholesale. The resulting stored value is returned. The observer is only
// notified when the stored value actually changed, which makes identical rewrites idempotent.
func (store *EntityStore) WriteField(
	key EntityKey,
	typename string,
	fieldName string,
	args map[string]interface{},
	variables map[string]interface{},
	incoming interface{}) (interface{}, error) {

	if typename == "" {
		typename = key.Typename()
	}
	record := store.ensure(key, typename)

	fieldPolicy, hasPolicy := store.policies.FieldPolicy(typename, fieldName)
	sig := MakeFieldSignature(fieldName, args, fieldPolicy.KeyArgs)

	existing, exists := record.fields[sig]

	stored := incoming
	if hasPolicy && fieldPolicy.Merge != nil {
		var err error
		stored, err = invokeMerge(fieldPolicy.Merge, existing, incoming, &MergeContext{
			Args:      args,
			Variables: variables,
			Exists:    exists,
		})
		if err != nil {
			return nil, NewError(
				fmt.Sprintf("merging field %q of entity %q", fieldName, key),
				Op("EntityStore.WriteField"), err)
		}
	}

	if exists && reflect.DeepEqual(existing, stored) {
		return stored, nil
	}

	record.fields[sig] = stored
	if store.observer != nil {
		store.observer.fieldWritten(key, sig)
	}
	return stored, nil
}

// writeSignature stores a value under an exact signature with no policy involvement. Snapshot
// restore and Modify use it.
func (store *EntityStore) writeSignature(key EntityKey, sig FieldSignature, value interface{}) {
	record := store.ensure(key, "")
	if existing, exists := record.fields[sig]; exists && reflect.DeepEqual(existing, value) {
		return
	}
	record.fields[sig] = value
	if store.observer != nil {
		store.observer.fieldWritten(key, sig)
	}
}

// Evict removes a whole entity. Subsequent reads of any of its fields fail with MissingFieldError
// until rewritten. Eviction never cascades to entities reachable only through the evicted record;
// GarbageCollect reclaims those. It returns false when the entity was not present.
func (store *EntityStore) Evict(key EntityKey) bool {
	record, ok := store.entities[key]
	if !ok {
		return false
	}
	delete(store.entities, key)

	if store.observer != nil {
		for sig := range record.fields {
			store.observer.fieldWritten(key, sig)
		}
	}
	return true
}

// EvictField removes a single field slot from an entity. It returns false when no such slot was
// present.
func (store *EntityStore) EvictField(key EntityKey, sig FieldSignature) bool {
	record, ok := store.entities[key]
	if !ok {
		return false
	}
	if _, ok := record.fields[sig]; !ok {
		return false
	}
	delete(record.fields, sig)

	if store.observer != nil {
		store.observer.fieldWritten(key, sig)
	}
	return true
}

// Retain pins an entity as an extra garbage-collection root. Pins are counted; Release undoes one
// Retain.
func (store *EntityStore) Retain(key EntityKey) {
	store.retained[key]++
}

// Release removes one pin from an entity. Releasing an unpinned entity is a no-op.
func (store *EntityStore) Release(key EntityKey) {
	count, ok := store.retained[key]
	if !ok {
		return
	}
	if count <= 1 {
		delete(store.retained, key)
		return
	}
	store.retained[key] = count - 1
}

// GarbageCollect removes every entity unreachable from the root records and the retained set,
// following stored References (including those buried in lists and embedded objects). It returns
// the removed keys in sorted order. Running it twice with no intervening writes removes nothing on
// the second run.
func (store *EntityStore) GarbageCollect() []EntityKey {
	reachable := map[EntityKey]bool{}

	var mark func(key EntityKey)
	mark = func(key EntityKey) {
		if reachable[key] {
			return
		}
		record, ok := store.entities[key]
		if !ok {
			// A dangling pin or reference; nothing to traverse.
			return
		}
		reachable[key] = true
		for _, value := range record.fields {
			walkReferences(value, mark)
		}
	}

	mark(RootQueryKey)
	mark(RootMutationKey)
	for key := range store.retained {
		mark(key)
	}

	var removed []EntityKey
	for key := range store.entities {
		if !reachable[key] {
			removed = append(removed, key)
		}
	}
	for _, key := range removed {
		delete(store.entities, key)
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i] < removed[j] })
	return removed
}

// walkReferences visits every Reference contained in a stored value.
func walkReferences(value interface{}, visit func(EntityKey)) {
	switch value := value.(type) {
	case Reference:
		visit(value.Key)
	case []interface{}:
		for _, item := range value {
			walkReferences(item, visit)
		}
	case map[string]interface{}:
		for _, item := range value {
			walkReferences(item, visit)
		}
	}
}
