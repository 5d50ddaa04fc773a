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
	jsoniter "github.com/json-iterator/go"
)

// A Snapshot is a serializable copy of the full store: entity key to field map. The persistence
// collaborator extracts it at any time and restores it at startup. References serialize as
// {"__ref": key} objects. Reactive variables and retain pins are not part of a snapshot.
type Snapshot map[EntityKey]map[FieldSignature]interface{}

// MarshalJSON serializes the snapshot with jsoniter.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	return jsoniter.Marshal(map[EntityKey]map[FieldSignature]interface{}(s))
}

// Extract returns a deep copy of the full store. Later cache writes do not show through.
func (c *Cache) Extract() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snapshot := make(Snapshot, len(c.store.entities))
	for key, record := range c.store.entities {
		fields := make(map[FieldSignature]interface{}, len(record.fields))
		for sig, value := range record.fields {
			fields[sig] = copyStoredValue(value)
		}
		snapshot[key] = fields
	}
	return snapshot
}

// Restore replaces the whole store with the snapshot's contents and marks every watched operation
// for re-evaluation. The snapshot is deep-copied on the way in.
func (c *Cache) Restore(snapshot Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entities := make(map[EntityKey]*entityRecord, len(snapshot))
	for key, fields := range snapshot {
		record := newEntityRecord()
		for sig, value := range fields {
			record.fields[sig] = copyStoredValue(value)
		}
		entities[key] = record
	}
	c.store.entities = entities
	c.notifier.invalidateAll()
}

// ParseSnapshot decodes a snapshot from its JSON form, rehydrating {"__ref": key} objects into
// References.
func ParseSnapshot(data []byte) (Snapshot, error) {
	var raw map[EntityKey]map[FieldSignature]interface{}
	if err := jsoniter.Unmarshal(data, &raw); err != nil {
		return nil, NewError("decoding snapshot", err, ErrKindSnapshot, Op("cache.ParseSnapshot"))
	}

	snapshot := make(Snapshot, len(raw))
	for key, fields := range raw {
		rehydrated := make(map[FieldSignature]interface{}, len(fields))
		for sig, value := range fields {
			rehydrated[sig] = rehydrateValue(value)
		}
		snapshot[key] = rehydrated
	}
	return snapshot, nil
}

// rehydrateValue converts decoded {"__ref": key} maps back into Reference values, recursing
// through lists and embedded objects.
func rehydrateValue(value interface{}) interface{} {
	switch value := value.(type) {
	case map[string]interface{}:
		if len(value) == 1 {
			if key, ok := value[refFieldName].(string); ok {
				return Reference{Key: EntityKey(key)}
			}
		}
		for name, item := range value {
			value[name] = rehydrateValue(item)
		}
		return value

	case []interface{}:
		for i, item := range value {
			value[i] = rehydrateValue(item)
		}
		return value

	default:
		return value
	}
}

// copyStoredValue deep-copies a stored value. References are values and copy implicitly; maps and
// lists are cloned.
func copyStoredValue(value interface{}) interface{} {
	switch value := value.(type) {
	case map[string]interface{}:
		copied := make(map[string]interface{}, len(value))
		for name, item := range value {
			copied[name] = copyStoredValue(item)
		}
		return copied

	case []interface{}:
		copied := make([]interface{}, len(value))
		for i, item := range value {
			copied[i] = copyStoredValue(item)
		}
		return copied

	default:
		return value
	}
}
