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
)

// defaultKeyFields are tried in order when no TypePolicy configures identification for a type.
var defaultKeyFields = []string{"id", "_id"}

// Identify computes the entity key for a raw result object. The configured KeyFunc or KeyFields of
// the object's type policy take precedence; otherwise the default key fields apply. ok is false
// for objects with no stable key, which are stored inline (embedded in their parent) rather than
// normalized.
func (store *EntityStore) Identify(object map[string]interface{}) (EntityKey, bool) {
	typename, _ := object[typenameFieldName].(string)
	if typename == "" {
		return "", false
	}

	typePolicy, hasPolicy := store.policies.TypePolicy(typename)
	if hasPolicy && typePolicy.KeyFunc != nil {
		return typePolicy.KeyFunc(object)
	}

	if hasPolicy && len(typePolicy.KeyFields) > 0 {
		return keyFromFields(typename, typePolicy.KeyFields, object)
	}

	for _, fieldName := range defaultKeyFields {
		if id, ok := object[fieldName]; ok && id != nil {
			return EntityKey(fmt.Sprintf("%s:%v", typename, id)), true
		}
	}
	return "", false
}

// keyFromFields derives a key from the configured key fields. A single field keeps the compact
// "Type:value" form; multiple fields serialize to canonical JSON so field order never changes the
// key. Any missing key field makes the object unidentifiable.
func keyFromFields(typename string, keyFields []string, object map[string]interface{}) (EntityKey, bool) {
	if len(keyFields) == 1 {
		value, ok := object[keyFields[0]]
		if !ok || value == nil {
			return "", false
		}
		return EntityKey(fmt.Sprintf("%s:%v", typename, value)), true
	}

	keyValues := make(map[string]interface{}, len(keyFields))
	for _, fieldName := range keyFields {
		value, ok := object[fieldName]
		if !ok || value == nil {
			return "", false
		}
		keyValues[fieldName] = value
	}

	encoded, err := canonicalJSON.MarshalToString(keyValues)
	if err != nil {
		return "", false
	}
	return EntityKey(typename + ":" + encoded), true
}
