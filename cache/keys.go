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
	"strings"

	jsoniter "github.com/json-iterator/go"
)

// An EntityKey identifies one normalized record in the store. It is derived from the typename and
// the key fields of an object (e.g., "Product:1"). Two occurrences of the same logical entity
// within any operation result collapse to the one record addressed by this key.
type EntityKey string

// Reserved keys that serve as storage roots. Root-level fields of a query or mutation document are
// stored as fields of these records; they are always reachable by the garbage collector.
const (
	RootQueryKey    EntityKey = "ROOT_QUERY"
	RootMutationKey EntityKey = "ROOT_MUTATION"
)

// IsRoot returns true for the reserved root keys.
func (key EntityKey) IsRoot() bool {
	return key == RootQueryKey || key == RootMutationKey
}

// Typename returns the typename portion of the key ("Product" for "Product:1"). Root keys report
// the root operation type names.
func (key EntityKey) Typename() string {
	switch key {
	case RootQueryKey:
		return "Query"
	case RootMutationKey:
		return "Mutation"
	}
	if i := strings.IndexByte(string(key), ':'); i >= 0 {
		return string(key[:i])
	}
	return string(key)
}

// A Reference is the stored form of a link from one entity's field to another entity. The store is
// an arena addressed by key, so cyclic object graphs are just mutual key lookups; a Reference
// never owns its referent.
type Reference struct {
	Key EntityKey `json:"__ref"`
}

// refFieldName is the JSON object key that marks a serialized Reference in a snapshot.
const refFieldName = "__ref"

// typenameFieldName is the field under which an entity's typename is stored. It participates in
// snapshots like any other field.
const typenameFieldName = "__typename"

// A FieldSignature is the storage identity of one field occurrence on an entity: the field name
// followed, when the field takes key arguments, by their canonical JSON serialization (e.g.,
// `products({"category":"toys"})`). Argument combinations that agree on every key argument collapse
// to the same signature and therefore the same storage slot.
type FieldSignature string

// FieldName returns the field name portion of the signature.
func (sig FieldSignature) FieldName() string {
	if i := strings.IndexByte(string(sig), '('); i >= 0 {
		return string(sig[:i])
	}
	return string(sig)
}

// canonicalJSON serializes argument values with object keys sorted so that the same arguments
// always produce the same signature.
var canonicalJSON = jsoniter.Config{
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
}.Froze()

// MakeFieldSignature computes the storage signature for a field occurrence. keyArgs selects the
// arguments that participate in the signature; nil means every argument participates, while an
// empty non-nil slice collapses all argument combinations into one slot.
func MakeFieldSignature(name string, args map[string]interface{}, keyArgs []string) FieldSignature {
	if len(args) == 0 {
		return FieldSignature(name)
	}

	significant := args
	if keyArgs != nil {
		significant = make(map[string]interface{}, len(keyArgs))
		for _, argName := range keyArgs {
			if value, ok := args[argName]; ok {
				significant[argName] = value
			}
		}
	}
	if len(significant) == 0 {
		return FieldSignature(name)
	}

	encoded, err := canonicalJSON.MarshalToString(significant)
	if err != nil {
		// Argument values come from JSON-shaped result data and coerced AST values, both of which
		// are always serializable. Fall back to fmt so a signature still exists.
		encoded = fmt.Sprintf("%v", significant)
	}
	return FieldSignature(name + "(" + encoded + ")")
}
