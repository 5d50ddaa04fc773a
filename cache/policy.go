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

//===----------------------------------------------------------------------------------------====//
// ReadContext & MergeContext
//===----------------------------------------------------------------------------------------====//

// ReadContext carries the inputs available to a FieldPolicy's Read function. Reads performed
// through the context (ReadField, ReactiveValue) are recorded as dependencies of the enclosing
// operation, so a change to what was read re-evaluates that operation.
type ReadContext struct {
	// Args contains the coerced argument values of the field occurrence being read.
	Args map[string]interface{}

	// Variables contains the variable values of the enclosing operation.
	Variables map[string]interface{}

	// Exists is true when the store holds a value for the field's signature. When false, the
	// Existing argument passed to Read is nil.
	Exists bool

	// readField reads a sibling field on the same entity; set up by the read pipeline.
	readField func(name string, args map[string]interface{}) (interface{}, error)

	// reactiveValue reads a reactive variable; set up by the read pipeline.
	reactiveValue func(v *ReactiveVariable) interface{}
}

// ReadField reads another field stored on the same entity, applying that field's own read policy.
// The read is recorded as a dependency of the enclosing operation. It returns a MissingFieldError
// when the sibling field is absent.
func (ctx *ReadContext) ReadField(name string, args map[string]interface{}) (interface{}, error) {
	if ctx.readField == nil {
		return nil, NewError("ReadField is not available in this context", ErrKindPolicy)
	}
	return ctx.readField(name, args)
}

// ReactiveValue reads the current value of a reactive variable and records it as a dependency of
// the enclosing operation.
func (ctx *ReadContext) ReactiveValue(v *ReactiveVariable) interface{} {
	if ctx.reactiveValue == nil {
		return v.Value()
	}
	return ctx.reactiveValue(v)
}

// MergeContext carries the inputs available to a FieldPolicy's Merge function.
type MergeContext struct {
	// Args contains the coerced argument values of the field occurrence being written.
	Args map[string]interface{}

	// Variables contains the variable values of the writing operation, when the write originated
	// from one.
	Variables map[string]interface{}

	// Exists is true when the store already holds a value for the field's signature. When false,
	// the existing argument passed to Merge is nil.
	Exists bool
}

//===----------------------------------------------------------------------------------------====//
// FieldPolicy & TypePolicy
//===----------------------------------------------------------------------------------------====//

// A ReadFunc computes the value of a field at read time from the stored value (nil when
// ctx.Exists is false) and the read context. It must not write to the store; it may read other
// fields and reactive variables through the context.
type ReadFunc func(existing interface{}, ctx *ReadContext) (interface{}, error)

// A MergeFunc combines an incoming value with the existing stored value (nil when ctx.Exists is
// false) and returns the value to store. Returning incoming unchanged reproduces the default
// replace-wholesale behavior.
type MergeFunc func(existing, incoming interface{}, ctx *MergeContext) (interface{}, error)

// A KeyFunc computes an entity key from a raw result object. Returning ok=false stores the object
// inline (embedded in its parent) instead of normalizing it.
type KeyFunc func(object map[string]interface{}) (key EntityKey, ok bool)

// A FieldPolicy configures custom read/merge behavior and the storage-key arguments for one
// (type, field) pair.
type FieldPolicy struct {
	// Read, when set, derives the field's value at read time.
	Read ReadFunc

	// Merge, when set, combines incoming and existing values at write time (e.g., concatenating
	// paginated pages).
	Merge MergeFunc

	// KeyArgs names the arguments that participate in the field's storage identity. nil means all
	// arguments do; an empty slice means none do.
	KeyArgs []string
}

// A TypePolicy configures entity identification and per-field policies for one object type.
type TypePolicy struct {
	// KeyFields names the fields whose values identify an instance of the type. When empty and
	// KeyFunc is nil, the default key fields ("id", then "_id") apply.
	KeyFields []string

	// KeyFunc, when set, takes precedence over KeyFields.
	KeyFunc KeyFunc

	// Fields maps field names to their policies.
	Fields map[string]FieldPolicy
}

//===----------------------------------------------------------------------------------------====//
// Policies registry
//===----------------------------------------------------------------------------------------====//

// Policies is the registry of type policies consulted by the store and the read/write pipelines.
// Resolution order for a field occurrence: the field policy on the concrete type, then (for
// root-level fields) the field policy on the root operation type, then raw storage passthrough.
type Policies struct {
	types map[string]TypePolicy
}

// NewPolicies builds a registry from a typename-to-policy map. The map is copied; later mutation
// of the argument does not affect the registry.
func NewPolicies(types map[string]TypePolicy) *Policies {
	copied := make(map[string]TypePolicy, len(types))
	for typename, policy := range types {
		copied[typename] = policy
	}
	return &Policies{types: copied}
}

// TypePolicy looks up the policy registered for a typename.
func (policies *Policies) TypePolicy(typename string) (TypePolicy, bool) {
	if policies == nil {
		return TypePolicy{}, false
	}
	policy, ok := policies.types[typename]
	return policy, ok
}

// FieldPolicy resolves the policy for a field occurrence on the given concrete type. ok is false
// when no policy is registered and raw storage passthrough applies.
func (policies *Policies) FieldPolicy(typename, fieldName string) (FieldPolicy, bool) {
	typePolicy, ok := policies.TypePolicy(typename)
	if !ok || typePolicy.Fields == nil {
		return FieldPolicy{}, false
	}
	fieldPolicy, ok := typePolicy.Fields[fieldName]
	return fieldPolicy, ok
}

// FieldSignatureFor computes the storage signature for a field occurrence, honoring the KeyArgs of
// a registered policy.
func (policies *Policies) FieldSignatureFor(typename, fieldName string, args map[string]interface{}) FieldSignature {
	fieldPolicy, _ := policies.FieldPolicy(typename, fieldName)
	return MakeFieldSignature(fieldName, args, fieldPolicy.KeyArgs)
}

// invokeRead runs a read function, converting a panic into a PolicyError so a misbehaving policy
// stays scoped to the field being resolved.
func invokeRead(read ReadFunc, existing interface{}, ctx *ReadContext) (value interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewError(
				fmt.Sprintf("read function panicked: %v", r), ErrKindPolicy)
		}
	}()

	value, err = read(existing, ctx)
	if err != nil {
		if _, ok := err.(*Error); !ok {
			err = NewError("read function failed", err, ErrKindPolicy)
		}
	}
	return value, err
}

// invokeMerge runs a merge function with the same panic containment as invokeRead.
func invokeMerge(merge MergeFunc, existing, incoming interface{}, ctx *MergeContext) (value interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewError(
				fmt.Sprintf("merge function panicked: %v", r), ErrKindPolicy)
		}
	}()

	value, err = merge(existing, incoming, ctx)
	if err != nil {
		if _, ok := err.(*Error); !ok {
			err = NewError("merge function failed", err, ErrKindPolicy)
		}
	}
	return value, err
}
