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
	"fmt"

	"github.com/botobag/selene/cache/plan"
)

//===----------------------------------------------------------------------------------------====//
// fieldSource
//===----------------------------------------------------------------------------------------====//

// A fieldSource is the place a field's stored value is looked up: a normalized entity record or an
// embedded (inline) object carried inside a parent's field slot.
type fieldSource struct {
	key      EntityKey
	embedded map[string]interface{}
	typename string
}

func entitySource(store *EntityStore, key EntityKey) fieldSource {
	typename := store.Typename(key)
	if typename == "" {
		typename = key.Typename()
	}
	return fieldSource{key: key, typename: typename}
}

func embeddedSource(embedded map[string]interface{}) fieldSource {
	typename, _ := embedded[typenameFieldName].(string)
	return fieldSource{embedded: embedded, typename: typename}
}

//===----------------------------------------------------------------------------------------====//
// readRun
//===----------------------------------------------------------------------------------------====//

// A readRun is one evaluation of a planned selection tree against the store. It accumulates the
// field-scoped errors and, when deps is non-nil, the exact dependency set touched, which the
// notifier then uses for change tracking.
type readRun struct {
	c         *Cache
	variables map[string]interface{}
	deps      map[dependency]struct{}
	errs      Errors
	complete  bool

	// overrides, when set, shadow the cache-level policy registry for this run's field resolution.
	overrides *Policies
}

func (c *Cache) newReadRun(variables map[string]interface{}, trackDeps bool) *readRun {
	run := &readRun{
		c:         c,
		variables: map[string]interface{}{},
		complete:  true,
	}
	for name, value := range variables {
		run.variables[name] = value
	}
	if trackDeps {
		run.deps = map[dependency]struct{}{}
	}
	return run
}

// fieldPolicy resolves the policy for a field occurrence, consulting the run's per-operation
// overrides before the cache-level registry.
func (run *readRun) fieldPolicy(typename, name string) (FieldPolicy, bool) {
	if run.overrides != nil {
		if fieldPolicy, ok := run.overrides.FieldPolicy(typename, name); ok {
			return fieldPolicy, true
		}
	}
	return run.c.policies.FieldPolicy(typename, name)
}

func (run *readRun) recordFieldDep(key EntityKey, sig FieldSignature) {
	if run.deps != nil {
		run.deps[fieldDependency(key, sig)] = struct{}{}
	}
}

func (run *readRun) recordVariableDep(varID string) {
	if run.deps != nil {
		run.deps[variableDependency(varID)] = struct{}{}
	}
}

// rawRead looks up a field slot on a source. Entity reads are recorded as dependencies whether
// they hit or miss, so a later write to the slot re-evaluates the operation.
func (run *readRun) rawRead(source fieldSource, sig FieldSignature) (interface{}, bool) {
	if source.embedded != nil {
		value, ok := source.embedded[string(sig)]
		return value, ok
	}

	run.recordFieldDep(source.key, sig)
	value, err := run.c.store.Read(source.key, sig)
	if err != nil {
		return nil, false
	}
	return value, true
}

// resolveFieldRaw computes a field's value before any selection shaping: raw storage plus the
// field's read policy. The error, if any, is scoped to the field.
func (run *readRun) resolveFieldRaw(source fieldSource, field *plan.Field) (interface{}, error) {
	if field.Name == typenameFieldName {
		return source.typename, nil
	}

	args, err := field.Args(run.variables)
	if err != nil {
		return nil, NewError(err.Error(), ErrKindDocument)
	}

	fieldPolicy, hasPolicy := run.fieldPolicy(source.typename, field.Name)
	sig := MakeFieldSignature(field.Name, args, fieldPolicy.KeyArgs)
	existing, exists := run.rawRead(source, sig)

	if hasPolicy && fieldPolicy.Read != nil {
		ctx := &ReadContext{
			Args:      args,
			Variables: run.variables,
			Exists:    exists,
			readField: func(name string, args map[string]interface{}) (interface{}, error) {
				return run.readSibling(source, name, args)
			},
			reactiveValue: func(v *ReactiveVariable) interface{} {
				run.recordVariableDep(v.id)
				return v.value
			},
		}
		return invokeRead(fieldPolicy.Read, existing, ctx)
	}

	if !exists {
		line, column := field.Location()
		return nil, NewError(
			fmt.Sprintf("field %q on %q has no stored value", sig, sourceName(source)),
			ErrKindMissingField,
			ErrorLocation{Line: line, Column: column})
	}
	return existing, nil
}

// readSibling backs ReadContext.ReadField: a policy-aware read of another field on the same
// source. The returned value is the raw stored form; references are not resolved.
func (run *readRun) readSibling(source fieldSource, name string, args map[string]interface{}) (interface{}, error) {
	fieldPolicy, hasPolicy := run.fieldPolicy(source.typename, name)
	sig := MakeFieldSignature(name, args, fieldPolicy.KeyArgs)
	existing, exists := run.rawRead(source, sig)

	if hasPolicy && fieldPolicy.Read != nil {
		ctx := &ReadContext{
			Args:      args,
			Variables: run.variables,
			Exists:    exists,
			readField: func(name string, args map[string]interface{}) (interface{}, error) {
				return run.readSibling(source, name, args)
			},
			reactiveValue: func(v *ReactiveVariable) interface{} {
				run.recordVariableDep(v.id)
				return v.value
			},
		}
		return invokeRead(fieldPolicy.Read, existing, ctx)
	}

	if !exists {
		return nil, NewError(
			fmt.Sprintf("field %q on %q has no stored value", sig, sourceName(source)),
			ErrKindMissingField)
	}
	return existing, nil
}

// resolveField resolves one field occurrence into its final result-tree value. include is false
// when the field could not be resolved; the error was then recorded on the run.
func (run *readRun) resolveField(source fieldSource, field *plan.Field, path ResponsePath) (interface{}, bool) {
	value, err := run.resolveFieldRaw(source, field)
	if err != nil {
		run.fail(err, path)
		return nil, false
	}
	return run.completeValue(value, field, path)
}

// completeValue shapes a stored value through the field's selections: references are resolved to
// their entity records, embedded objects and lists are walked, scalars pass through.
func (run *readRun) completeValue(value interface{}, field *plan.Field, path ResponsePath) (interface{}, bool) {
	switch value := value.(type) {
	case nil:
		return nil, true

	case Reference:
		if !field.HasSelections() {
			return value, true
		}
		return run.resolveObject(entitySource(run.c.store, value.Key), field.Selections, path), true

	case []interface{}:
		completed := make([]interface{}, len(value))
		for i, item := range value {
			itemPath := path.Clone()
			itemPath.AppendIndex(i)
			completedItem, ok := run.completeValue(item, field, itemPath)
			if !ok {
				continue
			}
			completed[i] = completedItem
		}
		return completed, true

	case map[string]interface{}:
		if !field.HasSelections() {
			// A JSON-scalar object stored as-is.
			return value, true
		}
		return run.resolveObject(embeddedSource(value), field.Selections, path), true

	default:
		return value, true
	}
}

// resolveObject resolves a selection set against a source, producing the result object. Fields
// whose type condition excludes the source's runtime typename are skipped; fields that fail to
// resolve are absent from the object (their errors live on the run).
func (run *readRun) resolveObject(source fieldSource, fields []*plan.Field, path ResponsePath) map[string]interface{} {
	data := map[string]interface{}{}
	for _, field := range fields {
		if !field.AppliesTo(source.typename) {
			continue
		}
		fieldPath := path.Clone()
		fieldPath.AppendFieldName(field.ResponseKey())

		value, ok := run.resolveField(source, field, fieldPath)
		if !ok {
			continue
		}
		data[field.ResponseKey()] = value
	}
	return data
}

// fail records a field-scoped error. Missing fields additionally mark the run incomplete, which is
// how the remote-fetch fallback decides whether a round trip is needed.
func (run *readRun) fail(err error, path ResponsePath) {
	run.errs.Append(NewError("", err, path.Clone()))
	if IsMissingFieldError(err) {
		run.complete = false
	}
}

func sourceName(source fieldSource) string {
	if source.embedded != nil {
		if source.typename != "" {
			return "embedded " + source.typename
		}
		return "embedded object"
	}
	return string(source.key)
}

//===----------------------------------------------------------------------------------------====//
// Export resolution
//===----------------------------------------------------------------------------------------====//

// applyExports resolves every @export binding in declaration order, merging the exported values
// into the run's variables as it goes so later fields (local or remote) see them. A variable
// exported more than once ends up with the last value in document order. An export whose field
// cannot be resolved leaves the variable unset.
func (run *readRun) applyExports(p *plan.Plan, root fieldSource) {
	for _, export := range p.Exports {
		value, err := run.resolveExport(root, p.Fields, export)
		if err != nil {
			run.fail(NewError(
				fmt.Sprintf("resolving @export(as: %q)", export.Variable), err), exportPath(export))
			continue
		}
		run.variables[export.Variable] = value
	}
}

func exportPath(export plan.Export) ResponsePath {
	var path ResponsePath
	for _, segment := range export.Path {
		path.AppendFieldName(segment)
	}
	return path
}

// resolveExport walks the exporting field's response-key path from the root, resolving each
// intermediate field to a source, and returns the raw resolved value of the final field.
func (run *readRun) resolveExport(source fieldSource, fields []*plan.Field, export plan.Export) (interface{}, error) {
	for depth, segment := range export.Path {
		field := findField(fields, segment, source.typename)
		if field == nil {
			return nil, NewError(
				fmt.Sprintf("field %q is not part of the operation", segment), ErrKindMissingField)
		}

		value, err := run.resolveFieldRaw(source, field)
		if err != nil {
			return nil, err
		}
		if depth == len(export.Path)-1 {
			return value, nil
		}

		switch value := value.(type) {
		case Reference:
			source = entitySource(run.c.store, value.Key)
		case map[string]interface{}:
			source = embeddedSource(value)
		default:
			return nil, NewError(
				fmt.Sprintf("field %q does not resolve to an object", segment), ErrKindMissingField)
		}
		fields = field.Selections
	}
	return nil, NewError("export path is empty", ErrKindMissingField)
}

func findField(fields []*plan.Field, responseKey string, typename string) *plan.Field {
	for _, field := range fields {
		if field.ResponseKey() == responseKey && field.AppliesTo(typename) {
			return field
		}
	}
	return nil
}
