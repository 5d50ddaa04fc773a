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
	"github.com/botobag/selene/cache/plan"
)

// A writeRun is one normalization pass: a result tree shaped like a planned selection tree is
// decomposed into keyed entity records connected by references and written into the store. A
// failing merge function keeps the error scoped to its field; sibling writes already applied are
// retained, matching the completion-order write semantics.
type writeRun struct {
	c         *Cache
	variables map[string]interface{}
	errs      Errors
}

func (c *Cache) newWriteRun(variables map[string]interface{}) *writeRun {
	return &writeRun{c: c, variables: variables}
}

// writeObject writes the planned fields of one result object onto an entity record.
func (run *writeRun) writeObject(
	key EntityKey,
	typename string,
	fields []*plan.Field,
	data map[string]interface{},
	path ResponsePath) {

	for _, field := range fields {
		if !field.AppliesTo(typename) || field.Name == typenameFieldName {
			continue
		}
		value, ok := data[field.ResponseKey()]
		if !ok {
			continue
		}

		fieldPath := path.Clone()
		fieldPath.AppendFieldName(field.ResponseKey())

		args, err := field.Args(run.variables)
		if err != nil {
			run.errs.Emplace(err.Error(), ErrKindDocument, fieldPath)
			continue
		}

		stored := run.normalizeValue(value, field, fieldPath)
		if _, err := run.c.store.WriteField(
			key, typename, field.Name, args, run.variables, stored); err != nil {
			run.errs.Append(NewError("", err, fieldPath))
		}
	}
}

// normalizeValue converts a result-tree value into its stored form: identified objects become
// References (after their own record is written), unidentifiable objects stay embedded, lists are
// normalized elementwise, scalars pass through.
func (run *writeRun) normalizeValue(value interface{}, field *plan.Field, path ResponsePath) interface{} {
	switch value := value.(type) {
	case map[string]interface{}:
		if !field.HasSelections() {
			// A JSON-scalar object; stored as-is.
			return value
		}
		return run.normalizeObject(value, field.Selections, path)

	case []interface{}:
		stored := make([]interface{}, len(value))
		for i, item := range value {
			itemPath := path.Clone()
			itemPath.AppendIndex(i)
			stored[i] = run.normalizeValue(item, field, itemPath)
		}
		return stored

	default:
		return value
	}
}

func (run *writeRun) normalizeObject(
	data map[string]interface{},
	fields []*plan.Field,
	path ResponsePath) interface{} {

	typename, _ := data[typenameFieldName].(string)

	if key, ok := run.c.store.Identify(data); ok {
		run.writeObject(key, typename, fields, data, path)
		return Reference{Key: key}
	}

	// No stable key: the object is embedded in its parent's field slot. Field slots still honor
	// KeyArgs so reads find them, but merge policies do not apply here; the parent slot is
	// replaced wholesale.
	embedded := map[string]interface{}{}
	if typename != "" {
		embedded[typenameFieldName] = typename
	}
	for _, field := range fields {
		if !field.AppliesTo(typename) || field.Name == typenameFieldName {
			continue
		}
		value, ok := data[field.ResponseKey()]
		if !ok {
			continue
		}

		fieldPath := path.Clone()
		fieldPath.AppendFieldName(field.ResponseKey())

		args, err := field.Args(run.variables)
		if err != nil {
			run.errs.Emplace(err.Error(), ErrKindDocument, fieldPath)
			continue
		}

		fieldPolicy, _ := run.c.policies.FieldPolicy(typename, field.Name)
		sig := MakeFieldSignature(field.Name, args, fieldPolicy.KeyArgs)
		embedded[string(sig)] = run.normalizeValue(value, field, fieldPath)
	}
	return embedded
}
