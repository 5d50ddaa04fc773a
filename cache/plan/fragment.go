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

package plan

import (
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

// BuildFragment prepares the named fragment (the document's only fragment when fragmentName is "")
// for entity-scoped reads and writes. The returned Plan has no remote document; its fields are
// resolved against one entity record rather than an operation root. Condition is the fragment's
// type condition.
func BuildFragment(source string, fragmentName string) (p *Plan, condition string, err error) {
	doc, err := parser.ParseQuery(&ast.Source{Name: "fragment", Input: source})
	if err != nil {
		return nil, "", err
	}
	if len(doc.Operations) > 0 {
		return nil, "", fmt.Errorf("fragment document must not define operations")
	}

	fragment, err := selectFragment(doc, fragmentName)
	if err != nil {
		return nil, "", err
	}

	b := &builder{
		fragments: map[string]*ast.FragmentDefinition{},
		inFlight:  map[string]bool{fragment.Name: true},
	}
	for _, defined := range doc.Fragments {
		b.fragments[defined.Name] = defined
	}

	fields, err := b.buildSelections(fragment.SelectionSet, false, "", nil)
	if err != nil {
		return nil, "", err
	}

	return &Plan{
		Name:        fragment.Name,
		Operation:   ast.Query,
		Fields:      fields,
		Exports:     b.exports,
		Diagnostics: b.diagnostics,
		hasLocal:    b.hasLocal,
	}, fragment.TypeCondition, nil
}

func selectFragment(doc *ast.QueryDocument, fragmentName string) (*ast.FragmentDefinition, error) {
	if fragmentName != "" {
		for _, fragment := range doc.Fragments {
			if fragment.Name == fragmentName {
				return fragment, nil
			}
		}
		return nil, fmt.Errorf("fragment %q is not defined in the document", fragmentName)
	}

	switch len(doc.Fragments) {
	case 0:
		return nil, fmt.Errorf("document defines no fragment")
	case 1:
		return doc.Fragments[0], nil
	}
	return nil, fmt.Errorf(
		"document defines %d fragments; a fragment name must be given", len(doc.Fragments))
}
