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

// Package plan prepares GraphQL operation documents for cache resolution. Building a Plan parses
// the document, flattens fragment spreads, partitions the selection tree into local-only
// (@client) and remote fields, collects @export bindings in declaration order, and prints the
// remote-only document for the transport collaborator.
package plan

import (
	"fmt"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"
	"github.com/vektah/gqlparser/v2/parser"
)

// Directive names recognized by the planner.
const (
	clientDirectiveName  = "client"
	exportDirectiveName  = "export"
	exportAsArgumentName = "as"
	typenameFieldName    = "__typename"
)

//===----------------------------------------------------------------------------------------====//
// Field
//===----------------------------------------------------------------------------------------====//

// A Field is one planned field occurrence. Fields pulled in through fragment spreads and inline
// fragments are flattened into their parent's field list, preserving declaration order.
type Field struct {
	// Name is the field name as it appears in the document.
	Name string

	// Alias is the response alias, or "" when the field is not aliased.
	Alias string

	// TypeCondition carries the fragment type condition the field was declared under, or "" when
	// the field applies to every runtime type.
	TypeCondition string

	// Local marks a field resolved from the store and policies instead of the remote transport. A
	// local ancestor makes every descendant local.
	Local bool

	// Export names the operation variable the field's resolved value is bound to, or "".
	Export string

	// Selections are the planned subfields; empty for leaf fields.
	Selections []*Field

	arguments ast.ArgumentList
	position  *ast.Position
}

// ResponseKey is the alias if defined, otherwise the field name.
func (field *Field) ResponseKey() string {
	if field.Alias != "" {
		return field.Alias
	}
	return field.Name
}

// HasSelections returns true for fields that select into an object or list of objects.
func (field *Field) HasSelections() bool {
	return len(field.Selections) > 0
}

// Args coerces the field's argument values against the operation variables.
func (field *Field) Args(variables map[string]interface{}) (map[string]interface{}, error) {
	if len(field.arguments) == 0 {
		return nil, nil
	}
	args := make(map[string]interface{}, len(field.arguments))
	for _, argument := range field.arguments {
		value, err := argument.Value.Value(variables)
		if err != nil {
			return nil, fmt.Errorf("coercing argument %q of field %q: %w",
				argument.Name, field.Name, err)
		}
		args[argument.Name] = value
	}
	return args, nil
}

// Location reports the 1-based position of the field in the document source. Both are 0 when the
// parser supplied no position.
func (field *Field) Location() (line, column uint) {
	if field.position == nil {
		return 0, 0
	}
	return uint(field.position.Line), uint(field.position.Column)
}

// AppliesTo returns true when the field's type condition admits the given runtime typename. An
// empty condition admits everything, as does an unknown (empty) typename: without a schema the
// planner cannot rule interface or union conditions out.
func (field *Field) AppliesTo(typename string) bool {
	return field.TypeCondition == "" || typename == "" || field.TypeCondition == typename
}

//===----------------------------------------------------------------------------------------====//
// Export & Diagnostic
//===----------------------------------------------------------------------------------------====//

// An Export binds the resolved value of a local field to an operation variable. Exports are
// evaluated in declaration order, so an exporting field completes before any later field that
// consumes the variable.
type Export struct {
	// Variable is the target variable name (without '$').
	Variable string

	// Path is the response-key path from the operation root to the exporting field.
	Path []string

	// Field is the exporting field.
	Field *Field
}

// A Diagnostic is a surfaced-but-tolerated condition found while planning, such as a duplicate
// export target.
type Diagnostic struct {
	Message string
	Line    uint
	Column  uint
}

//===----------------------------------------------------------------------------------------====//
// Plan
//===----------------------------------------------------------------------------------------====//

// A Plan is a prepared operation document. It is immutable once built and safe to share between
// operations with different variable values.
type Plan struct {
	// Name is the operation name, or "" for anonymous operations.
	Name string

	// Operation is the operation type (query or mutation).
	Operation ast.Operation

	// Fields are the flattened root fields in declaration order.
	Fields []*Field

	// Exports are the @export bindings in declaration order. A variable exported more than once
	// keeps every binding here; applying them in order makes the last one in document order win.
	Exports []Export

	// RemoteQuery is the printed remote-only document, or "" when every field is local.
	RemoteQuery string

	// Diagnostics are the tolerated conditions found while planning.
	Diagnostics []Diagnostic

	hasLocal bool
}

// HasRemote returns true when the operation has at least one field to send to the transport.
func (p *Plan) HasRemote() bool {
	return p.RemoteQuery != ""
}

// HasLocal returns true when the operation has at least one local-only field.
func (p *Plan) HasLocal() bool {
	return p.hasLocal
}

// IsMutation returns true for mutation operations, whose root fields are stored under the
// mutation root record.
func (p *Plan) IsMutation() bool {
	return p.Operation == ast.Mutation
}

//===----------------------------------------------------------------------------------------====//
// Build
//===----------------------------------------------------------------------------------------====//

// Build parses source and prepares the named operation (the document's only operation when
// operationName is "").
func Build(source string, operationName string) (*Plan, error) {
	doc, err := parser.ParseQuery(&ast.Source{Name: "operation", Input: source})
	if err != nil {
		return nil, err
	}

	operation, err := selectOperation(doc, operationName)
	if err != nil {
		return nil, err
	}
	if operation.Operation == ast.Subscription {
		return nil, fmt.Errorf("subscription operations cannot be planned against the cache")
	}

	b := &builder{
		fragments: map[string]*ast.FragmentDefinition{},
		inFlight:  map[string]bool{},
	}
	for _, fragment := range doc.Fragments {
		b.fragments[fragment.Name] = fragment
	}

	fields, err := b.buildSelections(operation.SelectionSet, false, "", nil)
	if err != nil {
		return nil, err
	}

	p := &Plan{
		Name:        operation.Name,
		Operation:   operation.Operation,
		Fields:      fields,
		Exports:     b.exports,
		Diagnostics: b.diagnostics,
		hasLocal:    b.hasLocal,
	}
	p.RemoteQuery = printRemoteDocument(operation, fields)
	return p, nil
}

func selectOperation(doc *ast.QueryDocument, operationName string) (*ast.OperationDefinition, error) {
	if operationName != "" {
		operation := doc.Operations.ForName(operationName)
		if operation == nil {
			return nil, fmt.Errorf("operation %q is not defined in the document", operationName)
		}
		return operation, nil
	}

	switch len(doc.Operations) {
	case 0:
		return nil, fmt.Errorf("document defines no operation")
	case 1:
		return doc.Operations[0], nil
	}
	return nil, fmt.Errorf(
		"document defines %d operations; an operation name must be given", len(doc.Operations))
}

//===----------------------------------------------------------------------------------------====//
// builder
//===----------------------------------------------------------------------------------------====//

type builder struct {
	fragments   map[string]*ast.FragmentDefinition
	inFlight    map[string]bool
	exports     []Export
	diagnostics []Diagnostic
	hasLocal    bool
}

func (b *builder) diagnose(position *ast.Position, format string, args ...interface{}) {
	d := Diagnostic{Message: fmt.Sprintf(format, args...)}
	if position != nil {
		d.Line, d.Column = uint(position.Line), uint(position.Column)
	}
	b.diagnostics = append(b.diagnostics, d)
}

// buildSelections flattens a selection set into planned fields. parentLocal propagates the
// local-only marker from an ancestor; typeCondition is the innermost enclosing fragment condition;
// path is the response-key path to the enclosing field.
func (b *builder) buildSelections(
	selectionSet ast.SelectionSet,
	parentLocal bool,
	typeCondition string,
	path []string) ([]*Field, error) {

	var fields []*Field
	byResponseKey := map[string]*Field{}

	for _, selection := range selectionSet {
		switch selection := selection.(type) {
		case *ast.Field:
			field, err := b.buildField(selection, parentLocal, typeCondition, path)
			if err != nil {
				return nil, err
			}

			// Coalesce selections requested more than once under the same response key, the way an
			// executor's CollectFields does.
			if previous, ok := byResponseKey[field.ResponseKey()]; ok && previous.Name == field.Name {
				previous.Selections = append(previous.Selections, field.Selections...)
				previous.Local = previous.Local && field.Local
				continue
			}
			byResponseKey[field.ResponseKey()] = field
			fields = append(fields, field)

		case *ast.FragmentSpread:
			fragment, ok := b.fragments[selection.Name]
			if !ok {
				return nil, fmt.Errorf("fragment %q is not defined in the document", selection.Name)
			}
			if b.inFlight[selection.Name] {
				return nil, fmt.Errorf("fragment %q spreads itself", selection.Name)
			}
			b.inFlight[selection.Name] = true

			local := parentLocal || selection.Directives.ForName(clientDirectiveName) != nil
			spread, err := b.buildSelections(
				fragment.SelectionSet, local, fragment.TypeCondition, path)
			b.inFlight[selection.Name] = false
			if err != nil {
				return nil, err
			}
			fields = append(fields, spread...)

		case *ast.InlineFragment:
			condition := selection.TypeCondition
			if condition == "" {
				condition = typeCondition
			}
			local := parentLocal || selection.Directives.ForName(clientDirectiveName) != nil
			inlined, err := b.buildSelections(selection.SelectionSet, local, condition, path)
			if err != nil {
				return nil, err
			}
			fields = append(fields, inlined...)
		}
	}
	return fields, nil
}

func (b *builder) buildField(
	node *ast.Field,
	parentLocal bool,
	typeCondition string,
	path []string) (*Field, error) {

	local := parentLocal || node.Directives.ForName(clientDirectiveName) != nil
	if local {
		b.hasLocal = true
	}

	field := &Field{
		Name:          node.Name,
		Alias:         node.Alias,
		TypeCondition: typeCondition,
		Local:         local,
		arguments:     node.Arguments,
		position:      node.Position,
	}
	if field.Alias == field.Name {
		field.Alias = ""
	}

	fieldPath := append(append([]string(nil), path...), field.ResponseKey())
	if len(node.SelectionSet) > 0 {
		selections, err := b.buildSelections(node.SelectionSet, local, "", fieldPath)
		if err != nil {
			return nil, err
		}
		field.Selections = selections
	}

	if directive := node.Directives.ForName(exportDirectiveName); directive != nil {
		if err := b.buildExport(field, directive, fieldPath); err != nil {
			return nil, err
		}
	}
	return field, nil
}

func (b *builder) buildExport(field *Field, directive *ast.Directive, path []string) error {
	argument := directive.Arguments.ForName(exportAsArgumentName)
	if argument == nil || argument.Value == nil || argument.Value.Kind != ast.StringValue {
		return fmt.Errorf(
			`@export on field %q requires a string "as" argument`, field.Name)
	}
	variable := argument.Value.Raw

	if !field.Local {
		b.diagnose(field.position,
			"@export(as: %q) on field %q is ignored because the field is not local-only",
			variable, field.Name)
		return nil
	}

	for _, previous := range b.exports {
		if previous.Variable == variable {
			b.diagnose(field.position,
				"variable %q is exported more than once; the last export in document order wins",
				variable)
			break
		}
	}

	field.Export = variable
	b.exports = append(b.exports, Export{
		Variable: variable,
		Path:     path,
		Field:    field,
	})
	return nil
}

//===----------------------------------------------------------------------------------------====//
// Remote document printing
//===----------------------------------------------------------------------------------------====//

// printRemoteDocument rebuilds a document containing only the remote fields and prints it. Local
// fields were already removed from the tree; remote object fields additionally select __typename
// so results can be normalized. Variable definitions are filtered to the ones the remote tree
// still references.
func printRemoteDocument(operation *ast.OperationDefinition, fields []*Field) string {
	selectionSet := remoteSelectionSet(fields)
	if len(selectionSet) == 0 {
		return ""
	}

	used := map[string]bool{}
	collectVariableUses(selectionSet, used)

	var variableDefinitions ast.VariableDefinitionList
	for _, definition := range operation.VariableDefinitions {
		if used[definition.Variable] {
			variableDefinitions = append(variableDefinitions, definition)
		}
	}

	remote := &ast.QueryDocument{
		Operations: ast.OperationList{{
			Operation:           operation.Operation,
			Name:                operation.Name,
			VariableDefinitions: variableDefinitions,
			SelectionSet:        selectionSet,
		}},
	}

	var b strings.Builder
	formatter.NewFormatter(&b).FormatQueryDocument(remote)
	return strings.TrimSpace(b.String())
}

func remoteSelectionSet(fields []*Field) ast.SelectionSet {
	var selectionSet ast.SelectionSet

	// Consecutive fields sharing a fragment type condition are regrouped under one inline
	// fragment.
	var condition string
	var conditional *ast.InlineFragment

	flush := func() {
		if conditional != nil && len(conditional.SelectionSet) > 0 {
			selectionSet = append(selectionSet, conditional)
		}
		conditional = nil
		condition = ""
	}

	hasTypename := false
	for _, field := range fields {
		if field.Local {
			continue
		}
		if field.TypeCondition == "" && field.Name == typenameFieldName {
			hasTypename = true
		}

		node := &ast.Field{
			Alias:     field.ResponseKey(),
			Name:      field.Name,
			Arguments: field.arguments,
		}
		if field.HasSelections() {
			node.SelectionSet = remoteSelectionSet(field.Selections)
			if len(node.SelectionSet) == 0 {
				// Every subfield was local; nothing remote remains to select.
				continue
			}
		}

		if field.TypeCondition != condition {
			flush()
			if field.TypeCondition != "" {
				condition = field.TypeCondition
				conditional = &ast.InlineFragment{TypeCondition: condition}
			}
		}
		if conditional != nil {
			conditional.SelectionSet = append(conditional.SelectionSet, node)
		} else {
			selectionSet = append(selectionSet, node)
		}
	}
	flush()

	if len(selectionSet) > 0 && !hasTypename {
		selectionSet = append(selectionSet, &ast.Field{
			Alias: typenameFieldName,
			Name:  typenameFieldName,
		})
	}
	return selectionSet
}

func collectVariableUses(selectionSet ast.SelectionSet, used map[string]bool) {
	for _, selection := range selectionSet {
		switch selection := selection.(type) {
		case *ast.Field:
			for _, argument := range selection.Arguments {
				collectValueVariables(argument.Value, used)
			}
			collectVariableUses(selection.SelectionSet, used)
		case *ast.InlineFragment:
			collectVariableUses(selection.SelectionSet, used)
		}
	}
}

func collectValueVariables(value *ast.Value, used map[string]bool) {
	if value == nil {
		return
	}
	if value.Kind == ast.Variable {
		used[value.Raw] = true
	}
	for _, child := range value.Children {
		collectValueVariables(child.Value, used)
	}
}
