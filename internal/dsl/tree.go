// Package dsl parses and analyzes grove process descriptions.
//
// The text is HCL native syntax with four block types:
//
//	aggregate "Order" { package = "shop.order" }
//	command "PlaceOrder" { package = "shop.messages" }
//	event "OrderPlaced" {}
//	process "Checkout" {
//	  step "PlaceOrder" {
//	    aggregate = "Order"
//	    action    = "create"
//	    method    = "Place"
//	    produces  = ["OrderPlaced"]
//	  }
//	}
//
// Parse checks syntax and shape only. An Analyzer turns a valid Tree into a
// model.Model, resolving names against the Tree and an optional resolver.
package dsl

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"

	"grove/internal/model"
)

// Action selects the container a step's listener lives in.
type Action string

const (
	// Create places the listener in the aggregate factory.
	Create Action = "create"
	// Update places the listener in the aggregate root.
	Update Action = "update"
	// Delete places the listener in the aggregate repository.
	Delete Action = "delete"
)

// Role maps the action to a listener role.
func (a Action) Role() model.Role {
	switch a {
	case Create:
		return model.RoleFactory
	case Delete:
		return model.RoleRepository
	default:
		return model.RoleRoot
	}
}

// ActionFor is the inverse of Action.Role.
func ActionFor(role model.Role) Action {
	switch role {
	case model.RoleFactory:
		return Create
	case model.RoleRepository:
		return Delete
	default:
		return Update
	}
}

// Ref is a name reference with its source range.
type Ref struct {
	Name  string
	Range hcl.Range
}

// AggregateDecl is an aggregate block.
type AggregateDecl struct {
	Name    string
	Package string
	Range   hcl.Range
}

// MessageDecl is a command or event block.
type MessageDecl struct {
	Kind    model.MessageKind
	Name    string
	Package string
	Range   hcl.Range
}

// StepDecl is one step of a process.
type StepDecl struct {
	Message   Ref
	Aggregate Ref
	Action    Action
	Method    string
	Produces  []Ref
	Range     hcl.Range
}

// ProcessDecl is a process block.
type ProcessDecl struct {
	Name  string
	Steps []StepDecl
	Range hcl.Range
}

// Tree is the syntax tree of one DSL document.
type Tree struct {
	Filename   string
	Aggregates []AggregateDecl
	Messages   []MessageDecl
	Processes  []ProcessDecl

	diags hcl.Diagnostics
}

// Valid reports whether parsing produced no errors.
func (t *Tree) Valid() bool { return !t.diags.HasErrors() }

// Errors renders the error diagnostics in source order.
func (t *Tree) Errors() []string {
	var out []string
	for _, d := range t.diags {
		if d.Severity != hcl.DiagError {
			continue
		}
		out = append(out, formatDiag(d))
	}
	return out
}

func formatDiag(d *hcl.Diagnostic) string {
	msg := d.Summary
	if d.Detail != "" {
		msg += "; " + d.Detail
	}
	if d.Subject == nil {
		return msg
	}
	return fmt.Sprintf("%s: %s", formatRange(*d.Subject), msg)
}

func formatRange(r hcl.Range) string {
	return fmt.Sprintf("%s:%d,%d", r.Filename, r.Start.Line, r.Start.Column)
}

func location(r hcl.Range) model.Location {
	return model.Location{File: r.Filename, Line: r.Start.Line}
}
