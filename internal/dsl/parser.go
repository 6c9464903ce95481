package dsl

import (
	"fmt"
	"os"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"grove/internal/failure"
	"grove/internal/model"
)

// ---------------------------------------------------------------------------
// Schemas
// ---------------------------------------------------------------------------

const (
	blockAggregate = "aggregate"
	blockCommand   = "command"
	blockEvent     = "event"
	blockProcess   = "process"
	blockStep      = "step"

	attrPackage   = "package"
	attrAggregate = "aggregate"
	attrAction    = "action"
	attrMethod    = "method"
	attrProduces  = "produces"
)

var rootSchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: blockAggregate, LabelNames: []string{"name"}},
		{Type: blockCommand, LabelNames: []string{"name"}},
		{Type: blockEvent, LabelNames: []string{"name"}},
		{Type: blockProcess, LabelNames: []string{"name"}},
	},
}

var declSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: attrPackage},
	},
}

var processSchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: blockStep, LabelNames: []string{"message"}},
	},
}

var stepSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: attrAggregate, Required: true},
		{Name: attrAction},
		{Name: attrMethod},
		{Name: attrProduces},
	},
}

// ---------------------------------------------------------------------------
// Parse
// ---------------------------------------------------------------------------

// ParseFile reads and parses path. Only I/O failures are returned as errors;
// syntax problems are reported through the Tree.
func ParseFile(path string) (*Tree, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, failure.Wrap(failure.ErrInput, "dsl", err, "read %s", path)
	}
	return Parse(path, src), nil
}

// Parse builds the syntax tree of src. It never consults type information.
func Parse(filename string, src []byte) *Tree {
	t := &Tree{Filename: filename}
	file, diags := hclparse.NewParser().ParseHCL(src, filename)
	t.diags = append(t.diags, diags...)
	if file == nil || file.Body == nil {
		return t
	}
	content, diags := file.Body.Content(rootSchema)
	t.diags = append(t.diags, diags...)
	if content == nil {
		return t
	}

	for _, block := range content.Blocks {
		switch block.Type {
		case blockAggregate:
			name, pkg, ok := t.parseDecl(block)
			if ok {
				t.Aggregates = append(t.Aggregates, AggregateDecl{Name: name, Package: pkg, Range: block.DefRange})
			}
		case blockCommand, blockEvent:
			name, pkg, ok := t.parseDecl(block)
			if ok {
				kind, _ := model.ParseMessageKind(block.Type)
				t.Messages = append(t.Messages, MessageDecl{Kind: kind, Name: name, Package: pkg, Range: block.DefRange})
			}
		case blockProcess:
			if p, ok := t.parseProcess(block); ok {
				t.Processes = append(t.Processes, p)
			}
		}
	}
	return t
}

func (t *Tree) errorf(rng hcl.Range, summary, format string, args ...any) {
	r := rng
	t.diags = append(t.diags, &hcl.Diagnostic{
		Severity: hcl.DiagError,
		Summary:  summary,
		Detail:   fmt.Sprintf(format, args...),
		Subject:  &r,
	})
}

// typeLabel validates a block label used as a Go type name.
func (t *Tree) typeLabel(block *hcl.Block) (string, bool) {
	name := block.Labels[0]
	if !model.ValidTypeName(name) {
		t.errorf(block.LabelRanges[0], "Invalid name",
			"%s name %q must be an exported Go identifier", block.Type, name)
		return "", false
	}
	return name, true
}

func (t *Tree) parseDecl(block *hcl.Block) (string, string, bool) {
	name, ok := t.typeLabel(block)
	content, diags := block.Body.Content(declSchema)
	t.diags = append(t.diags, diags...)
	if !ok || diags.HasErrors() {
		return "", "", false
	}
	pkg, ok := t.packageAttr(content.Attributes[attrPackage])
	return name, pkg, ok
}

func (t *Tree) packageAttr(attr *hcl.Attribute) (string, bool) {
	if attr == nil {
		return "", true
	}
	pkg, ok := t.stringAttr(attr)
	if !ok {
		return "", false
	}
	if !model.ValidPackage(pkg) {
		t.errorf(attr.Expr.Range(), "Invalid package",
			"%q is not a dot-separated list of Go identifiers", pkg)
		return "", false
	}
	return pkg, true
}

func (t *Tree) parseProcess(block *hcl.Block) (ProcessDecl, bool) {
	name, ok := t.typeLabel(block)
	content, diags := block.Body.Content(processSchema)
	t.diags = append(t.diags, diags...)
	if !ok || content == nil {
		return ProcessDecl{}, false
	}
	p := ProcessDecl{Name: name, Range: block.DefRange}
	for _, sb := range content.Blocks {
		if step, ok := t.parseStep(sb); ok {
			p.Steps = append(p.Steps, step)
		}
	}
	return p, !diags.HasErrors()
}

func (t *Tree) parseStep(block *hcl.Block) (StepDecl, bool) {
	msg, ok := t.typeLabel(block)
	content, diags := block.Body.Content(stepSchema)
	t.diags = append(t.diags, diags...)
	if !ok || diags.HasErrors() {
		return StepDecl{}, false
	}
	step := StepDecl{
		Message: Ref{Name: msg, Range: block.LabelRanges[0]},
		Action:  Update,
		Range:   block.DefRange,
	}

	// Attributes are visited in schema order so diagnostics are stable.
	valid := true
	if attr := content.Attributes[attrAggregate]; attr != nil {
		name, ok := t.nameAttr(attr)
		valid = valid && ok
		step.Aggregate = Ref{Name: name, Range: attr.Expr.Range()}
	}
	if attr := content.Attributes[attrAction]; attr != nil {
		s, ok := t.stringAttr(attr)
		switch Action(s) {
		case Create, Update, Delete:
			step.Action = Action(s)
		default:
			if ok {
				t.errorf(attr.Expr.Range(), "Invalid action",
					"action must be one of %q, %q or %q, got %q", Create, Update, Delete, s)
			}
			ok = false
		}
		valid = valid && ok
	}
	if attr := content.Attributes[attrMethod]; attr != nil {
		s, ok := t.stringAttr(attr)
		if ok && !model.ValidTypeName(s) {
			t.errorf(attr.Expr.Range(), "Invalid method", "method %q must be an exported Go identifier", s)
			ok = false
		}
		valid = valid && ok
		step.Method = s
	}
	if attr := content.Attributes[attrProduces]; attr != nil {
		refs, ok := t.nameListAttr(attr)
		valid = valid && ok
		step.Produces = refs
	}
	return step, valid
}

// ---------------------------------------------------------------------------
// Attribute values
// ---------------------------------------------------------------------------

func (t *Tree) stringAttr(attr *hcl.Attribute) (string, bool) {
	var s string
	diags := gohcl.DecodeExpression(attr.Expr, nil, &s)
	t.diags = append(t.diags, diags...)
	return s, !diags.HasErrors()
}

func (t *Tree) nameAttr(attr *hcl.Attribute) (string, bool) {
	s, ok := t.stringAttr(attr)
	if ok && !model.ValidTypeName(s) {
		t.errorf(attr.Expr.Range(), "Invalid name", "%s %q must be an exported Go identifier", attr.Name, s)
		return s, false
	}
	return s, ok
}

func (t *Tree) nameListAttr(attr *hcl.Attribute) ([]Ref, bool) {
	exprs, diags := hcl.ExprList(attr.Expr)
	t.diags = append(t.diags, diags...)
	if diags.HasErrors() {
		return nil, false
	}
	valid := true
	refs := make([]Ref, 0, len(exprs))
	for _, expr := range exprs {
		var s string
		d := gohcl.DecodeExpression(expr, nil, &s)
		t.diags = append(t.diags, d...)
		if d.HasErrors() {
			valid = false
			continue
		}
		if !model.ValidTypeName(s) {
			t.errorf(expr.Range(), "Invalid name", "%s entry %q must be an exported Go identifier", attr.Name, s)
			valid = false
			continue
		}
		refs = append(refs, Ref{Name: s, Range: expr.Range()})
	}
	return refs, valid
}
