// Package marker reads and writes grove directive comments.
//
// A directive is a line comment of the form
//
//	//grove:<kind> [key=value ...]
//
// placed in the doc comment of a declaration. Values are comma-separated
// lists; keys are unique per directive.
package marker

import (
	"go/ast"
	"sort"
	"strings"
)

// Prefix starts every directive.
const Prefix = "//grove:"

// Directive kinds.
const (
	Aggregate = "aggregate"
	Command   = "command"
	Event     = "event"
	Process   = "process"
	Listener  = "listener"
	Adapter   = "adapter"
)

// Directive is one parsed directive comment.
type Directive struct {
	Kind string
	Args map[string]string
}

// List returns the comma-separated values of key, trimmed and without
// empty entries.
func (d Directive) List(key string) []string {
	raw, ok := d.Args[key]
	if !ok || raw == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Get returns the raw value of key.
func (d Directive) Get(key string) string { return d.Args[key] }

// String renders d in canonical form with keys sorted.
func (d Directive) String() string {
	var b strings.Builder
	b.WriteString(Prefix)
	b.WriteString(d.Kind)
	keys := make([]string, 0, len(d.Args))
	for k := range d.Args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if d.Args[k] == "" {
			continue
		}
		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(d.Args[k])
	}
	return b.String()
}

// New builds a directive; list arguments are joined with commas.
func New(kind string, args map[string][]string) Directive {
	d := Directive{Kind: kind, Args: map[string]string{}}
	for k, vs := range args {
		if len(vs) > 0 {
			d.Args[k] = strings.Join(vs, ",")
		}
	}
	return d
}

// ParseLine parses a single comment line. It returns false for comments that
// are not directives.
func ParseLine(text string) (Directive, bool) {
	if !strings.HasPrefix(text, Prefix) {
		return Directive{}, false
	}
	fields := strings.Fields(strings.TrimPrefix(text, Prefix))
	if len(fields) == 0 {
		return Directive{}, false
	}
	d := Directive{Kind: fields[0], Args: map[string]string{}}
	for _, f := range fields[1:] {
		k, v, ok := strings.Cut(f, "=")
		if !ok {
			d.Args[f] = ""
			continue
		}
		d.Args[k] = v
	}
	return d, true
}

// Parse returns the directives found in the given comment groups, in order.
func Parse(groups ...*ast.CommentGroup) []Directive {
	var out []Directive
	for _, g := range groups {
		if g == nil {
			continue
		}
		for _, c := range g.List {
			if d, ok := ParseLine(c.Text); ok {
				out = append(out, d)
			}
		}
	}
	return out
}

// Find returns the first directive of kind.
func Find(ds []Directive, kind string) (Directive, bool) {
	for _, d := range ds {
		if d.Kind == kind {
			return d, true
		}
	}
	return Directive{}, false
}
