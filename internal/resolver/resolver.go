// Package resolver answers "which declared type does this name refer to"
// for identifiers that are not declared in the DSL text itself.
package resolver

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"grove/internal/marker"
	"grove/internal/model"
)

var (
	ErrNotFound  = errors.New("type not found")
	ErrAmbiguous = errors.New("type name is ambiguous")
)

// TypeKind is the shape of a resolved declaration.
type TypeKind string

const (
	Struct    TypeKind = "struct"
	Interface TypeKind = "interface"
	Other     TypeKind = "other"
)

// Descriptor describes a resolved type.
type Descriptor struct {
	Name    string
	PkgPath string
	Kind    TypeKind
	Markers []marker.Directive
}

// QualifiedName returns "<pkgpath>.<name>".
func (d Descriptor) QualifiedName() string {
	if d.PkgPath == "" {
		return d.Name
	}
	return d.PkgPath + "." + d.Name
}

// MessageKind returns the message kind declared by the descriptor's markers.
func (d Descriptor) MessageKind() (model.MessageKind, bool) {
	for _, m := range d.Markers {
		if k, ok := model.ParseMessageKind(m.Kind); ok {
			return k, true
		}
	}
	return "", false
}

// HasMarker reports whether the descriptor carries a directive of kind.
func (d Descriptor) HasMarker(kind string) bool {
	_, ok := marker.Find(d.Markers, kind)
	return ok
}

// Resolver looks up a type by simple or qualified name. A qualified name is
// "<package path suffix>.<Name>", e.g. "shop/messages.PlaceOrder".
type Resolver interface {
	Resolve(name string) (Descriptor, error)
}

// ---------------------------------------------------------------------------
// Index
// ---------------------------------------------------------------------------

// index holds descriptors keyed by simple name.
type index map[string][]Descriptor

func (ix index) add(d Descriptor) {
	for _, prev := range ix[d.Name] {
		if prev.PkgPath == d.PkgPath {
			return
		}
	}
	ix[d.Name] = append(ix[d.Name], d)
	sort.Slice(ix[d.Name], func(i, j int) bool { return ix[d.Name][i].PkgPath < ix[d.Name][j].PkgPath })
}

func (ix index) lookup(name string) (Descriptor, error) {
	qual, simple := splitQualified(name)
	var matches []Descriptor
	for _, d := range ix[simple] {
		if qual == "" || d.PkgPath == qual || strings.HasSuffix(d.PkgPath, "/"+qual) {
			matches = append(matches, d)
		}
	}
	switch len(matches) {
	case 0:
		return Descriptor{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	case 1:
		return matches[0], nil
	}
	paths := make([]string, len(matches))
	for i, d := range matches {
		paths[i] = d.QualifiedName()
	}
	return Descriptor{}, fmt.Errorf("%w: %s matches %s", ErrAmbiguous, name, strings.Join(paths, ", "))
}

// splitQualified splits "a/b.Name" into ("a/b", "Name"). Dotted model
// packages ("shop.messages.Name") are accepted as well.
func splitQualified(name string) (string, string) {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return "", name
	}
	qual := name[:i]
	if !strings.Contains(qual, "/") {
		qual = model.PackageDir(qual)
	}
	return qual, name[i+1:]
}

// ---------------------------------------------------------------------------
// Offline
// ---------------------------------------------------------------------------

// Offline resolves against a fixed set of descriptors.
type Offline struct {
	ix index
}

var _ Resolver = (*Offline)(nil)

func NewOffline(descs ...Descriptor) *Offline {
	o := &Offline{ix: index{}}
	for _, d := range descs {
		o.ix.add(d)
	}
	return o
}

// Add registers another descriptor.
func (o *Offline) Add(d Descriptor) { o.ix.add(d) }

func (o *Offline) Resolve(name string) (Descriptor, error) {
	return o.ix.lookup(name)
}

// Message is a convenience constructor for a message descriptor.
func Message(pkgPath, name string, kind model.MessageKind) Descriptor {
	return Descriptor{
		Name:    name,
		PkgPath: pkgPath,
		Kind:    Struct,
		Markers: []marker.Directive{{Kind: string(kind), Args: map[string]string{}}},
	}
}
