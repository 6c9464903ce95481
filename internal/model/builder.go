package model

import (
	"errors"
	"fmt"

	"grove/internal/failure"
)

// Builder is the only mutable stage of a Model. Registration order does not
// affect the built Model.
type Builder struct {
	aggregates map[string]Aggregate
	processes  map[string]ProcessModel
	messages   map[string]Message
	listeners  []MessageListener
	errs       []error
}

func NewBuilder() *Builder {
	return &Builder{
		aggregates: map[string]Aggregate{},
		processes:  map[string]ProcessModel{},
		messages:   map[string]Message{},
	}
}

// PutAggregate registers an aggregate. Listeners set on a are ignored; use
// AddListener. A second aggregate with the same name is an error.
func (b *Builder) PutAggregate(a Aggregate) {
	if a.Name == "" {
		b.errs = append(b.errs, fmt.Errorf("aggregate without name in package %q", a.Package))
		return
	}
	if prev, ok := b.aggregates[a.Name]; ok {
		b.errs = append(b.errs, fmt.Errorf("duplicate aggregate %q (packages %q and %q)", a.Name, prev.Package, a.Package))
		return
	}
	a.Listeners = nil
	b.aggregates[a.Name] = a
}

// HasAggregate reports whether an aggregate named name was registered.
func (b *Builder) HasAggregate(name string) bool {
	_, ok := b.aggregates[name]
	return ok
}

// PutProcess registers a process. Registering a name twice keeps the first
// declaration and fills in a package or location it lacked.
func (b *Builder) PutProcess(p ProcessModel) {
	if p.Name == "" {
		b.errs = append(b.errs, errors.New("process without name"))
		return
	}
	prev, ok := b.processes[p.Name]
	if !ok {
		b.processes[p.Name] = p
		return
	}
	if prev.Package == "" {
		prev.Package = p.Package
	}
	if prev.Location.IsZero() {
		prev.Location = p.Location
	}
	b.processes[p.Name] = prev
}

// PutMessage registers a message. A second registration must agree on kind
// and package.
func (b *Builder) PutMessage(m Message) {
	if m.Name == "" {
		b.errs = append(b.errs, errors.New("message without name"))
		return
	}
	prev, ok := b.messages[m.Name]
	if !ok {
		b.messages[m.Name] = m
		return
	}
	if prev.Kind != m.Kind || prev.Package != m.Package {
		b.errs = append(b.errs, fmt.Errorf("message %q declared twice as %s in %q and %s in %q",
			m.Name, prev.Kind, prev.Package, m.Kind, m.Package))
	}
}

// HasMessage reports whether a message named name was registered.
func (b *Builder) HasMessage(name string) bool {
	_, ok := b.messages[name]
	return ok
}

// AddListener registers a listener. The owning aggregate may be registered
// later; Build checks it.
func (b *Builder) AddListener(l MessageListener) {
	l.Processes = normalizeNames(l.Processes)
	l.Produces = normalizeNames(l.Produces)
	if l.Aggregate == "" {
		l.Role = RoleStandalone
	}
	b.listeners = append(b.listeners, l)
}

// Build validates the registered facts and returns the immutable Model.
//
// Build fails when names collide, when a listener key is registered twice
// or when a listener names an unknown aggregate. Processes referenced only
// by listeners are declared implicitly.
func (b *Builder) Build() (*Model, error) {
	errs := append([]error(nil), b.errs...)

	m := Empty()
	for name, a := range b.aggregates {
		m.aggregates[name] = a
	}
	for name, p := range b.processes {
		m.processes[name] = p
	}
	for name, msg := range b.messages {
		m.messages[name] = msg
	}

	seen := make(map[ListenerKey]MessageListener, len(b.listeners))
	for _, l := range b.listeners {
		key := l.Key()
		if key.Consumes == "" || key.Container == "" || key.Method == "" {
			errs = append(errs, fmt.Errorf("incomplete listener %s", key))
			continue
		}
		if prev, dup := seen[key]; dup {
			errs = append(errs, fmt.Errorf("duplicate listener %s (%s and %s)", key, prev.Location, l.Location))
			continue
		}
		seen[key] = l

		for _, p := range l.Processes {
			if _, ok := m.processes[p]; !ok {
				m.processes[p] = ProcessModel{Name: p}
			}
		}
		if l.Aggregate == "" {
			m.standalone = append(m.standalone, l)
			continue
		}
		a, ok := m.aggregates[l.Aggregate]
		if !ok {
			errs = append(errs, fmt.Errorf("listener %s references unknown aggregate %q", key, l.Aggregate))
			continue
		}
		a.Listeners = append(a.Listeners, l)
		m.aggregates[l.Aggregate] = a
	}

	if len(errs) > 0 {
		return nil, &failure.Error{Kind: failure.ErrInput, Op: "model", Err: errors.Join(errs...)}
	}

	for name, a := range m.aggregates {
		sortListeners(a.Listeners)
		m.aggregates[name] = a
	}
	sortListeners(m.standalone)
	return m, nil
}
