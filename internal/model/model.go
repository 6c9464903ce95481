// Package model holds the canonical domain model shared by the scanner, the
// DSL analyzer, the exporter, the generator and the validator.
//
// A Model is assembled by a Builder and is read-only afterwards: every
// accessor returns sorted copies, so two Models built from the same facts in
// any order render identically.
package model

import (
	"fmt"
	"sort"
	"strings"
)

// ---------------------------------------------------------------------------
// Elements
// ---------------------------------------------------------------------------

// MessageKind distinguishes commands from events.
type MessageKind string

const (
	Command MessageKind = "command"
	Event   MessageKind = "event"
)

// ParseMessageKind maps a marker or block name to a MessageKind.
func ParseMessageKind(s string) (MessageKind, bool) {
	switch MessageKind(s) {
	case Command, Event:
		return MessageKind(s), true
	}
	return "", false
}

// Role names the container a listener lives in relative to its aggregate.
type Role string

const (
	RoleRoot       Role = "root"
	RoleFactory    Role = "factory"
	RoleRepository Role = "repository"
	RoleStandalone Role = "standalone"
)

// Location is a position in a source file. The zero value means unknown.
type Location struct {
	File string `yaml:"file,omitempty"`
	Line int    `yaml:"line,omitempty"`
}

func (l Location) IsZero() bool { return l.File == "" && l.Line == 0 }

func (l Location) String() string {
	if l.IsZero() {
		return "<unknown>"
	}
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// Message is a command or an event.
type Message struct {
	Package string
	Name    string
	Kind    MessageKind
	// External messages are declared outside the modelled tree and are never
	// generated.
	External bool
	Location Location
}

// ProcessModel is a named business process. Its steps are the listeners that
// reference it.
type ProcessModel struct {
	Package  string
	Name     string
	Location Location
}

// ListenerKey identifies a listener: (consumed message, container, method).
type ListenerKey struct {
	Consumes  string
	Container string
	Method    string
}

func (k ListenerKey) String() string {
	return fmt.Sprintf("%s.%s(%s)", k.Container, k.Method, k.Consumes)
}

// Less orders keys by consumed message, then container, then method.
func (k ListenerKey) Less(o ListenerKey) bool {
	if k.Consumes != o.Consumes {
		return k.Consumes < o.Consumes
	}
	if k.Container != o.Container {
		return k.Container < o.Container
	}
	return k.Method < o.Method
}

// MessageListener is a method reacting to one message.
type MessageListener struct {
	Consumes  string
	Container string
	Method    string
	// Aggregate is empty for standalone listeners.
	Aggregate string
	Role      Role
	Processes []string
	Produces  []string
	Location  Location
}

func (l MessageListener) Key() ListenerKey {
	return ListenerKey{Consumes: l.Consumes, Container: l.Container, Method: l.Method}
}

// InProcess reports whether the listener is a step of process name.
func (l MessageListener) InProcess(name string) bool {
	for _, p := range l.Processes {
		if p == name {
			return true
		}
	}
	return false
}

// Aggregate is an aggregate root and the listeners attached to it.
type Aggregate struct {
	Package   string
	Name      string
	Listeners []MessageListener
	// Source is set only for aggregates extracted from a source tree.
	Source *SourceFacts
}

// ContainerFor returns the container type name for role.
func (a Aggregate) ContainerFor(role Role) string {
	switch role {
	case RoleFactory:
		return Factory.TypeName(a.Name)
	case RoleRepository:
		return Repository.TypeName(a.Name)
	default:
		return a.Name
	}
}

// RoleOf returns the role of container within the aggregate, or false when
// the container belongs to none of the aggregate's types.
func (a Aggregate) RoleOf(container string) (Role, bool) {
	switch container {
	case a.Name:
		return RoleRoot, true
	case Factory.TypeName(a.Name):
		return RoleFactory, true
	case Repository.TypeName(a.Name):
		return RoleRepository, true
	}
	return "", false
}

// ---------------------------------------------------------------------------
// Source facts
// ---------------------------------------------------------------------------

// Artifact is one of the companion types every aggregate is expected to have.
type Artifact string

const (
	Identifier Artifact = "identifier"
	Factory    Artifact = "factory"
	Repository Artifact = "repository"
	DataAccess Artifact = "data_access"
	Attributes Artifact = "attributes"
)

var artifactSuffix = map[Artifact]string{
	Identifier: "ID",
	Factory:    "Factory",
	Repository: "Repository",
	DataAccess: "DataAccess",
	Attributes: "Attributes",
}

// Artifacts lists the companion artifacts in generation order.
func Artifacts() []Artifact {
	return []Artifact{Identifier, Factory, Repository, DataAccess, Attributes}
}

// TypeName returns the Go type name of the artifact for aggregate.
func (a Artifact) TypeName(aggregate string) string {
	return aggregate + artifactSuffix[a]
}

// SourceFacts records which aggregate-related declarations a scan found.
type SourceFacts struct {
	Root      Location
	Artifacts map[Artifact]Location
	// Adapters maps a storage backend identifier to the adapter location.
	Adapters map[string]Location
}

func (s *SourceFacts) Has(a Artifact) bool {
	if s == nil {
		return false
	}
	_, ok := s.Artifacts[a]
	return ok
}

func (s *SourceFacts) HasAdapter(storage string) bool {
	if s == nil {
		return false
	}
	_, ok := s.Adapters[storage]
	return ok
}

// ---------------------------------------------------------------------------
// Model
// ---------------------------------------------------------------------------

// Model is the immutable canonical model.
type Model struct {
	aggregates map[string]Aggregate
	processes  map[string]ProcessModel
	messages   map[string]Message
	standalone []MessageListener
}

// Empty returns a model without elements.
func Empty() *Model {
	return &Model{
		aggregates: map[string]Aggregate{},
		processes:  map[string]ProcessModel{},
		messages:   map[string]Message{},
	}
}

// Producer yields a Model. Scanners and analyzers implement it.
type Producer interface {
	Model() (*Model, error)
}

// Aggregates returns all aggregates sorted by name.
func (m *Model) Aggregates() []Aggregate {
	out := make([]Aggregate, 0, len(m.aggregates))
	for _, name := range sortedKeys(m.aggregates) {
		out = append(out, cloneAggregate(m.aggregates[name]))
	}
	return out
}

// Aggregate returns the aggregate named name.
func (m *Model) Aggregate(name string) (Aggregate, bool) {
	a, ok := m.aggregates[name]
	if !ok {
		return Aggregate{}, false
	}
	return cloneAggregate(a), true
}

// Processes returns all processes sorted by name.
func (m *Model) Processes() []ProcessModel {
	out := make([]ProcessModel, 0, len(m.processes))
	for _, name := range sortedKeys(m.processes) {
		out = append(out, m.processes[name])
	}
	return out
}

func (m *Model) Process(name string) (ProcessModel, bool) {
	p, ok := m.processes[name]
	return p, ok
}

// Messages returns all messages sorted by name.
func (m *Model) Messages() []Message {
	out := make([]Message, 0, len(m.messages))
	for _, name := range sortedKeys(m.messages) {
		out = append(out, m.messages[name])
	}
	return out
}

func (m *Model) Message(name string) (Message, bool) {
	msg, ok := m.messages[name]
	return msg, ok
}

// StandaloneListeners returns listeners not owned by any aggregate.
func (m *Model) StandaloneListeners() []MessageListener {
	return cloneListeners(m.standalone)
}

// MessageListeners returns every listener of the model sorted by key.
func (m *Model) MessageListeners() []MessageListener {
	var out []MessageListener
	for _, a := range m.aggregates {
		out = append(out, cloneListeners(a.Listeners)...)
	}
	out = append(out, cloneListeners(m.standalone)...)
	sortListeners(out)
	return out
}

// ProcessListeners returns the listeners taking part in process name, sorted
// by key.
func (m *Model) ProcessListeners(name string) []MessageListener {
	var out []MessageListener
	for _, l := range m.MessageListeners() {
		if l.InProcess(name) {
			out = append(out, l)
		}
	}
	return out
}

// Listener looks a listener up by key.
func (m *Model) Listener(key ListenerKey) (MessageListener, bool) {
	for _, l := range m.MessageListeners() {
		if l.Key() == key {
			return l, true
		}
	}
	return MessageListener{}, false
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func sortListeners(ls []MessageListener) {
	sort.Slice(ls, func(i, j int) bool { return ls[i].Key().Less(ls[j].Key()) })
}

func cloneListeners(ls []MessageListener) []MessageListener {
	if ls == nil {
		return nil
	}
	out := make([]MessageListener, len(ls))
	for i, l := range ls {
		l.Processes = append([]string(nil), l.Processes...)
		l.Produces = append([]string(nil), l.Produces...)
		out[i] = l
	}
	return out
}

func cloneAggregate(a Aggregate) Aggregate {
	a.Listeners = cloneListeners(a.Listeners)
	if a.Source != nil {
		src := &SourceFacts{
			Root:      a.Source.Root,
			Artifacts: make(map[Artifact]Location, len(a.Source.Artifacts)),
			Adapters:  make(map[string]Location, len(a.Source.Adapters)),
		}
		for k, v := range a.Source.Artifacts {
			src.Artifacts[k] = v
		}
		for k, v := range a.Source.Adapters {
			src.Adapters[k] = v
		}
		a.Source = src
	}
	return a
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// normalizeNames sorts and deduplicates names, dropping empty entries.
func normalizeNames(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n != "" {
			set[n] = true
		}
	}
	if len(set) == 0 {
		return nil
	}
	return sortedKeys(set)
}
