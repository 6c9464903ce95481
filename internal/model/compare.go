package model

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Signature renders the structural content of m, one fact per line in a
// fixed order. External messages and source locations are not part of it.
func (m *Model) Signature() string {
	var b strings.Builder
	for _, a := range m.Aggregates() {
		fmt.Fprintf(&b, "aggregate %s %s\n", a.Package, a.Name)
	}
	for _, msg := range m.Messages() {
		if msg.External {
			continue
		}
		fmt.Fprintf(&b, "message %s %s %s\n", msg.Kind, msg.Package, msg.Name)
	}
	for _, p := range m.Processes() {
		fmt.Fprintf(&b, "process %s\n", p.Name)
	}
	for _, l := range m.MessageListeners() {
		fmt.Fprintf(&b, "listener %s aggregate=%s role=%s processes=%s produces=%s\n",
			l.Key(), l.Aggregate, l.Role,
			strings.Join(l.Processes, ","), strings.Join(l.Produces, ","))
	}
	return b.String()
}

// Equivalent reports whether a and b describe the same structure.
func Equivalent(a, b *Model) bool {
	return a.Signature() == b.Signature()
}

// ---------------------------------------------------------------------------
// Snapshot
// ---------------------------------------------------------------------------

// Snapshot is a serializable view of a Model.
type Snapshot struct {
	Aggregates []AggregateSnapshot `yaml:"aggregates,omitempty"`
	Messages   []MessageSnapshot   `yaml:"messages,omitempty"`
	Processes  []ProcessSnapshot   `yaml:"processes,omitempty"`
	Standalone []ListenerSnapshot  `yaml:"standalone_listeners,omitempty"`
}

type AggregateSnapshot struct {
	Name      string             `yaml:"name"`
	Package   string             `yaml:"package"`
	Artifacts []string           `yaml:"artifacts,omitempty"`
	Adapters  []string           `yaml:"adapters,omitempty"`
	Listeners []ListenerSnapshot `yaml:"listeners,omitempty"`
}

type MessageSnapshot struct {
	Name     string `yaml:"name"`
	Kind     string `yaml:"kind"`
	Package  string `yaml:"package"`
	External bool   `yaml:"external,omitempty"`
}

type ProcessSnapshot struct {
	Name    string   `yaml:"name"`
	Package string   `yaml:"package,omitempty"`
	Steps   []string `yaml:"steps,omitempty"`
}

type ListenerSnapshot struct {
	Consumes  string   `yaml:"consumes"`
	Container string   `yaml:"container"`
	Method    string   `yaml:"method"`
	Role      string   `yaml:"role"`
	Processes []string `yaml:"processes,omitempty"`
	Produces  []string `yaml:"produces,omitempty"`
	Location  string   `yaml:"location,omitempty"`
}

// Snapshot returns the serializable view of m.
func (m *Model) Snapshot() Snapshot {
	var s Snapshot
	for _, a := range m.Aggregates() {
		as := AggregateSnapshot{Name: a.Name, Package: a.Package}
		if a.Source != nil {
			for _, art := range Artifacts() {
				if a.Source.Has(art) {
					as.Artifacts = append(as.Artifacts, string(art))
				}
			}
			as.Adapters = sortedKeys(a.Source.Adapters)
		}
		for _, l := range a.Listeners {
			as.Listeners = append(as.Listeners, listenerSnapshot(l))
		}
		s.Aggregates = append(s.Aggregates, as)
	}
	for _, msg := range m.Messages() {
		s.Messages = append(s.Messages, MessageSnapshot{
			Name: msg.Name, Kind: string(msg.Kind), Package: msg.Package, External: msg.External,
		})
	}
	for _, p := range m.Processes() {
		ps := ProcessSnapshot{Name: p.Name, Package: p.Package}
		for _, l := range m.ProcessListeners(p.Name) {
			ps.Steps = append(ps.Steps, l.Key().String())
		}
		s.Processes = append(s.Processes, ps)
	}
	for _, l := range m.StandaloneListeners() {
		s.Standalone = append(s.Standalone, listenerSnapshot(l))
	}
	return s
}

func listenerSnapshot(l MessageListener) ListenerSnapshot {
	ls := ListenerSnapshot{
		Consumes:  l.Consumes,
		Container: l.Container,
		Method:    l.Method,
		Role:      string(l.Role),
		Processes: l.Processes,
		Produces:  l.Produces,
	}
	if !l.Location.IsZero() {
		ls.Location = l.Location.String()
	}
	return ls
}

// YAML renders the snapshot of m.
func (m *Model) YAML() ([]byte, error) {
	data, err := yaml.Marshal(m.Snapshot())
	if err != nil {
		return nil, fmt.Errorf("model: marshal snapshot: %w", err)
	}
	return data, nil
}
