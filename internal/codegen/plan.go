package codegen

import (
	"sort"

	"grove/internal/model"
	"grove/internal/storage"
)

// plan is the additive difference between a current and a next model.
type plan struct {
	messages   []model.Message
	processes  []model.ProcessModel
	aggregates []aggregatePlan
	// standalone listeners are never synthesized; they are reported.
	standalone []model.MessageListener
}

type aggregatePlan struct {
	agg      model.Aggregate
	isNew    bool
	adapters []storage.Kind
	// listeners groups new listeners by container, containers sorted.
	containers []string
	listeners  map[string][]model.MessageListener
}

// diff computes what next adds to current. current may be nil.
func diff(current, next *model.Model, storages storage.Set) *plan {
	if current == nil {
		current = model.Empty()
	}
	p := &plan{}

	for _, msg := range next.Messages() {
		if msg.External {
			continue
		}
		if _, ok := current.Message(msg.Name); !ok {
			p.messages = append(p.messages, msg)
		}
	}
	for _, proc := range next.Processes() {
		if _, ok := current.Process(proc.Name); !ok {
			p.processes = append(p.processes, proc)
		}
	}

	for _, agg := range next.Aggregates() {
		cur, exists := current.Aggregate(agg.Name)
		ap := aggregatePlan{agg: agg, isNew: !exists, listeners: map[string][]model.MessageListener{}}
		if exists {
			// The existing declaration decides where files go.
			ap.agg.Package = cur.Package
			ap.agg.Source = cur.Source
		}
		for _, k := range storages {
			if !exists || !cur.Source.HasAdapter(string(k)) {
				ap.adapters = append(ap.adapters, k)
			}
		}
		for _, l := range agg.Listeners {
			if _, ok := current.Listener(l.Key()); ok {
				continue
			}
			if _, seen := ap.listeners[l.Container]; !seen {
				ap.containers = append(ap.containers, l.Container)
			}
			ap.listeners[l.Container] = append(ap.listeners[l.Container], l)
		}
		sort.Strings(ap.containers)
		p.aggregates = append(p.aggregates, ap)
	}

	for _, l := range next.StandaloneListeners() {
		if _, ok := current.Listener(l.Key()); !ok {
			p.standalone = append(p.standalone, l)
		}
	}
	return p
}
