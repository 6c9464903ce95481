package validate

import (
	"errors"

	"grove/internal/failure"
	"grove/internal/model"
	"grove/internal/resolver"
	"grove/internal/storage"
)

// DefaultCheckers returns the standard rule list followed by one adapter
// checker per selected storage backend.
func DefaultCheckers(storages storage.Set) ([]Checker, error) {
	checkers := []Checker{
		companionChecker{},
		messageChecker{},
		listenerProcessChecker{},
		processListenerChecker{},
		eventProducerChecker{},
	}
	seen := make(map[storage.Kind]bool, len(storages))
	for _, k := range storages {
		if seen[k] {
			continue
		}
		seen[k] = true
		b, ok := storage.Lookup(k)
		if !ok {
			return nil, failure.Configf("validate", "no adapter checker for storage %q", k)
		}
		checkers = append(checkers, adapterChecker{backend: b})
	}
	return checkers, nil
}

// scanned returns the aggregates that carry source facts. Aggregates built
// from the DSL have none and are not checked for artifacts.
func scanned(m *model.Model) []model.Aggregate {
	var out []model.Aggregate
	for _, a := range m.Aggregates() {
		if a.Source != nil {
			out = append(out, a)
		}
	}
	return out
}

// companionChecker requires the companion types of every aggregate.
type companionChecker struct{}

func (companionChecker) Name() string { return "companions" }

func (companionChecker) Check(ctx *Context, r *Result) {
	for _, a := range scanned(ctx.Model) {
		for _, art := range model.Artifacts() {
			if a.Source.Has(art) {
				continue
			}
			sev := Error
			if art == model.Attributes {
				sev = Warning
			}
			r.Add(sev, a.Source.Root, "aggregate %s has no %s type %s", a.Name, art, art.TypeName(a.Name))
		}
	}
}

// messageChecker requires every consumed or produced message to be declared
// in the tree or resolvable as a marked command or event.
type messageChecker struct{}

func (messageChecker) Name() string { return "messages" }

func (messageChecker) Check(ctx *Context, r *Result) {
	for _, l := range ctx.Model.MessageListeners() {
		if text, ok := resolveMessage(ctx, l.Consumes); !ok {
			r.Errorf(l.Location, "listener %s consumes %s", l.Key(), text)
		}
		for _, p := range l.Produces {
			if text, ok := resolveMessage(ctx, p); !ok {
				r.Errorf(l.Location, "listener %s produces %s", l.Key(), text)
			}
		}
	}
}

// resolveMessage reports whether name is a known message. When it is not,
// the returned text describes why.
func resolveMessage(ctx *Context, name string) (string, bool) {
	if _, ok := ctx.Model.Message(name); ok {
		return "", true
	}
	if ctx.Resolver == nil {
		return "unknown message " + name, false
	}
	d, err := ctx.Resolver.Resolve(name)
	switch {
	case errors.Is(err, resolver.ErrNotFound):
		return "unknown message " + name, false
	case err != nil:
		return name + ": " + err.Error(), false
	}
	if _, ok := d.MessageKind(); !ok {
		return d.QualifiedName() + ", which is not marked as a command or event", false
	}
	return "", true
}

// listenerProcessChecker warns about listeners outside every process.
type listenerProcessChecker struct{}

func (listenerProcessChecker) Name() string { return "listener-processes" }

func (listenerProcessChecker) Check(ctx *Context, r *Result) {
	for _, l := range ctx.Model.MessageListeners() {
		if len(l.Processes) == 0 {
			r.Warnf(l.Location, "listener %s is not part of any process", l.Key())
		}
	}
}

// processListenerChecker warns about processes no listener takes part in.
type processListenerChecker struct{}

func (processListenerChecker) Name() string { return "process-listeners" }

func (processListenerChecker) Check(ctx *Context, r *Result) {
	for _, p := range ctx.Model.Processes() {
		if len(ctx.Model.ProcessListeners(p.Name)) == 0 {
			r.Warnf(p.Location, "process %s has no listeners", p.Name)
		}
	}
}

// eventProducerChecker warns about declared events that are consumed but
// never produced.
type eventProducerChecker struct{}

func (eventProducerChecker) Name() string { return "event-producers" }

func (eventProducerChecker) Check(ctx *Context, r *Result) {
	consumed := map[string]bool{}
	produced := map[string]bool{}
	for _, l := range ctx.Model.MessageListeners() {
		consumed[l.Consumes] = true
		for _, p := range l.Produces {
			produced[p] = true
		}
	}
	for _, msg := range ctx.Model.Messages() {
		if msg.Kind != model.Event || msg.External {
			continue
		}
		if consumed[msg.Name] && !produced[msg.Name] {
			r.Warnf(msg.Location, "event %s is consumed but no listener produces it", msg.Name)
		}
	}
}

// adapterChecker requires the adapter of one storage backend.
type adapterChecker struct {
	backend storage.Backend
}

func (c adapterChecker) Name() string { return "adapter-" + string(c.backend.Kind) }

func (c adapterChecker) Check(ctx *Context, r *Result) {
	for _, a := range scanned(ctx.Model) {
		if !a.Source.HasAdapter(string(c.backend.Kind)) {
			r.Errorf(a.Source.Root, "aggregate %s has no %s adapter %s", a.Name, c.backend.Kind, c.backend.Kind.AdapterType(a.Name))
		}
	}
}
