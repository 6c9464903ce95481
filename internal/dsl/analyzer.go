package dsl

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"go.uber.org/zap"

	"grove/internal/failure"
	"grove/internal/marker"
	"grove/internal/model"
	"grove/internal/resolver"
)

// AnalyzerConfig configures an Analyzer.
type AnalyzerConfig struct {
	// Tree must be a valid syntax tree.
	Tree *Tree
	// BasePackage roots default packages: aggregates go to
	// "<base>.<name>", messages to "<base>.messages" and processes to
	// "<base>.process".
	BasePackage string
	// Resolver resolves messages and step aggregates the Tree does not
	// declare. Optional.
	Resolver resolver.Resolver
	// ModulePath is the import path of the source root. Resolved aggregates
	// must live below it.
	ModulePath string
	Logger     *zap.Logger
}

// Analyzer turns a syntax tree into a model.Model.
type Analyzer struct {
	cfg AnalyzerConfig
	log *zap.Logger
}

var _ model.Producer = (*Analyzer)(nil)

// NewAnalyzer validates cfg.
func NewAnalyzer(cfg AnalyzerConfig) (*Analyzer, error) {
	if cfg.Tree == nil {
		return nil, failure.Configf("dsl", "analyzer requires a syntax tree")
	}
	if !cfg.Tree.Valid() {
		return nil, failure.Inputf("dsl", "syntax tree of %s has errors:\n%s",
			cfg.Tree.Filename, strings.Join(cfg.Tree.Errors(), "\n"))
	}
	if cfg.BasePackage == "" {
		return nil, failure.Configf("dsl", "analyzer requires a base package")
	}
	if !model.ValidPackage(cfg.BasePackage) {
		return nil, failure.Configf("dsl", "base package %q is not a dot-separated list of Go identifiers", cfg.BasePackage)
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Analyzer{cfg: cfg, log: log.Named("analyzer")}, nil
}

// MessagesPackage is the default package of declared messages.
func (a *Analyzer) MessagesPackage() string { return a.cfg.BasePackage + ".messages" }

// ProcessPackage is the default package of processes.
func (a *Analyzer) ProcessPackage() string { return a.cfg.BasePackage + ".process" }

// AggregatePackage is the default package of aggregate name.
func (a *Analyzer) AggregatePackage(name string) string {
	return a.cfg.BasePackage + "." + strings.ToLower(name)
}

// semanticError is a problem tied to a DSL range.
type semanticError struct {
	rng hcl.Range
	msg string
}

func (e semanticError) Error() string { return formatRange(e.rng) + ": " + e.msg }

type pendingListener struct {
	listener  model.MessageListener
	processes map[string]hcl.Range
	rng       hcl.Range
}

// analysis holds the state of one Model call.
type analysis struct {
	*Analyzer
	b        *model.Builder
	errs     []error
	messages map[string]MessageDecl
}

func (an *analysis) errorf(rng hcl.Range, format string, args ...any) {
	an.errs = append(an.errs, semanticError{rng: rng, msg: fmt.Sprintf(format, args...)})
}

// Model resolves every reference of the tree. All semantic errors are
// reported together; no partial model is returned.
func (a *Analyzer) Model() (*model.Model, error) {
	an := &analysis{Analyzer: a, b: model.NewBuilder(), messages: map[string]MessageDecl{}}
	tree := a.cfg.Tree

	aggregates := make(map[string]AggregateDecl)
	for _, d := range tree.Aggregates {
		if prev, dup := aggregates[d.Name]; dup {
			an.errorf(d.Range, "aggregate %q already declared at %s", d.Name, formatRange(prev.Range))
			continue
		}
		aggregates[d.Name] = d
		pkg := d.Package
		if pkg == "" {
			pkg = a.AggregatePackage(d.Name)
		}
		an.b.PutAggregate(model.Aggregate{Package: pkg, Name: d.Name})
	}

	for _, d := range tree.Messages {
		if prev, dup := an.messages[d.Name]; dup {
			an.errorf(d.Range, "message %q already declared at %s", d.Name, formatRange(prev.Range))
			continue
		}
		if _, clash := aggregates[d.Name]; clash {
			an.errorf(d.Range, "message %q has the name of an aggregate", d.Name)
			continue
		}
		an.messages[d.Name] = d
		pkg := d.Package
		if pkg == "" {
			pkg = a.MessagesPackage()
		}
		an.b.PutMessage(model.Message{Package: pkg, Name: d.Name, Kind: d.Kind, Location: location(d.Range)})
	}

	pending := make(map[model.ListenerKey]*pendingListener)
	processes := make(map[string]hcl.Range)
	for _, p := range tree.Processes {
		if prev, dup := processes[p.Name]; dup {
			an.errorf(p.Range, "process %q already declared at %s", p.Name, formatRange(prev))
			continue
		}
		processes[p.Name] = p.Range
		an.b.PutProcess(model.ProcessModel{Package: a.ProcessPackage(), Name: p.Name, Location: location(p.Range)})
		for _, step := range p.Steps {
			an.step(p.Name, step, aggregates, pending)
		}
	}

	keys := make([]model.ListenerKey, 0, len(pending))
	for k := range pending {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	methods := make(map[string]*pendingListener, len(keys))
	for _, k := range keys {
		pl := pending[k]
		id := k.Container + "." + k.Method
		if prev, clash := methods[id]; clash {
			an.errorf(pl.rng, "method %s consumes %s here and %s at %s",
				id, k.Consumes, prev.listener.Consumes, formatRange(prev.rng))
			continue
		}
		methods[id] = pl
		for p := range pl.processes {
			pl.listener.Processes = append(pl.listener.Processes, p)
		}
		an.b.AddListener(pl.listener)
	}

	if len(an.errs) > 0 {
		return nil, &failure.Error{
			Kind: failure.ErrInput,
			Op:   "dsl",
			Msg:  fmt.Sprintf("%d semantic error(s) in %s", len(an.errs), tree.Filename),
			Err:  errors.Join(an.errs...),
		}
	}
	m, err := an.b.Build()
	if err != nil {
		return nil, err
	}
	a.log.Debug("dsl analyzed",
		zap.String("file", tree.Filename),
		zap.Int("processes", len(m.Processes())),
		zap.Int("listeners", len(m.MessageListeners())))
	return m, nil
}

func (an *analysis) step(process string, step StepDecl, aggregates map[string]AggregateDecl, pending map[model.ListenerKey]*pendingListener) {
	ok := an.message(step.Message)
	produces := make([]string, 0, len(step.Produces))
	for _, ref := range step.Produces {
		if an.message(ref) {
			produces = append(produces, ref.Name)
		}
	}

	aggName := step.Aggregate.Name
	if _, declared := aggregates[aggName]; !declared && !an.b.HasAggregate(aggName) {
		if _, clash := an.messages[aggName]; clash {
			an.errorf(step.Aggregate.Range, "%q is a message, not an aggregate", aggName)
			return
		}
		pkg, found := an.aggregate(step.Aggregate)
		if !found {
			return
		}
		an.b.PutAggregate(model.Aggregate{Package: pkg, Name: aggName})
	}
	if !ok {
		return
	}

	agg := model.Aggregate{Name: aggName}
	role := step.Action.Role()
	method := step.Method
	if method == "" {
		method = model.DefaultMethod(step.Message.Name)
	}
	l := model.MessageListener{
		Consumes:  step.Message.Name,
		Container: agg.ContainerFor(role),
		Method:    method,
		Aggregate: aggName,
		Role:      role,
		Produces:  produces,
		Location:  location(step.Range),
	}
	key := l.Key()
	pl, seen := pending[key]
	if !seen {
		pending[key] = &pendingListener{
			listener:  l,
			processes: map[string]hcl.Range{process: step.Range},
			rng:       step.Range,
		}
		return
	}
	if prev, dup := pl.processes[process]; dup {
		an.errorf(step.Range, "step %s appears twice in process %q (first at %s)", key, process, formatRange(prev))
		return
	}
	if !sameNames(pl.listener.Produces, l.Produces) {
		an.errorf(step.Range, "step %s produces [%s] here but [%s] at %s", key,
			strings.Join(l.Produces, ", "), strings.Join(pl.listener.Produces, ", "), formatRange(pl.rng))
		return
	}
	pl.processes[process] = step.Range
}

// message resolves a message reference, first against the tree then
// against the resolver.
func (an *analysis) message(ref Ref) bool {
	if _, ok := an.messages[ref.Name]; ok {
		return true
	}
	if an.b.HasMessage(ref.Name) {
		return true
	}
	if an.cfg.Resolver == nil {
		an.errorf(ref.Range, "unknown message %q", ref.Name)
		return false
	}
	d, err := an.cfg.Resolver.Resolve(ref.Name)
	if err != nil {
		an.errorf(ref.Range, "unknown message %q: %v", ref.Name, err)
		return false
	}
	kind, ok := d.MessageKind()
	if !ok {
		an.errorf(ref.Range, "%s is not marked as a command or event", d.QualifiedName())
		return false
	}
	an.b.PutMessage(model.Message{Package: d.PkgPath, Name: d.Name, Kind: kind, External: true})
	an.log.Debug("resolved external message", zap.String("name", ref.Name), zap.String("type", d.QualifiedName()))
	return true
}

// aggregate returns the package of an undeclared step aggregate. A type
// the resolver finds with an aggregate marker keeps its package; anything
// else is created by the generator under the base package.
func (an *analysis) aggregate(ref Ref) (string, bool) {
	fallback := an.AggregatePackage(ref.Name)
	if an.cfg.Resolver == nil {
		return fallback, true
	}
	d, err := an.cfg.Resolver.Resolve(ref.Name)
	switch {
	case errors.Is(err, resolver.ErrNotFound):
		return fallback, true
	case err != nil:
		an.errorf(ref.Range, "aggregate %q: %v", ref.Name, err)
		return "", false
	case !d.HasMarker(marker.Aggregate):
		an.log.Debug("resolved type is not an aggregate, creating one",
			zap.String("type", d.QualifiedName()), zap.String("package", fallback))
		return fallback, true
	}
	rel, ok := strings.CutPrefix(d.PkgPath, an.cfg.ModulePath+"/")
	if !ok {
		an.errorf(ref.Range, "aggregate %s is outside module %s", d.QualifiedName(), an.cfg.ModulePath)
		return "", false
	}
	pkg := model.PackageFromDir(rel)
	an.log.Debug("resolved existing aggregate", zap.String("name", ref.Name), zap.String("package", pkg))
	return pkg, true
}

func sameNames(a, b []string) bool {
	x := append([]string(nil), a...)
	y := append([]string(nil), b...)
	sort.Strings(x)
	sort.Strings(y)
	if len(x) != len(y) {
		return false
	}
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}
