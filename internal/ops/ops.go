// Package ops implements the user-facing grove operations on top of the
// scanner, DSL front end, exporter, generator and validator.
//
// Every operation builds its models afresh; only the type resolver is
// reused across calls.
package ops

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"grove/internal/codegen"
	"grove/internal/config"
	"grove/internal/dsl"
	"grove/internal/export"
	"grove/internal/failure"
	"grove/internal/model"
	"grove/internal/resolver"
	"grove/internal/scanner"
	"grove/internal/validate"
)

// Operations binds a validated configuration to the pipeline stages.
type Operations struct {
	Config *config.Config
	Logger *zap.Logger
	// Editor edits exported process text for UpdateProcess.
	Editor Editor

	resolver resolver.Resolver
	resolved bool
}

func New(cfg *config.Config, log *zap.Logger, editor Editor) *Operations {
	if log == nil {
		log = zap.NewNop()
	}
	if editor == nil {
		editor = CommandEditor{Command: cfg.Editor}
	}
	return &Operations{Config: cfg, Logger: log, Editor: editor}
}

func (o *Operations) log() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// typeResolver returns the configured resolver, or nil when no patterns
// are configured. It is built once per Operations.
func (o *Operations) typeResolver() (resolver.Resolver, error) {
	if o.resolved {
		return o.resolver, nil
	}
	if len(o.Config.Resolver.Patterns) == 0 {
		o.resolved = true
		return nil, nil
	}
	p, err := resolver.NewPackages(resolver.PackagesConfig{
		Dir:       o.Config.GenerationDir(),
		Patterns:  o.Config.Resolver.Patterns,
		CacheSize: o.Config.Resolver.CacheSize,
		Logger:    o.log(),
	})
	if err != nil {
		return nil, err
	}
	o.resolver, o.resolved = p, true
	return p, nil
}

func (o *Operations) generator() (*codegen.Generator, error) {
	return codegen.NewGenerator(codegen.Config{
		SourceDir:  o.Config.GenerationDir(),
		ModulePath: o.Config.ModulePath,
		Storages:   o.Config.Storages(),
		Format:     o.Config.Format,
		Logger:     o.log(),
	})
}

// ---------------------------------------------------------------------------
// Model builders
// ---------------------------------------------------------------------------

// BuildModelFromSource scans every configured source directory.
func (o *Operations) BuildModelFromSource() (*model.Model, error) {
	s := scanner.New(scanner.Options{Exclude: o.Config.Scan.Exclude, Logger: o.log()})
	for _, dir := range o.Config.SourceDirs {
		if err := s.IncludeTree(dir); err != nil {
			return nil, err
		}
	}
	m, err := s.Model()
	if err != nil {
		return nil, err
	}
	if p := s.Problems(); len(p) > 0 {
		o.log().Warn("source files skipped", zap.Int("count", len(p)))
	}
	return m, nil
}

// BuildModelFromDSL parses and analyzes the DSL file at path. Syntax errors
// are logged one by one before the operation fails.
func (o *Operations) BuildModelFromDSL(path string) (*model.Model, error) {
	tree, err := dsl.ParseFile(path)
	if err != nil {
		return nil, err
	}
	if !tree.Valid() {
		errs := tree.Errors()
		for _, e := range errs {
			o.log().Error("syntax error", zap.String("detail", e))
		}
		return nil, failure.Inputf("ops", "%s has %d syntax error(s):\n%s", path, len(errs), strings.Join(errs, "\n"))
	}
	res, err := o.typeResolver()
	if err != nil {
		return nil, err
	}
	modulePath := o.Config.ModulePath
	if res != nil && modulePath == "" {
		g, err := o.generator()
		if err != nil {
			return nil, err
		}
		modulePath = g.ModulePath()
	}
	a, err := dsl.NewAnalyzer(dsl.AnalyzerConfig{
		Tree:        tree,
		BasePackage: o.Config.BasePackage,
		Resolver:    res,
		ModulePath:  modulePath,
		Logger:      o.log(),
	})
	if err != nil {
		return nil, err
	}
	return a.Model()
}

// ---------------------------------------------------------------------------
// Export
// ---------------------------------------------------------------------------

// ExportProcess writes the DSL text of one process, or of every process when
// process is empty.
func (o *Operations) ExportProcess(m *model.Model, process string, w io.Writer) error {
	data, err := export.Export(m, export.Options{Process: process})
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("ops: write export: %w", err)
	}
	return nil
}

// ListProcesses returns the process names of m in order.
func (o *Operations) ListProcesses(m *model.Model) []string {
	var names []string
	for _, p := range m.Processes() {
		names = append(names, p.Name)
	}
	return names
}

// ---------------------------------------------------------------------------
// Generation
// ---------------------------------------------------------------------------

// ImportProcess generates what the DSL file at path adds to the source tree.
func (o *Operations) ImportProcess(path string) (*codegen.Report, error) {
	current, err := o.BuildModelFromSource()
	if err != nil {
		return nil, err
	}
	next, err := o.BuildModelFromDSL(path)
	if err != nil {
		return nil, err
	}
	return o.generate(current, next)
}

// UpdateProcess exports process, lets the editor change it and generates
// the difference. An edit that only changes whitespace generates nothing and
// returns an empty report. When the edited text does not analyze, the
// temporary file is kept and named in the error.
func (o *Operations) UpdateProcess(ctx context.Context, process string) (*codegen.Report, error) {
	current, err := o.BuildModelFromSource()
	if err != nil {
		return nil, err
	}
	if _, ok := current.Process(process); !ok {
		return nil, failure.Inputf("ops", "unknown process %q (known: %s)", process, strings.Join(o.ListProcesses(current), ", "))
	}
	before, err := export.Export(current, export.Options{Process: process})
	if err != nil {
		return nil, err
	}

	f, err := os.CreateTemp("", "grove-"+model.SnakeCase(process)+"-*.grove")
	if err != nil {
		return nil, fmt.Errorf("ops: create temp file: %w", err)
	}
	path := f.Name()
	_, werr := f.Write(before)
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		os.Remove(path)
		return nil, fmt.Errorf("ops: write %s: %w", path, werr)
	}

	keep := false
	defer func() {
		if !keep {
			os.Remove(path)
		}
	}()

	if err := o.Editor.Edit(ctx, path); err != nil {
		return nil, fmt.Errorf("ops: edit %s: %w", path, err)
	}
	after, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ops: read edited %s: %w", path, err)
	}
	if normalizeSpace(before) == normalizeSpace(after) {
		o.log().Info("process unchanged, nothing to generate", zap.String("process", process))
		return &codegen.Report{}, nil
	}

	next, err := o.BuildModelFromDSL(path)
	if err != nil {
		keep = true
		return nil, fmt.Errorf("edited process kept at %s: %w", path, err)
	}
	return o.generate(current, next)
}

// AddAggregate generates a new aggregate, or the missing storage adapters of
// an existing one. An empty pkg defaults to <base package>.<lower name>.
func (o *Operations) AddAggregate(name, pkg string) (*codegen.Report, error) {
	if !model.ValidTypeName(name) {
		return nil, failure.Inputf("ops", "aggregate name %q is not an exported Go identifier", name)
	}
	if pkg == "" {
		if o.Config.BasePackage == "" {
			return nil, failure.Configf("ops", "aggregate %s needs a package or a configured base_package", name)
		}
		pkg = o.Config.BasePackage + "." + strings.ToLower(name)
	}
	if !model.ValidPackage(pkg) {
		return nil, failure.Inputf("ops", "package %q is not a dotted Go package name", pkg)
	}

	current, err := o.BuildModelFromSource()
	if err != nil {
		return nil, err
	}
	if existing, ok := current.Aggregate(name); ok && existing.Package != pkg {
		o.log().Warn("aggregate exists in another package; only adapters are added",
			zap.String("aggregate", name), zap.String("package", existing.Package))
	}
	b := model.NewBuilder()
	b.PutAggregate(model.Aggregate{Package: pkg, Name: name})
	next, err := b.Build()
	if err != nil {
		return nil, err
	}
	return o.generate(current, next)
}

func (o *Operations) generate(current, next *model.Model) (*codegen.Report, error) {
	g, err := o.generator()
	if err != nil {
		return nil, err
	}
	return g.Generate(current, next)
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// Validate checks the scanned source tree against the configured storages.
func (o *Operations) Validate() (*validate.Result, error) {
	m, err := o.BuildModelFromSource()
	if err != nil {
		return nil, err
	}
	res, err := o.typeResolver()
	if err != nil {
		return nil, err
	}
	v, err := validate.New(validate.Config{
		Model:    m,
		Resolver: res,
		Storages: o.Config.Storages(),
		Logger:   o.log(),
	})
	if err != nil {
		return nil, err
	}
	return v.Run(), nil
}

// normalizeSpace trims text and collapses every whitespace run to a single
// space.
func normalizeSpace(b []byte) string {
	return string(bytes.Join(bytes.Fields(b), []byte(" ")))
}
