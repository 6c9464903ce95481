// Package codegen synthesizes the Go source a model requires but the source
// tree lacks.
//
// Generation is additive: files are created with O_EXCL, existing files are
// only ever extended, and nothing is deleted or rolled back. Aggregates whose
// directory already exists without being part of the current model abort the
// run before the first write.
package codegen

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/mod/modfile"

	"grove/internal/failure"
	"grove/internal/model"
	"grove/internal/storage"
)

// Config configures a Generator. It is copied on construction.
type Config struct {
	// SourceDir is the root the model's dotted packages are relative to.
	SourceDir string
	// ModulePath is the import path of SourceDir. When empty it is derived
	// from the nearest go.mod at or above SourceDir.
	ModulePath string
	// Storages selects the adapter sets generated per aggregate.
	Storages storage.Set
	// Format runs generated files through the Go formatter.
	Format bool
	Logger *zap.Logger
}

// Generator writes missing artifacts.
type Generator struct {
	cfg      Config
	log      *zap.Logger
	adapters map[storage.Kind]adapterStrategy
}

// Report lists the files a Generate call touched, relative to SourceDir.
type Report struct {
	Created  []string
	Modified []string
	// Skipped holds planned files that already existed.
	Skipped []string
}

// Empty reports whether nothing was written.
func (r *Report) Empty() bool { return len(r.Created) == 0 && len(r.Modified) == 0 }

func (r *Report) sort() {
	sort.Strings(r.Created)
	sort.Strings(r.Modified)
	sort.Strings(r.Skipped)
}

// NewGenerator validates cfg.
func NewGenerator(cfg Config) (*Generator, error) {
	if cfg.SourceDir == "" {
		return nil, failure.Configf("codegen", "source directory is required")
	}
	abs, err := filepath.Abs(cfg.SourceDir)
	if err != nil {
		return nil, failure.Wrap(failure.ErrConfig, "codegen", err, "resolve %s", cfg.SourceDir)
	}
	cfg.SourceDir = abs
	if cfg.ModulePath == "" {
		cfg.ModulePath, err = modulePathFor(abs)
		if err != nil {
			return nil, err
		}
	}
	adapters := adapterStrategies()
	for _, k := range cfg.Storages {
		_, known := storage.Lookup(k)
		if _, ok := adapters[k]; !known || !ok {
			return nil, failure.Configf("codegen", "no adapter generator for storage %q", k)
		}
	}
	cfg.Storages = append(storage.Set(nil), cfg.Storages...)
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Generator{cfg: cfg, log: log.Named("codegen"), adapters: adapters}, nil
}

// ModulePath returns the import path of the source directory.
func (g *Generator) ModulePath() string { return g.cfg.ModulePath }

// modulePathFor walks up from dir to the nearest go.mod and returns the
// import path of dir.
func modulePathFor(dir string) (string, error) {
	for cur := dir; ; {
		data, err := os.ReadFile(filepath.Join(cur, "go.mod"))
		if err == nil {
			mod := modfile.ModulePath(data)
			if mod == "" {
				return "", failure.Configf("codegen", "%s has no module directive", filepath.Join(cur, "go.mod"))
			}
			rel, err := filepath.Rel(cur, dir)
			if err != nil {
				return "", failure.Wrap(failure.ErrConfig, "codegen", err, "relate %s to %s", dir, cur)
			}
			if rel == "." {
				return mod, nil
			}
			return path.Join(mod, filepath.ToSlash(rel)), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("codegen: read go.mod: %w", err)
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", failure.Configf("codegen", "no go.mod found at or above %s; set the module path", dir)
		}
		cur = parent
	}
}

// importPath returns the import path of a dotted model package.
func (g *Generator) importPath(pkg string) string {
	if pkg == "" {
		return g.cfg.ModulePath
	}
	return g.cfg.ModulePath + "/" + model.PackageDir(pkg)
}

func (g *Generator) dir(pkg string) string {
	return filepath.Join(g.cfg.SourceDir, filepath.FromSlash(model.PackageDir(pkg)))
}

func (g *Generator) rel(p string) string {
	r, err := filepath.Rel(g.cfg.SourceDir, p)
	if err != nil {
		return p
	}
	return filepath.ToSlash(r)
}

// ---------------------------------------------------------------------------
// Generate
// ---------------------------------------------------------------------------

// Generate writes every artifact next requires and current lacks. current
// may be nil, meaning an empty tree.
//
// A precondition failure is returned before any write. Write failures stop
// the remaining work of the affected aggregate only; all of them are
// returned together as a partial-write error alongside the report of what
// was written.
func (g *Generator) Generate(current, next *model.Model) (*Report, error) {
	if next == nil {
		return nil, failure.Internalf("codegen", "nil target model")
	}
	p := diff(current, next, g.cfg.Storages)
	if err := g.preflight(p); err != nil {
		return nil, err
	}

	rep := &Report{}
	var errs []error

	for _, msg := range p.messages {
		if err := g.writeMessage(rep, msg); err != nil {
			errs = append(errs, fmt.Errorf("message %s: %w", msg.Name, err))
		}
	}
	for _, proc := range p.processes {
		if err := g.writeProcess(rep, proc); err != nil {
			errs = append(errs, fmt.Errorf("process %s: %w", proc.Name, err))
		}
	}
	for _, ap := range p.aggregates {
		if err := g.writeAggregate(rep, ap, current, next); err != nil {
			errs = append(errs, fmt.Errorf("aggregate %s: %w", ap.agg.Name, err))
		}
	}
	for _, l := range p.standalone {
		g.log.Info("standalone listener not generated", zap.String("listener", l.Key().String()))
	}

	rep.sort()
	g.log.Info("generation finished",
		zap.Int("created", len(rep.Created)),
		zap.Int("modified", len(rep.Modified)),
		zap.Int("skipped", len(rep.Skipped)),
		zap.Int("errors", len(errs)))
	if err := failure.PartialWrite("codegen", errs); err != nil {
		return rep, err
	}
	return rep, nil
}

// preflight rejects new aggregates whose directory already exists.
func (g *Generator) preflight(p *plan) error {
	var clashes []string
	for _, ap := range p.aggregates {
		if !ap.isNew {
			continue
		}
		dir := g.dir(ap.agg.Package)
		_, err := os.Stat(dir)
		switch {
		case err == nil:
			clashes = append(clashes, fmt.Sprintf("%s (%s)", ap.agg.Name, g.rel(dir)))
		case !errors.Is(err, fs.ErrNotExist):
			return fmt.Errorf("codegen: stat %s: %w", dir, err)
		}
	}
	if len(clashes) > 0 {
		return failure.Preconditionf("codegen", "directory already exists for new aggregate(s): %v", clashes)
	}
	return nil
}

func (g *Generator) writeMessage(rep *Report, msg model.Message) error {
	name := filepath.Join(g.dir(msg.Package), model.SnakeCase(msg.Name)+".go")
	return g.createFromTemplate(rep, name, "message.go.tmpl", declData{
		PackageName: model.PackageName(msg.Package), Name: msg.Name, Kind: msg.Kind,
	})
}

func (g *Generator) writeProcess(rep *Report, proc model.ProcessModel) error {
	pkg := proc.Package
	if pkg == "" {
		// Implicit processes are only named by listeners.
		g.log.Debug("process without package not generated", zap.String("process", proc.Name))
		return nil
	}
	name := filepath.Join(g.dir(pkg), model.SnakeCase(proc.Name)+".go")
	return g.createFromTemplate(rep, name, "process.go.tmpl", declData{
		PackageName: model.PackageName(pkg), Name: proc.Name,
	})
}

var coreFiles = []struct {
	artifact string
	tmpl     string
}{
	{"", "aggregate.go.tmpl"},
	{string(model.Identifier), "identifier.go.tmpl"},
	{string(model.Factory), "factory.go.tmpl"},
	{string(model.Repository), "repository.go.tmpl"},
	{string(model.DataAccess), "data_access.go.tmpl"},
	{string(model.Attributes), "attributes.go.tmpl"},
}

func (g *Generator) writeAggregate(rep *Report, ap aggregatePlan, current, next *model.Model) error {
	agg := ap.agg
	dir := g.dir(agg.Package)
	data := newAggregateData(agg, g.importPath(agg.Package))

	if ap.isNew {
		for _, f := range coreFiles {
			typeName := agg.Name
			if f.artifact != "" {
				typeName = model.Artifact(f.artifact).TypeName(agg.Name)
			}
			name := filepath.Join(dir, model.SnakeCase(typeName)+".go")
			if err := g.createFromTemplate(rep, name, f.tmpl, data); err != nil {
				return err
			}
		}
	}

	for _, k := range ap.adapters {
		if err := g.adapters[k].generate(g, rep, dir, data.forStorage(k)); err != nil {
			return err
		}
	}

	for _, container := range ap.containers {
		if err := g.writeListeners(rep, agg, container, ap.listeners[container], current, next); err != nil {
			return fmt.Errorf("listeners of %s: %w", container, err)
		}
	}
	return nil
}

// createFromTemplate renders tmpl and creates name. An existing file is
// recorded as skipped and left untouched.
func (g *Generator) createFromTemplate(rep *Report, name, tmpl string, data any) error {
	src, err := render(tmpl, data)
	if err != nil {
		return failure.Wrap(failure.ErrInternal, "codegen", err, "template")
	}
	if g.cfg.Format && filepath.Ext(name) == ".go" {
		if src, err = formatFile(name, src); err != nil {
			return failure.Wrap(failure.ErrInternal, "codegen", err, "generated source")
		}
	}
	created, err := createExclusive(name, src)
	if err != nil {
		return err
	}
	if !created {
		rep.Skipped = append(rep.Skipped, g.rel(name))
		g.log.Debug("file exists, skipped", zap.String("file", g.rel(name)))
		return nil
	}
	rep.Created = append(rep.Created, g.rel(name))
	g.log.Debug("created", zap.String("file", g.rel(name)))
	return nil
}
