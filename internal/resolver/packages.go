package resolver

import (
	"fmt"
	"go/ast"
	"go/token"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/tools/go/packages"

	"grove/internal/failure"
	"grove/internal/marker"
)

// PackagesConfig configures a Packages resolver.
type PackagesConfig struct {
	// Dir is the working directory for package loading.
	Dir string
	// Patterns are go/packages load patterns; defaults to "./...".
	Patterns []string
	// CacheSize bounds the lookup cache; defaults to 1024.
	CacheSize int
	Logger    *zap.Logger
}

type lookupResult struct {
	desc Descriptor
	err  error
}

// Packages resolves names against the named types of loaded Go packages.
// Packages are loaded once, on the first lookup.
type Packages struct {
	cfg   PackagesConfig
	log   *zap.Logger
	cache *lru.Cache[string, lookupResult]

	once    sync.Once
	ix      index
	loadErr error
}

var _ Resolver = (*Packages)(nil)

func NewPackages(cfg PackagesConfig) (*Packages, error) {
	if len(cfg.Patterns) == 0 {
		cfg.Patterns = []string{"./..."}
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1024
	}
	cache, err := lru.New[string, lookupResult](cfg.CacheSize)
	if err != nil {
		return nil, failure.Wrap(failure.ErrConfig, "resolver", err, "create cache")
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Packages{cfg: cfg, log: log.Named("resolver"), cache: cache}, nil
}

func (p *Packages) Resolve(name string) (Descriptor, error) {
	p.once.Do(p.load)
	if p.loadErr != nil {
		return Descriptor{}, p.loadErr
	}
	if r, ok := p.cache.Get(name); ok {
		return r.desc, r.err
	}
	d, err := p.ix.lookup(name)
	p.cache.Add(name, lookupResult{desc: d, err: err})
	return d, err
}

func (p *Packages) load() {
	fset := token.NewFileSet()
	cfg := &packages.Config{
		Mode: packages.NeedName | packages.NeedFiles | packages.NeedSyntax,
		Dir:  p.cfg.Dir,
		Fset: fset,
	}
	pkgs, err := packages.Load(cfg, p.cfg.Patterns...)
	if err != nil {
		p.loadErr = fmt.Errorf("resolver: load %v: %w", p.cfg.Patterns, err)
		return
	}
	p.ix = index{}
	packages.Visit(pkgs, nil, func(pkg *packages.Package) {
		for _, e := range pkg.Errors {
			p.log.Warn("package error", zap.String("package", pkg.PkgPath), zap.String("error", e.Error()))
		}
		for _, file := range pkg.Syntax {
			indexFile(p.ix, pkg.PkgPath, file)
		}
	})
	p.log.Debug("packages indexed", zap.Int("packages", len(pkgs)), zap.Int("names", len(p.ix)))
}

// indexFile adds every named type declared in file.
func indexFile(ix index, pkgPath string, file *ast.File) {
	for _, decl := range file.Decls {
		gd, ok := decl.(*ast.GenDecl)
		if !ok || gd.Tok != token.TYPE {
			continue
		}
		for _, spec := range gd.Specs {
			ts := spec.(*ast.TypeSpec)
			doc := ts.Doc
			if doc == nil && len(gd.Specs) == 1 {
				doc = gd.Doc
			}
			ix.add(Descriptor{
				Name:    ts.Name.Name,
				PkgPath: pkgPath,
				Kind:    typeKind(ts.Type),
				Markers: marker.Parse(doc),
			})
		}
	}
}

func typeKind(expr ast.Expr) TypeKind {
	switch expr.(type) {
	case *ast.StructType:
		return Struct
	case *ast.InterfaceType:
		return Interface
	default:
		return Other
	}
}
