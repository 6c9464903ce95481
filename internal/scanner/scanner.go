// Package scanner extracts a model.Model from a Go source tree.
//
// The scanner reads declarations and their grove directives with go/parser;
// it never type-checks and never writes. A file that does not parse is
// reported as a Problem and skipped. Any I/O failure aborts the scan.
package scanner

import (
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"grove/internal/failure"
	"grove/internal/marker"
	"grove/internal/model"
)

// Options configures a Scanner.
type Options struct {
	// Exclude holds path globs relative to each tree root. Entries may be
	// bare ("gen/**") or wrapped in Read() ("Read(./gen/**)").
	Exclude []string
	Logger  *zap.Logger
}

// Problem is a file the scanner skipped.
type Problem struct {
	File string
	Err  error
}

func (p Problem) String() string { return fmt.Sprintf("%s: %v", p.File, p.Err) }

// Scanner implements model.Producer over one or more source trees.
type Scanner struct {
	exclude  []string
	log      *zap.Logger
	roots    []string
	problems []Problem
}

var _ model.Producer = (*Scanner)(nil)

func New(opts Options) *Scanner {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	exclude := make([]string, 0, len(opts.Exclude))
	for _, rule := range opts.Exclude {
		exclude = append(exclude, parseExcludeRule(rule))
	}
	return &Scanner{exclude: exclude, log: log.Named("scanner")}
}

// IncludeTree adds a source root. The root must be a readable directory.
func (s *Scanner) IncludeTree(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return failure.Wrap(failure.ErrInput, "scanner", err, "include %s", root)
	}
	if !info.IsDir() {
		return failure.Inputf("scanner", "include %s: not a directory", root)
	}
	s.roots = append(s.roots, root)
	return nil
}

// Problems returns the files skipped by the last Model call.
func (s *Scanner) Problems() []Problem {
	return append([]Problem(nil), s.problems...)
}

// Model scans every included tree and assembles the model.
func (s *Scanner) Model() (*model.Model, error) {
	s.problems = nil
	var facts treeFacts
	for _, root := range s.roots {
		filesByDir, err := s.collectGoFiles(root)
		if err != nil {
			return nil, fmt.Errorf("scanner: walk %s: %w", root, err)
		}
		for _, dir := range sortedKeys(filesByDir) {
			rel, err := filepath.Rel(root, dir)
			if err != nil {
				return nil, fmt.Errorf("scanner: rel path %s: %w", dir, err)
			}
			pkg := model.PackageFromDir(filepath.ToSlash(rel))
			files := filesByDir[dir]
			sort.Strings(files)
			for _, path := range files {
				if err := s.scanFile(&facts, pkg, path); err != nil {
					return nil, err
				}
			}
		}
	}
	m, err := facts.assemble()
	if err != nil {
		return nil, err
	}
	s.log.Debug("scan complete",
		zap.Int("roots", len(s.roots)),
		zap.Int("aggregates", len(m.Aggregates())),
		zap.Int("listeners", len(m.MessageListeners())),
		zap.Int("problems", len(s.problems)))
	return m, nil
}

// ---------------------------------------------------------------------------
// File collection
// ---------------------------------------------------------------------------

func (s *Scanner) collectGoFiles(root string) (map[string][]string, error) {
	filesByDir := make(map[string][]string)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		name := d.Name()
		if d.IsDir() {
			if name == "vendor" || name == "testdata" || strings.HasPrefix(name, ".") ||
				strings.HasPrefix(name, "_") || s.excluded(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(name) != ".go" || strings.HasSuffix(name, "_test.go") || s.excluded(rel) {
			return nil
		}
		dir := filepath.Dir(path)
		filesByDir[dir] = append(filesByDir[dir], path)
		return nil
	})
	return filesByDir, err
}

func (s *Scanner) excluded(rel string) bool {
	for _, pattern := range s.exclude {
		if matchExcludePattern(pattern, rel) {
			return true
		}
	}
	return false
}

// parseExcludeRule extracts the path glob from an exclusion rule.
//
//	"Read(./gen/**)" → "gen/**"
//	"gen/**"         → "gen/**"
func parseExcludeRule(rule string) string {
	if strings.HasPrefix(rule, "Read(") && strings.HasSuffix(rule, ")") {
		rule = rule[5 : len(rule)-1]
	}
	return strings.TrimPrefix(rule, "./")
}

// matchExcludePattern reports whether path matches pattern.
//
// "prefix/**" matches the prefix directory itself and every path beneath it.
// All other patterns use filepath.Match semantics (single * does not cross /).
func matchExcludePattern(pattern, path string) bool {
	if strings.HasSuffix(pattern, "/**") {
		prefix := strings.TrimSuffix(pattern, "/**")
		return path == prefix || strings.HasPrefix(path, prefix+"/")
	}
	matched, _ := filepath.Match(pattern, path)
	return matched
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ---------------------------------------------------------------------------
// Extraction
// ---------------------------------------------------------------------------

func (s *Scanner) scanFile(facts *treeFacts, pkg, path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("scanner: read %s: %w", path, err)
	}
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, src, parser.ParseComments|parser.SkipObjectResolution)
	if err != nil {
		s.problems = append(s.problems, Problem{File: path, Err: err})
		s.log.Warn("skipping unparsable file", zap.String("file", path), zap.Error(err))
		return nil
	}

	loc := func(pos token.Pos) model.Location {
		return model.Location{File: path, Line: fset.Position(pos).Line}
	}

	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.GenDecl:
			if d.Tok != token.TYPE {
				continue
			}
			for _, spec := range d.Specs {
				ts := spec.(*ast.TypeSpec)
				doc := ts.Doc
				if doc == nil && len(d.Specs) == 1 {
					doc = d.Doc
				}
				facts.types = append(facts.types, typeFact{
					pkg:        pkg,
					name:       ts.Name.Name,
					loc:        loc(ts.Pos()),
					directives: marker.Parse(doc),
				})
			}
		case *ast.FuncDecl:
			if d.Recv == nil || len(d.Recv.List) == 0 {
				continue
			}
			dir, ok := marker.Find(marker.Parse(d.Doc), marker.Listener)
			if !ok {
				continue
			}
			container := baseTypeName(d.Recv.List[0].Type)
			consumes := lastParamType(d.Type)
			if container == "" || consumes == "" {
				err := fmt.Errorf("listener %s at line %d has no receiver type or message parameter",
					d.Name.Name, fset.Position(d.Pos()).Line)
				s.problems = append(s.problems, Problem{File: path, Err: err})
				s.log.Warn("skipping listener", zap.String("file", path), zap.Error(err))
				continue
			}
			facts.listeners = append(facts.listeners, listenerFact{
				pkg:       pkg,
				container: container,
				method:    d.Name.Name,
				consumes:  consumes,
				processes: dir.List("processes"),
				produces:  dir.List("produces"),
				loc:       loc(d.Pos()),
			})
		}
	}
	return nil
}

// lastParamType returns the simple type name of the last parameter.
func lastParamType(ft *ast.FuncType) string {
	if ft.Params == nil || len(ft.Params.List) == 0 {
		return ""
	}
	return baseTypeName(ft.Params.List[len(ft.Params.List)-1].Type)
}

// baseTypeName strips pointers, package qualifiers and type arguments.
func baseTypeName(expr ast.Expr) string {
	switch e := expr.(type) {
	case *ast.StarExpr:
		return baseTypeName(e.X)
	case *ast.SelectorExpr:
		return e.Sel.Name
	case *ast.IndexExpr:
		return baseTypeName(e.X)
	case *ast.IndexListExpr:
		return baseTypeName(e.X)
	case *ast.ParenExpr:
		return baseTypeName(e.X)
	case *ast.Ident:
		return e.Name
	default:
		return ""
	}
}

// ---------------------------------------------------------------------------
// Assembly
// ---------------------------------------------------------------------------

type typeFact struct {
	pkg        string
	name       string
	loc        model.Location
	directives []marker.Directive
}

type listenerFact struct {
	pkg       string
	container string
	method    string
	consumes  string
	processes []string
	produces  []string
	loc       model.Location
}

type treeFacts struct {
	types     []typeFact
	listeners []listenerFact
}

type containerRef struct {
	aggregate string
	role      model.Role
}

func (f *treeFacts) assemble() (*model.Model, error) {
	b := model.NewBuilder()

	byPkg := make(map[string]map[string]typeFact)
	for _, t := range f.types {
		if byPkg[t.pkg] == nil {
			byPkg[t.pkg] = make(map[string]typeFact)
		}
		byPkg[t.pkg][t.name] = t
	}

	adapters := make(map[string]map[string]model.Location)
	for _, t := range f.types {
		d, ok := marker.Find(t.directives, marker.Adapter)
		if !ok {
			continue
		}
		agg, st := d.Get("aggregate"), d.Get("storage")
		if agg == "" || st == "" {
			continue
		}
		if adapters[agg] == nil {
			adapters[agg] = make(map[string]model.Location)
		}
		adapters[agg][st] = t.loc
	}

	containers := make(map[string]containerRef)
	for _, t := range f.types {
		for _, d := range t.directives {
			switch d.Kind {
			case marker.Aggregate:
				src := &model.SourceFacts{
					Root:      t.loc,
					Artifacts: make(map[model.Artifact]model.Location),
					Adapters:  adapters[t.name],
				}
				if src.Adapters == nil {
					src.Adapters = make(map[string]model.Location)
				}
				for _, art := range model.Artifacts() {
					if companion, ok := byPkg[t.pkg][art.TypeName(t.name)]; ok {
						src.Artifacts[art] = companion.loc
					}
				}
				agg := model.Aggregate{Package: t.pkg, Name: t.name, Source: src}
				b.PutAggregate(agg)
				for _, role := range []model.Role{model.RoleRoot, model.RoleFactory, model.RoleRepository} {
					containers[t.pkg+"."+agg.ContainerFor(role)] = containerRef{aggregate: t.name, role: role}
				}
			case marker.Command, marker.Event:
				kind, _ := model.ParseMessageKind(d.Kind)
				b.PutMessage(model.Message{Package: t.pkg, Name: t.name, Kind: kind, Location: t.loc})
			case marker.Process:
				b.PutProcess(model.ProcessModel{Package: t.pkg, Name: t.name, Location: t.loc})
			}
		}
	}

	for _, l := range f.listeners {
		ml := model.MessageListener{
			Consumes:  l.consumes,
			Container: l.container,
			Method:    l.method,
			Processes: l.processes,
			Produces:  l.produces,
			Location:  l.loc,
		}
		if ref, ok := containers[l.pkg+"."+l.container]; ok {
			ml.Aggregate = ref.aggregate
			ml.Role = ref.role
		}
		b.AddListener(ml)
	}

	m, err := b.Build()
	if err != nil {
		var fe *failure.Error
		if errors.As(err, &fe) {
			fe.Op = "scanner"
		}
		return nil, err
	}
	return m, nil
}
