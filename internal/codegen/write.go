package codegen

import (
	"bytes"
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"grove/internal/failure"
	"grove/internal/model"
	"grove/internal/storage"
)

// ---------------------------------------------------------------------------
// File primitives
// ---------------------------------------------------------------------------

// createExclusive creates name with data. It reports false without error
// when name already exists.
func createExclusive(name string, data []byte) (bool, error) {
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return false, fmt.Errorf("mkdir %s: %w", filepath.Dir(name), err)
	}
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("create %s: %w", name, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return false, fmt.Errorf("write %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return false, fmt.Errorf("close %s: %w", name, err)
	}
	return true, nil
}

// replaceFile writes data to name through a temporary file in the same
// directory, keeping the original permissions.
func replaceFile(name string, data []byte, mode fs.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(name), "."+filepath.Base(name)+".*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", name, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Chmod(tmp.Name(), mode.Perm()); err != nil {
		return fmt.Errorf("chmod %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), name); err != nil {
		return fmt.Errorf("rename onto %s: %w", name, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Listener stubs
// ---------------------------------------------------------------------------

// listenerFile returns the file holding generated listeners of container.
func listenerFile(dir, container string) string {
	return filepath.Join(dir, model.SnakeCase(container)+"_listeners.go")
}

// messageType looks a consumed message up in next, then current.
func messageType(name string, current, next *model.Model) (model.Message, bool) {
	if msg, ok := next.Message(name); ok {
		return msg, true
	}
	if current != nil {
		return current.Message(name)
	}
	return model.Message{}, false
}

func (g *Generator) writeListeners(rep *Report, agg model.Aggregate, container string, listeners []model.MessageListener, current, next *model.Model) error {
	dir := g.dir(agg.Package)
	declared, err := declaredMethods(dir, container)
	if err != nil {
		return err
	}
	var todo []model.MessageListener
	for _, l := range listeners {
		if file, ok := declared[l.Method]; ok {
			g.log.Warn("method exists without listener marker, not generated",
				zap.String("file", g.rel(filepath.Join(dir, file))), zap.String("method", container+"."+l.Method))
			continue
		}
		todo = append(todo, l)
	}
	if len(todo) == 0 {
		return nil
	}

	name := listenerFile(dir, container)
	existing, err := os.ReadFile(name)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return g.createListenerFile(rep, name, agg, todo, current, next)
	case err != nil:
		return fmt.Errorf("read %s: %w", name, err)
	}
	info, err := os.Stat(name)
	if err != nil {
		return fmt.Errorf("stat %s: %w", name, err)
	}
	return g.extendListenerFile(rep, name, info.Mode(), existing, agg, todo, current, next)
}

// methods builds the stub data for listeners, registering the imports they
// need in set.
func (g *Generator) methods(set *importSet, agg model.Aggregate, listeners []model.MessageListener, current, next *model.Model) ([]methodData, error) {
	var out []methodData
	for _, l := range listeners {
		msg, ok := messageType(l.Consumes, current, next)
		if !ok {
			return nil, failure.Inputf("codegen", "listener %s consumes unknown message %q", l.Key(), l.Consumes)
		}
		param := msg.Name
		switch {
		case msg.External:
			param = set.add(msg.Package) + "." + msg.Name
		case msg.Package != agg.Package:
			param = set.add(g.importPath(msg.Package)) + "." + msg.Name
		}
		out = append(out, methodFor(l, agg.Name, param))
	}
	return out, nil
}

func (g *Generator) createListenerFile(rep *Report, name string, agg model.Aggregate, listeners []model.MessageListener, current, next *model.Model) error {
	set := newImportSet()
	methods, err := g.methods(set, agg, listeners, current, next)
	if err != nil {
		return err
	}
	return g.createFromTemplate(rep, name, "listeners.go.tmpl", listenersData{
		PackageName: model.PackageName(agg.Package),
		Imports:     set.specs(nil),
		Methods:     methods,
	})
}

// extendListenerFile inserts missing imports after the existing import
// declarations and appends new methods. Existing bytes are kept verbatim.
func (g *Generator) extendListenerFile(rep *Report, name string, mode fs.FileMode, src []byte, agg model.Aggregate, listeners []model.MessageListener, current, next *model.Model) error {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, name, src, parser.SkipObjectResolution)
	if err != nil {
		return failure.Wrap(failure.ErrPrecondition, "codegen", err, "cannot extend %s", g.rel(name))
	}

	set := newImportSet()
	for _, imp := range file.Imports {
		path, _ := strconv.Unquote(imp.Path.Value)
		local := path[strings.LastIndexByte(path, '/')+1:]
		if imp.Name != nil {
			local = imp.Name.Name
		}
		set.reserve(path, local)
	}
	existingPaths := make(map[string]bool, len(set.byPath))
	for p := range set.byPath {
		existingPaths[p] = true
	}

	methods, err := g.methods(set, agg, listeners, current, next)
	if err != nil {
		return err
	}
	fragment, err := render("methods", listenersData{Methods: methods})
	if err != nil {
		return failure.Wrap(failure.ErrInternal, "codegen", err, "template")
	}
	if fragment, err = formatFragment(fragment); err != nil {
		return failure.Wrap(failure.ErrInternal, "codegen", err, "generated source")
	}

	added := make(map[string]bool)
	for p := range set.byPath {
		if !existingPaths[p] {
			added[p] = true
		}
	}

	var out bytes.Buffer
	rest := src
	if len(added) > 0 {
		at := importInsertOffset(fset, file)
		out.Write(src[:at])
		out.WriteString("\n\nimport (\n")
		for _, spec := range set.specs(added) {
			out.WriteString("\t" + spec + "\n")
		}
		out.WriteString(")")
		rest = src[at:]
	}
	out.Write(rest)
	if !bytes.HasSuffix(rest, []byte("\n")) {
		out.WriteByte('\n')
	}
	out.WriteByte('\n')
	out.Write(bytes.TrimLeft(fragment, "\n"))

	if err := replaceFile(name, out.Bytes(), mode); err != nil {
		return err
	}
	rep.Modified = append(rep.Modified, g.rel(name))
	g.log.Debug("extended", zap.String("file", g.rel(name)), zap.Int("methods", len(methods)))
	return nil
}

// importInsertOffset returns the byte offset just past the last import
// declaration, or past the package clause when there is none.
func importInsertOffset(fset *token.FileSet, file *ast.File) int {
	end := file.Name.End()
	for _, decl := range file.Decls {
		if gd, ok := decl.(*ast.GenDecl); ok && gd.Tok == token.IMPORT {
			end = gd.End()
		}
	}
	return fset.Position(end).Offset
}

// declaredMethods maps the methods of container declared in the non-test Go
// files of dir to the file declaring them. A missing dir declares nothing.
func declaredMethods(dir, container string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	fset := token.NewFileSet()
	out := make(map[string]string)
	for _, e := range entries {
		n := e.Name()
		if e.IsDir() || filepath.Ext(n) != ".go" || strings.HasSuffix(n, "_test.go") {
			continue
		}
		file, err := parser.ParseFile(fset, filepath.Join(dir, n), nil, parser.SkipObjectResolution)
		if err != nil {
			return nil, failure.Wrap(failure.ErrPrecondition, "codegen", err, "cannot inspect %s", n)
		}
		for _, decl := range file.Decls {
			fd, ok := decl.(*ast.FuncDecl)
			if !ok || fd.Recv == nil || len(fd.Recv.List) == 0 {
				continue
			}
			t := fd.Recv.List[0].Type
			if star, ok := t.(*ast.StarExpr); ok {
				t = star.X
			}
			if id, ok := t.(*ast.Ident); ok && id.Name == container {
				out[fd.Name.Name] = n
			}
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Storage adapters
// ---------------------------------------------------------------------------

type adapterFile struct {
	suffix string
	tmpl   string
}

// adapterStrategy generates the adapter set of one storage backend into
// <aggregate dir>/adapters.
type adapterStrategy struct {
	kind  storage.Kind
	files []adapterFile
}

func (s adapterStrategy) generate(g *Generator, rep *Report, dir string, data aggregateData) error {
	for _, f := range s.files {
		name := filepath.Join(dir, "adapters", data.Snake+f.suffix)
		if err := g.createFromTemplate(rep, name, f.tmpl, data); err != nil {
			return fmt.Errorf("%s adapter: %w", s.kind, err)
		}
	}
	return nil
}

func adapterStrategies() map[storage.Kind]adapterStrategy {
	return map[storage.Kind]adapterStrategy{
		storage.Internal: {kind: storage.Internal, files: []adapterFile{
			{suffix: "_memory_adapter.go", tmpl: "adapter_memory.go.tmpl"},
		}},
		storage.Mongo: {kind: storage.Mongo, files: []adapterFile{
			{suffix: "_mongo_adapter.go", tmpl: "adapter_mongo.go.tmpl"},
		}},
		storage.Postgres: {kind: storage.Postgres, files: []adapterFile{
			{suffix: "_postgres_adapter.go", tmpl: "adapter_postgres.go.tmpl"},
			{suffix: "_postgres.sql", tmpl: "schema_postgres.sql.tmpl"},
		}},
	}
}
