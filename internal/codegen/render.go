package codegen

import (
	"bytes"
	"embed"
	"fmt"
	"go/format"
	"sort"
	"strconv"
	"strings"
	"text/template"

	"golang.org/x/tools/imports"

	"grove/internal/marker"
	"grove/internal/model"
	"grove/internal/storage"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.tmpl"))

// ---------------------------------------------------------------------------
// Template data
// ---------------------------------------------------------------------------

type aggregateData struct {
	Name        string
	PackageName string
	ImportPath  string
	Alias       string
	Snake       string
	Identifier  string
	Factory     string
	Repository  string
	DataAccess  string
	Attributes  string
	Storage     string
	AdapterType string
}

func newAggregateData(a model.Aggregate, importPath string) aggregateData {
	return aggregateData{
		Name:        a.Name,
		PackageName: model.PackageName(a.Package),
		ImportPath:  importPath,
		Alias:       model.PackageName(a.Package),
		Snake:       model.SnakeCase(a.Name),
		Identifier:  model.Identifier.TypeName(a.Name),
		Factory:     model.Factory.TypeName(a.Name),
		Repository:  model.Repository.TypeName(a.Name),
		DataAccess:  model.DataAccess.TypeName(a.Name),
		Attributes:  model.Attributes.TypeName(a.Name),
	}
}

func (d aggregateData) forStorage(k storage.Kind) aggregateData {
	d.Storage = string(k)
	d.AdapterType = k.AdapterType(d.Name)
	return d
}

type declData struct {
	PackageName string
	Name        string
	Kind        model.MessageKind
}

type methodData struct {
	Marker    string
	Receiver  string
	Container string
	Method    string
	Param     string
	Results   string
	Zero      string
}

type listenersData struct {
	PackageName string
	Imports     []string
	Methods     []methodData
}

// ---------------------------------------------------------------------------
// Import sets
// ---------------------------------------------------------------------------

// importSet assigns unique local names to imported packages.
type importSet struct {
	byPath map[string]string
	names  map[string]bool
}

func newImportSet() *importSet {
	return &importSet{byPath: map[string]string{}, names: map[string]bool{}}
}

// reserve marks an existing import so new ones do not collide with it.
func (s *importSet) reserve(path, name string) {
	s.byPath[path] = name
	s.names[name] = true
}

// add returns the local name for path, choosing one if path is new.
func (s *importSet) add(path string) string {
	if name, ok := s.byPath[path]; ok {
		return name
	}
	segs := strings.Split(path, "/")
	name := segs[len(segs)-1]
	for i := len(segs) - 2; s.names[name] && i >= 0; i-- {
		name = segs[i] + name
	}
	for n := 2; s.names[name]; n++ {
		name = fmt.Sprintf("%s%d", segs[len(segs)-1], n)
	}
	s.reserve(path, name)
	return name
}

// specs renders import specs sorted by path. An alias is written only when
// the local name differs from the last path element.
func (s *importSet) specs(only map[string]bool) []string {
	paths := make([]string, 0, len(s.byPath))
	for p := range s.byPath {
		if only == nil || only[p] {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	out := make([]string, len(paths))
	for i, p := range paths {
		name := s.byPath[p]
		if name == p[strings.LastIndexByte(p, '/')+1:] {
			out[i] = strconv.Quote(p)
		} else {
			out[i] = name + " " + strconv.Quote(p)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Rendering
// ---------------------------------------------------------------------------

func render(name string, data any) ([]byte, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return nil, fmt.Errorf("render %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

// formatFile formats a complete Go file.
func formatFile(filename string, src []byte) ([]byte, error) {
	out, err := imports.Process(filename, src, &imports.Options{
		FormatOnly: true,
		Comments:   true,
		TabIndent:  true,
		TabWidth:   8,
	})
	if err != nil {
		return nil, fmt.Errorf("format %s: %w\n%s", filename, err, src)
	}
	return out, nil
}

// formatFragment formats a list of declarations without a package clause.
func formatFragment(src []byte) ([]byte, error) {
	out, err := format.Source(src)
	if err != nil {
		return nil, fmt.Errorf("format fragment: %w\n%s", err, src)
	}
	return out, nil
}

// methodFor builds the stub of one listener.
func methodFor(l model.MessageListener, aggregate string, param string) methodData {
	doc := fmt.Sprintf("// %s reacts to %s.\n//\n", l.Method, l.Consumes)
	dir := marker.New(marker.Listener, map[string][]string{
		"processes": l.Processes,
		"produces":  l.Produces,
	})
	m := methodData{
		Marker:    doc + dir.String(),
		Container: l.Container,
		Method:    l.Method,
		Param:     param,
		Results:   "error",
		Zero:      "nil",
	}
	switch l.Role {
	case model.RoleFactory:
		m.Receiver = "f"
		m.Results = fmt.Sprintf("(*%s, error)", aggregate)
		m.Zero = fmt.Sprintf("&%s{}, nil", aggregate)
	case model.RoleRepository:
		m.Receiver = "r"
	default:
		m.Receiver = "a"
	}
	return m
}
