package codegen_test

// codegen_test.go exercises generation end to end: DSL text is analyzed into
// the target model, the generator writes into a temp module, and the tree is
// scanned back.
//
// Properties covered:
//   - a new aggregate yields its core files, adapters and listener stubs
//   - a second run over the scanned tree writes nothing
//   - existing bytes are never modified
//   - a scanned generated tree is equivalent to the target model
//   - a clashing aggregate directory aborts before any write
//   - methods written by hand in any file of the package are not redeclared

import (
	"errors"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"grove/internal/codegen"
	"grove/internal/dsl"
	"grove/internal/failure"
	"grove/internal/model"
	"grove/internal/scanner"
	"grove/internal/storage"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

const fulfilment = `
aggregate "Order" {
  package = "shop.order"
}

event "OrderPlaced" {}

process "Fulfilment" {
  step "OrderPlaced" {
    aggregate = "Order"
  }
}
`

func newModule(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "go.mod"), []byte("module example.com/app\n\ngo 1.22\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return root
}

func dslModel(t *testing.T, src string) *model.Model {
	t.Helper()
	tree := dsl.Parse("test.grove", []byte(src))
	if !tree.Valid() {
		t.Fatalf("parse: %v", tree.Errors())
	}
	a, err := dsl.NewAnalyzer(dsl.AnalyzerConfig{Tree: tree, BasePackage: "shop"})
	if err != nil {
		t.Fatal(err)
	}
	m, err := a.Model()
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	return m
}

func scanModel(t *testing.T, root string) *model.Model {
	t.Helper()
	s := scanner.New(scanner.Options{})
	if err := s.IncludeTree(root); err != nil {
		t.Fatal(err)
	}
	m, err := s.Model()
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if p := s.Problems(); len(p) > 0 {
		t.Fatalf("generated tree has unparsable files: %v", p)
	}
	return m
}

func newGenerator(t *testing.T, root string, kinds ...storage.Kind) *codegen.Generator {
	t.Helper()
	g, err := codegen.NewGenerator(codegen.Config{SourceDir: root, Storages: kinds, Format: true})
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	return g
}

func readFile(t *testing.T, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		t.Fatalf("read %s: %v", rel, err)
	}
	return string(data)
}

// snapshotTree maps every file below root to its content.
func snapshotTree(t *testing.T, root string) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		out[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return out
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestGenerateNewAggregate(t *testing.T) {
	root := newModule(t)
	rep, err := newGenerator(t, root, storage.Internal).Generate(nil, dslModel(t, fulfilment))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	want := []string{
		"shop/messages/order_placed.go",
		"shop/order/adapters/order_memory_adapter.go",
		"shop/order/order.go",
		"shop/order/order_attributes.go",
		"shop/order/order_data_access.go",
		"shop/order/order_factory.go",
		"shop/order/order_id.go",
		"shop/order/order_listeners.go",
		"shop/order/order_repository.go",
		"shop/process/fulfilment.go",
	}
	if diff := cmp.Diff(want, rep.Created); diff != "" {
		t.Errorf("created (-want +got):\n%s", diff)
	}

	stub := readFile(t, root, "shop/order/order_listeners.go")
	for _, s := range []string{
		`"example.com/app/shop/messages"`,
		"//grove:listener processes=Fulfilment",
		"func (a *Order) OnOrderPlaced(msg messages.OrderPlaced) error {",
	} {
		if !strings.Contains(stub, s) {
			t.Errorf("listener file missing %q:\n%s", s, stub)
		}
	}
	adapter := readFile(t, root, "shop/order/adapters/order_memory_adapter.go")
	if !strings.Contains(adapter, `order "example.com/app/shop/order"`) {
		t.Errorf("adapter does not import the aggregate package:\n%s", adapter)
	}

	for rel := range snapshotTree(t, root) {
		if !strings.HasSuffix(rel, ".go") {
			continue
		}
		if _, err := parser.ParseFile(token.NewFileSet(), rel, readFile(t, root, rel), parser.AllErrors); err != nil {
			t.Errorf("generated %s does not parse: %v", rel, err)
		}
	}
}

func TestGeneratedTreeScansEquivalent(t *testing.T) {
	root := newModule(t)
	next := dslModel(t, fulfilment)
	if _, err := newGenerator(t, root, storage.Internal).Generate(nil, next); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	scanned := scanModel(t, root)
	if diff := cmp.Diff(next.Signature(), scanned.Signature()); diff != "" {
		t.Errorf("scanned model differs (-target +scanned):\n%s", diff)
	}
	order, _ := scanned.Aggregate("Order")
	for _, art := range model.Artifacts() {
		if !order.Source.Has(art) {
			t.Errorf("scanned tree lacks %s", art)
		}
	}
	if !order.Source.HasAdapter(string(storage.Internal)) {
		t.Error("scanned tree lacks the internal adapter")
	}
}

func TestGenerateIsIdempotent(t *testing.T) {
	root := newModule(t)
	next := dslModel(t, fulfilment)
	g := newGenerator(t, root, storage.Internal, storage.Postgres)
	if _, err := g.Generate(nil, next); err != nil {
		t.Fatalf("first Generate: %v", err)
	}
	before := snapshotTree(t, root)

	rep, err := g.Generate(scanModel(t, root), next)
	if err != nil {
		t.Fatalf("second Generate: %v", err)
	}
	if !rep.Empty() {
		t.Errorf("second run wrote files: created=%v modified=%v", rep.Created, rep.Modified)
	}
	if diff := cmp.Diff(before, snapshotTree(t, root)); diff != "" {
		t.Errorf("tree changed on rerun (-before +after):\n%s", diff)
	}
}

func TestGenerateIsAdditive(t *testing.T) {
	root := newModule(t)
	g := newGenerator(t, root, storage.Internal)
	if _, err := g.Generate(nil, dslModel(t, fulfilment)); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	// Hand edits the generator must preserve.
	edits := map[string]string{
		"shop/order/order.go":           "\n// Total is hand written.\nfunc (a *Order) Total() int { return 42 }\n",
		"shop/order/order_listeners.go": "\n// Audit is hand written.\nfunc (a *Order) Audit() {}\n",
	}
	for rel, custom := range edits {
		f, err := os.OpenFile(filepath.Join(root, rel), os.O_APPEND|os.O_WRONLY, 0)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := f.WriteString(custom); err != nil {
			t.Fatal(err)
		}
		f.Close()
	}
	before := snapshotTree(t, root)

	next := dslModel(t, fulfilment+`
command "ShipOrder" {}
command "AuditOrder" {
  package = "shop.audit"
}
process "Shipping" {
  step "ShipOrder" {
    aggregate = "Order"
    produces  = ["OrderPlaced"]
  }
  step "AuditOrder" {
    aggregate = "Order"
    action    = "delete"
  }
}
`)
	rep, err := g.Generate(scanModel(t, root), next)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if diff := cmp.Diff([]string{"shop/order/order_listeners.go"}, rep.Modified); diff != "" {
		t.Errorf("modified (-want +got):\n%s", diff)
	}

	after := snapshotTree(t, root)
	for rel, old := range before {
		now, ok := after[rel]
		if !ok {
			t.Errorf("%s was deleted", rel)
			continue
		}
		if !strings.HasPrefix(now, old) {
			t.Errorf("%s changed existing bytes:\n--- before ---\n%s\n--- after ---\n%s", rel, old, now)
		}
	}
	listeners := after["shop/order/order_listeners.go"]
	if !strings.Contains(listeners, "func (a *Order) OnShipOrder(msg messages.ShipOrder) error {") {
		t.Errorf("new root listener missing:\n%s", listeners)
	}
	repo := after["shop/order/order_repository_listeners.go"]
	if !strings.Contains(repo, `"example.com/app/shop/audit"`) ||
		!strings.Contains(repo, "func (r *OrderRepository) OnAuditOrder(msg audit.AuditOrder) error {") {
		t.Errorf("repository listener file:\n%s", repo)
	}
	if diff := cmp.Diff(next.Signature(), scanModel(t, root).Signature()); diff != "" {
		t.Errorf("scanned model differs (-target +scanned):\n%s", diff)
	}
}

func TestGenerateKeepsHandWrittenMethods(t *testing.T) {
	root := newModule(t)
	g := newGenerator(t, root)
	if _, err := g.Generate(nil, dslModel(t, fulfilment)); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	custom := `package order

// OnShipOrder is hand written.
func (a *Order) OnShipOrder(msg any) error { return nil }

// OnAuditOrder is hand written.
func (r *OrderRepository) OnAuditOrder(msg any) error { return nil }
`
	if err := os.WriteFile(filepath.Join(root, "shop", "order", "custom.go"), []byte(custom), 0o644); err != nil {
		t.Fatal(err)
	}
	before := snapshotTree(t, root)

	rep, err := g.Generate(scanModel(t, root), dslModel(t, fulfilment+`
command "ShipOrder" {}
command "AuditOrder" {}
process "Shipping" {
  step "ShipOrder" {
    aggregate = "Order"
  }
  step "AuditOrder" {
    aggregate = "Order"
    action    = "delete"
  }
}
`))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(rep.Modified) != 0 {
		t.Errorf("modified = %v, want none", rep.Modified)
	}
	after := snapshotTree(t, root)
	for rel, old := range before {
		if after[rel] != old {
			t.Errorf("%s changed:\n%s", rel, after[rel])
		}
	}
	if _, ok := after["shop/order/order_repository_listeners.go"]; ok {
		t.Error("repository listener file created for a hand-written method")
	}
	for _, decl := range []string{"func (a *Order) OnShipOrder(", "func (r *OrderRepository) OnAuditOrder("} {
		n := 0
		for _, content := range after {
			n += strings.Count(content, decl)
		}
		if n != 1 {
			t.Errorf("%s declared %d times", decl, n)
		}
	}
}

func TestGenerateInsertsMissingImports(t *testing.T) {
	root := newModule(t)
	g := newGenerator(t, root)
	if _, err := g.Generate(nil, dslModel(t, fulfilment)); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	old := readFile(t, root, "shop/order/order_listeners.go")

	next := dslModel(t, fulfilment+`
event "Audited" {
  package = "shop.audit"
}
process "Audit" {
  step "Audited" {
    aggregate = "Order"
  }
}
`)
	if _, err := g.Generate(scanModel(t, root), next); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	now := readFile(t, root, "shop/order/order_listeners.go")
	inserted := "\n\nimport (\n\t\"example.com/app/shop/audit\"\n)"
	if !strings.Contains(now, inserted) {
		t.Fatalf("import block not inserted:\n%s", now)
	}
	if !strings.HasPrefix(strings.Replace(now, inserted, "", 1), old) {
		t.Errorf("existing bytes changed:\n--- before ---\n%s\n--- after ---\n%s", old, now)
	}
	if _, err := parser.ParseFile(token.NewFileSet(), "order_listeners.go", now, 0); err != nil {
		t.Errorf("extended file does not parse: %v\n%s", err, now)
	}
}

func TestGeneratePreflightRejectsExistingDirectory(t *testing.T) {
	root := newModule(t)
	if err := os.MkdirAll(filepath.Join(root, "shop", "order"), 0o755); err != nil {
		t.Fatal(err)
	}
	before := snapshotTree(t, root)

	rep, err := newGenerator(t, root, storage.Internal).Generate(nil, dslModel(t, fulfilment))
	if !errors.Is(err, failure.ErrPrecondition) {
		t.Fatalf("err = %v, want precondition failure", err)
	}
	if rep != nil {
		t.Errorf("report returned on precondition failure: %+v", rep)
	}
	if diff := cmp.Diff(before, snapshotTree(t, root)); diff != "" {
		t.Errorf("files written despite precondition failure:\n%s", diff)
	}
	if _, err := os.Stat(filepath.Join(root, "shop", "messages")); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("message directory created: %v", err)
	}
}

func TestGenerateAddsMissingAdaptersOnly(t *testing.T) {
	root := newModule(t)
	next := dslModel(t, fulfilment)
	if _, err := newGenerator(t, root, storage.Internal).Generate(nil, next); err != nil {
		t.Fatal(err)
	}
	rep, err := newGenerator(t, root, storage.Internal, storage.Mongo, storage.Postgres).Generate(scanModel(t, root), next)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	want := []string{
		"shop/order/adapters/order_mongo_adapter.go",
		"shop/order/adapters/order_postgres.sql",
		"shop/order/adapters/order_postgres_adapter.go",
	}
	if diff := cmp.Diff(want, rep.Created); diff != "" {
		t.Errorf("created (-want +got):\n%s", diff)
	}
}

func TestGenerateContinuesAfterFailure(t *testing.T) {
	root := newModule(t)
	// A regular file where the message package directory belongs.
	if err := os.MkdirAll(filepath.Join(root, "shop"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "shop", "messages"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	rep, err := newGenerator(t, root).Generate(nil, dslModel(t, fulfilment))
	if !errors.Is(err, failure.ErrPartialWrite) {
		t.Fatalf("err = %v, want partial write", err)
	}
	if !strings.Contains(err.Error(), "message OrderPlaced") {
		t.Errorf("error does not name the failed unit: %v", err)
	}
	if rep == nil || len(rep.Created) == 0 {
		t.Fatal("no report of the files that were written")
	}
	if _, err := os.Stat(filepath.Join(root, "shop", "order", "order.go")); err != nil {
		t.Errorf("aggregate not generated after message failure: %v", err)
	}
}

func TestNewGeneratorModulePath(t *testing.T) {
	root := newModule(t)
	sub := filepath.Join(root, "internal", "domain")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	g, err := codegen.NewGenerator(codegen.Config{SourceDir: sub})
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	if g.ModulePath() != "example.com/app/internal/domain" {
		t.Errorf("ModulePath = %q", g.ModulePath())
	}

	g, err = codegen.NewGenerator(codegen.Config{SourceDir: sub, ModulePath: "example.com/other"})
	if err != nil || g.ModulePath() != "example.com/other" {
		t.Errorf("explicit module path: %v, %v", g, err)
	}
}

func TestNewGeneratorRejectsUnknownStorage(t *testing.T) {
	root := newModule(t)
	before := snapshotTree(t, root)
	_, err := codegen.NewGenerator(codegen.Config{
		SourceDir: root,
		Storages:  storage.Set{storage.Internal, "unknown-db"},
	})
	if !errors.Is(err, failure.ErrConfig) {
		t.Fatalf("err = %v, want config error", err)
	}
	if !strings.Contains(err.Error(), `"unknown-db"`) {
		t.Errorf("error does not name the backend: %v", err)
	}
	if diff := cmp.Diff(before, snapshotTree(t, root)); diff != "" {
		t.Errorf("tree changed:\n%s", diff)
	}
}

func TestNewGeneratorRequiresSourceDir(t *testing.T) {
	if _, err := codegen.NewGenerator(codegen.Config{}); !errors.Is(err, failure.ErrConfig) {
		t.Fatalf("err = %v, want config error", err)
	}
}
