package scanner_test

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"grove/internal/failure"
	"grove/internal/model"
	"grove/internal/scanner"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// shopTree writes a small tree with one aggregate, two messages, a process
// and one standalone listener.
func shopTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "shop/messages/place_order.go", `package messages

//grove:command
type PlaceOrder struct{ Item string }
`)
	writeFile(t, root, "shop/messages/order_placed.go", `package messages

// OrderPlaced is published after an order exists.
//
//grove:event
type OrderPlaced struct{ OrderID string }
`)
	writeFile(t, root, "shop/process/checkout.go", `package process

//grove:process
type Checkout struct{}
`)
	writeFile(t, root, "shop/order/order.go", `package order

//grove:aggregate
type Order struct{ id OrderID }

type (
	OrderID string
	OrderDataAccess interface{}
)
`)
	writeFile(t, root, "shop/order/order_factory.go", `package order

import "example.com/shop/messages"

type OrderFactory struct{}

//grove:listener processes=Checkout produces=OrderPlaced
func (f *OrderFactory) Place(cmd messages.PlaceOrder) (*Order, error) { return nil, nil }

func (f *OrderFactory) helper(cmd messages.PlaceOrder) {}
`)
	writeFile(t, root, "shop/order/order_repository.go", `package order

type OrderRepository struct{}
`)
	writeFile(t, root, "shop/order/adapters/order_memory_adapter.go", `package adapters

//grove:adapter aggregate=Order storage=internal
type OrderMemoryAdapter struct{}
`)
	writeFile(t, root, "shop/mail/mailer.go", `package mail

type Mailer struct{}

//grove:listener processes=Checkout
func (m Mailer) Notify(ctx any, evt *messages.OrderPlaced) {}
`)
	writeFile(t, root, "shop/order/order_test.go", `package order

//grove:aggregate
type Ignored struct{}
`)
	return root
}

func scan(t *testing.T, root string, opts scanner.Options) (*model.Model, *scanner.Scanner) {
	t.Helper()
	s := scanner.New(opts)
	if err := s.IncludeTree(root); err != nil {
		t.Fatalf("IncludeTree: %v", err)
	}
	m, err := s.Model()
	if err != nil {
		t.Fatalf("Model: %v", err)
	}
	return m, s
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestScanExtractsAggregate(t *testing.T) {
	m, _ := scan(t, shopTree(t), scanner.Options{})

	aggs := m.Aggregates()
	if len(aggs) != 1 {
		t.Fatalf("aggregates = %+v, want exactly Order", aggs)
	}
	order := aggs[0]
	if order.Name != "Order" || order.Package != "shop.order" {
		t.Errorf("aggregate = %s in %s", order.Name, order.Package)
	}
	for _, art := range []model.Artifact{model.Identifier, model.Factory, model.Repository, model.DataAccess} {
		if !order.Source.Has(art) {
			t.Errorf("artifact %s not found", art)
		}
	}
	if order.Source.Has(model.Attributes) {
		t.Error("attributes reported although OrderAttributes is absent")
	}
	if !order.Source.HasAdapter("internal") || order.Source.HasAdapter("mongo") {
		t.Errorf("adapters = %v", order.Source.Adapters)
	}
}

func TestScanExtractsListeners(t *testing.T) {
	m, _ := scan(t, shopTree(t), scanner.Options{})

	got := m.ProcessListeners("Checkout")
	if len(got) != 2 {
		t.Fatalf("Checkout listeners = %+v", got)
	}
	// Sorted by consumed message: OrderPlaced < PlaceOrder.
	mailer, factory := got[0], got[1]
	if mailer.Key() != (model.ListenerKey{Consumes: "OrderPlaced", Container: "Mailer", Method: "Notify"}) {
		t.Errorf("first listener = %s", mailer.Key())
	}
	if mailer.Role != model.RoleStandalone || mailer.Aggregate != "" {
		t.Errorf("Mailer listener should be standalone, got %+v", mailer)
	}
	if factory.Aggregate != "Order" || factory.Role != model.RoleFactory {
		t.Errorf("factory listener = %+v", factory)
	}
	if diff := cmp.Diff([]string{"OrderPlaced"}, factory.Produces); diff != "" {
		t.Errorf("produces (-want +got):\n%s", diff)
	}
	if factory.Location.Line != 8 {
		t.Errorf("listener line = %d, want 8", factory.Location.Line)
	}
}

func TestScanExtractsMessagesAndProcesses(t *testing.T) {
	m, _ := scan(t, shopTree(t), scanner.Options{})

	var got []string
	for _, msg := range m.Messages() {
		got = append(got, string(msg.Kind)+" "+msg.Package+"."+msg.Name)
	}
	want := []string{"event shop.messages.OrderPlaced", "command shop.messages.PlaceOrder"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("messages (-want +got):\n%s", diff)
	}
	p, ok := m.Process("Checkout")
	if !ok || p.Package != "shop.process" {
		t.Errorf("process = %+v, %v", p, ok)
	}
}

func TestScanSkipsUnparsableFile(t *testing.T) {
	root := shopTree(t)
	writeFile(t, root, "shop/broken/broken.go", "package broken\n\nfunc {")

	m, s := scan(t, root, scanner.Options{})
	if len(m.Aggregates()) != 1 {
		t.Errorf("other files not scanned: %+v", m.Aggregates())
	}
	problems := s.Problems()
	if len(problems) != 1 || filepath.Base(problems[0].File) != "broken.go" {
		t.Errorf("problems = %v", problems)
	}
}

func TestScanExcludePatterns(t *testing.T) {
	root := shopTree(t)
	m, _ := scan(t, root, scanner.Options{Exclude: []string{"Read(./shop/mail/**)", "shop/order/adapters/**"}})
	if n := len(m.StandaloneListeners()); n != 0 {
		t.Errorf("excluded listener scanned: %d standalone", n)
	}
	order, _ := m.Aggregate("Order")
	if order.Source.HasAdapter("internal") {
		t.Error("excluded adapter scanned")
	}
}

func TestIncludeTreeMissingRoot(t *testing.T) {
	s := scanner.New(scanner.Options{})
	err := s.IncludeTree(filepath.Join(t.TempDir(), "missing"))
	if !errors.Is(err, failure.ErrInput) || !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("IncludeTree error = %v", err)
	}
}

func TestScanDuplicateAggregateFails(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a/order.go", "package a\n\n//grove:aggregate\ntype Order struct{}\n")
	writeFile(t, root, "b/order.go", "package b\n\n//grove:aggregate\ntype Order struct{}\n")
	s := scanner.New(scanner.Options{})
	if err := s.IncludeTree(root); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Model(); !errors.Is(err, failure.ErrInput) {
		t.Fatalf("Model error = %v, want input error", err)
	}
}

func TestScanIsDeterministic(t *testing.T) {
	root := shopTree(t)
	a, _ := scan(t, root, scanner.Options{})
	b, _ := scan(t, root, scanner.Options{})
	if diff := cmp.Diff(a.Signature(), b.Signature()); diff != "" {
		t.Errorf("signatures differ (-a +b):\n%s", diff)
	}
}
