package model_test

// model_test.go covers Builder validation, accessor ordering and the
// structural signature.

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"grove/internal/failure"
	"grove/internal/model"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func orderFacts() (model.Aggregate, model.Aggregate, []model.MessageListener) {
	order := model.Aggregate{Package: "shop.order", Name: "Order"}
	invoice := model.Aggregate{Package: "shop.billing", Name: "Invoice"}
	listeners := []model.MessageListener{
		{Consumes: "PlaceOrder", Container: "OrderFactory", Method: "Place", Aggregate: "Order",
			Role: model.RoleFactory, Processes: []string{"Checkout"}, Produces: []string{"OrderPlaced"}},
		{Consumes: "OrderPlaced", Container: "Invoice", Method: "OnOrderPlaced", Aggregate: "Invoice",
			Role: model.RoleRoot, Processes: []string{"Checkout", "Billing", "Checkout"}},
		{Consumes: "OrderPlaced", Container: "Mailer", Method: "Notify"},
	}
	return order, invoice, listeners
}

func build(t *testing.T, reverse bool) *model.Model {
	t.Helper()
	order, invoice, listeners := orderFacts()
	b := model.NewBuilder()
	if reverse {
		for i := len(listeners) - 1; i >= 0; i-- {
			b.AddListener(listeners[i])
		}
		b.PutAggregate(invoice)
		b.PutAggregate(order)
	} else {
		b.PutAggregate(order)
		b.PutAggregate(invoice)
		for _, l := range listeners {
			b.AddListener(l)
		}
	}
	b.PutMessage(model.Message{Package: "shop.messages", Name: "PlaceOrder", Kind: model.Command})
	b.PutMessage(model.Message{Package: "shop.messages", Name: "OrderPlaced", Kind: model.Event})
	m, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return m
}

// ---------------------------------------------------------------------------
// Builder
// ---------------------------------------------------------------------------

func TestBuildRejectsDuplicateAggregate(t *testing.T) {
	b := model.NewBuilder()
	b.PutAggregate(model.Aggregate{Package: "a", Name: "Order"})
	b.PutAggregate(model.Aggregate{Package: "b", Name: "Order"})
	_, err := b.Build()
	if !errors.Is(err, failure.ErrInput) {
		t.Fatalf("Build error = %v, want input error", err)
	}
	if !strings.Contains(err.Error(), `duplicate aggregate "Order"`) {
		t.Errorf("error %q does not name the aggregate", err)
	}
}

func TestBuildRejectsDuplicateListener(t *testing.T) {
	b := model.NewBuilder()
	b.PutAggregate(model.Aggregate{Package: "shop.order", Name: "Order"})
	l := model.MessageListener{Consumes: "Ship", Container: "Order", Method: "OnShip", Aggregate: "Order", Role: model.RoleRoot}
	b.AddListener(l)
	b.AddListener(l)
	if _, err := b.Build(); !errors.Is(err, failure.ErrInput) {
		t.Fatalf("Build error = %v, want input error", err)
	}
}

func TestBuildRejectsUnknownAggregate(t *testing.T) {
	b := model.NewBuilder()
	b.AddListener(model.MessageListener{Consumes: "Ship", Container: "Order", Method: "OnShip", Aggregate: "Order"})
	if _, err := b.Build(); err == nil {
		t.Fatal("expected error for listener of unregistered aggregate")
	}
}

func TestBuildRejectsConflictingMessage(t *testing.T) {
	b := model.NewBuilder()
	b.PutMessage(model.Message{Package: "m", Name: "Ship", Kind: model.Command})
	b.PutMessage(model.Message{Package: "m", Name: "Ship", Kind: model.Event})
	if _, err := b.Build(); err == nil {
		t.Fatal("expected error for message declared with two kinds")
	}
}

func TestBuildDeclaresReferencedProcesses(t *testing.T) {
	m := build(t, false)
	var names []string
	for _, p := range m.Processes() {
		names = append(names, p.Name)
	}
	if diff := cmp.Diff([]string{"Billing", "Checkout"}, names); diff != "" {
		t.Errorf("processes (-want +got):\n%s", diff)
	}
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

func TestProcessListenersIgnoresRegistrationOrder(t *testing.T) {
	a := build(t, false)
	b := build(t, true)
	if diff := cmp.Diff(a.ProcessListeners("Checkout"), b.ProcessListeners("Checkout")); diff != "" {
		t.Errorf("ProcessListeners differ by registration order (-a +b):\n%s", diff)
	}
	if !model.Equivalent(a, b) {
		t.Errorf("models differ:\n%s\n---\n%s", a.Signature(), b.Signature())
	}
}

func TestProcessListenersSortedByKey(t *testing.T) {
	m := build(t, false)
	got := m.ProcessListeners("Checkout")
	var keys []string
	for _, l := range got {
		keys = append(keys, l.Key().String())
	}
	want := []string{"Invoice.OnOrderPlaced(OrderPlaced)", "OrderFactory.Place(PlaceOrder)"}
	if diff := cmp.Diff(want, keys); diff != "" {
		t.Errorf("keys (-want +got):\n%s", diff)
	}
}

func TestListenerProcessesNormalized(t *testing.T) {
	m := build(t, false)
	l, ok := m.Listener(model.ListenerKey{Consumes: "OrderPlaced", Container: "Invoice", Method: "OnOrderPlaced"})
	if !ok {
		t.Fatal("listener not found")
	}
	if diff := cmp.Diff([]string{"Billing", "Checkout"}, l.Processes); diff != "" {
		t.Errorf("processes (-want +got):\n%s", diff)
	}
}

func TestStandaloneListeners(t *testing.T) {
	m := build(t, false)
	sl := m.StandaloneListeners()
	if len(sl) != 1 || sl[0].Container != "Mailer" || sl[0].Role != model.RoleStandalone {
		t.Fatalf("standalone = %+v", sl)
	}
	if n := len(m.MessageListeners()); n != 3 {
		t.Errorf("MessageListeners() = %d, want 3", n)
	}
}

func TestAccessorsReturnCopies(t *testing.T) {
	m := build(t, false)
	aggs := m.Aggregates()
	aggs[0].Name = "Mutated"
	aggs[0].Listeners[0].Processes[0] = "Mutated"
	again := m.Aggregates()
	if again[0].Name == "Mutated" || again[0].Listeners[0].Processes[0] == "Mutated" {
		t.Error("mutating an accessor result changed the model")
	}
}

// ---------------------------------------------------------------------------
// Signature
// ---------------------------------------------------------------------------

func TestSignatureIgnoresExternalMessagesAndLocations(t *testing.T) {
	b1 := model.NewBuilder()
	b1.PutAggregate(model.Aggregate{Package: "shop.order", Name: "Order",
		Source: &model.SourceFacts{Root: model.Location{File: "order.go", Line: 3}}})
	b1.PutMessage(model.Message{Package: "ext", Name: "Tick", Kind: model.Event, External: true})
	m1, err := b1.Build()
	if err != nil {
		t.Fatal(err)
	}

	b2 := model.NewBuilder()
	b2.PutAggregate(model.Aggregate{Package: "shop.order", Name: "Order"})
	m2, err := b2.Build()
	if err != nil {
		t.Fatal(err)
	}
	if !model.Equivalent(m1, m2) {
		t.Errorf("signatures differ:\n%s\n---\n%s", m1.Signature(), m2.Signature())
	}
}

func TestYAMLSnapshot(t *testing.T) {
	data, err := build(t, false).YAML()
	if err != nil {
		t.Fatalf("YAML: %v", err)
	}
	for _, want := range []string{"name: Order", "package: shop.order", "kind: event", "OrderFactory.Place(PlaceOrder)"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("snapshot missing %q:\n%s", want, data)
		}
	}
}

// ---------------------------------------------------------------------------
// Names
// ---------------------------------------------------------------------------

func TestPackageDirRoundTrip(t *testing.T) {
	for _, pkg := range []string{"shop", "shop.order", "a.b.c"} {
		if got := model.PackageFromDir(model.PackageDir(pkg)); got != pkg {
			t.Errorf("PackageFromDir(PackageDir(%q)) = %q", pkg, got)
		}
	}
	if got := model.PackageFromDir("."); got != "" {
		t.Errorf("root dir package = %q, want empty", got)
	}
}

func TestValidPackage(t *testing.T) {
	tests := []struct {
		pkg  string
		want bool
	}{
		{"shop.order", true},
		{"shop", true},
		{"", false},
		{"shop..order", false},
		{"shop.func", false},
		{"shop.1order", false},
	}
	for _, tc := range tests {
		if got := model.ValidPackage(tc.pkg); got != tc.want {
			t.Errorf("ValidPackage(%q) = %v, want %v", tc.pkg, got, tc.want)
		}
	}
}

func TestSnakeCase(t *testing.T) {
	tests := map[string]string{
		"Order":           "order",
		"OrderID":         "order_id",
		"OrderRepository": "order_repository",
		"HTTPServer":      "http_server",
		"Order2Factory":   "order2_factory",
	}
	for in, want := range tests {
		if got := model.SnakeCase(in); got != want {
			t.Errorf("SnakeCase(%q) = %q, want %q", in, got, want)
		}
	}
}
