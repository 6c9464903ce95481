package marker_test

import (
	"go/ast"
	"testing"

	"github.com/google/go-cmp/cmp"

	"grove/internal/marker"
)

func TestParseLine(t *testing.T) {
	d, ok := marker.ParseLine("//grove:listener processes=Checkout, Billing produces=OrderPlaced")
	if !ok {
		t.Fatal("directive not recognized")
	}
	if d.Kind != marker.Listener {
		t.Errorf("Kind = %q", d.Kind)
	}
	// "Billing" is a separate field and becomes a bare key.
	if diff := cmp.Diff([]string{"Checkout"}, d.List("processes")); diff != "" {
		t.Errorf("processes (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"OrderPlaced"}, d.List("produces")); diff != "" {
		t.Errorf("produces (-want +got):\n%s", diff)
	}
}

func TestParseLineIgnoresOrdinaryComments(t *testing.T) {
	for _, line := range []string{"// grove:aggregate", "//go:generate x", "//grove:", "// plain"} {
		if _, ok := marker.ParseLine(line); ok {
			t.Errorf("ParseLine(%q) recognized a directive", line)
		}
	}
}

func TestStringRoundTrip(t *testing.T) {
	d := marker.New(marker.Listener, map[string][]string{
		"produces":  {"OrderPlaced", "StockReserved"},
		"processes": {"Checkout"},
		"empty":     nil,
	})
	line := d.String()
	want := "//grove:listener processes=Checkout produces=OrderPlaced,StockReserved"
	if line != want {
		t.Fatalf("String() = %q, want %q", line, want)
	}
	back, ok := marker.ParseLine(line)
	if !ok {
		t.Fatal("rendered directive not parseable")
	}
	if diff := cmp.Diff(d, back); diff != "" {
		t.Errorf("round trip (-want +got):\n%s", diff)
	}
}

func TestParseAndFind(t *testing.T) {
	doc := &ast.CommentGroup{List: []*ast.Comment{
		{Text: "// Order is the aggregate root."},
		{Text: "//grove:aggregate"},
	}}
	ds := marker.Parse(nil, doc)
	if _, ok := marker.Find(ds, marker.Aggregate); !ok {
		t.Errorf("aggregate directive not found in %+v", ds)
	}
	if _, ok := marker.Find(ds, marker.Event); ok {
		t.Error("unexpected event directive")
	}
}
