package export

// export.go renders a model.Model as DSL text.
//
// Layout of the output:
//   aggregate blocks   sorted by name
//   command blocks     sorted by name
//   event blocks       sorted by name
//   process blocks     sorted by name, steps sorted by listener key
//
// External messages and standalone listeners have no DSL form and are left
// out. Rendering is pure; WriteFile is the only function touching disk.

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"

	"grove/internal/dsl"
	"grove/internal/failure"
	"grove/internal/model"
)

// Options selects what to export.
type Options struct {
	// Process restricts the output to one process and the aggregates and
	// messages its steps reference. Empty exports everything.
	Process string
}

// Export renders m. Equal models always render byte-identical text.
func Export(m *model.Model, opts Options) ([]byte, error) {
	sel, err := selectElements(m, opts)
	if err != nil {
		return nil, err
	}

	f := hclwrite.NewEmptyFile()
	body := f.Body()
	first := true
	block := func(typ, label string) *hclwrite.Body {
		if !first {
			body.AppendNewline()
		}
		first = false
		return body.AppendNewBlock(typ, []string{label}).Body()
	}

	for _, a := range sel.aggregates {
		b := block("aggregate", a.Name)
		if a.Package != "" {
			b.SetAttributeValue("package", cty.StringVal(a.Package))
		}
	}
	for _, msg := range sel.messages {
		b := block(string(msg.Kind), msg.Name)
		if msg.Package != "" {
			b.SetAttributeValue("package", cty.StringVal(msg.Package))
		}
	}
	for _, p := range sel.processes {
		pb := block("process", p.Name)
		for i, l := range sel.steps[p.Name] {
			if i > 0 {
				pb.AppendNewline()
			}
			writeStep(pb, l)
		}
	}
	return hclwrite.Format(f.Bytes()), nil
}

func writeStep(pb *hclwrite.Body, l model.MessageListener) {
	sb := pb.AppendNewBlock("step", []string{l.Consumes}).Body()
	sb.SetAttributeValue("aggregate", cty.StringVal(l.Aggregate))
	if action := dsl.ActionFor(l.Role); action != dsl.Update {
		sb.SetAttributeValue("action", cty.StringVal(string(action)))
	}
	if l.Method != model.DefaultMethod(l.Consumes) {
		sb.SetAttributeValue("method", cty.StringVal(l.Method))
	}
	if len(l.Produces) > 0 {
		vals := make([]cty.Value, len(l.Produces))
		for i, p := range l.Produces {
			vals[i] = cty.StringVal(p)
		}
		sb.SetAttributeValue("produces", cty.ListVal(vals))
	}
}

// ---------------------------------------------------------------------------
// Selection
// ---------------------------------------------------------------------------

type selection struct {
	aggregates []model.Aggregate
	messages   []model.Message
	processes  []model.ProcessModel
	steps      map[string][]model.MessageListener
}

func selectElements(m *model.Model, opts Options) (*selection, error) {
	sel := &selection{steps: make(map[string][]model.MessageListener)}

	if opts.Process == "" {
		sel.aggregates = m.Aggregates()
		sel.processes = m.Processes()
		for _, msg := range m.Messages() {
			if !msg.External {
				sel.messages = append(sel.messages, msg)
			}
		}
	} else {
		p, ok := m.Process(opts.Process)
		if !ok {
			return nil, failure.Inputf("export", "unknown process %q", opts.Process)
		}
		sel.processes = []model.ProcessModel{p}
		aggs := make(map[string]bool)
		msgs := make(map[string]bool)
		for _, l := range m.ProcessListeners(p.Name) {
			if l.Aggregate == "" {
				continue
			}
			aggs[l.Aggregate] = true
			msgs[l.Consumes] = true
			for _, name := range l.Produces {
				msgs[name] = true
			}
		}
		for _, a := range m.Aggregates() {
			if aggs[a.Name] {
				sel.aggregates = append(sel.aggregates, a)
			}
		}
		for _, msg := range m.Messages() {
			if msgs[msg.Name] && !msg.External {
				sel.messages = append(sel.messages, msg)
			}
		}
	}

	// Commands before events, each group by name.
	sort.SliceStable(sel.messages, func(i, j int) bool {
		if sel.messages[i].Kind != sel.messages[j].Kind {
			return sel.messages[i].Kind == model.Command
		}
		return sel.messages[i].Name < sel.messages[j].Name
	})

	for _, p := range sel.processes {
		for _, l := range m.ProcessListeners(p.Name) {
			if l.Aggregate != "" {
				sel.steps[p.Name] = append(sel.steps[p.Name], l)
			}
		}
	}
	return sel, nil
}

// WriteFile writes exported text to path, creating parent directories.
func WriteFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("export: mkdir %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("export: write %s: %w", path, err)
	}
	return nil
}
