package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"grove/internal/model"
)

// question is one interactive prompt.
type question struct {
	Key    string
	Prompt string
	// Check rejects an answer; the prompt stays on the question.
	Check func(string) error
	// Default proposes an answer from the earlier ones. An empty entry
	// takes it.
	Default func(answers map[string]string) string
}

// aggregateQuestions asks for what add-aggregate lacks. With pkg set only
// the name is asked.
func aggregateQuestions(base, pkg string) []question {
	qs := []question{{
		Key:    "name",
		Prompt: "Aggregate name",
		Check: func(s string) error {
			if !model.ValidTypeName(s) {
				return fmt.Errorf("%q is not an exported Go identifier", s)
			}
			return nil
		},
	}}
	if pkg != "" {
		return qs
	}
	pq := question{
		Key:    "package",
		Prompt: "Package",
		Check: func(s string) error {
			if s == "" {
				return fmt.Errorf("a package is required without base_package")
			}
			if !model.ValidPackage(s) {
				return fmt.Errorf("%q is not a dotted Go package name", s)
			}
			return nil
		},
	}
	if base != "" {
		pq.Default = func(answers map[string]string) string {
			return base + "." + strings.ToLower(answers["name"])
		}
	}
	return append(qs, pq)
}

// ---------------------------------------------------------------------------
// TUI prompt helpers
// ---------------------------------------------------------------------------

// promptModel asks one question at a time and keeps the cursor on a
// question until its answer passes Check.
type promptModel struct {
	questions []question
	idx       int
	inputs    []textinput.Model
	// def is the default of the current question.
	def  string
	err  error
	done bool
}

func newPromptModel(questions []question) promptModel {
	inputs := make([]textinput.Model, len(questions))
	for i := range questions {
		ti := textinput.New()
		ti.CharLimit = 256
		inputs[i] = ti
	}
	m := promptModel{questions: questions, inputs: inputs}
	if len(inputs) > 0 {
		m.enter(0)
	}
	return m
}

// enter focuses question i and computes its default.
func (m *promptModel) enter(i int) {
	m.idx = i
	m.def = ""
	if d := m.questions[i].Default; d != nil {
		m.def = d(m.answers())
		m.inputs[i].Placeholder = m.def
	}
	m.inputs[i].Focus()
}

func (m promptModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m promptModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			return m.submit()
		}
	}
	var cmd tea.Cmd
	m.inputs[m.idx], cmd = m.inputs[m.idx].Update(msg)
	return m, cmd
}

// submit accepts the current answer, or keeps the question open with the
// reason it was rejected.
func (m promptModel) submit() (tea.Model, tea.Cmd) {
	in := &m.inputs[m.idx]
	v := strings.TrimSpace(in.Value())
	if v == "" {
		v = m.def
	}
	if check := m.questions[m.idx].Check; check != nil {
		if err := check(v); err != nil {
			m.err = err
			return m, nil
		}
	}
	in.SetValue(v)
	in.Blur()
	m.err = nil
	if m.idx < len(m.inputs)-1 {
		m.enter(m.idx + 1)
		return m, textinput.Blink
	}
	m.done = true
	return m, tea.Quit
}

func (m promptModel) View() string {
	if m.done || len(m.questions) == 0 {
		return ""
	}
	q := m.questions[m.idx]
	label := q.Prompt
	if m.def != "" {
		label = fmt.Sprintf("%s [%s]", q.Prompt, m.def)
	}
	v := fmt.Sprintf("%s: %s\n", label, m.inputs[m.idx].View())
	if m.err != nil {
		v += fmt.Sprintf("  %v\n", m.err)
	}
	return v
}

// answers returns the entered values keyed by question key.
func (m promptModel) answers() map[string]string {
	out := make(map[string]string, len(m.questions))
	for i, q := range m.questions {
		out[q.Key] = strings.TrimSpace(m.inputs[i].Value())
	}
	return out
}

// promptQuestions runs the TUI and returns answers keyed by question key.
func promptQuestions(questions []question) (map[string]string, error) {
	if len(questions) == 0 {
		return map[string]string{}, nil
	}
	result, err := tea.NewProgram(newPromptModel(questions)).Run()
	if err != nil {
		return nil, err
	}
	final, ok := result.(promptModel)
	if !ok || !final.done {
		return nil, fmt.Errorf("prompt cancelled")
	}
	return final.answers(), nil
}
