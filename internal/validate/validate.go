// Package validate runs rule checkers over a scanned model and collects
// their findings.
//
// Findings are data, not failures: a Run always executes every checker and
// returns the complete message list. Whether the findings fail a build is
// decided by the caller through Result.Passed.
package validate

import (
	"fmt"
	"io"

	"go.uber.org/zap"

	"grove/internal/failure"
	"grove/internal/model"
	"grove/internal/resolver"
	"grove/internal/storage"
)

// Severity grades a finding.
type Severity string

const (
	Warning Severity = "WARNING"
	Error   Severity = "ERROR"
)

// Message is one finding.
type Message struct {
	Severity Severity
	Location model.Location
	Text     string
}

func (m Message) String() string {
	return fmt.Sprintf("%s: %s: %s", m.Location, m.Severity, m.Text)
}

// Result is the ordered list of findings of one run. The severity flags
// are updated as messages are added and never reset.
type Result struct {
	messages   []Message
	hasError   bool
	hasWarning bool
}

// Add appends a finding.
func (r *Result) Add(sev Severity, loc model.Location, format string, args ...any) {
	r.messages = append(r.messages, Message{Severity: sev, Location: loc, Text: fmt.Sprintf(format, args...)})
	switch sev {
	case Error:
		r.hasError = true
	case Warning:
		r.hasWarning = true
	}
}

func (r *Result) Errorf(loc model.Location, format string, args ...any) {
	r.Add(Error, loc, format, args...)
}

func (r *Result) Warnf(loc model.Location, format string, args ...any) {
	r.Add(Warning, loc, format, args...)
}

// Messages returns a copy of the findings in the order they were added.
func (r *Result) Messages() []Message { return append([]Message(nil), r.messages...) }

func (r *Result) HasError() bool   { return r.hasError }
func (r *Result) HasWarning() bool { return r.hasWarning }

// Passed reports whether the findings allow a build to proceed.
func (r *Result) Passed(failOnWarn bool) bool {
	return !r.hasError && (!failOnWarn || !r.hasWarning)
}

// Render writes one "<file>:<line>: <severity>: <text>" line per finding.
// A finding with any other severity is an internal error; nothing after it
// is written.
func (r *Result) Render(w io.Writer) error {
	for _, m := range r.messages {
		if m.Severity != Warning && m.Severity != Error {
			return failure.Internalf("validate", "unknown severity %q at %s", m.Severity, m.Location)
		}
		if _, err := fmt.Fprintln(w, m.String()); err != nil {
			return fmt.Errorf("validate: render: %w", err)
		}
	}
	return nil
}

// Checker is one independent rule. It reads the context and reports into
// the result; it must not depend on findings of other checkers.
type Checker interface {
	Name() string
	Check(ctx *Context, r *Result)
}

// Context is the read-only input shared by all checkers of a run.
type Context struct {
	Model *model.Model
	// Resolver is consulted for messages the model does not declare. It
	// may be nil.
	Resolver resolver.Resolver
	Storages storage.Set
}

// Config configures a Validator.
type Config struct {
	Model    *model.Model
	Resolver resolver.Resolver
	Storages storage.Set
	// Checkers replaces the default rule list when non-nil.
	Checkers []Checker
	Logger   *zap.Logger
}

// Validator runs a fixed list of checkers.
type Validator struct {
	ctx      Context
	checkers []Checker
	log      *zap.Logger
}

func New(cfg Config) (*Validator, error) {
	if cfg.Model == nil {
		return nil, failure.Configf("validate", "model is required")
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	checkers := cfg.Checkers
	if checkers == nil {
		var err error
		if checkers, err = DefaultCheckers(cfg.Storages); err != nil {
			return nil, err
		}
	}
	return &Validator{
		ctx:      Context{Model: cfg.Model, Resolver: cfg.Resolver, Storages: cfg.Storages},
		checkers: append([]Checker(nil), checkers...),
		log:      log.Named("validate"),
	}, nil
}

// Run executes every checker in registration order.
func (v *Validator) Run() *Result {
	r := &Result{}
	for _, c := range v.checkers {
		before := len(r.messages)
		c.Check(&v.ctx, r)
		v.log.Debug("checker finished", zap.String("checker", c.Name()), zap.Int("findings", len(r.messages)-before))
	}
	v.log.Info("validation finished",
		zap.Int("findings", len(r.messages)),
		zap.Bool("errors", r.hasError),
		zap.Bool("warnings", r.hasWarning))
	return r
}
