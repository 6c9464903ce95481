// Package failure defines the typed errors shared by every grove stage.
//
// Callers classify a failure with errors.Is against one of the kind
// sentinels; the concrete *Error also carries the failing operation and the
// underlying cause.
package failure

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInput marks malformed or unresolvable input (DSL text, source
	// tree, duplicate model elements).
	ErrInput = errors.New("invalid input")
	// ErrPrecondition marks a state of the target tree that forbids an
	// operation, e.g. an aggregate directory that already exists.
	ErrPrecondition = errors.New("precondition failed")
	// ErrConfig marks invalid or missing configuration.
	ErrConfig = errors.New("invalid configuration")
	// ErrPartialWrite marks a generation run that stopped after some files
	// were already written.
	ErrPartialWrite = errors.New("partial write")
	// ErrInternal marks a broken internal contract.
	ErrInternal = errors.New("internal error")
)

// Error is a classified failure.
type Error struct {
	Kind error
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.Error())
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind sentinel and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newf(kind error, op string, cause error, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...), Err: cause}
}

// Inputf returns an ErrInput failure.
func Inputf(op, format string, args ...any) error {
	return newf(ErrInput, op, nil, format, args...)
}

// Preconditionf returns an ErrPrecondition failure.
func Preconditionf(op, format string, args ...any) error {
	return newf(ErrPrecondition, op, nil, format, args...)
}

// Configf returns an ErrConfig failure.
func Configf(op, format string, args ...any) error {
	return newf(ErrConfig, op, nil, format, args...)
}

// Internalf returns an ErrInternal failure.
func Internalf(op, format string, args ...any) error {
	return newf(ErrInternal, op, nil, format, args...)
}

// Wrap classifies cause under kind. A nil cause yields nil.
func Wrap(kind error, op string, cause error, format string, args ...any) error {
	if cause == nil {
		return nil
	}
	return newf(kind, op, cause, format, args...)
}

// PartialWrite joins per-unit failures of a write phase. It returns nil when
// errs holds no error.
func PartialWrite(op string, errs []error) error {
	joined := errors.Join(errs...)
	if joined == nil {
		return nil
	}
	return &Error{
		Kind: ErrPartialWrite,
		Op:   op,
		Msg:  fmt.Sprintf("%d error(s)", countNonNil(errs)),
		Err:  joined,
	}
}

func countNonNil(errs []error) int {
	n := 0
	for _, err := range errs {
		if err != nil {
			n++
		}
	}
	return n
}
