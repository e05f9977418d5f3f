// Package pipeline models the outcome of a staged transform that may succeed,
// succeed partially, or fail.
package pipeline

import (
	"fmt"
	"strings"
)

// Severity grades a failure.
type Severity int

const (
	// Warning failures are recoverable: downstream stages may still use the
	// partial value and callers should keep their prior good state.
	Warning Severity = iota
	// Fatal failures abort the current item and carry no usable value.
	Fatal
)

// String returns the lower-case severity name.
func (s Severity) String() string {
	switch s {
	case Warning:
		return "warning"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Failure carries a severity and the messages that explain it.
type Failure struct {
	Severity Severity
	Messages []string
}

// NewFailure builds a failure from one or more messages.
func NewFailure(severity Severity, messages ...string) *Failure {
	return &Failure{Severity: severity, Messages: append([]string(nil), messages...)}
}

// Error implements the error interface.
func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Severity, strings.Join(f.Messages, "; "))
}

// Result is one of Success(value), RecoverableFailure(partial, failure) or
// Failure(failure). The zero value is a successful result holding the zero T.
type Result[T any] struct {
	value   T
	failure *Failure
	partial bool
}

// Success wraps a value produced without problems.
func Success[T any](value T) Result[T] {
	return Result[T]{value: value}
}

// RecoverableFailure wraps a best-effort value and the reason it is partial.
// The failure is always reported as a Warning.
func RecoverableFailure[T any](partial T, messages ...string) Result[T] {
	return Result[T]{
		value:   partial,
		failure: NewFailure(Warning, messages...),
		partial: true,
	}
}

// Failed wraps a failure with no usable value.
func Failed[T any](severity Severity, messages ...string) Result[T] {
	return Result[T]{failure: NewFailure(severity, messages...)}
}

// Succeeded reports whether the result carries no failure at all.
func (r Result[T]) Succeeded() bool {
	return r.failure == nil
}

// Failed reports whether the result carries no usable value.
func (r Result[T]) Failed() bool {
	return r.failure != nil && !r.partial
}

// Recoverable reports whether the result is a partial value plus a warning.
func (r Result[T]) Recoverable() bool {
	return r.partial
}

// Value returns the carried value and whether it is usable. Failed results
// always report false.
func (r Result[T]) Value() (T, bool) {
	if r.Failed() {
		var zero T
		return zero, false
	}
	return r.value, true
}

// Failure returns the attached failure, or nil on success.
func (r Result[T]) Failure() *Failure {
	return r.failure
}

// Severity returns the failure severity. It panics on a successful result,
// check Succeeded first.
func (r Result[T]) Severity() Severity {
	return r.failure.Severity
}

// Messages returns the failure messages, or nil on success.
func (r Result[T]) Messages() []string {
	if r.failure == nil {
		return nil
	}
	return r.failure.Messages
}

// Collect aggregates per-item results. Any Fatal failure makes the aggregate a
// Fatal failure carrying every message. Otherwise every usable value is kept
// and any warnings make the aggregate recoverable.
func Collect[T any](results []Result[T]) Result[[]T] {
	values := make([]T, 0, len(results))
	var warnings, fatals []string

	for _, r := range results {
		if f := r.Failure(); f != nil {
			if f.Severity == Fatal {
				fatals = append(fatals, f.Messages...)
			} else {
				warnings = append(warnings, f.Messages...)
			}
		}
		if v, ok := r.Value(); ok {
			values = append(values, v)
		}
	}

	switch {
	case len(fatals) > 0:
		return Failed[[]T](Fatal, append(fatals, warnings...)...)
	case len(warnings) > 0:
		return RecoverableFailure(values, warnings...)
	default:
		return Success(values)
	}
}
