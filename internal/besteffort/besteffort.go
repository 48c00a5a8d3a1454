// Package besteffort holds the outcome of side effects whose failure must not fail
// the operation that triggered them.
//
// A Result is not an error: it cannot be returned where an error is
// expected, and a failed Result does not carry the primary operation's status.
package besteffort

import "fmt"

// State of a best-effort attempt.
type State string

const (
	Skipped   State = "skipped"
	Succeeded State = "succeeded"
	Failed    State = "failed"
)

// Result is the outcome of a best-effort side effect producing a T.
type Result[T any] struct {
	State  State  `json:"state"`
	Value  T      `json:"value,omitempty"`
	Reason string `json:"reason,omitempty"`
	err    error
}

// Ok records a successful attempt.
func Ok[T any](v T) Result[T] {
	return Result[T]{State: Succeeded, Value: v}
}

// Fail records a swallowed failure.
func Fail[T any](err error) Result[T] {
	r := Result[T]{State: Failed, err: err}
	if err != nil {
		r.Reason = err.Error()
	}
	return r
}

// Skip records that the side effect was not needed.
func Skip[T any](reason string) Result[T] {
	return Result[T]{State: Skipped, Reason: reason}
}

func (r Result[T]) Succeeded() bool { return r.State == Succeeded }
func (r Result[T]) Failed() bool    { return r.State == Failed }

// Cause exposes the swallowed error for logging and tests.
func (r Result[T]) Cause() error { return r.err }

func (r Result[T]) String() string {
	if r.Reason == "" {
		return string(r.State)
	}
	return fmt.Sprintf("%s: %s", r.State, r.Reason)
}
