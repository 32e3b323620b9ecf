// Package result provides the two-shaped outcome returned by every unit of
// work that crosses a recoverable boundary: resolving or registering a plugin,
// packing, installing, running a script or checking a rule.
//
// An Output is either Ok, carrying a value, or Error, carrying an error and
// optionally a partial value. Callers switch on [Output.Type] or use the
// accessors; an Output never hides a panic, see [Capture].
package result

import (
	"fmt"
)

// Type discriminates the two shapes of an Output.
type Type string

const (
	TypeOk    Type = "ok"
	TypeError Type = "error"
)

// Output is the universal result of an asynchronous unit of work.
type Output[T any] struct {
	Type  Type
	Value T
	Err   error
}

// Ok wraps a successful value.
func Ok[T any](value T) Output[T] {
	return Output[T]{Type: TypeOk, Value: value}
}

// Error wraps a failure. The partial value may be the zero value.
func Error[T any](err error, partial ...T) Output[T] {
	out := Output[T]{Type: TypeError, Err: err}
	if len(partial) > 0 {
		out.Value = partial[0]
	}
	if out.Err == nil {
		out.Err = fmt.Errorf("unknown error")
	}
	return out
}

// From converts a conventional (value, error) pair into an Output.
func From[T any](value T, err error) Output[T] {
	if err != nil {
		return Error(err, value)
	}
	return Ok(value)
}

func (o Output[T]) IsOk() bool {
	return o.Type == TypeOk
}

func (o Output[T]) IsError() bool {
	return o.Type == TypeError
}

// Unwrap returns the conventional (value, error) pair.
func (o Output[T]) Unwrap() (T, error) {
	if o.IsError() {
		return o.Value, o.Err
	}
	return o.Value, nil
}

// PanicError is produced by Capture when the guarded function panics.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	if err, ok := e.Value.(error); ok {
		return fmt.Sprintf("panic: %v", err)
	}
	return fmt.Sprintf("panic: %v", e.Value)
}

func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Capture runs fn and converts both returned errors and panics into an
// Output. It is used wherever plugin-supplied code is invoked so that
// misbehaving plugins cannot unwind through the engine.
func Capture[T any](fn func() (T, error)) (out Output[T]) {
	defer func() {
		if r := recover(); r != nil {
			out = Error[T](&PanicError{Value: r})
		}
	}()
	return From(fn())
}
