// Package abort models cooperative cancellation. A run is cancelled through
// [context.WithCancelCause]; any operation that observes the cancellation
// reports an [*AbortError] that keeps the original cause.
package abort

import (
	"context"
	"errors"
	"fmt"
)

// ErrAborted is the reason used when cancellation carries no cause.
var ErrAborted = errors.New("aborted")

// AbortError reports that an operation stopped because its context was
// cancelled. Reason is the cause supplied to the cancel function, or the
// context error when none was supplied.
type AbortError struct {
	Reason error
	// Op names the interrupted operation, if known.
	Op string
}

func (e *AbortError) Error() string {
	reason := e.Reason
	if reason == nil {
		reason = ErrAborted
	}
	if e.Op != "" {
		return fmt.Sprintf("%s aborted: %v", e.Op, reason)
	}
	return fmt.Sprintf("aborted: %v", reason)
}

func (e *AbortError) Unwrap() error {
	return e.Reason
}

// Check returns an *AbortError if ctx has been cancelled, nil otherwise.
// It is called at every phase boundary and before starting a process.
func Check(ctx context.Context, op string) error {
	if ctx.Err() == nil {
		return nil
	}
	return FromContext(ctx, op)
}

// FromContext builds an *AbortError from the cause of ctx. It must only be
// called once ctx is done.
func FromContext(ctx context.Context, op string) *AbortError {
	cause := context.Cause(ctx)
	if cause == nil {
		cause = ctx.Err()
	}
	var existing *AbortError
	if errors.As(cause, &existing) {
		return &AbortError{Reason: existing.Reason, Op: op}
	}
	return &AbortError{Reason: cause, Op: op}
}

// Prefer returns an *AbortError if ctx was cancelled, regardless of err.
// Otherwise err is returned unchanged. A cancellation always takes precedence
// over the error produced by the operation it interrupted.
func Prefer(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return FromContext(ctx, op)
	}
	return err
}

// Is reports whether err is, or wraps, an *AbortError.
func Is(err error) bool {
	var aerr *AbortError
	return errors.As(err, &aerr)
}
