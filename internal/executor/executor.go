// Package executor runs external processes on behalf of package-manager
// adapters. Executors are plugin components; the built-in "system" executor
// spawns real processes, tracks them in a [ProcessRegistry] and terminates
// them cooperatively when their context is cancelled.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kballard/go-shellquote"
)

// DefaultGracePeriod is the time a process is given between the terminate
// request and the kill.
const DefaultGracePeriod = 5 * time.Second

// Command describes one process invocation.
type Command struct {
	Bin  string
	Args []string
	// Dir is the working directory; empty means the current one.
	Dir string
	// Env is appended to the environment of the engine.
	Env []string
	// Stdin is written to the process' standard input.
	Stdin []byte
	// AllowFailure disables the conversion of a non-zero exit into an
	// *ExitError.
	AllowFailure bool
}

func (c Command) String() string {
	return shellquote.Join(append([]string{c.Bin}, c.Args...)...)
}

// Result is the outcome of a finished process.
type Result struct {
	Command  string        `json:"command"`
	Cwd      string        `json:"cwd,omitempty"`
	ExitCode int           `json:"exitCode"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	Duration time.Duration `json:"duration"`
}

// Failed reports whether the process exited non-zero.
func (r *Result) Failed() bool {
	return r.ExitCode != 0
}

// ExitError is returned when a process exits non-zero and the command did
// not allow failure.
type ExitError struct {
	Result *Result
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command %q exited with code %d", e.Result.Command, e.Result.ExitCode)
}

// SpawnError is returned when a process could not be started at all.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn %q: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// Executor runs commands.
type Executor interface {
	Exec(ctx context.Context, cmd Command) (*Result, error)
}

// ExecFunc adapts a function to an Executor.
type ExecFunc func(ctx context.Context, cmd Command) (*Result, error)

func (f ExecFunc) Exec(ctx context.Context, cmd Command) (*Result, error) {
	return f(ctx, cmd)
}

// Definition is the plugin-facing definition of an executor component.
type Definition struct {
	Name        string
	Description string
	Exec        ExecFunc
}

// Validate checks the required fields of the definition.
func (d *Definition) Validate() error {
	var errs []error
	if d.Name == "" {
		errs = append(errs, errors.New("executor name is required"))
	}
	if d.Description == "" {
		errs = append(errs, fmt.Errorf("executor %q: description is required", d.Name))
	}
	if d.Exec == nil {
		errs = append(errs, fmt.Errorf("executor %q: exec function is required", d.Name))
	}
	return errors.Join(errs...)
}
