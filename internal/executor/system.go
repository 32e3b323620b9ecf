package executor

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/boneskull/midnight-smoker-sub006/internal/abort"
)

// System spawns real processes on the host.
type System struct {
	registry    *ProcessRegistry
	gracePeriod time.Duration
}

// SystemOption configures a System executor.
type SystemOption func(*System)

// WithGracePeriod sets the time between terminate and kill.
func WithGracePeriod(d time.Duration) SystemOption {
	return func(s *System) {
		s.gracePeriod = d
	}
}

// NewSystem creates a system executor that records its children in registry.
func NewSystem(registry *ProcessRegistry, opts ...SystemOption) *System {
	s := &System{registry: registry, gracePeriod: DefaultGracePeriod}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Exec runs the command to completion. Cancelling ctx sends a terminate
// request to the process group and kills it after the grace period; the
// call then returns an *abort.AbortError.
func (s *System) Exec(ctx context.Context, c Command) (*Result, error) {
	if err := abort.Check(ctx, "exec"); err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, c.Bin, c.Args...) //nolint:gosec // running package managers is the point
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	if len(c.Stdin) > 0 {
		cmd.Stdin = bytes.NewReader(c.Stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = s.gracePeriod
	prepare(cmd)

	result := &Result{Command: c.String(), Cwd: c.Dir}
	start := time.Now()

	if err := cmd.Start(); err != nil {
		if ctx.Err() != nil {
			return nil, abort.FromContext(ctx, "exec")
		}
		return nil, &SpawnError{Command: result.Command, Err: err}
	}

	id, err := s.registry.Register(cmd)
	if err != nil {
		_ = killGroup(cmd)
		_ = cmd.Wait()
		return nil, &SpawnError{Command: result.Command, Err: err}
	}
	defer s.registry.Dispose(id)

	slog.DebugContext(ctx, "spawned process", "pid", cmd.Process.Pid, "command", result.Command, "cwd", c.Dir)
	waitErr := cmd.Wait()

	result.Duration = time.Since(start)
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()

	if ctx.Err() != nil {
		// the leader is gone; make sure nothing in its group survives
		_ = killGroup(cmd)
		return result, abort.FromContext(ctx, "exec")
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return result, &SpawnError{Command: result.Command, Err: waitErr}
		}
		result.ExitCode = exitErr.ExitCode()
	}

	if result.Failed() && !c.AllowFailure {
		return result, &ExitError{Result: result}
	}
	return result, nil
}

// SystemDefinition exposes a System executor as a plugin component.
func SystemDefinition(s *System) *Definition {
	return &Definition{
		Name:        "system",
		Description: "Spawns processes on the host",
		Exec:        s.Exec,
	}
}
