package executor

import (
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"sync"
)

// ProcessRegistry tracks every child process spawned by the engine. Entries
// are added on spawn and removed on disposal; Shutdown forcibly terminates
// anything still present. One registry is created when the engine starts and
// drained when it exits; it is passed explicitly to every executor.
type ProcessRegistry struct {
	mu     sync.Mutex
	nextID uint64
	procs  map[uint64]*exec.Cmd
	closed bool
}

// NewProcessRegistry creates an empty registry.
func NewProcessRegistry() *ProcessRegistry {
	return &ProcessRegistry{procs: make(map[uint64]*exec.Cmd)}
}

// ErrRegistryClosed is returned when spawning after Shutdown.
var ErrRegistryClosed = errors.New("process registry is shut down")

// Register adds a started command and returns the handle used to dispose it.
func (r *ProcessRegistry) Register(cmd *exec.Cmd) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, ErrRegistryClosed
	}
	r.nextID++
	r.procs[r.nextID] = cmd
	return r.nextID, nil
}

// Dispose removes a finished command.
func (r *ProcessRegistry) Dispose(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.procs, id)
}

// Len returns the number of live processes.
func (r *ProcessRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.procs)
}

// Shutdown kills every registered process and refuses further registrations.
func (r *ProcessRegistry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	var errs error
	for id, cmd := range r.procs {
		if cmd.Process == nil {
			continue
		}
		slog.DebugContext(ctx, "killing leftover child process", "pid", cmd.Process.Pid, "command", cmd.String())
		if err := killGroup(cmd); err != nil {
			errs = errors.Join(errs, err)
		}
		delete(r.procs, id)
	}
	return errs
}
