// Package context carries the centrally created objects of the CLI through
// cobra's command context.
package context

import (
	"context"
	"sync"

	"github.com/spf13/cobra"

	v1 "github.com/boneskull/midnight-smoker-sub006/internal/configuration/v1"
	"github.com/boneskull/midnight-smoker-sub006/internal/executor"
	"github.com/boneskull/midnight-smoker-sub006/internal/plugin"
)

type ctxKey string

const key ctxKey = "github.com/boneskull/midnight-smoker-sub006/internal/context"

// Context holds pointers to structures that are created once by the
// pre-run hook and shared by every command.
type Context struct {
	mu sync.RWMutex

	// configuration is never nil after the pre-run hook; a missing file
	// yields an empty configuration.
	configuration     *v1.Config
	configurationPath string

	// registry is sealed once the plugins are loaded.
	registry *plugin.Registry

	// executor spawns every child process; processes tracks them so that
	// they can be killed on exit.
	executor  *executor.System
	processes *executor.ProcessRegistry
}

// WithConfiguration stores the configuration and the file it came from,
// which is empty when no file was found.
func WithConfiguration(ctx context.Context, cfg *v1.Config, path string) context.Context {
	ctx, smokerctx := retrieveOrCreate(ctx)
	smokerctx.mu.Lock()
	defer smokerctx.mu.Unlock()
	smokerctx.configuration = cfg
	smokerctx.configurationPath = path
	return ctx
}

// WithRegistry stores the component registry.
func WithRegistry(ctx context.Context, reg *plugin.Registry) context.Context {
	ctx, smokerctx := retrieveOrCreate(ctx)
	smokerctx.mu.Lock()
	defer smokerctx.mu.Unlock()
	smokerctx.registry = reg
	return ctx
}

// WithExecutor stores the system executor and its process registry.
func WithExecutor(ctx context.Context, exec *executor.System, processes *executor.ProcessRegistry) context.Context {
	ctx, smokerctx := retrieveOrCreate(ctx)
	smokerctx.mu.Lock()
	defer smokerctx.mu.Unlock()
	smokerctx.executor = exec
	smokerctx.processes = processes
	return ctx
}

// Register makes sure cmd carries a Context.
func Register(cmd *cobra.Command) {
	ctx, _ := retrieveOrCreate(cmd.Context())
	cmd.SetContext(ctx)
}

func (ctx *Context) Configuration() *v1.Config {
	if ctx == nil {
		return nil
	}
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()
	return ctx.configuration
}

func (ctx *Context) ConfigurationPath() string {
	if ctx == nil {
		return ""
	}
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()
	return ctx.configurationPath
}

func (ctx *Context) Registry() *plugin.Registry {
	if ctx == nil {
		return nil
	}
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()
	return ctx.registry
}

func (ctx *Context) Executor() *executor.System {
	if ctx == nil {
		return nil
	}
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()
	return ctx.executor
}

func (ctx *Context) Processes() *executor.ProcessRegistry {
	if ctx == nil {
		return nil
	}
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()
	return ctx.processes
}

// FromContext returns the Context stored in ctx, or nil.
func FromContext(ctx context.Context) *Context {
	if ctx == nil {
		return nil
	}
	if v, ok := ctx.Value(key).(*Context); ok {
		return v
	}
	return nil
}

// WithContext stores c in ctx.
func WithContext(ctx context.Context, c *Context) context.Context {
	if c == nil {
		return ctx
	}
	return context.WithValue(ctx, key, c)
}

func retrieveOrCreate(ctx context.Context) (context.Context, *Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	smokerctx := FromContext(ctx)
	if smokerctx == nil {
		smokerctx = &Context{}
		ctx = WithContext(ctx, smokerctx)
	}
	return ctx, smokerctx
}
