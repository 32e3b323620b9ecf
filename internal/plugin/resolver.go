package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/boneskull/midnight-smoker-sub006/internal/abort"
	"github.com/boneskull/midnight-smoker-sub006/internal/result"
)

// Resolved is a loaded plugin ready for registration.
type Resolved struct {
	Metadata Metadata
	Module   Module
}

// Resolver resolves plugin references with a Loader.
type Resolver struct {
	loader Loader
	cwd    string
	exeDir string
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithWorkingDir replaces os.Getwd as the first base directory.
func WithWorkingDir(dir string) ResolverOption {
	return func(r *Resolver) { r.cwd = dir }
}

// WithExecutableDir replaces the directory of os.Executable as the second
// base directory.
func WithExecutableDir(dir string) ResolverOption {
	return func(r *Resolver) { r.exeDir = dir }
}

// NewResolver creates a Resolver.
func NewResolver(loader Loader, opts ...ResolverOption) *Resolver {
	r := &Resolver{loader: loader}
	for _, opt := range opts {
		opt(r)
	}
	if r.cwd == "" {
		if wd, err := os.Getwd(); err == nil {
			r.cwd = wd
		}
	}
	if r.exeDir == "" {
		if exe, err := os.Executable(); err == nil {
			r.exeDir = filepath.Dir(exe)
		}
	}
	return r
}

// bases returns the directories ref is resolved against, in order.
func (r *Resolver) bases(ref string) []string {
	if filepath.IsAbs(ref) {
		return []string{filepath.Dir(ref)}
	}
	var out []string
	for _, dir := range []string{r.cwd, r.exeDir} {
		if dir != "" && (len(out) == 0 || out[len(out)-1] != dir) {
			out = append(out, dir)
		}
	}
	return out
}

// Resolve loads ref, first relative to the working directory, then relative
// to the executable. The three failure classes are distinct error types:
// *UnresolvablePluginError, *PluginImportError and *InvalidPluginError.
func (r *Resolver) Resolve(ctx context.Context, ref string) result.Output[Resolved] {
	if err := abort.Check(ctx, "resolve plugin "+ref); err != nil {
		return result.Error[Resolved](err)
	}
	bases := r.bases(ref)
	for _, from := range bases {
		out := result.Capture(func() (*Loaded, error) {
			return r.loader.Load(ctx, ref, from)
		})
		if out.IsError() {
			if errors.Is(out.Err, ErrModuleNotFound) {
				slog.DebugContext(ctx, "plugin not found", "ref", ref, "from", from)
				continue
			}
			return result.Error[Resolved](&PluginImportError{Ref: ref, Cause: abort.Prefer(ctx, "load plugin "+ref, out.Err)})
		}
		return r.resolved(ref, out.Value)
	}
	return result.Error[Resolved](&UnresolvablePluginError{Ref: ref, Tried: bases})
}

func (r *Resolver) resolved(ref string, loaded *Loaded) result.Output[Resolved] {
	if loaded == nil {
		return result.Error[Resolved](&PluginImportError{Ref: ref, Cause: errors.New("loader returned nothing")})
	}
	mod, ok := loaded.Export.(Module)
	if !ok {
		return result.Error[Resolved](&InvalidPluginError{Ref: ref, EntryPoint: loaded.EntryPoint, Export: loaded.Export})
	}
	var md Metadata
	if loaded.Metadata != nil {
		md = *loaded.Metadata
	} else {
		var err error
		md, err = NewMetadata(loaded.EntryPoint)
		if err != nil {
			return result.Error[Resolved](&PluginImportError{Ref: ref, EntryPoint: loaded.EntryPoint, Cause: fmt.Errorf("failed to read plugin metadata: %w", err)})
		}
	}
	return result.Ok(Resolved{Metadata: md, Module: mod})
}

// Load resolves every reference and registers the result, stopping at the
// first failure.
func Load(ctx context.Context, res *Resolver, reg *Registry, refs ...string) error {
	for _, ref := range refs {
		resolved, err := res.Resolve(ctx, ref).Unwrap()
		if err != nil {
			return err
		}
		if _, err := reg.RegisterPlugin(ctx, resolved.Metadata, resolved.Module).Unwrap(); err != nil {
			return err
		}
	}
	return nil
}
