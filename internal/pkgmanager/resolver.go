package pkgmanager

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"slices"

	"github.com/boneskull/midnight-smoker-sub006/internal/abort"
	"github.com/boneskull/midnight-smoker-sub006/internal/component"
	"github.com/boneskull/midnight-smoker-sub006/internal/executor"
	"github.com/boneskull/midnight-smoker-sub006/internal/version"
)

// DefaultName is the adapter preferred when "system" is requested without a
// name.
const DefaultName = "npm"

// Candidate is an adapter available for resolution.
type Candidate struct {
	Component component.Component
	Adapter   *Definition
}

// LookPathFunc finds an executable on the host.
type LookPathFunc func(file string) (string, error)

// Resolver turns desired specifiers into envelopes.
type Resolver struct {
	candidates  []Candidate
	exec        executor.Executor
	lookPath    LookPathFunc
	cache       *version.Cache
	defaultName string
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithLookPath replaces exec.LookPath.
func WithLookPath(fn LookPathFunc) ResolverOption {
	return func(r *Resolver) { r.lookPath = fn }
}

// WithCache shares a normalizer cache, usually the one owned by the run.
func WithCache(c *version.Cache) ResolverOption {
	return func(r *Resolver) { r.cache = c }
}

// WithDefaultName overrides DefaultName.
func WithDefaultName(name string) ResolverOption {
	return func(r *Resolver) { r.defaultName = name }
}

// NewResolver creates a resolver over the given adapters. Candidates are
// ordered blessed-first, then by id, so resolution never depends on
// registration order.
func NewResolver(candidates []Candidate, exec executor.Executor, opts ...ResolverOption) *Resolver {
	sorted := slices.Clone(candidates)
	slices.SortFunc(sorted, compareCandidates)
	r := &Resolver{
		candidates:  sorted,
		exec:        exec,
		lookPath:    defaultLookPath,
		defaultName: DefaultName,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cache == nil {
		r.cache = version.NewCache(version.DefaultCacheSize)
	}
	return r
}

func defaultLookPath(file string) (string, error) {
	return exec.LookPath(file)
}

func compareCandidates(a, b Candidate) int {
	if a.Component.Blessed != b.Component.Blessed {
		if a.Component.Blessed {
			return -1
		}
		return 1
	}
	return cmp.Compare(a.Component.ID, b.Component.ID)
}

// Validate checks the version tables of every candidate. It is run before
// any resolution so that malformed data fails fast.
func (r *Resolver) Validate() error {
	for _, c := range r.candidates {
		if _, err := r.cache.Get(c.Component.ID, c.Adapter.Versions); err != nil {
			return err
		}
	}
	return nil
}

// Resolve resolves every desired specifier. Specifiers no adapter satisfies
// are returned in unmatched; whether that is fatal is up to the caller. The
// error is reserved for malformed input, malformed version data and
// cancellation.
func (r *Resolver) Resolve(ctx context.Context, desired []string) (envelopes []*Envelope, unmatched []string, err error) {
	if err := r.Validate(); err != nil {
		return nil, nil, err
	}
	seen := make(map[string]struct{})
	for _, raw := range desired {
		if err := abort.Check(ctx, "resolve package managers"); err != nil {
			return nil, nil, err
		}
		d, err := ParseDesired(raw)
		if err != nil {
			return nil, nil, err
		}
		env, ok, err := r.resolveOne(ctx, d)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			slog.DebugContext(ctx, "no package manager matches specifier", "desired", raw)
			unmatched = append(unmatched, raw)
			continue
		}
		key := env.Component.ID + "\x00" + env.Spec.Label()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		slog.DebugContext(ctx, "resolved package manager", "desired", raw, "label", env.Spec.Label(), "component", env.Component.ID)
		envelopes = append(envelopes, env)
	}
	return envelopes, unmatched, nil
}

func (r *Resolver) resolveOne(ctx context.Context, d Desired) (*Envelope, bool, error) {
	if d.System && d.Name == "" {
		return r.resolveAnySystem(ctx, d)
	}

	for _, c := range r.candidates {
		if c.Component.ID != d.Name && c.Component.Name != d.Name {
			continue
		}
		var (
			spec Spec
			ok   bool
			err  error
		)
		if d.System {
			spec, ok, err = r.trySystem(ctx, c, d)
		} else {
			spec, ok, err = r.tryVersion(c, d)
		}
		if err != nil {
			return nil, false, err
		}
		if ok {
			return &Envelope{Component: c.Component, Adapter: c.Adapter, Spec: spec}, true, nil
		}
	}
	return nil, false, nil
}

func (r *Resolver) tryVersion(c Candidate, d Desired) (Spec, bool, error) {
	n, err := r.cache.Get(c.Component.ID, c.Adapter.Versions)
	if err != nil {
		return Spec{}, false, err
	}
	v, ok := n.Normalize(d.Value)
	if !ok {
		return Spec{}, false, nil
	}
	supported, err := version.Satisfies(v, c.Adapter.SupportedVersions)
	if err != nil || !supported {
		return Spec{}, false, err
	}
	return Spec{Name: c.Component.Name, Version: v, RequestedAs: d.Raw}, true, nil
}

// trySystem accepts the host binary of c when its reported version is valid,
// supported by the adapter and inside the requested range.
func (r *Resolver) trySystem(ctx context.Context, c Candidate, d Desired) (Spec, bool, error) {
	bin, err := r.lookPath(c.Adapter.Executable())
	if err != nil {
		slog.DebugContext(ctx, "package manager not found on PATH", "bin", c.Adapter.Executable())
		return Spec{}, false, nil
	}
	res, err := r.exec.Exec(ctx, executor.Command{Bin: bin, Args: []string{"--version"}})
	if err != nil {
		if abort.Is(err) {
			return Spec{}, false, err
		}
		slog.DebugContext(ctx, "failed to query package manager version", "bin", bin, "error", err)
		return Spec{}, false, nil
	}
	reported, err := version.Clean(res.Stdout)
	if err != nil {
		slog.DebugContext(ctx, "package manager reported an invalid version", "bin", bin, "error", err)
		return Spec{}, false, nil
	}
	for _, rng := range []string{c.Adapter.SupportedVersions, d.SystemRange} {
		ok, err := version.Satisfies(reported, rng)
		if err != nil {
			return Spec{}, false, fmt.Errorf("failed to check %s@%s: %w", c.Component.Name, reported, err)
		}
		if !ok {
			return Spec{}, false, nil
		}
	}
	return Spec{
		Name:        c.Component.Name,
		Version:     reported,
		Bin:         bin,
		RequestedAs: d.Raw,
		System:      true,
	}, true, nil
}

// resolveAnySystem considers every adapter. The best candidate replaces the
// current choice as candidates are found: the default adapter name wins, ties
// go to the lowest id. The outcome does not depend on enumeration order.
func (r *Resolver) resolveAnySystem(ctx context.Context, d Desired) (*Envelope, bool, error) {
	var best *Envelope
	for _, c := range r.candidates {
		spec, ok, err := r.trySystem(ctx, c, d)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			continue
		}
		env := &Envelope{Component: c.Component, Adapter: c.Adapter, Spec: spec}
		if best == nil || r.better(env, best) {
			best = env
		}
	}
	return best, best != nil, nil
}

func (r *Resolver) better(a, b *Envelope) bool {
	aDefault, bDefault := a.Component.Name == r.defaultName, b.Component.Name == r.defaultName
	if aDefault != bDefault {
		return aDefault
	}
	if a.Component.Blessed != b.Component.Blessed {
		return a.Component.Blessed
	}
	return a.Component.ID < b.Component.ID
}
