package plugin

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/boneskull/midnight-smoker-sub006/internal/component"
	"github.com/boneskull/midnight-smoker-sub006/internal/executor"
	"github.com/boneskull/midnight-smoker-sub006/internal/pkgmanager"
	"github.com/boneskull/midnight-smoker-sub006/internal/reporter"
	"github.com/boneskull/midnight-smoker-sub006/internal/result"
	"github.com/boneskull/midnight-smoker-sub006/internal/rule"
)

// DefaultPluginID is the id of the first-party plugin linked into the
// binary.
const DefaultPluginID = "@midnight-smoker/plugin-default"

// Executor is a registered executor.
type Executor struct {
	Component  component.Component
	Definition *executor.Definition
}

func (e *Executor) ID() string {
	return e.Component.ID
}

// Registry tracks every plugin and the components it contributed. It is
// written during the load phase only; after Seal it is read-only.
type Registry struct {
	mu      sync.RWMutex
	sealed  bool
	blessed map[string]bool

	plugins []Metadata
	byID    map[string]Metadata
	// owners maps every registered definition pointer to its component id.
	owners map[any]string

	components  map[component.Kind]map[string]component.Component
	rules       []*rule.Rule
	pkgManagers []pkgmanager.Candidate
	reporters   []*reporter.Reporter
	executors   []*Executor
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithBlessed marks additional plugin ids as first-party.
func WithBlessed(ids ...string) RegistryOption {
	return func(r *Registry) {
		for _, id := range ids {
			r.blessed[id] = true
		}
	}
}

// NewRegistry creates an empty registry. DefaultPluginID is always blessed.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		blessed:    map[string]bool{DefaultPluginID: true},
		byID:       make(map[string]Metadata),
		owners:     make(map[any]string),
		components: make(map[component.Kind]map[string]component.Component),
	}
	for _, k := range component.Kinds {
		r.components[k] = make(map[string]component.Component)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// IsBlessed reports whether components of plugin id get unqualified ids.
func (r *Registry) IsBlessed(id string) bool {
	return r.blessed[id]
}

// Seal ends the load phase.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// RegisterPlugin runs the module's registration against a staging API and
// commits the staged components atomically. If the module implements
// Describer, its overrides are applied to md first. A failing, panicking or
// colliding registration commits nothing.
func (r *Registry) RegisterPlugin(ctx context.Context, md Metadata, mod Module) result.Output[[]component.Component] {
	if d, ok := mod.(Describer); ok {
		md = md.WithOverrides(d.Describe())
	}
	fail := func(err error) result.Output[[]component.Component] {
		return result.Error[[]component.Component](&RegistrationError{Plugin: md, Cause: err})
	}
	if md.ID == "" {
		return fail(errors.New("plugin id is required"))
	}

	r.mu.RLock()
	sealed := r.sealed
	existing, dup := r.byID[md.ID]
	r.mu.RUnlock()
	if sealed {
		return fail(ErrRegistrySealed)
	}
	if dup {
		return fail(&DuplicatePluginError{ID: md.ID, Existing: existing})
	}

	api := &stagingAPI{registry: r, md: md, blessed: r.IsBlessed(md.ID)}
	out := result.Capture(func() (struct{}, error) {
		return struct{}{}, mod.Register(api)
	})
	if out.IsError() {
		return fail(out.Err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fail(ErrRegistrySealed)
	}
	if existing, dup := r.byID[md.ID]; dup {
		return fail(&DuplicatePluginError{ID: md.ID, Existing: existing})
	}
	if err := r.checkCollisions(api.staged); err != nil {
		return fail(err)
	}
	comps := r.commit(md, api.staged)
	slog.DebugContext(ctx, "registered plugin", "plugin", md.String(), "components", len(comps))
	return result.Ok(comps)
}

// checkCollisions checks staged components against committed ones. Must be
// called with the lock held.
func (r *Registry) checkCollisions(staged []staged) error {
	for _, s := range staged {
		if id, ok := r.owners[s.def]; ok {
			return &ComponentCollisionError{Kind: s.component.Kind, Existing: id, Attempted: s.component.ID}
		}
		if c, ok := r.components[s.component.Kind][s.component.ID]; ok {
			return &ComponentCollisionError{Kind: s.component.Kind, Existing: c.ID, Attempted: s.component.ID}
		}
	}
	return nil
}

func (r *Registry) commit(md Metadata, staged []staged) []component.Component {
	r.plugins = append(r.plugins, md)
	r.byID[md.ID] = md
	comps := make([]component.Component, 0, len(staged))
	for _, s := range staged {
		r.owners[s.def] = s.component.ID
		r.components[s.component.Kind][s.component.ID] = s.component
		switch v := s.value.(type) {
		case *rule.Rule:
			r.rules = append(r.rules, v)
		case pkgmanager.Candidate:
			r.pkgManagers = append(r.pkgManagers, v)
		case *reporter.Reporter:
			r.reporters = append(r.reporters, v)
		case *Executor:
			r.executors = append(r.executors, v)
		}
		comps = append(comps, s.component)
	}
	return comps
}

// Plugins returns the metadata of every plugin in registration order.
func (r *Registry) Plugins() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.plugins)
}

// Components returns the components of kind, sorted by id.
func (r *Registry) Components(kind component.Kind) []component.Component {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]component.Component, 0, len(r.components[kind]))
	for _, c := range r.components[kind] {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b component.Component) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (r *Registry) Rules() []*rule.Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.rules)
}

func (r *Registry) PackageManagers() []pkgmanager.Candidate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.pkgManagers)
}

func (r *Registry) Reporters() []*reporter.Reporter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.reporters)
}

func (r *Registry) Executors() []*Executor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.executors)
}

// Rule looks up a rule by id.
func (r *Registry) Rule(id string) (*rule.Rule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i := slices.IndexFunc(r.rules, func(x *rule.Rule) bool { return x.ID() == id })
	if i < 0 {
		return nil, false
	}
	return r.rules[i], true
}

// Reporter looks up a reporter by id.
func (r *Registry) Reporter(id string) (*reporter.Reporter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i := slices.IndexFunc(r.reporters, func(x *reporter.Reporter) bool { return x.ID() == id })
	if i < 0 {
		return nil, false
	}
	return r.reporters[i], true
}

// Executor looks up an executor by id.
func (r *Registry) Executor(id string) (*Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i := slices.IndexFunc(r.executors, func(x *Executor) bool { return x.ID() == id })
	if i < 0 {
		return nil, false
	}
	return r.executors[i], true
}

type staged struct {
	component component.Component
	// def is the definition pointer, used for identity.
	def   any
	value any
}

// stagingAPI collects the definitions of one plugin.
type stagingAPI struct {
	registry *Registry
	md       Metadata
	blessed  bool
	staged   []staged
}

func (a *stagingAPI) Metadata() Metadata {
	return a.md
}

func (a *stagingAPI) stage(kind component.Kind, name string, def any, build func(component.Component) (any, error)) error {
	c := component.New(kind, a.md.ID, name, a.blessed)
	for _, s := range a.staged {
		if s.def == def || (s.component.Kind == kind && s.component.Name == name) {
			return &ComponentCollisionError{Kind: kind, Existing: s.component.ID, Attempted: c.ID}
		}
	}
	a.registry.mu.RLock()
	err := a.registry.checkCollisions([]staged{{component: c, def: def}})
	a.registry.mu.RUnlock()
	if err != nil {
		return err
	}
	v, err := build(c)
	if err != nil {
		return err
	}
	a.staged = append(a.staged, staged{component: c, def: def, value: v})
	return nil
}

func (a *stagingAPI) DefineRule(def *rule.Definition) error {
	if def == nil {
		return errors.New("rule definition is nil")
	}
	if err := def.Validate(); err != nil {
		return fmt.Errorf("invalid rule: %w", err)
	}
	return a.stage(component.KindRule, def.Name, def, func(c component.Component) (any, error) {
		return rule.New(c, def)
	})
}

func (a *stagingAPI) DefinePackageManager(def *pkgmanager.Definition) error {
	if def == nil {
		return errors.New("package manager definition is nil")
	}
	if err := def.Validate(); err != nil {
		return fmt.Errorf("invalid package manager: %w", err)
	}
	return a.stage(component.KindPackageManager, def.Name, def, func(c component.Component) (any, error) {
		return pkgmanager.Candidate{Component: c, Adapter: def}, nil
	})
}

func (a *stagingAPI) DefineReporter(def *reporter.Definition) error {
	if def == nil {
		return errors.New("reporter definition is nil")
	}
	if err := def.Validate(); err != nil {
		return fmt.Errorf("invalid reporter: %w", err)
	}
	return a.stage(component.KindReporter, def.Name, def, func(c component.Component) (any, error) {
		return &reporter.Reporter{Component: c, Definition: def}, nil
	})
}

func (a *stagingAPI) DefineExecutor(def *executor.Definition) error {
	if def == nil {
		return errors.New("executor definition is nil")
	}
	if err := def.Validate(); err != nil {
		return fmt.Errorf("invalid executor: %w", err)
	}
	return a.stage(component.KindExecutor, def.Name, def, func(c component.Component) (any, error) {
		return &Executor{Component: c, Definition: def}, nil
	})
}
