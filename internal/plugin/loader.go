package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrModuleNotFound is returned by a Loader that cannot find a reference
// relative to the given base directory. Any other error means the
// reference was found but could not be loaded.
var ErrModuleNotFound = errors.New("module not found")

// Loaded is what a Loader found for a reference.
type Loaded struct {
	// EntryPoint is the resolved location, or TransientEntryPoint.
	EntryPoint string
	// Export is the loaded value; it must implement Module.
	Export any
	// Metadata, when set, replaces the metadata inferred from EntryPoint.
	Metadata *Metadata
}

// Loader loads the module a reference points to, resolved relative to from.
type Loader interface {
	Load(ctx context.Context, ref, from string) (*Loaded, error)
}

// LoaderFunc adapts a function to a Loader.
type LoaderFunc func(ctx context.Context, ref, from string) (*Loaded, error)

func (f LoaderFunc) Load(ctx context.Context, ref, from string) (*Loaded, error) {
	return f(ctx, ref, from)
}

// CatalogLoader serves plugins linked into the binary by reference. The base
// directory is ignored.
type CatalogLoader struct {
	mu      sync.RWMutex
	modules map[string]any
}

// NewCatalogLoader creates an empty catalog.
func NewCatalogLoader() *CatalogLoader {
	return &CatalogLoader{modules: make(map[string]any)}
}

// Add makes export loadable as ref.
func (c *CatalogLoader) Add(ref string, export any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.modules[ref]; ok {
		return fmt.Errorf("plugin %q already in catalog", ref)
	}
	c.modules[ref] = export
	return nil
}

func (c *CatalogLoader) Load(_ context.Context, ref, _ string) (*Loaded, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	export, ok := c.modules[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s is not linked into the binary", ErrModuleNotFound, ref)
	}
	md := NewTransientMetadata(ref)
	return &Loaded{EntryPoint: TransientEntryPoint, Export: export, Metadata: &md}, nil
}

// ChainLoader tries each loader in turn until one finds the reference.
type ChainLoader []Loader

func (c ChainLoader) Load(ctx context.Context, ref, from string) (*Loaded, error) {
	var errs []error
	for _, l := range c {
		loaded, err := l.Load(ctx, ref, from)
		if err == nil {
			return loaded, nil
		}
		if !errors.Is(err, ErrModuleNotFound) {
			return nil, err
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("%w: no loaders configured", ErrModuleNotFound)
	}
	return nil, errors.Join(errs...)
}
