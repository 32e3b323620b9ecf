// Package plugin loads plugins and registers the components they contribute.
//
// A plugin is resolved from a reference by a [Resolver], which delegates the
// actual loading to a [Loader]. The loaded [Module] is then registered with
// a [Registry], which hands it an [API] to define rules, package managers,
// reporters and executors.
package plugin

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/boneskull/midnight-smoker-sub006/internal/workspace"
)

// TransientEntryPoint is the entry point of plugins that live in memory
// only, such as the plugins linked into the binary.
const TransientEntryPoint = "<transient>"

// Metadata identifies a plugin. It is immutable: overriding fields produces
// a new value.
type Metadata struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version,omitempty"`
	EntryPoint  string `json:"entryPoint"`
}

// Transient reports whether the plugin has no entry point on disk.
func (m Metadata) Transient() bool {
	return m.EntryPoint == TransientEntryPoint
}

func (m Metadata) String() string {
	if m.Version != "" {
		return m.ID + "@" + m.Version
	}
	return m.ID
}

// Overrides are the fields a plugin may declare about itself.
type Overrides struct {
	ID          string `json:"id,omitempty"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version,omitempty"`
}

// WithOverrides returns a copy of m with the non-empty fields of o applied.
func (m Metadata) WithOverrides(o Overrides) Metadata {
	if o.ID != "" {
		m.ID = o.ID
		m.Name = o.ID
	}
	if o.Description != "" {
		m.Description = o.Description
	}
	if o.Version != "" {
		m.Version = o.Version
	}
	return m
}

// NewTransientMetadata creates metadata for an in-memory plugin.
func NewTransientMetadata(id string) Metadata {
	return Metadata{ID: id, Name: id, EntryPoint: TransientEntryPoint}
}

// NewMetadata infers metadata for the plugin at entryPoint from the nearest
// ancestor package.json. Without one, the id is the base name of the entry
// point.
func NewMetadata(entryPoint string) (Metadata, error) {
	if entryPoint == TransientEntryPoint {
		return Metadata{}, errors.New("transient plugins need an explicit id")
	}
	abs, err := filepath.Abs(entryPoint)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to resolve entry point %q: %w", entryPoint, err)
	}
	md := Metadata{EntryPoint: abs}

	m, err := nearestManifest(filepath.Dir(abs))
	if err != nil {
		return Metadata{}, err
	}
	if m != nil && m.Name != "" {
		md.ID = m.Name
		md.Version = m.Version
		if d, ok := m.Raw["description"].(string); ok {
			md.Description = d
		}
	} else {
		md.ID = strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs))
	}
	md.Name = md.ID
	return md, nil
}

func nearestManifest(dir string) (*workspace.Manifest, error) {
	for {
		m, err := workspace.ReadManifest(filepath.Join(dir, workspace.ManifestFilename))
		switch {
		case err == nil:
			return m, nil
		case !errors.Is(err, workspace.ErrNoManifest):
			return nil, err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}
