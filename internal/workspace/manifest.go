package workspace

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// ManifestFilename is the name of a package manifest.
const ManifestFilename = "package.json"

// Manifest is the subset of a package manifest the engine and the built-in
// rules care about. Raw holds the full document.
type Manifest struct {
	Name       string            `json:"name"`
	Version    string            `json:"version,omitempty"`
	Private    bool              `json:"private,omitempty"`
	Main       string            `json:"main,omitempty"`
	Module     string            `json:"module,omitempty"`
	Types      string            `json:"types,omitempty"`
	Typings    string            `json:"typings,omitempty"`
	Browser    json.RawMessage   `json:"browser,omitempty"`
	Bin        json.RawMessage   `json:"bin,omitempty"`
	Exports    json.RawMessage   `json:"exports,omitempty"`
	Files      []string          `json:"files,omitempty"`
	Scripts    map[string]string `json:"scripts,omitempty"`
	Workspaces Workspaces        `json:"workspaces,omitempty"`

	Raw map[string]any `json:"-"`
}

// Workspaces accepts both the array form and the {"packages": [...]} form.
type Workspaces []string

func (w *Workspaces) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*w = nil
		return nil
	}
	if data[0] == '[' {
		var list []string
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*w = list
		return nil
	}
	var obj struct {
		Packages []string `json:"packages"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("workspaces must be an array or an object with packages: %w", err)
	}
	*w = obj.Packages
	return nil
}

// ErrNoManifest is returned when a directory has no package manifest.
var ErrNoManifest = errors.New("no package.json found")

// ParseManifest decodes a manifest document.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if err := json.Unmarshal(data, &m.Raw); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &m, nil
}

// ReadManifest reads and decodes the manifest at path.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w at %s", ErrNoManifest, path)
		}
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}
