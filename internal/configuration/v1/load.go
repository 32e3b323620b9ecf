package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"sigs.k8s.io/yaml"
)

const (
	// EnvironmentKey names a configuration file that replaces the lookup.
	EnvironmentKey = "SMOKER_CONFIG"
	// ManifestField is the field of package.json holding configuration.
	ManifestField = "smoker"
)

// FileNames are looked up in every directory, in order.
var FileNames = []string{".smokerrc.yaml", ".smokerrc.yml", ".smokerrc.json", "smoker.config.json"}

// ErrNotFound is returned by Find when no configuration exists.
var ErrNotFound = errors.New("no configuration file found")

// Find returns the configuration file that applies to dir. The environment
// variable wins; otherwise dir and each of its parents are searched. A
// package.json with a "smoker" field counts as a configuration file.
func Find(dir string) (string, error) {
	if env := os.Getenv(EnvironmentKey); env != "" {
		if _, err := os.Stat(env); err != nil {
			return "", fmt.Errorf("%s points to an unreadable file: %w", EnvironmentKey, err)
		}
		return env, nil
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	for {
		for _, name := range FileNames {
			path := filepath.Join(dir, name)
			if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
				return path, nil
			}
		}
		manifest := filepath.Join(dir, "package.json")
		if ok, err := hasManifestField(manifest); err == nil && ok {
			return manifest, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrNotFound
		}
		dir = parent
	}
}

func hasManifestField(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return false, err
	}
	_, ok := fields[ManifestField]
	return ok, nil
}

// Load finds and reads the configuration of dir. A missing file yields an
// empty configuration.
func Load(dir string) (*Config, string, error) {
	path, err := Find(dir)
	if errors.Is(err, ErrNotFound) {
		slog.Debug("no configuration file found", slog.String("dir", dir))
		return &Config{}, "", nil
	}
	if err != nil {
		return nil, "", err
	}
	cfg, err := GetConfigFromPath(path)
	if err != nil {
		return nil, path, err
	}
	slog.Debug("configuration loaded", slog.String("path", path))
	return cfg, path, nil
}

// GetConfigFromPath reads and decodes the configuration file at path.
// Unknown fields are rejected.
func GetConfigFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if filepath.Base(path) == "package.json" {
		var manifest map[string]json.RawMessage
		if err := json.Unmarshal(data, &manifest); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		data = manifest[ManifestField]
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a YAML or JSON document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Marshal renders cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}
