package builtin

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/boneskull/midnight-smoker-sub006/internal/pkgmanager"
	"github.com/boneskull/midnight-smoker-sub006/internal/version"
)

var npmVersions = version.Data{
	Versions: []string{
		"7.0.0", "7.24.2",
		"8.0.0", "8.19.4",
		"9.0.0", "9.8.1", "9.9.3", "9.9.4",
		"10.0.0", "10.5.0", "10.8.2", "10.9.2",
		"11.0.0", "11.4.2",
	},
	Tags: map[string]string{
		"latest":    "11.4.2",
		"latest-10": "10.9.2",
		"latest-9":  "9.9.4",
		"latest-8":  "8.19.4",
		"latest-7":  "7.24.2",
	},
}

// npmPackEntry is one element of the output of "npm pack --json".
type npmPackEntry struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Filename string `json:"filename"`
}

// NPM returns the npm adapter.
func NPM() *pkgmanager.Definition {
	c := &cli{
		name:        "npm",
		description: "npm, the Node.js package manager",
		supported:   ">=7.0.0",
		versions:    npmVersions,
		pack: func(dest string) []string {
			return []string{"pack", "--json", "--pack-destination", dest}
		},
		tarball: npmTarball,
		install: func(tarball string, o AdapterOptions) []string {
			args := []string{"install", "--no-audit", "--no-fund", "--no-package-lock", "--install-links", tarball}
			if o.Registry != "" {
				args = append(args, "--registry="+o.Registry)
			}
			return append(args, o.ExtraInstallArgs...)
		},
		run: func(script string) []string {
			return []string{"run-script", script}
		},
	}
	return c.definition()
}

// npmTarball reads the tarball name from the JSON npm prints. Lifecycle
// scripts may print before it, so the last JSON array wins.
func npmTarball(stdout, dest string) (string, error) {
	i := strings.LastIndex(stdout, "\n[")
	if i < 0 {
		i = strings.Index(stdout, "[")
		if i < 0 {
			return "", fmt.Errorf("%w: no JSON in npm pack output", errNoTarball)
		}
	} else {
		i++
	}
	var entries []npmPackEntry
	if err := json.Unmarshal([]byte(stdout[i:]), &entries); err != nil {
		return "", fmt.Errorf("failed to parse npm pack output: %w", err)
	}
	if len(entries) == 0 || entries[0].Filename == "" {
		return "", errNoTarball
	}
	return filepath.Join(dest, filepath.Base(entries[0].Filename)), nil
}
