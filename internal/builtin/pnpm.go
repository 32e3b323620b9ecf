package builtin

import (
	"path/filepath"
	"strings"

	"github.com/boneskull/midnight-smoker-sub006/internal/pkgmanager"
	"github.com/boneskull/midnight-smoker-sub006/internal/version"
)

var pnpmVersions = version.Data{
	Versions: []string{
		"8.0.0", "8.15.9",
		"9.0.0", "9.12.3", "9.15.9",
		"10.0.0", "10.12.1",
	},
	Tags: map[string]string{
		"latest":   "10.12.1",
		"latest-9": "9.15.9",
		"latest-8": "8.15.9",
	},
}

// PNPM returns the pnpm adapter.
func PNPM() *pkgmanager.Definition {
	c := &cli{
		name:        "pnpm",
		description: "pnpm, the fast, disk space efficient package manager",
		supported:   ">=8.0.0",
		versions:    pnpmVersions,
		pack: func(dest string) []string {
			return []string{"pack", "--pack-destination", dest}
		},
		tarball: pnpmTarball,
		install: func(tarball string, o AdapterOptions) []string {
			args := []string{"add", "--ignore-workspace", tarball}
			if o.Registry != "" {
				args = append(args, "--registry="+o.Registry)
			}
			return append(args, o.ExtraInstallArgs...)
		},
		run: func(script string) []string {
			return []string{"run", script}
		},
	}
	return c.definition()
}

// pnpmTarball reads the tarball path pnpm prints on its last line.
func pnpmTarball(stdout, dest string) (string, error) {
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if !strings.HasSuffix(last, ".tgz") {
		return "", errNoTarball
	}
	if filepath.IsAbs(last) {
		return last, nil
	}
	return filepath.Join(dest, filepath.Base(last)), nil
}
