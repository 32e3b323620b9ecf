// Package workspace discovers the package directories subject to packing.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Info describes a discovered workspace. It is read-only once discovered.
type Info struct {
	Name         string    `json:"pkgName"`
	LocalPath    string    `json:"localPath"`
	ManifestPath string    `json:"pkgJsonPath"`
	Manifest     *Manifest `json:"-"`
	// Root is true for the directory discovery started from.
	Root bool `json:"root,omitempty"`
}

func (i Info) Private() bool {
	return i.Manifest != nil && i.Manifest.Private
}

// Options selects which workspaces to return.
type Options struct {
	// Workspaces selects workspaces by package name or relative path.
	Workspaces []string
	// All selects every public workspace.
	All bool
	// IncludeRoot adds the root package to a workspace selection.
	IncludeRoot bool
}

// NotFoundError is returned when requested workspaces do not exist.
type NotFoundError struct {
	Requested []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("workspace(s) not found: %s", strings.Join(e.Requested, ", "))
}

// ErrNoWorkspaces is returned when the selection is empty.
var ErrNoWorkspaces = errors.New("no workspaces selected")

// Discover reads the manifest in root and returns the selected workspaces,
// sorted by local path.
func Discover(ctx context.Context, root string, opts Options) ([]Info, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", root, err)
	}
	rootInfo, err := read(root, true)
	if err != nil {
		return nil, err
	}

	members, err := expand(ctx, root, rootInfo.Manifest.Workspaces)
	if err != nil {
		return nil, err
	}

	var selected []Info
	switch {
	case len(opts.Workspaces) > 0:
		var missing []string
		for _, want := range opts.Workspaces {
			idx := slices.IndexFunc(members, func(m Info) bool { return matches(root, m, want) })
			if idx < 0 {
				missing = append(missing, want)
				continue
			}
			selected = append(selected, members[idx])
		}
		if len(missing) > 0 {
			return nil, &NotFoundError{Requested: missing}
		}
	case opts.All:
		for _, m := range members {
			if m.Private() {
				slog.DebugContext(ctx, "skipping private workspace", "name", m.Name, "path", m.LocalPath)
				continue
			}
			selected = append(selected, m)
		}
	default:
		selected = []Info{rootInfo}
	}

	if opts.IncludeRoot && !slices.ContainsFunc(selected, func(i Info) bool { return i.Root }) {
		selected = append(selected, rootInfo)
	}

	selected = dedupe(selected)
	if len(selected) == 0 {
		return nil, ErrNoWorkspaces
	}
	slices.SortFunc(selected, func(a, b Info) int { return strings.Compare(a.LocalPath, b.LocalPath) })
	return selected, nil
}

func read(dir string, root bool) (Info, error) {
	path := filepath.Join(dir, ManifestFilename)
	m, err := ReadManifest(path)
	if err != nil {
		return Info{}, err
	}
	name := m.Name
	if name == "" {
		name = filepath.Base(dir)
	}
	return Info{
		Name:         name,
		LocalPath:    dir,
		ManifestPath: path,
		Manifest:     m,
		Root:         root,
	}, nil
}

func expand(ctx context.Context, root string, patterns []string) ([]Info, error) {
	fsys := os.DirFS(root)
	seen := make(map[string]struct{})
	var out []Info
	for _, pattern := range patterns {
		pattern = strings.TrimPrefix(filepath.ToSlash(pattern), "./")
		dirs, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid workspace pattern %q: %w", pattern, err)
		}
		slices.Sort(dirs)
		for _, rel := range dirs {
			dir := filepath.Join(root, filepath.FromSlash(rel))
			if _, ok := seen[dir]; ok {
				continue
			}
			st, err := os.Stat(filepath.Join(dir, ManifestFilename))
			if err != nil || st.IsDir() {
				continue
			}
			info, err := read(dir, false)
			if err != nil {
				return nil, err
			}
			seen[dir] = struct{}{}
			slog.DebugContext(ctx, "discovered workspace", "name", info.Name, "path", dir)
			out = append(out, info)
		}
	}
	return out, nil
}

func matches(root string, info Info, want string) bool {
	if info.Name == want {
		return true
	}
	rel, err := filepath.Rel(root, info.LocalPath)
	if err != nil {
		return false
	}
	return filepath.ToSlash(rel) == strings.TrimSuffix(strings.TrimPrefix(filepath.ToSlash(want), "./"), "/")
}

func dedupe(infos []Info) []Info {
	seen := make(map[string]struct{}, len(infos))
	out := infos[:0]
	for _, i := range infos {
		if _, ok := seen[i.LocalPath]; ok {
			continue
		}
		seen[i.LocalPath] = struct{}{}
		out = append(out, i)
	}
	return out
}
