package execplugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/kballard/go-shellquote"

	"github.com/boneskull/midnight-smoker-sub006/internal/executor"
	"github.com/boneskull/midnight-smoker-sub006/internal/plugin"
)

// Loader loads executable plugins. A reference is a shell-quoted command
// line; its first word is the executable, resolved against the base
// directory unless absolute, and the remaining words are passed before the
// protocol arguments.
type Loader struct {
	exec executor.Executor
}

var _ plugin.Loader = (*Loader)(nil)

// NewLoader creates a Loader running plugins with exec.
func NewLoader(exec executor.Executor) *Loader {
	return &Loader{exec: exec}
}

func (l *Loader) Load(ctx context.Context, ref, from string) (*plugin.Loaded, error) {
	words, err := shellquote.Split(ref)
	if err != nil || len(words) == 0 {
		return nil, fmt.Errorf("%w: %q is not a command line", plugin.ErrModuleNotFound, ref)
	}
	bin := words[0]
	if !filepath.IsAbs(bin) {
		bin = filepath.Join(from, bin)
	}
	if !isExecutable(bin) {
		return nil, fmt.Errorf("%w: %s is not an executable", plugin.ErrModuleNotFound, bin)
	}

	m := &Module{bin: bin, args: words[1:], exec: l.exec}
	if err := m.call(ctx, nil, &m.description, CommandDescribe); err != nil {
		return nil, fmt.Errorf("failed to describe plugin: %w", err)
	}
	if m.description.Name == "" {
		return nil, errors.New("plugin description has no name")
	}
	slog.DebugContext(ctx, "loaded executable plugin", "bin", bin, "name", m.description.Name,
		"rules", len(m.description.Rules), "pkgManagers", len(m.description.PackageManagers))
	return &plugin.Loaded{EntryPoint: bin, Export: m}, nil
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	return info.Mode().Perm()&0o111 != 0
}
