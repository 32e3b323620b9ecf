package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/boneskull/midnight-smoker-sub006/internal/rule"
	"github.com/boneskull/midnight-smoker-sub006/internal/schema"
)

// ExportsOptions configures no-missing-exports.
type ExportsOptions struct {
	Types   bool `json:"types" jsonschema:"description=Targets of the types condition must be declaration files"`
	Require bool `json:"require" jsonschema:"description=Targets of the require condition must not be ESM"`
	Import  bool `json:"import" jsonschema:"description=Targets of the import condition must not be CJS"`
	Order   bool `json:"order" jsonschema:"description=The default condition must come last and types first"`
	Glob    bool `json:"glob" jsonschema:"description=Allow subpath patterns"`
}

func noMissingExports() *rule.Definition {
	return &rule.Definition{
		Name:        "no-missing-exports",
		Description: "Checks that the targets of the exports field exist and are consistent with their conditions",
		URL:         docsURL + "no-missing-exports.md",
		Schema:      schema.Reflect(&ExportsOptions{}),
		Defaults: map[string]any{
			"types": true, "require": true, "import": true, "order": true, "glob": true,
		},
		Check: func(_ context.Context, rc *rule.Context, opts map[string]any) error {
			o, err := decodeOptions[ExportsOptions](opts)
			if err != nil {
				return err
			}
			exports := rc.Manifest().Exports
			if len(exports) == 0 {
				return nil
			}
			w := &exportsWalker{opts: o, rc: rc, root: rc.InstallPath()}
			return w.walk("exports", exports, "")
		},
	}
}

type exportsWalker struct {
	opts ExportsOptions
	rc   *rule.Context
	root string
}

func (w *exportsWalker) issue(jsonPath, format string, args ...any) {
	w.rc.AddIssue(fmt.Sprintf(format, args...),
		rule.WithJSONPath(jsonPath), rule.WithFilepath(w.rc.ManifestPath()))
}

// walk visits one node of the exports tree. cond is the nearest enclosing
// condition name.
func (w *exportsWalker) walk(jsonPath string, raw json.RawMessage, cond string) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	switch raw[0] {
	case '"':
		var target string
		if err := json.Unmarshal(raw, &target); err != nil {
			return fmt.Errorf("%s: %w", jsonPath, err)
		}
		w.target(jsonPath, target, cond)
		return nil
	case '[':
		var fallbacks []json.RawMessage
		if err := json.Unmarshal(raw, &fallbacks); err != nil {
			return fmt.Errorf("%s: %w", jsonPath, err)
		}
		for i, fb := range fallbacks {
			if err := w.walk(fmt.Sprintf("%s[%d]", jsonPath, i), fb, cond); err != nil {
				return err
			}
		}
		return nil
	case '{':
		om := orderedmap.New[string, json.RawMessage]()
		if err := om.UnmarshalJSON(raw); err != nil {
			return fmt.Errorf("%s: %w", jsonPath, err)
		}
		if !isSubpathMap(om) {
			w.order(jsonPath, om)
		}
		for pair := om.Oldest(); pair != nil; pair = pair.Next() {
			childCond := cond
			if !strings.HasPrefix(pair.Key, ".") {
				childCond = pair.Key
			}
			if err := w.walk(fmt.Sprintf("%s[%q]", jsonPath, pair.Key), pair.Value, childCond); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("%s: unexpected value %s", jsonPath, raw)
}

func isSubpathMap(om *orderedmap.OrderedMap[string, json.RawMessage]) bool {
	for pair := om.Oldest(); pair != nil; pair = pair.Next() {
		if strings.HasPrefix(pair.Key, ".") {
			return true
		}
	}
	return false
}

// order checks that "default" is the last condition and "types" the first.
func (w *exportsWalker) order(jsonPath string, om *orderedmap.OrderedMap[string, json.RawMessage]) {
	if !w.opts.Order {
		return
	}
	if _, ok := om.Get("default"); ok && om.Newest().Key != "default" {
		w.issue(jsonPath, "Conditional export %q must be the last condition in %s", "default", jsonPath)
	}
	if _, ok := om.Get("types"); ok && om.Oldest().Key != "types" {
		w.issue(jsonPath, "Conditional export %q must be the first condition in %s", "types", jsonPath)
	}
}

func (w *exportsWalker) target(jsonPath, target, cond string) {
	if !strings.HasPrefix(target, "./") {
		w.issue(jsonPath, "Export %q must be a relative path starting with \"./\"", target)
		return
	}
	switch {
	case cond == "types" && w.opts.Types && !hasAnySuffix(target, ".d.ts", ".d.mts", ".d.cts"):
		w.issue(jsonPath, "Export %q with condition \"types\" is not a declaration file", target)
	case cond == "require" && w.opts.Require && strings.HasSuffix(target, ".mjs"):
		w.issue(jsonPath, "Export %q with condition \"require\" points to an ES module", target)
	case cond == "import" && w.opts.Import && strings.HasSuffix(target, ".cjs"):
		w.issue(jsonPath, "Export %q with condition \"import\" points to a CommonJS module", target)
	}
	rel := path.Clean(strings.TrimPrefix(target, "./"))
	if strings.Contains(rel, "*") {
		if !w.opts.Glob {
			w.issue(jsonPath, "Export %q contains a glob pattern", target)
			return
		}
		matches, err := doublestar.Glob(os.DirFS(w.root), rel)
		if err != nil || len(matches) == 0 {
			w.issue(jsonPath, "Export %q matches no files", target)
		}
		return
	}
	if !exists(filepath.Join(w.root, filepath.FromSlash(rel))) {
		w.issue(jsonPath, "Export %q points to a missing file", target)
	}
}

func hasAnySuffix(s string, suffixes ...string) bool {
	for _, suffix := range suffixes {
		if strings.HasSuffix(s, suffix) {
			return true
		}
	}
	return false
}
