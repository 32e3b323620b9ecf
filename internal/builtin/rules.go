package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/boneskull/midnight-smoker-sub006/internal/rule"
	"github.com/boneskull/midnight-smoker-sub006/internal/schema"
)

const docsURL = "https://github.com/boneskull/midnight-smoker/blob/main/docs/rules/"

// decodeOptions converts merged rule options into T.
func decodeOptions[T any](opts map[string]any) (T, error) {
	var out T
	data, err := json.Marshal(opts)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("invalid options: %w", err)
	}
	return out, nil
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

func isFile(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

// Rules returns the built-in rules.
func Rules() []*rule.Definition {
	return []*rule.Definition{
		noMissingPkgFiles(),
		noMissingEntryPoint(),
		noMissingExports(),
		noBannedFiles(),
	}
}

// PkgFilesOptions configures no-missing-pkg-files.
type PkgFilesOptions struct {
	Bin     bool `json:"bin" jsonschema:"description=Check the bin field"`
	Browser bool `json:"browser" jsonschema:"description=Check the browser field"`
	Types   bool `json:"types" jsonschema:"description=Check the types and typings fields"`
	Unpkg   bool `json:"unpkg" jsonschema:"description=Check the unpkg field"`
	Module  bool `json:"module" jsonschema:"description=Check the module field"`
	// Fields are additional top-level fields holding a path.
	Fields []string `json:"fields,omitempty" jsonschema:"description=Additional fields to check"`
}

func noMissingPkgFiles() *rule.Definition {
	return &rule.Definition{
		Name:        "no-missing-pkg-files",
		Description: "Checks that files referenced in package.json exist in the installed package",
		URL:         docsURL + "no-missing-pkg-files.md",
		Schema:      schema.Reflect(&PkgFilesOptions{}),
		Defaults: map[string]any{
			"bin": true, "browser": true, "types": true, "unpkg": true, "module": true,
		},
		Check: func(_ context.Context, rc *rule.Context, opts map[string]any) error {
			o, err := decodeOptions[PkgFilesOptions](opts)
			if err != nil {
				return err
			}
			raw := rc.Manifest().Raw
			check := func(field, rel string) {
				if rel == "" {
					return
				}
				if !exists(filepath.Join(rc.InstallPath(), filepath.FromSlash(rel))) {
					rc.AddIssue(fmt.Sprintf("File %q from field %q does not exist", rel, field),
						rule.WithJSONPath(field), rule.WithFilepath(rc.ManifestPath()))
				}
			}
			if o.Bin {
				for _, p := range stringValues(raw["bin"]) {
					check("bin", p)
				}
			}
			if o.Browser {
				for _, p := range stringValues(raw["browser"]) {
					check("browser", p)
				}
			}
			if o.Types {
				check("types", stringValue(raw["types"]))
				check("typings", stringValue(raw["typings"]))
			}
			if o.Unpkg {
				check("unpkg", stringValue(raw["unpkg"]))
			}
			if o.Module {
				check("module", stringValue(raw["module"]))
			}
			for _, field := range o.Fields {
				for _, p := range stringValues(raw[field]) {
					check(field, p)
				}
			}
			return nil
		},
	}
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

// stringValues returns v if it is a string, or the string values of v if
// it is an object, sorted.
func stringValues(v any) []string {
	switch v := v.(type) {
	case string:
		return []string{v}
	case map[string]any:
		var out []string
		for _, val := range v {
			if s, ok := val.(string); ok {
				out = append(out, s)
			}
		}
		slices.Sort(out)
		return out
	}
	return nil
}

func noMissingEntryPoint() *rule.Definition {
	return &rule.Definition{
		Name:        "no-missing-entry-point",
		Description: "Checks that the package has a resolvable CommonJS entry point",
		URL:         docsURL + "no-missing-entry-point.md",
		Check: func(_ context.Context, rc *rule.Context, _ map[string]any) error {
			m := rc.Manifest()
			if len(m.Exports) > 0 {
				return nil
			}
			main := m.Main
			if main == "" {
				main = "index.js"
			}
			base := filepath.Join(rc.InstallPath(), filepath.FromSlash(main))
			for _, candidate := range []string{
				base, base + ".js", base + ".json", base + ".node",
				filepath.Join(base, "index.js"), filepath.Join(base, "index.json"), filepath.Join(base, "index.node"),
			} {
				if isFile(candidate) {
					return nil
				}
			}
			rc.AddIssue(fmt.Sprintf("No entry point found for package %q; file from field \"main\" unreadable at path: %s", rc.PkgName(), main),
				rule.WithJSONPath("main"), rule.WithFilepath(base))
			return nil
		},
	}
}

// BannedFilesOptions configures no-banned-files.
type BannedFilesOptions struct {
	// Allow removes names or patterns from the banned list.
	Allow []string `json:"allow,omitempty" jsonschema:"description=Filenames or patterns to allow"`
	// Deny adds names or patterns to the banned list.
	Deny []string `json:"deny,omitempty" jsonschema:"description=Additional filenames or patterns to ban"`
}

// BannedFiles are the file names no published package should contain.
var BannedFiles = []string{
	"id_rsa", "id_dsa", "id_ecdsa", "id_ed25519",
	".npmrc", ".yarnrc.yml", ".env", ".netrc", ".git-credentials",
	".htpasswd", ".pgpass", ".s3cfg", ".dockercfg",
	".bash_history", ".zsh_history", ".node_repl_history",
	"*.pem", "*.key", "*.p12", "*.pfx", "*.kdbx",
}

func noBannedFiles() *rule.Definition {
	return &rule.Definition{
		Name:        "no-banned-files",
		Description: "Ensures banned files are not published",
		URL:         docsURL + "no-banned-files.md",
		Schema:      schema.Reflect(&BannedFilesOptions{}),
		Check: func(ctx context.Context, rc *rule.Context, opts map[string]any) error {
			o, err := decodeOptions[BannedFilesOptions](opts)
			if err != nil {
				return err
			}
			for _, p := range slices.Concat(BannedFiles, o.Deny, o.Allow) {
				if !doublestar.ValidatePattern(p) {
					return fmt.Errorf("invalid pattern %q", p)
				}
			}
			banned := func(name string) (string, bool) {
				for _, allow := range o.Allow {
					if ok, _ := doublestar.Match(allow, name); ok {
						return "", false
					}
				}
				for _, p := range slices.Concat(BannedFiles, o.Deny) {
					if ok, _ := doublestar.Match(p, name); ok {
						return p, true
					}
				}
				return "", false
			}
			root := rc.InstallPath()
			return fs.WalkDir(os.DirFS(root), ".", func(p string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if d.IsDir() {
					if d.Name() == "node_modules" {
						return fs.SkipDir
					}
					return nil
				}
				if pattern, ok := banned(path.Base(p)); ok {
					rc.AddIssue(fmt.Sprintf("Banned file found: %s (matches %s)", p, pattern),
						rule.WithFilepath(filepath.Join(root, filepath.FromSlash(p))))
				}
				return nil
			})
		},
	}
}
