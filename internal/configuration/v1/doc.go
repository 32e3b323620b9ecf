// Package v1 supports finding, loading and parsing smoker configuration
// files.
//
// The file format is YAML or JSON. It is looked up in the directory the
// command runs in and each of its parents, as one of
//
//   - .smokerrc.yaml
//   - .smokerrc.yml
//   - .smokerrc.json
//   - smoker.config.json
//   - the "smoker" field of package.json
//
// The SMOKER_CONFIG environment variable or the --config flag replace the
// lookup. An example:
//
//	pkgManager:
//	  - npm@10
//	  - pnpm@latest
//	scripts:
//	  - test
//	installTimeout: 2m
//	rules:
//	  no-banned-files: warn
//	  no-missing-exports:
//	    - error
//	    - glob: false
//	  no-missing-pkg-files:
//	    severity: error
//	    opts:
//	      fields: [jsdelivr]
//	pkgManagerOptions:
//	  npm:
//	    registry: http://localhost:4873
package v1
