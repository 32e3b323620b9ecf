package worker

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"

	"github.com/nlepage/go-tarfs"

	"github.com/boneskull/midnight-smoker-sub006/internal/workspace"
)

// tarballPrefix is the directory every npm-style tarball wraps its files in.
const tarballPrefix = "package"

// ErrNoTarballManifest is returned for a tarball without a package.json.
var ErrNoTarballManifest = errors.New("tarball has no " + tarballPrefix + "/" + workspace.ManifestFilename)

// inspectTarball checks that the gzipped tarball at p contains a package
// manifest and returns it.
func inspectTarball(p string) (*workspace.Manifest, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("failed to open tarball: %w", err)
	}
	defer f.Close()

	unzipped, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress tarball %s: %w", p, err)
	}
	defer unzipped.Close()

	tfs, err := tarfs.New(unzipped)
	if err != nil {
		return nil, fmt.Errorf("failed to read tarball %s: %w", p, err)
	}
	data, err := fs.ReadFile(tfs, path.Join(tarballPrefix, workspace.ManifestFilename))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNoTarballManifest
		}
		return nil, fmt.Errorf("failed to read manifest from tarball %s: %w", p, err)
	}
	return workspace.ParseManifest(data)
}

// isTarball reports whether pkgSpec names a tarball on disk, as opposed to
// a directory. A pkgSpec that does not exist is an error.
func isTarball(pkgSpec string) (bool, error) {
	info, err := os.Stat(pkgSpec)
	if err != nil {
		return false, fmt.Errorf("pkgSpec %s: %w", pkgSpec, err)
	}
	return info.Mode().IsRegular(), nil
}
