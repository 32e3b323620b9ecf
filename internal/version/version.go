// Package version normalizes requested package-manager versions against the
// known versions and dist-tags an adapter declares.
//
// Normalization is a pure function of the requested value and the adapter's
// [Data], with fixed precedence:
//
//  1. an exact known version,
//  2. the greatest known version satisfying the value as a semver range,
//  3. the version a dist-tag of that name points to.
//
// A value that is both a known version and a tag resolves as a version.
package version

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// System is the sentinel version meaning "whatever is installed on the host".
const System = "system"

// DefaultTag is used when no version is requested.
const DefaultTag = "latest"

// Data is the known-versions table of an adapter.
type Data struct {
	// Versions lists every concrete version the adapter knows about.
	Versions []string `json:"versions"`
	// Tags maps dist-tags to one of Versions.
	Tags map[string]string `json:"tags,omitempty"`
}

// ValidationError reports a malformed version table.
type ValidationError struct {
	Errs []error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid version data: %v", errors.Join(e.Errs...))
}

func (e *ValidationError) Unwrap() []error {
	return e.Errs
}

// Validate checks that every version is valid semver, no version is listed
// twice and every tag points to a known version.
func (d Data) Validate() error {
	var errs []error
	if len(d.Versions) == 0 {
		errs = append(errs, errors.New("no versions declared"))
	}
	seen := make(map[string]struct{}, len(d.Versions))
	for _, v := range d.Versions {
		parsed, err := semver.StrictNewVersion(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("version %q is not valid semver: %w", v, err))
			continue
		}
		key := parsed.String()
		if _, ok := seen[key]; ok {
			errs = append(errs, fmt.Errorf("version %q is listed more than once", v))
		}
		seen[key] = struct{}{}
	}
	tags := make([]string, 0, len(d.Tags))
	for tag := range d.Tags {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	for _, tag := range tags {
		target := d.Tags[tag]
		if tag == "" {
			errs = append(errs, errors.New("empty dist-tag"))
			continue
		}
		parsed, err := semver.StrictNewVersion(target)
		if err != nil {
			errs = append(errs, fmt.Errorf("dist-tag %q points to invalid version %q", tag, target))
			continue
		}
		if _, ok := seen[parsed.String()]; !ok {
			errs = append(errs, fmt.Errorf("dist-tag %q points to unknown version %q", tag, target))
		}
	}
	if len(errs) > 0 {
		return &ValidationError{Errs: errs}
	}
	return nil
}

// Normalizer resolves requested values against one version table.
type Normalizer struct {
	// sorted ascending
	versions []*semver.Version
	tags     map[string]string
}

// NewNormalizer validates data and prepares it for lookups.
func NewNormalizer(data Data) (*Normalizer, error) {
	if err := data.Validate(); err != nil {
		return nil, err
	}
	versions := make([]*semver.Version, 0, len(data.Versions))
	for _, v := range data.Versions {
		// validated above
		parsed, _ := semver.StrictNewVersion(v)
		versions = append(versions, parsed)
	}
	slices.SortFunc(versions, func(a, b *semver.Version) int { return a.Compare(b) })
	tags := make(map[string]string, len(data.Tags))
	for tag, v := range data.Tags {
		parsed, _ := semver.StrictNewVersion(v)
		tags[tag] = parsed.String()
	}
	return &Normalizer{versions: versions, tags: tags}, nil
}

// Normalize resolves value to a concrete known version.
func (n *Normalizer) Normalize(value string) (string, bool) {
	if value == "" {
		value = DefaultTag
	}
	if v, ok := n.exact(value); ok {
		return v, true
	}
	if c, err := semver.NewConstraint(value); err == nil {
		return n.maxSatisfying(c)
	}
	if v, ok := n.tags[value]; ok {
		return v, true
	}
	return "", false
}

// Versions returns the known versions in ascending order.
func (n *Normalizer) Versions() []string {
	out := make([]string, 0, len(n.versions))
	for _, v := range n.versions {
		out = append(out, v.String())
	}
	return out
}

func (n *Normalizer) exact(value string) (string, bool) {
	parsed, err := semver.StrictNewVersion(value)
	if err != nil {
		return "", false
	}
	for _, v := range n.versions {
		if v.Equal(parsed) {
			return v.String(), true
		}
	}
	return "", false
}

func (n *Normalizer) maxSatisfying(c *semver.Constraints) (string, bool) {
	for i := len(n.versions) - 1; i >= 0; i-- {
		if c.Check(n.versions[i]) {
			return n.versions[i].String(), true
		}
	}
	return "", false
}

// Satisfies reports whether the concrete version v is inside the range
// rng. An empty range is satisfied by every valid version.
func Satisfies(v, rng string) (bool, error) {
	parsed, err := semver.NewVersion(v)
	if err != nil {
		return false, fmt.Errorf("version %q is not valid semver: %w", v, err)
	}
	if rng == "" {
		return true, nil
	}
	c, err := semver.NewConstraint(rng)
	if err != nil {
		return false, fmt.Errorf("range %q is not a valid semver range: %w", rng, err)
	}
	return c.Check(parsed), nil
}

// Clean returns the canonical form of a version reported by a binary, e.g.
// "v10.2.4\n" becomes "10.2.4".
func Clean(reported string) (string, error) {
	parsed, err := semver.NewVersion(strings.TrimSpace(reported))
	if err != nil {
		return "", fmt.Errorf("reported version %q is not valid semver: %w", reported, err)
	}
	return parsed.String(), nil
}
