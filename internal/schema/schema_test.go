package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testOptions struct {
	Files []string `json:"files,omitempty"`
	Max   int      `json:"max,omitempty" jsonschema:"minimum=0"`
}

func TestReflectAndValidate(t *testing.T) {
	r := require.New(t)
	s, err := Compile(Reflect(&testOptions{}))
	r.NoError(err)

	r.NoError(s.Validate("rule", map[string]any{"files": []string{"a"}, "max": 2}))
	r.NoError(s.Validate("rule", map[string]any{}))

	err = s.Validate("rule", map[string]any{"max": -1})
	var verr *ValidationError
	r.ErrorAs(err, &verr)
	r.Equal("rule", verr.Subject)

	err = s.Validate("rule", map[string]any{"unknown": true})
	r.Error(err, "additional properties are rejected")
}

func TestCompileMalformed(t *testing.T) {
	_, err := Compile([]byte(`{"type": 12`))
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestMergeDefaults(t *testing.T) {
	defaults := map[string]any{"a": 1, "b": 2}
	merged := MergeDefaults(defaults, map[string]any{"b": 3})
	assert.Equal(t, map[string]any{"a": 1, "b": 3}, merged)
	assert.Equal(t, 2, defaults["b"], "defaults are not mutated")
}
