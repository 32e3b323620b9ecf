// Package enum provides a pflag.Value restricted to a fixed set of options.
package enum

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/pflag"
)

// Flag is a string flag that only accepts one of its options. The first
// option is the default.
type Flag struct {
	value   string
	options []string
}

var _ pflag.Value = (*Flag)(nil)

// New creates a Flag. It panics without options.
func New(options ...string) *Flag {
	if len(options) == 0 {
		panic("enum flag requires at least one option")
	}
	return &Flag{value: options[0], options: options}
}

func (f *Flag) String() string {
	return f.value
}

func (f *Flag) Set(value string) error {
	if !slices.Contains(f.options, value) {
		return fmt.Errorf("must be one of %s", strings.Join(f.options, ", "))
	}
	f.value = value
	return nil
}

func (f *Flag) Type() string {
	return "enum"
}

// Options returns the accepted values.
func (f *Flag) Options() []string {
	return slices.Clone(f.options)
}

// Var adds an enum flag to fs.
func Var(fs *pflag.FlagSet, name string, options []string, usage string) {
	VarP(fs, name, "", options, usage)
}

// VarP is like Var with a shorthand.
func VarP(fs *pflag.FlagSet, name, shorthand string, options []string, usage string) {
	f := New(options...)
	fs.VarP(f, name, shorthand, fmt.Sprintf("%s (must be one of [%s])", usage, strings.Join(options, " ")))
}

// Get returns the value of the enum flag name.
func Get(fs *pflag.FlagSet, name string) (string, error) {
	flag := fs.Lookup(name)
	if flag == nil {
		return "", fmt.Errorf("flag %q not defined", name)
	}
	f, ok := flag.Value.(*Flag)
	if !ok {
		return "", fmt.Errorf("flag %q is not an enum flag", name)
	}
	return f.String(), nil
}
