// Package test provides utilities for testing the smoker commands.
package test

import (
	"fmt"
	"io"
	"testing"

	"github.com/spf13/cobra"

	"github.com/boneskull/midnight-smoker-sub006/cmd"
	"github.com/boneskull/midnight-smoker-sub006/internal/flags/log"
)

// Options holds configuration for executing smoker in tests.
type Options struct {
	args   []string
	out    io.Writer
	err    io.Writer
	format string
}

// Option configures Options.
type Option func(*Options)

// WithArgs sets the command line arguments.
func WithArgs(args ...string) Option {
	return func(o *Options) {
		o.args = args
	}
}

// WithOutput captures the standard output of the command.
func WithOutput(out io.Writer) Option {
	return func(o *Options) {
		o.out = out
	}
}

// WithErrorOutput captures the error output of the command, which includes
// the logs.
func WithErrorOutput(err io.Writer) Option {
	return func(o *Options) {
		o.err = err
	}
}

// WithLogFormat sets the log format.
func WithLogFormat(format string) Option {
	return func(o *Options) {
		o.format = format
	}
}

// Smoker executes the root command with the given options.
func Smoker(tb testing.TB, opts ...Option) (*cobra.Command, error) {
	tb.Helper()

	opt := Options{}
	for _, o := range opts {
		o(&opt)
	}
	instance := cmd.New()
	if len(opt.args) == 0 {
		opt.args = []string{"help"}
	}
	if opt.out != nil {
		instance.SetOut(opt.out)
	}
	if opt.err != nil {
		instance.SetErr(opt.err)
	}
	if opt.format == "" {
		opt.format = log.FormatJSON
	}
	f := instance.PersistentFlags().Lookup(log.FormatFlagName)
	if err := f.Value.Set(opt.format); err != nil {
		return nil, fmt.Errorf("failed to set format: %w", err)
	}

	instance.SetArgs(opt.args)
	return instance.ExecuteContextC(tb.Context())
}
