// Package list implements the list-* commands, which print the components
// contributed by the loaded plugins.
package list

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	smokerctx "github.com/boneskull/midnight-smoker-sub006/internal/context"
	"github.com/boneskull/midnight-smoker-sub006/internal/flags/enum"
	"github.com/boneskull/midnight-smoker-sub006/internal/plugin"
	"github.com/boneskull/midnight-smoker-sub006/internal/reporter"
)

const FlagOutput = "output"

// Formats are the values of the output flag.
var Formats = []string{"table", "json", "yaml"}

// RuleEntry is a rule as printed by list-rules.
type RuleEntry struct {
	ID              string `json:"id"`
	Plugin          string `json:"plugin"`
	DefaultSeverity string `json:"defaultSeverity"`
	Description     string `json:"description,omitempty"`
	URL             string `json:"url,omitempty"`
}

// ReporterEntry is a reporter as printed by list-reporters.
type ReporterEntry struct {
	ID          string `json:"id"`
	Plugin      string `json:"plugin"`
	Description string `json:"description,omitempty"`
	// Default lists the modes the reporter is selected in without being
	// requested.
	Default []string `json:"default,omitempty"`
}

// PkgManagerEntry is an adapter as printed by list-pkg-managers.
type PkgManagerEntry struct {
	ID          string `json:"id"`
	Plugin      string `json:"plugin"`
	Bin         string `json:"bin,omitempty"`
	Supported   string `json:"supportedVersions,omitempty"`
	Description string `json:"description,omitempty"`
}

// NewRules creates the list-rules command.
func NewRules() *cobra.Command {
	return newCommand("list-rules", "List the available rules", func(cmd *cobra.Command, reg *plugin.Registry, format string) error {
		entries := Rules(reg)
		return encode(cmd.OutOrStdout(), format, entries,
			table.Row{"Rule", "Plugin", "Severity", "Description"},
			func(e RuleEntry) table.Row {
				return table.Row{e.ID, e.Plugin, e.DefaultSeverity, e.Description}
			})
	})
}

// NewReporters creates the list-reporters command.
func NewReporters() *cobra.Command {
	return newCommand("list-reporters", "List the available reporters", func(cmd *cobra.Command, reg *plugin.Registry, format string) error {
		entries := Reporters(reg)
		return encode(cmd.OutOrStdout(), format, entries,
			table.Row{"Reporter", "Plugin", "Default", "Description"},
			func(e ReporterEntry) table.Row {
				return table.Row{e.ID, e.Plugin, fmt.Sprint(e.Default), e.Description}
			})
	})
}

// NewPkgManagers creates the list-pkg-managers command.
func NewPkgManagers() *cobra.Command {
	return newCommand("list-pkg-managers", "List the available package managers", func(cmd *cobra.Command, reg *plugin.Registry, format string) error {
		entries := PkgManagers(reg)
		return encode(cmd.OutOrStdout(), format, entries,
			table.Row{"Package Manager", "Plugin", "Executable", "Supported", "Description"},
			func(e PkgManagerEntry) table.Row {
				return table.Row{e.ID, e.Plugin, e.Bin, e.Supported, e.Description}
			})
	})
}

type listFunc func(cmd *cobra.Command, reg *plugin.Registry, format string) error

func newCommand(use, short string, fn listFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg := smokerctx.FromContext(cmd.Context()).Registry()
			if reg == nil {
				return fmt.Errorf("could not get plugin registry")
			}
			format, err := enum.Get(cmd.Flags(), FlagOutput)
			if err != nil {
				return err
			}
			return fn(cmd, reg, format)
		},
		DisableAutoGenTag: true,
		SilenceUsage:      true,
	}
	enum.VarP(cmd.Flags(), FlagOutput, "o", Formats, "output format")
	return cmd
}

// Rules returns an entry per registered rule.
func Rules(reg *plugin.Registry) []RuleEntry {
	rules := reg.Rules()
	out := make([]RuleEntry, 0, len(rules))
	for _, r := range rules {
		out = append(out, RuleEntry{
			ID:              r.ID(),
			Plugin:          r.Component.PluginName,
			DefaultSeverity: string(r.DefaultSeverity()),
			Description:     r.Definition.Description,
			URL:             r.Definition.URL,
		})
	}
	return out
}

// Reporters returns an entry per registered reporter.
func Reporters(reg *plugin.Registry) []ReporterEntry {
	reporters := reg.Reporters()
	out := make([]ReporterEntry, 0, len(reporters))
	for _, r := range reporters {
		e := ReporterEntry{ID: r.ID(), Plugin: r.Component.PluginName, Description: r.Definition.Description}
		if when := r.Definition.When; when != nil {
			if when(reporter.Options{}) {
				e.Default = append(e.Default, "text")
			}
			if when(reporter.Options{JSON: true}) {
				e.Default = append(e.Default, "json")
			}
		}
		out = append(out, e)
	}
	return out
}

// PkgManagers returns an entry per registered package-manager adapter.
func PkgManagers(reg *plugin.Registry) []PkgManagerEntry {
	candidates := reg.PackageManagers()
	out := make([]PkgManagerEntry, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, PkgManagerEntry{
			ID:          c.Component.ID,
			Plugin:      c.Component.PluginName,
			Bin:         c.Adapter.Bin,
			Supported:   c.Adapter.SupportedVersions,
			Description: c.Adapter.Description,
		})
	}
	return out
}

func encode[T any](w io.Writer, format string, entries []T, header table.Row, row func(T) table.Row) error {
	var (
		data []byte
		err  error
	)
	switch format {
	case "json":
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetIndent("", "  ")
		err = enc.Encode(entries)
		data = buf.Bytes()
	case "yaml":
		data, err = yaml.Marshal(entries)
	case "table":
		var buf bytes.Buffer
		t := table.NewWriter()
		t.SetOutputMirror(&buf)
		t.AppendHeader(header)
		for _, e := range entries {
			t.AppendRow(row(e))
		}
		t.SetColumnConfigs([]table.ColumnConfig{{Number: 2, AutoMerge: true}})
		style := table.StyleLight
		style.Options.DrawBorder = false
		t.SetStyle(style)
		t.Render()
		data = buf.Bytes()
	default:
		err = fmt.Errorf("unknown output format: %q", format)
	}
	if err != nil {
		return fmt.Errorf("encoding as %q failed: %w", format, err)
	}
	_, err = w.Write(data)
	return err
}
