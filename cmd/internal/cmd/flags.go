package cmd

import (
	"time"
)

const (
	// ConfigFlag names a configuration file that replaces the lookup.
	ConfigFlag = "config"
	// WorkingDirectoryFlag is the directory workspaces and configuration are
	// looked up from. Defaults to the current directory.
	WorkingDirectoryFlag = "working-directory"
	// PluginFlag adds a plugin reference to load next to the built-in one.
	PluginFlag = "plugin"
	// ProcessShutdownTimeoutFlag bounds the time child processes get to exit
	// when the CLI finishes.
	ProcessShutdownTimeoutFlag = "process-shutdown-timeout"
	// ProcessShutdownTimeoutDefault is the default of ProcessShutdownTimeoutFlag.
	ProcessShutdownTimeoutDefault = 10 * time.Second
)

// Flags of the smoke command.
const (
	PkgManagerFlag     = "pm"
	RuleFlag           = "rule"
	ReporterFlag       = "reporter"
	WorkspaceFlag      = "workspace"
	AllFlag            = "all"
	IncludeRootFlag    = "include-root"
	BailFlag           = "bail"
	LintFlag           = "lint"
	NoLintFlag         = "no-lint"
	LingerFlag         = "linger"
	JSONFlag           = "json"
	VerboseFlag        = "verbose"
	InstallTimeoutFlag = "install-timeout"
	ConcurrencyFlag    = "concurrency"
	TempFolderFlag     = "temp-folder"
)
