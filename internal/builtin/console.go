package builtin

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize/english"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mattn/go-isatty"

	"github.com/boneskull/midnight-smoker-sub006/internal/event"
	"github.com/boneskull/midnight-smoker-sub006/internal/pkgmanager"
	"github.com/boneskull/midnight-smoker-sub006/internal/reporter"
	"github.com/boneskull/midnight-smoker-sub006/internal/rule"
	"github.com/boneskull/midnight-smoker-sub006/internal/smoker"
	"github.com/boneskull/midnight-smoker-sub006/internal/worker"
)

var (
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true)
	dimStyle    = lipgloss.NewStyle().Faint(true)
)

const progressKey = "progress"

// isTerminal reports whether w is a terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// ConsoleReporter renders progress to stderr and a summary to stdout.
func ConsoleReporter() *reporter.Definition {
	progress := func(rc *reporter.Context, format string, args ...any) error {
		if on, _ := rc.State[progressKey].(bool); !on {
			return nil
		}
		_, err := fmt.Fprintf(rc.Stderr, format+"\n", args...)
		return err
	}
	summary := func(_ context.Context, rc *reporter.Context, ev event.Event) error {
		res, ok := ev.Data.(*smoker.RunResult)
		if !ok {
			return fmt.Errorf("%s event carries no run result", ev.Type)
		}
		return renderSummary(rc.Stdout, ev.Type, res)
	}
	return &reporter.Definition{
		Name:        "console",
		Description: "Human-readable output",
		When:        func(opts reporter.Options) bool { return !opts.JSON },
		Setup: func(_ context.Context, rc *reporter.Context) error {
			rc.State[progressKey] = rc.Options.Verbose || isTerminal(rc.Stderr)
			return nil
		},
		Listeners: map[event.Type]reporter.Listener{
			event.SmokeBegin: func(_ context.Context, rc *reporter.Context, _ event.Event) error {
				return progress(rc, "%s", headerStyle.Render("Smoking..."))
			},
			event.PkgManagerBegin: func(_ context.Context, rc *reporter.Context, ev event.Event) error {
				return progress(rc, "%s %s", dimStyle.Render("•"), ev.PkgManager)
			},
			event.PackOk: func(_ context.Context, rc *reporter.Context, ev event.Event) error {
				return progress(rc, "  %s packed %s", okStyle.Render("✔"), ev.PkgName)
			},
			event.PackFailed: func(_ context.Context, rc *reporter.Context, ev event.Event) error {
				return progress(rc, "  %s pack of %s failed: %s", failStyle.Render("✖"), ev.Workspace, ev.ErrMessage())
			},
			event.InstallOk: func(_ context.Context, rc *reporter.Context, ev event.Event) error {
				return progress(rc, "  %s installed %s with %s", okStyle.Render("✔"), ev.PkgName, ev.PkgManager)
			},
			event.InstallFailed: func(_ context.Context, rc *reporter.Context, ev event.Event) error {
				return progress(rc, "  %s install of %s failed: %s", failStyle.Render("✖"), ev.PkgName, ev.ErrMessage())
			},
			event.RuleFailed: func(_ context.Context, rc *reporter.Context, ev event.Event) error {
				return progress(rc, "  %s %s found issues in %s", warnStyle.Render("!"), ev.Rule, ev.PkgName)
			},
			event.RunScriptOk: func(_ context.Context, rc *reporter.Context, ev event.Event) error {
				return progress(rc, "  %s script %q in %s", okStyle.Render("✔"), ev.Script, ev.PkgName)
			},
			event.RunScriptFailed: func(_ context.Context, rc *reporter.Context, ev event.Event) error {
				return progress(rc, "  %s script %q in %s failed", failStyle.Render("✖"), ev.Script, ev.PkgName)
			},
			event.RunScriptSkipped: func(_ context.Context, rc *reporter.Context, ev event.Event) error {
				return progress(rc, "  %s script %q not found in %s", dimStyle.Render("-"), ev.Script, ev.PkgName)
			},
			event.Lingered: func(_ context.Context, rc *reporter.Context, ev event.Event) error {
				_, err := fmt.Fprintf(rc.Stderr, "%s %s\n", warnStyle.Render("Leaving temp dirs:"), strings.Join(ev.Dirs, ", "))
				return err
			},
			event.SmokeOk:     summary,
			event.SmokeFailed: summary,
			event.SmokeError:  summary,
			event.Aborted:     summary,
		},
	}
}

func renderSummary(w io.Writer, typ event.Type, res *smoker.RunResult) error {
	if len(res.Branches) > 0 {
		t := table.NewWriter()
		t.SetOutputMirror(w)
		t.AppendHeader(table.Row{"Package Manager", "Packed", "Installed", "Checks", "Scripts", "Result"})
		for _, b := range res.Branches {
			t.AppendRow(table.Row{
				b.PkgManager,
				fmt.Sprintf("%d/%d", countOK(b.Packs, func(p worker.PackOutcome) bool { return p.Err == nil }), len(b.Packs)),
				fmt.Sprintf("%d/%d", countOK(b.Installs, func(i worker.InstallOutcome) bool { return i.Err == nil }), len(b.Installs)),
				fmt.Sprintf("%d/%d", countOK(b.Checks, func(c rule.CheckResult) bool { return !c.HasErrors() }), len(b.Checks)),
				fmt.Sprintf("%d/%d", countOK(b.Scripts, func(s *pkgmanager.RunScriptResult) bool { return !s.Failed() }), len(b.Scripts)),
				branchLabel(b),
			})
		}
		style := table.StyleLight
		style.Options.DrawBorder = false
		t.SetStyle(style)
		t.Render()
	}

	for _, b := range res.Branches {
		for _, c := range b.Checks {
			for _, issue := range c.Issues {
				mark := warnStyle.Render("⚠")
				if issue.IsError() {
					mark = failStyle.Render("✖")
				}
				if _, err := fmt.Fprintf(w, "%s [%s] %s (%s): %s\n", mark, c.RuleID, c.PkgName, b.PkgManager, issue.Message); err != nil {
					return err
				}
			}
			if c.Err != nil {
				if _, err := fmt.Fprintf(w, "%s [%s] %s: rule failed: %v\n", failStyle.Render("✖"), c.RuleID, c.PkgName, c.Err); err != nil {
					return err
				}
			}
		}
		for _, s := range b.Scripts {
			if !s.Failed() {
				continue
			}
			line := fmt.Sprintf("%s script %q in %s (%s) failed", failStyle.Render("✖"), s.Script, s.PkgName, b.PkgManager)
			if s.Result != nil {
				line += fmt.Sprintf(" with exit code %d", s.Result.ExitCode)
				if stderr := strings.TrimSpace(s.Result.Stderr); stderr != "" {
					line += "\n" + dimStyle.Render(stderr)
				}
			} else if s.Err != nil {
				line += ": " + s.Err.Error()
			}
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
		}
		for _, err := range b.Errors {
			if _, werr := fmt.Fprintf(w, "%s %s: %v\n", failStyle.Render("✖"), b.PkgManager, err); werr != nil {
				return werr
			}
		}
	}

	took := res.Duration.Round(time.Millisecond)
	counts := fmt.Sprintf("%s with %s", english.Plural(len(res.Workspaces), "workspace", ""), english.Plural(len(res.PkgManagers), "package manager", ""))
	var line string
	switch typ {
	case event.SmokeOk:
		line = okStyle.Render("Smoke test passed") + fmt.Sprintf(": %s in %s", counts, took)
	case event.SmokeFailed:
		line = failStyle.Render("Smoke test failed") + fmt.Sprintf(": %s in %s", counts, took)
	case event.Aborted:
		line = warnStyle.Render("Smoke test aborted") + ": " + res.Message
	default:
		line = failStyle.Render("Smoke test errored") + ": " + res.Message
	}
	_, err := fmt.Fprintln(w, line)
	return err
}

func branchLabel(b *worker.Result) string {
	switch {
	case b.Aborted != nil:
		return warnStyle.Render("aborted")
	case b.Errored():
		return failStyle.Render("error")
	case b.Failed():
		return failStyle.Render("failed")
	}
	return okStyle.Render("ok")
}

func countOK[T any](items []T, ok func(T) bool) int {
	n := 0
	for _, it := range items {
		if ok(it) {
			n++
		}
	}
	return n
}
