package builtin

import (
	"context"
	"encoding/json"

	"github.com/boneskull/midnight-smoker-sub006/internal/event"
	"github.com/boneskull/midnight-smoker-sub006/internal/reporter"
	"github.com/boneskull/midnight-smoker-sub006/internal/smoker"
)

// JSONOutput is the document the JSON reporter writes once per run.
type JSONOutput struct {
	Type   event.Type        `json:"type"`
	Result *smoker.RunResult `json:"result,omitempty"`
	Issues int               `json:"issues"`
	Error  string            `json:"error,omitempty"`
	Events []JSONOutputEvent `json:"events,omitempty"`
}

// JSONOutputEvent is one event recorded in verbose mode.
type JSONOutputEvent struct {
	event.Event
	Error string `json:"error,omitempty"`
}

const eventsKey = "events"

// JSONReporter writes the run result to stdout as a single JSON document.
// In verbose mode the document also carries every event without its data.
func JSONReporter() *reporter.Definition {
	record := func(_ context.Context, rc *reporter.Context, ev event.Event) error {
		if !rc.Options.Verbose {
			return nil
		}
		msg := ev.ErrMessage()
		ev.Data = nil
		events, _ := rc.State[eventsKey].([]JSONOutputEvent)
		rc.State[eventsKey] = append(events, JSONOutputEvent{Event: ev, Error: msg})
		return nil
	}
	done := func(ctx context.Context, rc *reporter.Context, ev event.Event) error {
		if err := record(ctx, rc, ev); err != nil {
			return err
		}
		out := JSONOutput{Type: ev.Type, Error: ev.ErrMessage()}
		if res, ok := ev.Data.(*smoker.RunResult); ok {
			out.Result = res
			out.Issues = len(res.Issues())
		}
		out.Events, _ = rc.State[eventsKey].([]JSONOutputEvent)
		enc := json.NewEncoder(rc.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	listeners := make(map[event.Type]reporter.Listener, len(event.Types))
	for _, typ := range event.Types {
		if typ.Terminal() {
			listeners[typ] = done
		} else {
			listeners[typ] = record
		}
	}
	return &reporter.Definition{
		Name:        "json",
		Description: "Machine-readable JSON output",
		When:        func(opts reporter.Options) bool { return opts.JSON },
		Listeners:   listeners,
	}
}
