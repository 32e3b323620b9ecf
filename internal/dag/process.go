package dag

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/boneskull/midnight-smoker-sub006/internal/result"
)

// Outcome is the final state of one vertex after processing.
type Outcome string

const (
	OutcomeDone    Outcome = "done"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// ProcessFunc processes one vertex. It is called concurrently for
// independent vertices and at most once per vertex.
type ProcessFunc[K cmp.Ordered, V any] func(ctx context.Context, id K, value V) error

// Report records the outcome of every vertex.
type Report[K cmp.Ordered] struct {
	Outcomes map[K]Outcome
	// Errors holds the error of every failed vertex.
	Errors map[K]error
	// SkippedBy maps every skipped vertex to the failed vertex it depends
	// on. A vertex skipped because ctx was done maps to itself.
	SkippedBy map[K]K
}

// Failed returns the failed vertices, sorted.
func (r *Report[K]) Failed() []K {
	return r.with(OutcomeFailed)
}

// Skipped returns the skipped vertices, sorted.
func (r *Report[K]) Skipped() []K {
	return r.with(OutcomeSkipped)
}

func (r *Report[K]) with(o Outcome) []K {
	var out []K
	for k, v := range r.Outcomes {
		if v == o {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out
}

// Options configures Process.
type Options struct {
	// Concurrency limits the number of vertices processed at once. If <= 0,
	// concurrency is unlimited.
	Concurrency int
}

type completion[K cmp.Ordered] struct {
	id  K
	err error
}

// Process runs fn for every vertex once all of its dependencies are done.
// Unlike a batched traversal, a vertex starts as soon as its own
// dependencies complete. A failing vertex does not stop its siblings; its
// descendants are skipped. Once ctx is done no further vertex starts and
// the remaining ones are skipped. A panicking fn counts as a failure with a
// *result.PanicError.
func Process[K cmp.Ordered, V any](ctx context.Context, g *Graph[K, V], fn ProcessFunc[K, V], opts Options) *Report[K] {
	report := &Report[K]{
		Outcomes:  make(map[K]Outcome, len(g.Vertices)),
		Errors:    make(map[K]error),
		SkippedBy: make(map[K]K),
	}
	inDegree := make(map[K]int, len(g.Vertices))
	for id, v := range g.Vertices {
		inDegree[id] = v.InDegree
	}

	var eg errgroup.Group
	if opts.Concurrency > 0 {
		eg.SetLimit(opts.Concurrency)
	}
	done := make(chan completion[K], len(g.Vertices))

	skip := func(ids []K, cause K) {
		for _, id := range ids {
			if _, decided := report.Outcomes[id]; !decided {
				report.Outcomes[id] = OutcomeSkipped
				report.SkippedBy[id] = cause
			}
		}
	}

	ready := g.Roots()
	running := 0
	for len(ready) > 0 || running > 0 {
		slices.Sort(ready)
		for _, id := range ready {
			if _, decided := report.Outcomes[id]; decided {
				continue
			}
			if ctx.Err() != nil {
				skip(append([]K{id}, g.Descendants(id)...), id)
				continue
			}
			running++
			value := g.Vertices[id].Value
			eg.Go(func() error {
				done <- completion[K]{id: id, err: safely(ctx, fn, id, value)}
				return nil
			})
		}
		ready = nil
		if running == 0 {
			break
		}

		c := <-done
		running--
		if c.err != nil {
			slog.DebugContext(ctx, "graph vertex failed", "vertex", c.id, "error", c.err)
			report.Outcomes[c.id] = OutcomeFailed
			report.Errors[c.id] = c.err
			skip(g.Descendants(c.id), c.id)
			continue
		}
		report.Outcomes[c.id] = OutcomeDone
		for _, child := range g.Children(c.id) {
			inDegree[child]--
			if inDegree[child] == 0 {
				ready = append(ready, child)
			}
		}
	}
	_ = eg.Wait()
	return report
}

func safely[K cmp.Ordered, V any](ctx context.Context, fn ProcessFunc[K, V], id K, value V) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processing %v: %w", id, &result.PanicError{Value: r})
		}
	}()
	return fn(ctx, id, value)
}
