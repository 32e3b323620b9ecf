package dag

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/boneskull/midnight-smoker-sub006/internal/result"
)

// diamond builds A -> {B, C} -> D.
func diamond(t *testing.T) *Graph[string, string] {
	r := require.New(t)
	g := New[string, string]()
	for _, id := range []string{"A", "B", "C", "D"} {
		r.NoError(g.AddVertex(id, id))
	}
	r.NoError(g.AddEdge("A", "B"))
	r.NoError(g.AddEdge("A", "C"))
	r.NoError(g.AddEdge("B", "D"))
	r.NoError(g.AddEdge("C", "D"))
	return g
}

func TestProcessTopology(t *testing.T) {
	r := require.New(t)
	var mu sync.Mutex
	var order []string
	report := Process(t.Context(), diamond(t), func(_ context.Context, _ string, v string) error {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, v)
		return nil
	}, Options{})

	idx := make(map[string]int)
	for i, v := range order {
		idx[v] = i
	}
	r.Len(order, 4)
	r.Less(idx["A"], idx["B"])
	r.Less(idx["A"], idx["C"])
	r.Less(idx["B"], idx["D"])
	r.Less(idx["C"], idx["D"])
	r.Empty(report.Failed())
	r.Empty(report.Skipped())
}

func TestProcessFailureSkipsDescendantsOnly(t *testing.T) {
	r := require.New(t)
	//  A -> B -> C
	//  X -> Y
	g := New[string, string]()
	for _, id := range []string{"A", "B", "C", "X", "Y"} {
		r.NoError(g.AddVertex(id, id))
	}
	r.NoError(g.AddEdge("A", "B"))
	r.NoError(g.AddEdge("B", "C"))
	r.NoError(g.AddEdge("X", "Y"))

	boom := errors.New("boom")
	var processed sync.Map
	report := Process(t.Context(), g, func(_ context.Context, id string, _ string) error {
		processed.Store(id, true)
		if id == "B" {
			return boom
		}
		return nil
	}, Options{Concurrency: 1})

	r.Equal([]string{"B"}, report.Failed())
	r.ErrorIs(report.Errors["B"], boom)
	r.Equal([]string{"C"}, report.Skipped())
	r.Equal("B", report.SkippedBy["C"])
	r.Equal(OutcomeDone, report.Outcomes["Y"], "siblings are unaffected")
	_, ran := processed.Load("C")
	r.False(ran)
}

func TestProcessPipelines(t *testing.T) {
	r := require.New(t)
	// A -> B and a slow, independent S. B must not wait for S.
	g := New[string, string]()
	for _, id := range []string{"A", "B", "S"} {
		r.NoError(g.AddVertex(id, id))
	}
	r.NoError(g.AddEdge("A", "B"))

	release := make(chan struct{})
	bDone := make(chan struct{})
	report := Process(t.Context(), g, func(ctx context.Context, id string, _ string) error {
		switch id {
		case "S":
			select {
			case <-bDone:
			case <-time.After(5 * time.Second):
				return errors.New("B waited for S")
			}
			close(release)
		case "B":
			close(bDone)
		}
		return nil
	}, Options{})
	<-release
	r.Empty(report.Failed())
}

func TestProcessCancellation(t *testing.T) {
	r := require.New(t)
	ctx, cancel := context.WithCancel(t.Context())
	report := Process(ctx, diamond(t), func(ctx context.Context, id string, _ string) error {
		if id == "A" {
			cancel()
		}
		return nil
	}, Options{})

	r.Equal(OutcomeDone, report.Outcomes["A"])
	r.Equal([]string{"B", "C", "D"}, report.Skipped())
}

func TestProcessPanicIsFailure(t *testing.T) {
	r := require.New(t)
	report := Process(t.Context(), diamond(t), func(_ context.Context, id string, _ string) error {
		if id == "C" {
			panic("nope")
		}
		return nil
	}, Options{})
	r.Equal([]string{"C"}, report.Failed())
	r.ErrorContains(report.Errors["C"], "processing C: panic: nope")
	var perr *result.PanicError
	r.ErrorAs(report.Errors["C"], &perr)
	r.Equal("nope", perr.Value)
	r.Equal([]string{"D"}, report.Skipped())
}

func TestProcessConcurrencyLimit(t *testing.T) {
	r := require.New(t)
	g := New[int, int]()
	for i := range 20 {
		r.NoError(g.AddVertex(i, i))
	}
	var current, peak atomic.Int32
	Process(t.Context(), g, func(context.Context, int, int) error {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		current.Add(-1)
		return nil
	}, Options{Concurrency: 3})
	r.LessOrEqual(peak.Load(), int32(3))
}
