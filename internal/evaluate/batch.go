package evaluate

import (
	"context"
	"fmt"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/nanofit/internal/monitoring"
)

// Sink receives outcomes one at a time from a single goroutine.
type Sink func(*Outcome) error

// AllIndices returns 0..n-1.
func AllIndices(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// EvaluateAll scores indices on up to workers goroutines (NumCPU when
// workers <= 0). Degenerate, divergent and otherwise candidate-specific
// failures are recorded on their outcome; configuration, data and context
// errors abort the batch, as does an error from sink. Outcomes are returned
// in index order.
func (e *Evaluator) EvaluateAll(ctx context.Context, indices []int, workers int, sink Sink) ([]*Outcome, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	results := make(chan *Outcome)

	var waitErr error
	go func() {
		for _, idx := range indices {
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				out, err := e.evaluate(gctx, idx)
				if err != nil && !recordable(err) {
					return err
				}
				select {
				case results <- out:
					return nil
				case <-gctx.Done():
					return gctx.Err()
				}
			})
		}
		waitErr = g.Wait()
		close(results)
	}()

	outcomes := make([]*Outcome, 0, len(indices))
	var sinkErr error
	failed := 0
	for out := range results {
		outcomes = append(outcomes, out)
		if !out.OK() {
			failed++
			monitoring.Debugf("candidate %d skipped: %v", out.Index, out.Err)
		}
		if sink != nil && sinkErr == nil {
			if err := sink(out); err != nil {
				sinkErr = fmt.Errorf("failed to record candidate %d: %w", out.Index, err)
				cancel()
			}
		}
	}
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].Index < outcomes[j].Index })

	if sinkErr != nil {
		return outcomes, sinkErr
	}
	if waitErr != nil {
		return outcomes, waitErr
	}
	if err := ctx.Err(); err != nil {
		return outcomes, err
	}
	monitoring.Logf("evaluated %d candidates (%d failed) on %d workers", len(outcomes), failed, workers)
	return outcomes, nil
}
