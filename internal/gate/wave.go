package gate

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/msageha/overseer/internal/model"
)

// RunWave executes specs in FIFO batches of at most maxConcurrency
// concurrent processes. A full batch is joined before the next one
// launches; each gate writes its own log and result files, so a crash
// mid-wave loses nothing already finished. Results come back in
// declaration order.
//
// First-failure attribution is by declaration order, never completion
// order: FirstFailure scans the ordered results after all batches join.
func RunWave(ctx context.Context, runner *Runner, specs []model.GateSpec, maxConcurrency int) []model.GateResult {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	results := make([]model.GateResult, len(specs))

	for start := 0; start < len(specs); start += maxConcurrency {
		end := start + maxConcurrency
		if end > len(specs) {
			end = len(specs)
		}

		var g errgroup.Group
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				results[i] = runner.Run(ctx, specs[i])
				return nil
			})
		}
		// Gates report failure through their result files, not through
		// errors, so the join never fails.
		_ = g.Wait()

		if ctx.Err() != nil {
			for i := end; i < len(specs); i++ {
				results[i] = model.GateResult{Name: specs[i].Name, Outcome: model.GateSkipped}
			}
			break
		}
	}
	return results
}

// FirstFailure returns the first failed result in declaration order, or
// nil when every executed gate passed.
func FirstFailure(results []model.GateResult) *model.GateResult {
	for i := range results {
		if results[i].Failed() {
			return &results[i]
		}
	}
	return nil
}
