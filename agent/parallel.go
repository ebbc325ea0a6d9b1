package agent

import (
	"context"
	"sync"

	"github.com/hupe1980/supportmesh/core"
)

// Parallel invokes agents concurrently on the same input and waits for all of
// them. Results are indexed like agents; a failed branch never cancels its
// siblings. Overall latency is bounded by the slowest branch, each branch by
// the runner timeout.
func (r *Runner) Parallel(ctx context.Context, in core.AgentInput, agents ...core.Agent) []Result {
	results := make([]Result, len(agents))

	var wg sync.WaitGroup

	for i, a := range agents {
		wg.Add(1)
		go func(i int, a core.Agent) {
			defer wg.Done()
			results[i] = r.Run(ctx, a, in)
		}(i, a)
	}

	wg.Wait()

	return results
}

// FirstError returns the first failed result's error, if any.
func FirstError(results []Result) error {
	for _, res := range results {
		if res.Err != nil {
			return res.Err
		}
	}
	return nil
}
