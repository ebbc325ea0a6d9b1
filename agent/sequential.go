package agent

import (
	"context"
	"fmt"

	"github.com/hupe1980/supportmesh/core"
)

// Sequential invokes agents in order. Every stage receives the outputs of all
// previous stages as Upstream. The first failure stops the chain; the outputs
// completed so far are returned together with the error.
func (r *Runner) Sequential(ctx context.Context, in core.AgentInput, agents ...core.Agent) ([]core.StageOutput, error) {
	chain := make([]core.StageOutput, 0, len(agents))

	for _, a := range agents {
		if err := ctx.Err(); err != nil {
			return chain, err
		}

		stageIn := in
		stageIn.Upstream = append(append([]core.StageOutput(nil), in.Upstream...), chain...)

		res := r.Run(ctx, a, stageIn)
		if res.Err != nil {
			return chain, fmt.Errorf("sequential execution failed at agent %s: %w", a.Name(), res.Err)
		}

		chain = append(chain, res.Stage)
	}

	return chain, nil
}
