package executor

import (
	"context"

	"github.com/oxy-hq/oxy-engine/event"
	"github.com/oxy-hq/oxy-engine/oxyerr"
	"github.com/oxy-hq/oxy-engine/workflowdef"
)

// runConsistency performs task.ConsistencyRun independent agent launches
// and asks the configured ConsistencyPicker to choose the winner (spec.md
// §4.3, scenario E4). Votes run sequentially: each is an expensive LLM call
// and the spec places no concurrency requirement on consistency runs the
// way it does on loop iterations.
func (e *Executor) runConsistency(ctx context.Context, task workflowdef.Task, in AgentInput, writer event.Writer) (AgentResult, float64, error) {
	if e.deps.Consistency == nil {
		return AgentResult{}, 0, oxyerr.New(oxyerr.ConfigurationError, "no consistency picker configured for task %q", task.Name)
	}

	candidates := make([]AgentResult, 0, task.ConsistencyRun)
	for i := 0; i < task.ConsistencyRun; i++ {
		voteWriter := writer.WithChild("consistency_vote")
		result, err := e.deps.Agents.Launch(ctx, in, voteWriter)
		if err != nil {
			return AgentResult{}, 0, oxyerr.Wrap(oxyerr.RuntimeError, err, "consistency vote %d failed for task %q", i, task.Name)
		}
		candidates = append(candidates, result)
	}

	winnerIdx, score, err := e.deps.Consistency.Pick(ctx, candidates, task.Name, task.AgentRef)
	if err != nil {
		return AgentResult{}, 0, err
	}
	if winnerIdx < 0 || winnerIdx >= len(candidates) {
		return AgentResult{}, 0, oxyerr.New(oxyerr.RuntimeError, "consistency picker returned out-of-range index %d", winnerIdx)
	}
	return candidates[winnerIdx], score, nil
}
