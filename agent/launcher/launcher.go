// Package launcher is the dispatch point executor.Deps.Agents points at: it
// resolves an agent reference to a runnable implementation — the default
// ReAct loop (package agent/react) or a full agentic FSM (package
// agent/fsm) — and adapts its result into executor.AgentResult. Grounded on
// original_source's crates/agent/src/agent_launcher.rs's AgentLauncher,
// collapsed since the Temporal workflow plumbing, A2A task tracking, and
// sandbox/session-filter concerns it carries are out of scope here (see
// DESIGN.md's dropped-dependency ledger).
package launcher

import (
	"context"
	"encoding/json"

	"github.com/oxy-hq/oxy-engine/agent/fsm"
	"github.com/oxy-hq/oxy-engine/agent/react"
	"github.com/oxy-hq/oxy-engine/chatmodel"
	"github.com/oxy-hq/oxy-engine/container"
	"github.com/oxy-hq/oxy-engine/event"
	"github.com/oxy-hq/oxy-engine/executor"
	"github.com/oxy-hq/oxy-engine/oxyerr"
)

// Runnable is anything the launcher can drive to produce a result for an
// agent reference — the default ReAct agent and a full agentic FSM machine
// both implement it.
type Runnable interface {
	Run(ctx context.Context, writer event.Writer, prompt string) (container.OutputContainer, []string, error)
}

// Resolver maps an agent reference to the Runnable configured for it.
type Resolver interface {
	Resolve(agentRef string) (Runnable, error)
}

// Launcher implements executor.AgentLauncher.
type Launcher struct {
	Resolver Resolver
}

// Launch resolves in.AgentRef and runs it, adapting the result into the
// shape package executor expects.
func (l *Launcher) Launch(ctx context.Context, in executor.AgentInput, writer event.Writer) (executor.AgentResult, error) {
	runnable, err := l.Resolver.Resolve(in.AgentRef)
	if err != nil {
		return executor.AgentResult{}, err
	}
	out, refs, err := runnable.Run(ctx, writer, in.Prompt)
	if err != nil {
		return executor.AgentResult{}, err
	}
	return executor.AgentResult{Output: out, References: refs}, nil
}

// ReactRunnable adapts package agent/react's Agent to Runnable.
type ReactRunnable struct {
	Agent react.Agent
}

func (r ReactRunnable) Run(ctx context.Context, writer event.Writer, prompt string) (container.OutputContainer, []string, error) {
	result, err := r.Agent.Run(ctx, writer, prompt)
	if err != nil {
		return container.OutputContainer{}, nil, err
	}
	return container.Text(result.Output), nil, nil
}

// FSMRunnable drives a full Idle → Plan → Execute* → Synthesize machine
// (package agent/fsm) to completion for one agent reference.
type FSMRunnable struct {
	Builder     fsm.TriggerBuilder
	Idle        fsm.Trigger
	Plan        fsm.Trigger
	Synthesize  fsm.Trigger
	Transitions []string // execute-phase transition names, run in order
}

func (f FSMRunnable) Run(ctx context.Context, writer event.Writer, prompt string) (container.OutputContainer, []string, error) {
	state := &fsm.MachineContext{
		Messages: []chatmodel.Message{{Role: chatmodel.RoleUser, Parts: []chatmodel.Part{chatmodel.TextPart{Text: prompt}}}},
	}

	if err := f.Idle.Run(ctx, writer, state); err != nil {
		return container.OutputContainer{}, nil, err
	}
	if err := f.Plan.Run(ctx, writer, state); err != nil {
		return container.OutputContainer{}, nil, err
	}
	for _, name := range f.Transitions {
		trigger, err := f.Builder.Build(ctx, name, prompt)
		if err != nil {
			return container.OutputContainer{}, nil, err
		}
		if err := trigger.Run(ctx, writer, state); err != nil {
			return container.OutputContainer{}, nil, err
		}
	}
	if err := f.Synthesize.Run(ctx, writer, state); err != nil {
		return container.OutputContainer{}, nil, err
	}

	content := ""
	if state.Content != nil {
		content = *state.Content
	}
	return container.Text(content), nil, nil
}

// MajorityPicker implements executor.ConsistencyPicker with exact-match
// voting over each candidate's canonical JSON form: the value with the most
// votes wins (ties broken by the lexicographically smaller canonical form,
// for determinism), and score is the winning fraction of votes (spec.md
// §4.3, scenario E4: 5 runs producing [42,42,41,42,43] pick 42 with
// score 0.6).
type MajorityPicker struct{}

func (MajorityPicker) Pick(ctx context.Context, candidates []executor.AgentResult, taskDescription, agentRef string) (int, float64, error) {
	if len(candidates) == 0 {
		return 0, 0, oxyerr.New(oxyerr.RuntimeError, "no candidates to pick from for task %q", taskDescription)
	}

	type bucket struct {
		key     string
		indexes []int
	}
	buckets := map[string]*bucket{}
	order := make([]string, 0, len(candidates))
	for i, c := range candidates {
		key := canonicalKey(c.Output)
		b, ok := buckets[key]
		if !ok {
			b = &bucket{key: key}
			buckets[key] = b
			order = append(order, key)
		}
		b.indexes = append(b.indexes, i)
	}

	var best *bucket
	for _, key := range order {
		b := buckets[key]
		switch {
		case best == nil:
			best = b
		case len(b.indexes) > len(best.indexes):
			best = b
		case len(b.indexes) == len(best.indexes) && b.key < best.key:
			best = b
		}
	}

	score := float64(len(best.indexes)) / float64(len(candidates))
	return best.indexes[0], score, nil
}

func canonicalKey(c container.OutputContainer) string {
	b, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return string(b)
}
