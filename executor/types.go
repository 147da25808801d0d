package executor

import (
	"context"

	"github.com/oxy-hq/oxy-engine/container"
	"github.com/oxy-hq/oxy-engine/event"
)

// AgentInput is the parameter bundle the workflow executor renders and
// passes to the agent launcher for an Agent task (spec.md §4.1).
type AgentInput struct {
	AgentRef string
	Prompt   string
}

// AgentResult is what an AgentLauncher returns for a single agent run:
// the raw output plus the set of artifact references it produced.
type AgentResult struct {
	Output     container.OutputContainer
	References []string
}

// AgentLauncher is the dispatch point the executor calls for Task.Agent,
// implemented by package agent/launcher. It is an interface here so the
// executor never imports the agent FSM/ReAct packages directly (avoiding
// an import cycle, since agent/launcher calls back into executor for
// Workflow sub-agent triggers).
type AgentLauncher interface {
	Launch(ctx context.Context, in AgentInput, writer event.Writer) (AgentResult, error)
}

// ConsistencyPicker selects the winning candidate from an N-vote
// consistency run (spec.md §4.1, §4.3). Implemented by agent/launcher's
// majority-vote picker by default.
type ConsistencyPicker interface {
	Pick(ctx context.Context, candidates []AgentResult, taskDescription, agentRef string) (winnerIdx int, score float64, err error)
}

// Column describes one field of a SQL result schema.
type Column struct {
	Name string
	Type string
}

// QueryResult is the uniform shape a Connector returns for a loaded query.
type QueryResult struct {
	Columns []Column
	Rows    [][]any
}

// Connector is the uniform SQL execution surface the executor dispatches
// ExecuteSQL tasks through (spec.md §4.7). Backends live under package
// connector; this interface is declared here (not imported from there) so
// executor has no dependency on any specific driver.
type Connector interface {
	RunQuery(ctx context.Context, sql string) (string, error)
	RunQueryAndLoad(ctx context.Context, sql string) (QueryResult, error)
	RunQueryWithLimit(ctx context.Context, sql string, limit int) (QueryResult, error)
	ExplainQuery(ctx context.Context, sql string) (string, error)
	DryRun(ctx context.Context, sql string) error
}

// ConnectorResolver resolves a configured database reference to a live
// Connector.
type ConnectorResolver interface {
	Connector(name string) (Connector, error)
}
