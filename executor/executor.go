// Package executor walks a parsed workflow definition (package workflowdef)
// task by task, dispatching each task variant, threading rendered template
// context between them, and caching task output via package checkpoint.
// Ported from original_source's crates/core/src/workflow/builders/{mod.rs,task.rs}.
package executor

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/oxy-hq/oxy-engine/checkpoint"
	"github.com/oxy-hq/oxy-engine/config"
	"github.com/oxy-hq/oxy-engine/container"
	"github.com/oxy-hq/oxy-engine/event"
	"github.com/oxy-hq/oxy-engine/oxyerr"
	"github.com/oxy-hq/oxy-engine/render"
	"github.com/oxy-hq/oxy-engine/telemetry"
	"github.com/oxy-hq/oxy-engine/workflowdef"
)

// Deps bundles everything the executor needs to dispatch task variants.
// AgentLauncher, ConsistencyPicker and ConnectorResolver are interfaces
// declared in this package precisely so Deps can be constructed from
// anywhere without introducing an import cycle with agent/launcher or
// connector.
type Deps struct {
	Config                 config.Resolver
	Connectors              ConnectorResolver
	Agents                  AgentLauncher
	Consistency             ConsistencyPicker
	Checkpoints             *checkpoint.Manager
	DefaultLoopConcurrency  int
	Logger                  telemetry.Logger
	Metrics                 telemetry.Metrics
	Tracer                  telemetry.Tracer
}

// Executor dispatches a workflow's tasks per spec.md §4.1.
type Executor struct {
	deps Deps
}

// New constructs an Executor. A zero or negative DefaultLoopConcurrency
// defaults to 4. A nil Logger, Metrics or Tracer defaults to its no-op
// implementation; production embedders wire telemetry.NewClueLogger /
// telemetry.NewClueMetrics / telemetry.NewClueTracer into Deps instead.
func New(deps Deps) *Executor {
	if deps.DefaultLoopConcurrency <= 0 {
		deps.DefaultLoopConcurrency = 4
	}
	if deps.Logger == nil {
		deps.Logger = telemetry.NewNoopLogger()
	}
	if deps.Metrics == nil {
		deps.Metrics = telemetry.NewNoopMetrics()
	}
	if deps.Tracer == nil {
		deps.Tracer = telemetry.NewNoopTracer()
	}
	return &Executor{deps: deps}
}

// Execute resolves wf's variables against input, then runs its task list,
// emitting WorkflowStarted/WorkflowFinished events around the run.
func (e *Executor) Execute(ctx context.Context, wf *workflowdef.Workflow, run checkpoint.RunInfo, writer event.Writer, input map[string]any) (container.OutputContainer, error) {
	ctx, span := e.deps.Tracer.Start(ctx, "executor.Execute")
	defer span.End()
	e.deps.Logger.Info(ctx, "workflow execution starting", "workflow", wf.Name, "run_id", run.RunID)

	vars, err := resolveVariables(wf, render.NewMugoRenderer(nil), input)
	if err != nil {
		return container.OutputContainer{}, err
	}
	renderer := render.NewMugoRenderer(vars)

	if err := writer.Send(ctx, event.Kind{Tag: event.WorkflowStarted, Name: wf.Name}, nil); err != nil {
		return container.OutputContainer{}, err
	}

	result, err := e.ExecuteTasks(ctx, wf.Tasks, run, writer, renderer)
	if err != nil {
		span.RecordError(err)
		e.deps.Metrics.IncCounter("oxy.workflow.failed", 1, "workflow", wf.Name)
		_ = writer.Send(ctx, event.Kind{Tag: event.WorkflowFinished, Name: wf.Name, Error: err.Error()}, nil)
		return container.OutputContainer{}, err
	}
	e.deps.Metrics.IncCounter("oxy.workflow.completed", 1, "workflow", wf.Name)
	_ = writer.Send(ctx, event.Kind{Tag: event.WorkflowFinished, Name: wf.Name}, nil)
	return result, nil
}

// ExecuteTasks runs tasks in order, folding each task's result into the
// renderer's context under its own name so later tasks can reference it,
// and accumulating all results into a single Map container.
func (e *Executor) ExecuteTasks(ctx context.Context, tasks []workflowdef.Task, run checkpoint.RunInfo, writer event.Writer, renderer render.Renderer) (container.OutputContainer, error) {
	acc := container.MapOf(map[string]container.OutputContainer{})
	for _, task := range tasks {
		out, err := e.runTask(ctx, task, run, writer, renderer)
		if err != nil {
			return container.OutputContainer{}, err
		}
		acc = acc.Merge(container.Entry(task.Name, out))
		renderer = renderer.WithContext(map[string]any{task.Name: valueForContext(out)})
	}
	return acc, nil
}

// runTask wraps dispatch with the checkpoint caching contract: a cache hit
// (enabled task + prior checkpoint under this run) short-circuits dispatch
// entirely; a miss runs dispatch and writes the checkpoint on success. Start
// and finish events bracket both paths, per spec.md §4.1's "every task emits
// TaskStarted/TaskFinished regardless of cache outcome".
func (e *Executor) runTask(ctx context.Context, task workflowdef.Task, run checkpoint.RunInfo, writer event.Writer, renderer render.Renderer) (container.OutputContainer, error) {
	ctx, span := e.deps.Tracer.Start(ctx, "executor.runTask")
	span.AddEvent("task", "name", task.Name, "type", string(task.Type))
	defer span.End()
	start := time.Now()

	taskWriter := writer.WithChild("task")
	taskID, err := checkpoint.FingerprintID(task, renderer.Context())
	if err != nil {
		return container.OutputContainer{}, err
	}
	// The event-facing task id is "{name}-{hash(input)}"; the checkpoint id
	// above additionally covers the task definition.
	inputHash, err := checkpoint.FingerprintID(nil, renderer.Context())
	if err != nil {
		return container.OutputContainer{}, err
	}

	if err := taskWriter.Send(ctx, event.Kind{Tag: event.TaskStarted, Name: task.Name, Metadata: map[string]any{"task_id": task.Name + "-" + inputHash}}, nil); err != nil {
		return container.OutputContainer{}, err
	}

	cacheable := task.Cache != nil && task.Cache.Enabled && e.deps.Checkpoints != nil
	if cacheable && e.deps.Checkpoints.HasCheckpoint(run, taskID) {
		if data, rerr := e.deps.Checkpoints.ReadCheckpoint(run, taskID); rerr == nil {
			var out container.OutputContainer
			if uerr := json.Unmarshal(data.Output, &out); uerr == nil {
				e.deps.Metrics.IncCounter("oxy.task.cache_hit", 1, "task", task.Name)
				_ = taskWriter.Send(ctx, event.Kind{Tag: event.TaskFinished, Name: task.Name}, map[string]any{"cached": true})
				return out, nil
			} else {
				e.deps.Logger.Warn(ctx, "checkpoint body decode failed, treating as cache miss", "task", task.Name, "checkpoint_id", taskID, "error", uerr)
			}
		} else {
			// a malformed or unreadable checkpoint is treated as a cache miss
			// (spec.md §7) and falls through to re-dispatch below.
			e.deps.Logger.Warn(ctx, "checkpoint read failed, treating as cache miss", "task", task.Name, "checkpoint_id", taskID, "error", rerr)
		}
	}

	out, err := e.dispatch(ctx, task, run, taskWriter, renderer)
	if err != nil {
		span.RecordError(err)
		e.deps.Metrics.IncCounter("oxy.task.failed", 1, "task", task.Name, "type", string(task.Type))
		_ = taskWriter.Send(ctx, event.Kind{Tag: event.TaskFinished, Name: task.Name, Error: err.Error()}, nil)
		return container.OutputContainer{}, err
	}

	if cacheable {
		if body, merr := json.Marshal(out); merr == nil {
			_ = e.deps.Checkpoints.CreateCheckpoint(run, checkpoint.Data{CheckpointID: taskID, Output: body})
		}
	}

	e.deps.Metrics.RecordTimer("oxy.task.duration", time.Since(start), "task", task.Name, "type", string(task.Type))
	_ = taskWriter.Send(ctx, event.Kind{Tag: event.TaskFinished, Name: task.Name}, nil)
	return out, nil
}

func (e *Executor) dispatch(ctx context.Context, task workflowdef.Task, run checkpoint.RunInfo, writer event.Writer, renderer render.Renderer) (container.OutputContainer, error) {
	switch task.Type {
	case workflowdef.TaskAgent:
		return e.runAgent(ctx, task, writer, renderer)
	case workflowdef.TaskExecuteSQL:
		return e.runExecuteSQL(ctx, task, run, renderer)
	case workflowdef.TaskLoopSequential:
		return e.runLoop(ctx, task, run, writer, renderer)
	case workflowdef.TaskFormatter:
		return e.runFormatter(ctx, task, writer, renderer)
	case workflowdef.TaskWorkflow:
		return e.runSubWorkflow(ctx, task, writer, renderer)
	case workflowdef.TaskConditional:
		return e.runConditional(ctx, task, run, writer, renderer)
	default:
		return container.OutputContainer{}, oxyerr.New(oxyerr.ConfigurationError, "unsupported task type %q", task.Type)
	}
}

func (e *Executor) runAgent(ctx context.Context, task workflowdef.Task, writer event.Writer, renderer render.Renderer) (container.OutputContainer, error) {
	prompt, err := renderer.Render(task.Prompt)
	if err != nil {
		return container.OutputContainer{}, oxyerr.Wrap(oxyerr.RuntimeError, err, "render prompt for task %q", task.Name)
	}
	if e.deps.Agents == nil {
		return container.OutputContainer{}, oxyerr.New(oxyerr.ConfigurationError, "no agent launcher configured for task %q", task.Name)
	}
	in := AgentInput{AgentRef: task.AgentRef, Prompt: prompt}

	if task.ConsistencyRun > 1 {
		result, score, err := e.runConsistency(ctx, task, in, writer)
		if err != nil {
			return container.OutputContainer{}, err
		}
		wrapped := container.WithMetadata(result.Output, result.References, map[string]string{"source_prompt": prompt})
		return container.WithConsistency(*wrapped.Metadata, score), nil
	}

	result, err := e.deps.Agents.Launch(ctx, in, writer)
	if err != nil {
		return container.OutputContainer{}, err
	}
	return container.WithMetadata(result.Output, result.References, map[string]string{"source_prompt": prompt}), nil
}

func (e *Executor) runExecuteSQL(ctx context.Context, task workflowdef.Task, run checkpoint.RunInfo, renderer render.Renderer) (container.OutputContainer, error) {
	sql, err := renderer.Render(task.SQL)
	if err != nil {
		return container.OutputContainer{}, oxyerr.Wrap(oxyerr.RuntimeError, err, "render sql for task %q", task.Name)
	}
	if e.deps.Connectors == nil {
		return container.OutputContainer{}, oxyerr.New(oxyerr.ConfigurationError, "no connector resolver configured for task %q", task.Name)
	}
	conn, err := e.deps.Connectors.Connector(task.Database)
	if err != nil {
		return container.OutputContainer{}, err
	}

	if task.DryRunLimit != nil {
		if err := conn.DryRun(ctx, sql); err != nil {
			return container.OutputContainer{}, oxyerr.Wrap(oxyerr.DBError, err, "dry run failed for task %q", task.Name)
		}
	}

	result, err := conn.RunQueryAndLoad(ctx, sql)
	if err != nil {
		return container.OutputContainer{}, oxyerr.Wrap(oxyerr.DBError, err, "execute sql for task %q", task.Name)
	}

	body, err := json.Marshal(result.Rows)
	if err != nil {
		return container.OutputContainer{}, oxyerr.Wrap(oxyerr.SerializationError, err, "marshal result rows for task %q", task.Name)
	}

	path := ""
	if e.deps.Checkpoints != nil {
		path, err = e.deps.Checkpoints.WriteTableFile(run, task.Name+".json", body)
		if err != nil {
			return container.OutputContainer{}, err
		}
	}

	cols := make([]container.Column, len(result.Columns))
	for i, c := range result.Columns {
		cols[i] = container.Column{Name: c.Name, Type: c.Type}
	}
	return container.TableOf(container.Table{
		Path:        path,
		DatabaseRef: task.Database,
		SQL:         sql,
		Columns:     cols,
		RowCount:    len(result.Rows),
	}), nil
}

func (e *Executor) runFormatter(ctx context.Context, task workflowdef.Task, writer event.Writer, renderer render.Renderer) (container.OutputContainer, error) {
	text, err := renderer.Render(task.Template)
	if err != nil {
		return container.OutputContainer{}, oxyerr.Wrap(oxyerr.RuntimeError, err, "render formatter template for task %q", task.Name)
	}
	_ = writer.Send(ctx, event.Kind{Tag: event.Message, Message: text}, nil)
	return container.Text(text), nil
}

func (e *Executor) runSubWorkflow(ctx context.Context, task workflowdef.Task, writer event.Writer, renderer render.Renderer) (container.OutputContainer, error) {
	if e.deps.Config == nil {
		return container.OutputContainer{}, oxyerr.New(oxyerr.ConfigurationError, "no config resolver configured for task %q", task.Name)
	}
	ref, err := e.deps.Config.Workflow(task.Src)
	if err != nil {
		return container.OutputContainer{}, err
	}
	child, err := workflowdef.Load(ref.Source)
	if err != nil {
		return container.OutputContainer{}, err
	}

	input := make(map[string]any, len(task.Variables))
	for name, tmpl := range task.Variables {
		v, err := renderer.Render(tmpl)
		if err != nil {
			return container.OutputContainer{}, oxyerr.Wrap(oxyerr.RuntimeError, err, "render sub-workflow variable %q for task %q", name, task.Name)
		}
		input[name] = v
	}

	if e.deps.Checkpoints == nil {
		return container.OutputContainer{}, oxyerr.New(oxyerr.ConfigurationError, "no checkpoint manager configured for task %q", task.Name)
	}
	// A sub-workflow invocation gets its own run namespace, rooted on its
	// own source reference, rather than sharing the parent run's id: it is
	// independently cacheable and replayable.
	childRun, err := e.deps.Checkpoints.CreateRun(checkpoint.RootID(task.Src))
	if err != nil {
		return container.OutputContainer{}, err
	}
	return e.Execute(ctx, child, childRun, writer.WithChild("workflow"), input)
}

func (e *Executor) runConditional(ctx context.Context, task workflowdef.Task, run checkpoint.RunInfo, writer event.Writer, renderer render.Renderer) (container.OutputContainer, error) {
	rendered, err := renderer.Render(task.Condition)
	if err != nil {
		return container.OutputContainer{}, oxyerr.Wrap(oxyerr.RuntimeError, err, "render condition for task %q", task.Name)
	}
	branch := task.Else
	if isTruthy(rendered) {
		branch = task.Then
	}
	return e.ExecuteTasks(ctx, branch, run, writer, renderer)
}

// isTruthy implements the JS-like truthiness rules this REDESIGN FLAG calls
// for: after trimming surrounding whitespace and lowercasing, an empty
// string, "false" and "0" are falsy (so "  ", "FALSE" and " 0 " are falsy
// too); everything else is truthy.
func isTruthy(s string) bool {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "", "false", "0":
		return false
	default:
		return true
	}
}

// valueForContext flattens an OutputContainer into a plain Go value suitable
// for a template rendering context: wrapper kinds (Metadata, Consistency)
// unwrap to their inner value, List/Map recurse, and leaf kinds surface
// their scalar.
func valueForContext(c container.OutputContainer) any {
	switch c.Kind {
	case container.KindText:
		return c.Text
	case container.KindSQL:
		return c.SQL
	case container.KindTable:
		if c.Table != nil {
			return *c.Table
		}
		return nil
	case container.KindVariable:
		var v any
		_ = json.Unmarshal(c.Variable, &v)
		return v
	case container.KindList:
		out := make([]any, len(c.List))
		for i, item := range c.List {
			out[i] = valueForContext(item)
		}
		return out
	case container.KindMap:
		out := make(map[string]any, len(c.Map))
		for k, v := range c.Map {
			out[k] = valueForContext(v)
		}
		return out
	case container.KindMetadata:
		if c.Metadata != nil {
			return valueForContext(c.Metadata.Output)
		}
		return nil
	case container.KindConsistency:
		if c.Consistency != nil {
			return valueForContext(c.Consistency.Value.Output)
		}
		return nil
	default:
		return nil
	}
}
