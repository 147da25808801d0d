// Package launch is the single entry point spec.md §6 calls out in place of
// an A2A/MCP/REST surface: Launch resolves a workflow reference, sets up its
// run namespace, drives the executor to completion, and fans every event
// generated along the way both to the caller's handler and to the run's
// event log. Grounded on the teacher's engine.Engine.StartWorkflow /
// WorkflowHandle.Wait shape (runtime/agent/engine/engine.go), collapsed to
// one in-process call since there is no separate worker process here to
// hand a WorkflowStartRequest to and no Wait to block on afterward.
package launch

import (
	"context"

	"github.com/oxy-hq/oxy-engine/checkpoint"
	"github.com/oxy-hq/oxy-engine/config"
	"github.com/oxy-hq/oxy-engine/container"
	"github.com/oxy-hq/oxy-engine/event"
	"github.com/oxy-hq/oxy-engine/executor"
	"github.com/oxy-hq/oxy-engine/telemetry"
	"github.com/oxy-hq/oxy-engine/workflowdef"
)

// Input bundles everything a single Launch call needs: which workflow to
// run, the variables it was invoked with, and how it should resume relative
// to prior runs of the same workflow root (spec.md §4.2).
type Input struct {
	WorkflowRef string
	Variables   map[string]any
	Retry       checkpoint.RetryStrategy
	// EventDepth overrides the default BufWriter channel depth; 0 uses
	// event.DefaultDepth.
	EventDepth int
}

// Runner bundles the collaborators Launch drives. Constructed once by the
// embedder and reused across launches.
type Runner struct {
	Config      config.Resolver
	Checkpoints *checkpoint.Manager
	Executor    *executor.Executor
	Logger      telemetry.Logger
}

// NewRunner constructs a Runner. A nil Logger defaults to a no-op logger.
func NewRunner(cfg config.Resolver, checkpoints *checkpoint.Manager, exec *executor.Executor, logger telemetry.Logger) *Runner {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	if checkpoints != nil {
		checkpoints.Logger = logger
	}
	return &Runner{Config: cfg, Checkpoints: checkpoints, Executor: exec, Logger: logger}
}

// Launch resolves in.WorkflowRef through r.Config, runs it through
// r.Executor under a run namespace resolved per in.Retry, and streams every
// event produced to handler as it is emitted. On success, the run's
// _SUCCESS marker is written before Launch returns.
func (r *Runner) Launch(ctx context.Context, in Input, handler event.Handler) (container.OutputContainer, error) {
	ref, err := r.Config.Workflow(in.WorkflowRef)
	if err != nil {
		return container.OutputContainer{}, err
	}
	wf, err := workflowdef.Load(ref.Source)
	if err != nil {
		return container.OutputContainer{}, err
	}

	rootID := checkpoint.RootID(in.WorkflowRef)
	run, err := r.Checkpoints.ResolveRun(rootID, in.Retry)
	if err != nil {
		return container.OutputContainer{}, err
	}

	// RetryStrategy{Retry} replays the resumed run's recorded events to the
	// caller's handler, with their original timestamps, before any new event
	// flows (spec.md E3).
	if in.Retry.Kind == checkpoint.Retry {
		if err := r.Checkpoints.ReadEvents(ctx, run, handler); err != nil {
			return container.OutputContainer{}, err
		}
	}

	eventsFile, err := r.Checkpoints.NewEventWriter(run)
	if err != nil {
		return container.OutputContainer{}, err
	}
	defer eventsFile.Close()

	buf := event.NewBufWriter(in.EventDepth)
	fanout := fanoutHandler{ctx: ctx, logger: r.Logger, caller: handler, journal: eventsFile}

	drainDone := make(chan error, 1)
	go func() { drainDone <- buf.WriteToHandler(ctx, fanout) }()

	writer := buf.CreateWriter("workflow", "")
	out, runErr := r.Executor.Execute(ctx, wf, run, writer, in.Variables)
	buf.Close()

	if drainErr := <-drainDone; drainErr != nil && runErr == nil {
		runErr = drainErr
	}
	if runErr != nil {
		return container.OutputContainer{}, runErr
	}

	if err := r.Checkpoints.WriteSuccessMarker(run); err != nil {
		return container.OutputContainer{}, err
	}
	return out, nil
}

// fanoutHandler delivers every drained event to the caller's handler and to
// the run's append-only event log. A caller handler error aborts draining
// (the Writer contract); a journal write failure is logged and swallowed,
// per spec.md §7's "event write failures are logged but never fail the run".
type fanoutHandler struct {
	ctx     context.Context
	logger  telemetry.Logger
	caller  event.Handler
	journal *checkpoint.EventWriter
}

func (f fanoutHandler) HandleEvent(e event.Event) error {
	if f.caller != nil {
		if err := f.caller.HandleEvent(e); err != nil {
			return err
		}
	}
	if err := f.journal.HandleEvent(e); err != nil {
		f.logger.Warn(f.ctx, "failed to journal event", "error", err, "source_id", e.Source.ID, "kind", e.Kind.Tag)
	}
	return nil
}

var _ event.Handler = fanoutHandler{}
