package executor

import (
	"context"
	"encoding/json"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/oxy-hq/oxy-engine/checkpoint"
	"github.com/oxy-hq/oxy-engine/container"
	"github.com/oxy-hq/oxy-engine/event"
	"github.com/oxy-hq/oxy-engine/oxyerr"
	"github.com/oxy-hq/oxy-engine/render"
	"github.com/oxy-hq/oxy-engine/workflowdef"
)

// runLoop evaluates a LoopSequential task's Values (literal list or rendered
// template, spec.md §4.1) and runs its inner task list once per value,
// bounded to task.Concurrency (or the executor default) concurrent
// iterations via golang.org/x/sync/semaphore, preserving result order
// despite out-of-order completion.
func (e *Executor) runLoop(ctx context.Context, task workflowdef.Task, run checkpoint.RunInfo, writer event.Writer, renderer render.Renderer) (container.OutputContainer, error) {
	values, err := e.loopValues(task, renderer)
	if err != nil {
		return container.OutputContainer{}, err
	}
	if len(values) == 0 {
		return container.List(), nil
	}

	concurrency := task.Concurrency
	if concurrency <= 0 {
		concurrency = e.deps.DefaultLoopConcurrency
	}
	if concurrency > len(values) {
		concurrency = len(values)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := semaphore.NewWeighted(int64(concurrency))
	results := make([]container.OutputContainer, len(values))
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		firstErr error
	)

	for i, raw := range values {
		if err := sem.Acquire(loopCtx, 1); err != nil {
			mu.Lock()
			if firstErr == nil {
				firstErr = oxyerr.Wrap(oxyerr.Cancelled, err, "loop task %q cancelled", task.Name)
			}
			mu.Unlock()
			break
		}
		wg.Add(1)
		go func(i int, raw json.RawMessage) {
			defer wg.Done()
			defer sem.Release(1)

			var value any
			if uerr := json.Unmarshal(raw, &value); uerr != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = oxyerr.Wrap(oxyerr.SerializationError, uerr, "decode loop value %d for task %q", i, task.Name)
				}
				mu.Unlock()
				cancel()
				return
			}

			idx := i
			iterWriter := writer.WithChild("loop_iteration").WithIterationIndex(idx)
			iterRenderer := renderer.WithContext(map[string]any{"value": value, "index": idx})
			out, rerr := e.ExecuteTasks(loopCtx, task.Tasks, run, iterWriter, iterRenderer)
			if rerr != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = rerr
				}
				mu.Unlock()
				cancel()
				return
			}
			results[i] = out
		}(i, raw)
	}
	wg.Wait()

	if firstErr != nil {
		return container.OutputContainer{}, firstErr
	}
	return container.List(results...), nil
}

// loopValues resolves a loop task's iteration values: a literal YAML
// sequence decodes directly, while a template string is rendered then
// decoded as a JSON array.
func (e *Executor) loopValues(task workflowdef.Task, renderer render.Renderer) ([]json.RawMessage, error) {
	if literal, ok, err := task.ValuesLiteral(); err != nil {
		return nil, err
	} else if ok {
		return literal, nil
	}

	tmpl, ok := task.ValuesTemplate()
	if !ok {
		return nil, oxyerr.New(oxyerr.ConfigurationError, "loop task %q has no values", task.Name)
	}
	rendered, err := renderer.Render(tmpl)
	if err != nil {
		return nil, oxyerr.Wrap(oxyerr.RuntimeError, err, "render loop values for task %q", task.Name)
	}

	var generic []any
	if err := json.Unmarshal([]byte(rendered), &generic); err != nil {
		return nil, oxyerr.Wrap(oxyerr.SerializationError, err, "decode rendered loop values for task %q", task.Name)
	}
	out := make([]json.RawMessage, len(generic))
	for i, v := range generic {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, oxyerr.Wrap(oxyerr.SerializationError, err, "marshal loop value %d", i)
		}
		out[i] = b
	}
	return out, nil
}
