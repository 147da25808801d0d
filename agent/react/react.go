// Package react implements the default single-loop ReAct agent: a
// function-calling chat completion loop that keeps calling tools until the
// model stops requesting them or an iteration cap is hit (spec.md §4.3's
// "default" agent routing, as opposed to the full agentic FSM in
// package agent/fsm). Bounded tool concurrency is grounded on the same
// golang.org/x/sync/semaphore pattern package executor uses for loop
// iterations; there is no equivalent ReAct loop left in the retrieved
// original_source pack (only the FSM's control_transition.rs survived
// filtering), so this loop is designed directly from spec.md §4.3's prose.
package react

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/oxy-hq/oxy-engine/chatmodel"
	"github.com/oxy-hq/oxy-engine/event"
	"github.com/oxy-hq/oxy-engine/oxyerr"
)

// ToolHandler executes one tool call.
type ToolHandler interface {
	Name() string
	Description() string
	InputSchema() any
	Call(ctx context.Context, input json.RawMessage) (any, error)
}

// ToolConfig binds a handler to its own concurrency bound — the
// "OpenAITool(name, tool_configs, max_concurrency)" shape from spec.md §4.3.
// A zero MaxConcurrency inherits the agent's overall bound.
type ToolConfig struct {
	Handler        ToolHandler
	MaxConcurrency int
}

// Agent is the default ReAct loop: a system prompt, a bounded tool
// roster, an iteration cap, and the chat model it drives.
type Agent struct {
	Client             chatmodel.Client
	SystemPrompt       string
	Tools              []ToolConfig
	MaxToolCalls       int // iteration cap; default 10
	MaxToolConcurrency int // bound on concurrent tool calls per round; default len(calls)
}

// Result is what one ReAct run produces.
type Result struct {
	Output        string
	ToolCallCount int
}

// Run drives the loop to completion: each round asks the model to complete
// given the transcript and available tools; if it requests no tools, its
// text becomes Output; otherwise every requested tool is dispatched
// (bounded concurrently) and its results are folded back into the
// transcript as a user-role tool-result turn before the next round.
func (a Agent) Run(ctx context.Context, writer event.Writer, prompt string) (Result, error) {
	messages := []chatmodel.Message{
		{Role: chatmodel.RoleSystem, Parts: []chatmodel.Part{chatmodel.TextPart{Text: a.SystemPrompt}}},
		{Role: chatmodel.RoleUser, Parts: []chatmodel.Part{chatmodel.TextPart{Text: prompt}}},
	}
	defs := a.toolDefinitions()

	maxIter := a.MaxToolCalls
	if maxIter <= 0 {
		maxIter = 10
	}

	for iter := 0; iter < maxIter; iter++ {
		resp, err := a.Client.Complete(ctx, chatmodel.Request{Messages: messages, Tools: defs})
		if err != nil {
			return Result{}, oxyerr.Wrap(oxyerr.RuntimeError, err, "agent completion round %d", iter)
		}

		if len(resp.ToolCalls) == 0 {
			return Result{Output: textOf(resp.Message), ToolCallCount: iter}, nil
		}

		messages = append(messages, resp.Message)
		results, err := a.runToolCalls(ctx, writer, resp.ToolCalls)
		if err != nil {
			return Result{}, err
		}
		parts := make([]chatmodel.Part, len(results))
		for i, r := range results {
			parts[i] = r
		}
		messages = append(messages, chatmodel.Message{Role: chatmodel.RoleUser, Parts: parts})
	}
	return Result{}, oxyerr.New(oxyerr.RuntimeError, "agent exceeded max tool call iterations (%d)", maxIter)
}

func (a Agent) toolDefinitions() []chatmodel.ToolDefinition {
	defs := make([]chatmodel.ToolDefinition, len(a.Tools))
	for i, t := range a.Tools {
		defs[i] = chatmodel.ToolDefinition{
			Name:        t.Handler.Name(),
			Description: t.Handler.Description(),
			InputSchema: t.Handler.InputSchema(),
		}
	}
	return defs
}

// runToolCalls dispatches every requested tool call concurrently, bounded
// both overall (a.MaxToolConcurrency) and per tool (ToolConfig.MaxConcurrency),
// preserving the model's requested order in the returned slice.
func (a Agent) runToolCalls(ctx context.Context, writer event.Writer, calls []chatmodel.ToolCall) ([]chatmodel.ToolResultPart, error) {
	overall := a.MaxToolConcurrency
	if overall <= 0 {
		overall = len(calls)
	}
	sem := semaphore.NewWeighted(int64(overall))

	handlers := make(map[string]ToolHandler, len(a.Tools))
	perTool := make(map[string]*semaphore.Weighted, len(a.Tools))
	for _, t := range a.Tools {
		n := t.MaxConcurrency
		if n <= 0 {
			n = overall
		}
		handlers[t.Handler.Name()] = t.Handler
		perTool[t.Handler.Name()] = semaphore.NewWeighted(int64(n))
	}

	results := make([]chatmodel.ToolResultPart, len(calls))
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)

	for i, call := range calls {
		handler, ok := handlers[call.Name]
		if !ok {
			results[i] = chatmodel.ToolResultPart{ToolUseID: call.ID, Content: fmt.Sprintf("unknown tool %q", call.Name), IsError: true}
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			if firstErr == nil {
				firstErr = err
			}
			mu.Unlock()
			break
		}
		toolSem := perTool[call.Name]
		if err := toolSem.Acquire(ctx, 1); err != nil {
			sem.Release(1)
			mu.Lock()
			if firstErr == nil {
				firstErr = err
			}
			mu.Unlock()
			break
		}

		wg.Add(1)
		go func(i int, call chatmodel.ToolCall, handler ToolHandler, toolSem *semaphore.Weighted) {
			defer wg.Done()
			defer sem.Release(1)
			defer toolSem.Release(1)

			toolWriter := writer.WithChild("tool_call")
			_ = toolWriter.Send(ctx, event.Kind{Tag: event.ArtifactStarted, Name: call.Name}, nil)
			out, err := handler.Call(ctx, call.Payload)
			if err != nil {
				results[i] = chatmodel.ToolResultPart{ToolUseID: call.ID, Content: err.Error(), IsError: true}
				_ = toolWriter.Send(ctx, event.Kind{Tag: event.ArtifactFinished, Name: call.Name, Error: err.Error()}, nil)
				return
			}
			results[i] = chatmodel.ToolResultPart{ToolUseID: call.ID, Content: out}
			_ = toolWriter.Send(ctx, event.Kind{Tag: event.ArtifactFinished, Name: call.Name}, nil)
		}(i, call, handler, toolSem)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, oxyerr.Wrap(oxyerr.ToolCallError, firstErr, "tool call dispatch")
	}
	return results, nil
}

func textOf(m chatmodel.Message) string {
	var b strings.Builder
	for _, p := range m.Parts {
		if t, ok := p.(chatmodel.TextPart); ok {
			b.WriteString(t.Text)
		}
	}
	return b.String()
}
