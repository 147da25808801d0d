// Package fsm implements the agentic state machine described in spec.md
// §4.3 (Idle → Plan → Execute* → Synthesize), ported from original_source's
// crates/agent/src/fsm/control_transition.rs: the TriggerBuilder pattern of
// default-erroring per-(state,trigger) methods, and the streaming Plan/
// Synthesize trigger bodies.
package fsm

import (
	"context"
	"fmt"
	"strings"

	"github.com/oxy-hq/oxy-engine/chatmodel"
	"github.com/oxy-hq/oxy-engine/event"
	"github.com/oxy-hq/oxy-engine/oxyerr"
	"github.com/oxy-hq/oxy-engine/render"
)

// State names the machine's current phase, used only for logging/metadata;
// transition logic itself lives in the Trigger a TriggerBuilder returns.
type State string

const (
	StateIdle       State = "idle"
	StatePlan       State = "plan"
	StateExecute    State = "execute"
	StateSynthesize State = "synthesize"
)

// MachineContext is the mutable state threaded through every Trigger.Run
// call: the accumulated conversation, the latest plan, and the final
// synthesized content.
type MachineContext struct {
	Messages []chatmodel.Message
	Plan     *string
	Content  *string
}

// ListMessages returns the conversation accumulated so far.
func (c *MachineContext) ListMessages() []chatmodel.Message { return c.Messages }

// AppendMessage appends one message to the conversation.
func (c *MachineContext) AppendMessage(m chatmodel.Message) { c.Messages = append(c.Messages, m) }

// SetPlan records the latest planning output.
func (c *MachineContext) SetPlan(p string) { c.Plan = &p }

// SetContent records the final synthesized output.
func (c *MachineContext) SetContent(s string) { c.Content = &s }

// Trigger is one state transition's behavior.
type Trigger interface {
	Run(ctx context.Context, writer event.Writer, state *MachineContext) error
}

// TransitionDescriptor names one action the Plan trigger can present to the
// model as an available next step.
type TransitionDescriptor struct {
	Name        string
	Description string
}

// TriggerBuilder resolves a requested transition name into a concrete
// Trigger. Every Build* method on BaseTriggerBuilder defaults to a
// RuntimeError, matching the Rust trait's default-erroring per-(state,
// trigger) methods; a concrete agent config embeds BaseTriggerBuilder and
// overrides only the transitions it actually supports.
type TriggerBuilder interface {
	BuildQueryTrigger(ctx context.Context, objective string) (Trigger, error)
	BuildVizTrigger(ctx context.Context, objective string) (Trigger, error)
	BuildInsightTrigger(ctx context.Context, objective string) (Trigger, error)
	BuildDataAppTrigger(ctx context.Context, objective string) (Trigger, error)
	BuildSubflowTrigger(ctx context.Context, objective string) (Trigger, error)
	Build(ctx context.Context, transitionName, objective string) (Trigger, error)
}

// BaseTriggerBuilder implements TriggerBuilder with every Build* method
// erroring by name. Embed it in a concrete builder and override only the
// transitions that builder supports.
type BaseTriggerBuilder struct {
	// Name identifies the embedding builder in error messages.
	Name string
}

func (b BaseTriggerBuilder) BuildQueryTrigger(ctx context.Context, objective string) (Trigger, error) {
	return nil, oxyerr.New(oxyerr.RuntimeError, "query trigger is not implemented for %s", b.Name)
}

func (b BaseTriggerBuilder) BuildVizTrigger(ctx context.Context, objective string) (Trigger, error) {
	return nil, oxyerr.New(oxyerr.RuntimeError, "viz trigger is not implemented for %s", b.Name)
}

func (b BaseTriggerBuilder) BuildInsightTrigger(ctx context.Context, objective string) (Trigger, error) {
	return nil, oxyerr.New(oxyerr.RuntimeError, "insight trigger is not implemented for %s", b.Name)
}

func (b BaseTriggerBuilder) BuildDataAppTrigger(ctx context.Context, objective string) (Trigger, error) {
	return nil, oxyerr.New(oxyerr.RuntimeError, "data app trigger is not implemented for %s", b.Name)
}

func (b BaseTriggerBuilder) BuildSubflowTrigger(ctx context.Context, objective string) (Trigger, error) {
	return nil, oxyerr.New(oxyerr.RuntimeError, "subflow trigger is not implemented for %s", b.Name)
}

func (b BaseTriggerBuilder) Build(ctx context.Context, transitionName, objective string) (Trigger, error) {
	return nil, oxyerr.New(oxyerr.RuntimeError, "%s trigger is not implemented for %s", transitionName, b.Name)
}

// Idle is the FSM's starting trigger: it performs no work and simply
// advances the machine to the Plan phase.
type Idle struct{}

func (Idle) Run(ctx context.Context, writer event.Writer, state *MachineContext) error { return nil }

// Plan renders the planning system prompt (instruction, worked example, and
// the list of available actions derived from the transitions this agent
// supports), streams a plan from the model, and records it on state.
type Plan struct {
	Client      chatmodel.Client
	Renderer    render.Renderer
	Instruction string
	Example     string
	Transitions []TransitionDescriptor
}

func (p Plan) Run(ctx context.Context, writer event.Writer, state *MachineContext) error {
	instruction, err := p.Renderer.Render(p.Instruction)
	if err != nil {
		// A template error in the instruction falls back to its raw text
		// rather than failing the whole plan step, matching the Rust
		// original's `.ok().unwrap_or(self.instruction.clone())`.
		instruction = p.Instruction
	}
	example, err := p.Renderer.Render(p.Example)
	if err != nil {
		return oxyerr.Wrap(oxyerr.RuntimeError, err, "render plan example")
	}

	actions := make([]string, 0, len(p.Transitions))
	for _, t := range p.Transitions {
		actions = append(actions, fmt.Sprintf(`{"name":%q,"description":%q}`, t.Name, t.Description))
	}

	system := planSystemPrompt(instruction, example, strings.Join(actions, "\n"))
	messages := append([]chatmodel.Message{
		{Role: chatmodel.RoleSystem, Parts: []chatmodel.Part{chatmodel.TextPart{Text: system}}},
	}, state.Messages...)
	messages = chatmodel.EnsureEndsWithUserMessage(messages, "Please create a plan for the above.")

	content, err := streamText(ctx, p.Client, writer, messages)
	if err != nil {
		return err
	}

	state.SetPlan(content)
	state.AppendMessage(chatmodel.Message{Role: chatmodel.RoleAssistant, Parts: []chatmodel.Part{chatmodel.TextPart{Text: content}}})
	return nil
}

func planSystemPrompt(instruction, example, availableActions string) string {
	return fmt.Sprintf(`## Instruction
%s

%s

## Available Actions
You have access to these specialized agents:
%s

## Planning Guidelines
Create a clear, actionable plan by:
1. Breaking down the goal into specific steps
2. Sequencing steps logically (what must happen first?)
3. Assigning each step to the appropriate action from the list above
4. Being concrete - avoid vague steps like 'analyze data', instead specify what to analyze and why

Your plan should be a numbered list where each item describes:
- What specific task needs to be done
- Why it's necessary for achieving the goal
- Which action will handle it (if known)

Think through dependencies and order carefully - this plan guides the multi-agent workflow.`, instruction, example, availableActions)
}

// Synthesize renders the synthesis instruction, optionally runs a finalizer
// trigger first (e.g. a last data-gathering step), then streams the final
// answer from the model and records it as state.Content.
type Synthesize struct {
	Client      chatmodel.Client
	Renderer    render.Renderer
	Instruction string
	Finalizer   Trigger // optional
}

func (s Synthesize) Run(ctx context.Context, writer event.Writer, state *MachineContext) error {
	if s.Finalizer != nil {
		if err := s.Finalizer.Run(ctx, writer, state); err != nil {
			return err
		}
	}

	instruction, err := s.Renderer.Render(s.Instruction)
	if err != nil {
		return oxyerr.Wrap(oxyerr.RuntimeError, err, "render synthesize instruction")
	}

	messages := append([]chatmodel.Message{
		{Role: chatmodel.RoleSystem, Parts: []chatmodel.Part{chatmodel.TextPart{Text: instruction}}},
	}, state.Messages...)
	messages = chatmodel.EnsureEndsWithUserMessage(messages, "Please synthesize the results above.")

	content, err := streamText(ctx, s.Client, writer, messages)
	if err != nil {
		return err
	}
	state.SetContent(content)
	return nil
}

// streamText drains a model streaming call, forwarding each text chunk as a
// ContentAdded event and the terminal chunk as ContentDone, and returns the
// accumulated text.
func streamText(ctx context.Context, client chatmodel.Client, writer event.Writer, messages []chatmodel.Message) (string, error) {
	stream, err := client.Stream(ctx, chatmodel.Request{Messages: messages})
	if err != nil {
		return "", oxyerr.Wrap(oxyerr.RuntimeError, err, "start model stream")
	}
	defer stream.Close()

	streamWriter := writer.WithChild("text")
	var content strings.Builder
	for {
		chunk, err := stream.Recv()
		if err != nil {
			return "", oxyerr.Wrap(oxyerr.RuntimeError, err, "receive model stream chunk")
		}
		if chunk.Type == chatmodel.ChunkStop {
			break
		}
		if chunk.Type != chatmodel.ChunkText {
			continue
		}
		content.WriteString(chunk.Text)
		if err := streamWriter.Send(ctx, event.Kind{Tag: event.ContentAdded, ContentKind: "text", Chunk: chunk.Text}, nil); err != nil {
			return "", err
		}
	}
	if err := streamWriter.Send(ctx, event.Kind{Tag: event.ContentDone, ContentKind: "text"}, nil); err != nil {
		return "", err
	}
	return content.String(), nil
}
