// Package chatmodel defines the provider-agnostic chat/streaming boundary
// the agentic FSM and ReAct loop call through: a function-calling chat
// completion request/response plus an incremental streaming variant
// (spec.md §1, "the core calls a chat/streaming adapter"). It is adapted
// from the teacher's runtime/agent/model package, trimmed to the surface
// agent/react and agent/fsm actually need — no multimodal parts, citations,
// or provider-specific caching/thinking knobs, since this module has no
// concrete provider SDK wired (those were dropped, see DESIGN.md).
package chatmodel

import (
	"context"
	"encoding/json"
)

// ConversationRole is the role for a message in a conversation.
type ConversationRole string

const (
	RoleSystem    ConversationRole = "system"
	RoleUser      ConversationRole = "user"
	RoleAssistant ConversationRole = "assistant"
)

// Part is a marker interface implemented by every message content block.
type Part interface{ isPart() }

// TextPart is plain user-visible text content.
type TextPart struct {
	Text string
}

// ToolUsePart declares a tool invocation requested by the assistant.
type ToolUsePart struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// ToolResultPart carries a tool result attached to a user-role message so
// the model can read it on the next turn.
type ToolResultPart struct {
	ToolUseID string
	Content   any
	IsError   bool
}

func (TextPart) isPart()       {}
func (ToolUsePart) isPart()    {}
func (ToolResultPart) isPart() {}

// Message is a single ordered chat message.
type Message struct {
	Role  ConversationRole
	Parts []Part
}

// ToolDefinition describes a tool exposed to the model: name, description,
// and JSON Schema input, matching the shape enumroute and connector tools
// register with the agent loop.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema any
}

// ToolCall is a tool invocation requested by the model, with its raw
// arguments kept as opaque canonical JSON.
type ToolCall struct {
	ID      string
	Name    string
	Payload json.RawMessage
}

// TokenUsage tracks token counts for a single model call.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Request captures the inputs for one model invocation.
type Request struct {
	Messages    []Message
	Tools       []ToolDefinition
	Temperature float32
	MaxTokens   int
}

// Response is the result of a non-streaming invocation.
type Response struct {
	Message   Message
	ToolCalls []ToolCall
	Usage     TokenUsage
	StopReason string
}

// Chunk is one streaming event from the model: either incremental text, a
// completed tool call, or the terminal stop signal with final usage.
type Chunk struct {
	Type       ChunkType
	Text       string
	ToolCall   *ToolCall
	Usage      *TokenUsage
	StopReason string
}

// ChunkType discriminates a Chunk's variant.
type ChunkType string

const (
	ChunkText     ChunkType = "text"
	ChunkToolCall ChunkType = "tool_call"
	ChunkUsage    ChunkType = "usage"
	ChunkStop     ChunkType = "stop"
)

// Client is the provider-agnostic chat model client agent/react and
// agent/fsm drive.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
	Stream(ctx context.Context, req Request) (Streamer, error)
}

// Streamer delivers incremental model output. Callers drain Recv until it
// returns a Chunk with Type == ChunkStop or a non-nil error, then Close.
type Streamer interface {
	Recv() (Chunk, error)
	Close() error
}

// EnsureEndsWithUserMessage appends a sentinel user message when the
// transcript's tail is not already user-authored content or a tool-result
// turn, matching the provider "must end with a user message" rule ported
// from the control-transition FSM's ensure_ends_with_user_message. Callers
// composing a tool-use retry loop (whose tail intentionally carries a
// ToolResultPart) must not call this — it already treats that case as
// satisfied and leaves the transcript untouched.
func EnsureEndsWithUserMessage(messages []Message, sentinel string) []Message {
	if len(messages) == 0 {
		return []Message{{Role: RoleUser, Parts: []Part{TextPart{Text: sentinel}}}}
	}
	last := messages[len(messages)-1]
	if last.Role == RoleUser {
		return messages
	}
	if hasToolResult(last) {
		return messages
	}
	return append(messages, Message{Role: RoleUser, Parts: []Part{TextPart{Text: sentinel}}})
}

func hasToolResult(m Message) bool {
	for _, p := range m.Parts {
		if _, ok := p.(ToolResultPart); ok {
			return true
		}
	}
	return false
}
