package react_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oxy-hq/oxy-engine/agent/react"
	"github.com/oxy-hq/oxy-engine/chatmodel"
	"github.com/oxy-hq/oxy-engine/event"
)

// scriptedClient replays a fixed sequence of Complete responses, one per
// call, so a test can exercise a multi-round tool-call loop deterministically.
type scriptedClient struct {
	responses []chatmodel.Response
	calls     int
}

func (c *scriptedClient) Complete(ctx context.Context, req chatmodel.Request) (chatmodel.Response, error) {
	resp := c.responses[c.calls]
	c.calls++
	return resp, nil
}

func (c *scriptedClient) Stream(ctx context.Context, req chatmodel.Request) (chatmodel.Streamer, error) {
	return nil, nil
}

type echoTool struct{}

func (echoTool) Name() string        { return "echo" }
func (echoTool) Description() string { return "echoes its input" }
func (echoTool) InputSchema() any    { return map[string]any{"type": "object"} }
func (echoTool) Call(ctx context.Context, input json.RawMessage) (any, error) {
	return string(input), nil
}

func newWriter() event.Writer {
	return event.NewBufWriter(16).CreateWriter("agent", "")
}

func TestAgent_ReturnsTextWhenNoToolCallsRequested(t *testing.T) {
	client := &scriptedClient{responses: []chatmodel.Response{
		{Message: chatmodel.Message{Role: chatmodel.RoleAssistant, Parts: []chatmodel.Part{chatmodel.TextPart{Text: "42"}}}},
	}}
	agent := react.Agent{Client: client, SystemPrompt: "you are a calculator"}

	result, err := agent.Run(context.Background(), newWriter(), "what is 6*7?")
	require.NoError(t, err)
	assert.Equal(t, "42", result.Output)
	assert.Equal(t, 0, result.ToolCallCount)
}

func TestAgent_RunsToolCallThenReturnsFinalAnswer(t *testing.T) {
	client := &scriptedClient{responses: []chatmodel.Response{
		{ToolCalls: []chatmodel.ToolCall{{ID: "1", Name: "echo", Payload: json.RawMessage(`{"x":1}`)}}},
		{Message: chatmodel.Message{Role: chatmodel.RoleAssistant, Parts: []chatmodel.Part{chatmodel.TextPart{Text: "done"}}}},
	}}
	agent := react.Agent{
		Client:       client,
		SystemPrompt: "use tools",
		Tools:        []react.ToolConfig{{Handler: echoTool{}}},
	}

	result, err := agent.Run(context.Background(), newWriter(), "echo {x:1}")
	require.NoError(t, err)
	assert.Equal(t, "done", result.Output)
	assert.Equal(t, 1, result.ToolCallCount)
}

func TestAgent_ExceedsIterationCap(t *testing.T) {
	responses := make([]chatmodel.Response, 0, 5)
	for i := 0; i < 5; i++ {
		responses = append(responses, chatmodel.Response{
			ToolCalls: []chatmodel.ToolCall{{ID: "1", Name: "echo", Payload: json.RawMessage(`{}`)}},
		})
	}
	client := &scriptedClient{responses: responses}
	agent := react.Agent{
		Client:       client,
		SystemPrompt: "loop forever",
		Tools:        []react.ToolConfig{{Handler: echoTool{}}},
		MaxToolCalls: 3,
	}

	_, err := agent.Run(context.Background(), newWriter(), "never stop")
	assert.Error(t, err)
}
