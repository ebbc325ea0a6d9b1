package model

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func userRequest(text string) Request {
	return Request{Messages: []Message{{Role: RoleUser, Content: text}}}
}

func TestMockModel_CannedResponse(t *testing.T) {
	m := NewMockModel("mock", "mock")
	m.AddResponse("hello", "hi there")

	resp, err := Complete(context.Background(), m, userRequest("hello"))
	require.NoError(t, err)
	assert.Equal(t, "hi there", resp.Message.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Len(t, m.Requests(), 1)
}

func TestMockModel_DefaultResponse(t *testing.T) {
	m := NewMockModel("mock", "mock")

	resp, err := Complete(context.Background(), m, userRequest("what is up"))
	require.NoError(t, err)
	assert.Equal(t, "Mock response to: what is up", resp.Message.Content)
}

func TestMockModel_StreamingKeepsFinal(t *testing.T) {
	m := NewMockModel("mock", "mock")
	m.AddResponse("abc", "xyz")

	req := userRequest("abc")
	req.Stream = true

	respCh, errCh := m.Generate(context.Background(), req)
	var partial int
	var final Response
	for r := range respCh {
		if r.Partial {
			partial++
			continue
		}
		final = r
	}
	require.NoError(t, <-errCh)
	assert.Equal(t, 3, partial)
	assert.Equal(t, "xyz", final.Message.Content)
}

func TestMockModel_ScriptBeforeCanned(t *testing.T) {
	m := NewMockModel("mock", "mock")
	m.Script(
		Response{Message: Message{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "1", Function: ToolCallFunction{Name: "search"}}}}},
		Response{Message: Message{Role: RoleAssistant, Content: "done"}},
	)

	first, err := Complete(context.Background(), m, userRequest("q"))
	require.NoError(t, err)
	require.Len(t, first.Message.ToolCalls, 1)
	assert.Equal(t, "search", first.Message.ToolCalls[0].Function.Name)

	second, err := Complete(context.Background(), m, userRequest("q"))
	require.NoError(t, err)
	assert.Equal(t, "done", second.Message.Content)

	third, err := Complete(context.Background(), m, userRequest("q"))
	require.NoError(t, err)
	assert.Equal(t, "Mock response to: q", third.Message.Content)
}

func TestMockModel_Failure(t *testing.T) {
	m := NewMockModel("mock", "mock")
	boom := errors.New("provider down")
	m.FailWith(boom)

	_, err := Complete(context.Background(), m, userRequest("hi"))
	assert.ErrorIs(t, err, boom)
}

func TestMockModel_NoUserMessage(t *testing.T) {
	m := NewMockModel("mock", "mock")

	_, err := Complete(context.Background(), m, Request{Instructions: "sys"})
	assert.Error(t, err)
}

type silentModel struct{}

func (silentModel) Generate(context.Context, Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response)
	errCh := make(chan error)
	close(respCh)
	close(errCh)
	return respCh, errCh
}

func (silentModel) Info() Info { return Info{Name: "silent"} }

func TestComplete_NoFinalResponse(t *testing.T) {
	_, err := Complete(context.Background(), silentModel{}, userRequest("x"))
	assert.ErrorIs(t, err, ErrNoResponse)
}

func TestComplete_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	block := blockingModel{}
	_, err := Complete(ctx, block, userRequest("x"))
	assert.ErrorIs(t, err, context.Canceled)
}

type blockingModel struct{}

func (blockingModel) Generate(context.Context, Request) (<-chan Response, <-chan error) {
	return make(chan Response), make(chan error)
}

func (blockingModel) Info() Info { return Info{Name: "blocking"} }
