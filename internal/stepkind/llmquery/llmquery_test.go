package llmquery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgrid/flowgrid/pkg/llm"
	"github.com/flowgrid/flowgrid/pkg/workflow"
)

type fakeProvider struct {
	lastRequest llm.CompletionRequest
}

func (f *fakeProvider) Name() string                   { return "fake" }
func (f *fakeProvider) Capabilities() llm.Capabilities  { return llm.Capabilities{} }
func (f *fakeProvider) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	return nil, nil
}
func (f *fakeProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.lastRequest = req
	return &llm.CompletionResponse{Content: "hi there", Model: req.Model, FinishReason: llm.FinishReason("stop")}, nil
}

func TestHandler_BuildsRequestAndReturnsContent(t *testing.T) {
	provider := &fakeProvider{}
	h := New(provider)

	step := workflow.StepDefinition{ID: "q", Target: "claude-haiku", Parameters: workflow.ValueMapFromNative(map[string]interface{}{
		"prompt": "summarize this",
		"system": "be terse",
	})}
	run := workflow.NewWorkflowRun("run-1", "wf", nil)

	out, err := h.Execute(context.Background(), step, run)
	require.NoError(t, err)

	content, _ := out["content"].AsString()
	assert.Equal(t, "hi there", content)
	require.Len(t, provider.lastRequest.Messages, 2)
	assert.Equal(t, llm.MessageRoleSystem, provider.lastRequest.Messages[0].Role)
	assert.Equal(t, llm.MessageRoleUser, provider.lastRequest.Messages[1].Role)
}

func TestHandler_MissingPromptErrors(t *testing.T) {
	h := New(&fakeProvider{})
	step := workflow.StepDefinition{ID: "q", Parameters: workflow.ValueMap{}}
	run := workflow.NewWorkflowRun("run-1", "wf", nil)

	_, err := h.Execute(context.Background(), step, run)
	assert.Error(t, err)
}
