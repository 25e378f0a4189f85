// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package remotetool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgrid/flowgrid/internal/cache"
	"github.com/flowgrid/flowgrid/internal/executor"
	"github.com/flowgrid/flowgrid/internal/mcp"
	"github.com/flowgrid/flowgrid/internal/metrics"
	"github.com/flowgrid/flowgrid/internal/pool"
	"github.com/flowgrid/flowgrid/internal/resilience"
	"github.com/flowgrid/flowgrid/pkg/workflow"
)

type fakeClient struct {
	lastRequest mcp.ToolCallRequest
	response    *mcp.ToolCallResponse
	err         error
}

func (f *fakeClient) ListTools(ctx context.Context) ([]mcp.ToolDefinition, error) { return nil, nil }
func (f *fakeClient) Close() error                                               { return nil }
func (f *fakeClient) Ping(ctx context.Context) error                             { return nil }
func (f *fakeClient) ServerName() string                                         { return "filesystem" }
func (f *fakeClient) Capabilities() *mcp.ServerCapabilities                      { return nil }
func (f *fakeClient) CallTool(ctx context.Context, req mcp.ToolCallRequest) (*mcp.ToolCallResponse, error) {
	f.lastRequest = req
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

func newTestHandler(client *fakeClient) *Handler {
	p := pool.New(pool.Config{MaxPerService: 1}, func(ctx context.Context, serviceID string) (pool.Conn, error) {
		return client, nil
	})
	c := cache.New(cache.Config{MaxEntries: 10})
	b := resilience.NewBreaker(resilience.BreakerConfig{FailureThreshold: 2, RecoveryTimeout: 10 * time.Millisecond})
	retry := resilience.NewController(resilience.RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond, Strategy: resilience.BackoffConstant}, resilience.NewClassifier())
	m := metrics.NewRegistry(100)
	return New(executor.New(p, c, b, retry, m))
}

func TestHandler_CallsToolWithSplitTarget(t *testing.T) {
	client := &fakeClient{response: &mcp.ToolCallResponse{Content: []mcp.ContentItem{{Type: "text", Text: "done"}}}}
	h := newTestHandler(client)

	step := workflow.StepDefinition{
		ID:     "s1",
		Target: "filesystem/read_file",
		Parameters: workflow.ValueMapFromNative(map[string]interface{}{
			"path": "/tmp/x",
		}),
	}
	run := workflow.NewWorkflowRun("run-1", "wf", nil)

	out, err := h.Execute(context.Background(), step, run)
	require.NoError(t, err)

	assert.Equal(t, "read_file", client.lastRequest.Name)
	assert.Equal(t, "/tmp/x", client.lastRequest.Arguments["path"])

	content, ok := out["content"].AsList()
	require.True(t, ok)
	require.Len(t, content, 1)
}

func TestHandler_InvalidTargetErrors(t *testing.T) {
	h := newTestHandler(&fakeClient{})
	step := workflow.StepDefinition{ID: "s1", Target: "no-slash"}
	run := workflow.NewWorkflowRun("run-1", "wf", nil)

	_, err := h.Execute(context.Background(), step, run)
	assert.Error(t, err)
}

func TestHandler_ErrorResultPropagates(t *testing.T) {
	client := &fakeClient{response: &mcp.ToolCallResponse{IsError: true}}
	h := newTestHandler(client)
	step := workflow.StepDefinition{ID: "s1", Target: "filesystem/read_file"}
	run := workflow.NewWorkflowRun("run-1", "wf", nil)

	_, err := h.Execute(context.Background(), step, run)
	assert.Error(t, err)
}
