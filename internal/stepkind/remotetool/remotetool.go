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

// Package remotetool adapts a remote-tool step to the resilient executor:
// step.Target names "<client-kind>/<tool-name>", and the call itself goes
// through C3's pool, C4's cache, C5's breaker/retry, and C6's metrics via
// internal/executor, with the pool's connections supplied by a running
// internal/mcp Manager.
package remotetool

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/flowgrid/flowgrid/internal/executor"
	"github.com/flowgrid/flowgrid/internal/mcp"
	"github.com/flowgrid/flowgrid/internal/pool"
	"github.com/flowgrid/flowgrid/pkg/workflow"
)

// Handler dispatches remote-tool steps through the resilient executor.
type Handler struct {
	exec     *executor.Executor
	cacheTTL func(step workflow.StepDefinition) (ttl time.Duration, cacheable bool)
}

// Option customizes Handler construction.
type Option func(*Handler)

// WithCachePolicy overrides which steps are cacheable and for how long.
// The default caches nothing, since arbitrary remote tools may have side
// effects; callers that know a given tool is a pure read should opt in.
func WithCachePolicy(policy func(step workflow.StepDefinition) (time.Duration, bool)) Option {
	return func(h *Handler) { h.cacheTTL = policy }
}

// New builds a Handler around an already-composed resilient executor.
func New(exec *executor.Executor, opts ...Option) *Handler {
	h := &Handler{exec: exec, cacheTTL: func(workflow.StepDefinition) (time.Duration, bool) { return 0, false }}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Execute splits step.Target into an MCP server (client kind) and tool
// name, then runs the tool call through the resilient executor.
func (h *Handler) Execute(ctx context.Context, step workflow.StepDefinition, run *workflow.WorkflowRun) (workflow.ValueMap, error) {
	serverName, toolName, err := splitTarget(step.Target)
	if err != nil {
		return nil, fmt.Errorf("remote-tool step %q: %w", step.ID, err)
	}

	ttl, cacheable := h.cacheTTL(step)
	inv := executor.Invocation{
		ServiceID: serverName,
		Operation: toolName,
		Target:    step.Target,
		Params:    step.Parameters.Native(),
		Timeout:   step.Timeout,
		CacheTTL:  ttl,
		Cacheable: cacheable,
	}

	outcome := h.exec.Execute(ctx, inv, func(callCtx context.Context, conn pool.Conn, timeout time.Duration) (interface{}, error) {
		client, ok := conn.(mcp.ClientProvider)
		if !ok {
			return nil, fmt.Errorf("remote-tool: connection for %q is not an MCP client", serverName)
		}
		resp, err := client.CallTool(callCtx, mcp.ToolCallRequest{Name: toolName, Arguments: inv.Params})
		if err != nil {
			return nil, executor.WrapConnError(serverName, toolName, err)
		}
		if resp.IsError {
			return nil, fmt.Errorf("remote-tool: %s/%s returned an error result", serverName, toolName)
		}
		return resp, nil
	})

	if outcome.Err != nil {
		return nil, fmt.Errorf("remote-tool step %q: %w", step.ID, outcome.Err)
	}

	resp, _ := outcome.Value.(*mcp.ToolCallResponse)
	return workflow.ValueMap{
		"content":  contentToValue(resp),
		"degraded": workflow.Bool(outcome.Degraded),
		"cacheHit": workflow.Bool(outcome.CacheHit),
		"attempts": workflow.Int(int64(outcome.Attempts)),
	}, nil
}

func splitTarget(target string) (server, tool string, err error) {
	parts := strings.SplitN(target, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("target %q must be \"<client-kind>/<tool-name>\"", target)
	}
	return parts[0], parts[1], nil
}

func contentToValue(resp *mcp.ToolCallResponse) workflow.Value {
	if resp == nil {
		return workflow.Value{}
	}
	items := make([]interface{}, 0, len(resp.Content))
	for _, item := range resp.Content {
		items = append(items, map[string]interface{}{
			"type": item.Type,
			"text": item.Text,
		})
	}
	return workflow.FromNative(items)
}
