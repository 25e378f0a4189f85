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

// Package llmquery implements the "llm-query" StepKind: one completion
// request against a configured pkg/llm.Provider. step.Target names the
// model. The engine's outer-retry loop re-dispatches the same step
// definition, so every attempt requests the same model; this package has
// no model-fallback logic.
package llmquery

import (
	"context"
	"fmt"

	"github.com/flowgrid/flowgrid/pkg/llm"
	"github.com/flowgrid/flowgrid/pkg/workflow"
)

// Handler implements internal/engine.Handler for llm-query steps.
type Handler struct {
	provider llm.Provider
}

// New wraps a provider (typically an *llm.FailoverProvider, so a single
// query already fails over across providers before the engine's own
// outer-retry loop would re-dispatch the step).
func New(provider llm.Provider) *Handler {
	return &Handler{provider: provider}
}

// Execute builds a CompletionRequest from step.Parameters:
// prompt (required), system (optional), temperature, maxTokens.
func (h *Handler) Execute(ctx context.Context, step workflow.StepDefinition, run *workflow.WorkflowRun) (workflow.ValueMap, error) {
	params := step.Parameters.Native()

	prompt, _ := params["prompt"].(string)
	if prompt == "" {
		return nil, fmt.Errorf("llm-query step %q: parameters.prompt is required", step.ID)
	}

	messages := []llm.Message{}
	if system, ok := params["system"].(string); ok && system != "" {
		messages = append(messages, llm.Message{Role: llm.MessageRoleSystem, Content: system})
	}
	messages = append(messages, llm.Message{Role: llm.MessageRoleUser, Content: prompt})

	req := llm.CompletionRequest{
		Messages: messages,
		Model:    step.Target,
	}
	if t, ok := params["temperature"].(float64); ok {
		req.Temperature = &t
	}
	if mt, ok := params["maxTokens"].(float64); ok {
		n := int(mt)
		req.MaxTokens = &n
	}

	resp, err := h.provider.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("llm-query step %q: %w", step.ID, err)
	}

	return workflow.ValueMap{
		"content":      workflow.String(resp.Content),
		"model":        workflow.String(resp.Model),
		"finishReason": workflow.String(string(resp.FinishReason)),
	}, nil
}
