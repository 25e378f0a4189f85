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

// Package transform adapts internal/connector/transform to the engine's
// Handler interface for "transform" steps.
package transform

import (
	"context"
	"fmt"

	conntransform "github.com/flowgrid/flowgrid/internal/connector/transform"
	"github.com/flowgrid/flowgrid/pkg/workflow"
)

// Handler implements internal/engine.Handler for transform steps.
type Handler struct {
	conn *conntransform.TransformConnector
}

// New wraps a transform connector; nil config uses its defaults.
func New(config *conntransform.Config) (*Handler, error) {
	conn, err := conntransform.New(config)
	if err != nil {
		return nil, err
	}
	return &Handler{conn: conn}, nil
}

// Execute runs step.Target ("extract", "split", "filter", "map") over
// step.Parameters, which carries the jq-style expression and the input
// data (typically a prior step's output referenced via ExecutionContext).
func (h *Handler) Execute(ctx context.Context, step workflow.StepDefinition, run *workflow.WorkflowRun) (workflow.ValueMap, error) {
	result, err := h.conn.Execute(ctx, step.Target, step.Parameters.Native())
	if err != nil {
		return nil, fmt.Errorf("transform step %q: %w", step.ID, err)
	}
	return workflow.ValueMap{"result": workflow.FromNative(result.Response)}, nil
}
