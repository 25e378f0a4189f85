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

// Package stepkind wires the handlers for every StepKind that doesn't live
// in its own subpackage (shell, and the in-engine control-flow kinds),
// plus Register, which binds all of them into an engine.Registry.
package stepkind

import (
	"context"
	"fmt"

	"github.com/flowgrid/flowgrid/internal/connector/shell"
	"github.com/flowgrid/flowgrid/pkg/workflow"
)

// ShellHandler adapts internal/connector/shell to engine.Handler.
type ShellHandler struct {
	conn *shell.ShellConnector
}

// NewShellHandler wraps a shell connector; nil config uses its defaults.
func NewShellHandler(config *shell.Config) (*ShellHandler, error) {
	conn, err := shell.New(config)
	if err != nil {
		return nil, err
	}
	return &ShellHandler{conn: conn}, nil
}

// Execute runs step.Target as the shell operation name (shell.ShellConnector
// only implements "run", but the operation is threaded through so future
// operations don't require a signature change).
func (h *ShellHandler) Execute(ctx context.Context, step workflow.StepDefinition, run *workflow.WorkflowRun) (workflow.ValueMap, error) {
	operation := step.Target
	if operation == "" {
		operation = "run"
	}
	result, err := h.conn.Execute(ctx, operation, step.Parameters.Native())
	if err != nil {
		return nil, fmt.Errorf("shell step %q: %w", step.ID, err)
	}
	return workflow.ValueMap{"result": workflow.FromNative(result.Response)}, nil
}
