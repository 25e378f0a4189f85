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

package stepkind

import (
	"context"
	"fmt"
	"time"

	"github.com/flowgrid/flowgrid/internal/engine"
	"github.com/flowgrid/flowgrid/pkg/workflow"
	"github.com/flowgrid/flowgrid/pkg/workflow/expression"
)

// ConditionalHandler evaluates parameters.expression and reports the
// result as its own output; downstream steps branch on it through an
// ordinary DepConditional dependency or a Conditions entry referencing
// steps.<id>.result. It does not itself skip anything — the engine's
// own Conditions evaluation already covers per-step gating.
type ConditionalHandler struct {
	evaluator *expression.Evaluator
}

// NewConditionalHandler creates a conditional-step handler.
func NewConditionalHandler() *ConditionalHandler {
	return &ConditionalHandler{evaluator: expression.New()}
}

func (h *ConditionalHandler) Execute(ctx context.Context, step workflow.StepDefinition, run *workflow.WorkflowRun) (workflow.ValueMap, error) {
	expr, _ := step.Parameters.Native()["expression"].(string)
	if expr == "" {
		return nil, fmt.Errorf("conditional step %q: parameters.expression is required", step.ID)
	}
	result, err := h.evaluator.Evaluate(expr, run.ExecutionContext.Native())
	if err != nil {
		return nil, fmt.Errorf("conditional step %q: %w", step.ID, err)
	}
	return workflow.ValueMap{"result": workflow.Bool(result)}, nil
}

// ValidationHandler evaluates one or more predicate expressions against
// the run's execution context and fails the step (so FailureStrategy
// applies) if any do not hold.
type ValidationHandler struct {
	evaluator *expression.Evaluator
}

// NewValidationHandler creates a validation-step handler.
func NewValidationHandler() *ValidationHandler {
	return &ValidationHandler{evaluator: expression.New()}
}

func (h *ValidationHandler) Execute(ctx context.Context, step workflow.StepDefinition, run *workflow.WorkflowRun) (workflow.ValueMap, error) {
	params := step.Parameters.Native()
	rawRules, _ := params["rules"].([]interface{})
	if len(rawRules) == 0 {
		return nil, fmt.Errorf("validation step %q: parameters.rules must list at least one expression", step.ID)
	}

	failed := make([]string, 0)
	for _, r := range rawRules {
		expr, ok := r.(string)
		if !ok {
			continue
		}
		ok, err := h.evaluator.Evaluate(expr, run.ExecutionContext.Native())
		if err != nil {
			return nil, fmt.Errorf("validation step %q: evaluating %q: %w", step.ID, expr, err)
		}
		if !ok {
			failed = append(failed, expr)
		}
	}

	if len(failed) > 0 {
		items := make([]workflow.Value, len(failed))
		for i, f := range failed {
			items[i] = workflow.String(f)
		}
		return workflow.ValueMap{"passed": workflow.Bool(false), "failedRules": workflow.List(items)},
			fmt.Errorf("validation step %q: %d rule(s) failed: %v", step.ID, len(failed), failed)
	}
	return workflow.ValueMap{"passed": workflow.Bool(true)}, nil
}

// WaitHandler pauses for a fixed duration, or polls an expression against
// the execution context until it holds or a timeout elapses.
type WaitHandler struct {
	evaluator    *expression.Evaluator
	pollInterval time.Duration
}

// NewWaitHandler creates a wait-step handler.
func NewWaitHandler() *WaitHandler {
	return &WaitHandler{evaluator: expression.New(), pollInterval: 50 * time.Millisecond}
}

func (h *WaitHandler) Execute(ctx context.Context, step workflow.StepDefinition, run *workflow.WorkflowRun) (workflow.ValueMap, error) {
	params := step.Parameters.Native()

	if durationSeconds, ok := params["durationSeconds"].(float64); ok {
		select {
		case <-time.After(time.Duration(durationSeconds * float64(time.Second))):
			return workflow.ValueMap{"waited": workflow.Bool(true)}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	until, _ := params["until"].(string)
	if until == "" {
		return nil, fmt.Errorf("wait step %q: parameters must set durationSeconds or until", step.ID)
	}

	deadline := time.Now().Add(step.Timeout)
	hasDeadline := step.Timeout > 0
	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	for {
		ok, err := h.evaluator.Evaluate(until, run.ExecutionContext.Native())
		if err != nil {
			return nil, fmt.Errorf("wait step %q: %w", step.ID, err)
		}
		if ok {
			return workflow.ValueMap{"waited": workflow.Bool(true)}, nil
		}
		if hasDeadline && time.Now().After(deadline) {
			return nil, fmt.Errorf("wait step %q: condition %q did not hold before timeout", step.ID, until)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// LoopHandler repeats a single body step kind until an "until" expression
// holds or maxIterations is reached (do-while, matching the teacher's
// ForEach/While loop semantics), generalized from the teacher's nested
// step-list schema to this spec's flat step model: the body is one
// (kind, target, parameters) triple dispatched through the same Registry
// as any other step, rather than a nested []StepDefinition.
type LoopHandler struct {
	registry  *engine.Registry
	evaluator *expression.Evaluator
}

// NewLoopHandler creates a loop-step handler bound to the engine's handler
// registry, so it can dispatch the loop body by kind.
func NewLoopHandler(registry *engine.Registry) *LoopHandler {
	return &LoopHandler{registry: registry, evaluator: expression.New()}
}

const maxLoopIterations = 1000

func (h *LoopHandler) Execute(ctx context.Context, step workflow.StepDefinition, run *workflow.WorkflowRun) (workflow.ValueMap, error) {
	params := step.Parameters.Native()

	bodyKind, _ := params["bodyKind"].(string)
	if bodyKind == "" {
		return nil, fmt.Errorf("loop step %q: parameters.bodyKind is required", step.ID)
	}
	bodyTarget, _ := params["bodyTarget"].(string)
	bodyParams, _ := params["bodyParameters"].(map[string]interface{})
	until, _ := params["until"].(string)

	maxIterations := 10
	if mi, ok := params["maxIterations"].(float64); ok && mi > 0 {
		maxIterations = int(mi)
	}
	if maxIterations > maxLoopIterations {
		maxIterations = maxLoopIterations
	}

	handler, ok := h.registry.Handler(workflow.StepKind(bodyKind))
	if !ok {
		return nil, fmt.Errorf("loop step %q: no handler registered for bodyKind %q", step.ID, bodyKind)
	}

	history := make([]workflow.Value, 0, maxIterations)
	var lastOutput workflow.ValueMap
	terminatedBy := "maxIterations"

	for iteration := 0; iteration < maxIterations; iteration++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		bodyStep := workflow.StepDefinition{
			ID:      fmt.Sprintf("%s[%d]", step.ID, iteration),
			Kind:    workflow.StepKind(bodyKind),
			Target:  bodyTarget,
			Timeout: step.Timeout,
		}
		bodyStep.Parameters = workflow.ValueMapFromNative(bodyParams)

		output, err := handler.Execute(ctx, bodyStep, run)
		if err != nil {
			terminatedBy = "error"
			return workflow.ValueMap{
				"iterations":   workflow.Int(int64(iteration)),
				"terminatedBy": workflow.String(terminatedBy),
				"history":      workflow.List(history),
			}, fmt.Errorf("loop step %q: iteration %d: %w", step.ID, iteration, err)
		}
		lastOutput = output
		history = append(history, workflow.Object(output))

		if until != "" {
			loopCtx := run.ExecutionContext.Native()
			loopCtx["loop"] = map[string]interface{}{
				"iteration": iteration,
				"output":    output.Native(),
			}
			ok, err := h.evaluator.Evaluate(until, loopCtx)
			if err != nil {
				return nil, fmt.Errorf("loop step %q: evaluating until: %w", step.ID, err)
			}
			if ok {
				terminatedBy = "condition"
				return workflow.ValueMap{
					"iterations":   workflow.Int(int64(iteration + 1)),
					"terminatedBy": workflow.String(terminatedBy),
					"history":      workflow.List(history),
					"lastOutput":   workflow.Object(lastOutput),
				}, nil
			}
		}
	}

	return workflow.ValueMap{
		"iterations":   workflow.Int(int64(maxIterations)),
		"terminatedBy": workflow.String(terminatedBy),
		"history":      workflow.List(history),
		"lastOutput":   workflow.Object(lastOutput),
	}, nil
}
