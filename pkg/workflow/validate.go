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

package workflow

import (
	"fmt"

	pkgerrors "github.com/flowgrid/flowgrid/pkg/errors"
	"github.com/flowgrid/flowgrid/pkg/workflow/expression"
)

// RollbackRegistry reports whether a given step kind has a registered
// reverse operation. internal/stepkind implements the concrete registry;
// this interface lets pkg/workflow validate without importing it (which
// would be a cycle, since stepkind handlers depend on this package).
type RollbackRegistry interface {
	HasHandler(kind StepKind) bool
}

// Validate checks a WorkflowDefinition's structural invariants: unique step
// ids, a closed-enum step kind, dependency references to existing steps,
// well-formed condition expressions, and (per Open Question 2 in
// SPEC_FULL.md) rollback-handler coverage when FailureStrategy is
// "rollback". It does not check for cycles; that is internal/graph's job,
// since cycle detection requires building the dependency graph itself.
func (d *WorkflowDefinition) Validate(schemas *SchemaRegistry, rollback RollbackRegistry) error {
	if d.ID == "" {
		return &pkgerrors.ValidationError{Field: "id", Message: "workflow id is required"}
	}

	seen := make(map[string]bool, len(d.Steps))
	for _, step := range d.Steps {
		if step.ID == "" {
			return &pkgerrors.ValidationError{Field: "steps[].id", Message: "step id is required"}
		}
		if seen[step.ID] {
			return &pkgerrors.ValidationError{
				Field:   "steps[].id",
				Message: fmt.Sprintf("duplicate step id %q", step.ID),
			}
		}
		seen[step.ID] = true

		if !ValidStepKinds[step.Kind] {
			return &pkgerrors.ValidationError{
				Field:      fmt.Sprintf("steps[%s].kind", step.ID),
				Message:    fmt.Sprintf("unknown step kind %q", step.Kind),
				Suggestion: "use one of the registered step kinds",
			}
		}

		if schemas != nil {
			if err := schemas.Validate(step.Kind, step.Parameters); err != nil {
				return err
			}
		}
	}

	for _, step := range d.Steps {
		for _, dep := range step.Dependencies {
			if !seen[dep.StepID] {
				return &pkgerrors.ValidationError{
					Field:   fmt.Sprintf("steps[%s].dependencies", step.ID),
					Message: fmt.Sprintf("references unknown step %q", dep.StepID),
				}
			}
			if dep.Kind == DepConditional {
				if err := expression.ValidateStepReferences(dep.Expression, stepIDs(d.Steps)); err != nil {
					return &pkgerrors.ValidationError{
						Field:   fmt.Sprintf("steps[%s].dependencies", step.ID),
						Message: err.Error(),
					}
				}
			}
		}
		for _, cond := range step.Conditions {
			if err := expression.ValidateStepReferences(cond, stepIDs(d.Steps)); err != nil {
				return &pkgerrors.ValidationError{
					Field:   fmt.Sprintf("steps[%s].conditions", step.ID),
					Message: err.Error(),
				}
			}
		}
	}

	switch d.FailureStrategy {
	case "", FailureStop, FailureContinue:
	case FailureRollback:
		if rollback == nil {
			return &pkgerrors.ConfigurationError{
				Component: "workflow validation",
				Reason:    "rollback strategy requires a rollback handler registry",
			}
		}
		for _, step := range d.Steps {
			if !rollback.HasHandler(step.Kind) {
				return &pkgerrors.ValidationError{
					Field:   fmt.Sprintf("steps[%s].kind", step.ID),
					Message: fmt.Sprintf("step kind %q has no registered rollback handler, required by failure_strategy=rollback", step.Kind),
					Suggestion: "register a rollback handler for this step kind or change failure_strategy",
				}
			}
		}
	default:
		return &pkgerrors.ValidationError{
			Field:   "failure_strategy",
			Message: fmt.Sprintf("unknown failure strategy %q", d.FailureStrategy),
		}
	}

	return nil
}

func stepIDs(steps []StepDefinition) []string {
	ids := make([]string, len(steps))
	for i, s := range steps {
		ids[i] = s.ID
	}
	return ids
}
