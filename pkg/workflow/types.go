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

import "time"

// StepKind is the closed set of step discriminants a workflow may use.
type StepKind string

const (
	StepLLMQuery     StepKind = "llm-query"
	StepRemoteTool   StepKind = "remote-tool"
	StepFileOp       StepKind = "file-op"
	StepShell        StepKind = "shell"
	StepUIAction     StepKind = "ui-action"
	StepConditional  StepKind = "conditional"
	StepLoop         StepKind = "loop"
	StepWait         StepKind = "wait"
	StepValidation   StepKind = "validation"
	StepTransform    StepKind = "transform"
	StepNotify       StepKind = "notify"
	StepExternalCall StepKind = "external-call"
	StepCustom       StepKind = "custom"
)

// ValidStepKinds lists every member of the closed StepKind enum, used by
// validation to reject anything else at workflow-load time.
var ValidStepKinds = map[StepKind]bool{
	StepLLMQuery: true, StepRemoteTool: true, StepFileOp: true, StepShell: true,
	StepUIAction: true, StepConditional: true, StepLoop: true, StepWait: true,
	StepValidation: true, StepTransform: true, StepNotify: true,
	StepExternalCall: true, StepCustom: true,
}

// DependencyKind discriminates how a Dependency is satisfied.
type DependencyKind string

const (
	DepCompletion  DependencyKind = "completion"
	DepSuccess     DependencyKind = "success"
	DepData        DependencyKind = "data"
	DepConditional DependencyKind = "conditional"
	DepResource    DependencyKind = "resource"
)

// Dependency references another step by id plus the rule that determines
// when that reference counts as satisfied.
type Dependency struct {
	StepID string
	Kind   DependencyKind

	// Key is the output field name required present, used only when
	// Kind == DepData.
	Key string

	// Expression is the predicate evaluated against the referenced step's
	// output, used only when Kind == DepConditional.
	Expression string

	// Resource names the resource marker checked by a registered resource
	// predicate, used only when Kind == DepResource.
	Resource string
}

// StepDefinition is an immutable blueprint for one unit of work in a
// workflow. Constructing one does not execute anything.
type StepDefinition struct {
	ID   string
	Name string
	Kind StepKind

	// Target is the logical service name (client kind, provider name) or a
	// free-form command, depending on Kind.
	Target string

	Parameters ValueMap

	Dependencies []Dependency

	// Conditions are predicate strings evaluated against the workflow
	// execution context before the step is dispatched; all must hold.
	Conditions []string

	RetryLimit int
	Timeout    time.Duration

	// ParallelGroup optionally tags steps that should be scheduled together
	// even across independent readiness levels; purely advisory to the
	// scheduler, never required for correctness.
	ParallelGroup string
}

// FailureStrategy controls what the engine does when a step fails.
type FailureStrategy string

const (
	FailureStop     FailureStrategy = "stop"
	FailureContinue FailureStrategy = "continue"
	FailureRollback FailureStrategy = "rollback"
)

// WorkflowDefinition is the immutable, declarative description of a
// workflow: its steps and the policy under which they run. Defining one
// performs no I/O; it may be loaded from YAML (see LoadDefinition) or built
// programmatically.
type WorkflowDefinition struct {
	ID          string
	Name        string
	Description string
	Steps       []StepDefinition

	GlobalTimeout   time.Duration
	MaxRetries      int
	FailureStrategy FailureStrategy

	// Context seeds the execution context available to the first readiness
	// level's templating and condition evaluation.
	Context ValueMap
}

// RunStatus is the closed set of states a WorkflowRun passes through.
// Status only ever advances, except paused -> running; once a run reaches a
// terminal status it is immutable.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunPaused    RunStatus = "paused"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// StepStatus is the closed set of per-step terminal and non-terminal states.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
	StepCancelled StepStatus = "cancelled"
)

// StepResult is the immutable record of one step's execution outcome. Once
// recorded in a WorkflowRun it is never mutated; a retry produces a new
// attempt count on the same StepResult only while the step is still
// in-flight, not after it has been recorded as terminal.
type StepResult struct {
	StepID     string
	Kind       StepKind
	Status     StepStatus
	Success    bool
	OutputData ValueMap
	Error      error

	StartedAt   time.Time
	CompletedAt time.Time

	// Attempts is the authoritative count of the resilient executor's
	// (C7/internal/resilience) retry loop for the *last* outer attempt. The
	// engine's own outer retry (C9) is a coarser, separate loop bounded by
	// StepDefinition.RetryLimit; its count is tracked in OuterAttempts, not
	// here, so the two counters are never multiplied together.
	Attempts int

	// OuterAttempts counts how many times the engine re-dispatched this step
	// through the resilient executor, adapting parameters between attempts
	// (e.g. LLM model-type fallback). See StepResult.Attempts.
	OuterAttempts int

	// Degraded is set when the terminal result came from graceful
	// degradation (pkg/errors.DegradedResult) rather than a clean success.
	Degraded bool
}

func (r StepResult) ExecutionTime() time.Duration {
	if r.StartedAt.IsZero() || r.CompletedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// WorkflowRun is the mutable state of one execution of a WorkflowDefinition.
// Ownership: a WorkflowRun exclusively owns its StepResults and
// ExecutionContext; nothing outside the engine mutates them.
type WorkflowRun struct {
	ID           string
	DefinitionID string

	Status RunStatus

	StartedAt   time.Time
	CompletedAt time.Time

	CurrentStep string

	// StepResults is keyed by step id; entries are appended as steps
	// complete and never removed or mutated afterward.
	StepResults map[string]*StepResult

	// ExecutionContext accumulates step outputs as `{"steps": {id: {...}}}`
	// plus the original `inputs` and any `loop` scope, the shape the
	// predicate/templating language expects (pkg/workflow/expression).
	ExecutionContext ValueMap

	// cancelRequested and pauseRequested are checked at level boundaries by
	// the engine; see internal/engine.
	cancelRequested bool
	pauseRequested  bool
}

// NewWorkflowRun creates a fresh run in RunPending for the given definition.
func NewWorkflowRun(id, definitionID string, seed ValueMap) *WorkflowRun {
	ctx := ValueMap{}
	inputs := seed
	if inputs == nil {
		inputs = ValueMap{}
	}
	ctx["inputs"] = Object(map[string]Value(inputs))
	ctx["steps"] = Object(map[string]Value{})
	return &WorkflowRun{
		ID:               id,
		DefinitionID:     definitionID,
		Status:           RunPending,
		StepResults:      map[string]*StepResult{},
		ExecutionContext: ctx,
	}
}

// RequestCancel marks the run for cancellation; the engine observes this at
// the next level boundary or dispatch point.
func (r *WorkflowRun) RequestCancel() { r.cancelRequested = true }

// CancelRequested reports whether RequestCancel has been called.
func (r *WorkflowRun) CancelRequested() bool { return r.cancelRequested }

// RequestPause marks the run to stall before its next level dispatch.
func (r *WorkflowRun) RequestPause() { r.pauseRequested = true }

// RequestResume clears a pending or active pause.
func (r *WorkflowRun) RequestResume() { r.pauseRequested = false }

// PauseRequested reports whether the run should stall before dispatch.
func (r *WorkflowRun) PauseRequested() bool { return r.pauseRequested }

// RecordStepResult appends a completed StepResult and merges its outputs
// into ExecutionContext under `steps.<id>`. Must only be called from the
// engine's single-writer level loop (see internal/engine).
func (r *WorkflowRun) RecordStepResult(result *StepResult) {
	r.StepResults[result.StepID] = result

	stepsVal, ok := r.ExecutionContext["steps"]
	steps := map[string]Value{}
	if ok {
		if m, ok := stepsVal.AsObject(); ok {
			steps = m
		}
	}
	entry := map[string]Value{
		"success": Bool(result.Success),
		"status":  String(string(result.Status)),
	}
	for k, v := range result.OutputData {
		entry[k] = v
	}
	steps[result.StepID] = Object(entry)
	r.ExecutionContext["steps"] = Object(steps)
}

// CompletedStepIDs returns the ids of every step with a recorded result,
// regardless of outcome, for C8 readiness queries.
func (r *WorkflowRun) CompletedStepIDs() map[string]bool {
	out := make(map[string]bool, len(r.StepResults))
	for id := range r.StepResults {
		out[id] = true
	}
	return out
}
