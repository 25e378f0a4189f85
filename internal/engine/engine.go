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

// Package engine drives a WorkflowRun's lifecycle against a built
// dependency graph: it pulls ready steps, dispatches each to the handler
// registered for its kind, applies the configured failure strategy, and
// supports pause/resume/cancel from an external caller while a run is in
// flight.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/flowgrid/flowgrid/internal/graph"
	pkgerrors "github.com/flowgrid/flowgrid/pkg/errors"
	"github.com/flowgrid/flowgrid/pkg/workflow"
	"github.com/flowgrid/flowgrid/pkg/workflow/expression"
)

// Handler executes one step of a given kind and returns its output.
// Implementations live under internal/stepkind and internal/connector;
// they receive the run so they can read prior steps' outputs out of its
// execution context.
type Handler interface {
	Execute(ctx context.Context, step workflow.StepDefinition, run *workflow.WorkflowRun) (workflow.ValueMap, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, step workflow.StepDefinition, run *workflow.WorkflowRun) (workflow.ValueMap, error)

// Execute calls f.
func (f HandlerFunc) Execute(ctx context.Context, step workflow.StepDefinition, run *workflow.WorkflowRun) (workflow.ValueMap, error) {
	return f(ctx, step, run)
}

// RollbackHandler undoes the side effects of a completed step of a given
// kind, given that step's own result.
type RollbackHandler interface {
	Rollback(ctx context.Context, step workflow.StepDefinition, result *workflow.StepResult, run *workflow.WorkflowRun) error
}

// Registry binds step kinds to their execution and (optionally) rollback
// handlers. It satisfies workflow.RollbackRegistry so WorkflowDefinition.Validate
// can check rollback coverage without importing this package.
type Registry struct {
	handlers  map[workflow.StepKind]Handler
	rollbacks map[workflow.StepKind]RollbackHandler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[workflow.StepKind]Handler), rollbacks: make(map[workflow.StepKind]RollbackHandler)}
}

// Register binds a handler to a step kind.
func (r *Registry) Register(kind workflow.StepKind, h Handler) {
	r.handlers[kind] = h
}

// RegisterRollback binds a rollback handler to a step kind.
func (r *Registry) RegisterRollback(kind workflow.StepKind, h RollbackHandler) {
	r.rollbacks[kind] = h
}

// HasHandler satisfies workflow.RollbackRegistry.
func (r *Registry) HasHandler(kind workflow.StepKind) bool {
	_, ok := r.rollbacks[kind]
	return ok
}

// Handler returns the handler bound to kind, if any. Used by composite
// handlers (loop) that dispatch a nested step by kind without importing
// the engine's internal dispatch loop.
func (r *Registry) Handler(kind workflow.StepKind) (Handler, bool) {
	h, ok := r.handlers[kind]
	return h, ok
}

// Config configures an Engine.
type Config struct {
	Schemas       *workflow.SchemaRegistry
	Concurrency   int // max steps dispatched concurrently within one level; 0 = unbounded
	PauseInterval time.Duration
	Logger        *slog.Logger

	// MaxConcurrentWorkflows bounds how many submitted runs may be
	// actively driving at once; additional submissions are accepted and
	// tracked immediately (status pending) but queue behind a semaphore
	// until a slot frees up. Default 5.
	MaxConcurrentWorkflows int
}

func (c *Config) setDefaults() {
	if c.PauseInterval == 0 {
		c.PauseInterval = 50 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.MaxConcurrentWorkflows == 0 {
		c.MaxConcurrentWorkflows = 5
	}
}

// Engine drives workflow runs.
type Engine struct {
	config    Config
	registry  *Registry
	evaluator *expression.Evaluator
	admission chan struct{}

	mu   sync.Mutex
	runs map[string]*workflow.WorkflowRun
}

// New creates a workflow engine over the given handler registry.
func New(config Config, registry *Registry) *Engine {
	config.setDefaults()
	return &Engine{
		config:    config,
		registry:  registry,
		evaluator: expression.New(),
		admission: make(chan struct{}, config.MaxConcurrentWorkflows),
		runs:      make(map[string]*workflow.WorkflowRun),
	}
}

// Submit validates def, builds its dependency graph, and returns the new
// run immediately in pending status so the caller can poll or
// pause/resume/cancel it by id. Execution itself waits for a free slot
// under Config.MaxConcurrentWorkflows before advancing past pending.
func (e *Engine) Submit(ctx context.Context, def *workflow.WorkflowDefinition, seed workflow.ValueMap) (*workflow.WorkflowRun, error) {
	if err := def.Validate(e.config.Schemas, e.registry); err != nil {
		return nil, err
	}

	g, err := graph.Build(def.Steps)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	run := workflow.NewWorkflowRun(runID, def.ID, seed)

	e.mu.Lock()
	e.runs[runID] = run
	e.mu.Unlock()

	go func() {
		select {
		case e.admission <- struct{}{}:
		case <-ctx.Done():
			run.Status = workflow.RunCancelled
			return
		}
		defer func() { <-e.admission }()
		e.drive(ctx, def, g, run)
	}()

	return run, nil
}

// Get returns a tracked run by id.
func (e *Engine) Get(runID string) (*workflow.WorkflowRun, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	run, ok := e.runs[runID]
	return run, ok
}

// Status reports the current status of a tracked run.
func (e *Engine) Status(runID string) (workflow.RunStatus, error) {
	run, ok := e.Get(runID)
	if !ok {
		return "", fmt.Errorf("engine: run %q not found", runID)
	}
	return run.Status, nil
}

// Pause marks a running run paused and requests that it stop before its
// next level dispatch; in-flight steps at the time of the request still run
// to completion.
func (e *Engine) Pause(runID string) error {
	run, ok := e.Get(runID)
	if !ok {
		return fmt.Errorf("engine: run %q not found", runID)
	}
	run.RequestPause()
	if run.Status == workflow.RunRunning {
		run.Status = workflow.RunPaused
	}
	return nil
}

// Resume clears a pending pause request and marks a paused run running
// again, letting drive proceed to the next level on its next poll.
func (e *Engine) Resume(runID string) error {
	run, ok := e.Get(runID)
	if !ok {
		return fmt.Errorf("engine: run %q not found", runID)
	}
	run.RequestResume()
	if run.Status == workflow.RunPaused {
		run.Status = workflow.RunRunning
	}
	return nil
}

// Cancel requests that run abort at the next level boundary; in-flight
// steps run to completion but their results are discarded from context.
func (e *Engine) Cancel(runID string) error {
	run, ok := e.Get(runID)
	if !ok {
		return fmt.Errorf("engine: run %q not found", runID)
	}
	run.RequestCancel()
	return nil
}

// Dashboard summarizes every tracked run by status, for a simple
// operator-facing view; callers needing per-service pool/breaker/cache
// detail should read those components' own stats directly.
type Dashboard struct {
	Total     int
	ByStatus  map[workflow.RunStatus]int
	ActiveNow int
}

// Dashboard snapshots the engine's tracked runs.
func (e *Engine) Dashboard() Dashboard {
	e.mu.Lock()
	defer e.mu.Unlock()

	d := Dashboard{Total: len(e.runs), ByStatus: make(map[workflow.RunStatus]int)}
	for _, run := range e.runs {
		d.ByStatus[run.Status]++
	}
	d.ActiveNow = len(e.admission)
	return d
}

// drive is the main execution loop: repeatedly ask the graph for ready
// steps, dispatch them concurrently, record results, and apply the
// workflow's failure strategy until the graph drains or a stop condition
// is hit.
func (e *Engine) drive(ctx context.Context, def *workflow.WorkflowDefinition, g *graph.Graph, run *workflow.WorkflowRun) {
	run.Status = workflow.RunRunning

	if def.GlobalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, def.GlobalTimeout)
		defer cancel()
	}

	pending := g.StepIDs()
	completed := make(map[string]bool)
	var completedOrder []string
	stopped := false

	for len(pending) > 0 && !stopped {
		if run.CancelRequested() {
			run.Status = workflow.RunCancelled
			return
		}
		for run.PauseRequested() {
			run.Status = workflow.RunPaused
			select {
			case <-ctx.Done():
				run.Status = workflow.RunCancelled
				return
			case <-time.After(e.config.PauseInterval):
			}
			if run.CancelRequested() {
				run.Status = workflow.RunCancelled
				return
			}
		}
		run.Status = workflow.RunRunning

		ready, err := g.ReadySteps(pending, completed, run.StepResults)
		if err != nil {
			e.finishWithError(run, err)
			return
		}

		if len(ready) == 0 {
			// Nothing ready but steps remain: every remaining step is
			// blocked forever (e.g. a resource predicate never satisfied,
			// or an unmet conditional dependency). Skip them so the run
			// terminates instead of hanging.
			for _, id := range pending {
				run.RecordStepResult(&workflow.StepResult{StepID: id, Status: workflow.StepSkipped, Success: false})
			}
			break
		}

		results := e.dispatchLevel(ctx, def, run, ready)

		nextPending := pending[:0:0]
		pendingSet := make(map[string]bool, len(pending))
		for _, id := range pending {
			pendingSet[id] = true
		}
		for _, id := range ready {
			delete(pendingSet, id)
		}
		for id := range pendingSet {
			nextPending = append(nextPending, id)
		}
		pending = nextPending

		for _, res := range results {
			completed[res.StepID] = true
			completedOrder = append(completedOrder, res.StepID)
			if !res.Success && def.FailureStrategy != workflow.FailureContinue {
				stopped = true
			}
		}

		if stopped && def.FailureStrategy == workflow.FailureRollback {
			e.rollback(ctx, def, run, completedOrder)
		}
	}

	if stopped {
		for _, id := range pending {
			run.RecordStepResult(&workflow.StepResult{StepID: id, Status: workflow.StepSkipped, Success: false})
		}
	}

	if run.Status != workflow.RunCancelled {
		if allSucceeded(run) {
			run.Status = workflow.RunCompleted
		} else {
			run.Status = workflow.RunFailed
		}
	}
	run.CompletedAt = time.Now()
}

// dispatchLevel runs every ready step concurrently (bounded by
// Config.Concurrency) and returns their results in completion order.
func (e *Engine) dispatchLevel(ctx context.Context, def *workflow.WorkflowDefinition, run *workflow.WorkflowRun, ready []string) []*workflow.StepResult {
	byID := make(map[string]workflow.StepDefinition, len(def.Steps))
	for _, s := range def.Steps {
		byID[s.ID] = s
	}

	var mu sync.Mutex
	var results []*workflow.StepResult

	g, gCtx := errgroup.WithContext(ctx)
	if e.config.Concurrency > 0 {
		g.SetLimit(e.config.Concurrency)
	}

	for _, id := range ready {
		step := byID[id]
		g.Go(func() error {
			result := e.executeStep(gCtx, step, run)
			mu.Lock()
			results = append(results, result)
			if run.CancelRequested() {
				// Cancelled while in flight: keep the result for status
				// reporting but leave it out of the execution context.
				run.StepResults[result.StepID] = result
			} else {
				run.RecordStepResult(result)
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// executeStep evaluates the step's conditions, then dispatches to its
// handler with the engine's own outer retry loop — distinct from and never
// multiplied with the handler's/executor's inner retry attempts.
func (e *Engine) executeStep(ctx context.Context, step workflow.StepDefinition, run *workflow.WorkflowRun) *workflow.StepResult {
	started := time.Now()

	for _, cond := range step.Conditions {
		ok, err := e.evaluator.Evaluate(cond, run.ExecutionContext.Native())
		if err != nil || !ok {
			completed := time.Now()
			return &workflow.StepResult{StepID: step.ID, Kind: step.Kind, Status: workflow.StepSkipped, StartedAt: started, CompletedAt: completed}
		}
	}

	handler, ok := e.registry.handlers[step.Kind]
	if !ok {
		completed := time.Now()
		return &workflow.StepResult{
			StepID: step.ID, Kind: step.Kind, Status: workflow.StepFailed,
			Error: &pkgerrors.ConfigurationError{Component: "engine", Reason: fmt.Sprintf("no handler registered for step kind %q", step.Kind)},
			StartedAt: started, CompletedAt: completed,
		}
	}

	outerAttempts := 0
	var lastErr error
	var output workflow.ValueMap

	maxOuter := step.RetryLimit
	for outerAttempts = 1; outerAttempts <= maxOuter+1; outerAttempts++ {
		stepCtx := ctx
		var cancel context.CancelFunc
		if step.Timeout > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, step.Timeout)
		}
		output, lastErr = handler.Execute(stepCtx, step, run)
		if cancel != nil {
			cancel()
		}
		if lastErr == nil {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}

	completed := time.Now()
	if lastErr != nil {
		return &workflow.StepResult{
			StepID: step.ID, Kind: step.Kind, Status: workflow.StepFailed, Success: false,
			Error: lastErr, StartedAt: started, CompletedAt: completed, OuterAttempts: outerAttempts,
		}
	}

	return &workflow.StepResult{
		StepID: step.ID, Kind: step.Kind, Status: workflow.StepCompleted, Success: true,
		OutputData: output, StartedAt: started, CompletedAt: completed, OuterAttempts: outerAttempts,
	}
}

// rollback invokes the registered rollback handler for every completed
// step in reverse completion order, stopping at the first step kind with
// no registered handler (Validate should have already rejected this
// configuration, so reaching it is defensive, not expected).
func (e *Engine) rollback(ctx context.Context, def *workflow.WorkflowDefinition, run *workflow.WorkflowRun, order []string) {
	byID := make(map[string]workflow.StepDefinition, len(def.Steps))
	for _, s := range def.Steps {
		byID[s.ID] = s
	}
	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		step := byID[id]
		result := run.StepResults[id]
		if result == nil || !result.Success {
			continue
		}
		handler, ok := e.registry.rollbacks[step.Kind]
		if !ok {
			e.config.Logger.Warn("no rollback handler registered", "kind", step.Kind, "step", id)
			continue
		}
		if err := handler.Rollback(ctx, step, result, run); err != nil {
			e.config.Logger.Error("rollback failed", "step", id, "error", err)
		}
	}
}

func (e *Engine) finishWithError(run *workflow.WorkflowRun, err error) {
	run.Status = workflow.RunFailed
	now := time.Now()
	run.CompletedAt = now
	run.StepResults["__engine__"] = &workflow.StepResult{StepID: "__engine__", Status: workflow.StepFailed, Error: err, CompletedAt: now}
}

func allSucceeded(run *workflow.WorkflowRun) bool {
	for _, r := range run.StepResults {
		if !r.Success && r.Status != workflow.StepSkipped {
			return false
		}
	}
	return true
}
