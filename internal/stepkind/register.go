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
	"github.com/flowgrid/flowgrid/internal/connector/shell"
	conntransform "github.com/flowgrid/flowgrid/internal/connector/transform"
	"github.com/flowgrid/flowgrid/internal/engine"
	"github.com/flowgrid/flowgrid/internal/executor"
	"github.com/flowgrid/flowgrid/internal/stepkind/externalcall"
	"github.com/flowgrid/flowgrid/internal/stepkind/fileop"
	"github.com/flowgrid/flowgrid/internal/stepkind/llmquery"
	"github.com/flowgrid/flowgrid/internal/stepkind/notify"
	"github.com/flowgrid/flowgrid/internal/stepkind/remotetool"
	"github.com/flowgrid/flowgrid/internal/stepkind/transform"
	"github.com/flowgrid/flowgrid/pkg/llm"
	"github.com/flowgrid/flowgrid/pkg/workflow"
)

// BuiltinConfig configures the step kinds Register wires up. A nil config
// field uses the wrapped package's own defaults, except that a nil
// LLMProvider or RemoteToolExecutor leaves that step kind unregistered; ui-action and custom
// are left unregistered since, per SPEC_FULL §6.9, they are registered
// externally by the embedder.
type BuiltinConfig struct {
	Shell        *shell.Config
	Transform    *conntransform.Config
	FileOp       *fileop.Config
	ExternalCall *externalcall.Config
	LLMProvider  llm.Provider

	// RemoteToolExecutor, if set, registers the remote-tool step kind
	// backed by this resilient executor (C7), which in turn must have
	// been constructed with a pool.Factory sourced from a running
	// internal/mcp Manager (see cmd/flowgrid's manager.GetClient factory
	// closure). Left nil, a remote-tool step fails when dispatched, with
	// the engine's "no handler registered" error, instead of silently
	// no-op'ing.
	RemoteToolExecutor *executor.Executor
	RemoteToolOptions  []remotetool.Option
}

// Register binds every step kind that doesn't require embedder-specific
// wiring (remote-tool, ui-action, custom) into reg. Returns the notify
// handler so the caller can register additional Notifiers.
func Register(reg *engine.Registry, config BuiltinConfig) (*notify.Handler, error) {
	shellHandler, err := NewShellHandler(config.Shell)
	if err != nil {
		return nil, err
	}
	reg.Register(workflow.StepShell, shellHandler)

	transformHandler, err := transform.New(config.Transform)
	if err != nil {
		return nil, err
	}
	reg.Register(workflow.StepTransform, transformHandler)

	reg.Register(workflow.StepFileOp, fileop.New(config.FileOp))
	reg.Register(workflow.StepExternalCall, externalcall.New(config.ExternalCall))
	reg.Register(workflow.StepConditional, NewConditionalHandler())
	reg.Register(workflow.StepValidation, NewValidationHandler())
	reg.Register(workflow.StepWait, NewWaitHandler())
	reg.Register(workflow.StepLoop, NewLoopHandler(reg))

	notifyHandler := notify.New()
	reg.Register(workflow.StepNotify, notifyHandler)

	if config.LLMProvider != nil {
		reg.Register(workflow.StepLLMQuery, llmquery.New(config.LLMProvider))
	}

	if config.RemoteToolExecutor != nil {
		reg.Register(workflow.StepRemoteTool, remotetool.New(config.RemoteToolExecutor, config.RemoteToolOptions...))
	}

	return notifyHandler, nil
}
