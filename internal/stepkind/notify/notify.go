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

// Package notify implements the "notify" StepKind: posting a message to an
// external channel through a named Notifier. Each notifier is a thin
// webhook client behind one interface, so adding a destination (PagerDuty,
// Microsoft Teams) never touches the engine or this handler.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/flowgrid/flowgrid/internal/connector"
	"github.com/flowgrid/flowgrid/pkg/workflow"
)

// Notifier posts one message to a destination identified by target (a
// webhook URL, channel ID, or similar) and returns a provider-specific
// acknowledgement string.
type Notifier interface {
	Notify(ctx context.Context, target, message string, fields map[string]interface{}) (string, error)
}

// Handler implements internal/engine.Handler for notify steps. step.Target
// selects the registered notifier by name ("slack", "discord", ...); the
// destination itself (webhook URL, channel) is read from
// parameters.target.
type Handler struct {
	notifiers map[string]Notifier
}

// New creates a notify handler with no notifiers registered.
func New() *Handler {
	return &Handler{notifiers: make(map[string]Notifier)}
}

// Register binds a Notifier to a name usable as a step's Target.
func (h *Handler) Register(name string, n Notifier) {
	h.notifiers[name] = n
}

// Execute sends parameters.message through the notifier named by
// step.Target, to parameters.target.
func (h *Handler) Execute(ctx context.Context, step workflow.StepDefinition, run *workflow.WorkflowRun) (workflow.ValueMap, error) {
	notifier, ok := h.notifiers[step.Target]
	if !ok {
		return nil, fmt.Errorf("notify step %q: no notifier registered for %q", step.ID, step.Target)
	}

	params := step.Parameters.Native()
	target, _ := params["target"].(string)
	message, _ := params["message"].(string)
	if target == "" || message == "" {
		return nil, fmt.Errorf("notify step %q: parameters.target and parameters.message are required", step.ID)
	}

	ack, err := notifier.Notify(ctx, target, message, params)
	if err != nil {
		return nil, fmt.Errorf("notify step %q: %w", step.ID, err)
	}
	return workflow.ValueMap{"acknowledgement": workflow.String(ack)}, nil
}

// webhookNotifier posts a JSON payload to a fixed-shape webhook URL,
// validated against SSRF the same way external-call steps are.
type webhookNotifier struct {
	client    *http.Client
	payload   func(message string, fields map[string]interface{}) interface{}
	blocked   []string
	allowList []string
}

func (w *webhookNotifier) Notify(ctx context.Context, target, message string, fields map[string]interface{}) (string, error) {
	if err := connector.ValidateURL(target, w.allowList, w.blocked); err != nil {
		return "", err
	}
	body, err := json.Marshal(w.payload(message, fields))
	if err != nil {
		return "", fmt.Errorf("encoding payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return fmt.Sprintf("status %d", resp.StatusCode), nil
}

// NewSlackNotifier posts {"text": message} to a Slack incoming webhook URL.
func NewSlackNotifier(blockedHosts []string) Notifier {
	return &webhookNotifier{
		client:  &http.Client{Timeout: 10 * time.Second},
		blocked: blockedHosts,
		payload: func(message string, fields map[string]interface{}) interface{} {
			return map[string]interface{}{"text": message}
		},
	}
}

// NewDiscordNotifier posts {"content": message} to a Discord webhook URL.
func NewDiscordNotifier(blockedHosts []string) Notifier {
	return &webhookNotifier{
		client:  &http.Client{Timeout: 10 * time.Second},
		blocked: blockedHosts,
		payload: func(message string, fields map[string]interface{}) interface{} {
			return map[string]interface{}{"content": message}
		},
	}
}
