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

// Package externalcall implements the "external-call" StepKind: an
// outbound HTTP request to a service outside the workflow's own MCP
// servers. Every URL is checked through internal/connector.ValidateURL
// before any request is dialed, to block SSRF against loopback, RFC1918,
// and cloud metadata addresses.
package externalcall

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/flowgrid/flowgrid/internal/connector"
	"github.com/flowgrid/flowgrid/pkg/workflow"
)

// Config bounds what external-call steps may reach and how long they may
// take.
type Config struct {
	// AllowedHosts, if non-empty, is the exclusive set of hosts a step may
	// call; BlockedHosts is checked regardless of AllowedHosts.
	AllowedHosts []string
	BlockedHosts []string

	Timeout         time.Duration
	MaxResponseSize int64
	Client          *http.Client
}

func (c *Config) setDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxResponseSize == 0 {
		c.MaxResponseSize = 10 * 1024 * 1024
	}
	if c.Client == nil {
		c.Client = &http.Client{Timeout: c.Timeout}
	}
}

// Handler implements internal/engine.Handler for external-call steps.
type Handler struct {
	config *Config
}

// New creates an external-call handler.
func New(config *Config) *Handler {
	if config == nil {
		config = &Config{}
	}
	config.setDefaults()
	return &Handler{config: config}
}

// Execute sends one HTTP request described by step.Parameters:
// url (required), method (defaults to step.Target, else GET), headers,
// and body.
func (h *Handler) Execute(ctx context.Context, step workflow.StepDefinition, run *workflow.WorkflowRun) (workflow.ValueMap, error) {
	params := step.Parameters.Native()

	url, _ := params["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("external-call step %q: parameters.url is required", step.ID)
	}
	if err := connector.ValidateURL(url, h.config.AllowedHosts, h.config.BlockedHosts); err != nil {
		return nil, fmt.Errorf("external-call step %q: %w", step.ID, err)
	}

	method, _ := params["method"].(string)
	if method == "" {
		method = step.Target
	}
	if method == "" {
		method = http.MethodGet
	}
	method = strings.ToUpper(method)

	var bodyReader io.Reader
	if body, ok := params["body"]; ok && body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("external-call step %q: encoding body: %w", step.ID, err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	reqCtx := ctx
	if step.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, step.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("external-call step %q: building request: %w", step.ID, err)
	}
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if headers, ok := params["headers"].(map[string]interface{}); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}

	resp, err := h.config.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("external-call step %q: %w", step.ID, err)
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, h.config.MaxResponseSize+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("external-call step %q: reading response: %w", step.ID, err)
	}
	if int64(len(data)) > h.config.MaxResponseSize {
		return nil, fmt.Errorf("external-call step %q: response exceeds %d byte limit", step.ID, h.config.MaxResponseSize)
	}

	out := workflow.ValueMap{
		"statusCode": workflow.Int(int64(resp.StatusCode)),
		"body":       workflow.String(string(data)),
	}
	var parsed interface{}
	if json.Unmarshal(data, &parsed) == nil {
		out["json"] = workflow.FromNative(parsed)
	}
	return out, nil
}
