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

// Package fileop implements the "file-op" StepKind: reading, writing, and
// listing files under a security-gated set of paths. Every path a workflow
// step names is validated through pkg/security before any syscall touches
// it, since workflow definitions are not a trusted input surface.
package fileop

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/flowgrid/flowgrid/pkg/security"
	"github.com/flowgrid/flowgrid/pkg/workflow"
)

// Config bounds which paths a file-op step may touch.
type Config struct {
	Security *security.FileSecurityConfig
}

func (c *Config) setDefaults() {
	if c.Security == nil {
		c.Security = security.DefaultFileSecurityConfig()
	}
}

// Handler implements internal/engine.Handler for file-op steps.
type Handler struct {
	config *Config
}

// New creates a file-op handler.
func New(config *Config) *Handler {
	if config == nil {
		config = &Config{}
	}
	config.setDefaults()
	return &Handler{config: config}
}

// Execute dispatches step.Target ("read", "write", "append", "list",
// "delete", "exists") against step.Parameters.
func (h *Handler) Execute(ctx context.Context, step workflow.StepDefinition, run *workflow.WorkflowRun) (workflow.ValueMap, error) {
	params := step.Parameters.Native()
	path, _ := params["path"].(string)
	if path == "" {
		return nil, fmt.Errorf("file-op step %q: parameters.path is required", step.ID)
	}

	switch step.Target {
	case "read":
		return h.read(path)
	case "write":
		content, _ := params["content"].(string)
		return h.write(path, content, false)
	case "append":
		content, _ := params["content"].(string)
		return h.write(path, content, true)
	case "delete":
		return h.delete(path)
	case "exists":
		return h.exists(path)
	case "list":
		return h.list(path)
	default:
		return nil, fmt.Errorf("file-op step %q: unsupported operation %q", step.ID, step.Target)
	}
}

func (h *Handler) read(path string) (workflow.ValueMap, error) {
	if err := h.config.Security.ValidatePath(path, security.ActionRead); err != nil {
		return nil, fmt.Errorf("file-op read %q: %w", path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("file-op read %q: %w", path, err)
	}
	if h.config.Security.MaxFileSize > 0 && info.Size() > h.config.Security.MaxFileSize {
		return nil, fmt.Errorf("file-op read %q: file size %d exceeds limit %d", path, info.Size(), h.config.Security.MaxFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("file-op read %q: %w", path, err)
	}
	return workflow.ValueMap{
		"content": workflow.String(string(data)),
		"size":    workflow.Int(int64(len(data))),
	}, nil
}

func (h *Handler) write(path, content string, appendMode bool) (workflow.ValueMap, error) {
	if appendMode {
		f, err := h.config.Security.OpenFileSecure(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("file-op append %q: %w", path, err)
		}
		defer f.Close()
		if _, err := f.WriteString(content); err != nil {
			return nil, fmt.Errorf("file-op append %q: %w", path, err)
		}
	} else if err := h.config.Security.WriteFileAtomic(path, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("file-op write %q: %w", path, err)
	}

	return workflow.ValueMap{"path": workflow.String(path), "bytesWritten": workflow.Int(int64(len(content)))}, nil
}

func (h *Handler) delete(path string) (workflow.ValueMap, error) {
	if err := h.config.Security.ValidatePath(path, security.ActionWrite); err != nil {
		return nil, fmt.Errorf("file-op delete %q: %w", path, err)
	}
	if err := os.Remove(path); err != nil {
		return nil, fmt.Errorf("file-op delete %q: %w", path, err)
	}
	return workflow.ValueMap{"deleted": workflow.Bool(true)}, nil
}

func (h *Handler) exists(path string) (workflow.ValueMap, error) {
	if err := h.config.Security.ValidatePath(path, security.ActionRead); err != nil {
		return workflow.ValueMap{"exists": workflow.Bool(false)}, nil
	}
	_, err := os.Stat(path)
	return workflow.ValueMap{"exists": workflow.Bool(err == nil)}, nil
}

func (h *Handler) list(path string) (workflow.ValueMap, error) {
	if err := h.config.Security.ValidatePath(path, security.ActionRead); err != nil {
		return nil, fmt.Errorf("file-op list %q: %w", path, err)
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("file-op list %q: %w", path, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, filepath.Join(path, e.Name()))
	}
	sort.Strings(names)
	items := make([]workflow.Value, len(names))
	for i, n := range names {
		items[i] = workflow.String(n)
	}
	return workflow.ValueMap{"entries": workflow.List(items)}, nil
}
