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

// Package shell implements the "shell" StepKind: running a command on the
// local host under a security.ShellSecurityConfig policy. Commands are
// restricted to an allow-list only when Config.Security sets
// AllowedCommands; the default policy allows any base command.
package shell

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/flowgrid/flowgrid/pkg/security"
)

// Config holds configuration for the shell connector.
type Config struct {
	// WorkingDir is the default working directory for shell commands.
	WorkingDir string

	// Timeout is the default timeout for commands (default: 30s).
	Timeout time.Duration

	// Security gates which commands and arguments may run. A nil Security
	// falls back to security.DefaultShellSecurityConfig(), which denies
	// shell expansion and sanitizes the environment but allows any base
	// command; set AllowedCommands explicitly to lock it down further.
	Security *security.ShellSecurityConfig
}

// Result represents the output of a shell operation.
type Result struct {
	Response interface{}
	Metadata map[string]interface{}
}

// ShellConnector implements the "run" operation for shell-kind steps.
type ShellConnector struct {
	config *Config
}

// New creates a new shell connector.
func New(config *Config) (*ShellConnector, error) {
	if config == nil {
		config = &Config{}
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Security == nil {
		config.Security = security.DefaultShellSecurityConfig()
	}
	return &ShellConnector{config: config}, nil
}

// Execute runs a shell operation. The only operation currently defined is
// "run"; other names are rejected with an error.
func (c *ShellConnector) Execute(ctx context.Context, operation string, inputs map[string]interface{}) (*Result, error) {
	switch operation {
	case "run":
		return c.run(ctx, inputs)
	default:
		return nil, fmt.Errorf("unknown shell operation: %s", operation)
	}
}

// run validates the requested command against the security allow-list and
// executes it, parsing argv explicitly rather than invoking a shell when
// ParseArguments is set (the default).
func (c *ShellConnector) run(ctx context.Context, inputs map[string]interface{}) (*Result, error) {
	commandLine, argv, err := c.resolveCommand(inputs)
	if err != nil {
		return nil, err
	}

	if err := c.config.Security.ValidateCommand(commandLine, argv); err != nil {
		return nil, fmt.Errorf("command rejected by security policy: %w", err)
	}

	var cmd *exec.Cmd
	if c.config.Security.ParseArguments {
		cmd = exec.CommandContext(ctx, commandLine, argv...)
	} else {
		cmd = exec.CommandContext(ctx, "sh", "-c", strings.Join(append([]string{commandLine}, argv...), " "))
	}

	if dir, ok := inputs["dir"].(string); ok && dir != "" {
		cmd.Dir = dir
	} else {
		cmd.Dir = c.config.WorkingDir
	}

	cmd.Env = c.config.Security.SanitizeEnvironment(os.Environ())
	if env, ok := inputs["env"].(map[string]interface{}); ok {
		for k, v := range env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%v", k, v))
		}
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	startTime := time.Now()
	err = cmd.Run()
	duration := time.Since(startTime)

	result := &Result{
		Metadata: map[string]interface{}{
			"duration_ms": duration.Milliseconds(),
			"exit_code":   0,
		},
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.Metadata["exit_code"] = exitErr.ExitCode()
		}
		errMsg := strings.TrimSpace(stderr.String())
		if errMsg == "" {
			errMsg = err.Error()
		}
		return nil, fmt.Errorf("command failed: %s", errMsg)
	}

	out := stdout.String()
	if max := c.config.Security.MaxOutputSize; max > 0 && int64(len(out)) > max {
		out = out[:max]
	}

	result.Response = map[string]interface{}{
		"stdout":    strings.TrimSpace(out),
		"stderr":    strings.TrimSpace(stderr.String()),
		"exit_code": 0,
	}
	return result, nil
}

// resolveCommand accepts a command as either a single string (parsed via
// security.ParseCommandLine) or an explicit argv array, which skips
// whitespace parsing entirely and is the recommended form for untrusted
// workflow input.
func (c *ShellConnector) resolveCommand(inputs map[string]interface{}) (string, []string, error) {
	command, ok := inputs["command"]
	if !ok {
		return "", nil, fmt.Errorf("command is required")
	}

	switch v := command.(type) {
	case string:
		return security.ParseCommandLine(v)
	case []interface{}:
		if len(v) == 0 {
			return "", nil, fmt.Errorf("command array is empty")
		}
		args := make([]string, len(v))
		for i, arg := range v {
			args[i] = fmt.Sprintf("%v", arg)
		}
		return args[0], args[1:], nil
	case []string:
		if len(v) == 0 {
			return "", nil, fmt.Errorf("command array is empty")
		}
		return v[0], v[1:], nil
	default:
		return "", nil, fmt.Errorf("command must be string or array, got %T", command)
	}
}
