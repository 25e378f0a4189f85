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

// Command flowgrid is the composition root: it wires the resilient
// executor (pool/cache/breaker/retry/metrics) to a running MCP manager,
// builds the step-kind registry, and drives workflow files through the
// engine in a single in-process binary rather than a client/server daemon
// pair. Its subcommands are run, validate and version.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/flowgrid/flowgrid/internal/cache"
	"github.com/flowgrid/flowgrid/internal/engine"
	"github.com/flowgrid/flowgrid/internal/executor"
	"github.com/flowgrid/flowgrid/internal/llm"
	"github.com/flowgrid/flowgrid/internal/log"
	"github.com/flowgrid/flowgrid/internal/mcp"
	"github.com/flowgrid/flowgrid/internal/metrics"
	"github.com/flowgrid/flowgrid/internal/pool"
	"github.com/flowgrid/flowgrid/internal/resilience"
	"github.com/flowgrid/flowgrid/internal/stepkind"
	llmpkg "github.com/flowgrid/flowgrid/pkg/llm"
	"github.com/flowgrid/flowgrid/pkg/workflow"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "flowgrid",
		Short: "Run and inspect flowgrid workflows",
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newVersionCmd())

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("flowgrid %s (commit %s, built %s)\n", version, commit, buildDate)
			return nil
		},
	}
}

func newValidateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a workflow definition without running it",
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := workflow.LoadDefinition(file)
			if err != nil {
				return err
			}
			reg := engine.NewRegistry()
			if err := def.Validate(workflow.NewSchemaRegistry(), reg); err != nil {
				return err
			}
			fmt.Printf("%s: valid (%d steps)\n", def.ID, len(def.Steps))
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "path to the workflow YAML file")
	cmd.MarkFlagRequired("file")
	return cmd
}

func newRunCmd() *cobra.Command {
	var file, mcpConfigPath string
	var pollInterval time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Submit a workflow and wait for it to finish",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := log.New(log.FromEnv())

			def, err := workflow.LoadDefinition(file)
			if err != nil {
				return err
			}

			app, err := buildApp(logger, mcpConfigPath)
			if err != nil {
				return err
			}
			defer app.Close()

			run, err := app.Engine.Submit(ctx, def, def.Context)
			if err != nil {
				return fmt.Errorf("submit: %w", err)
			}

			logger.Info("workflow submitted", slog.String("run_id", run.ID), slog.String("workflow", def.ID))

			if pollInterval <= 0 {
				pollInterval = 200 * time.Millisecond
			}
			ticker := time.NewTicker(pollInterval)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					_ = app.Engine.Cancel(run.ID)
					return ctx.Err()
				case <-ticker.C:
					status, err := app.Engine.Status(run.ID)
					if err != nil {
						return err
					}
					if status.Terminal() {
						return printOutcome(run, status)
					}
				}
			}
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "path to the workflow YAML file")
	cmd.Flags().StringVar(&mcpConfigPath, "mcp-config", "", "path to an mcp.yaml server config (defaults to the XDG config dir)")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 200*time.Millisecond, "how often to poll run status")
	cmd.MarkFlagRequired("file")
	return cmd
}

func printOutcome(run *workflow.WorkflowRun, status workflow.RunStatus) error {
	summary := map[string]interface{}{
		"run_id": run.ID,
		"status": string(status),
		"steps":  len(run.StepResults),
	}
	out, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	if status == workflow.RunFailed {
		return fmt.Errorf("workflow run %s failed", run.ID)
	}
	return nil
}

// app bundles the composition root's long-lived components so callers can
// tear them down together.
type app struct {
	Engine  *engine.Engine
	Manager *mcp.Manager
}

func (a *app) Close() {
	if a.Manager != nil {
		_ = a.Manager.StopAll()
	}
}

func buildApp(logger *slog.Logger, mcpConfigPath string) (*app, error) {
	mcpCfg, err := loadMCPConfig(mcpConfigPath)
	if err != nil {
		return nil, fmt.Errorf("loading mcp config: %w", err)
	}

	manager := mcp.NewManager(mcp.ManagerConfig{Logger: logger})
	for name, entry := range mcpCfg.Servers {
		if !entry.AutoStart {
			continue
		}
		if err := manager.Start(mcp.ServerConfig{
			Name:               name,
			Command:            entry.Command,
			Args:               entry.Args,
			Env:                entry.Env,
			RestartPolicy:      string(entry.RestartPolicy),
			MaxRestartAttempts: entry.MaxRestartAttempts,
		}); err != nil {
			logger.Warn("failed to start mcp server", slog.String("server", name), slog.String("error", err.Error()))
		}
	}

	// The executor's pool leases call-level connections by asking the
	// manager for its (already supervised and health-checked) client;
	// Close on that lease just returns it to the manager, it never tears
	// down the underlying MCP client.
	factory := func(ctx context.Context, serviceID string) (pool.Conn, error) {
		return manager.GetClient(serviceID)
	}
	p := pool.New(pool.Config{MaxPerService: 1, Logger: logger}, factory)
	p.Start(context.Background(), nil)
	c := cache.New(cache.Config{})
	breaker := resilience.NewBreaker(resilience.BreakerConfig{})
	retry := resilience.NewController(resilience.DefaultRetryConfig(), resilience.NewClassifier())
	metricsRegistry := metrics.NewRegistry(1000)
	exec := executor.New(p, c, breaker, retry, metricsRegistry)

	reg := engine.NewRegistry()
	if _, err := stepkind.Register(reg, stepkind.BuiltinConfig{
		RemoteToolExecutor: exec,
		LLMProvider:        buildLLMProvider(),
	}); err != nil {
		return nil, fmt.Errorf("registering step kinds: %w", err)
	}

	eng := engine.New(engine.Config{Logger: logger, Schemas: workflow.NewSchemaRegistry()}, reg)

	return &app{Engine: eng, Manager: manager}, nil
}

func loadMCPConfig(path string) (*mcp.MCPGlobalConfig, error) {
	if path == "" {
		return mcp.LoadMCPConfig()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg mcp.MCPGlobalConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if cfg.Servers == nil {
		cfg.Servers = make(map[string]*mcp.MCPServerEntry)
	}
	return &cfg, nil
}

// buildLLMProvider wires an Anthropic-backed llm.Provider when an API key
// is available in the environment; llm-query steps simply go unregistered
// otherwise (stepkind.Register skips StepLLMQuery when LLMProvider is nil).
func buildLLMProvider() llmpkg.Provider {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil
	}
	provider, err := llm.CreateProvider(
		llm.ProviderConfig{Type: "anthropic", APIKey: apiKey},
		llm.RetryPolicy{},
	)
	if err != nil {
		return nil
	}
	return provider
}
