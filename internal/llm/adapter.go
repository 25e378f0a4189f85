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

// Package llm provides LLM integration utilities for internal use.
package llm

import (
	"fmt"
	"time"

	"github.com/flowgrid/flowgrid/pkg/llm"
	"github.com/flowgrid/flowgrid/pkg/llm/providers"
	"github.com/flowgrid/flowgrid/pkg/llm/providers/claudecode"
)

// ProviderConfig names the provider type and credential to construct.
// Type is one of "anthropic", "openai", "ollama", "claude-code".
type ProviderConfig struct {
	Type    string
	APIKey  string
	BaseURL string
	// CLIPath overrides the claude-code binary lookup; empty searches PATH.
	CLIPath string
}

// RetryPolicy configures the retry wrapper CreateProvider applies around
// whichever base provider it builds.
type RetryPolicy struct {
	MaxRetries     int
	RetryBackoff   time.Duration
	RequestTimeout time.Duration
}

// CreateProvider builds an llm.Provider from cfg and wraps it with retry
// logic derived from policy.
func CreateProvider(cfg ProviderConfig, policy RetryPolicy) (llm.Provider, error) {
	var base llm.Provider
	var err error

	switch cfg.Type {
	case "anthropic":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic provider requires an api key")
		}
		base, err = providers.NewAnthropicProvider(cfg.APIKey)
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai provider requires an api key")
		}
		base, err = providers.NewOpenAIProvider(cfg.APIKey)
	case "ollama":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		base, err = providers.NewOllamaProvider(baseURL)
	case "claude-code":
		base, err = claudecode.NewWithCredentials(llm.CLIAuthCredentials{CLIPath: cfg.CLIPath})
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	return wrapWithRetry(base, policy), nil
}

func wrapWithRetry(provider llm.Provider, policy RetryPolicy) llm.Provider {
	backoff := policy.RetryBackoff
	if backoff == 0 {
		backoff = 500 * time.Millisecond
	}
	timeout := policy.RequestTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	retryConfig := llm.RetryConfig{
		MaxRetries:      policy.MaxRetries,
		InitialDelay:    backoff,
		MaxDelay:        10 * backoff,
		Multiplier:      2.0,
		Jitter:          0.1,
		AbsoluteTimeout: 2 * timeout,
	}

	return llm.NewRetryableProvider(provider, retryConfig)
}
