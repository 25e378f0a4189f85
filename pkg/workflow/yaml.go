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
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// yamlDefinition is the on-disk shape of a workflow file. It mirrors
// WorkflowDefinition field-for-field but carries yaml tags and
// string/duration-literal forms a workflow author writes by hand; Load
// converts one into the immutable, typed WorkflowDefinition the engine
// consumes.
type yamlDefinition struct {
	ID              string                 `yaml:"id"`
	Name            string                 `yaml:"name"`
	Description     string                 `yaml:"description,omitempty"`
	Steps           []yamlStep             `yaml:"steps"`
	GlobalTimeout   string                 `yaml:"global_timeout,omitempty"`
	MaxRetries      int                    `yaml:"max_retries,omitempty"`
	FailureStrategy string                 `yaml:"failure_strategy,omitempty"`
	Context         map[string]interface{} `yaml:"context,omitempty"`
}

type yamlStep struct {
	ID            string                 `yaml:"id"`
	Name          string                 `yaml:"name,omitempty"`
	Kind          string                 `yaml:"kind"`
	Target        string                 `yaml:"target,omitempty"`
	Parameters    map[string]interface{} `yaml:"parameters,omitempty"`
	Dependencies  []yamlDependency       `yaml:"dependencies,omitempty"`
	Conditions    []string               `yaml:"conditions,omitempty"`
	RetryLimit    int                    `yaml:"retry_limit,omitempty"`
	Timeout       string                 `yaml:"timeout,omitempty"`
	ParallelGroup string                 `yaml:"parallel_group,omitempty"`
}

type yamlDependency struct {
	StepID     string `yaml:"step_id"`
	Kind       string `yaml:"kind,omitempty"`
	Key        string `yaml:"key,omitempty"`
	Expression string `yaml:"expression,omitempty"`
	Resource   string `yaml:"resource,omitempty"`
}

// LoadDefinition reads a workflow definition from a YAML file.
func LoadDefinition(path string) (*WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("workflow: reading %s: %w", path, err)
	}
	return ParseDefinition(data)
}

// ParseDefinition decodes a workflow definition from YAML bytes.
func ParseDefinition(data []byte) (*WorkflowDefinition, error) {
	var doc yamlDefinition
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("workflow: parsing definition: %w", err)
	}

	globalTimeout, err := parseOptionalDuration(doc.GlobalTimeout)
	if err != nil {
		return nil, fmt.Errorf("workflow: global_timeout: %w", err)
	}

	steps := make([]StepDefinition, 0, len(doc.Steps))
	for _, s := range doc.Steps {
		step, err := s.toStepDefinition()
		if err != nil {
			return nil, fmt.Errorf("workflow: step %q: %w", s.ID, err)
		}
		steps = append(steps, step)
	}

	strategy := FailureStrategy(doc.FailureStrategy)
	if strategy == "" {
		strategy = FailureStop
	}

	return &WorkflowDefinition{
		ID:              doc.ID,
		Name:            doc.Name,
		Description:     doc.Description,
		Steps:           steps,
		GlobalTimeout:   globalTimeout,
		MaxRetries:      doc.MaxRetries,
		FailureStrategy: strategy,
		Context:         ValueMapFromNative(doc.Context),
	}, nil
}

func (s yamlStep) toStepDefinition() (StepDefinition, error) {
	timeout, err := parseOptionalDuration(s.Timeout)
	if err != nil {
		return StepDefinition{}, fmt.Errorf("timeout: %w", err)
	}

	deps := make([]Dependency, 0, len(s.Dependencies))
	for _, d := range s.Dependencies {
		kind := DependencyKind(d.Kind)
		if kind == "" {
			kind = DepCompletion
		}
		deps = append(deps, Dependency{
			StepID:     d.StepID,
			Kind:       kind,
			Key:        d.Key,
			Expression: d.Expression,
			Resource:   d.Resource,
		})
	}

	return StepDefinition{
		ID:            s.ID,
		Name:          s.Name,
		Kind:          StepKind(s.Kind),
		Target:        s.Target,
		Parameters:    ValueMapFromNative(s.Parameters),
		Dependencies:  deps,
		Conditions:    s.Conditions,
		RetryLimit:    s.RetryLimit,
		Timeout:       timeout,
		ParallelGroup: s.ParallelGroup,
	}, nil
}

func parseOptionalDuration(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	return time.ParseDuration(raw)
}
