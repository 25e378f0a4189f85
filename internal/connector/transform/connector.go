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

package transform

import (
	"context"
	"time"
)

// Result represents the output of a transform operation.
type Result struct {
	Response interface{}
	Metadata map[string]interface{}
}

// Config bounds how much data a transform operation will process, so a
// workflow step can't be used to exhaust memory or hang on a pathological
// jq expression.
type Config struct {
	MaxInputSize      int64
	MaxOutputSize     int64
	MaxArrayItems     int
	ExpressionTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.MaxInputSize == 0 {
		c.MaxInputSize = 10 * 1024 * 1024
	}
	if c.MaxOutputSize == 0 {
		c.MaxOutputSize = 10 * 1024 * 1024
	}
	if c.MaxArrayItems == 0 {
		c.MaxArrayItems = 100000
	}
	if c.ExpressionTimeout == 0 {
		c.ExpressionTimeout = 5 * time.Second
	}
}

// TransformConnector implements the "transform" step kind's operations:
// extract (jq), split, filter, and map over prior step output.
type TransformConnector struct {
	config *Config
}

// New creates a transform connector.
func New(config *Config) (*TransformConnector, error) {
	if config == nil {
		config = &Config{}
	}
	config.setDefaults()
	return &TransformConnector{config: config}, nil
}

// Name identifies this connector.
func (c *TransformConnector) Name() string { return "transform" }

// Execute dispatches to the named transform operation.
func (c *TransformConnector) Execute(ctx context.Context, operation string, inputs map[string]interface{}) (*Result, error) {
	switch operation {
	case "extract":
		return c.extract(ctx, inputs)
	case "split":
		return c.split(ctx, inputs)
	case "filter":
		return c.filter(ctx, inputs)
	case "map":
		return c.mapArray(ctx, inputs)
	default:
		return nil, &OperationError{
			Operation:  operation,
			Message:    "unknown transform operation",
			ErrorType:  ErrorTypeValidation,
			Suggestion: "use one of extract, split, filter, map",
		}
	}
}
