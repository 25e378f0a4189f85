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

package errors

import (
	"fmt"
	"time"
)

// TransportError represents a failure communicating with a remote MCP server
// over its transport (stdio, HTTP, SSE). Use this for connection-level
// failures that occur before or during a request, distinct from an error
// the remote server itself reported.
type TransportError struct {
	// ServiceID identifies the remote MCP server.
	ServiceID string

	// Operation names the transport-level action that failed (e.g. "dial", "write").
	Operation string

	// Cause is the underlying transport error.
	Cause error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error on %s during %s: %v", e.ServiceID, e.Operation, e.Cause)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// RemoteError represents an error response returned by a remote MCP server
// itself, as opposed to a transport failure reaching it.
type RemoteError struct {
	// ServiceID identifies the remote MCP server.
	ServiceID string

	// Code is the JSON-RPC error code, when available.
	Code int

	// Message is the remote-reported error message.
	Message string
}

func (e *RemoteError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("remote error from %s (%d): %s", e.ServiceID, e.Code, e.Message)
	}
	return fmt.Sprintf("remote error from %s: %s", e.ServiceID, e.Message)
}

// CapacityError indicates a connection pool or worker pool had no room for
// a new request within the configured wait budget.
type CapacityError struct {
	// Resource names what was exhausted (e.g. "connection pool", "workflow slots").
	Resource string

	// Limit is the configured capacity.
	Limit int

	// Waited is how long the caller waited before giving up.
	Waited time.Duration
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("%s exhausted (limit %d), gave up after %v", e.Resource, e.Limit, e.Waited)
}

// BreakerOpenError indicates a circuit breaker rejected a call without
// attempting it because the breaker is open or probing in half-open state.
type BreakerOpenError struct {
	// ServiceID identifies the client kind or service the breaker guards.
	ServiceID string

	// RetryAfter is when the breaker is expected to allow a probe, if known.
	RetryAfter time.Time
}

func (e *BreakerOpenError) Error() string {
	if e.RetryAfter.IsZero() {
		return fmt.Sprintf("circuit breaker open for %s", e.ServiceID)
	}
	return fmt.Sprintf("circuit breaker open for %s, retry after %s", e.ServiceID, e.RetryAfter.Format(time.RFC3339))
}

// CancelledError indicates a workflow, step, or call was cancelled by an
// explicit cancel request rather than failing on its own.
type CancelledError struct {
	// Scope names what was cancelled (e.g. "workflow", "step").
	Scope string

	// ID identifies the cancelled entity.
	ID string
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("%s %s was cancelled", e.Scope, e.ID)
}

// ConfigurationError represents an invalid orchestration configuration:
// a malformed workflow definition, an unregistered step kind, or a
// dependency graph that fails structural validation. Distinct from
// ConfigError, which covers process-level configuration (API keys, files);
// ConfigurationError covers workflow-authoring mistakes caught before a run
// starts.
type ConfigurationError struct {
	// Component names what rejected the configuration (e.g. "dependency graph").
	Component string

	// Reason explains the problem.
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration in %s: %s", e.Component, e.Reason)
}

// DegradedResult is not a failure: it wraps a successfully produced result
// that fell back to reduced functionality (a cached stale value, a
// lower-priority client kind, a partial dependency set) and should be
// surfaced to callers without failing the step. Callers that care inspect
// this via errors.As even though StepResult.Error would be nil; the
// executor attaches it as StepResult metadata rather than an error.
type DegradedResult struct {
	// Reason explains why the result is degraded (e.g. "served from stale cache").
	Reason string
}

func (e *DegradedResult) Error() string {
	return fmt.Sprintf("degraded result: %s", e.Reason)
}

// ErrorCategory classifies an error for retry and circuit-breaking policy.
type ErrorCategory string

const (
	CategoryNetwork        ErrorCategory = "network"
	CategoryAuthentication ErrorCategory = "authentication"
	CategoryTimeout        ErrorCategory = "timeout"
	CategoryResource       ErrorCategory = "resource"
	CategoryValidation     ErrorCategory = "validation"
	CategorySystem         ErrorCategory = "system"
	CategoryUnknown        ErrorCategory = "unknown"
)
