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

// Package resilience implements the error classifier, per-service circuit
// breaker, and retry controller that sit between the resilient executor and
// the transport client: every failure is tagged with a category and
// severity, mapped to an action, and either retried with backoff, recovered
// with a domain-specific strategy, or escalated to the caller.
package resilience

import (
	"context"
	"errors"

	pkgerrors "github.com/flowgrid/flowgrid/pkg/errors"
)

// Category is the error classification taxonomy.
type Category string

const (
	CategoryNetwork        Category = "network"
	CategoryAuthentication Category = "authentication"
	CategoryTimeout        Category = "timeout"
	CategoryResource       Category = "resource"
	CategoryValidation     Category = "validation"
	CategorySystem         Category = "system"
	CategoryUnknown        Category = "unknown"

	// CategoryMissingResource is not one of the spec's seven general
	// categories; it is a narrower tag applied ahead of the generic
	// classification so the missing-resource recovery (cap retries at 2)
	// can apply before network/timeout would otherwise govern.
	CategoryMissingResource Category = "missing-resource"
)

// Severity ranks how serious a classified failure is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Action is what the executor should do in response to a classified error.
type Action string

const (
	ActionRetry               Action = "retry"
	ActionFallback            Action = "fallback"
	ActionCircuitBreak        Action = "circuit-break"
	ActionGracefulDegradation Action = "graceful-degradation"
	ActionEscalate            Action = "escalate"
)

// Classification is the (category, severity, action) triple assigned to an
// error.
type Classification struct {
	Category Category
	Severity Severity
	Action   Action
}

// Classifier tags errors against an ordered rule set.
type Classifier struct {
	// Fallback, keyed by service id, is invoked when Action is
	// ActionFallback and an entry exists; it produces a substitute result.
	Fallback map[string]func(ctx context.Context) (interface{}, error)
}

// NewClassifier returns a classifier with no registered fallbacks.
func NewClassifier() *Classifier {
	return &Classifier{Fallback: make(map[string]func(ctx context.Context) (interface{}, error))}
}

// Classify applies the ordered rule set described in the error-handling
// design: authentication and validation failures never retry; network and
// timeout failures do; resource exhaustion degrades gracefully; anything
// unrecognized gets an ordinary retry, bounded by the controller's
// MaxAttempts like any other.
func (c *Classifier) Classify(err error) Classification {
	if err == nil {
		return Classification{Category: CategoryUnknown, Severity: SeverityLow, Action: ActionRetry}
	}

	var breakerErr *pkgerrors.BreakerOpenError
	if errors.As(err, &breakerErr) {
		return Classification{Category: CategorySystem, Severity: SeverityHigh, Action: ActionEscalate}
	}

	var valErr *pkgerrors.ValidationError
	if errors.As(err, &valErr) {
		return Classification{Category: CategoryValidation, Severity: SeverityMedium, Action: ActionEscalate}
	}

	var remoteErr *pkgerrors.RemoteError
	if errors.As(err, &remoteErr) {
		switch {
		case remoteErr.Code == 401 || remoteErr.Code == 403:
			return Classification{Category: CategoryAuthentication, Severity: SeverityHigh, Action: ActionEscalate}
		case remoteErr.Code == 404:
			return Classification{Category: CategoryMissingResource, Severity: SeverityLow, Action: ActionRetry}
		case remoteErr.Code == 429 || remoteErr.Code >= 500:
			return Classification{Category: CategoryNetwork, Severity: SeverityMedium, Action: ActionRetry}
		}
	}

	var timeoutErr *pkgerrors.TimeoutError
	if errors.As(err, &timeoutErr) {
		return Classification{Category: CategoryTimeout, Severity: SeverityMedium, Action: ActionRetry}
	}

	var transportErr *pkgerrors.TransportError
	if errors.As(err, &transportErr) {
		return Classification{Category: CategoryNetwork, Severity: SeverityMedium, Action: ActionRetry}
	}

	var capacityErr *pkgerrors.CapacityError
	if errors.As(err, &capacityErr) {
		return Classification{Category: CategoryResource, Severity: SeverityMedium, Action: ActionGracefulDegradation}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Classification{Category: CategoryTimeout, Severity: SeverityMedium, Action: ActionRetry}
	}
	if errors.Is(err, context.Canceled) {
		return Classification{Category: CategorySystem, Severity: SeverityLow, Action: ActionEscalate}
	}

	return Classification{Category: CategoryUnknown, Severity: SeverityLow, Action: ActionRetry}
}
