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

package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// BackoffStrategy selects how delay grows between retry attempts.
type BackoffStrategy string

const (
	BackoffConstant    BackoffStrategy = "constant"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffExponential BackoffStrategy = "exponential"
)

// RetryConfig configures the retry controller, following the field names
// and defaults of the teacher's pkg/llm.RetryConfig extended with the
// spec's explicit backoff-strategy selector.
type RetryConfig struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	ExponentialBase float64
	Strategy        BackoffStrategy
	Jitter          bool
}

// DefaultRetryConfig mirrors pkg/llm.DefaultRetryConfig's defaults, adapted
// to the spec's named backoff strategies.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     3,
		BaseDelay:       100 * time.Millisecond,
		MaxDelay:        10 * time.Second,
		ExponentialBase: 2.0,
		Strategy:        BackoffExponential,
		Jitter:          true,
	}
}

// delay computes the backoff for a 1-indexed attempt, clamped to MaxDelay.
// With jitter, the result is scaled by a value drawn uniformly from
// [0.5, 1.0], matching the spec's jitter formula exactly (not the ±jitter%
// the teacher's pkg/llm.calculateBackoff uses).
func (c RetryConfig) delay(attempt int) time.Duration {
	var raw float64
	switch c.Strategy {
	case BackoffConstant:
		raw = float64(c.BaseDelay)
	case BackoffLinear:
		raw = float64(c.BaseDelay) * float64(attempt)
	default: // BackoffExponential
		base := c.ExponentialBase
		if base == 0 {
			base = 2.0
		}
		raw = float64(c.BaseDelay) * math.Pow(base, float64(attempt-1))
	}

	if c.MaxDelay > 0 && raw > float64(c.MaxDelay) {
		raw = float64(c.MaxDelay)
	}

	if c.Jitter {
		raw *= 0.5 + rand.Float64()*0.5
	}

	return time.Duration(raw)
}

// Recovery is a domain-specific adjustment applied before the generic retry
// delay for a recognized failure category. It receives and returns the
// effective per-attempt timeout and any batch-size hint, and reports
// whether a retry should be attempted at all.
type Recovery func(ctx RecoveryContext) (RecoveryContext, bool)

// RecoveryContext carries the mutable per-attempt knobs a Recovery may
// adjust.
type RecoveryContext struct {
	Timeout   time.Duration
	BatchSize int
	Attempt   int
}

// domainRecoveries implements the five named recoveries from the
// error-handling design, applied before the generic retry/backoff for their
// matching category.
func domainRecoveries() map[Category]Recovery {
	return map[Category]Recovery{
		CategoryTimeout: func(rc RecoveryContext) (RecoveryContext, bool) {
			rc.Timeout = time.Duration(float64(rc.Timeout) * 1.5)
			if max := 10 * time.Minute; rc.Timeout > max {
				rc.Timeout = max
			}
			if rc.BatchSize > 1 {
				rc.BatchSize /= 2
			}
			return rc, true
		},
		CategoryNetwork: func(rc RecoveryContext) (RecoveryContext, bool) {
			return rc, true
		},
		CategoryAuthentication: func(rc RecoveryContext) (RecoveryContext, bool) {
			return rc, false
		},
		CategoryResource: func(rc RecoveryContext) (RecoveryContext, bool) {
			time.Sleep(5 * time.Second)
			return rc, true
		},
	}
}

// Controller drives retry attempts against an operation, applying the
// classifier's action, any matching domain-specific recovery, and the
// configured backoff strategy between attempts.
type Controller struct {
	config     RetryConfig
	classifier *Classifier
	recoveries map[Category]Recovery
}

// NewController builds a retry controller over the given classifier.
func NewController(config RetryConfig, classifier *Classifier) *Controller {
	return &Controller{config: config, classifier: classifier, recoveries: domainRecoveries()}
}

// Result is returned by Run: the final value or error, plus the number of
// attempts actually made (the innermost retry count, never multiplied by
// any outer workflow-level retry the caller may also apply).
type Result struct {
	Value    interface{}
	Err      error
	Attempts int
	Degraded bool
}

// missingResourceCap caps retries at 2 for "missing resource" failures per
// the error-handling design, independent of MaxAttempts.
const missingResourceCap = 2

// Run executes op up to MaxAttempts+1 times (the first try plus retries),
// applying classification-driven recovery and backoff between attempts.
// op receives the current RecoveryContext so it can honor an adjusted
// timeout or batch size.
func (c *Controller) Run(ctx context.Context, rc RecoveryContext, op func(context.Context, RecoveryContext) (interface{}, error)) Result {
	var lastErr error
	attempts := 0
	missingResourceRetries := 0

	for attempt := 1; attempt <= c.config.MaxAttempts+1; attempt++ {
		attempts = attempt
		rc.Attempt = attempt

		attemptCtx := ctx
		var cancel context.CancelFunc
		if rc.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, rc.Timeout)
		}
		value, err := op(attemptCtx, rc)
		if cancel != nil {
			cancel()
		}

		if err == nil {
			return Result{Value: value, Attempts: attempts}
		}
		lastErr = err

		if ctx.Err() != nil {
			return Result{Err: ctx.Err(), Attempts: attempts}
		}

		classification := c.classifier.Classify(err)
		switch classification.Action {
		case ActionEscalate, ActionCircuitBreak:
			return Result{Err: err, Attempts: attempts}
		case ActionGracefulDegradation:
			return Result{Err: err, Attempts: attempts, Degraded: true}
		}

		if classification.Category == CategoryMissingResource {
			missingResourceRetries++
			if missingResourceRetries > missingResourceCap {
				return Result{Err: err, Attempts: attempts}
			}
		}

		if recovery, ok := c.recoveries[classification.Category]; ok {
			var shouldRetry bool
			rc, shouldRetry = recovery(rc)
			if !shouldRetry {
				return Result{Err: err, Attempts: attempts}
			}
		}

		if attempt > c.config.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return Result{Err: ctx.Err(), Attempts: attempts}
		case <-time.After(c.config.delay(attempt)):
		}
	}

	return Result{Err: lastErr, Attempts: attempts}
}
