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

// Package executor implements the resilient executor: the single entry
// point the workflow engine uses to perform one tool invocation, composing
// the cache, connection pool, circuit breaker, retry controller, and
// metrics registry in a fixed order so no caller has to remember it.
package executor

import (
	"context"
	"time"

	"github.com/flowgrid/flowgrid/internal/cache"
	"github.com/flowgrid/flowgrid/internal/metrics"
	"github.com/flowgrid/flowgrid/internal/pool"
	"github.com/flowgrid/flowgrid/internal/resilience"
	pkgerrors "github.com/flowgrid/flowgrid/pkg/errors"
)

// Invocation is one tool call request.
type Invocation struct {
	ServiceID string // e.g. "<client-kind>:<tool-name>", used by pool/breaker/metrics
	Operation string
	Target    string
	Params    map[string]interface{}
	Timeout   time.Duration
	CacheTTL  time.Duration
	Cacheable bool
}

// Call invokes the underlying transport through a leased pool connection.
type Call func(ctx context.Context, conn pool.Conn, timeout time.Duration) (interface{}, error)

// Outcome is the result of a resilient invocation.
type Outcome struct {
	Value    interface{}
	Err      error
	Attempts int
	Degraded bool
	CacheHit bool
}

// Executor composes C3–C6 around a single call in this order: timing scope
// -> cache lookup -> breaker gate -> pool lease -> retry loop -> breaker
// record -> cache write -> release.
type Executor struct {
	Pool       *pool.Pool
	Cache      *cache.Cache
	Breaker    *resilience.Breaker
	Retry      *resilience.Controller
	Metrics    *metrics.Registry
	Classifier *resilience.Classifier
}

// New builds a resilient executor from its five collaborators.
func New(p *pool.Pool, c *cache.Cache, b *resilience.Breaker, retry *resilience.Controller, m *metrics.Registry) *Executor {
	return &Executor{Pool: p, Cache: c, Breaker: b, Retry: retry, Metrics: m, Classifier: resilience.NewClassifier()}
}

// Execute runs one invocation through the full resilience stack.
func (e *Executor) Execute(ctx context.Context, inv Invocation, call Call) Outcome {
	scope := e.Metrics.TimeOperation(inv.ServiceID, map[string]string{"operation": inv.Operation})

	key := cache.Key(inv.ServiceID, inv.Target, inv.Params)
	if inv.Cacheable {
		if value, ok := e.Cache.Get(key); ok {
			scope.CacheHit()
			return Outcome{Value: value, CacheHit: true}
		}
	}

	if err := e.Breaker.Allow(inv.ServiceID); err != nil {
		scope.Fail(err)
		return Outcome{Err: err}
	}

	conn, connectionID, err := e.Pool.Acquire(ctx, inv.ServiceID)
	if err != nil {
		e.Breaker.RecordFailure(inv.ServiceID)
		scope.Fail(err)
		return Outcome{Err: err}
	}

	released := false
	release := func(reportErr bool) {
		if released {
			return
		}
		released = true
		if reportErr {
			e.Pool.ReportError(ctx, connectionID)
		} else {
			e.Pool.Release(connectionID)
		}
	}
	defer release(false)

	result := e.Retry.Run(ctx, resilience.RecoveryContext{Timeout: inv.Timeout}, func(attemptCtx context.Context, rc resilience.RecoveryContext) (interface{}, error) {
		return call(attemptCtx, conn, rc.Timeout)
	})

	if result.Err != nil {
		release(true)
		e.Breaker.RecordFailure(inv.ServiceID)
		if result.Degraded {
			scope.End()
			return Outcome{Err: result.Err, Attempts: result.Attempts, Degraded: true}
		}
		scope.Fail(result.Err)
		return Outcome{Err: result.Err, Attempts: result.Attempts}
	}

	e.Breaker.RecordSuccess(inv.ServiceID)
	if inv.Cacheable {
		e.Cache.Put(key, result.Value, inv.CacheTTL)
	}
	scope.End()
	return Outcome{Value: result.Value, Attempts: result.Attempts}
}

// WrapConnError is a convenience for Call implementations: it tags a
// transport-level failure with the invocation's service id so the
// classifier routes it correctly.
func WrapConnError(serviceID, operation string, err error) error {
	if err == nil {
		return nil
	}
	return &pkgerrors.TransportError{ServiceID: serviceID, Operation: operation, Cause: err}
}
