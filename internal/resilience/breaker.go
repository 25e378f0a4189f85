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
	"sync"
	"time"

	pkgerrors "github.com/flowgrid/flowgrid/pkg/errors"
)

// BreakerState is one of the three states a per-service breaker can be in.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// breakerState tracks one service's breaker, following the teacher's
// circuitBreaker/circuitState split (pkg/llm/failover.go) generalized from
// two states (open/not-open) to the spec's explicit three-state machine
// with a single admitted probe in half-open.
type breakerState struct {
	state           BreakerState
	failureCount    int
	lastFailureTime time.Time
	probeInFlight   bool
}

// BreakerConfig configures the circuit breaker.
type BreakerConfig struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
}

func (c *BreakerConfig) setDefaults() {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.RecoveryTimeout == 0 {
		c.RecoveryTimeout = 30 * time.Second
	}
}

// Status is a point-in-time snapshot of one service's breaker.
type Status struct {
	State               BreakerState
	ConsecutiveFailures int
	LastFailureTime     time.Time
}

// Breaker is a per-service-id circuit breaker. Transitions are serialized
// per service id by a single mutex, matching §5's "circuit breaker
// transitions are serialized per service id" requirement.
type Breaker struct {
	config BreakerConfig
	mu     sync.Mutex
	states map[string]*breakerState
}

// NewBreaker creates a circuit breaker.
func NewBreaker(config BreakerConfig) *Breaker {
	config.setDefaults()
	return &Breaker{config: config, states: make(map[string]*breakerState)}
}

func (b *Breaker) get(serviceID string) *breakerState {
	s, ok := b.states[serviceID]
	if !ok {
		s = &breakerState{state: BreakerClosed}
		b.states[serviceID] = s
	}
	return s
}

// Allow reports whether a call to serviceID may proceed. An open breaker
// past its recovery timeout transitions to half-open and admits exactly one
// probe; subsequent calls are rejected with BreakerOpenError until that
// probe resolves.
func (b *Breaker) Allow(serviceID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.get(serviceID)
	switch s.state {
	case BreakerClosed:
		return nil
	case BreakerHalfOpen:
		if s.probeInFlight {
			return &pkgerrors.BreakerOpenError{ServiceID: serviceID, RetryAfter: s.lastFailureTime.Add(b.config.RecoveryTimeout)}
		}
		s.probeInFlight = true
		return nil
	case BreakerOpen:
		if time.Since(s.lastFailureTime) > b.config.RecoveryTimeout {
			s.state = BreakerHalfOpen
			s.probeInFlight = true
			return nil
		}
		return &pkgerrors.BreakerOpenError{ServiceID: serviceID, RetryAfter: s.lastFailureTime.Add(b.config.RecoveryTimeout)}
	}
	return nil
}

// RecordSuccess closes the breaker and resets its failure count. A
// successful probe from half-open closes the breaker, per spec.
func (b *Breaker) RecordSuccess(serviceID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.get(serviceID)
	s.failureCount = 0
	s.state = BreakerClosed
	s.probeInFlight = false
}

// RecordFailure increments the failure count and opens the breaker once the
// threshold is crossed. A failed probe from half-open returns directly to
// open and refreshes last_failure_time, per spec.
func (b *Breaker) RecordFailure(serviceID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.get(serviceID)
	s.lastFailureTime = time.Now()
	s.probeInFlight = false

	if s.state == BreakerHalfOpen {
		s.state = BreakerOpen
		return
	}

	s.failureCount++
	if s.failureCount >= b.config.FailureThreshold {
		s.state = BreakerOpen
	}
}

// Status returns a snapshot of every service the breaker has seen.
func (b *Breaker) Status() map[string]Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]Status, len(b.states))
	for id, s := range b.states {
		out[id] = Status{State: s.state, ConsecutiveFailures: s.failureCount, LastFailureTime: s.lastFailureTime}
	}
	return out
}
