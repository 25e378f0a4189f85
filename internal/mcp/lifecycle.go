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

// Server supervision: dials a server's connection through the manager's
// pool, watches for the pool evicting it (a failed health-check ping or
// an explicit restart), and redials with a restart-policy-governed
// backoff, separate from the pool's own per-connection reconnect backoff.
package mcp

import (
	"time"
)

// superviseServer owns one managed server's lifecycle for as long as it is
// registered with the manager. Dialing, health-check pings, and
// per-connection reconnect-with-backoff all live in Manager.pool; this
// loop is left with what the pool has no notion of - the restart policy's
// give-up threshold, and reacting to an operator-triggered restart.
func (m *Manager) superviseServer(state *serverState) {
	defer m.wg.Done()

	name := state.config.Name

	for {
		state.mu.Lock()
		state.state = ServerStateStarting
		state.mu.Unlock()

		conn, connID, err := m.pool.Acquire(m.ctx, name)
		if err != nil {
			state.mu.Lock()
			state.state = ServerStateError
			state.lastError = err.Error()
			state.restartCount++
			restartCount := state.restartCount
			policy := state.config.RestartPolicy
			maxAttempts := state.config.MaxRestartAttempts
			state.mu.Unlock()

			m.eventEmitter.EmitFailed(name, err)

			if !m.shouldRestart(policy, maxAttempts, restartCount) {
				m.logger.Info("restart policy prevents restart",
					"server", name,
					"policy", policy,
					"restart_count", restartCount,
					"max_attempts", maxAttempts,
				)
				return
			}

			backoff := dialBackoff(restartCount)
			m.logger.Info("mcp server will retry after backoff",
				"server", name,
				"backoff", backoff,
				"restart_count", restartCount,
			)
			m.eventEmitter.EmitRestarting(name, restartCount)

			select {
			case <-time.After(backoff):
				continue
			case <-state.stopCh:
				return
			case <-m.ctx.Done():
				return
			}
		}

		client, ok := conn.(*Client)
		if !ok {
			m.pool.Release(connID)
			state.mu.Lock()
			state.state = ServerStateError
			state.lastError = "pool returned a non-MCP connection"
			state.mu.Unlock()
			return
		}

		// The connection stays idle in the pool between uses: the pool's
		// own health-check loop pings it, and GetClient leases it out on
		// demand. The supervisor only needs to notice if it disappears.
		m.pool.Release(connID)

		state.mu.Lock()
		state.client = client
		state.connID = connID
		state.failureCount = 0
		state.restartCount = 0
		state.state = ServerStateRunning
		state.startedAt = time.Now()
		state.lastError = ""
		state.mu.Unlock()

		m.eventEmitter.EmitStarted(name)
		m.eventEmitter.EmitHealthy(name)

		if !m.watchConnection(state) {
			return
		}
		// The pool evicted the connection (failed health check) or a
		// restart was requested; loop back and redial.
	}
}

// watchConnection blocks until the state's leased connection is evicted
// from the pool or the server is asked to stop/restart. It returns true
// if the caller should redial, false if supervision should end.
func (m *Manager) watchConnection(state *serverState) bool {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	name := state.config.Name

	for {
		select {
		case <-state.restartCh:
			m.logger.Info("restarting mcp server", "server", name)
			state.mu.Lock()
			state.state = ServerStateRestarting
			connID := state.connID
			state.client = nil
			state.connID = ""
			state.toolCount = nil
			state.mu.Unlock()
			m.pool.Evict(connID)
			return true

		case <-state.stopCh:
			m.logger.Info("stopping mcp server supervisor", "server", name)
			state.mu.Lock()
			state.state = ServerStateStopped
			state.mu.Unlock()
			return false

		case <-m.ctx.Done():
			m.logger.Info("manager shutting down, stopping mcp server", "server", name)
			state.mu.Lock()
			state.state = ServerStateStopped
			state.mu.Unlock()
			return false

		case <-ticker.C:
			state.mu.RLock()
			connID := state.connID
			state.mu.RUnlock()

			if !m.pool.Active(connID) {
				m.logger.Warn("mcp server connection evicted by pool health check", "server", name)
				state.mu.Lock()
				state.state = ServerStateError
				state.lastError = "connection health check failed"
				state.failureCount++
				state.lastFailure = time.Now()
				state.client = nil
				state.connID = ""
				state.toolCount = nil
				state.mu.Unlock()
				m.eventEmitter.EmitUnhealthy(name, "health check ping failed")
				return true
			}
		}
	}
}

// dialBackoff computes the delay before the supervisor retries a failed
// dial: exponential in the number of consecutive dial failures, capped at
// 30 seconds. This governs process-spawn failures; a connection that
// dials fine and later goes unhealthy instead backs off on the pool's own
// RetryDelay/MaxRetries schedule.
func dialBackoff(restartCount int) time.Duration {
	if restartCount <= 1 {
		return time.Second
	}
	backoff := time.Duration(1<<uint(restartCount-1)) * time.Second
	if backoff > 30*time.Second {
		backoff = 30 * time.Second
	}
	return backoff
}

// shouldRestart checks if the server should be restarted based on restart policy.
func (m *Manager) shouldRestart(policy string, maxAttempts, currentCount int) bool {
	switch policy {
	case "never":
		return false
	case "on-failure":
		// We don't track process exit codes, so on-failure behaves like
		// always for now: every dial failure is treated as a failure.
	case "always", "":
		// Default is always
	default:
		m.logger.Warn("unknown restart policy, defaulting to always", "policy", policy)
	}

	// Check max restart attempts (0 means unlimited)
	if maxAttempts > 0 && currentCount >= maxAttempts {
		return false
	}

	return true
}
