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

// Package pool implements a connection pool for MCP service clients: reuse of
// established connections across workflow steps, bounded concurrency per
// service, idle eviction, prewarming, and reconnect-with-backoff when a
// connection errors out.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	pkgerrors "github.com/flowgrid/flowgrid/pkg/errors"
)

// Conn is a pooled connection. Any MCP transport client satisfies this by
// exposing Ping and Close; internal/mcp's *Client does.
type Conn interface {
	Ping(ctx context.Context) error
	Close() error
}

// Factory creates a new connection for a service id.
type Factory func(ctx context.Context, serviceID string) (Conn, error)

// connState mirrors the teacher's serverState bookkeeping style
// (internal/mcp/manager.go) but tracks pooled connections instead of
// supervised processes.
type connState struct {
	conn         Conn
	serviceID    string
	state        ConnectionState
	createdAt    time.Time
	lastUsed     time.Time
	useCount     int
	errorCount   int
	connectionID string
}

// ConnectionState is the lifecycle state of a pooled connection.
type ConnectionState string

const (
	StateIdle         ConnectionState = "idle"
	StateActive       ConnectionState = "active"
	StateReconnecting ConnectionState = "reconnecting"
	StateClosed       ConnectionState = "closed"
	StateError        ConnectionState = "error"
)

// Config configures the connection pool. Field names and defaults follow
// original_source's PoolConfig.
type Config struct {
	MaxPerService       int
	MinPerService       int
	AcquireTimeout      time.Duration
	IdleTimeout         time.Duration
	MaxRetries          int
	RetryDelay          time.Duration
	HealthCheckInterval time.Duration
	CleanupInterval     time.Duration
	EnablePrewarming    bool
	// RateLimit bounds the rate of new connection creation across all
	// services; zero disables limiting.
	RateLimit rate.Limit
	Logger    *slog.Logger
}

func (c *Config) setDefaults() {
	if c.MaxPerService == 0 {
		c.MaxPerService = 5
	}
	if c.MinPerService == 0 {
		c.MinPerService = 1
	}
	if c.AcquireTimeout == 0 {
		c.AcquireTimeout = 30 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 5 * time.Minute
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = time.Second
	}
	if c.HealthCheckInterval == 0 {
		c.HealthCheckInterval = time.Minute
	}
	if c.CleanupInterval == 0 {
		c.CleanupInterval = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Stats reports pool-wide counters.
type Stats struct {
	TotalConnections  int
	ActiveConnections int
	PoolHits          int
	PoolMisses        int
	Reconnections     int
	Errors            int
}

// Pool is a connection pool keyed by service id.
type Pool struct {
	config  Config
	factory Factory
	limiter *rate.Limiter

	mu       sync.Mutex
	byID     map[string][]*connState // serviceID -> connections
	active   map[string]*connState   // connectionID -> connection
	counter  int
	stats    Stats
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	waitCond *sync.Cond
}

// New creates a connection pool. factory is invoked whenever a new
// connection must be created for a service.
func New(config Config, factory Factory) *Pool {
	config.setDefaults()

	var limiter *rate.Limiter
	if config.RateLimit > 0 {
		limiter = rate.NewLimiter(config.RateLimit, int(config.RateLimit)+1)
	}

	p := &Pool{
		config:  config,
		factory: factory,
		limiter: limiter,
		byID:    make(map[string][]*connState),
		active:  make(map[string]*connState),
	}
	p.waitCond = sync.NewCond(&p.mu)
	return p
}

// Start begins background cleanup and health-check loops, and prewarms
// min-per-service connections for the given service ids if enabled.
func (p *Pool) Start(ctx context.Context, services []string) {
	runCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.running = true
	p.cancel = cancel
	p.mu.Unlock()

	p.wg.Add(2)
	go p.cleanupLoop(runCtx)
	go p.healthCheckLoop(runCtx)

	if p.config.EnablePrewarming {
		for _, id := range services {
			for i := 0; i < p.config.MinPerService; i++ {
				if _, err := p.createConnection(runCtx, id); err != nil {
					p.config.Logger.Warn("prewarm failed", "service", id, "error", err)
					break
				}
			}
		}
	}
}

// Shutdown stops background loops and closes every pooled connection.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.running = false
	all := make([]*connState, 0)
	for _, list := range p.byID {
		all = append(all, list...)
	}
	p.byID = make(map[string][]*connState)
	p.active = make(map[string]*connState)
	p.mu.Unlock()

	p.wg.Wait()

	for _, cs := range all {
		_ = cs.conn.Close()
	}
}

// Acquire returns an idle connection for serviceID, creating one if the
// per-service limit allows, or waiting for one to free up otherwise.
func (p *Pool) Acquire(ctx context.Context, serviceID string) (Conn, string, error) {
	deadline := time.Now().Add(p.config.AcquireTimeout)

	p.mu.Lock()
	for {
		if cs := p.takeIdleLocked(serviceID); cs != nil {
			p.stats.PoolHits++
			p.mu.Unlock()
			return cs.conn, cs.connectionID, nil
		}

		if len(p.byID[serviceID]) < p.config.MaxPerService {
			p.mu.Unlock()
			cs, err := p.createConnection(ctx, serviceID)
			if err != nil {
				return nil, "", err
			}
			p.stats.PoolMisses++
			return cs.conn, cs.connectionID, nil
		}

		if time.Now().After(deadline) {
			p.mu.Unlock()
			return nil, "", &pkgerrors.CapacityError{Resource: serviceID, Limit: p.config.MaxPerService, Waited: p.config.AcquireTimeout}
		}

		waitCh := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
			case <-time.After(50 * time.Millisecond):
			}
			close(waitCh)
		}()
		p.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, "", ctx.Err()
		case <-waitCh:
		}
		p.mu.Lock()
	}
}

// takeIdleLocked must be called with p.mu held.
func (p *Pool) takeIdleLocked(serviceID string) *connState {
	for _, cs := range p.byID[serviceID] {
		if cs.state == StateIdle {
			cs.state = StateActive
			cs.lastUsed = time.Now()
			cs.useCount++
			p.active[cs.connectionID] = cs
			return cs
		}
	}
	return nil
}

// Release returns a connection to the idle pool.
func (p *Pool) Release(connectionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cs, ok := p.active[connectionID]
	if !ok {
		return
	}
	delete(p.active, connectionID)
	cs.state = StateIdle
	cs.lastUsed = time.Now()
}

// ReportError marks a connection as errored, closing it after MaxRetries
// consecutive failures and otherwise scheduling a reconnect.
func (p *Pool) ReportError(ctx context.Context, connectionID string) {
	p.mu.Lock()
	cs, ok := p.active[connectionID]
	if !ok {
		p.mu.Unlock()
		return
	}
	delete(p.active, connectionID)
	cs.errorCount++
	cs.state = StateError
	p.stats.Errors++
	retry := cs.errorCount <= p.config.MaxRetries
	p.mu.Unlock()

	if retry {
		p.wg.Add(1)
		go p.reconnect(ctx, cs)
	} else {
		p.removeConnection(cs)
	}
}

func (p *Pool) reconnect(ctx context.Context, cs *connState) {
	defer p.wg.Done()

	p.mu.Lock()
	cs.state = StateReconnecting
	delay := p.config.RetryDelay * time.Duration(cs.errorCount)
	p.mu.Unlock()

	select {
	case <-ctx.Done():
		p.removeConnection(cs)
		return
	case <-time.After(delay):
	}

	if err := cs.conn.Close(); err != nil {
		p.config.Logger.Debug("error closing stale connection", "error", err)
	}

	conn, err := p.dial(ctx, cs.serviceID)
	if err != nil {
		p.config.Logger.Warn("reconnect failed", "service", cs.serviceID, "error", err)
		p.removeConnection(cs)
		return
	}

	p.mu.Lock()
	cs.conn = conn
	cs.state = StateIdle
	cs.errorCount = 0
	cs.lastUsed = time.Now()
	p.stats.Reconnections++
	p.mu.Unlock()
}

func (p *Pool) removeConnection(cs *connState) {
	p.mu.Lock()
	list := p.byID[cs.serviceID]
	for i, other := range list {
		if other == cs {
			p.byID[cs.serviceID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	delete(p.active, cs.connectionID)
	cs.state = StateClosed
	p.stats.TotalConnections--
	p.mu.Unlock()

	_ = cs.conn.Close()
}

func (p *Pool) dial(ctx context.Context, serviceID string) (Conn, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	conn, err := p.factory(ctx, serviceID)
	if err != nil {
		return nil, &pkgerrors.TransportError{ServiceID: serviceID, Operation: "connect", Cause: err}
	}
	return conn, nil
}

func (p *Pool) createConnection(ctx context.Context, serviceID string) (*connState, error) {
	conn, err := p.dial(ctx, serviceID)
	if err != nil {
		p.mu.Lock()
		p.stats.Errors++
		p.mu.Unlock()
		return nil, err
	}

	p.mu.Lock()
	p.counter++
	cs := &connState{
		conn:         conn,
		serviceID:    serviceID,
		state:        StateActive,
		createdAt:    time.Now(),
		lastUsed:     time.Now(),
		useCount:     1,
		connectionID: fmt.Sprintf("%s-%d", serviceID, p.counter),
	}
	p.byID[serviceID] = append(p.byID[serviceID], cs)
	p.active[cs.connectionID] = cs
	p.stats.TotalConnections++
	p.mu.Unlock()
	return cs, nil
}

// Stats returns a snapshot of pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Active reports whether connectionID still has a live entry in the pool,
// whether idle or leased out. A supervisory caller that held a connection
// across Release calls (rather than a single Acquire/Release pair) uses
// this to notice the background health-check or error-reporting path
// evicted it, without needing its own duplicate notion of liveness.
func (p *Pool) Active(connectionID string) bool {
	if connectionID == "" {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.active[connectionID]; ok {
		return true
	}
	for _, list := range p.byID {
		for _, cs := range list {
			if cs.connectionID == connectionID {
				return cs.state != StateClosed
			}
		}
	}
	return false
}

// Evict removes connectionID from the pool immediately and closes it,
// regardless of whether it is idle or leased out. Unlike ReportError,
// which only evicts after MaxRetries consecutive failures, Evict is for
// callers that already know the connection must be replaced, such as an
// explicit restart request.
func (p *Pool) Evict(connectionID string) {
	if connectionID == "" {
		return
	}
	p.mu.Lock()
	var target *connState
	if cs, ok := p.active[connectionID]; ok {
		target = cs
	} else {
		for _, list := range p.byID {
			for _, cs := range list {
				if cs.connectionID == connectionID {
					target = cs
					break
				}
			}
			if target != nil {
				break
			}
		}
	}
	p.mu.Unlock()

	if target != nil {
		p.removeConnection(target)
	}
}

func (p *Pool) cleanupLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.evictIdle()
		}
	}
}

func (p *Pool) evictIdle() {
	p.mu.Lock()
	now := time.Now()
	var toRemove []*connState
	for serviceID, list := range p.byID {
		kept := len(list)
		for _, cs := range list {
			if cs.state == StateIdle && now.Sub(cs.lastUsed) > p.config.IdleTimeout && kept > p.config.MinPerService {
				toRemove = append(toRemove, cs)
				kept--
			}
		}
		_ = serviceID
	}
	p.mu.Unlock()

	for _, cs := range toRemove {
		p.removeConnection(cs)
	}
}

func (p *Pool) healthCheckLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.config.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.healthCheck(ctx)
		}
	}
}

func (p *Pool) healthCheck(ctx context.Context) {
	p.mu.Lock()
	var idle []*connState
	for _, list := range p.byID {
		for _, cs := range list {
			if cs.state == StateIdle {
				idle = append(idle, cs)
			}
		}
	}
	p.mu.Unlock()

	for _, cs := range idle {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := cs.conn.Ping(pingCtx)
		cancel()
		if err != nil {
			p.mu.Lock()
			cs.state = StateError
			p.mu.Unlock()
			p.removeConnection(cs)
		}
	}
}

// Execute acquires a connection, runs fn with it, and releases or reports the
// error, so callers never forget to return a connection to the pool.
func (p *Pool) Execute(ctx context.Context, serviceID string, fn func(Conn) error) error {
	conn, connectionID, err := p.Acquire(ctx, serviceID)
	if err != nil {
		return err
	}

	if err := fn(conn); err != nil {
		p.ReportError(ctx, connectionID)
		return err
	}

	p.Release(connectionID)
	return nil
}
