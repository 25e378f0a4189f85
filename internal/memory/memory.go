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

// Package memory implements the scoped context and memory store: session
// and temporary entries live only in process memory with FIFO caps; user
// and system entries additionally persist to an embedded SQLite file with
// a full-text index, so they survive process restarts.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Scope is where an Entry lives and how long it is kept.
type Scope string

const (
	ScopeSession   Scope = "session"
	ScopeUser      Scope = "user"
	ScopeSystem    Scope = "system"
	ScopeTemporary Scope = "temporary"
)

// EntryType categorizes the kind of information an Entry carries.
type EntryType string

const (
	EntryTaskHistory    EntryType = "task-history"
	EntryUserPrefs      EntryType = "user-prefs"
	EntrySystemState    EntryType = "system-state"
	EntryEnvironment    EntryType = "environment"
	EntryWorkflowState  EntryType = "workflow-state"
	EntryErrorHistory   EntryType = "error-history"
	EntryPerformance    EntryType = "performance"
	EntryResourceUsage  EntryType = "resource-usage"
)

// Entry is one unit of contextual information.
type Entry struct {
	ID             string
	Type           EntryType
	Scope          Scope
	Data           map[string]interface{}
	Timestamp      time.Time
	Expiry         *time.Time
	Tags           []string
	RelevanceScore float64
	AccessCount    int
	LastAccessed   *time.Time
}

func (e *Entry) expired(now time.Time) bool {
	return e.Expiry != nil && now.After(*e.Expiry)
}

// content flattens an entry into the text a keyword tokenizer and a SQLite
// full-text index both operate on.
func (e *Entry) content() string {
	s := string(e.Type)
	for _, tag := range e.Tags {
		s += " " + tag
	}
	for k, v := range e.Data {
		s += fmt.Sprintf(" %s %v", k, v)
	}
	return s
}

// PersistentBackend is the durable half of the store, covering the user
// and system scopes. *SQLiteBackend implements this; tests can supply a
// fake.
type PersistentBackend interface {
	Put(ctx context.Context, e *Entry) error
	Get(ctx context.Context, id string) (*Entry, error)
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, query string, limit int) ([]*Entry, error)
	All(ctx context.Context, scope Scope) ([]*Entry, error)
	Close() error
}

// fifoScope is an in-memory, capacity-bounded map keyed by entry ID,
// evicting the oldest entry by timestamp once capacity is exceeded. Used
// for the session and temporary scopes, neither of which persists.
type fifoScope struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*Entry
}

func newFIFOScope(capacity int) *fifoScope {
	return &fifoScope{capacity: capacity, entries: make(map[string]*Entry)}
}

func (s *fifoScope) put(e *Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.ID] = e
	if len(s.entries) <= s.capacity {
		return
	}
	ordered := make([]*Entry, 0, len(s.entries))
	for _, entry := range s.entries {
		ordered = append(ordered, entry)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Timestamp.Before(ordered[j].Timestamp) })
	excess := len(ordered) - s.capacity
	for i := 0; i < excess; i++ {
		delete(s.entries, ordered[i].ID)
	}
}

func (s *fifoScope) get(id string, now time.Time) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	if e.expired(now) {
		delete(s.entries, id)
		return nil, false
	}
	e.AccessCount++
	accessed := now
	e.LastAccessed = &accessed
	return e, true
}

func (s *fifoScope) delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
}

func (s *fifoScope) all(now time.Time) []*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var live []*Entry
	for id, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, id)
			continue
		}
		live = append(live, e)
	}
	return live
}

// Config controls the Store's capacity and expiry behavior.
type Config struct {
	// SessionCapacity bounds the in-memory session scope. Default 1000.
	SessionCapacity int
	// TemporaryCapacity bounds the in-memory temporary scope. Default 100.
	TemporaryCapacity int
	// CleanupInterval is how often the background sweep started by
	// StartCleanup removes expired entries from every scope. Default 1 hour
	// (used when zero). Expired entries are also evicted lazily on read.
	CleanupInterval time.Duration
}

func (c *Config) setDefaults() {
	if c.SessionCapacity <= 0 {
		c.SessionCapacity = 1000
	}
	if c.TemporaryCapacity <= 0 {
		c.TemporaryCapacity = 100
	}
	if c.CleanupInterval == 0 {
		c.CleanupInterval = time.Hour
	}
}

// Store is the scoped context and memory store (C11). Session and
// temporary entries are kept only in memory; user and system entries are
// additionally written through to a PersistentBackend.
type Store struct {
	config     Config
	session    *fifoScope
	temporary  *fifoScope
	backend    PersistentBackend
	now        func() time.Time
	stopVacuum chan struct{}
}

// New builds a Store. backend may be nil, in which case Put rejects
// user/system entries and Query and Search return nothing for them —
// useful for tests that only exercise the in-memory scopes.
func New(config Config, backend PersistentBackend) *Store {
	config.setDefaults()
	s := &Store{
		config:    config,
		session:   newFIFOScope(config.SessionCapacity),
		temporary: newFIFOScope(config.TemporaryCapacity),
		backend:   backend,
		now:       time.Now,
	}
	return s
}

// StartCleanup runs the periodic expiry sweep until ctx is cancelled.
func (s *Store) StartCleanup(ctx context.Context) {
	ticker := time.NewTicker(s.config.CleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep(ctx)
			}
		}
	}()
}

func (s *Store) sweep(ctx context.Context) {
	now := s.now()
	s.session.all(now)
	s.temporary.all(now)
	if s.backend == nil {
		return
	}
	for _, scope := range []Scope{ScopeUser, ScopeSystem} {
		entries, err := s.backend.All(ctx, scope)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.expired(now) {
				_ = s.backend.Delete(ctx, e.ID)
			}
		}
	}
}

// Put stores or overwrites an entry under its scope.
func (s *Store) Put(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		return fmt.Errorf("memory: entry ID is required")
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}
	switch e.Scope {
	case ScopeSession:
		s.session.put(e)
		return nil
	case ScopeTemporary:
		if e.Expiry == nil {
			expiry := e.Timestamp.Add(time.Hour)
			e.Expiry = &expiry
		}
		s.temporary.put(e)
		return nil
	case ScopeUser, ScopeSystem:
		if s.backend == nil {
			return fmt.Errorf("memory: scope %q requires a persistent backend", e.Scope)
		}
		return s.backend.Put(ctx, e)
	default:
		return fmt.Errorf("memory: unknown scope %q", e.Scope)
	}
}

// Get retrieves an entry by ID, checking every scope that hasn't already
// been ruled out. Expired entries are evicted and reported as not found.
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	now := s.now()
	if e, ok := s.session.get(id, now); ok {
		return e, nil
	}
	if e, ok := s.temporary.get(id, now); ok {
		return e, nil
	}
	if s.backend != nil {
		e, err := s.backend.Get(ctx, id)
		if err == nil && e != nil {
			if e.expired(now) {
				_ = s.backend.Delete(ctx, id)
				return nil, fmt.Errorf("memory: entry %q not found", id)
			}
			return e, nil
		}
	}
	return nil, fmt.Errorf("memory: entry %q not found", id)
}

// Delete removes an entry from whichever scope holds it.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.session.delete(id)
	s.temporary.delete(id)
	if s.backend != nil {
		return s.backend.Delete(ctx, id)
	}
	return nil
}

// Query returns every live entry in scope. For session/temporary this is
// an in-memory scan; for user/system it delegates to the backend.
func (s *Store) Query(ctx context.Context, scope Scope) ([]*Entry, error) {
	now := s.now()
	switch scope {
	case ScopeSession:
		return s.session.all(now), nil
	case ScopeTemporary:
		return s.temporary.all(now), nil
	case ScopeUser, ScopeSystem:
		if s.backend == nil {
			return nil, nil
		}
		return s.backend.All(ctx, scope)
	default:
		return nil, fmt.Errorf("memory: unknown scope %q", scope)
	}
}

// Search performs a full-text query against the persistent backend only;
// session/temporary entries are not indexed since they are short-lived.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]*Entry, error) {
	if s.backend == nil {
		return nil, nil
	}
	return s.backend.Search(ctx, query, limit)
}

// Close releases the persistent backend, if any.
func (s *Store) Close() error {
	if s.backend == nil {
		return nil
	}
	return s.backend.Close()
}
