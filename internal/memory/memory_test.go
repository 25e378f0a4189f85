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

package memory

import (
	"context"
	"testing"
	"time"
)

func TestStore_SessionScopeEvictsOldestWhenOverCapacity(t *testing.T) {
	s := New(Config{SessionCapacity: 2}, nil)
	ctx := context.Background()

	base := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		err := s.Put(ctx, &Entry{ID: id, Scope: ScopeSession, Timestamp: base.Add(time.Duration(i) * time.Second)})
		if err != nil {
			t.Fatalf("Put(%s) error: %v", id, err)
		}
	}

	if _, err := s.Get(ctx, "a"); err == nil {
		t.Fatal("expected oldest session entry to be evicted")
	}
	if _, err := s.Get(ctx, "c"); err != nil {
		t.Fatalf("expected newest session entry to survive: %v", err)
	}
}

func TestStore_TemporaryScopeDefaultsExpiry(t *testing.T) {
	s := New(Config{}, nil)
	ctx := context.Background()

	if err := s.Put(ctx, &Entry{ID: "t1", Scope: ScopeTemporary}); err != nil {
		t.Fatalf("Put error: %v", err)
	}

	e, err := s.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if e.Expiry == nil {
		t.Fatal("expected temporary entry to get a default expiry")
	}
}

func TestStore_ExpiredEntryIsEvictedOnRead(t *testing.T) {
	s := New(Config{}, nil)
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	if err := s.Put(ctx, &Entry{ID: "old", Scope: ScopeSession, Expiry: &past}); err != nil {
		t.Fatalf("Put error: %v", err)
	}

	if _, err := s.Get(ctx, "old"); err == nil {
		t.Fatal("expected expired entry to be treated as not found")
	}
}

func TestStore_UserScopeWithoutBackendErrors(t *testing.T) {
	s := New(Config{}, nil)
	err := s.Put(context.Background(), &Entry{ID: "u1", Scope: ScopeUser})
	if err == nil {
		t.Fatal("expected error storing user-scope entry without a persistent backend")
	}
}

type fakeBackend struct {
	entries map[string]*Entry
}

func newFakeBackend() *fakeBackend { return &fakeBackend{entries: map[string]*Entry{}} }

func (f *fakeBackend) Put(_ context.Context, e *Entry) error {
	f.entries[e.ID] = e
	return nil
}

func (f *fakeBackend) Get(_ context.Context, id string) (*Entry, error) {
	e, ok := f.entries[id]
	if !ok {
		return nil, errNotFound
	}
	return e, nil
}

func (f *fakeBackend) Delete(_ context.Context, id string) error {
	delete(f.entries, id)
	return nil
}

func (f *fakeBackend) Search(_ context.Context, query string, limit int) ([]*Entry, error) {
	return nil, nil
}

func (f *fakeBackend) All(_ context.Context, scope Scope) ([]*Entry, error) {
	var out []*Entry
	for _, e := range f.entries {
		if e.Scope == scope {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeBackend) Close() error { return nil }

func TestStore_UserScopeRoutesToBackend(t *testing.T) {
	backend := newFakeBackend()
	s := New(Config{}, backend)
	ctx := context.Background()

	if err := s.Put(ctx, &Entry{ID: "u1", Scope: ScopeUser, Data: map[string]interface{}{"k": "v"}}); err != nil {
		t.Fatalf("Put error: %v", err)
	}

	e, err := s.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if e.Data["k"] != "v" {
		t.Fatalf("Data = %v, want k=v", e.Data)
	}
}

type notFoundError struct{}

func (notFoundError) Error() string { return "not found" }

var errNotFound = notFoundError{}
