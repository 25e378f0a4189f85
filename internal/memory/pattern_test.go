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
)

func TestJaccardSimilarity_IdenticalSetsScoreOne(t *testing.T) {
	a := extractKeywords("deploy failed connection timeout")
	b := extractKeywords("deploy failed connection timeout")
	if sim := jaccardSimilarity(a, b); sim != 1 {
		t.Fatalf("similarity = %v, want 1", sim)
	}
}

func TestJaccardSimilarity_DisjointSetsScoreZero(t *testing.T) {
	a := extractKeywords("deploy failed connection")
	b := extractKeywords("unrelated weather report")
	if sim := jaccardSimilarity(a, b); sim != 0 {
		t.Fatalf("similarity = %v, want 0", sim)
	}
}

func TestPatternRecognizer_FindSimilarReturnsOverlappingEntries(t *testing.T) {
	store := New(Config{}, nil)
	ctx := context.Background()

	_ = store.Put(ctx, &Entry{
		ID: "e1", Scope: ScopeSession, Type: EntryErrorHistory,
		Data: map[string]interface{}{"error": "connection timeout while deploying service"},
	})
	_ = store.Put(ctx, &Entry{
		ID: "e2", Scope: ScopeSession, Type: EntryErrorHistory,
		Data: map[string]interface{}{"error": "completely unrelated weather forecast issue"},
	})

	recognizer := NewPatternRecognizer(store, 0.1)
	matches, err := recognizer.FindSimilar(ctx, "deploy timeout connection error", EntryErrorHistory, 5)
	if err != nil {
		t.Fatalf("FindSimilar error: %v", err)
	}
	if len(matches) == 0 {
		t.Fatal("expected at least one similar entry")
	}
	if matches[0].Entry.ID != "e1" {
		t.Fatalf("top match = %s, want e1", matches[0].Entry.ID)
	}
}
