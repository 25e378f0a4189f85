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

package router

import "testing"

func testBindings() []Binding {
	return []Binding{
		{ClientKind: "filesystem", Categories: []Category{CategoryFileOps, CategoryDataAnalysis}, Priority: 3},
		{ClientKind: "desktop", Categories: []Category{CategoryDesktopAutomation}, Priority: 2},
		{ClientKind: "system", Categories: []Category{CategorySystemMonitoring, CategorySystemInteraction}, Priority: 2},
		{ClientKind: "filesystem", Categories: []Category{CategoryGeneral, CategoryHybrid}, Priority: 1},
	}
}

func TestRouter_RoutesFileOperationToFilesystemClient(t *testing.T) {
	r := New(testBindings())

	decision, err := r.Route("delete the old log file and rename the backup directory")
	if err != nil {
		t.Fatalf("Route returned error: %v", err)
	}
	if decision.Category != CategoryFileOps {
		t.Fatalf("category = %q, want %q", decision.Category, CategoryFileOps)
	}
	if decision.ClientKind != "filesystem" {
		t.Fatalf("client kind = %q, want filesystem", decision.ClientKind)
	}
}

func TestRouter_RoutesMonitoringToSystemClient(t *testing.T) {
	r := New(testBindings())

	decision, err := r.Route("check cpu and memory usage, report process load")
	if err != nil {
		t.Fatalf("Route returned error: %v", err)
	}
	if decision.Category != CategorySystemMonitoring {
		t.Fatalf("category = %q, want %q", decision.Category, CategorySystemMonitoring)
	}
	if decision.ClientKind != "system" {
		t.Fatalf("client kind = %q, want system", decision.ClientKind)
	}
}

func TestRouter_NoKeywordMatchFallsBackToGeneral(t *testing.T) {
	r := New(testBindings())

	decision, err := r.Route("say hello to the team")
	if err != nil {
		t.Fatalf("Route returned error: %v", err)
	}
	if decision.Category != CategoryGeneral {
		t.Fatalf("category = %q, want %q", decision.Category, CategoryGeneral)
	}
	if decision.ClientKind != "filesystem" {
		t.Fatalf("client kind = %q, want filesystem", decision.ClientKind)
	}
}

func TestRouter_NoMatchingBindingErrors(t *testing.T) {
	r := New([]Binding{
		{ClientKind: "desktop", Categories: []Category{CategoryDesktopAutomation}, Priority: 1},
	})

	_, err := r.Route("click the button on screen")
	if err != nil {
		t.Fatalf("Route returned error: %v", err)
	}

	_, err = New(nil).Route("say hello to the team")
	if err == nil {
		t.Fatal("expected error when no binding can serve the task at all")
	}
}

func TestRouter_PriorityBreaksTieBetweenEquallyScoringBindings(t *testing.T) {
	r := New([]Binding{
		{ClientKind: "low-priority", Categories: []Category{CategoryFileOps}, Priority: 1},
		{ClientKind: "high-priority", Categories: []Category{CategoryFileOps}, Priority: 5},
	})

	decision, err := r.Route("copy the file to another directory")
	if err != nil {
		t.Fatalf("Route returned error: %v", err)
	}
	if decision.ClientKind != "high-priority" {
		t.Fatalf("client kind = %q, want high-priority", decision.ClientKind)
	}
}

func TestRouter_WithKeywordsOverridesCategory(t *testing.T) {
	r := New(testBindings(), WithKeywords(CategoryFileOps, map[string]int{"zzz": 5}))

	decision, err := r.Route("delete the old log file")
	if err != nil {
		t.Fatalf("Route returned error: %v", err)
	}
	if decision.Category == CategoryFileOps {
		t.Fatal("overridden keyword bag should no longer match \"delete\"/\"file\"")
	}
}
