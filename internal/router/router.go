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

// Package router maps a free-text task description to the MCP client kind
// best suited to handle it, by scoring keyword bags per task category. It
// does not execute anything itself; callers use the winning client kind to
// look up a server name in internal/mcp's Registry.
package router

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Category is a coarse bucket of task intent used to pick a client kind.
type Category string

const (
	CategoryFileOps           Category = "file-ops"
	CategoryDesktopAutomation Category = "desktop-automation"
	CategorySystemMonitoring  Category = "system-monitoring"
	CategorySystemInteraction Category = "system-interaction"
	CategoryDataAnalysis      Category = "data-analysis"
	CategoryHybrid            Category = "hybrid"
	CategoryGeneral           Category = "general"
)

// defaultKeywords mirrors the coarse categories a task-routing layer needs
// to distinguish: which MCP client kind (filesystem, desktop, system, ...)
// is best positioned to carry out a described task. Weights let a strong
// signal word (e.g. "delete") outweigh a generic one (e.g. "file").
var defaultKeywords = map[Category]map[string]int{
	CategoryFileOps: {
		"file": 2, "files": 2, "directory": 2, "folder": 2, "read": 1,
		"write": 1, "copy": 1, "move": 1, "delete": 2, "rename": 2,
		"path": 1, "disk": 1, "upload": 1, "download": 1,
	},
	CategoryDesktopAutomation: {
		"click": 2, "window": 2, "screenshot": 2, "keyboard": 2, "mouse": 2,
		"screen": 1, "ui": 1, "button": 1, "type": 1, "app": 1,
		"application": 1, "desktop": 2,
	},
	CategorySystemMonitoring: {
		"cpu": 2, "memory": 2, "disk": 1, "process": 2, "metrics": 2,
		"uptime": 1, "load": 1, "monitor": 2, "usage": 1, "health": 1,
		"resource": 1,
	},
	CategorySystemInteraction: {
		"run": 1, "execute": 2, "command": 2, "shell": 2, "service": 1,
		"restart": 2, "install": 1, "kill": 2, "process": 1, "terminal": 2,
	},
	CategoryDataAnalysis: {
		"analyze": 2, "analysis": 2, "data": 2, "report": 1, "chart": 1,
		"csv": 2, "json": 1, "statistics": 2, "aggregate": 2, "summarize": 1,
		"query": 1, "dataset": 2,
	},
}

var tokenPattern = regexp.MustCompile(`[a-zA-Z0-9]+`)

// extractKeywords lowercases and tokenizes text, dropping short filler
// words. It uses the same token pattern and length filter as
// internal/memory but its own stop-word list, so the two keyword sets for
// the same text can differ.
func extractKeywords(text string) map[string]struct{} {
	words := tokenPattern.FindAllString(strings.ToLower(text), -1)
	keywords := make(map[string]struct{}, len(words))
	for _, w := range words {
		if len(w) > 2 && !stopWords[w] {
			keywords[w] = struct{}{}
		}
	}
	return keywords
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true,
	"this": true, "from": true, "are": true, "was": true, "were": true,
	"have": true, "has": true, "had": true, "will": true, "would": true,
	"could": true, "should": true, "into": true, "then": true, "than": true,
}

// Binding registers one MCP client kind as capable of serving a set of
// categories, with a priority used to break ties when multiple client
// kinds can serve the winning category.
type Binding struct {
	ClientKind string
	Categories []Category
	Priority   int
}

// Decision is the outcome of routing one task description.
type Decision struct {
	Category   Category
	ClientKind string
	Score      int
	Confidence float64
}

// Router scores a task description against per-category keyword bags and
// selects the registered client kind best suited to carry it out.
type Router struct {
	keywords map[Category]map[string]int
	bindings []Binding
}

// Option customizes a Router at construction time.
type Option func(*Router)

// WithKeywords overrides the built-in keyword bag for category. Call once
// per category to override; categories left untouched keep their defaults.
func WithKeywords(category Category, weighted map[string]int) Option {
	return func(r *Router) {
		r.keywords[category] = weighted
	}
}

// New builds a Router with the built-in keyword bags, registering bindings
// in the order given; Route consults them in this order when breaking ties.
func New(bindings []Binding, opts ...Option) *Router {
	r := &Router{
		keywords: make(map[Category]map[string]int, len(defaultKeywords)),
		bindings: bindings,
	}
	for cat, words := range defaultKeywords {
		r.keywords[cat] = words
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// score returns the weighted keyword-overlap score for every category that
// has at least one matching keyword in description.
func (r *Router) score(description string) map[Category]int {
	keywords := extractKeywords(description)
	scores := make(map[Category]int)
	for category, weighted := range r.keywords {
		total := 0
		for word, weight := range weighted {
			if _, ok := keywords[word]; ok {
				total += weight
			}
		}
		if total > 0 {
			scores[category] = total
		}
	}
	return scores
}

// Route picks the highest-scoring category with a bound, registered client
// kind. Categories that score but have no matching binding fall through to
// the next-highest scorer; if nothing scores, or only CategoryHybrid scores
// without a binding, it falls back to CategoryGeneral. Categories with
// equal scores come from map iteration, so which of them is tried first is
// not fixed; within one category, the highest-priority binding wins and
// equal priorities go to the earliest registered.
func (r *Router) Route(description string) (Decision, error) {
	scores := r.score(description)

	type ranked struct {
		category Category
		score    int
	}
	var ranking []ranked
	for category, score := range scores {
		ranking = append(ranking, ranked{category, score})
	}
	sort.SliceStable(ranking, func(i, j int) bool {
		return ranking[i].score > ranking[j].score
	})

	total := 0
	for _, s := range scores {
		total += s
	}

	// Two categories scoring near-equally signals the task spans both
	// rather than belonging cleanly to either; try CategoryHybrid first
	// in that case before falling back to the top individual scorer.
	if len(ranking) >= 2 && ranking[0].score > 0 {
		margin := float64(ranking[0].score-ranking[1].score) / float64(ranking[0].score)
		if margin <= 0.2 {
			if kind, ok := r.bestBinding(CategoryHybrid); ok {
				return Decision{Category: CategoryHybrid, ClientKind: kind, Score: ranking[0].score, Confidence: float64(ranking[0].score) / float64(total)}, nil
			}
		}
	}

	for _, candidate := range ranking {
		if kind, ok := r.bestBinding(candidate.category); ok {
			confidence := 0.0
			if total > 0 {
				confidence = float64(candidate.score) / float64(total)
			}
			return Decision{Category: candidate.category, ClientKind: kind, Score: candidate.score, Confidence: confidence}, nil
		}
	}

	if kind, ok := r.bestBinding(CategoryGeneral); ok {
		return Decision{Category: CategoryGeneral, ClientKind: kind, Score: 0, Confidence: 0}, nil
	}

	return Decision{}, fmt.Errorf("router: no registered client kind can serve %q", description)
}

// bestBinding returns the highest-priority bound client kind serving
// category, with ties broken by registration order.
func (r *Router) bestBinding(category Category) (string, bool) {
	bestIdx := -1
	bestPriority := 0
	for i, b := range r.bindings {
		for _, c := range b.Categories {
			if c == category {
				if bestIdx == -1 || b.Priority > bestPriority {
					bestIdx = i
					bestPriority = b.Priority
				}
				break
			}
		}
	}
	if bestIdx == -1 {
		return "", false
	}
	return r.bindings[bestIdx].ClientKind, true
}
