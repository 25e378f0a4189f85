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
	"regexp"
	"sort"
	"strings"
)

var tokenPattern = regexp.MustCompile(`[a-zA-Z0-9]+`)

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "by": true, "is": true, "are": true, "was": true, "were": true,
	"be": true, "been": true, "have": true, "has": true, "had": true, "do": true,
	"does": true, "did": true, "will": true, "would": true, "could": true,
	"should": true, "this": true, "that": true, "these": true, "those": true,
	"i": true, "you": true, "he": true, "she": true, "it": true, "we": true, "they": true,
}

// keywordSet is a set of lowercase keyword tokens.
type keywordSet map[string]struct{}

// extractKeywords tokenizes text and drops stop words and words of length
// two or less.
func extractKeywords(text string) keywordSet {
	words := tokenPattern.FindAllString(strings.ToLower(text), -1)
	set := make(keywordSet, len(words))
	for _, w := range words {
		if len(w) > 2 && !stopWords[w] {
			set[w] = struct{}{}
		}
	}
	return set
}

// jaccardSimilarity is the size of the intersection over the size of the
// union of two keyword sets; 0 if either set is empty.
func jaccardSimilarity(a, b keywordSet) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for w := range a {
		if _, ok := b[w]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// Match pairs an Entry with its similarity score to a query.
type Match struct {
	Entry      *Entry
	Similarity float64
}

// PatternRecognizer finds entries similar to a query by Jaccard similarity
// over their keyword bags, so past tasks and past errors with overlapping
// wording surface together even without exact text matches.
type PatternRecognizer struct {
	store     *Store
	threshold float64
}

// NewPatternRecognizer wraps store; threshold is the minimum similarity
// for a candidate to be reported (default 0.3, matching the keyword
// extraction threshold used elsewhere for near-duplicate detection).
func NewPatternRecognizer(store *Store, threshold float64) *PatternRecognizer {
	if threshold <= 0 {
		threshold = 0.3
	}
	return &PatternRecognizer{store: store, threshold: threshold}
}

// FindSimilar scores query against every entry of the given type across
// session, temporary, user, and system scopes, returning matches above
// the threshold sorted by descending similarity.
func (p *PatternRecognizer) FindSimilar(ctx context.Context, query string, entryType EntryType, limit int) ([]Match, error) {
	queryKeywords := extractKeywords(query)
	if len(queryKeywords) == 0 {
		return nil, nil
	}

	var candidates []*Entry
	for _, scope := range []Scope{ScopeSession, ScopeTemporary, ScopeUser, ScopeSystem} {
		entries, err := p.store.Query(ctx, scope)
		if err != nil {
			continue
		}
		candidates = append(candidates, entries...)
	}

	var matches []Match
	for _, e := range candidates {
		if entryType != "" && e.Type != entryType {
			continue
		}
		similarity := jaccardSimilarity(queryKeywords, extractKeywords(e.content()))
		if similarity >= p.threshold {
			matches = append(matches, Match{Entry: e, Similarity: similarity})
		}
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}
