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

package metrics

import (
	"fmt"
	"time"
)

// Scope is a started timing scope, returned by TimeOperation and ended by
// calling End (success) or Fail (error).
type Scope struct {
	registry  *Registry
	operation string
	labels    map[string]string
	started   time.Time
	ended     bool
}

// TimeOperation starts a timing scope labeled by operation (conventionally
// "<client-kind>:<tool-name>"). It records a histogram sample under
// "operation_duration_seconds" and increments "operations_total" when ended;
// Fail additionally increments "operation_errors" labeled by error_type.
func (r *Registry) TimeOperation(operation string, labels map[string]string) *Scope {
	return &Scope{registry: r, operation: operation, labels: labels, started: time.Now()}
}

// End closes the scope on success.
func (s *Scope) End() {
	if s.ended {
		return
	}
	s.ended = true
	elapsed := time.Since(s.started).Seconds()
	s.registry.Declare("operation_duration_seconds", KindHistogram, "operation")
	s.registry.Declare("operations_total", KindCounter, "operation")
	s.registry.Record("operation_duration_seconds", elapsed, merge(s.labels, "operation", s.operation))
	s.registry.Inc("operations_total", merge(s.labels, "operation", s.operation))
}

// Fail closes the scope on failure, additionally tagging the error type.
func (s *Scope) Fail(err error) {
	if s.ended {
		return
	}
	s.End()
	s.registry.Declare("operation_errors", KindCounter, "operation", "error_type")
	s.registry.Inc("operation_errors", merge(s.labels, "operation", s.operation, "error_type", fmt.Sprintf("%T", err)))
}

// CacheHit records a cache hit for operation, ending the scope without
// counting toward operation_duration_seconds (the cache short-circuited
// the real call).
func (s *Scope) CacheHit() {
	if s.ended {
		return
	}
	s.ended = true
	s.registry.Declare("cache_hits_total", KindCounter, "operation")
	s.registry.Inc("cache_hits_total", merge(s.labels, "operation", s.operation))
}

func merge(base map[string]string, kv ...string) map[string]string {
	out := make(map[string]string, len(base)+len(kv)/2)
	for k, v := range base {
		out[k] = v
	}
	for i := 0; i+1 < len(kv); i += 2 {
		out[kv[i]] = kv[i+1]
	}
	return out
}
