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

// Severity ranks a threshold breach.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is a single threshold-breach record.
type Alert struct {
	Metric    string
	Current   float64
	Threshold float64
	Severity  Severity
	Message   string
}

// Recommendation is a derived optimization suggestion.
type Recommendation struct {
	Type    string
	Message string
}

// Thresholds holds the comparison points the design note names explicitly.
type Thresholds struct {
	ResponseTimeP95   time.Duration
	ErrorRate         float64
	CPUPercent        float64
	MemoryPercent     float64
	PoolUtilizationHi float64
	PoolUtilizationLo float64
	CacheHitRateLow   float64
}

// DefaultThresholds mirrors monitoring.py's default threshold dict.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ResponseTimeP95:   2 * time.Second,
		ErrorRate:         0.05,
		CPUPercent:        80,
		MemoryPercent:     85,
		PoolUtilizationHi: 0.8,
		PoolUtilizationLo: 0.2,
		CacheHitRateLow:   0.7,
	}
}

// CheckThresholds compares windowed summaries against the configured
// thresholds and returns one alert per breach.
func (r *Registry) CheckThresholds(t Thresholds, window time.Duration) []Alert {
	var alerts []Alert

	if s := r.Summarize("operation_duration_seconds", window); s.Count > 0 {
		if p95 := time.Duration(s.P95 * float64(time.Second)); p95 > t.ResponseTimeP95 {
			alerts = append(alerts, Alert{
				Metric: "operation_duration_seconds.p95", Current: s.P95, Threshold: t.ResponseTimeP95.Seconds(),
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("high response time: %.2fs (threshold %.2fs)", s.P95, t.ResponseTimeP95.Seconds()),
			})
		}
	}

	totalOps := r.Value("operations_total")
	errOps := r.Value("operation_errors")
	if totalOps > 0 {
		rate := errOps / totalOps
		if rate > t.ErrorRate {
			alerts = append(alerts, Alert{
				Metric: "error_rate", Current: rate, Threshold: t.ErrorRate, Severity: SeverityCritical,
				Message: fmt.Sprintf("high error rate: %.1f%% (threshold %.1f%%)", rate*100, t.ErrorRate*100),
			})
		}
	}

	if s := r.Summarize("system_cpu_percent", window); s.Count > 0 && s.Mean > t.CPUPercent {
		alerts = append(alerts, Alert{
			Metric: "system_cpu_percent", Current: s.Mean, Threshold: t.CPUPercent, Severity: SeverityWarning,
			Message: fmt.Sprintf("high CPU usage: %.1f%% (threshold %.1f%%)", s.Mean, t.CPUPercent),
		})
	}

	if s := r.Summarize("system_memory_percent", window); s.Count > 0 && s.Mean > t.MemoryPercent {
		alerts = append(alerts, Alert{
			Metric: "system_memory_percent", Current: s.Mean, Threshold: t.MemoryPercent, Severity: SeverityWarning,
			Message: fmt.Sprintf("high memory usage: %.1f%% (threshold %.1f%%)", s.Mean, t.MemoryPercent),
		})
	}

	return alerts
}

// GenerateRecommendations derives optimization suggestions from current
// summaries, following the fixed rule set in the design note.
func (r *Registry) GenerateRecommendations(t Thresholds, window time.Duration) []Recommendation {
	var recs []Recommendation

	if s := r.Summarize("pool_utilization", window); s.Count > 0 {
		if s.Mean > t.PoolUtilizationHi {
			recs = append(recs, Recommendation{Type: "scaling", Message: "increase max_per_kind: pool utilization is high"})
		} else if s.Mean < t.PoolUtilizationLo {
			recs = append(recs, Recommendation{Type: "scaling", Message: "decrease max_per_kind: pool utilization is low"})
		}
	}

	hits := r.Value("cache_hits_total")
	totalOps := r.Value("operations_total")
	if totalOps > 0 {
		hitRate := hits / totalOps
		if hitRate < t.CacheHitRateLow {
			recs = append(recs, Recommendation{Type: "cache", Message: "raise max_size or TTL: cache hit rate is low"})
		}

		errRate := r.Value("operation_errors") / totalOps
		if errRate > t.ErrorRate {
			recs = append(recs, Recommendation{Type: "resilience", Message: "review retry policy: error rate is high"})
		}
	}

	return recs
}
