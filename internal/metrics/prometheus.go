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
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector exposes the registry's summaries as a single
// prometheus.Collector, so /metrics scraping sees the same p50/p95/p99 the
// in-process dashboard reads via Summarize.
type PrometheusCollector struct {
	registry *Registry
}

// NewPrometheusCollector wraps registry for Prometheus registration.
func NewPrometheusCollector(registry *Registry) *PrometheusCollector {
	return &PrometheusCollector{registry: registry}
}

// Describe satisfies prometheus.Collector with no fixed descriptor set,
// since metric names are declared dynamically at runtime.
func (c *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	// Intentionally empty: dynamic metric set, unchecked collector.
}

// Collect emits one gauge per declared metric's full-window mean, plus
// p95 and count as separate suffixed series.
func (c *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	for _, name := range c.registry.Names() {
		summary := c.registry.Summarize(name, 0)
		if summary.Count == 0 {
			continue
		}

		meanDesc := prometheus.NewDesc("flowgrid_"+sanitize(name)+"_mean", "mean of "+name, nil, nil)
		ch <- prometheus.MustNewConstMetric(meanDesc, prometheus.GaugeValue, summary.Mean)

		p95Desc := prometheus.NewDesc("flowgrid_"+sanitize(name)+"_p95", "p95 of "+name, nil, nil)
		ch <- prometheus.MustNewConstMetric(p95Desc, prometheus.GaugeValue, summary.P95)

		countDesc := prometheus.NewDesc("flowgrid_"+sanitize(name)+"_count", "sample count of "+name, nil, nil)
		ch <- prometheus.MustNewConstMetric(countDesc, prometheus.CounterValue, float64(summary.Count))
	}
}

func sanitize(name string) string {
	out := make([]rune, len(name))
	for i, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out[i] = r
		} else {
			out[i] = '_'
		}
	}
	return string(out)
}
