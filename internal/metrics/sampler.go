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
	"context"
	"runtime"
	"time"
)

// Sampler polls OS-level resource gauges on an interval and records them
// into the registry. The Go runtime doesn't expose CPU/disk/network I/O
// without a third-party cgroup/proc reader, so this sampler records what
// the standard library's runtime package can see directly (heap memory,
// goroutine count) and accepts optional external readers for the rest.
type Sampler struct {
	registry *Registry
	interval time.Duration
	readers  map[string]func() float64
}

// NewSampler creates a background OS-metric sampler. extraReaders lets
// callers plug in CPU/disk/network readers backed by a platform-specific
// source (e.g. /proc on Linux) without this package depending on one.
func NewSampler(registry *Registry, interval time.Duration, extraReaders map[string]func() float64) *Sampler {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	readers := map[string]func() float64{
		"system_memory_percent": func() float64 {
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			if m.Sys == 0 {
				return 0
			}
			return float64(m.HeapAlloc) / float64(m.Sys) * 100
		},
		"system_goroutines": func() float64 {
			return float64(runtime.NumGoroutine())
		},
	}
	for name, fn := range extraReaders {
		readers[name] = fn
	}
	return &Sampler{registry: registry, interval: interval, readers: readers}
}

// Run polls every reader on Interval until ctx is cancelled.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.sampleOnce()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sampleOnce()
		}
	}
}

func (s *Sampler) sampleOnce() {
	for name, read := range s.readers {
		s.registry.Declare(name, KindGauge)
		s.registry.Record(name, read(), nil)
	}
}
