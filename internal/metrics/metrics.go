// Copyright 2025 shiioo
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

// Package metrics collects counters, gauges, and histograms identified by
// (name, sorted label set), and mirrors every observation into a
// Prometheus registry for /api/metrics exposition alongside the custom
// JSON view.
package metrics

import (
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var defaultBuckets = []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 120, 300}

// identity is the (name, sorted-label-kv-string) key every metric is
// stored under.
func identity(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	sb.WriteString(name)
	for _, k := range keys {
		sb.WriteByte('|')
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(labels[k])
	}
	return sb.String()
}

// Histogram is a fixed-bucket, CDF-style histogram.
type Histogram struct {
	Buckets      []float64 `json:"buckets"`
	BucketCounts []uint64  `json:"bucket_counts"`
	Sum          float64   `json:"sum"`
	Count        uint64    `json:"count"`
}

func newHistogram() *Histogram {
	return &Histogram{Buckets: append([]float64(nil), defaultBuckets...), BucketCounts: make([]uint64, len(defaultBuckets))}
}

func (h *Histogram) observe(v float64) {
	for i, upper := range h.Buckets {
		if v <= upper {
			h.BucketCounts[i]++
		}
	}
	h.Sum += v
	h.Count++
}

// Percentile returns the smallest bucket upper bound whose cumulative
// count is >= ceil(p/100 * count). Returns (0, false) on an empty
// histogram.
func (h *Histogram) Percentile(p float64) (float64, bool) {
	if h.Count == 0 {
		return 0, false
	}
	threshold := uint64(math.Ceil(p / 100 * float64(h.Count)))
	if threshold == 0 {
		threshold = 1
	}
	for i, c := range h.BucketCounts {
		if c >= threshold {
			return h.Buckets[i], true
		}
	}
	return h.Buckets[len(h.Buckets)-1], true
}

// Registry holds every counter/gauge/histogram this process has created,
// plus a mirrored Prometheus registry for /api/metrics' Prometheus
// exposition format.
type Registry struct {
	mu         sync.RWMutex
	counters   map[string]uint64
	gauges     map[string]float64
	histograms map[string]*Histogram

	promCounters   map[string]*prometheus.CounterVec
	promGauges     map[string]*prometheus.GaugeVec
	promHistograms map[string]*prometheus.HistogramVec
	promRegistry   *prometheus.Registry
}

// New creates an empty Registry with its own Prometheus registry (so
// multiple Registry instances in tests do not collide on the global
// default registerer).
func New() *Registry {
	return &Registry{
		counters:       make(map[string]uint64),
		gauges:         make(map[string]float64),
		histograms:     make(map[string]*Histogram),
		promCounters:   make(map[string]*prometheus.CounterVec),
		promGauges:     make(map[string]*prometheus.GaugeVec),
		promHistograms: make(map[string]*prometheus.HistogramVec),
		promRegistry:   prometheus.NewRegistry(),
	}
}

// PrometheusGatherer exposes the underlying registry for promhttp.Handler.
func (r *Registry) PrometheusGatherer() prometheus.Gatherer {
	return r.promRegistry
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// IncCounter increments the monotonic counter (name, labels) by delta.
func (r *Registry) IncCounter(name string, labels map[string]string, delta uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.counters[identity(name, labels)] += delta

	vec, ok := r.promCounters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{Name: promName(name)}, labelNames(labels))
		r.promRegistry.MustRegister(vec)
		r.promCounters[name] = vec
	}
	vec.With(prometheus.Labels(labels)).Add(float64(delta))
}

// SetGauge sets the gauge (name, labels) to v.
func (r *Registry) SetGauge(name string, labels map[string]string, v float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.gauges[identity(name, labels)] = v

	vec, ok := r.promGauges[name]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: promName(name)}, labelNames(labels))
		r.promRegistry.MustRegister(vec)
		r.promGauges[name] = vec
	}
	vec.With(prometheus.Labels(labels)).Set(v)
}

// IncGauge adjusts the gauge (name, labels) by delta (may be negative).
func (r *Registry) IncGauge(name string, labels map[string]string, delta float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := identity(name, labels)
	r.gauges[id] += delta
	v := r.gauges[id]

	vec, ok := r.promGauges[name]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: promName(name)}, labelNames(labels))
		r.promRegistry.MustRegister(vec)
		r.promGauges[name] = vec
	}
	vec.With(prometheus.Labels(labels)).Set(v)
}

// Observe records v into the histogram (name, labels).
func (r *Registry) Observe(name string, labels map[string]string, v float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := identity(name, labels)
	h, ok := r.histograms[id]
	if !ok {
		h = newHistogram()
		r.histograms[id] = h
	}
	h.observe(v)

	vec, ok := r.promHistograms[name]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: promName(name), Buckets: defaultBuckets}, labelNames(labels))
		r.promRegistry.MustRegister(vec)
		r.promHistograms[name] = vec
	}
	vec.With(prometheus.Labels(labels)).Observe(v)
}

// Percentile returns the percentile p (0-100) for histogram (name,
// labels).
func (r *Registry) Percentile(name string, labels map[string]string, p float64) (float64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.histograms[identity(name, labels)]
	if !ok {
		return 0, false
	}
	return h.Percentile(p)
}

// Counter returns the current value of counter (name, labels).
func (r *Registry) Counter(name string, labels map[string]string) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.counters[identity(name, labels)]
}

// Gauge returns the current value of gauge (name, labels).
func (r *Registry) Gauge(name string, labels map[string]string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gauges[identity(name, labels)]
}

// Snapshot is a deep-copied, JSON-serializable view of the registry, so
// callers never hold a reference into mutable internal state.
type Snapshot struct {
	Counters   map[string]uint64     `json:"counters"`
	Gauges     map[string]float64    `json:"gauges"`
	Histograms map[string]*Histogram `json:"histograms"`
}

// Snapshot returns a point-in-time copy of every metric.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Snapshot{
		Counters:   make(map[string]uint64, len(r.counters)),
		Gauges:     make(map[string]float64, len(r.gauges)),
		Histograms: make(map[string]*Histogram, len(r.histograms)),
	}
	for k, v := range r.counters {
		s.Counters[k] = v
	}
	for k, v := range r.gauges {
		s.Gauges[k] = v
	}
	for k, v := range r.histograms {
		cp := *v
		cp.Buckets = append([]float64(nil), v.Buckets...)
		cp.BucketCounts = append([]uint64(nil), v.BucketCounts...)
		s.Histograms[k] = &cp
	}
	return s
}

// promName sanitizes a dotted/dashed metric name into a Prometheus-legal
// identifier.
func promName(name string) string {
	var sb strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
		} else {
			sb.WriteByte('_')
		}
	}
	return sb.String()
}
