// Package metrics exposes Prometheus counters for the refresh pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheReads counts slot reads by outcome (fresh, stale, absent).
	CacheReads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "glancecal",
		Subsystem: "cache",
		Name:      "reads_total",
		Help:      "Slot cache reads by outcome.",
	}, []string{"slot", "outcome"})

	// CacheCorruptions counts undecodable slot payloads that were
	// self-healed by deletion.
	CacheCorruptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "glancecal",
		Subsystem: "cache",
		Name:      "corruptions_total",
		Help:      "Corrupt slot payloads deleted at read time.",
	}, []string{"slot"})

	// SourceFailures counts per-source calendar fetch failures that were
	// isolated by the aggregator.
	SourceFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "glancecal",
		Subsystem: "calendar",
		Name:      "source_failures_total",
		Help:      "Calendar source fetch failures isolated during aggregation.",
	}, []string{"source"})

	// SummaryFallbacks counts summary variants served by the local
	// fallback generator instead of the remote endpoint.
	SummaryFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "glancecal",
		Subsystem: "summary",
		Name:      "fallbacks_total",
		Help:      "Summary variants produced by the local fallback path.",
	}, []string{"variant"})

	// WeatherFallbacks counts weather reads served from stale cache or
	// the fixed placeholder.
	WeatherFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "glancecal",
		Subsystem: "weather",
		Name:      "fallbacks_total",
		Help:      "Weather values served from stale cache or placeholder.",
	}, []string{"kind"})

	// RefreshCycles counts completed and failed refresh cycles.
	RefreshCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "glancecal",
		Subsystem: "refresh",
		Name:      "cycles_total",
		Help:      "Refresh cycles by result.",
	}, []string{"result"})
)
