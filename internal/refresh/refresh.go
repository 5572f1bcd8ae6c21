// Package refresh orchestrates one full refresh cycle over explicitly
// injected components. There is no ambient global state; the daemon builds
// a Runner once and drives it from its schedule.
package refresh

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"glancecal/internal/agg"
	"glancecal/internal/metrics"
	"glancecal/internal/store"
	"glancecal/internal/summary"
	"glancecal/internal/weather"
)

// Runner wires the aggregator, summary generator and weather provider into
// a single refresh cycle.
type Runner struct {
	agg     *agg.Aggregator
	gen     *summary.Generator
	weather *weather.Provider
	store   *store.Store

	horizonDays int
	interval    time.Duration

	now func() time.Time
}

// New builds a Runner. interval is the needs-refresh threshold.
func New(a *agg.Aggregator, g *summary.Generator, w *weather.Provider, st *store.Store, horizonDays int, interval time.Duration) *Runner {
	if horizonDays <= 0 {
		horizonDays = 7
	}
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	return &Runner{
		agg:         a,
		gen:         g,
		weather:     w,
		store:       st,
		horizonDays: horizonDays,
		interval:    interval,
		now:         time.Now,
	}
}

// NeedsRefresh reports whether the last successful cycle is older than the
// configured interval (or has never run). Scheduled runs use this to skip
// redundant work; an explicit --once run does not.
func (r *Runner) NeedsRefresh(ctx context.Context) bool {
	var last time.Time
	status, err := r.store.Get(ctx, store.SlotLastRefresh, &last)
	if err != nil || status == store.Absent {
		return true
	}
	return r.now().UTC().Sub(last) > r.interval
}

// RunCycle performs one refresh: aggregate events over [start of today,
// +horizon), regenerate both summaries from the refreshed cache, refresh
// weather, and record the cycle timestamp. A hard aggregation failure
// aborts the cycle before any summary is regenerated, leaving all previous
// artifacts intact; an aborted context likewise persists nothing further.
func (r *Runner) RunCycle(ctx context.Context) error {
	started := r.now()
	dayStart, _ := r.agg.DayWindow(started)
	end := dayStart.AddDate(0, 0, r.horizonDays)

	events, err := r.agg.FetchMerged(ctx, dayStart, end)
	if err != nil {
		metrics.RefreshCycles.WithLabelValues("failed").Inc()
		return fmt.Errorf("refresh: %w", err)
	}

	if err := ctx.Err(); err != nil {
		metrics.RefreshCycles.WithLabelValues("aborted").Inc()
		return err
	}

	todayEvents, err := r.agg.CachedToday(ctx)
	if err != nil {
		metrics.RefreshCycles.WithLabelValues("failed").Inc()
		return fmt.Errorf("refresh: %w", err)
	}
	weekEvents, err := r.agg.CachedThisWeek(ctx)
	if err != nil {
		metrics.RefreshCycles.WithLabelValues("failed").Inc()
		return fmt.Errorf("refresh: %w", err)
	}

	if _, err := r.gen.GenerateToday(ctx, todayEvents); err != nil {
		metrics.RefreshCycles.WithLabelValues("failed").Inc()
		return fmt.Errorf("refresh: %w", err)
	}
	if _, err := r.gen.GenerateWeek(ctx, weekEvents); err != nil {
		metrics.RefreshCycles.WithLabelValues("failed").Inc()
		return fmt.Errorf("refresh: %w", err)
	}

	// Weather refresh is opportunistic; its provider absorbs every failure.
	r.weather.Get(ctx)

	if err := ctx.Err(); err != nil {
		metrics.RefreshCycles.WithLabelValues("aborted").Inc()
		return err
	}
	if err := r.store.Put(ctx, store.SlotLastRefresh, r.now().UTC()); err != nil {
		metrics.RefreshCycles.WithLabelValues("failed").Inc()
		return fmt.Errorf("refresh: %w", err)
	}

	metrics.RefreshCycles.WithLabelValues("ok").Inc()
	log.WithFields(log.Fields{
		"events":   len(events),
		"today":    len(todayEvents),
		"week":     len(weekEvents),
		"duration": r.now().Sub(started).String(),
	}).Info("refresh cycle completed")

	return nil
}
