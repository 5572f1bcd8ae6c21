// Package agg merges events from every configured calendar source into a
// single time-sorted list and persists it through the slot cache.
package agg

import (
	"context"
	"errors"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"glancecal/internal/metrics"
	"glancecal/internal/model"
	"glancecal/internal/source"
	"glancecal/internal/store"
)

// ErrAllSourcesUnavailable is the only hard aggregation error: it is
// returned when every configured source failed. A single failing source
// degrades to fewer events instead.
var ErrAllSourcesUnavailable = errors.New("all calendar sources unavailable")

// Aggregator fans fetches out to the configured sources, isolates
// per-source failures, and owns the raw-events cache slot.
type Aggregator struct {
	sources   []source.Source
	store     *store.Store
	loc       *time.Location
	weekStart time.Weekday

	now func() time.Time
}

// New builds an Aggregator. weekStart is the configured first day of the
// calendar week.
func New(sources []source.Source, st *store.Store, loc *time.Location, weekStart time.Weekday) *Aggregator {
	if loc == nil {
		loc = time.Local
	}
	return &Aggregator{
		sources:   sources,
		store:     st,
		loc:       loc,
		weekStart: weekStart,
		now:       time.Now,
	}
}

// FetchMerged fetches [start, end) from every source concurrently, merges
// the successful results, sorts ascending by start time, and overwrites the
// raw-events slot unconditionally (a successful aggregation with zero
// events still replaces the previous cache).
//
// Per-source failures are logged and excluded; the call fails only when
// every source failed.
func (a *Aggregator) FetchMerged(ctx context.Context, start, end time.Time) ([]model.Event, error) {
	if len(a.sources) == 0 {
		return nil, ErrAllSourcesUnavailable
	}

	outcomes := make([]source.Outcome, len(a.sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range a.sources {
		i, src := i, src
		g.Go(func() error {
			events, err := src.Fetch(gctx, start, end)
			outcomes[i] = source.Outcome{SourceID: src.ID(), Events: events, Err: err}
			// Failures stay inside the outcome; a failing source must
			// not cancel its siblings.
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		// Aborted cycle: discard partial work, persist nothing.
		return nil, err
	}

	merged := make([]model.Event, 0)
	failures := 0
	for _, out := range outcomes {
		if out.Err != nil {
			failures++
			metrics.SourceFailures.WithLabelValues(out.SourceID).Inc()
			log.WithFields(log.Fields{"source": out.SourceID, "error": out.Err}).
				Warn("calendar source failed, continuing without it")
			continue
		}
		merged = append(merged, out.Events...)
	}
	if failures == len(a.sources) {
		return nil, ErrAllSourcesUnavailable
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Start.Before(merged[j].Start)
	})

	if err := a.store.Put(ctx, store.SlotRawEvents, merged); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"events":  len(merged),
		"sources": len(a.sources),
		"failed":  failures,
	}).Info("calendar aggregation completed")

	return merged, nil
}

// CachedToday returns the cached merged events intersecting the current
// calendar day. It never triggers a network call.
func (a *Aggregator) CachedToday(ctx context.Context) ([]model.Event, error) {
	start, end := a.DayWindow(a.now())
	return a.cachedWindow(ctx, start, end)
}

// CachedThisWeek returns the cached merged events intersecting the current
// calendar week. It never triggers a network call.
func (a *Aggregator) CachedThisWeek(ctx context.Context) ([]model.Event, error) {
	start, end := a.WeekWindow(a.now())
	return a.cachedWindow(ctx, start, end)
}

func (a *Aggregator) cachedWindow(ctx context.Context, start, end time.Time) ([]model.Event, error) {
	var cached []model.Event
	status, err := a.store.Get(ctx, store.SlotRawEvents, &cached)
	if err != nil {
		return nil, err
	}
	if status == store.Absent {
		return nil, nil
	}

	out := make([]model.Event, 0, len(cached))
	for _, ev := range cached {
		if ev.Overlaps(start, end) {
			out = append(out, ev)
		}
	}
	return out, nil
}

// DayWindow returns [start of day, start of next day) around t in the
// display timezone.
func (a *Aggregator) DayWindow(t time.Time) (time.Time, time.Time) {
	t = t.In(a.loc)
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, a.loc)
	return start, start.AddDate(0, 0, 1)
}

// WeekWindow returns the calendar week [first day 00:00, +7d) containing t,
// anchored on the configured week start.
func (a *Aggregator) WeekWindow(t time.Time) (time.Time, time.Time) {
	dayStart, _ := a.DayWindow(t)
	offset := (int(dayStart.Weekday()) - int(a.weekStart) + 7) % 7
	start := dayStart.AddDate(0, 0, -offset)
	return start, start.AddDate(0, 0, 7)
}

// GroupByOwner groups events by their owning person. Key order carries no
// meaning; display ordering is applied downstream.
func GroupByOwner(events []model.Event) map[string][]model.Event {
	groups := make(map[string][]model.Event)
	for _, ev := range events {
		groups[ev.Owner] = append(groups[ev.Owner], ev)
	}
	return groups
}
