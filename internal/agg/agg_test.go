package agg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"glancecal/internal/model"
	"glancecal/internal/source"
	"glancecal/internal/store"
)

var tz = time.UTC

// fakeSource is a scripted source adapter.
type fakeSource struct {
	id     string
	events []model.Event
	err    error
}

func (f *fakeSource) ID() string         { return f.id }
func (f *fakeSource) Kind() model.Source { return model.SourceAPI }
func (f *fakeSource) Fetch(_ context.Context, _, _ time.Time) ([]model.Event, error) {
	return f.events, f.err
}

func newAgg(t *testing.T, srcs ...source.Source) *Aggregator {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	st, err := store.New(db)
	require.NoError(t, err)
	return New(srcs, st, tz, time.Monday)
}

func ev(owner, title string, start time.Time, dur time.Duration) model.Event {
	return model.Event{
		ID:    owner + "/" + title,
		Title: title,
		Owner: owner,
		Start: start,
		End:   start.Add(dur),
	}
}

func TestFetchMerged_SortsAcrossSources(t *testing.T) {
	base := time.Date(2025, 6, 2, 9, 0, 0, 0, tz)
	a := newAgg(t,
		&fakeSource{id: "a", events: []model.Event{ev("Theo", "Late", base.Add(4*time.Hour), time.Hour)}},
		&fakeSource{id: "b", events: []model.Event{
			ev("Zoe", "Early", base, time.Hour),
			ev("Zoe", "Mid", base.Add(2*time.Hour), time.Hour),
		}},
	)

	merged, err := a.FetchMerged(context.Background(), base.Add(-time.Hour), base.Add(8*time.Hour))
	require.NoError(t, err)
	require.Len(t, merged, 3)
	assert.Equal(t, "Early", merged[0].Title)
	assert.Equal(t, "Mid", merged[1].Title)
	assert.Equal(t, "Late", merged[2].Title)
}

func TestFetchMerged_IsolatesSingleSourceFailure(t *testing.T) {
	base := time.Date(2025, 6, 2, 9, 0, 0, 0, tz)
	a := newAgg(t,
		&fakeSource{id: "broken", err: errors.New("connection refused")},
		&fakeSource{id: "ok", events: []model.Event{
			ev("Zoe", "A", base, time.Hour),
			ev("Zoe", "B", base.Add(time.Hour), time.Hour),
			ev("Zoe", "C", base.Add(2*time.Hour), time.Hour),
		}},
	)

	merged, err := a.FetchMerged(context.Background(), base, base.Add(8*time.Hour))
	require.NoError(t, err, "a single failing source must not surface an error")
	assert.Len(t, merged, 3)
}

func TestFetchMerged_AllSourcesFailing(t *testing.T) {
	a := newAgg(t,
		&fakeSource{id: "a", err: errors.New("boom")},
		&fakeSource{id: "b", err: errors.New("bust")},
	)

	_, err := a.FetchMerged(context.Background(), time.Now(), time.Now().Add(time.Hour))
	assert.ErrorIs(t, err, ErrAllSourcesUnavailable)
}

func TestFetchMerged_EmptySuccessOverwritesCache(t *testing.T) {
	base := time.Date(2025, 6, 2, 9, 0, 0, 0, tz)
	src := &fakeSource{id: "a", events: []model.Event{ev("Theo", "Old", base, time.Hour)}}
	a := newAgg(t, src)
	ctx := context.Background()

	_, err := a.FetchMerged(ctx, base, base.Add(time.Hour))
	require.NoError(t, err)

	// Second cycle returns nothing; the cache must reflect that.
	src.events = nil
	_, err = a.FetchMerged(ctx, base, base.Add(time.Hour))
	require.NoError(t, err)

	a.now = func() time.Time { return base }
	today, err := a.CachedToday(ctx)
	require.NoError(t, err)
	assert.Empty(t, today)
}

func TestCachedWindows_FilterWithoutNetwork(t *testing.T) {
	// Monday June 2nd 2025.
	monday := time.Date(2025, 6, 2, 0, 0, 0, 0, tz)
	events := []model.Event{
		ev("Theo", "Today", monday.Add(9*time.Hour), time.Hour),
		ev("Zoe", "Tomorrow", monday.Add(33*time.Hour), time.Hour),
		ev("Zoe", "NextWeek", monday.AddDate(0, 0, 8).Add(9*time.Hour), time.Hour),
	}
	a := newAgg(t, &fakeSource{id: "a", events: events})
	ctx := context.Background()

	_, err := a.FetchMerged(ctx, monday, monday.AddDate(0, 0, 14))
	require.NoError(t, err)

	a.now = func() time.Time { return monday.Add(12 * time.Hour) }

	today, err := a.CachedToday(ctx)
	require.NoError(t, err)
	require.Len(t, today, 1)
	assert.Equal(t, "Today", today[0].Title)

	week, err := a.CachedThisWeek(ctx)
	require.NoError(t, err)
	require.Len(t, week, 2)
	assert.Equal(t, "Today", week[0].Title)
	assert.Equal(t, "Tomorrow", week[1].Title)
}

func TestCachedToday_AbsentCache(t *testing.T) {
	a := newAgg(t, &fakeSource{id: "a"})
	today, err := a.CachedToday(context.Background())
	require.NoError(t, err)
	assert.Empty(t, today)
}

func TestWeekWindow_SundayStart(t *testing.T) {
	a := newAgg(t, &fakeSource{id: "a"})
	a.weekStart = time.Sunday

	// Wednesday June 4th 2025.
	wed := time.Date(2025, 6, 4, 15, 0, 0, 0, tz)
	start, end := a.WeekWindow(wed)
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, tz), start)
	assert.Equal(t, time.Date(2025, 6, 8, 0, 0, 0, 0, tz), end)
}

func TestGroupByOwner(t *testing.T) {
	base := time.Date(2025, 6, 2, 9, 0, 0, 0, tz)
	groups := GroupByOwner([]model.Event{
		ev("Theo", "A", base, time.Hour),
		ev("Zoe", "B", base, time.Hour),
		ev("Theo", "C", base.Add(time.Hour), time.Hour),
	})

	require.Len(t, groups, 2)
	assert.Len(t, groups["Theo"], 2)
	assert.Len(t, groups["Zoe"], 1)
}
