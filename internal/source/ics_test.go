package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"glancecal/internal/model"
)

var testFeed = strings.Join([]string{
	"BEGIN:VCALENDAR",
	"VERSION:2.0",
	"PRODID:-//glancecal tests//EN",
	"BEGIN:VEVENT",
	"UID:single-1",
	"DTSTART:20250602T090000Z",
	"DTEND:20250602T100000Z",
	"SUMMARY:Dentist",
	"LOCATION:Clinic",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:daily-1",
	"DTSTART:20250602T120000Z",
	"DTEND:20250602T123000Z",
	"RRULE:FREQ=DAILY;COUNT=5",
	"SUMMARY:Standup",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:allday-1",
	"DTSTART;VALUE=DATE:20250603",
	"DTEND;VALUE=DATE:20250604",
	"SUMMARY:Holiday",
	"END:VEVENT",
	"END:VCALENDAR",
	"",
}, "\r\n")

func icsWindow() (time.Time, time.Time) {
	return time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 6, 6, 0, 0, 0, 0, time.UTC)
}

func TestICSFetch_ParsesAndExpands(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/calendar")
		_, _ = w.Write([]byte(testFeed))
	}))
	t.Cleanup(srv.Close)

	src := NewICS("family", srv.URL, "Theo", t.TempDir(), time.UTC)
	start, end := icsWindow()

	events, err := src.Fetch(context.Background(), start, end)
	require.NoError(t, err)

	byTitle := map[string][]model.Event{}
	for _, ev := range events {
		byTitle[ev.Title] = append(byTitle[ev.Title], ev)
		assert.Equal(t, "Theo", ev.Owner)
		assert.Equal(t, model.SourceICS, ev.Source)
		assert.True(t, strings.HasPrefix(ev.ID, "family:"), "ids are source-qualified: %s", ev.ID)
	}

	require.Len(t, byTitle["Dentist"], 1)
	assert.Equal(t, "Clinic", byTitle["Dentist"][0].Location)
	assert.False(t, byTitle["Dentist"][0].AllDay)

	// FREQ=DAILY;COUNT=5 from June 2nd: the 4 instances before June 6th.
	assert.Len(t, byTitle["Standup"], 4)

	require.Len(t, byTitle["Holiday"], 1)
	assert.True(t, byTitle["Holiday"][0].AllDay)
}

func TestICSFetch_FallsBackToCachedBody(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if !healthy.Load() {
			http.Error(w, "maintenance", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(testFeed))
	}))
	t.Cleanup(srv.Close)

	src := NewICS("family", srv.URL, "Theo", t.TempDir(), time.UTC)
	start, end := icsWindow()
	ctx := context.Background()

	first, err := src.Fetch(ctx, start, end)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	// Backend goes down; the cached body keeps the source alive.
	healthy.Store(false)
	second, err := src.Fetch(ctx, start, end)
	require.NoError(t, err)
	assert.Equal(t, len(first), len(second))
}

func TestICSFetch_FailsWithoutAnyCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	src := NewICS("family", srv.URL, "Theo", t.TempDir(), time.UTC)
	start, end := icsWindow()

	_, err := src.Fetch(context.Background(), start, end)
	assert.Error(t, err)
}

func TestICSFetch_SkipsEventsOutsideWindow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(testFeed))
	}))
	t.Cleanup(srv.Close)

	src := NewICS("family", srv.URL, "Theo", t.TempDir(), time.UTC)

	// A window in July sees nothing.
	events, err := src.Fetch(context.Background(),
		time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 7, 8, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, events)
}
