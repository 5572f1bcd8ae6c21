package web

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"glancecal/internal/agg"
	"glancecal/internal/config"
	"glancecal/internal/model"
	"glancecal/internal/store"
)

func newTestServer(t *testing.T, cfg *config.Config) (*Server, *store.Store) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	st, err := store.New(db)
	require.NoError(t, err)

	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	a := agg.New(nil, st, time.UTC, time.Monday)
	return NewServer(cfg, st, a), st
}

func doGet(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := doGet(t, s.Handler(), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestToday_AbsentRenders204(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := doGet(t, s.Handler(), "/api/today")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestToday_FreshSlot(t *testing.T) {
	s, st := newTestServer(t, nil)
	ctx := context.Background()

	artifact := model.TodaySummary{Text: "Quiet day.", EventCount: 0, GeneratedAt: time.Now().UTC()}
	require.NoError(t, st.Put(ctx, store.SlotTodaySummary, artifact))

	rec := doGet(t, s.Handler(), "/api/today")
	require.Equal(t, http.StatusOK, rec.Code)

	var got model.TodaySummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "Quiet day.", got.Text)
}

func TestWeather_AbsentRendersPlaceholder(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := doGet(t, s.Handler(), "/api/weather")
	require.Equal(t, http.StatusOK, rec.Code, "weather never 204s; the display always gets something")

	var got model.WeatherData
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.Placeholder)
}

func TestConflicts_FromCachedEvents(t *testing.T) {
	s, st := newTestServer(t, nil)
	ctx := context.Background()

	now := time.Now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	events := []model.Event{
		{ID: "1", Title: "A", Owner: "Theo", Start: dayStart.Add(9 * time.Hour), End: dayStart.Add(11 * time.Hour)},
		{ID: "2", Title: "B", Owner: "Zoe", Start: dayStart.Add(10 * time.Hour), End: dayStart.Add(12 * time.Hour)},
	}
	require.NoError(t, st.Put(ctx, store.SlotRawEvents, events))

	rec := doGet(t, s.Handler(), "/api/conflicts")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []model.ConflictRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, 60, got[0].OverlapMinutes)
}

func TestEvents_WindowFilter(t *testing.T) {
	s, st := newTestServer(t, nil)
	ctx := context.Background()

	now := time.Now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	events := []model.Event{
		{ID: "1", Title: "Today", Owner: "Theo", Start: dayStart.Add(9 * time.Hour), End: dayStart.Add(10 * time.Hour)},
	}
	require.NoError(t, st.Put(ctx, store.SlotRawEvents, events))

	rec := doGet(t, s.Handler(), "/api/events?window=today")
	require.Equal(t, http.StatusOK, rec.Code)
	var got []model.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Len(t, got, 1)

	rec = doGet(t, s.Handler(), "/api/events?window=bogus")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBasicAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "u", Password: "p"}
	s, _ := newTestServer(t, cfg)
	h := s.Handler()

	// /health stays open.
	rec := doGet(t, h, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doGet(t, h, "/api/today")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/today", nil)
	req.SetBasicAuth("u", "p")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
