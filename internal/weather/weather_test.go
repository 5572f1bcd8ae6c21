package weather

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"glancecal/internal/model"
	"glancecal/internal/store"
)

const meteoResponse = `{
	"current": {"temperature_2m": 21.4, "relative_humidity_2m": 55, "weather_code": 3, "wind_speed_10m": 12.5},
	"daily": {"temperature_2m_max": [26.1], "temperature_2m_min": [17.0], "uv_index_max": [6.5], "precipitation_probability_max": [20]}
}`

func openTestStore(t *testing.T) (*store.Store, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	st, err := store.New(db)
	require.NoError(t, err)
	return st, db
}

// seedSlot writes a weather value directly with an explicit write time so
// TTL behavior can be exercised.
func seedSlot(t *testing.T, db *sql.DB, value model.WeatherData, writtenAt time.Time) {
	t.Helper()
	payload, err := json.Marshal(value)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT OR REPLACE INTO slots (name, payload, written_at) VALUES (?, ?, ?)`,
		store.SlotWeather, payload, writtenAt.UTC().Unix())
	require.NoError(t, err)
}

type failingLocator struct{}

func (failingLocator) Locate(context.Context) (float64, float64, error) {
	return 0, 0, errors.New("location permission denied")
}

func newTestProvider(t *testing.T, handler http.HandlerFunc) (*Provider, *sql.DB, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	st, db := openTestStore(t)
	p := New(st, StaticLocator{Lat: 52.52, Lon: 13.405})
	p.baseURL = srv.URL
	return p, db, &calls
}

func TestGet_FetchesAndCaches(t *testing.T) {
	p, _, calls := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "52.5200", r.URL.Query().Get("latitude"))
		_, _ = w.Write([]byte(meteoResponse))
	})
	ctx := context.Background()

	got := p.Get(ctx)
	assert.False(t, got.Placeholder)
	assert.InDelta(t, 21.4, got.TemperatureC, 1e-9)
	assert.InDelta(t, 26.1, got.HighC, 1e-9)
	assert.Equal(t, 3, got.ConditionCode)
	assert.Equal(t, 55, got.HumidityPct)
	assert.Equal(t, 20, got.PrecipChance)

	var cached model.WeatherData
	status, err := p.store.Get(ctx, store.SlotWeather, &cached)
	require.NoError(t, err)
	assert.Equal(t, store.Fresh, status)

	// A fresh cache short-circuits the second read.
	_ = p.Get(ctx)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGet_NoCacheAndFetchFailureYieldsPlaceholder(t *testing.T) {
	p, _, calls := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	})

	got := p.Get(context.Background())
	assert.True(t, got.Placeholder)
	assert.Equal(t, -1, got.ConditionCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGet_StaleCachePreferredOverFailure(t *testing.T) {
	p, db, _ := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	})
	ctx := context.Background()

	// Seed a cache entry written 4 hours ago (weather TTL is 3 hours).
	old := model.WeatherData{TemperatureC: 9.5, ConditionCode: 61, FetchedAt: time.Now().Add(-4 * time.Hour)}
	seedSlot(t, db, old, time.Now().Add(-4*time.Hour))

	got := p.Get(ctx)
	assert.False(t, got.Placeholder, "stale cache beats the placeholder")
	assert.InDelta(t, 9.5, got.TemperatureC, 1e-9)
}

func TestGet_LocatorFailureFallsBackToFixedCoordinates(t *testing.T) {
	var sawLat string
	p, _, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		sawLat = r.URL.Query().Get("latitude")
		_, _ = w.Write([]byte(meteoResponse))
	})
	p.locator = failingLocator{}

	got := p.Get(context.Background())
	assert.False(t, got.Placeholder)
	assert.Equal(t, "37.5665", sawLat)
}

func TestGet_UnparsableBodyFallsThrough(t *testing.T) {
	p, _, _ := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>surprise</html>"))
	})

	got := p.Get(context.Background())
	assert.True(t, got.Placeholder)
}
