// Package weather provides current conditions for the display surface,
// instantiating the same resilient-cache pattern the summary pipeline
// uses: one fetch attempt, cached values preferred, stale values tolerated,
// and a fixed placeholder when nothing else exists.
package weather

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"glancecal/internal/metrics"
	"glancecal/internal/model"
	"glancecal/internal/store"
)

const defaultBaseURL = "https://api.open-meteo.com"

// Fallback coordinates used when the locator fails. Location denial is
// absorbed here, never surfaced.
const (
	fallbackLatitude  = 37.5665
	fallbackLongitude = 126.9780
)

// Locator resolves the coordinates to fetch weather for.
type Locator interface {
	Locate(ctx context.Context) (lat, lon float64, err error)
}

// StaticLocator always returns fixed coordinates.
type StaticLocator struct {
	Lat float64
	Lon float64
}

func (l StaticLocator) Locate(_ context.Context) (float64, float64, error) {
	return l.Lat, l.Lon, nil
}

// Provider serves WeatherData to the display surface. Get never fails to
// the caller.
type Provider struct {
	store   *store.Store
	locator Locator
	baseURL string
	client  *http.Client

	now func() time.Time
}

// New builds a Provider. locator may be nil, in which case the fallback
// coordinates are used directly.
func New(st *store.Store, locator Locator) *Provider {
	return &Provider{
		store:   st,
		locator: locator,
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
		now:     time.Now,
	}
}

// SetBaseURL points the provider at a different weather backend, mainly
// for tests and self-hosted mirrors.
func (p *Provider) SetBaseURL(u string) {
	p.baseURL = u
}

// Get returns weather for the display. Policy chain: fresh cache → fresh
// fetch (cached on success) → stale cache → fixed placeholder. Every
// failure along the chain is absorbed.
func (p *Provider) Get(ctx context.Context) model.WeatherData {
	var cached model.WeatherData
	status, err := p.store.Get(ctx, store.SlotWeather, &cached)
	if err != nil {
		log.WithFields(log.Fields{"error": err}).Warn("weather cache read failed")
		status = store.Absent
	}
	if status == store.Fresh {
		return cached
	}

	fresh, fetchErr := p.fetch(ctx)
	if fetchErr == nil {
		if err := p.store.Put(ctx, store.SlotWeather, fresh); err != nil {
			log.WithFields(log.Fields{"error": err}).Warn("weather cache write failed")
		}
		return fresh
	}
	log.WithFields(log.Fields{"error": fetchErr}).Warn("weather fetch failed")

	if status == store.Stale {
		metrics.WeatherFallbacks.WithLabelValues("stale").Inc()
		return cached
	}

	metrics.WeatherFallbacks.WithLabelValues("placeholder").Inc()
	return Placeholder()
}

// Placeholder is the fixed value shown before any fetch ever succeeded.
func Placeholder() model.WeatherData {
	return model.WeatherData{
		ConditionCode: -1,
		Placeholder:   true,
	}
}

func (p *Provider) locate(ctx context.Context) (float64, float64) {
	if p.locator == nil {
		return fallbackLatitude, fallbackLongitude
	}
	lat, lon, err := p.locator.Locate(ctx)
	if err != nil {
		log.WithFields(log.Fields{"error": err}).Debug("location unavailable, using fallback coordinates")
		return fallbackLatitude, fallbackLongitude
	}
	return lat, lon
}

// fetch performs a single attempt against the weather backend and maps the
// response into the display model.
func (p *Provider) fetch(ctx context.Context) (model.WeatherData, error) {
	lat, lon := p.locate(ctx)

	q := url.Values{}
	q.Set("latitude", fmt.Sprintf("%.4f", lat))
	q.Set("longitude", fmt.Sprintf("%.4f", lon))
	q.Set("current", "temperature_2m,relative_humidity_2m,weather_code,wind_speed_10m")
	q.Set("daily", "temperature_2m_max,temperature_2m_min,uv_index_max,precipitation_probability_max")
	q.Set("forecast_days", "1")
	q.Set("timezone", "auto")
	u := p.baseURL + "/v1/forecast?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return model.WeatherData{}, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return model.WeatherData{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return model.WeatherData{}, fmt.Errorf("weather backend: %s", resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.WeatherData{}, err
	}
	if !gjson.ValidBytes(data) {
		return model.WeatherData{}, fmt.Errorf("weather backend: unparsable response body")
	}

	return model.WeatherData{
		TemperatureC:  gjson.GetBytes(data, "current.temperature_2m").Float(),
		HighC:         gjson.GetBytes(data, "daily.temperature_2m_max.0").Float(),
		LowC:          gjson.GetBytes(data, "daily.temperature_2m_min.0").Float(),
		ConditionCode: int(gjson.GetBytes(data, "current.weather_code").Int()),
		HumidityPct:   int(gjson.GetBytes(data, "current.relative_humidity_2m").Int()),
		UVIndex:       gjson.GetBytes(data, "daily.uv_index_max.0").Float(),
		WindSpeedKmh:  gjson.GetBytes(data, "current.wind_speed_10m").Float(),
		PrecipChance:  int(gjson.GetBytes(data, "daily.precipitation_probability_max.0").Int()),
		FetchedAt:     p.now().UTC(),
	}, nil
}
