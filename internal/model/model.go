package model

import "time"

// Source identifies which backend an event was fetched from.
type Source string

const (
	// SourceICS is an ICS subscription feed.
	SourceICS Source = "ics"
	// SourceAPI is a JSON calendar API.
	SourceAPI Source = "api"
)

// Event is a single concrete calendar entry after aggregation.
// Events are immutable once constructed; each refresh cycle replaces the
// whole cached set rather than patching individual entries.
type Event struct {
	// ID is source-qualified (e.g. "ics:uid@2025-01-01T09:00:00+09:00")
	// so ids from different backends can never collide.
	ID string `json:"id"`

	Title    string `json:"title"`
	Location string `json:"location,omitempty"`
	Notes    string `json:"notes,omitempty"`

	// Owner is the person this event is attributed to, not the calendar
	// account it came from.
	Owner string `json:"owner"`

	Source Source `json:"source"`

	AllDay bool `json:"all_day"`

	// Start / End are in the configured display timezone.
	// End >= Start holds for timed events; all-day events span
	// [midnight, next midnight) and are excluded from conflict math.
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps reports whether the event intersects the half-open window
// [start, end).
func (e Event) Overlaps(start, end time.Time) bool {
	return e.Start.Before(end) && e.End.After(start)
}

// ConflictRecord is one pair of timed events from different owners whose
// intervals strictly overlap. Records are recomputed on demand and never
// persisted.
type ConflictRecord struct {
	First  Event `json:"first"`
	Second Event `json:"second"`

	// OverlapStart / OverlapEnd describe the non-empty intersection
	// [max(starts), min(ends)).
	OverlapStart time.Time `json:"overlap_start"`
	OverlapEnd   time.Time `json:"overlap_end"`

	OverlapMinutes int `json:"overlap_minutes"`
}

// DaySummary is one row of a week summary's per-day breakdown.
type DaySummary struct {
	Date       time.Time `json:"date"`
	Weekday    string    `json:"weekday"`
	EventCount int       `json:"event_count"`
	// Highlight is the title of the day's chronologically first event.
	Highlight string `json:"highlight,omitempty"`
}

// TodaySummary is the short glanceable text for the current day.
type TodaySummary struct {
	Text        string    `json:"text"`
	EventCount  int       `json:"event_count"`
	Fallback    bool      `json:"fallback"`
	GeneratedAt time.Time `json:"generated_at"`
}

// WeekSummary carries both week-summary variants plus the day breakdown.
// Medium and large are generated together; there is no state where only
// one variant exists.
type WeekSummary struct {
	SummaryMedium string `json:"summary_medium"`
	SummaryLarge  string `json:"summary_large"`

	MediumFallback bool `json:"medium_fallback"`
	LargeFallback  bool `json:"large_fallback"`

	EventCount  int          `json:"event_count"`
	Days        []DaySummary `json:"days"`
	GeneratedAt time.Time    `json:"generated_at"`
}

// WeatherData is the display model mapped from the weather backend.
type WeatherData struct {
	TemperatureC float64 `json:"temperature_c"`
	HighC        float64 `json:"high_c"`
	LowC         float64 `json:"low_c"`

	// ConditionCode is the backend's WMO weather code.
	ConditionCode int `json:"condition_code"`

	HumidityPct  int     `json:"humidity_pct"`
	UVIndex      float64 `json:"uv_index"`
	WindSpeedKmh float64 `json:"wind_speed_kmh"`
	PrecipChance int     `json:"precip_chance_pct"`

	// Placeholder marks the fixed value returned when no fetch has ever
	// succeeded and no cache exists.
	Placeholder bool `json:"placeholder,omitempty"`

	FetchedAt time.Time `json:"fetched_at"`
}
