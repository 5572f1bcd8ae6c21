// Package source contains the calendar source adapters.
//
// The aggregator only depends on the Source interface and on the
// per-source Outcome shape; failures stay inside an Outcome instead of
// crossing component boundaries as exceptions.
package source

import (
	"context"
	"time"

	"glancecal/internal/model"
)

// Source is a single calendar backend.
type Source interface {
	// ID is the internal identifier used for logging and id-qualification.
	ID() string
	// Kind reports which backend family this adapter talks to.
	Kind() model.Source
	// Fetch returns all events intersecting [start, end).
	Fetch(ctx context.Context, start, end time.Time) ([]model.Event, error)
}

// Outcome is the per-source result of a fan-out fetch. Err is nil on
// success; Events may legitimately be empty.
type Outcome struct {
	SourceID string
	Events   []model.Event
	Err      error
}

// redactURL hides the path and query of a source URL for logging.
func redactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	i := -1
	for idx := 0; idx+2 < len(u); idx++ {
		if u[idx:idx+3] == "://" {
			i = idx + 3
			break
		}
	}
	if i == -1 {
		return "...(redacted)"
	}

	j := i
	for j < len(u) && u[j] != '/' {
		j++
	}
	return u[:j] + redactedSuffix
}
