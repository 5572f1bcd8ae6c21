package source

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	log "github.com/sirupsen/logrus"
	"github.com/teambition/rrule-go"

	"glancecal/internal/model"
)

const maxOccurrencesPerEvent = 5000

// ICSSource fetches an ICS subscription feed, honoring ETag/Last-Modified
// with a disk-backed body cache, and expands recurrences into concrete
// events within the requested window. A network or non-OK response falls
// back to the cached body when one exists, so an offline period degrades
// to slightly older events instead of an error.
type ICSSource struct {
	id       string
	url      string
	owner    string
	loc      *time.Location
	cacheDir string
	client   *http.Client
}

// NewICS builds an ICS adapter. cacheDir is the base directory for the
// per-URL HTTP cache.
func NewICS(id, url, owner, cacheDir string, loc *time.Location) *ICSSource {
	if cacheDir == "" {
		cacheDir = "./var/ics-cache"
	}
	if loc == nil {
		loc = time.Local
	}
	return &ICSSource{
		id:       id,
		url:      url,
		owner:    owner,
		loc:      loc,
		cacheDir: cacheDir,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

func (s *ICSSource) ID() string         { return s.id }
func (s *ICSSource) Kind() model.Source { return model.SourceICS }

// Fetch downloads (or reuses the cached) feed body, parses it and expands
// recurrences into events intersecting [start, end).
func (s *ICSSource) Fetch(ctx context.Context, start, end time.Time) ([]model.Event, error) {
	body, err := s.fetchBody(ctx)
	if err != nil {
		return nil, err
	}
	parsed, err := s.parse(body)
	if err != nil {
		return nil, err
	}
	return s.expand(parsed, start, end), nil
}

// cacheMeta holds HTTP cache metadata for a single feed URL.
type cacheMeta struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (s *ICSSource) fetchBody(ctx context.Context) ([]byte, error) {
	if s.url == "" {
		return nil, errors.New("source URL is empty")
	}

	sum := sha256.Sum256([]byte(s.url))
	cachePath := filepath.Join(s.cacheDir, hex.EncodeToString(sum[:8]))
	if err := os.MkdirAll(cachePath, 0o700); err != nil {
		return nil, err
	}

	var meta cacheMeta
	if data, err := os.ReadFile(filepath.Join(cachePath, "meta.json")); err == nil {
		_ = json.Unmarshal(data, &meta)
	}
	cachedBody, _ := os.ReadFile(filepath.Join(cachePath, "body.ics"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	if meta.ETag != "" {
		req.Header.Set("If-None-Match", meta.ETag)
	}
	if meta.LastModified != "" {
		req.Header.Set("If-Modified-Since", meta.LastModified)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if len(cachedBody) > 0 {
			log.WithFields(log.Fields{"id": s.id, "url": redactURL(s.url), "error": err}).
				Warn("ics fetch network error, using cached body")
			return cachedBody, nil
		}
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return nil, readErr
		}
		newMeta := cacheMeta{
			URL:          s.url,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			UpdatedAt:    time.Now().UTC(),
		}
		if err := s.saveCache(cachePath, newMeta, body); err != nil {
			log.WithFields(log.Fields{"id": s.id, "error": err}).Warn("ics cache save failed")
		}
		log.WithFields(log.Fields{"id": s.id, "url": redactURL(s.url)}).Debug("ics fetch success")
		return body, nil

	case http.StatusNotModified:
		if len(cachedBody) == 0 {
			return nil, errors.New("received 304 Not Modified but no cached body available")
		}
		log.WithFields(log.Fields{"id": s.id}).Debug("ics not modified, using cache")
		return cachedBody, nil

	default:
		if len(cachedBody) > 0 {
			log.WithFields(log.Fields{"id": s.id, "status": resp.StatusCode}).
				Warn("ics fetch non-OK, using cached body")
			return cachedBody, nil
		}
		return nil, fmt.Errorf("ics fetch: %s", resp.Status)
	}
}

func (s *ICSSource) saveCache(cachePath string, meta cacheMeta, body []byte) error {
	// Body first so meta never points at a missing body.
	if err := os.WriteFile(filepath.Join(cachePath, "body.ics"), body, 0o600); err != nil {
		return err
	}
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cachePath, "meta.json"), data, 0o600)
}

// parsedEvent is a normalized VEVENT before recurrence expansion.
type parsedEvent struct {
	uid         string
	summary     string
	description string
	location    string

	start  time.Time
	end    time.Time
	allDay bool

	rawRRule   string
	exDates    []time.Time
	recurrence *time.Time // RECURRENCE-ID, when this VEVENT overrides an instance
}

func (s *ICSSource) parse(body []byte) ([]parsedEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ics parse: %w", err)
	}

	events := make([]parsedEvent, 0)
	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(comp)
		if perr != nil {
			// Skip the broken VEVENT, keep parsing the rest.
			log.WithFields(log.Fields{"id": s.id, "error": perr}).Warn("ics vevent parse failed")
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func parseVEvent(ve *ical.VEvent) (parsedEvent, error) {
	var out parsedEvent

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.uid = uidProp.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.location = p.Value
	}

	start, _ := ve.GetStartAt()
	end, _ := ve.GetEndAt()
	out.start = start
	out.end = end

	// All-day when DTSTART carries VALUE=DATE or has no time component.
	if dtStart := ve.GetProperty(ical.ComponentPropertyDtStart); dtStart != nil {
		if params := dtStart.ICalParameters; params != nil {
			if vs, ok := params["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
				out.allDay = true
			}
		}
		if !strings.Contains(dtStart.Value, "T") {
			out.allDay = true
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.rawRRule = p.Value
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parseICSTime(part); err == nil {
				out.exDates = append(out.exDates, t)
			}
		}
	}

	if p := ve.GetProperty("RECURRENCE-ID"); p != nil {
		if t, err := parseICSTime(p.Value); err == nil {
			out.recurrence = &t
		}
	}

	return out, nil
}

// parseICSTime parses a basic ICS DATE / DATE-TIME string. Used for
// EXDATE and RECURRENCE-ID values where full parameter context is not
// carried through.
func parseICSTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, time.Local)
	}
	return time.ParseInLocation("20060102", v, time.Local)
}

// expand turns parsed VEVENTs into concrete events intersecting
// [rangeStart, rangeEnd), expanding RRULEs, applying EXDATEs and
// RECURRENCE-ID overrides, and normalizing into the display timezone.
func (s *ICSSource) expand(events []parsedEvent, rangeStart, rangeEnd time.Time) []model.Event {
	overridesByUID := make(map[string][]parsedEvent)
	bases := make([]parsedEvent, 0, len(events))
	for _, ev := range events {
		if ev.recurrence != nil {
			overridesByUID[ev.uid] = append(overridesByUID[ev.uid], ev)
		} else {
			bases = append(bases, ev)
		}
	}

	out := make([]model.Event, 0, len(bases))
	for _, ev := range bases {
		if ev.rawRRule == "" {
			if !ev.start.Before(rangeEnd) || !ev.end.After(rangeStart) {
				continue
			}
			start, end, src := ev.start, ev.end, ev
			if o, ok := findOverride(overridesByUID[ev.uid], ev.start); ok {
				start, end, src = o.start, o.end, o
			}
			out = append(out, s.makeEvent(src, start, end))
			continue
		}

		r, err := rrule.StrToRRule(ev.rawRRule)
		if err != nil {
			log.WithFields(log.Fields{"id": s.id, "uid": ev.uid, "error": err}).Warn("bad RRULE, skipping event")
			continue
		}
		r.DTStart(ev.start)

		var set rrule.Set
		set.RRule(r)
		for _, ex := range ev.exDates {
			set.ExDate(ex.In(ev.start.Location()))
		}

		occTimes := set.Between(rangeStart.In(ev.start.Location()), rangeEnd.In(ev.start.Location()), true)
		if len(occTimes) > maxOccurrencesPerEvent {
			log.WithFields(log.Fields{"id": s.id, "uid": ev.uid, "cap": maxOccurrencesPerEvent}).
				Warn("occurrence cap hit, truncating")
			occTimes = occTimes[:maxOccurrencesPerEvent]
		}

		dur := ev.end.Sub(ev.start)
		for _, occStart := range occTimes {
			var occEnd time.Time
			if ev.allDay {
				date := time.Date(occStart.Year(), occStart.Month(), occStart.Day(), 0, 0, 0, 0, occStart.Location())
				occStart = date
				occEnd = date.Add(24 * time.Hour)
			} else {
				occEnd = occStart.Add(dur)
			}

			start, end, src := occStart, occEnd, ev
			if o, ok := findOverride(overridesByUID[ev.uid], occStart); ok {
				start, end, src = o.start, o.end, o
			}
			out = append(out, s.makeEvent(src, start, end))
		}
	}

	return out
}

func findOverride(overrides []parsedEvent, instanceStart time.Time) (parsedEvent, bool) {
	for _, ov := range overrides {
		if ov.recurrence != nil && ov.recurrence.In(instanceStart.Location()).Equal(instanceStart) {
			return ov, true
		}
	}
	return parsedEvent{}, false
}

func (s *ICSSource) makeEvent(ev parsedEvent, start, end time.Time) model.Event {
	startLocal := start.In(s.loc)
	endLocal := end.In(s.loc)
	return model.Event{
		ID:       fmt.Sprintf("%s:%s@%s", s.id, ev.uid, startLocal.Format(time.RFC3339)),
		Title:    ev.summary,
		Location: ev.location,
		Notes:    ev.description,
		Owner:    s.owner,
		Source:   model.SourceICS,
		AllDay:   ev.allDay,
		Start:    startLocal,
		End:      endLocal,
	}
}
