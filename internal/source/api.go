package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"glancecal/internal/model"
)

// TokenFunc supplies the current bearer token for an API source. An empty
// string means anonymous access.
type TokenFunc func(ctx context.Context) string

// APISource fetches events from a JSON calendar API:
//
//	GET {url}?start=RFC3339&end=RFC3339
//	-> {"events": [{"id","title","start","end","all_day","location","notes","owner"}, ...]}
//
// Events without an id get a generated one so the aggregate id space stays
// collision-free; events without an owner are attributed to the source's
// configured owner.
type APISource struct {
	id     string
	url    string
	owner  string
	loc    *time.Location
	token  TokenFunc
	client *http.Client
}

// NewAPI builds a JSON API adapter. token may be nil.
func NewAPI(id, endpoint, owner string, loc *time.Location, token TokenFunc) *APISource {
	if loc == nil {
		loc = time.Local
	}
	return &APISource{
		id:     id,
		url:    endpoint,
		owner:  owner,
		loc:    loc,
		token:  token,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

func (s *APISource) ID() string         { return s.id }
func (s *APISource) Kind() model.Source { return model.SourceAPI }

// Fetch performs a single attempt against the API; there is no internal
// retry. Any error surfaces to the aggregator, which isolates it.
func (s *APISource) Fetch(ctx context.Context, start, end time.Time) ([]model.Event, error) {
	u, err := url.Parse(s.url)
	if err != nil {
		return nil, fmt.Errorf("api source %s: %w", s.id, err)
	}
	q := u.Query()
	q.Set("start", start.Format(time.RFC3339))
	q.Set("end", end.Format(time.RFC3339))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if s.token != nil {
		if tok := s.token(ctx); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api source %s: %w", s.id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("api source %s: auth rejected (%s)", s.id, resp.Status)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("api source %s: %s", s.id, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("api source %s: read body: %w", s.id, err)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("api source %s: unparsable response body", s.id)
	}

	var events []model.Event
	for _, item := range gjson.GetBytes(body, "events").Array() {
		ev, ok := s.mapEvent(item)
		if !ok {
			log.WithFields(log.Fields{"id": s.id}).Warn("skipping malformed api event")
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func (s *APISource) mapEvent(item gjson.Result) (model.Event, bool) {
	startStr := item.Get("start").String()
	endStr := item.Get("end").String()
	start, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		return model.Event{}, false
	}
	end, err := time.Parse(time.RFC3339, endStr)
	if err != nil {
		return model.Event{}, false
	}
	if end.Before(start) {
		return model.Event{}, false
	}

	id := item.Get("id").String()
	if id == "" {
		id = uuid.NewString()
	}
	owner := item.Get("owner").String()
	if owner == "" {
		owner = s.owner
	}

	return model.Event{
		ID:       fmt.Sprintf("%s:%s", s.id, id),
		Title:    item.Get("title").String(),
		Location: item.Get("location").String(),
		Notes:    item.Get("notes").String(),
		Owner:    owner,
		Source:   model.SourceAPI,
		AllDay:   item.Get("all_day").Bool(),
		Start:    start.In(s.loc),
		End:      end.In(s.loc),
	}, true
}
