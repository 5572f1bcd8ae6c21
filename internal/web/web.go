// Package web serves the read-only display API. Every endpoint reads
// cached artifacts from the slot store (or derives cheap values from
// them); none of them ever triggers a remote call.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"glancecal/internal/agg"
	"glancecal/internal/config"
	"glancecal/internal/conflict"
	"glancecal/internal/model"
	"glancecal/internal/store"
)

// Server provides HTTP APIs over the cached artifacts.
type Server struct {
	cfg   *config.Config
	store *store.Store
	agg   *agg.Aggregator
	mux   *http.ServeMux

	// Conflicts are recomputed from cached events on demand; a short
	// in-memory cache keeps repeated display polls cheap.
	conflictMu    sync.RWMutex
	conflictCache *conflictCache
}

type conflictCache struct {
	records   []model.ConflictRecord
	updatedAt time.Time
}

// NewServer constructs a Server over the given store and aggregator.
func NewServer(cfg *config.Config, st *store.Store, a *agg.Aggregator) *Server {
	s := &Server{
		cfg:   cfg,
		store: st,
		agg:   a,
		mux:   http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler, wrapped with basic auth
// when configured.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		log.WithFields(log.Fields{"listen": s.cfg.Listen}).Info("HTTP basic auth enabled")
		return s.basicAuthMiddleware(h)
	}
	return h
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="GlanceCal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/today", s.handleToday)
	s.mux.HandleFunc("/api/week", s.handleWeek)
	s.mux.HandleFunc("/api/weather", s.handleWeather)
	s.mux.HandleFunc("/api/events", s.handleEvents)
	s.mux.HandleFunc("/api/conflicts", s.handleConflicts)
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// writeJSON renders v as a JSON response body.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithFields(log.Fields{"error": err}).Error("failed to encode response")
	}
}

// serveSlot renders a cached artifact. Expired or missing slots render
// 204 No Content: the display falls back to its previous state, and no
// error body is ever shown for a missing artifact.
func serveSlot(ctx context.Context, w http.ResponseWriter, st *store.Store, slot string, dest any) {
	status, err := st.Get(ctx, slot, dest)
	if err != nil {
		log.WithFields(log.Fields{"slot": slot, "error": err}).Error("slot read failed")
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if status != store.Fresh {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, dest)
}

func (s *Server) handleToday(w http.ResponseWriter, r *http.Request) {
	var v model.TodaySummary
	serveSlot(r.Context(), w, s.store, store.SlotTodaySummary, &v)
}

func (s *Server) handleWeek(w http.ResponseWriter, r *http.Request) {
	var v model.WeekSummary
	serveSlot(r.Context(), w, s.store, store.SlotWeekSummary, &v)
}

// handleWeather tolerates stale values: old weather beats no weather.
func (s *Server) handleWeather(w http.ResponseWriter, r *http.Request) {
	var v model.WeatherData
	status, err := s.store.Get(r.Context(), store.SlotWeather, &v)
	if err != nil || status == store.Absent {
		writeJSON(w, weatherPlaceholder())
		return
	}
	writeJSON(w, v)
}

func weatherPlaceholder() model.WeatherData {
	return model.WeatherData{ConditionCode: -1, Placeholder: true}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var (
		events []model.Event
		err    error
	)
	switch r.URL.Query().Get("window") {
	case "", "week":
		events, err = s.agg.CachedThisWeek(r.Context())
	case "today":
		events, err = s.agg.CachedToday(r.Context())
	default:
		http.Error(w, "unknown window", http.StatusBadRequest)
		return
	}
	if err != nil {
		log.WithFields(log.Fields{"error": err}).Error("cached events read failed")
		events = nil
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, events)
}

// handleConflicts recomputes pairwise conflicts from the cached week
// events. Conflicts are cheap relative to fetch/summarize cost, so they
// are never persisted; the short TTL cache only smooths display polling.
func (s *Server) handleConflicts(w http.ResponseWriter, r *http.Request) {
	const conflictCacheTTL = 30 * time.Second
	now := time.Now()

	s.conflictMu.RLock()
	cc := s.conflictCache
	s.conflictMu.RUnlock()
	if cc != nil && now.Sub(cc.updatedAt) < conflictCacheTTL {
		writeJSON(w, cc.records)
		return
	}

	events, err := s.agg.CachedThisWeek(r.Context())
	if err != nil {
		log.WithFields(log.Fields{"error": err}).Error("cached events read failed")
		writeJSON(w, []model.ConflictRecord{})
		return
	}

	records := conflict.Detect(events)
	if records == nil {
		records = []model.ConflictRecord{}
	}

	s.conflictMu.Lock()
	s.conflictCache = &conflictCache{records: records, updatedAt: now}
	s.conflictMu.Unlock()

	writeJSON(w, records)
}
