// Package store implements the shared slot cache.
//
// Every computed artifact (merged events, summaries, weather, bookkeeping
// timestamps) is persisted under a named slot. Each slot carries its own
// freshness rule; reads report a tri-state result so callers can decide
// whether a stale-but-present value is still usable.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"

	"glancecal/internal/metrics"
)

// Slot names shared with display collaborators across process boundaries.
const (
	SlotTodaySummary = "today_summary"
	SlotWeekSummary  = "week_summary"
	SlotWeather      = "weather"
	SlotRawEvents    = "raw_events"
	SlotLastRefresh  = "last_refresh"
	SlotAuthToken    = "auth_token"
)

// Status is the outcome of a slot read.
type Status int

const (
	// Absent means no usable value exists (never written, cleared, or
	// corrupt and self-healed).
	Absent Status = iota
	// Stale means a value exists but its freshness rule has expired.
	// Callers that prefer availability (weather) may still use it.
	Stale
	// Fresh means the value exists and passes its freshness rule.
	Fresh
)

func (s Status) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	default:
		return "absent"
	}
}

// DefaultFreshness returns the per-slot TTL rules. A zero duration means
// the slot has no expiry and is valid until overwritten.
func DefaultFreshness() map[string]time.Duration {
	return map[string]time.Duration{
		SlotTodaySummary: 2 * time.Hour,
		SlotWeekSummary:  2 * time.Hour,
		SlotWeather:      3 * time.Hour,
	}
}

// Store persists slot values in a single SQLite database. WAL mode plus a
// busy timeout make single-slot writes safe across processes; there are no
// cross-slot transactions by design.
type Store struct {
	db *sql.DB

	upsert *sql.Stmt
	selRow *sql.Stmt
	delRow *sql.Stmt

	rules map[string]time.Duration

	// now is swappable in tests.
	now func() time.Time
}

// Open opens (creating if needed) the slot database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("store path is empty")
	}
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open slot db: %w", err)
	}
	return New(db)
}

// New builds a Store on an already-opened database, running the schema
// migration and preparing statements.
func New(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS slots (
			name       TEXT PRIMARY KEY,
			payload    BLOB NOT NULL,
			written_at INTEGER NOT NULL
		)
	`); err != nil {
		return nil, fmt.Errorf("migrate slots: %w", err)
	}

	s := &Store{
		db:    db,
		rules: DefaultFreshness(),
		now:   time.Now,
	}

	var err error
	s.upsert, err = db.Prepare(`
		INSERT INTO slots (name, payload, written_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET payload = excluded.payload, written_at = excluded.written_at
	`)
	if err != nil {
		return nil, fmt.Errorf("prepare upsert: %w", err)
	}
	s.selRow, err = db.Prepare(`SELECT payload, written_at FROM slots WHERE name = ?`)
	if err != nil {
		return nil, fmt.Errorf("prepare select: %w", err)
	}
	s.delRow, err = db.Prepare(`DELETE FROM slots WHERE name = ?`)
	if err != nil {
		return nil, fmt.Errorf("prepare delete: %w", err)
	}

	return s, nil
}

// Put serializes value and replaces the slot's content atomically.
func (s *Store) Put(ctx context.Context, slot string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode slot %s: %w", slot, err)
	}
	if _, err := s.upsert.ExecContext(ctx, slot, payload, s.now().UTC().Unix()); err != nil {
		return fmt.Errorf("write slot %s: %w", slot, err)
	}
	return nil
}

// Get decodes the slot's value into dest and applies the slot's freshness
// rule. A missing row yields Absent. An undecodable payload is deleted and
// reported as Absent, never as an error: the cache self-heals instead of
// propagating corruption to callers. dest is only valid when the returned
// status is Fresh or Stale.
func (s *Store) Get(ctx context.Context, slot string, dest any) (Status, error) {
	var payload []byte
	var writtenAt int64

	err := s.selRow.QueryRowContext(ctx, slot).Scan(&payload, &writtenAt)
	if errors.Is(err, sql.ErrNoRows) {
		metrics.CacheReads.WithLabelValues(slot, Absent.String()).Inc()
		return Absent, nil
	}
	if err != nil {
		return Absent, fmt.Errorf("read slot %s: %w", slot, err)
	}

	if err := json.Unmarshal(payload, dest); err != nil {
		log.WithFields(log.Fields{"slot": slot, "error": err}).Warn("corrupt slot payload, deleting")
		metrics.CacheCorruptions.WithLabelValues(slot).Inc()
		metrics.CacheReads.WithLabelValues(slot, Absent.String()).Inc()
		if _, delErr := s.delRow.ExecContext(ctx, slot); delErr != nil {
			log.WithFields(log.Fields{"slot": slot, "error": delErr}).Error("failed to delete corrupt slot")
		}
		return Absent, nil
	}

	status := Fresh
	if ttl := s.rules[slot]; ttl > 0 {
		age := s.now().UTC().Sub(time.Unix(writtenAt, 0).UTC())
		if age > ttl {
			status = Stale
		}
	}
	metrics.CacheReads.WithLabelValues(slot, status.String()).Inc()
	return status, nil
}

// WrittenAt returns the slot's last write time, or ok=false when the slot
// has never been written.
func (s *Store) WrittenAt(ctx context.Context, slot string) (time.Time, bool, error) {
	var payload []byte
	var writtenAt int64
	err := s.selRow.QueryRowContext(ctx, slot).Scan(&payload, &writtenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read slot %s: %w", slot, err)
	}
	return time.Unix(writtenAt, 0).UTC(), true, nil
}

// Clear removes a single slot.
func (s *Store) Clear(ctx context.Context, slot string) error {
	if _, err := s.delRow.ExecContext(ctx, slot); err != nil {
		return fmt.Errorf("clear slot %s: %w", slot, err)
	}
	return nil
}

// ClearAll removes every persisted slot.
func (s *Store) ClearAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM slots`); err != nil {
		return fmt.Errorf("clear all slots: %w", err)
	}
	return nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
