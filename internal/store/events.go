package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Event kinds accepted by the pipeline.
const (
	EventStateChanged = "state_changed"
	EventServiceCall  = "service_call"
)

// ErrDuplicateEvent reports an idempotency-key conflict on append. The log
// already holds the event; the caller must not process it again.
var ErrDuplicateEvent = errors.New("duplicate event")

// Event is a single accepted observation. Immutable once written.
type Event struct {
	ID             string
	Kind           string
	SourceRef      string
	ZoneID         string
	Attributes     map[string]string
	Timestamp      int64 // unix millis
	IdempotencyKey string
	IngestedAt     int64
}

// AppendEvent writes an accepted event to the log. The unique index on
// idempotency_key is a second line of defense behind the intake dedupe set:
// it outlives process restarts and the set's TTL. A conflicting insert
// returns ErrDuplicateEvent so the caller can report the event as a
// duplicate instead of processing it twice.
func (db *DB) AppendEvent(ev *Event) error {
	attrs, err := json.Marshal(ev.Attributes)
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}
	if ev.IngestedAt == 0 {
		ev.IngestedAt = time.Now().UnixMilli()
	}

	result, err := db.Exec(`
		INSERT OR IGNORE INTO events (id, kind, source_ref, zone_id, attributes, ts, idempotency_key, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.ID, ev.Kind, ev.SourceRef, ev.ZoneID, string(attrs), ev.Timestamp, ev.IdempotencyKey, ev.IngestedAt)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrDuplicateEvent
	}
	return nil
}

// EventsSince returns events with ts >= since, optionally scoped to a zone,
// oldest first, capped at limit.
func (db *DB) EventsSince(since int64, zoneID string, limit int) ([]Event, error) {
	query := `
		SELECT id, kind, source_ref, zone_id, attributes, ts, idempotency_key, ingested_at
		FROM events WHERE ts >= ?`
	args := []any{since}
	if zoneID != "" {
		query += " AND zone_id = ?"
		args = append(args, zoneID)
	}
	query += " ORDER BY ts ASC, id ASC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("events since: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// EventsBetween returns events with from <= ts < to, oldest first.
// The half-open window makes re-mining a closed window deterministic.
func (db *DB) EventsBetween(from, to int64, zoneID string, limit int) ([]Event, error) {
	query := `
		SELECT id, kind, source_ref, zone_id, attributes, ts, idempotency_key, ingested_at
		FROM events WHERE ts >= ? AND ts < ?`
	args := []any{from, to}
	if zoneID != "" {
		query += " AND zone_id = ?"
		args = append(args, zoneID)
	}
	query += " ORDER BY ts ASC, id ASC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("events between: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// PruneEventsBefore deletes events older than the cutoff and returns the
// number removed.
func (db *DB) PruneEventsBefore(cutoff int64) (int, error) {
	result, err := db.Exec("DELETE FROM events WHERE ts < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// CountEvents returns the total number of stored events.
func (db *DB) CountEvents() (int, error) {
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM events").Scan(&count)
	return count, err
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var ev Event
		var attrs string
		if err := rows.Scan(&ev.ID, &ev.Kind, &ev.SourceRef, &ev.ZoneID, &attrs,
			&ev.Timestamp, &ev.IdempotencyKey, &ev.IngestedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if attrs != "" && attrs != "{}" {
			if err := json.Unmarshal([]byte(attrs), &ev.Attributes); err != nil {
				return nil, fmt.Errorf("unmarshal attributes for %s: %w", ev.ID, err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
