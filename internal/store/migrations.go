package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "events: append-only observation log",
		SQL: `
CREATE TABLE events (
    id              TEXT PRIMARY KEY,
    kind            TEXT NOT NULL CHECK (kind IN ('state_changed', 'service_call')),
    source_ref      TEXT NOT NULL,
    zone_id         TEXT NOT NULL DEFAULT '',
    attributes      TEXT NOT NULL DEFAULT '{}',
    ts              INTEGER NOT NULL,
    idempotency_key TEXT NOT NULL,
    ingested_at     INTEGER NOT NULL
);

CREATE INDEX idx_events_ts     ON events(ts);
CREATE INDEX idx_events_zone   ON events(zone_id, ts);
CREATE UNIQUE INDEX idx_events_idem ON events(idempotency_key);
`,
	},
	{
		Version:     2,
		Description: "graph snapshot: nodes and edges",
		SQL: `
CREATE TABLE graph_nodes (
    id              TEXT PRIMARY KEY,
    kind            TEXT NOT NULL CHECK (kind IN ('entity', 'zone', 'intent', 'device')),
    label           TEXT NOT NULL,
    score           REAL NOT NULL,
    metadata        TEXT NOT NULL DEFAULT '{}',
    -- decay_ref is the instant the stored score was last materialized;
    -- last_touched_at is the last reinforcement (eviction tiebreak).
    decay_ref       INTEGER NOT NULL,
    last_touched_at INTEGER NOT NULL
);

CREATE TABLE graph_edges (
    from_id         TEXT NOT NULL,
    to_id           TEXT NOT NULL,
    kind            TEXT NOT NULL CHECK (kind IN ('located_in', 'controls', 'observed_with', 'correlated_with')),
    weight          REAL NOT NULL,
    decay_ref       INTEGER NOT NULL,
    last_touched_at INTEGER NOT NULL,

    PRIMARY KEY (from_id, to_id, kind),
    FOREIGN KEY (from_id) REFERENCES graph_nodes(id) ON DELETE CASCADE,
    FOREIGN KEY (to_id)   REFERENCES graph_nodes(id) ON DELETE CASCADE
);

CREATE INDEX idx_edges_from ON graph_edges(from_id);
CREATE INDEX idx_edges_to   ON graph_edges(to_id);
`,
	},
	{
		Version:     3,
		Description: "candidates: governed automation proposals",
		SQL: `
CREATE TABLE candidates (
    id              TEXT PRIMARY KEY,
    antecedent      TEXT NOT NULL,
    consequent      TEXT NOT NULL,
    zone_id         TEXT NOT NULL DEFAULT '',
    state           TEXT NOT NULL CHECK (state IN ('pending', 'offered', 'accepted', 'dismissed', 'expired')),

    -- Rule snapshot pinned at creation time
    support         REAL NOT NULL,
    confidence      REAL NOT NULL,
    lift            REAL NOT NULL,
    sample_count    INTEGER NOT NULL,

    created_at      INTEGER NOT NULL,
    offered_at      INTEGER,
    decided_at      INTEGER,
    decision_reason TEXT
);

CREATE INDEX idx_candidates_state ON candidates(state);
CREATE INDEX idx_candidates_shape ON candidates(antecedent, consequent, zone_id);
`,
	},
	{
		Version:     4,
		Description: "rule_weights: feedback-adjusted mining weights per rule shape",
		SQL: `
CREATE TABLE rule_weights (
    shape            TEXT PRIMARY KEY,
    weight           REAL NOT NULL DEFAULT 1.0,
    dismissals       INTEGER NOT NULL DEFAULT 0,
    suppressed_until INTEGER NOT NULL DEFAULT 0,
    updated_at       INTEGER NOT NULL
);
`,
	},
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
