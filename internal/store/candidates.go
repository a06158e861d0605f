package store

import (
	"database/sql"
	"fmt"
)

// Candidate states.
const (
	CandidatePending   = "pending"
	CandidateOffered   = "offered"
	CandidateAccepted  = "accepted"
	CandidateDismissed = "dismissed"
	CandidateExpired   = "expired"
)

// Candidate is a persisted governance row. The rule statistics are a
// snapshot pinned at creation time; later mining passes never touch them.
type Candidate struct {
	ID             string
	Antecedent     string
	Consequent     string
	ZoneID         string
	State          string
	Support        float64
	Confidence     float64
	Lift           float64
	SampleCount    int
	CreatedAt      int64
	OfferedAt      *int64
	DecidedAt      *int64
	DecisionReason string
}

const candidateColumns = `id, antecedent, consequent, zone_id, state,
	support, confidence, lift, sample_count,
	created_at, offered_at, decided_at, decision_reason`

// InsertCandidate writes a new candidate row.
func (db *DB) InsertCandidate(c *Candidate) error {
	_, err := db.Exec(`
		INSERT INTO candidates (`+candidateColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.Antecedent, c.Consequent, c.ZoneID, c.State,
		c.Support, c.Confidence, c.Lift, c.SampleCount,
		c.CreatedAt, c.OfferedAt, c.DecidedAt, nullIfEmpty(c.DecisionReason))
	if err != nil {
		return fmt.Errorf("insert candidate: %w", err)
	}
	return nil
}

// GetCandidate returns a candidate by ID, or nil if not found.
func (db *DB) GetCandidate(id string) (*Candidate, error) {
	row := db.QueryRow(`SELECT `+candidateColumns+` FROM candidates WHERE id = ?`, id)
	c, err := scanCandidate(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get candidate: %w", err)
	}
	return c, nil
}

// ListCandidates returns candidates, optionally filtered by state, newest
// first, capped at limit.
func (db *DB) ListCandidates(state string, limit int) ([]Candidate, error) {
	query := `SELECT ` + candidateColumns + ` FROM candidates`
	args := []any{}
	if state != "" {
		query += " WHERE state = ?"
		args = append(args, state)
	}
	query += " ORDER BY created_at DESC, id ASC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// FindOpenEquivalent returns an open (pending or offered) candidate with the
// same (antecedent, consequent, zone) tuple, or nil.
func (db *DB) FindOpenEquivalent(antecedent, consequent, zoneID string) (*Candidate, error) {
	row := db.QueryRow(`
		SELECT `+candidateColumns+` FROM candidates
		WHERE antecedent = ? AND consequent = ? AND zone_id = ?
		  AND state IN ('pending', 'offered')
		LIMIT 1
	`, antecedent, consequent, zoneID)
	c, err := scanCandidate(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find open equivalent: %w", err)
	}
	return c, nil
}

// SetCandidateState updates state plus the timestamp column that marks the
// transition. offeredAt/decidedAt of 0 leave the respective column untouched.
func (db *DB) SetCandidateState(id, state string, offeredAt, decidedAt int64, reason string) error {
	query := "UPDATE candidates SET state = ?"
	args := []any{state}
	if offeredAt != 0 {
		query += ", offered_at = ?"
		args = append(args, offeredAt)
	}
	if decidedAt != 0 {
		query += ", decided_at = ?, decision_reason = ?"
		args = append(args, decidedAt, nullIfEmpty(reason))
	}
	query += " WHERE id = ?"
	args = append(args, id)

	result, err := db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("set candidate state: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("candidate %s not found", id)
	}
	return nil
}

// OfferedBefore returns IDs of offered candidates whose offered_at is older
// than the cutoff.
func (db *DB) OfferedBefore(cutoff int64) ([]string, error) {
	rows, err := db.Query(`
		SELECT id FROM candidates WHERE state = 'offered' AND offered_at < ?
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("offered before: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCandidate(row rowScanner) (*Candidate, error) {
	var c Candidate
	var offeredAt, decidedAt sql.NullInt64
	var reason sql.NullString
	err := row.Scan(&c.ID, &c.Antecedent, &c.Consequent, &c.ZoneID, &c.State,
		&c.Support, &c.Confidence, &c.Lift, &c.SampleCount,
		&c.CreatedAt, &offeredAt, &decidedAt, &reason)
	if err != nil {
		return nil, err
	}
	if offeredAt.Valid {
		c.OfferedAt = &offeredAt.Int64
	}
	if decidedAt.Valid {
		c.DecidedAt = &decidedAt.Int64
	}
	c.DecisionReason = reason.String
	return &c, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
