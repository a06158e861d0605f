package store

import (
	"database/sql"
	"fmt"
	"time"
)

// RuleWeight is the feedback-adjusted mining weight for a rule shape
// ("antecedent=>consequent"). Weight multiplies a rule's ranking score in
// future mining passes; suppressed_until blocks auto-offering.
type RuleWeight struct {
	Shape           string
	Weight          float64
	Dismissals      int
	SuppressedUntil int64
	UpdatedAt       int64
}

// GetRuleWeight returns the weight row for a shape, or nil if none exists.
func (db *DB) GetRuleWeight(shape string) (*RuleWeight, error) {
	var w RuleWeight
	err := db.QueryRow(`
		SELECT shape, weight, dismissals, suppressed_until, updated_at
		FROM rule_weights WHERE shape = ?
	`, shape).Scan(&w.Shape, &w.Weight, &w.Dismissals, &w.SuppressedUntil, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get rule weight: %w", err)
	}
	return &w, nil
}

// UpsertRuleWeight writes the weight row for a shape.
func (db *DB) UpsertRuleWeight(w *RuleWeight) error {
	w.UpdatedAt = time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO rule_weights (shape, weight, dismissals, suppressed_until, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(shape) DO UPDATE SET
			weight = excluded.weight,
			dismissals = excluded.dismissals,
			suppressed_until = excluded.suppressed_until,
			updated_at = excluded.updated_at
	`, w.Shape, w.Weight, w.Dismissals, w.SuppressedUntil, w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert rule weight: %w", err)
	}
	return nil
}

// AllRuleWeights returns every weight row keyed by shape.
func (db *DB) AllRuleWeights() (map[string]RuleWeight, error) {
	rows, err := db.Query(`
		SELECT shape, weight, dismissals, suppressed_until, updated_at FROM rule_weights
	`)
	if err != nil {
		return nil, fmt.Errorf("all rule weights: %w", err)
	}
	defer rows.Close()

	out := make(map[string]RuleWeight)
	for rows.Next() {
		var w RuleWeight
		if err := rows.Scan(&w.Shape, &w.Weight, &w.Dismissals, &w.SuppressedUntil, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan rule weight: %w", err)
		}
		out[w.Shape] = w
	}
	return out, rows.Err()
}
