package candidates

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hearthd/hearth/internal/config"
	"github.com/hearthd/hearth/internal/habitus"
	"github.com/hearthd/hearth/internal/observability"
	"github.com/hearthd/hearth/internal/store"
)

// Errors surfaced verbatim to callers: they represent contract violations
// the caller must react to.
var (
	ErrInvalidTransition  = errors.New("invalid candidate transition")
	ErrDuplicateCandidate = errors.New("equivalent open candidate exists")
	ErrNotFound           = errors.New("candidate not found")
	ErrUnknownDecision    = errors.New("unknown decision")
)

// transitions is the complete candidate state machine. Accepted and
// dismissed are terminal; expired may only return to pending (re-offer).
var transitions = map[string][]string{
	store.CandidatePending: {store.CandidateOffered, store.CandidateAccepted, store.CandidateDismissed},
	store.CandidateOffered: {store.CandidateAccepted, store.CandidateDismissed, store.CandidateExpired},
	store.CandidateExpired: {store.CandidatePending},
}

func canTransition(from, to string) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Store governs automation proposals: every candidate is derived from a
// pinned rule snapshot and no candidate reaches accepted without an explicit
// decision.
type Store struct {
	db      *store.DB
	cfg     config.CandidatesConfig
	log     *zap.Logger
	metrics *observability.Collector

	mu sync.Mutex
}

// New creates a candidate store over the given ledger.
func New(db *store.DB, cfg config.CandidatesConfig, log *zap.Logger, metrics *observability.Collector) *Store {
	return &Store{db: db, cfg: cfg, log: log, metrics: metrics}
}

// Create pins a rule snapshot into a new pending candidate. Fails with
// ErrDuplicateCandidate if an open candidate already references the same
// (antecedent, consequent, zone) tuple.
func (s *Store) Create(rule habitus.Rule) (*store.Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.db.FindOpenEquivalent(rule.Antecedent, rule.Consequent, rule.ZoneID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateCandidate, existing.ID)
	}

	c := &store.Candidate{
		ID:          uuid.NewString(),
		Antecedent:  rule.Antecedent,
		Consequent:  rule.Consequent,
		ZoneID:      rule.ZoneID,
		State:       store.CandidatePending,
		Support:     rule.Support,
		Confidence:  rule.Confidence,
		Lift:        rule.Lift,
		SampleCount: rule.SampleCount,
		CreatedAt:   time.Now().UnixMilli(),
	}
	if err := s.db.InsertCandidate(c); err != nil {
		return nil, err
	}
	s.metrics.CandidatesCreated.Inc()
	return c, nil
}

// Get returns a candidate by ID.
func (s *Store) Get(id string) (*store.Candidate, error) {
	c, err := s.db.GetCandidate(id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return c, nil
}

// List returns candidates, optionally filtered by state.
func (s *Store) List(state string, limit int) ([]store.Candidate, error) {
	if limit <= 0 || limit > s.cfg.ListLimit {
		limit = s.cfg.ListLimit
	}
	return s.db.ListCandidates(state, limit)
}

// Decide applies a human decision ("accept" or "dismiss"). A decision on a
// terminal candidate fails with ErrInvalidTransition and leaves the store
// unchanged. The decision feeds back into rule weighting.
func (s *Store) Decide(id, decision, reason string) (*store.Candidate, error) {
	var target string
	switch decision {
	case "accept":
		target = store.CandidateAccepted
	case "dismiss":
		target = store.CandidateDismissed
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDecision, decision)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.db.GetCandidate(id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !canTransition(c.State, target) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.State, target)
	}

	now := time.Now().UnixMilli()
	if err := s.db.SetCandidateState(id, target, 0, now, reason); err != nil {
		return nil, err
	}
	c.State = target
	c.DecidedAt = &now
	c.DecisionReason = reason

	if err := s.applyFeedback(c.Antecedent+"=>"+c.Consequent, decision); err != nil {
		// Feedback failure must not undo a recorded decision.
		s.log.Error("feedback", zap.String("candidate", id), zap.Error(err))
	}

	s.metrics.CandidatesDecided.WithLabelValues(decision).Inc()
	return c, nil
}

// ReOffer returns an expired candidate to pending so the next sweep may
// offer it again.
func (s *Store) ReOffer(id string) (*store.Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.db.GetCandidate(id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !canTransition(c.State, store.CandidatePending) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.State, store.CandidatePending)
	}
	if err := s.db.SetCandidateState(id, store.CandidatePending, 0, 0, ""); err != nil {
		return nil, err
	}
	c.State = store.CandidatePending
	return c, nil
}

// applyFeedback retrains the rule-shape weight: accepting boosts similar
// rules in future mining passes, dismissing dampens them, and repeated
// dismissal of one shape suppresses auto-offering for a cooldown.
func (s *Store) applyFeedback(shape, decision string) error {
	w, err := s.db.GetRuleWeight(shape)
	if err != nil {
		return err
	}
	if w == nil {
		w = &store.RuleWeight{Shape: shape, Weight: 1.0}
	}

	switch decision {
	case "accept":
		w.Weight = clampWeight(w.Weight*s.cfg.AcceptBoost, s.cfg.WeightFloor, s.cfg.WeightCeiling)
		w.Dismissals = 0
		w.SuppressedUntil = 0
	case "dismiss":
		w.Weight = clampWeight(w.Weight*s.cfg.DismissDamp, s.cfg.WeightFloor, s.cfg.WeightCeiling)
		w.Dismissals++
		if w.Dismissals >= s.cfg.SuppressAfter {
			w.SuppressedUntil = time.Now().Add(s.cfg.SuppressFor).UnixMilli()
			s.log.Info("rule shape suppressed",
				zap.String("shape", shape),
				zap.Int("dismissals", w.Dismissals))
		}
	}
	return s.db.UpsertRuleWeight(w)
}

// Weight returns the current mining weight for a rule shape (1.0 default).
func (s *Store) Weight(shape string) float64 {
	w, err := s.db.GetRuleWeight(shape)
	if err != nil || w == nil {
		return 1.0
	}
	return w.Weight
}

func clampWeight(v, floor, ceiling float64) float64 {
	if v < floor {
		return floor
	}
	if v > ceiling {
		return ceiling
	}
	return v
}
