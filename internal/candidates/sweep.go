package candidates

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/hearthd/hearth/internal/habitus"
	"github.com/hearthd/hearth/internal/store"
)

// Propose creates pending candidates for rules whose confidence clears the
// auto-suggest threshold. Duplicates of open candidates are skipped, not
// errors. Returns the number created.
func (s *Store) Propose(rules []habitus.Rule) int {
	created := 0
	for _, r := range rules {
		if r.Confidence < s.cfg.OfferThreshold {
			continue
		}
		if _, err := s.Create(r); err != nil {
			if !isDuplicate(err) {
				s.log.Error("propose candidate", zap.String("shape", r.Shape()), zap.Error(err))
			}
			continue
		}
		created++
	}
	return created
}

// Offer promotes eligible pending candidates to offered: confidence at or
// above the threshold and the rule shape not under dismissal suppression.
// Returns the number promoted.
func (s *Store) Offer(now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending, err := s.db.ListCandidates(store.CandidatePending, s.cfg.ListLimit)
	if err != nil {
		return 0, err
	}

	nowMs := now.UnixMilli()
	promoted := 0
	for i := range pending {
		c := &pending[i]
		if c.Confidence < s.cfg.OfferThreshold {
			continue
		}
		if s.suppressed(c.Antecedent+"=>"+c.Consequent, nowMs) {
			continue
		}
		if err := s.db.SetCandidateState(c.ID, store.CandidateOffered, nowMs, 0, ""); err != nil {
			return promoted, err
		}
		promoted++
	}
	return promoted, nil
}

// Expire sweeps offered candidates past the offer TTL into expired.
// Returns the number expired.
func (s *Store) Expire(now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-s.cfg.OfferTTL).UnixMilli()
	ids, err := s.db.OfferedBefore(cutoff)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if err := s.db.SetCandidateState(id, store.CandidateExpired, 0, 0, ""); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

func (s *Store) suppressed(shape string, nowMs int64) bool {
	w, err := s.db.GetRuleWeight(shape)
	if err != nil || w == nil {
		return false
	}
	return w.SuppressedUntil > nowMs
}

func isDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicateCandidate)
}
