package habitus

// Rule is an immutable association-rule snapshot from one mining pass.
// Statistics are always recomputed from the event log, never edited.
type Rule struct {
	Antecedent  string  `json:"antecedent"`
	Consequent  string  `json:"consequent"`
	ZoneID      string  `json:"zone_id,omitempty"` // "" is the global partition
	Support     float64 `json:"support"`
	Confidence  float64 `json:"confidence"`
	Lift        float64 `json:"lift"`
	SampleCount int     `json:"sample_count"`
	FirstSeen   int64   `json:"first_seen"`
	LastSeen    int64   `json:"last_seen"`
	Weight      float64 `json:"weight"` // feedback multiplier, ranking only
}

// Shape identifies the structural rule independent of zone or statistics.
// Feedback weighting and offer suppression key on it.
func (r Rule) Shape() string {
	return r.Antecedent + "=>" + r.Consequent
}

// Rank is the ordering score: statistical confidence scaled by the
// feedback weight. Statistics themselves are never weight-adjusted.
func (r Rule) Rank() float64 {
	return r.Confidence * r.Weight
}
