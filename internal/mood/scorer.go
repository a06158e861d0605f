package mood

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hearthd/hearth/internal/config"
	"github.com/hearthd/hearth/internal/store"
)

// GraphView is the read-side slice of the graph the scorer needs.
type GraphView interface {
	ZoneMembers(zoneID string) []store.Node
	Zones() []string
}

// Snapshot is the smoothed mood of one zone at one instant.
type Snapshot struct {
	ZoneID     string    `json:"zone_id"`
	Comfort    float64   `json:"comfort"`
	Joy        float64   `json:"joy"`
	Frugality  float64   `json:"frugality"`
	Confidence float64   `json:"confidence"`
	Label      string    `json:"label"`
	ComputedAt time.Time `json:"computed_at"`
}

type zoneState struct {
	smoothed    [3]float64
	haveDim     [3]bool
	label       string
	candidate   string
	candidateAt time.Time
	history     []Snapshot
}

// Scorer maintains smoothed per-zone mood from graph signals. A dwell-time
// guard keeps the discrete label from oscillating on noisy input.
type Scorer struct {
	graph   GraphView
	cfg     config.MoodConfig
	log     *zap.Logger
	signals []Signal

	mu    sync.Mutex
	zones map[string]*zoneState
}

// New creates a Scorer over the given graph view with the default signal set.
func New(g GraphView, cfg config.MoodConfig, log *zap.Logger) *Scorer {
	return &Scorer{
		graph:   g,
		cfg:     cfg,
		log:     log,
		signals: DefaultSignals(),
		zones:   make(map[string]*zoneState),
	}
}

// Score recomputes the zone's mood from current graph state, applies
// exponential smoothing, and returns the new snapshot.
func (s *Scorer) Score(zoneID string) Snapshot {
	return s.score(zoneID, time.Now())
}

func (s *Scorer) score(zoneID string, now time.Time) Snapshot {
	members := s.graph.ZoneMembers(zoneID)

	raw := make([]float64, len(s.signals))
	ok := make([]bool, len(s.signals))
	available := 0
	for i, sig := range s.signals {
		raw[i], ok[i] = sig.Evaluate(members)
		if ok[i] {
			available++
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	zs := s.zones[zoneID]
	if zs == nil {
		zs = &zoneState{label: "neutral"}
		s.zones[zoneID] = zs
	}

	// smoothed = α*raw + (1-α)*previous; the first observation of a
	// dimension seeds it directly. Dimensions with no input this pass keep
	// their previous smoothed value.
	for i := range s.signals {
		if !ok[i] {
			continue
		}
		if !zs.haveDim[i] {
			zs.smoothed[i] = raw[i]
			zs.haveDim[i] = true
			continue
		}
		zs.smoothed[i] = s.cfg.Alpha*raw[i] + (1-s.cfg.Alpha)*zs.smoothed[i]
	}

	s.applyDwell(zs, now)

	snap := Snapshot{
		ZoneID:     zoneID,
		Comfort:    zs.smoothed[0],
		Joy:        zs.smoothed[1],
		Frugality:  zs.smoothed[2],
		Confidence: float64(available) / float64(len(s.signals)),
		Label:      zs.label,
		ComputedAt: now,
	}

	zs.history = append(zs.history, snap)
	if len(zs.history) > s.cfg.HistorySize {
		zs.history = zs.history[len(zs.history)-s.cfg.HistorySize:]
	}
	return snap
}

// applyDwell updates the discrete label: a new dominant state must hold for
// the dwell duration before the label changes.
func (s *Scorer) applyDwell(zs *zoneState, now time.Time) {
	dominant := dominantLabel(zs.smoothed, zs.haveDim)
	if dominant == zs.label {
		zs.candidate = ""
		return
	}
	if dominant != zs.candidate {
		zs.candidate = dominant
		zs.candidateAt = now
		return
	}
	if now.Sub(zs.candidateAt) >= s.cfg.Dwell {
		zs.label = dominant
		zs.candidate = ""
	}
}

var dimLabels = [3]string{"comfortable", "joyful", "frugal"}

// dominantLabel names the strongest dimension, or "neutral" when nothing
// rises above the midpoint.
func dominantLabel(smoothed [3]float64, have [3]bool) string {
	best := -1
	for i := range smoothed {
		if !have[i] || smoothed[i] <= 0.5 {
			continue
		}
		if best == -1 || smoothed[i] > smoothed[best] {
			best = i
		}
	}
	if best == -1 {
		return "neutral"
	}
	return dimLabels[best]
}

// Current returns the latest snapshot for a zone without recomputing, or
// false if the zone has never been scored.
func (s *Scorer) Current(zoneID string) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	zs := s.zones[zoneID]
	if zs == nil || len(zs.history) == 0 {
		return Snapshot{}, false
	}
	return zs.history[len(zs.history)-1], true
}

// History returns the bounded snapshot ring for a zone, oldest first.
func (s *Scorer) History(zoneID string) []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	zs := s.zones[zoneID]
	if zs == nil {
		return nil
	}
	out := make([]Snapshot, len(zs.history))
	copy(out, zs.history)
	return out
}

// Tick rescores every zone currently present in the graph.
func (s *Scorer) Tick(now time.Time) {
	for _, zone := range s.graph.Zones() {
		s.score(zone, now)
	}
}
