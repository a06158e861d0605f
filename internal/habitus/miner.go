package habitus

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hearthd/hearth/internal/config"
	"github.com/hearthd/hearth/internal/observability"
	"github.com/hearthd/hearth/internal/store"
)

// Miner extracts association rules from the event log. Mining is a pure
// read-side computation: it never mutates the log or the graph, and
// re-mining the same closed window yields identical results.
type Miner struct {
	db      *store.DB
	cfg     config.HabitusConfig
	log     *zap.Logger
	metrics *observability.Collector

	mu   sync.RWMutex
	last []Rule
}

// New creates a Miner over the given event log.
func New(db *store.DB, cfg config.HabitusConfig, log *zap.Logger, metrics *observability.Collector) *Miner {
	return &Miner{db: db, cfg: cfg, log: log, metrics: metrics}
}

// Mine scans events in [from, to), optionally scoped to one zone, and
// returns ranked rules. With no zone filter, every zone partition plus the
// global partition is mined; a global rule and a zone rule with the same
// antecedent and consequent are separate rows.
func (m *Miner) Mine(from, to time.Time, zoneFilter string) ([]Rule, error) {
	events, err := m.db.EventsBetween(from.UnixMilli(), to.UnixMilli(), zoneFilter, m.cfg.MaxEvents)
	if err != nil {
		return nil, fmt.Errorf("load window: %w", err)
	}

	weights, err := m.db.AllRuleWeights()
	if err != nil {
		return nil, fmt.Errorf("load weights: %w", err)
	}

	var rules []Rule
	if zoneFilter != "" {
		rules = minePartition(events, zoneFilter, m.cfg)
	} else {
		byZone := make(map[string][]store.Event)
		for _, ev := range events {
			if ev.ZoneID != "" {
				byZone[ev.ZoneID] = append(byZone[ev.ZoneID], ev)
			}
		}
		rules = minePartition(events, "", m.cfg)
		zones := make([]string, 0, len(byZone))
		for z := range byZone {
			zones = append(zones, z)
		}
		sort.Strings(zones)
		for _, z := range zones {
			rules = append(rules, minePartition(byZone[z], z, m.cfg)...)
		}
	}

	for i := range rules {
		rules[i].Weight = 1.0
		if w, ok := weights[rules[i].Shape()]; ok {
			rules[i].Weight = w.Weight
		}
	}

	sort.Slice(rules, func(i, j int) bool {
		a, b := &rules[i], &rules[j]
		if a.Rank() != b.Rank() {
			return a.Rank() > b.Rank()
		}
		if a.Lift != b.Lift {
			return a.Lift > b.Lift
		}
		if a.Support != b.Support {
			return a.Support > b.Support
		}
		if a.Antecedent != b.Antecedent {
			return a.Antecedent < b.Antecedent
		}
		if a.Consequent != b.Consequent {
			return a.Consequent < b.Consequent
		}
		return a.ZoneID < b.ZoneID
	})

	m.metrics.MiningPasses.Inc()
	m.metrics.RulesMined.Set(float64(len(rules)))

	m.mu.Lock()
	m.last = rules
	m.mu.Unlock()

	m.log.Debug("mining pass complete",
		zap.Int("events", len(events)),
		zap.Int("rules", len(rules)))
	return rules, nil
}

// MineRecent mines the configured trailing window ending at now.
func (m *Miner) MineRecent(now time.Time) ([]Rule, error) {
	return m.Mine(now.Add(-m.cfg.Window), now, "")
}

// Rules returns rules from the latest pass filtered by zone and minimum
// confidence, preserving rank order.
func (m *Miner) Rules(zoneID string, minConfidence float64) []Rule {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Rule
	for _, r := range m.last {
		if zoneID != "" && r.ZoneID != zoneID {
			continue
		}
		if r.Confidence < minConfidence {
			continue
		}
		out = append(out, r)
	}
	return out
}

// observationKey maps an event to its mining symbol: the source plus the
// observed state when one is present, so "motion on" and "motion off" count
// as distinct observations.
func observationKey(ev *store.Event) string {
	if state := ev.Attributes["state"]; state != "" {
		return ev.SourceRef + "=" + state
	}
	return ev.SourceRef
}

type pairStat struct {
	count     int
	firstSeen int64
	lastSeen  int64
}

// minePartition counts per-key occurrences and temporally adjacent ordered
// pairs within one partition, then derives support/confidence/lift. Each
// antecedent event contributes a given consequent key at most once, which
// keeps confidence within [0, 1].
func minePartition(events []store.Event, zoneID string, cfg config.HabitusConfig) []Rule {
	if len(events) < 2 {
		return nil
	}
	gap := cfg.AdjacencyGap.Milliseconds()
	total := len(events)

	occ := make(map[string]int, total)
	for i := range events {
		occ[observationKey(&events[i])]++
	}

	pairs := make(map[[2]string]*pairStat)
	for i := range events {
		a := observationKey(&events[i])
		seen := make(map[string]bool)
		for j := i + 1; j < len(events); j++ {
			if events[j].Timestamp-events[i].Timestamp > gap {
				break
			}
			b := observationKey(&events[j])
			if b == a || seen[b] {
				continue
			}
			seen[b] = true
			k := [2]string{a, b}
			st, ok := pairs[k]
			if !ok {
				st = &pairStat{firstSeen: events[j].Timestamp}
				pairs[k] = st
			}
			st.count++
			st.lastSeen = events[j].Timestamp
		}
	}

	var rules []Rule
	for k, st := range pairs {
		support := float64(st.count) / float64(total)
		confidence := float64(st.count) / float64(occ[k[0]])
		if support < cfg.MinSupport || confidence < cfg.MinConfidence {
			continue
		}
		lift := confidence * float64(total) / float64(occ[k[1]])
		rules = append(rules, Rule{
			Antecedent:  k[0],
			Consequent:  k[1],
			ZoneID:      zoneID,
			Support:     support,
			Confidence:  confidence,
			Lift:        lift,
			SampleCount: st.count,
			FirstSeen:   st.firstSeen,
			LastSeen:    st.lastSeen,
		})
	}
	return rules
}
