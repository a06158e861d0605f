package mood

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hearthd/hearth/internal/config"
	"github.com/hearthd/hearth/internal/store"
)

// stubGraph serves fixed zone memberships to the scorer.
type stubGraph struct {
	members map[string][]store.Node
}

func (g *stubGraph) ZoneMembers(zoneID string) []store.Node { return g.members[zoneID] }

func (g *stubGraph) Zones() []string {
	out := make([]string, 0, len(g.members))
	for z := range g.members {
		out = append(out, z)
	}
	return out
}

func node(id string, meta map[string]string) store.Node {
	return store.Node{ID: id, Kind: store.NodeEntity, Metadata: meta}
}

func testScorer(members map[string][]store.Node) (*Scorer, *stubGraph) {
	g := &stubGraph{members: members}
	return New(g, config.Default().Mood, zap.NewNop()), g
}

func TestScoreSeedsFirstObservation(t *testing.T) {
	s, _ := testScorer(map[string][]store.Node{
		"zone:kitchen": {
			node("sensor.temp", map[string]string{"temperature": "21"}),
		},
	})

	snap := s.score("zone:kitchen", time.Now())
	assert.Equal(t, 1.0, snap.Comfort, "first observation seeds, no smoothing")
	assert.InDelta(t, 1.0/3.0, snap.Confidence, 1e-9, "one of three signals had input")
}

func TestScoreSmoothing(t *testing.T) {
	g := &stubGraph{members: map[string][]store.Node{
		"zone:kitchen": {node("sensor.temp", map[string]string{"temperature": "40"})},
	}}
	s := New(g, config.Default().Mood, zap.NewNop())
	now := time.Now()

	// Seed low: 40°C is 16 over the band, far past the falloff.
	snap := s.score("zone:kitchen", now)
	require.Equal(t, 0.0, snap.Comfort)

	// Then hold a perfect reading; smoothed value approaches 1 geometrically.
	g.members["zone:kitchen"] = []store.Node{node("sensor.temp", map[string]string{"temperature": "21"})}
	prev := 0.0
	for i := 0; i < 10; i++ {
		snap = s.score("zone:kitchen", now.Add(time.Duration(i+1)*time.Minute))
		assert.Greater(t, snap.Comfort, prev, "monotonic approach")
		assert.LessOrEqual(t, snap.Comfort, 1.0, "no overshoot")
		prev = snap.Comfort
	}
	// After one step: 0.3*1 + 0.7*0 = 0.3.
	assert.InDelta(t, 1.0-0.7*0.7*0.7*0.7*0.7*0.7*0.7*0.7*0.7*0.7, prev, 1e-9)
}

func TestScoreMissingDimensionKeepsPrevious(t *testing.T) {
	g := &stubGraph{members: map[string][]store.Node{
		"zone:kitchen": {node("sensor.temp", map[string]string{"temperature": "21"})},
	}}
	s := New(g, config.Default().Mood, zap.NewNop())
	now := time.Now()

	s.score("zone:kitchen", now)

	// The sensor disappears; the smoothed comfort value holds.
	g.members["zone:kitchen"] = nil
	snap := s.score("zone:kitchen", now.Add(time.Minute))
	assert.Equal(t, 1.0, snap.Comfort)
	assert.Equal(t, 0.0, snap.Confidence, "no signal had input this pass")
}

func TestLabelDwell(t *testing.T) {
	g := &stubGraph{members: map[string][]store.Node{
		"zone:kitchen": {node("sensor.temp", map[string]string{"temperature": "21"})},
	}}
	s := New(g, config.Default().Mood, zap.NewNop())
	now := time.Now()

	// Comfort goes straight to 1.0, but the label must hold for the dwell
	// duration first.
	snap := s.score("zone:kitchen", now)
	assert.Equal(t, "neutral", snap.Label)

	snap = s.score("zone:kitchen", now.Add(5*time.Minute))
	assert.Equal(t, "neutral", snap.Label, "dwell not yet satisfied")

	snap = s.score("zone:kitchen", now.Add(11*time.Minute))
	assert.Equal(t, "comfortable", snap.Label, "dwell satisfied")

	// A brief dip does not flip the label back.
	g.members["zone:kitchen"] = []store.Node{node("sensor.temp", map[string]string{"temperature": "40"})}
	snap = s.score("zone:kitchen", now.Add(12*time.Minute))
	assert.Equal(t, "comfortable", snap.Label)
}

func TestDominantLabel(t *testing.T) {
	have := [3]bool{true, true, true}
	assert.Equal(t, "neutral", dominantLabel([3]float64{0.5, 0.4, 0.3}, have), "midpoint is not dominant")
	assert.Equal(t, "joyful", dominantLabel([3]float64{0.6, 0.9, 0.7}, have))
	assert.Equal(t, "frugal", dominantLabel([3]float64{0.1, 0.2, 0.8}, have))
	assert.Equal(t, "neutral", dominantLabel([3]float64{0.9, 0, 0}, [3]bool{}), "unseeded dims never dominate")
}

func TestHistoryBounded(t *testing.T) {
	g := &stubGraph{members: map[string][]store.Node{
		"zone:kitchen": {node("sensor.temp", map[string]string{"temperature": "21"})},
	}}
	cfg := config.Default().Mood
	cfg.HistorySize = 5
	s := New(g, cfg, zap.NewNop())
	now := time.Now()

	for i := 0; i < 12; i++ {
		s.score("zone:kitchen", now.Add(time.Duration(i)*time.Minute))
	}

	hist := s.History("zone:kitchen")
	require.Len(t, hist, 5)
	assert.True(t, hist[0].ComputedAt.Before(hist[4].ComputedAt), "oldest first")

	last, ok := s.Current("zone:kitchen")
	require.True(t, ok)
	assert.Equal(t, hist[4], last)

	_, ok = s.Current("zone:attic")
	assert.False(t, ok)
}

func TestTickScoresAllZones(t *testing.T) {
	s, _ := testScorer(map[string][]store.Node{
		"zone:kitchen": {node("sensor.temp", map[string]string{"temperature": "21"})},
		"zone:den":     {node("media_player.tv", map[string]string{"state": "playing"})},
	})

	s.Tick(time.Now())

	_, ok := s.Current("zone:kitchen")
	assert.True(t, ok)
	_, ok = s.Current("zone:den")
	assert.True(t, ok)
}

func TestComfortSignal(t *testing.T) {
	sig := comfortSignal{}

	_, ok := sig.Evaluate(nil)
	assert.False(t, ok, "no readings, no score")

	v, ok := sig.Evaluate([]store.Node{
		node("sensor.temp", map[string]string{"temperature": "21"}),
		node("sensor.hum", map[string]string{"humidity": "45"}),
	})
	require.True(t, ok)
	assert.Equal(t, 1.0, v, "readings inside the ideal bands")

	v, ok = sig.Evaluate([]store.Node{
		node("sensor.co2", map[string]string{"co2": "1000"}),
	})
	require.True(t, ok)
	assert.InDelta(t, 1-200.0/1200.0, v, 1e-9)
}

func TestJoySignal(t *testing.T) {
	sig := joySignal{}

	_, ok := sig.Evaluate([]store.Node{node("sensor.temp", nil)})
	assert.False(t, ok, "no joy-relevant entities")

	v, ok := sig.Evaluate([]store.Node{
		node("media_player.tv", map[string]string{"state": "playing"}),
		node("person.alex", map[string]string{"state": "away"}),
		node("light.kitchen", map[string]string{"state": "on"}),
	})
	require.True(t, ok)
	// (1 + 0 + 0.5) / (1 + 1 + 0.5)
	assert.InDelta(t, 1.5/2.5, v, 1e-9)
}

func TestFrugalitySignal(t *testing.T) {
	sig := frugalitySignal{}

	_, ok := sig.Evaluate(nil)
	assert.False(t, ok)

	v, ok := sig.Evaluate([]store.Node{
		node("sensor.solar", map[string]string{"power_production": "300"}),
		node("sensor.meter", map[string]string{"power_consumption": "100"}),
	})
	require.True(t, ok)
	assert.InDelta(t, 0.75, v, 1e-9)

	v, ok = sig.Evaluate([]store.Node{
		node("sensor.meter", map[string]string{"power_consumption": "0"}),
	})
	require.True(t, ok)
	assert.Equal(t, 1.0, v, "idle home is frugal")
}
