package engine

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hearthd/hearth/internal/candidates"
	"github.com/hearthd/hearth/internal/config"
	"github.com/hearthd/hearth/internal/graph"
	"github.com/hearthd/hearth/internal/habitus"
	"github.com/hearthd/hearth/internal/mood"
	"github.com/hearthd/hearth/internal/observability"
	"github.com/hearthd/hearth/internal/store"
)

func testEngine(t *testing.T, cfg config.Config) (*Engine, *store.DB, *graph.Service) {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	log := zap.NewNop()
	metrics := observability.NewCollector("hearth_test")
	g := graph.New(db, cfg.Graph, log, metrics)
	m := habitus.New(db, cfg.Habitus, log, metrics)
	c := candidates.New(db, cfg.Candidates, log, metrics)
	sc := mood.New(g, cfg.Mood, log)
	return New(db, g, m, c, sc, cfg, log), db, g
}

func TestStartStop(t *testing.T) {
	cfg := config.Default()
	cfg.Engine.JanitorInterval = 10 * time.Millisecond
	cfg.Engine.MineInterval = 10 * time.Millisecond
	cfg.Engine.SweepInterval = 10 * time.Millisecond
	cfg.Engine.MoodInterval = 10 * time.Millisecond

	e, _, _ := testEngine(t, cfg)
	e.Start()
	time.Sleep(50 * time.Millisecond)
	e.Stop() // must not hang or panic
}

func TestJanitorAppliesRetention(t *testing.T) {
	cfg := config.Default()
	e, db, _ := testEngine(t, cfg)

	old := time.Now().Add(-15 * 24 * time.Hour)
	err := db.AppendEvent(&store.Event{
		ID: "stale", Kind: store.EventStateChanged, SourceRef: "light.kitchen",
		Timestamp: old.UnixMilli(), IdempotencyKey: "stale-key",
	})
	if err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	err = db.AppendEvent(&store.Event{
		ID: "fresh", Kind: store.EventStateChanged, SourceRef: "light.kitchen",
		Timestamp: time.Now().UnixMilli(), IdempotencyKey: "fresh-key",
	})
	if err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	e.janitor(time.Now())

	count, err := db.CountEvents()
	if err != nil {
		t.Fatalf("CountEvents: %v", err)
	}
	if count != 1 {
		t.Errorf("events after janitor = %d, want 1", count)
	}
}

func TestJanitorPersistsGraph(t *testing.T) {
	cfg := config.Default()
	e, db, g := testEngine(t, cfg)

	g.TouchNode("light.kitchen", store.NodeEntity, "Kitchen Light", 1.0)
	e.janitor(time.Now())

	nodes, _, err := db.LoadGraph()
	if err != nil {
		t.Fatalf("LoadGraph: %v", err)
	}
	if len(nodes) != 1 || nodes[0].ID != "light.kitchen" {
		t.Errorf("persisted nodes = %+v", nodes)
	}
}

func TestMinePassProposesCandidates(t *testing.T) {
	cfg := config.Default()
	e, db, _ := testEngine(t, cfg)

	now := time.Now()
	seq := 0
	add := func(source, state string, at time.Time) {
		seq++
		db.AppendEvent(&store.Event{
			ID:             "ev" + string(rune('a'+seq)),
			Kind:           store.EventStateChanged,
			SourceRef:      source,
			ZoneID:         "zone:kitchen",
			Attributes:     map[string]string{"state": state},
			Timestamp:      at.UnixMilli(),
			IdempotencyKey: "k" + string(rune('a'+seq)),
		})
	}
	for i := 0; i < 3; i++ {
		at := now.Add(-time.Duration(30-i*10) * time.Minute)
		add("binary_sensor.motion", "on", at)
		add("light.kitchen", "on", at.Add(time.Second))
	}

	e.minePass(now)

	list, err := db.ListCandidates(store.CandidatePending, 10)
	if err != nil {
		t.Fatalf("ListCandidates: %v", err)
	}
	if len(list) == 0 {
		t.Fatal("no candidates proposed from confident rules")
	}

	// The next sweep offers them.
	e.sweep(now)
	offered, err := db.ListCandidates(store.CandidateOffered, 10)
	if err != nil {
		t.Fatalf("ListCandidates: %v", err)
	}
	if len(offered) != len(list) {
		t.Errorf("offered = %d, want %d", len(offered), len(list))
	}
}
