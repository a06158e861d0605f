package engine

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hearthd/hearth/internal/candidates"
	"github.com/hearthd/hearth/internal/config"
	"github.com/hearthd/hearth/internal/graph"
	"github.com/hearthd/hearth/internal/habitus"
	"github.com/hearthd/hearth/internal/mood"
	"github.com/hearthd/hearth/internal/store"
)

// Engine runs the pipeline's periodic background passes on independent
// timers: the janitor (decay materialization, graph pruning, graph snapshot,
// event retention), mining, the candidate offer/expire sweep, and mood
// recomputation. A failing pass is logged and retried on the next tick; it
// never stops the engine. Stop lets an in-flight pass finish rather than
// interrupting it mid-write.
type Engine struct {
	db         *store.DB
	graph      *graph.Service
	miner      *habitus.Miner
	candidates *candidates.Store
	mood       *mood.Scorer
	cfg        config.Config
	log        *zap.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New wires the engine to its collaborators. Nothing runs until Start.
func New(db *store.DB, g *graph.Service, m *habitus.Miner, c *candidates.Store, sc *mood.Scorer, cfg config.Config, log *zap.Logger) *Engine {
	return &Engine{
		db:         db,
		graph:      g,
		miner:      m,
		candidates: c,
		mood:       sc,
		cfg:        cfg,
		log:        log,
		stopCh:     make(chan struct{}),
	}
}

// Start runs the janitor once immediately, then launches the timer loops.
func (e *Engine) Start() {
	e.janitor(time.Now())

	e.loop(e.cfg.Engine.JanitorInterval, e.janitor)
	e.loop(e.cfg.Engine.MineInterval, e.minePass)
	e.loop(e.cfg.Engine.SweepInterval, e.sweep)
	e.loop(e.cfg.Engine.MoodInterval, e.mood.Tick)
}

func (e *Engine) loop(interval time.Duration, pass func(time.Time)) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				pass(now)
			case <-e.stopCh:
				return
			}
		}
	}()
}

// Stop shuts down the timer loops, waiting for any in-flight pass.
func (e *Engine) Stop() {
	close(e.stopCh)
	e.wg.Wait()
}

// janitor materializes decay, enforces graph capacity, persists the graph
// snapshot, and prunes events past the retention window.
func (e *Engine) janitor(now time.Time) {
	nodes, edges := e.graph.Decay(now)
	evicted := e.graph.Prune(now)
	if nodes > 0 || edges > 0 || evicted > 0 {
		e.log.Debug("janitor",
			zap.Int("nodes_decayed", nodes),
			zap.Int("edges_decayed", edges),
			zap.Int("evicted", evicted))
	}

	if err := e.graph.Save(); err != nil {
		e.log.Error("graph snapshot", zap.Error(err))
	}

	cutoff := now.Add(-e.cfg.Intake.Retention).UnixMilli()
	if pruned, err := e.db.PruneEventsBefore(cutoff); err != nil {
		e.log.Error("event retention", zap.Error(err))
	} else if pruned > 0 {
		e.log.Debug("event retention", zap.Int("pruned", pruned))
	}
}

// minePass mines the trailing window and proposes candidates from rules
// that clear the offer threshold.
func (e *Engine) minePass(now time.Time) {
	rules, err := e.miner.MineRecent(now)
	if err != nil {
		e.log.Error("mining pass", zap.Error(err))
		return
	}
	if created := e.candidates.Propose(rules); created > 0 {
		e.log.Info("candidates proposed", zap.Int("created", created))
	}
}

// sweep promotes eligible pending candidates and expires stale offers.
func (e *Engine) sweep(now time.Time) {
	if promoted, err := e.candidates.Offer(now); err != nil {
		e.log.Error("offer sweep", zap.Error(err))
	} else if promoted > 0 {
		e.log.Info("candidates offered", zap.Int("promoted", promoted))
	}

	if expired, err := e.candidates.Expire(now); err != nil {
		e.log.Error("expire sweep", zap.Error(err))
	} else if expired > 0 {
		e.log.Info("candidates expired", zap.Int("expired", expired))
	}
}
