package graph

import (
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hearthd/hearth/internal/config"
	"github.com/hearthd/hearth/internal/observability"
	"github.com/hearthd/hearth/internal/store"
)

type edgeKey struct {
	From, To, Kind string
}

// Service is the relationship graph: a bounded, decaying store of entity,
// zone, and intent nodes linked by weighted edges. All mutation goes through
// the service; the SQLite snapshot is derived state written by Save.
type Service struct {
	cfg     config.GraphConfig
	db      *store.DB
	log     *zap.Logger
	metrics *observability.Collector

	mu    sync.Mutex
	nodes map[string]*store.Node
	edges map[edgeKey]*store.Edge
	// adjacency indexes, maintained alongside edges
	out map[string]map[edgeKey]struct{}
	in  map[string]map[edgeKey]struct{}
}

// New creates the graph service and loads the persisted snapshot. A
// corrupt or unreadable snapshot is logged and the graph rebuilds from
// empty: it is a derived cache, not a source of truth.
func New(db *store.DB, cfg config.GraphConfig, log *zap.Logger, metrics *observability.Collector) *Service {
	s := &Service{
		cfg:     cfg,
		db:      db,
		log:     log,
		metrics: metrics,
		nodes:   make(map[string]*store.Node),
		edges:   make(map[edgeKey]*store.Edge),
		out:     make(map[string]map[edgeKey]struct{}),
		in:      make(map[string]map[edgeKey]struct{}),
	}

	nodes, edges, err := db.LoadGraph()
	if err != nil {
		log.Warn("graph snapshot unreadable, rebuilding from empty", zap.Error(err))
		return s
	}
	for i := range nodes {
		n := nodes[i]
		s.nodes[n.ID] = &n
	}
	for i := range edges {
		e := edges[i]
		// An orphan edge in the snapshot would violate the graph invariant;
		// drop it rather than resurrect a missing endpoint.
		if _, ok := s.nodes[e.From]; !ok {
			continue
		}
		if _, ok := s.nodes[e.To]; !ok {
			continue
		}
		s.indexEdge(&e)
	}
	return s
}

func (s *Service) indexEdge(e *store.Edge) {
	k := edgeKey{e.From, e.To, e.Kind}
	s.edges[k] = e
	if s.out[e.From] == nil {
		s.out[e.From] = make(map[edgeKey]struct{})
	}
	s.out[e.From][k] = struct{}{}
	if s.in[e.To] == nil {
		s.in[e.To] = make(map[edgeKey]struct{})
	}
	s.in[e.To][k] = struct{}{}
}

func (s *Service) unindexEdge(k edgeKey) {
	delete(s.edges, k)
	if m := s.out[k.From]; m != nil {
		delete(m, k)
		if len(m) == 0 {
			delete(s.out, k.From)
		}
	}
	if m := s.in[k.To]; m != nil {
		delete(m, k)
		if len(m) == 0 {
			delete(s.in, k.To)
		}
	}
}

// effectiveScore applies the lazy half-life decay to a stored value.
func effectiveScore(stored float64, decayRef, nowMs int64, halfLife time.Duration) float64 {
	if halfLife <= 0 {
		return stored
	}
	dt := float64(nowMs - decayRef)
	if dt <= 0 {
		return stored
	}
	return stored * math.Exp2(-dt/float64(halfLife.Milliseconds()))
}

// TouchNode creates the node if absent, otherwise reinforces its score.
// The stored score is re-materialized at touch time so repeated touches
// compound correctly with decay. Idempotent in shape: touching an existing
// node never errors.
func (s *Service) TouchNode(id, kind, label string, scoreDelta float64) store.Node {
	now := time.Now().UnixMilli()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.touchNodeLocked(id, kind, label, scoreDelta, now)
	s.pruneLocked(now)
	return *n
}

func (s *Service) touchNodeLocked(id, kind, label string, scoreDelta float64, now int64) *store.Node {
	n, ok := s.nodes[id]
	if !ok {
		n = &store.Node{
			ID:            id,
			Kind:          kind,
			Label:         label,
			Score:         min(scoreDelta, s.cfg.ScoreCeiling),
			DecayRef:      now,
			LastTouchedAt: now,
		}
		s.nodes[id] = n
		return n
	}

	n.Score = min(effectiveScore(n.Score, n.DecayRef, now, s.cfg.NodeHalfLife)+scoreDelta, s.cfg.ScoreCeiling)
	n.DecayRef = now
	n.LastTouchedAt = now
	if label != "" {
		n.Label = label
	}
	return n
}

// TouchEdge reinforces (or creates) a directed edge, auto-creating missing
// endpoint nodes at the default endpoint score.
func (s *Service) TouchEdge(from, to, kind string, weightDelta float64) store.Edge {
	now := time.Now().UnixMilli()
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.touchEdgeLocked(from, to, kind, weightDelta, now)
	s.pruneLocked(now)
	return *e
}

func (s *Service) touchEdgeLocked(from, to, kind string, weightDelta float64, now int64) *store.Edge {
	if _, ok := s.nodes[from]; !ok {
		s.touchNodeLocked(from, nodeKindFor(from), from, s.cfg.EndpointScore, now)
	}
	if _, ok := s.nodes[to]; !ok {
		s.touchNodeLocked(to, nodeKindFor(to), to, s.cfg.EndpointScore, now)
	}

	k := edgeKey{from, to, kind}
	e, ok := s.edges[k]
	if !ok {
		e = &store.Edge{
			From:          from,
			To:            to,
			Kind:          kind,
			Weight:        min(weightDelta, s.cfg.ScoreCeiling),
			DecayRef:      now,
			LastTouchedAt: now,
		}
		s.indexEdge(e)
		return e
	}

	e.Weight = min(effectiveScore(e.Weight, e.DecayRef, now, s.cfg.EdgeHalfLife)+weightDelta, s.cfg.ScoreCeiling)
	e.DecayRef = now
	e.LastTouchedAt = now
	return e
}

// Decay materializes effective scores into stored values, bounding drift
// between the lazy read-side computation and the persisted snapshot.
// Returns the number of nodes and edges whose stored value changed.
func (s *Service) Decay(now time.Time) (int, int) {
	nowMs := now.UnixMilli()
	s.mu.Lock()
	defer s.mu.Unlock()

	nodesDecayed := 0
	for _, n := range s.nodes {
		eff := effectiveScore(n.Score, n.DecayRef, nowMs, s.cfg.NodeHalfLife)
		if eff < n.Score {
			n.Score = eff
			n.DecayRef = nowMs
			nodesDecayed++
		}
	}
	edgesDecayed := 0
	for _, e := range s.edges {
		eff := effectiveScore(e.Weight, e.DecayRef, nowMs, s.cfg.EdgeHalfLife)
		if eff < e.Weight {
			e.Weight = eff
			e.DecayRef = nowMs
			edgesDecayed++
		}
	}
	s.metrics.DecayPasses.Inc()
	return nodesDecayed, edgesDecayed
}

// Prune enforces the node and edge capacity bounds, evicting lowest
// effective score first (oldest touch breaks ties) and cascading edge
// deletion for evicted nodes. Returns the total evicted count.
func (s *Service) Prune(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pruneLocked(now.UnixMilli())
}

func (s *Service) pruneLocked(nowMs int64) int {
	evicted := 0

	if excess := len(s.nodes) - s.cfg.MaxNodes; excess > 0 {
		type scored struct {
			id    string
			eff   float64
			touch int64
		}
		ranked := make([]scored, 0, len(s.nodes))
		for id, n := range s.nodes {
			ranked = append(ranked, scored{id, effectiveScore(n.Score, n.DecayRef, nowMs, s.cfg.NodeHalfLife), n.LastTouchedAt})
		}
		sort.Slice(ranked, func(i, j int) bool {
			if ranked[i].eff != ranked[j].eff {
				return ranked[i].eff < ranked[j].eff
			}
			if ranked[i].touch != ranked[j].touch {
				return ranked[i].touch < ranked[j].touch
			}
			return ranked[i].id < ranked[j].id
		})
		for i := 0; i < excess; i++ {
			s.removeNodeLocked(ranked[i].id)
			evicted++
			s.metrics.NodesEvicted.Inc()
		}
	}

	if excess := len(s.edges) - s.cfg.MaxEdges; excess > 0 {
		type scored struct {
			key   edgeKey
			eff   float64
			touch int64
		}
		ranked := make([]scored, 0, len(s.edges))
		for k, e := range s.edges {
			ranked = append(ranked, scored{k, effectiveScore(e.Weight, e.DecayRef, nowMs, s.cfg.EdgeHalfLife), e.LastTouchedAt})
		}
		sort.Slice(ranked, func(i, j int) bool {
			if ranked[i].eff != ranked[j].eff {
				return ranked[i].eff < ranked[j].eff
			}
			if ranked[i].touch != ranked[j].touch {
				return ranked[i].touch < ranked[j].touch
			}
			return edgeKeyLess(ranked[i].key, ranked[j].key)
		})
		for i := 0; i < excess; i++ {
			s.unindexEdge(ranked[i].key)
			evicted++
			s.metrics.EdgesEvicted.Inc()
		}
	}

	return evicted
}

func (s *Service) removeNodeLocked(id string) {
	for k := range s.out[id] {
		s.unindexEdge(k)
		s.metrics.EdgesEvicted.Inc()
	}
	for k := range s.in[id] {
		s.unindexEdge(k)
		s.metrics.EdgesEvicted.Inc()
	}
	delete(s.nodes, id)
}

func edgeKeyLess(a, b edgeKey) bool {
	if a.From != b.From {
		return a.From < b.From
	}
	if a.To != b.To {
		return a.To < b.To
	}
	return a.Kind < b.Kind
}

// Counts returns the current node and edge counts.
func (s *Service) Counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nodes), len(s.edges)
}

// Snapshot returns copies of all nodes and edges with effective (decayed)
// scores. Callers compute off the copy; the lock is held only for the copy.
func (s *Service) Snapshot(now time.Time) ([]store.Node, []store.Edge) {
	nowMs := now.UnixMilli()
	s.mu.Lock()
	defer s.mu.Unlock()

	nodes := make([]store.Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		c := *n
		c.Score = effectiveScore(n.Score, n.DecayRef, nowMs, s.cfg.NodeHalfLife)
		nodes = append(nodes, c)
	}
	edges := make([]store.Edge, 0, len(s.edges))
	for _, e := range s.edges {
		c := *e
		c.Weight = effectiveScore(e.Weight, e.DecayRef, nowMs, s.cfg.EdgeHalfLife)
		edges = append(edges, c)
	}
	return nodes, edges
}

// Save persists the current graph to the SQLite snapshot. The in-memory
// state is copied under the lock; the write happens off-lock.
func (s *Service) Save() error {
	s.mu.Lock()
	nodes := make([]store.Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		nodes = append(nodes, *n)
	}
	edges := make([]store.Edge, 0, len(s.edges))
	for _, e := range s.edges {
		edges = append(edges, *e)
	}
	s.mu.Unlock()

	return s.db.ReplaceGraph(nodes, edges)
}
