package graph

import (
	"sort"
	"time"

	"github.com/hearthd/hearth/internal/store"
)

// Neighborhood performs a bounded breadth-first traversal from center,
// following edges in both directions. Hop count and result size are capped
// by configuration regardless of the requested values, so response size is
// bounded for any graph shape; the limit applies to nodes and edges alike.
// Returned scores are effective (decayed).
func (s *Service) Neighborhood(center string, hops, limit int) ([]store.Node, []store.Edge) {
	if hops <= 0 || hops > s.cfg.MaxHops {
		hops = s.cfg.MaxHops
	}
	if limit <= 0 || limit > s.cfg.MaxNeighborhood {
		limit = s.cfg.MaxNeighborhood
	}
	nowMs := time.Now().UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()

	start, ok := s.nodes[center]
	if !ok {
		return nil, nil
	}

	visited := map[string]bool{center: true}
	frontier := []string{center}
	nodes := []store.Node{s.effectiveNodeCopy(start, nowMs)}
	var edges []store.Edge
	seenEdges := make(map[edgeKey]bool)

	for hop := 0; hop < hops && len(frontier) > 0 && len(nodes) < limit; hop++ {
		var next []string
		for _, id := range frontier {
			for _, k := range s.sortedIncident(id) {
				if seenEdges[k] {
					continue
				}
				other := k.To
				if other == id {
					other = k.From
				}
				if !visited[other] {
					if len(nodes) >= limit {
						break
					}
					visited[other] = true
					nodes = append(nodes, s.effectiveNodeCopy(s.nodes[other], nowMs))
					next = append(next, other)
				}
				seenEdges[k] = true
				if len(edges) < limit {
					e := s.edges[k]
					c := *e
					c.Weight = effectiveScore(e.Weight, e.DecayRef, nowMs, s.cfg.EdgeHalfLife)
					edges = append(edges, c)
				}
			}
		}
		frontier = next
	}

	return nodes, edges
}

// sortedIncident returns the incident edge keys of a node in deterministic
// order, so traversal results are stable for a given graph state.
func (s *Service) sortedIncident(id string) []edgeKey {
	keys := make([]edgeKey, 0, len(s.out[id])+len(s.in[id]))
	for k := range s.out[id] {
		keys = append(keys, k)
	}
	for k := range s.in[id] {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return edgeKeyLess(keys[i], keys[j]) })
	return keys
}

func (s *Service) effectiveNodeCopy(n *store.Node, nowMs int64) store.Node {
	c := *n
	c.Score = effectiveScore(n.Score, n.DecayRef, nowMs, s.cfg.NodeHalfLife)
	return c
}

// ZoneMembers returns effective copies of the nodes linked to a zone by a
// located_in edge, plus the zone node itself if present.
func (s *Service) ZoneMembers(zoneID string) []store.Node {
	nowMs := time.Now().UnixMilli()
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.Node
	if zn, ok := s.nodes[zoneID]; ok {
		out = append(out, s.effectiveNodeCopy(zn, nowMs))
	}
	for k := range s.in[zoneID] {
		if k.Kind != store.EdgeLocatedIn {
			continue
		}
		if n, ok := s.nodes[k.From]; ok {
			out = append(out, s.effectiveNodeCopy(n, nowMs))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Zones returns the IDs of all zone nodes.
func (s *Service) Zones() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for id, n := range s.nodes {
		if n.Kind == store.NodeZone {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
