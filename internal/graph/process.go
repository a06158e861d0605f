package graph

import (
	"strings"
	"time"

	"github.com/hearthd/hearth/internal/store"
)

// Metadata keys copied from event attributes onto nodes. The bounded set
// keeps node metadata small regardless of event payload shape; these are the
// signals the mood scorer reads.
var nodeMetadataKeys = []string{
	"state", "friendly_name", "unit",
	"temperature", "humidity", "co2", "noise",
	"power_consumption", "power_production",
}

// Name implements intake.Processor.
func (s *Service) Name() string { return "graph" }

// Process consumes one accepted event batch: state changes touch entity and
// zone nodes and their located_in edge, service calls touch intent nodes and
// controls edges, and entities co-occurring in one batch within the same
// zone receive a rate-limited observed_with edge.
func (s *Service) Process(batch []store.Event) error {
	now := time.Now().UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()

	// zone -> entities seen in this batch, for co-occurrence linking
	coOccur := make(map[string][]string)
	coBudget := s.cfg.CoOccurLimit

	for i := range batch {
		ev := &batch[i]
		switch ev.Kind {
		case store.EventStateChanged:
			n := s.touchNodeLocked(ev.SourceRef, store.NodeEntity, entityLabel(ev), s.cfg.TouchDelta, now)
			s.applyMetadata(n, ev.Attributes)
			if ev.ZoneID != "" {
				s.touchNodeLocked(ev.ZoneID, store.NodeZone, ev.ZoneID, s.cfg.TouchDelta, now)
				s.touchEdgeLocked(ev.SourceRef, ev.ZoneID, store.EdgeLocatedIn, s.cfg.TouchDelta, now)
				coOccur[ev.ZoneID] = append(coOccur[ev.ZoneID], ev.SourceRef)
			}

		case store.EventServiceCall:
			intentID := "intent:" + ev.SourceRef
			s.touchNodeLocked(intentID, store.NodeIntent, ev.SourceRef, s.cfg.TouchDelta, now)
			if target := ev.Attributes["entity_id"]; target != "" {
				s.touchEdgeLocked(intentID, target, store.EdgeControls, s.cfg.TouchDelta, now)
			}
			if ev.ZoneID != "" {
				s.touchNodeLocked(ev.ZoneID, store.NodeZone, ev.ZoneID, s.cfg.TouchDelta, now)
				s.touchEdgeLocked(intentID, ev.ZoneID, store.EdgeControls, s.cfg.TouchDelta, now)
			}
		}
	}

	// Pairwise co-occurrence edges, bounded per batch so a large batch in
	// one zone cannot blow up the edge count combinatorially.
	for _, entities := range coOccur {
		for i := 0; i < len(entities) && coBudget > 0; i++ {
			for j := i + 1; j < len(entities) && coBudget > 0; j++ {
				if entities[i] == entities[j] {
					continue
				}
				s.touchEdgeLocked(entities[i], entities[j], store.EdgeObservedWith, s.cfg.TouchDelta/2, now)
				coBudget--
			}
		}
	}

	s.pruneLocked(now)
	return nil
}

func (s *Service) applyMetadata(n *store.Node, attrs map[string]string) {
	if len(attrs) == 0 {
		return
	}
	for _, k := range nodeMetadataKeys {
		if v, ok := attrs[k]; ok {
			if n.Metadata == nil {
				n.Metadata = make(map[string]string, 4)
			}
			n.Metadata[k] = v
		}
	}
}

func entityLabel(ev *store.Event) string {
	if name := ev.Attributes["friendly_name"]; name != "" {
		return name
	}
	return ev.SourceRef
}

// nodeKindFor guesses the node kind for an endpoint auto-created by an edge
// touch.
func nodeKindFor(id string) string {
	switch {
	case strings.HasPrefix(id, "zone:"):
		return store.NodeZone
	case strings.HasPrefix(id, "intent:"):
		return store.NodeIntent
	case strings.HasPrefix(id, "device:"):
		return store.NodeDevice
	default:
		return store.NodeEntity
	}
}
