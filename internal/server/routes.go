package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hearthd/hearth/internal/candidates"
	"github.com/hearthd/hearth/internal/habitus"
	"github.com/hearthd/hearth/internal/intake"
	"github.com/hearthd/hearth/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var batch []intake.EventInput
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if len(batch) == 0 {
		writeError(w, http.StatusBadRequest, "empty batch")
		return
	}

	res := s.intake.Ingest(batch)
	writeJSON(w, http.StatusOK, map[string]any{
		"accepted": len(res.Accepted),
		"rejected": len(res.Rejected),
		"events":   res.Statuses,
	})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	var since int64
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since")
			return
		}
		since = n
	}
	limit := queryInt(r, "limit", 100)
	if limit > 1000 {
		limit = 1000
	}

	events, err := s.db.EventsSince(since, r.URL.Query().Get("zone_id"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	type eventJSON struct {
		ID         string            `json:"id"`
		Kind       string            `json:"kind"`
		SourceRef  string            `json:"source_ref"`
		ZoneID     string            `json:"zone_id,omitempty"`
		Attributes map[string]string `json:"attributes,omitempty"`
		Timestamp  int64             `json:"timestamp"`
	}
	out := make([]eventJSON, len(events))
	for i, ev := range events {
		out[i] = eventJSON{ev.ID, ev.Kind, ev.SourceRef, ev.ZoneID, ev.Attributes, ev.Timestamp}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(out), "events": out})
}

func (s *Server) handleGraphState(w http.ResponseWriter, r *http.Request) {
	center := r.URL.Query().Get("center")
	if center == "" {
		writeError(w, http.StatusBadRequest, "center parameter required")
		return
	}
	hops := queryInt(r, "hops", 0)
	limit := queryInt(r, "limit", 0)

	nodes, edges := s.graph.Neighborhood(center, hops, limit)

	type nodeJSON struct {
		ID    string  `json:"id"`
		Kind  string  `json:"kind"`
		Label string  `json:"label"`
		Score float64 `json:"score"` // effective, decayed
	}
	type edgeJSON struct {
		From   string  `json:"from"`
		To     string  `json:"to"`
		Kind   string  `json:"kind"`
		Weight float64 `json:"weight"`
	}
	nodesOut := make([]nodeJSON, len(nodes))
	for i, n := range nodes {
		nodesOut[i] = nodeJSON{n.ID, n.Kind, n.Label, n.Score}
	}
	edgesOut := make([]edgeJSON, len(edges))
	for i, e := range edges {
		edgesOut[i] = edgeJSON{e.From, e.To, e.Kind, e.Weight}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"center": center,
		"nodes":  nodesOut,
		"edges":  edgesOut,
	})
}

func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	minConfidence := 0.0
	if v := r.URL.Query().Get("min_confidence"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 1 {
			writeError(w, http.StatusBadRequest, "invalid min_confidence")
			return
		}
		minConfidence = f
	}

	rules := s.miner.Rules(r.URL.Query().Get("zone_id"), minConfidence)
	writeJSON(w, http.StatusOK, map[string]any{"count": len(rules), "rules": rules})
}

func (s *Server) handleMine(w http.ResponseWriter, r *http.Request) {
	req := struct {
		WindowMinutes int    `json:"window_minutes"`
		ZoneID        string `json:"zone_id"`
	}{}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
	}

	window := s.cfg.Habitus.Window
	if req.WindowMinutes > 0 {
		window = time.Duration(req.WindowMinutes) * time.Minute
	}
	to := time.Now()
	rules, err := s.miner.Mine(to.Add(-window), to, req.ZoneID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"window_from": to.Add(-window).UnixMilli(),
		"window_to":   to.UnixMilli(),
		"count":       len(rules),
		"rules":       rules,
	})
}

func (s *Server) handleListCandidates(w http.ResponseWriter, r *http.Request) {
	list, err := s.candidates.List(r.URL.Query().Get("state"), queryInt(r, "limit", 0))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":      len(list),
		"candidates": candidateList(list),
	})
}

func (s *Server) handleCreateCandidate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Antecedent string `json:"antecedent"`
		Consequent string `json:"consequent"`
		ZoneID     string `json:"zone_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Antecedent == "" || req.Consequent == "" {
		writeError(w, http.StatusBadRequest, "antecedent and consequent required")
		return
	}

	// Pin the matching rule from the latest mining pass.
	var rule *habitus.Rule
	for _, cand := range s.miner.Rules(req.ZoneID, 0) {
		if cand.Antecedent == req.Antecedent && cand.Consequent == req.Consequent && cand.ZoneID == req.ZoneID {
			rule = &cand
			break
		}
	}
	if rule == nil {
		writeError(w, http.StatusNotFound, "no such rule in latest mining pass")
		return
	}

	c, err := s.candidates.Create(*rule)
	if err != nil {
		if errors.Is(err, candidates.ErrDuplicateCandidate) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, candidateJSONOf(c))
}

func (s *Server) handleDecideCandidate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "candidateID")

	var req struct {
		Decision string `json:"decision"`
		Reason   string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	var c *store.Candidate
	var err error
	switch req.Decision {
	case "accept", "dismiss":
		c, err = s.candidates.Decide(id, req.Decision, req.Reason)
	case "reoffer":
		c, err = s.candidates.ReOffer(id)
	default:
		writeError(w, http.StatusBadRequest, "decision must be accept, dismiss, or reoffer")
		return
	}
	if err != nil {
		switch {
		case errors.Is(err, candidates.ErrNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, candidates.ErrInvalidTransition):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, candidateJSONOf(c))
}

func (s *Server) handleMood(w http.ResponseWriter, r *http.Request) {
	zoneID := r.URL.Query().Get("zone_id")
	if zoneID == "" {
		writeError(w, http.StatusBadRequest, "zone_id parameter required")
		return
	}

	current, ok := s.mood.Current(zoneID)
	if !ok {
		current = s.mood.Score(zoneID)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"current": current,
		"history": s.mood.History(zoneID),
	})
}

type candidateJSON struct {
	ID             string  `json:"id"`
	Antecedent     string  `json:"antecedent"`
	Consequent     string  `json:"consequent"`
	ZoneID         string  `json:"zone_id,omitempty"`
	State          string  `json:"state"`
	Support        float64 `json:"support"`
	Confidence     float64 `json:"confidence"`
	Lift           float64 `json:"lift"`
	SampleCount    int     `json:"sample_count"`
	CreatedAt      int64   `json:"created_at"`
	OfferedAt      *int64  `json:"offered_at,omitempty"`
	DecidedAt      *int64  `json:"decided_at,omitempty"`
	DecisionReason string  `json:"decision_reason,omitempty"`
}

func candidateJSONOf(c *store.Candidate) candidateJSON {
	return candidateJSON{
		ID:             c.ID,
		Antecedent:     c.Antecedent,
		Consequent:     c.Consequent,
		ZoneID:         c.ZoneID,
		State:          c.State,
		Support:        c.Support,
		Confidence:     c.Confidence,
		Lift:           c.Lift,
		SampleCount:    c.SampleCount,
		CreatedAt:      c.CreatedAt,
		OfferedAt:      c.OfferedAt,
		DecidedAt:      c.DecidedAt,
		DecisionReason: c.DecisionReason,
	}
}

func candidateList(list []store.Candidate) []candidateJSON {
	out := make([]candidateJSON, len(list))
	for i := range list {
		out[i] = candidateJSONOf(&list[i])
	}
	return out
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
