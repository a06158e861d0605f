package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// Node kinds.
const (
	NodeEntity = "entity"
	NodeZone   = "zone"
	NodeIntent = "intent"
	NodeDevice = "device"
)

// Edge kinds.
const (
	EdgeLocatedIn      = "located_in"
	EdgeControls       = "controls"
	EdgeObservedWith   = "observed_with"
	EdgeCorrelatedWith = "correlated_with"
)

// Node is a persisted graph node row. Score is the stored (materialized)
// value; decayed effective scores are computed by the graph service.
type Node struct {
	ID            string
	Kind          string
	Label         string
	Score         float64
	Metadata      map[string]string
	DecayRef      int64
	LastTouchedAt int64
}

// Edge is a persisted graph edge row. Directed; (from, to, kind) is unique.
type Edge struct {
	From          string
	To            string
	Kind          string
	Weight        float64
	DecayRef      int64
	LastTouchedAt int64
}

// LoadGraph reads the full graph snapshot. An empty database yields empty
// slices: the graph is a derived cache and rebuilds from nothing.
func (db *DB) LoadGraph() ([]Node, []Edge, error) {
	nodeRows, err := db.Query(`
		SELECT id, kind, label, score, metadata, decay_ref, last_touched_at FROM graph_nodes
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load nodes: %w", err)
	}
	defer nodeRows.Close()

	var nodes []Node
	for nodeRows.Next() {
		var n Node
		var meta string
		if err := nodeRows.Scan(&n.ID, &n.Kind, &n.Label, &n.Score, &meta, &n.DecayRef, &n.LastTouchedAt); err != nil {
			return nil, nil, fmt.Errorf("scan node: %w", err)
		}
		if meta != "" && meta != "{}" {
			if err := json.Unmarshal([]byte(meta), &n.Metadata); err != nil {
				return nil, nil, fmt.Errorf("unmarshal metadata for %s: %w", n.ID, err)
			}
		}
		nodes = append(nodes, n)
	}
	if err := nodeRows.Err(); err != nil {
		return nil, nil, err
	}

	edgeRows, err := db.Query(`
		SELECT from_id, to_id, kind, weight, decay_ref, last_touched_at FROM graph_edges
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load edges: %w", err)
	}
	defer edgeRows.Close()

	var edges []Edge
	for edgeRows.Next() {
		var e Edge
		if err := edgeRows.Scan(&e.From, &e.To, &e.Kind, &e.Weight, &e.DecayRef, &e.LastTouchedAt); err != nil {
			return nil, nil, fmt.Errorf("scan edge: %w", err)
		}
		edges = append(edges, e)
	}
	return nodes, edges, edgeRows.Err()
}

// ReplaceGraph atomically overwrites the persisted snapshot with the given
// nodes and edges. Called by the graph service after decay materialization
// so the on-disk state never holds a partially written graph.
func (db *DB) ReplaceGraph(nodes []Node, edges []Edge) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin snapshot: %w", err)
	}
	if err := replaceGraphTx(tx, nodes, edges); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

func replaceGraphTx(tx *sql.Tx, nodes []Node, edges []Edge) error {
	// Edges first: the FK cascade would handle it, but explicit ordering
	// keeps the statements deterministic.
	if _, err := tx.Exec("DELETE FROM graph_edges"); err != nil {
		return fmt.Errorf("clear edges: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM graph_nodes"); err != nil {
		return fmt.Errorf("clear nodes: %w", err)
	}

	for i := range nodes {
		meta, err := json.Marshal(nodes[i].Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata for %s: %w", nodes[i].ID, err)
		}
		if _, err := tx.Exec(`
			INSERT INTO graph_nodes (id, kind, label, score, metadata, decay_ref, last_touched_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, nodes[i].ID, nodes[i].Kind, nodes[i].Label, nodes[i].Score, string(meta), nodes[i].DecayRef, nodes[i].LastTouchedAt); err != nil {
			return fmt.Errorf("insert node %s: %w", nodes[i].ID, err)
		}
	}

	for i := range edges {
		if _, err := tx.Exec(`
			INSERT INTO graph_edges (from_id, to_id, kind, weight, decay_ref, last_touched_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, edges[i].From, edges[i].To, edges[i].Kind, edges[i].Weight, edges[i].DecayRef, edges[i].LastTouchedAt); err != nil {
			return fmt.Errorf("insert edge %s->%s: %w", edges[i].From, edges[i].To, err)
		}
	}
	return nil
}
