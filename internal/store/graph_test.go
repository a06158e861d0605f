package store

import (
	"testing"
)

func TestReplaceAndLoadGraph(t *testing.T) {
	db := testDB(t)

	nodes := []Node{
		{ID: "light.kitchen", Kind: NodeEntity, Label: "Kitchen Light", Score: 2.5,
			Metadata: map[string]string{"state": "on"}, DecayRef: 1000, LastTouchedAt: 1000},
		{ID: "zone:kitchen", Kind: NodeZone, Label: "kitchen", Score: 1.0,
			DecayRef: 1000, LastTouchedAt: 1000},
	}
	edges := []Edge{
		{From: "light.kitchen", To: "zone:kitchen", Kind: EdgeLocatedIn,
			Weight: 0.8, DecayRef: 1000, LastTouchedAt: 1000},
	}

	if err := db.ReplaceGraph(nodes, edges); err != nil {
		t.Fatalf("ReplaceGraph: %v", err)
	}

	gotNodes, gotEdges, err := db.LoadGraph()
	if err != nil {
		t.Fatalf("LoadGraph: %v", err)
	}
	if len(gotNodes) != 2 || len(gotEdges) != 1 {
		t.Fatalf("got %d nodes, %d edges", len(gotNodes), len(gotEdges))
	}

	var light *Node
	for i := range gotNodes {
		if gotNodes[i].ID == "light.kitchen" {
			light = &gotNodes[i]
		}
	}
	if light == nil {
		t.Fatal("light.kitchen missing after reload")
	}
	if light.Score != 2.5 || light.Metadata["state"] != "on" {
		t.Errorf("node not round-tripped: %+v", light)
	}
	if gotEdges[0].Kind != EdgeLocatedIn || gotEdges[0].Weight != 0.8 {
		t.Errorf("edge not round-tripped: %+v", gotEdges[0])
	}

	// Replacing again fully overwrites the previous snapshot.
	if err := db.ReplaceGraph(nodes[:1], nil); err != nil {
		t.Fatalf("ReplaceGraph overwrite: %v", err)
	}
	gotNodes, gotEdges, err = db.LoadGraph()
	if err != nil {
		t.Fatalf("LoadGraph: %v", err)
	}
	if len(gotNodes) != 1 || len(gotEdges) != 0 {
		t.Errorf("overwrite left %d nodes, %d edges", len(gotNodes), len(gotEdges))
	}
}

func TestLoadGraphEmpty(t *testing.T) {
	db := testDB(t)

	nodes, edges, err := db.LoadGraph()
	if err != nil {
		t.Fatalf("LoadGraph: %v", err)
	}
	if len(nodes) != 0 || len(edges) != 0 {
		t.Errorf("fresh db should be empty, got %d/%d", len(nodes), len(edges))
	}
}
