//go:build integration

package world

import (
	"context"
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	tcneo4j "github.com/testcontainers/testcontainers-go/modules/neo4j"
	"go.uber.org/zap"
)

func TestRelationGraph(t *testing.T) {
	ctx := context.Background()
	container, err := tcneo4j.Run(ctx, "neo4j:5-community", tcneo4j.WithoutAuthentication())
	if err != nil {
		t.Fatalf("start neo4j: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })
	uri, err := container.BoltUrl(ctx)
	if err != nil {
		t.Fatalf("bolt url: %v", err)
	}
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.NoAuth())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { driver.Close(ctx) })

	g := NewRelationGraph(driver, 0.01, zap.NewNop())
	for i := 0; i < 12; i++ {
		at := worldStart.Add(time.Duration(i) * 15 * time.Minute)
		if err := g.RecordEncounter(ctx, "klaus", "maria", "kitchen", at); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if err := g.RecordEncounter(ctx, "klaus", "isabella", "library", worldStart); err != nil {
		t.Fatal(err)
	}

	rels, err := g.Relations(ctx, "klaus")
	if err != nil {
		t.Fatal(err)
	}
	if len(rels) != 2 || rels[0].ToAgentID != "maria" {
		t.Fatalf("relations = %+v", rels)
	}
	if rels[0].Encounters != 12 || len(rels[0].History) != encounterHistory {
		t.Errorf("maria relation = %+v", rels[0])
	}

	back, err := g.Relations(ctx, "maria")
	if err != nil || len(back) != 1 || back[0].ToAgentID != "klaus" {
		t.Errorf("reverse relation = %+v, %v", back, err)
	}

	before := rels[0].Strength
	g.OnTick(ctx, worldStart)
	after, _ := g.Relations(ctx, "klaus")
	if after[0].Strength >= before {
		t.Errorf("strength %v did not decay from %v", after[0].Strength, before)
	}
}
