package database

import (
	"testing"

	"github.com/corvusdb/corvus/pkg/aggregation"
	"github.com/corvusdb/corvus/pkg/document"
	"github.com/corvusdb/corvus/pkg/query"
)

func seedOrders(t *testing.T, c *Collection) {
	t.Helper()
	rows := []struct {
		city string
		qty  int64
	}{
		{"prague", 5}, {"brno", 3}, {"prague", 7},
		{"ostrava", 1}, {"brno", 4}, {"prague", 2},
	}
	for _, row := range rows {
		err := c.Insert(document.D(
			"city", document.String(row.city),
			"qty", document.Int64(row.qty),
		))
		if err != nil {
			t.Fatalf("Failed to insert: %v", err)
		}
	}
}

func TestCollectionAggregateGroup(t *testing.T) {
	c := newTestCollection(t)
	seedOrders(t, c)

	p := aggregation.NewPipeline([]aggregation.Stage{
		aggregation.NewGroupStage("city", &aggregation.Accumulator{
			Field: "total", Op: aggregation.AccSum, Arg: document.String("$qty"),
		}),
		aggregation.NewSortStage(document.D("_id", document.Int32(1))),
	}, nil)

	docs, err := c.Aggregate(p)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("Expected 3 groups, got %d", len(docs))
	}

	first, _ := docs[0].GetValue("_id")
	if first.Str() != "brno" {
		t.Errorf("Expected brno first, got %s", first)
	}
	total, _ := docs[0].GetValue("total")
	if f, _ := total.AsDouble(); f != 7 {
		t.Errorf("Expected brno total 7, got %s", total)
	}
}

func TestCollectionAggregateMatchExtractedToPlanner(t *testing.T) {
	c := newTestCollection(t)
	seedOrders(t, c)

	p := aggregation.NewPipeline([]aggregation.Stage{
		aggregation.NewMatchStage(query.Eq("city", document.String("prague"))),
		aggregation.NewGroupStage("city", &aggregation.Accumulator{
			Field: "n", Op: aggregation.AccCount,
		}),
	}, nil)

	docs, err := c.Aggregate(p)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("Expected 1 group, got %d", len(docs))
	}
	n, _ := docs[0].GetValue("n")
	if v, _ := n.AsInt64(); v != 3 {
		t.Errorf("Expected 3 prague orders, got %s", n)
	}
}

func TestCollectionAggregateSampleRandomCursor(t *testing.T) {
	c := newTestCollection(t)
	for i := 0; i < 200; i++ {
		if err := c.Insert(document.D("n", document.Int64(int64(i)))); err != nil {
			t.Fatalf("Failed to insert: %v", err)
		}
	}

	p := aggregation.NewPipeline([]aggregation.Stage{
		aggregation.NewSampleStage(5, nil),
	}, nil)

	docs, err := c.Aggregate(p)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if len(docs) != 5 {
		t.Errorf("Expected 5 sampled documents, got %d", len(docs))
	}
}

func TestCollectionExplainAggregate(t *testing.T) {
	c := newTestCollection(t)
	seedOrders(t, c)

	p := aggregation.NewPipeline([]aggregation.Stage{
		aggregation.NewMatchStage(query.Eq("city", document.String("brno"))),
		aggregation.NewGroupStage("city", &aggregation.Accumulator{
			Field: "n", Op: aggregation.AccCount,
		}),
	}, nil)

	out, err := c.ExplainAggregate(p, VerbosityExecutionStats)
	if err != nil {
		t.Fatalf("Explain failed: %v", err)
	}
	planner := out["queryPlanner"].(map[string]interface{})
	if planner["winningPlan"] == nil {
		t.Error("Expected a winning plan in the explain output")
	}
	stats := out["executionStats"].(map[string]interface{})
	if stats["nReturned"].(int64) != 1 {
		t.Errorf("Expected 1 group returned, got %v", stats["nReturned"])
	}
}
