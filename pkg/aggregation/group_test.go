package aggregation

import (
	"testing"

	"github.com/corvusdb/corvus/pkg/document"
	"github.com/corvusdb/corvus/pkg/query"
)

func TestGroupStageSumAndCount(t *testing.T) {
	docs := []*document.Document{
		document.D("category", document.String("A"), "price", document.Double(10)),
		document.D("category", document.String("A"), "price", document.Double(20)),
		document.D("category", document.String("B"), "price", document.Double(30)),
	}
	p := mustParse(t, document.D("$group", obj(
		"_id", document.String("$category"),
		"total", obj("$sum", document.String("$price")),
		"count", obj("$count", obj()),
	)))

	results, err := p.Execute(docs)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Expected 2 groups, got %d", len(results))
	}

	var groupA *document.Document
	for _, doc := range results {
		if id, _ := doc.GetValue("_id"); id.Str() == "A" {
			groupA = doc
		}
	}
	if groupA == nil {
		t.Fatal("Expected to find group A")
	}
	total, _ := groupA.GetValue("total")
	if total.Double() != 30.0 {
		t.Errorf("Expected total 30.0, got %v", total)
	}
	count, _ := groupA.GetValue("count")
	if count.Int64() != 2 {
		t.Errorf("Expected count 2, got %v", count)
	}
}

func TestGroupStageAvgMinMax(t *testing.T) {
	docs := []*document.Document{
		document.D("value", document.Double(10)),
		document.D("value", document.Double(20)),
		document.D("value", document.Double(30)),
	}
	p := mustParse(t, document.D("$group", obj(
		"_id", document.Null(),
		"avg", obj("$avg", document.String("$value")),
		"min", obj("$min", document.String("$value")),
		"max", obj("$max", document.String("$value")),
	)))

	results, err := p.Execute(docs)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Expected 1 result, got %d", len(results))
	}
	result := results[0]
	avg, _ := result.GetValue("avg")
	if avg.Double() != 20.0 {
		t.Errorf("Expected avg 20.0, got %v", avg)
	}
	min, _ := result.GetValue("min")
	if min.Double() != 10.0 {
		t.Errorf("Expected min 10.0, got %v", min)
	}
	max, _ := result.GetValue("max")
	if max.Double() != 30.0 {
		t.Errorf("Expected max 30.0, got %v", max)
	}
}

func TestGroupStageCompoundId(t *testing.T) {
	docs := []*document.Document{
		document.D("city", document.String("NY"), "state", document.String("NY")),
		document.D("city", document.String("NY"), "state", document.String("NY")),
		document.D("city", document.String("Albany"), "state", document.String("NY")),
	}
	p := mustParse(t, document.D("$group", obj(
		"_id", obj("city", document.String("$city"), "state", document.String("$state")),
		"n", obj("$count", obj()),
	)))

	results, err := p.Execute(docs)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Expected 2 groups, got %d", len(results))
	}
	id, _ := results[0].GetValue("_id")
	if id.Kind() != document.KindObject {
		t.Fatalf("Expected compound id document, got %v", id.Kind())
	}
	city, _ := id.Document().GetValue("city")
	if city.Str() != "NY" {
		t.Errorf("Expected first group city NY, got %v", city)
	}
}

func TestGroupStageFirstLastPush(t *testing.T) {
	docs := []*document.Document{
		document.D("k", document.Int32(1), "v", document.String("a")),
		document.D("k", document.Int32(1), "v", document.String("b")),
		document.D("k", document.Int32(1), "v", document.String("c")),
	}
	p := mustParse(t, document.D("$group", obj(
		"_id", document.String("$k"),
		"first", obj("$first", document.String("$v")),
		"last", obj("$last", document.String("$v")),
		"all", obj("$push", document.String("$v")),
	)))

	results, err := p.Execute(docs)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	result := results[0]
	first, _ := result.GetValue("first")
	if first.Str() != "a" {
		t.Errorf("Expected first a, got %v", first)
	}
	last, _ := result.GetValue("last")
	if last.Str() != "c" {
		t.Errorf("Expected last c, got %v", last)
	}
	all, _ := result.GetValue("all")
	if len(all.Array()) != 3 {
		t.Errorf("Expected 3 pushed values, got %d", len(all.Array()))
	}
}

func TestGroupStageTopAccumulator(t *testing.T) {
	docs := []*document.Document{
		document.D("team", document.String("x"), "player", document.String("p1"), "score", document.Int64(10)),
		document.D("team", document.String("x"), "player", document.String("p2"), "score", document.Int64(30)),
		document.D("team", document.String("x"), "player", document.String("p3"), "score", document.Int64(20)),
	}
	p := mustParse(t, document.D("$group", obj(
		"_id", document.String("$team"),
		"best", obj("$top", obj(
			"sortBy", obj("score", document.Int32(-1)),
			"output", document.String("$player"),
		)),
	)))

	results, err := p.Execute(docs)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	best, _ := results[0].GetValue("best")
	if best.Str() != "p2" {
		t.Errorf("Expected best p2, got %v", best)
	}
}

func TestGroupStageTopN(t *testing.T) {
	docs := []*document.Document{
		document.D("score", document.Int64(10)),
		document.D("score", document.Int64(30)),
		document.D("score", document.Int64(20)),
	}
	p := mustParse(t, document.D("$group", obj(
		"_id", document.Null(),
		"top2", obj("$topN", obj(
			"sortBy", obj("score", document.Int32(-1)),
			"output", document.String("$score"),
			"n", document.Int64(2),
		)),
	)))

	results, err := p.Execute(docs)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	top2, _ := results[0].GetValue("top2")
	vals := top2.Array()
	if len(vals) != 2 {
		t.Fatalf("Expected 2 values, got %d", len(vals))
	}
	if vals[0].Int64() != 30 || vals[1].Int64() != 20 {
		t.Errorf("Expected [30, 20], got %v", top2)
	}
}

func TestSortAbsorptionConvertsFirstToTop(t *testing.T) {
	p := NewPipeline([]Stage{
		NewSortStage(document.D("score", document.Int32(-1))),
		NewGroupStage("team",
			&Accumulator{Field: "best", Op: AccFirst, Arg: document.String("$player")},
			&Accumulator{Field: "worst", Op: AccLast, Arg: document.String("$player")}),
	}, nil)

	p.Optimize()

	if p.Len() != 1 {
		t.Fatalf("Expected $sort absorbed, got %d stages: %v", p.Len(), kinds(p))
	}
	g := p.At(0).(*GroupStage)
	if g.Accumulators()[0].Op != AccTop {
		t.Errorf("Expected $first converted to $top, got %s", g.Accumulators()[0].Op)
	}
	if g.Accumulators()[1].Op != AccBottom {
		t.Errorf("Expected $last converted to $bottom, got %s", g.Accumulators()[1].Op)
	}
	if g.Accumulators()[0].SortPattern == nil {
		t.Fatal("Expected converted accumulator to carry the sort pattern")
	}

	// Re-optimizing an absorbed pipeline changes nothing.
	p.Optimize()
	if p.Len() != 1 {
		t.Errorf("Expected absorption to be idempotent, got %d stages", p.Len())
	}

	docs := []*document.Document{
		document.D("team", document.String("x"), "player", document.String("p1"), "score", document.Int64(10)),
		document.D("team", document.String("x"), "player", document.String("p2"), "score", document.Int64(30)),
	}
	results, err := p.Execute(docs)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	best, _ := results[0].GetValue("best")
	if best.Str() != "p2" {
		t.Errorf("Expected best p2, got %v", best)
	}
	worst, _ := results[0].GetValue("worst")
	if worst.Str() != "p1" {
		t.Errorf("Expected worst p1, got %v", worst)
	}
}

func TestSortAbsorptionBlockedByOrderDependentAccumulator(t *testing.T) {
	p := NewPipeline([]Stage{
		NewSortStage(document.D("score", document.Int32(-1))),
		NewGroupStage("team",
			&Accumulator{Field: "best", Op: AccFirst, Arg: document.String("$player")},
			&Accumulator{Field: "all", Op: AccPush, Arg: document.String("$player")}),
	}, nil)

	p.Optimize()

	if p.Len() != 2 {
		t.Errorf("Expected $sort kept with order-dependent $push, got %v", kinds(p))
	}
}

func TestSortAbsorptionYieldsToFirstDocumentTransform(t *testing.T) {
	// All-$first groups over a simple id are answered by a per-key
	// first-document scan, which beats parameterizing accumulators.
	p := NewPipeline([]Stage{
		NewSortStage(document.D("ts", document.Int32(1))),
		NewGroupStage("device",
			&Accumulator{Field: "reading", Op: AccFirst, Arg: document.String("$value")}),
	}, nil)

	p.Optimize()

	if p.Len() != 2 {
		t.Errorf("Expected $sort kept for first-document eligible group, got %v", kinds(p))
	}
	g := p.At(1).(*GroupStage)
	if g.Accumulators()[0].Op != AccFirst {
		t.Errorf("Expected $first untouched, got %s", g.Accumulators()[0].Op)
	}
}

func TestCommonSortKeyMergesAccumulators(t *testing.T) {
	p := NewPipeline([]Stage{
		NewGroupStage("team",
			&Accumulator{Field: "bestPlayer", Op: AccTop, Arg: document.String("$player"),
				SortPattern: document.D("score", document.Int32(-1))},
			&Accumulator{Field: "bestScore", Op: AccTop, Arg: document.String("$score"),
				SortPattern: document.D("score", document.Int32(-1))},
			&Accumulator{Field: "n", Op: AccCount}),
	}, nil)

	p.Optimize()

	if p.Len() != 2 {
		t.Fatalf("Expected group plus re-projection, got %d stages: %v", p.Len(), kinds(p))
	}
	g := p.At(0).(*GroupStage)
	var merged *Accumulator
	for _, a := range g.Accumulators() {
		if len(a.Outputs) > 0 {
			merged = a
		}
	}
	if merged == nil {
		t.Fatal("Expected a merged common-sort-key accumulator")
	}
	if len(merged.Outputs) != 2 {
		t.Errorf("Expected 2 merged outputs, got %d", len(merged.Outputs))
	}
	if p.At(1).Kind() != StageProject {
		t.Fatalf("Expected trailing $project, got %s", p.At(1).Kind())
	}

	docs := []*document.Document{
		document.D("team", document.String("x"), "player", document.String("p1"), "score", document.Int64(10)),
		document.D("team", document.String("x"), "player", document.String("p2"), "score", document.Int64(30)),
	}
	results, err := p.Execute(docs)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	result := results[0]
	bestPlayer, ok := result.GetValue("bestPlayer")
	if !ok || bestPlayer.Str() != "p2" {
		t.Errorf("Expected bestPlayer p2, got %v", bestPlayer)
	}
	bestScore, ok := result.GetValue("bestScore")
	if !ok || bestScore.Int64() != 30 {
		t.Errorf("Expected bestScore 30, got %v", bestScore)
	}
	n, ok := result.GetValue("n")
	if !ok || n.Int64() != 2 {
		t.Errorf("Expected n 2, got %v", n)
	}
	if result.Has(merged.Field) {
		t.Error("Expected internal merged field projected away")
	}
}

func TestMatchPushesThroughRenameChain(t *testing.T) {
	p := NewPipeline([]Stage{
		NewGroupStage("city",
			&Accumulator{Field: "n", Op: AccCount}),
		NewAddFields(ComputedField{Name: "city", Source: "_id"}),
		NewMatchStage(query.Eq("city", document.String("NY"))),
	}, nil)

	p.Optimize()

	if p.Len() != 3 {
		t.Fatalf("Expected 3 stages, got %d: %v", p.Len(), kinds(p))
	}
	m, ok := p.At(0).(*MatchStage)
	if !ok {
		t.Fatalf("Expected leading $match, got %s", p.At(0).Kind())
	}
	fields := m.Predicate().Fields()
	if len(fields) != 1 || fields[0] != "city" {
		t.Errorf("Expected match translated back to city, got %v", fields)
	}
	if p.At(1).Kind() != StageGroup {
		t.Errorf("Expected $group second, got %v", kinds(p))
	}
}
