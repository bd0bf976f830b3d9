package aggregation

import (
	"testing"

	"github.com/corvusdb/corvus/pkg/document"
	"github.com/corvusdb/corvus/pkg/index"
	"github.com/corvusdb/corvus/pkg/query"
)

func newOrchestrator() *Orchestrator {
	planner := query.NewQueryPlanner(query.DefaultPlannerOptions(), query.NewPlanCache(0), nil)
	return NewOrchestrator(planner, DefaultPushdownOptions(), nil)
}

func singleIndexCatalog(name, field string) *index.CatalogView {
	return index.NewCatalogView([]*index.IndexEntry{{
		Name:       name,
		KeyPattern: document.D(field, document.Int32(1)),
		Type:       index.IndexTypeBTree,
	}})
}

func TestOrchestratorExtractsLeadingQueryStages(t *testing.T) {
	p := NewPipeline([]Stage{
		NewMatchStage(query.Eq("a", document.Int32(5))),
		NewSortStage(document.D("a", document.Int32(1))),
		NewLimitStage(3),
		NewGroupStage("a", &Accumulator{Field: "n", Op: AccCount}),
	}, nil)

	plan, err := newOrchestrator().PlanPipeline(p, singleIndexCatalog("a_1", "a"), query.CollectionInfo{})
	if err != nil {
		t.Fatalf("PlanPipeline failed: %v", err)
	}

	if plan.Query.Filter == nil {
		t.Fatal("Expected leading $match extracted into the query filter")
	}
	if plan.Query.Sort == nil {
		t.Error("Expected leading $sort extracted into the query")
	}
	if plan.Query.Limit != 3 {
		t.Errorf("Expected extracted limit 3, got %d", plan.Query.Limit)
	}
	if plan.Winner == nil {
		t.Fatal("Expected a winning access plan")
	}
	if plan.Pushed.Len() != 1 || plan.Pushed.At(0).Kind() != StageGroup {
		t.Errorf("Expected $group pushed to the engine, got %v", kinds(plan.Pushed))
	}
	if plan.Remainder.Len() != 0 {
		t.Errorf("Expected empty remainder, got %v", kinds(plan.Remainder))
	}
}

func TestOrchestratorProjectionFromDependencies(t *testing.T) {
	p := NewPipeline([]Stage{
		NewMatchStage(query.Eq("a", document.Int32(5))),
		NewGroupStage("city", &Accumulator{Field: "total", Op: AccSum, Arg: document.String("$qty")}),
	}, nil)

	plan, err := newOrchestrator().PlanPipeline(p, singleIndexCatalog("a_1", "a"), query.CollectionInfo{})
	if err != nil {
		t.Fatalf("PlanPipeline failed: %v", err)
	}

	want := []string{"city", "qty"}
	if len(plan.Query.Projection) != len(want) {
		t.Fatalf("Expected projection %v, got %v", want, plan.Query.Projection)
	}
	for i := range want {
		if plan.Query.Projection[i] != want[i] {
			t.Errorf("Expected projection field %s, got %s", want[i], plan.Query.Projection[i])
		}
	}
}

func TestOrchestratorSampleLowersToRandomCursor(t *testing.T) {
	p := NewPipeline([]Stage{
		NewSampleStage(5, nil),
		NewMatchStage(query.Eq("a", document.Int32(1))),
	}, nil)

	plan, err := newOrchestrator().PlanPipeline(p, index.NewCatalogView(nil),
		query.CollectionInfo{DocumentCount: 1000})
	if err != nil {
		t.Fatalf("PlanPipeline failed: %v", err)
	}

	if plan.RandomSampleSize != 5 {
		t.Errorf("Expected random cursor of 5, got %d", plan.RandomSampleSize)
	}
	if plan.Winner != nil {
		t.Error("Expected no access plan alongside a random cursor")
	}
	if plan.Query.Filter == nil {
		t.Error("Expected the $match still extracted for cursor-side filtering")
	}
}

func TestOrchestratorLargeSampleStaysInPipeline(t *testing.T) {
	p := NewPipeline([]Stage{
		NewSampleStage(5, nil),
		NewMatchStage(query.Eq("a", document.Int32(1))),
	}, nil)

	plan, err := newOrchestrator().PlanPipeline(p, index.NewCatalogView(nil),
		query.CollectionInfo{DocumentCount: 50})
	if err != nil {
		t.Fatalf("PlanPipeline failed: %v", err)
	}

	if plan.RandomSampleSize != 0 {
		t.Errorf("Expected no random cursor for a 10%% sample, got %d", plan.RandomSampleSize)
	}
	if plan.Winner == nil {
		t.Fatal("Expected a collection scan plan")
	}
	if plan.Remainder.Len() != 2 {
		t.Errorf("Expected $sample and $match in the remainder, got %v", kinds(plan.Remainder))
	}
}

func TestOrchestratorSkipLimitWindow(t *testing.T) {
	p := NewPipeline([]Stage{
		NewSkipStage(2),
		NewLimitStage(10),
	}, nil)

	plan, err := newOrchestrator().PlanPipeline(p, index.NewCatalogView(nil), query.CollectionInfo{})
	if err != nil {
		t.Fatalf("PlanPipeline failed: %v", err)
	}

	// The optimizer normalizes to limit-first ($limit 12, $skip 2); the
	// extracted window must describe the same documents.
	if plan.Query.Skip != 2 {
		t.Errorf("Expected skip 2, got %d", plan.Query.Skip)
	}
	if plan.Query.Limit != 10 {
		t.Errorf("Expected limit 10, got %d", plan.Query.Limit)
	}
	if plan.Remainder.Len() != 0 {
		t.Errorf("Expected fully extracted pipeline, got %v", kinds(plan.Remainder))
	}
}
