package aggregation

import (
	"errors"
	"testing"

	"github.com/corvusdb/corvus/pkg/document"
	"github.com/corvusdb/corvus/pkg/query"
)

func obj(pairs ...interface{}) document.Value {
	return document.Object(document.D(pairs...))
}

func mustParse(t *testing.T, specs ...*document.Document) *Pipeline {
	t.Helper()
	p, err := NewDefaultRegistry().ParsePipeline(specs, nil)
	if err != nil {
		t.Fatalf("ParsePipeline failed: %v", err)
	}
	return p
}

func kinds(p *Pipeline) []StageKind {
	out := make([]StageKind, p.Len())
	for i := range out {
		out[i] = p.At(i).Kind()
	}
	return out
}

func TestParsePipelineUnknownStage(t *testing.T) {
	_, err := NewDefaultRegistry().ParsePipeline([]*document.Document{
		document.D("$frobnicate", document.Int32(1)),
	}, nil)
	if !errors.Is(err, ErrUnknownStage) {
		t.Errorf("Expected ErrUnknownStage, got %v", err)
	}
}

func TestParsePipelineEmpty(t *testing.T) {
	_, err := NewDefaultRegistry().ParsePipeline(nil, nil)
	if !errors.Is(err, ErrEmptyPipeline) {
		t.Errorf("Expected ErrEmptyPipeline, got %v", err)
	}
}

func TestMatchStageFiltersDocuments(t *testing.T) {
	docs := []*document.Document{
		document.D("age", document.Int64(25)),
		document.D("age", document.Int64(30)),
		document.D("age", document.Int64(35)),
	}
	p := mustParse(t, document.D("$match", obj("age", obj("$gte", document.Int64(30)))))

	results, err := p.Execute(docs)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("Expected 2 results, got %d", len(results))
	}
}

func TestProjectStageInclusion(t *testing.T) {
	docs := []*document.Document{
		document.D(
			"name", document.String("Alice"),
			"age", document.Int64(30),
			"email", document.String("alice@example.com"),
		),
	}
	p := mustParse(t, document.D("$project", obj(
		"name", document.Bool(true),
		"age", document.Bool(true),
	)))

	results, err := p.Execute(docs)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Expected 1 result, got %d", len(results))
	}
	result := results[0]
	if !result.Has("name") || !result.Has("age") {
		t.Error("Expected name and age fields")
	}
	if result.Has("email") {
		t.Error("Expected email field to be excluded")
	}
}

func TestSortStageOrdersDescending(t *testing.T) {
	docs := []*document.Document{
		document.D("age", document.Int64(30)),
		document.D("age", document.Int64(25)),
		document.D("age", document.Int64(35)),
	}
	p := mustParse(t, document.D("$sort", obj("age", document.Int32(-1))))

	results, err := p.Execute(docs)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	want := []int64{35, 30, 25}
	for i, w := range want {
		v, _ := results[i].GetValue("age")
		if v.Int64() != w {
			t.Errorf("Expected age %d at position %d, got %d", w, i, v.Int64())
		}
	}
}

func TestLimitAndSkipExecution(t *testing.T) {
	var docs []*document.Document
	for i := int64(1); i <= 6; i++ {
		docs = append(docs, document.D("id", document.Int64(i)))
	}
	p := mustParse(t,
		document.D("$skip", document.Int64(2)),
		document.D("$limit", document.Int64(3)),
	)

	results, err := p.Execute(docs)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(results))
	}
	v, _ := results[0].GetValue("id")
	if v.Int64() != 3 {
		t.Errorf("Expected first id 3, got %d", v.Int64())
	}
}

func TestUnwindStageExpandsArrays(t *testing.T) {
	docs := []*document.Document{
		document.D("tags", document.Array([]document.Value{
			document.String("a"), document.String("b"), document.String("c"),
		})),
		document.D("tags", document.Array(nil)),
		document.NewDocument(),
	}
	p := mustParse(t, document.D("$unwind", document.String("$tags")))

	results, err := p.Execute(docs)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(results) != 3 {
		t.Errorf("Expected 3 results, got %d", len(results))
	}
	v, _ := results[1].GetValue("tags")
	if v.Str() != "b" {
		t.Errorf("Expected second element b, got %v", v)
	}
}

func TestUnwindPreservesEmpty(t *testing.T) {
	docs := []*document.Document{
		document.D("x", document.Int32(1)),
	}
	p := mustParse(t, document.D("$unwind", obj(
		"path", document.String("$tags"),
		"preserveNullAndEmptyArrays", document.Bool(true),
	)))

	results, err := p.Execute(docs)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("Expected 1 result, got %d", len(results))
	}
}

func TestOptimizeMovesMatchBeforeRenamingTransform(t *testing.T) {
	p := NewPipeline([]Stage{
		NewAddFields(ComputedField{Name: "city", Source: "address.city"}),
		NewMatchStage(query.Eq("city", document.String("NY"))),
	}, nil)

	p.Optimize()

	if p.Len() != 2 {
		t.Fatalf("Expected 2 stages, got %d", p.Len())
	}
	m, ok := p.At(0).(*MatchStage)
	if !ok {
		t.Fatalf("Expected leading $match, got %s", p.At(0).Kind())
	}
	fields := m.Predicate().Fields()
	if len(fields) != 1 || fields[0] != "address.city" {
		t.Errorf("Expected match on address.city, got %v", fields)
	}
}

func TestOptimizeSplitsMatchAcrossGroup(t *testing.T) {
	group := NewGroupStage("city",
		&Accumulator{Field: "total", Op: AccSum, Arg: document.String("$qty")})
	match := NewMatchStage(query.And(
		query.Eq("_id", document.String("NY")),
		query.Compare("total", query.OpGt, document.Int64(5)),
	))
	p := NewPipeline([]Stage{group, match}, nil)

	p.Optimize()

	if p.Len() != 3 {
		t.Fatalf("Expected 3 stages after split, got %d: %v", p.Len(), kinds(p))
	}
	first, ok := p.At(0).(*MatchStage)
	if !ok {
		t.Fatalf("Expected leading $match, got %s", p.At(0).Kind())
	}
	fields := first.Predicate().Fields()
	if len(fields) != 1 || fields[0] != "city" {
		t.Errorf("Expected independent match on city, got %v", fields)
	}
	last, ok := p.At(2).(*MatchStage)
	if !ok {
		t.Fatalf("Expected trailing $match, got %s", p.At(2).Kind())
	}
	fields = last.Predicate().Fields()
	if len(fields) != 1 || fields[0] != "total" {
		t.Errorf("Expected dependent match on total, got %v", fields)
	}
}

func TestOptimizeMergesAdjacentMatches(t *testing.T) {
	p := NewPipeline([]Stage{
		NewMatchStage(query.Eq("a", document.Int32(1))),
		NewMatchStage(query.Eq("b", document.Int32(2))),
	}, nil)

	p.Optimize()

	if p.Len() != 1 {
		t.Fatalf("Expected 1 stage after merge, got %d", p.Len())
	}
	fields := p.At(0).(*MatchStage).Predicate().Fields()
	if len(fields) != 2 {
		t.Errorf("Expected merged predicate over 2 fields, got %v", fields)
	}
}

func TestOptimizeKeepsTightestLimit(t *testing.T) {
	p := NewPipeline([]Stage{NewLimitStage(10), NewLimitStage(5)}, nil)
	p.Optimize()
	if p.Len() != 1 {
		t.Fatalf("Expected 1 stage, got %d", p.Len())
	}
	if n := p.At(0).(*LimitStage).N(); n != 5 {
		t.Errorf("Expected limit 5, got %d", n)
	}
}

func TestOptimizeNormalizesSkipLimitToLimitFirst(t *testing.T) {
	p := NewPipeline([]Stage{
		NewSkipStage(2), NewSkipStage(3), NewLimitStage(10),
	}, nil)

	p.Optimize()

	if p.Len() != 2 {
		t.Fatalf("Expected 2 stages, got %d: %v", p.Len(), kinds(p))
	}
	l, ok := p.At(0).(*LimitStage)
	if !ok {
		t.Fatalf("Expected leading $limit, got %s", p.At(0).Kind())
	}
	if l.N() != 15 {
		t.Errorf("Expected widened limit 15, got %d", l.N())
	}
	if n := p.At(1).(*SkipStage).N(); n != 5 {
		t.Errorf("Expected merged skip 5, got %d", n)
	}
}

func TestOptimizeMovesLimitBeforeTransform(t *testing.T) {
	p := NewPipeline([]Stage{
		NewExclusionProject([]string{"secret"}),
		NewLimitStage(4),
	}, nil)

	p.Optimize()

	if p.At(0).Kind() != StageLimit {
		t.Errorf("Expected $limit first, got %v", kinds(p))
	}
}

func TestSortAbsorbsFollowingLimit(t *testing.T) {
	p := NewPipeline([]Stage{
		NewSortStage(document.D("score", document.Int32(-1))),
		NewLimitStage(2),
	}, nil)

	p.Optimize()

	if p.Len() != 1 {
		t.Fatalf("Expected 1 stage after absorption, got %d", p.Len())
	}
	s := p.At(0).(*SortStage)
	if s.Limit() != 2 {
		t.Errorf("Expected absorbed limit 2, got %d", s.Limit())
	}

	docs := []*document.Document{
		document.D("score", document.Int64(1)),
		document.D("score", document.Int64(9)),
		document.D("score", document.Int64(5)),
	}
	results, err := p.Execute(docs)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}
	v, _ := results[0].GetValue("score")
	if v.Int64() != 9 {
		t.Errorf("Expected top score 9, got %d", v.Int64())
	}
}

func TestValidateMergeMustBeLast(t *testing.T) {
	p := NewPipeline([]Stage{
		NewMergeStage("out", nil),
		NewLimitStage(1),
	}, nil)
	if err := p.Validate(); !errors.Is(err, ErrInvalidStage) {
		t.Errorf("Expected ErrInvalidStage, got %v", err)
	}
}

func TestValidateSearchMustBeFirst(t *testing.T) {
	p := NewPipeline([]Stage{
		NewLimitStage(1),
		NewSearchStage("coffee"),
	}, nil)
	if err := p.Validate(); !errors.Is(err, ErrInvalidStage) {
		t.Errorf("Expected ErrInvalidStage, got %v", err)
	}
}

func TestDependenciesStopAtInclusionProject(t *testing.T) {
	p := NewPipeline([]Stage{
		NewMatchStage(query.Eq("a", document.Int32(1))),
		NewInclusionProject([]string{"b", "c"}),
		NewMatchStage(query.Eq("z", document.Int32(9))),
	}, nil)

	deps := p.Dependencies()
	if deps.NeedWholeDocument {
		t.Error("Expected a bounded dependency set")
	}
	fields := deps.SortedFields()
	want := []string{"a", "b", "c"}
	if len(fields) != len(want) {
		t.Fatalf("Expected fields %v, got %v", want, fields)
	}
	for i := range want {
		if fields[i] != want[i] {
			t.Errorf("Expected field %s at %d, got %s", want[i], i, fields[i])
		}
	}
}

func TestDependenciesWithoutExhaustiveStage(t *testing.T) {
	p := NewPipeline([]Stage{
		NewMatchStage(query.Eq("a", document.Int32(1))),
	}, nil)
	if deps := p.Dependencies(); !deps.NeedWholeDocument {
		t.Error("Expected NeedWholeDocument without an exhaustive stage")
	}
}
