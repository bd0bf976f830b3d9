package aggregation

import (
	"testing"

	"github.com/corvusdb/corvus/pkg/document"
	"github.com/corvusdb/corvus/pkg/query"
)

func TestPushdownStopsAtFirstIneligibleStage(t *testing.T) {
	// $sample is engine-incompatible; the $match after it never gets
	// considered even though it would qualify on its own.
	p := NewPipeline([]Stage{
		NewMatchStage(query.Eq("a", document.Int32(1))),
		NewSampleStage(5, nil),
		NewMatchStage(query.Eq("b", document.Int32(2))),
	}, nil)

	n := SelectPushdownPrefix(p, DefaultPushdownOptions())
	if n != 1 {
		t.Errorf("Expected prefix of 1 stage, got %d", n)
	}
}

func TestPushdownFlagGatesStageType(t *testing.T) {
	p := NewPipeline([]Stage{
		NewMatchStage(query.Eq("a", document.Int32(1))),
		NewGroupStage("city", &Accumulator{Field: "n", Op: AccCount}),
		NewLimitStage(5),
	}, nil)

	opts := DefaultPushdownOptions()
	if n := SelectPushdownPrefix(p, opts); n != 3 {
		t.Errorf("Expected full prefix of 3, got %d", n)
	}

	opts.Flags.Group = false
	if n := SelectPushdownPrefix(p, opts); n != 1 {
		t.Errorf("Expected prefix of 1 with $group lowering disabled, got %d", n)
	}
}

func TestPushdownPrunesTrailingAdditionsOnlyTransform(t *testing.T) {
	p := NewPipeline([]Stage{
		NewMatchStage(query.Eq("a", document.Int32(1))),
		NewAddFields(ComputedField{Name: "b", Source: "a"}),
	}, nil)

	opts := DefaultPushdownOptions()
	if n := SelectPushdownPrefix(p, opts); n != 1 {
		t.Errorf("Expected trailing $addFields pruned, got prefix %d", n)
	}

	opts.FullPushdown = true
	if n := SelectPushdownPrefix(p, opts); n != 2 {
		t.Errorf("Expected full pushdown to keep $addFields, got prefix %d", n)
	}
}

func TestPushdownPrunesTrailingUnwind(t *testing.T) {
	p := NewPipeline([]Stage{
		NewMatchStage(query.Eq("a", document.Int32(1))),
		NewUnwindStage("tags", false),
	}, nil)

	if n := SelectPushdownPrefix(p, DefaultPushdownOptions()); n != 1 {
		t.Errorf("Expected trailing $unwind pruned, got prefix %d", n)
	}

	// Unlike additions-only transforms, a trailing $unwind stays pruned even
	// under full pushdown.
	opts := DefaultPushdownOptions()
	opts.FullPushdown = true
	if n := SelectPushdownPrefix(p, opts); n != 1 {
		t.Errorf("Expected trailing $unwind pruned under full pushdown, got prefix %d", n)
	}
}

func TestPushdownCapExposesMorePruning(t *testing.T) {
	p := NewPipeline([]Stage{
		NewMatchStage(query.Eq("a", document.Int32(1))),
		NewAddFields(ComputedField{Name: "b", Source: "a"}),
		NewMatchStage(query.Eq("b", document.Int32(2))),
	}, nil)

	opts := DefaultPushdownOptions()
	opts.MaxStages = 2

	// The cap trims the trailing $match, which exposes the additions-only
	// $addFields for pruning in turn.
	if n := SelectPushdownPrefix(p, opts); n != 1 {
		t.Errorf("Expected cap plus pruning to leave 1 stage, got %d", n)
	}
}

func TestPushdownMinCompatibility(t *testing.T) {
	p := NewPipeline([]Stage{
		NewMatchStage(query.Eq("a", document.Int32(1))),
		NewMatchStage(query.Eq("b", document.Int32(2))),
	}, nil)

	opts := DefaultPushdownOptions()
	opts.MinCompatibility = EngineTryCompatible
	if n := SelectPushdownPrefix(p, opts); n != 2 {
		t.Errorf("Expected both matches lowered, got %d", n)
	}
}
