package aggregation

import (
	"fmt"
	"sort"

	"github.com/corvusdb/corvus/pkg/document"
)

// SortStage orders documents by a sort pattern. A following $limit is
// absorbed into the stage as a top-k bound.
type SortStage struct {
	pattern *document.Document
	// limit is the absorbed top-k bound, 0 for a full sort.
	limit int64
}

// NewSortStage builds a $sort over the given pattern.
func NewSortStage(pattern *document.Document) *SortStage {
	return &SortStage{pattern: pattern}
}

func parseSortStage(spec document.Value) (Stage, error) {
	if spec.Kind() != document.KindObject || spec.Document().Len() == 0 {
		return nil, fmt.Errorf("%w: $sort requires a non-empty object", ErrInvalidStage)
	}
	return NewSortStage(spec.Document()), nil
}

// Pattern returns the sort pattern.
func (s *SortStage) Pattern() *document.Document { return s.pattern }

// Limit returns the absorbed top-k bound, 0 when none.
func (s *SortStage) Limit() int64 { return s.limit }

func (s *SortStage) Kind() StageKind { return StageSort }

func (s *SortStage) Constraints() StageConstraints {
	return StageConstraints{
		Stream:           Blocking,
		CanSwapWithMatch: true,
	}
}

func (s *SortStage) Distributed() *DistributedPlanLogic {
	// Shards sort locally; the merge point combines the streams with an
	// ordered merge on the same pattern.
	return &DistributedPlanLogic{
		ShardsStage:      s,
		MergeSortPattern: s.pattern,
		NeedsSplit:       true,
	}
}

func (s *SortStage) EngineCompatibility() EngineCompat { return EngineFullyCompatible }

func (s *SortStage) ModifiedPaths() ModifiedPaths {
	return ModifiedPaths{} // reorders only
}

func (s *SortStage) AddDependencies(d *Deps) bool {
	for _, f := range s.pattern.Keys() {
		d.Add(f)
	}
	return false
}

// OptimizeAt absorbs an immediately following $limit as a top-k bound.
func (s *SortStage) OptimizeAt(i int, p *Pipeline) bool {
	next, ok := p.At(i + 1).(*LimitStage)
	if !ok {
		return false
	}
	if s.limit == 0 || next.n < s.limit {
		s.limit = next.n
	}
	p.Erase(i + 1)
	return true
}

func (s *SortStage) Execute(docs []*document.Document) ([]*document.Document, error) {
	result := make([]*document.Document, len(docs))
	copy(result, docs)
	sort.SliceStable(result, func(i, j int) bool {
		return compareBySortPattern(result[i], result[j], s.pattern) < 0
	})
	if s.limit > 0 && int64(len(result)) > s.limit {
		result = result[:s.limit]
	}
	return result, nil
}

func (s *SortStage) Serialize() *document.Document {
	out := document.D("$sort", document.Object(s.pattern))
	if s.limit > 0 {
		out.Set("limit", document.Int64(s.limit))
	}
	return out
}

// compareBySortPattern orders two documents under a {field: ±1} pattern.
// Missing fields sort before present ones, matching index null ordering.
func compareBySortPattern(a, b *document.Document, pattern *document.Document) int {
	for _, f := range pattern.Keys() {
		dir, _ := pattern.GetValue(f)
		desc := false
		if d, ok := dir.AsDouble(); ok && d < 0 {
			desc = true
		}
		av, aok := a.GetPath(f)
		bv, bok := b.GetPath(f)
		if !aok {
			av = document.Null()
		}
		if !bok {
			bv = document.Null()
		}
		c := av.Compare(bv)
		if c == 0 {
			continue
		}
		if desc {
			return -c
		}
		return c
	}
	return 0
}
