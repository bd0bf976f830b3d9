package aggregation

import (
	"fmt"

	"github.com/corvusdb/corvus/pkg/document"
	"github.com/corvusdb/corvus/pkg/query"
)

// MatchStage filters documents with a predicate tree. It is the most mobile
// stage: the optimizer pushes it toward the data source whenever the stages
// it crosses leave its fields untouched.
type MatchStage struct {
	predicate *query.Predicate
}

// NewMatchStage wraps a predicate.
func NewMatchStage(pred *query.Predicate) *MatchStage {
	return &MatchStage{predicate: pred}
}

func parseMatchStage(spec document.Value) (Stage, error) {
	if spec.Kind() != document.KindObject {
		return nil, fmt.Errorf("%w: $match requires an object", ErrInvalidStage)
	}
	pred, err := ParsePredicate(spec.Document())
	if err != nil {
		return nil, err
	}
	return NewMatchStage(pred), nil
}

// ParsePredicate converts a filter document into a predicate tree:
// {a: 5, b: {$gt: 2}}, plus $and/$or/$in/$exists/$text/$geoNear forms. A
// $match differs from a bare filter only in rejecting the empty document.
func ParsePredicate(filter *document.Document) (*query.Predicate, error) {
	pred, err := query.ParseFilter(filter)
	if err != nil {
		return nil, err
	}
	if pred == nil {
		return nil, fmt.Errorf("%w: empty filter", ErrInvalidStage)
	}
	return pred, nil
}

// Predicate returns the stage's predicate tree.
func (s *MatchStage) Predicate() *query.Predicate { return s.predicate }

func (s *MatchStage) Kind() StageKind { return StageMatch }

func (s *MatchStage) Constraints() StageConstraints {
	return StageConstraints{
		Stream:           Streaming,
		CanSwapWithMatch: true,
	}
}

func (s *MatchStage) Distributed() *DistributedPlanLogic { return nil }

func (s *MatchStage) EngineCompatibility() EngineCompat { return EngineFullyCompatible }

func (s *MatchStage) ModifiedPaths() ModifiedPaths {
	return ModifiedPaths{} // filters only, never rewrites
}

func (s *MatchStage) AddDependencies(d *Deps) bool {
	for _, f := range s.predicate.Fields() {
		d.Add(f)
	}
	return false
}

// OptimizeAt merges an immediately following $match into this one.
func (s *MatchStage) OptimizeAt(i int, p *Pipeline) bool {
	next, ok := p.At(i + 1).(*MatchStage)
	if !ok {
		return false
	}
	s.predicate = query.And(s.predicate, next.predicate)
	p.Erase(i + 1)
	return true
}

func (s *MatchStage) Execute(docs []*document.Document) ([]*document.Document, error) {
	result := make([]*document.Document, 0, len(docs))
	for _, doc := range docs {
		if s.predicate.Matches(doc) {
			result = append(result, doc)
		}
	}
	return result, nil
}

func (s *MatchStage) Serialize() *document.Document {
	return document.D("$match", document.String(s.predicate.String()))
}

// SplitByModifiedPaths partitions the predicate into a part independent of
// the given modified paths (safe to evaluate before the modifying stage,
// with renamed paths translated back) and a dependent remainder. Either
// result may be nil.
func (s *MatchStage) SplitByModifiedPaths(mp ModifiedPaths) (independent, dependent *query.Predicate) {
	conjuncts := topLevelConjuncts(s.predicate)
	var ind, dep []*query.Predicate
	for _, c := range conjuncts {
		if movable(c, mp) {
			ind = append(ind, renameTree(c, mp))
		} else {
			dep = append(dep, c)
		}
	}
	if len(ind) > 0 {
		independent = query.And(ind...)
	}
	if len(dep) > 0 {
		dependent = query.And(dep...)
	}
	return independent, dependent
}

func topLevelConjuncts(pred *query.Predicate) []*query.Predicate {
	if pred.Kind == query.PredicateAnd {
		return pred.Children
	}
	return []*query.Predicate{pred}
}

// movable reports whether every field the subtree references survives the
// stage unmodified, after translating renamed paths back to their inputs.
func movable(pred *query.Predicate, mp ModifiedPaths) bool {
	for _, f := range pred.Fields() {
		if mp.RenameBack(f) != f {
			// A renamed path carries its input value through unchanged.
			continue
		}
		if mp.Modifies(f) {
			return false
		}
	}
	// Text and geo predicates are pinned to their stage position.
	if pred.FirstOfKind(query.PredicateText) != nil ||
		pred.FirstOfKind(query.PredicateGeoNear) != nil {
		return false
	}
	return true
}

// renameTree rewrites every leaf path through the stage's renames, returning
// a new tree (the original is never mutated).
func renameTree(pred *query.Predicate, mp ModifiedPaths) *query.Predicate {
	if len(mp.Renames) == 0 {
		return pred
	}
	clone := *pred
	if pred.IsLeaf() {
		clone.Path = mp.RenameBack(pred.Path)
		return &clone
	}
	clone.Children = make([]*query.Predicate, len(pred.Children))
	for i, c := range pred.Children {
		clone.Children[i] = renameTree(c, mp)
	}
	return &clone
}
