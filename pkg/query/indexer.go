package query

import (
	"github.com/corvusdb/corvus/pkg/document"
	"github.com/corvusdb/corvus/pkg/index"
)

// PredicateIndexer rates predicate leaves against candidate indexes and
// prunes assignments that cannot produce (or cannot improve) a plan. Its
// output is a TagMap of RelevantTags consumed by the PlanEnumerator.
type PredicateIndexer struct {
	collation string
}

// NewPredicateIndexer returns an indexer planning under the given collation
// (empty for the simple binary collation).
func NewPredicateIndexer(collation string) *PredicateIndexer {
	return &PredicateIndexer{collation: collation}
}

// RateIndices attaches a RelevantTag to every leaf that at least one
// candidate index could satisfy.
func (ix *PredicateIndexer) RateIndices(root *Predicate, indices candidateIndexes, tags *TagMap) {
	root.Walk(func(n *Predicate) bool {
		if !n.IsLeaf() {
			return true
		}
		tag := &RelevantTag{Path: n.Path}
		for i, e := range indices {
			pos := ix.compatiblePosition(n, e)
			if pos < 0 {
				continue
			}
			if pos == 0 {
				tag.FirstFields = append(tag.FirstFields, i)
			} else {
				tag.NotFirstFields = append(tag.NotFirstFields, i)
			}
		}
		if len(tag.FirstFields) > 0 || len(tag.NotFirstFields) > 0 {
			tags.SetRelevant(n, tag)
		}
		return true
	})
}

// compatiblePosition returns the key-pattern position at which the index can
// satisfy the leaf, or -1.
func (ix *PredicateIndexer) compatiblePosition(n *Predicate, e *index.IndexEntry) int {
	switch n.Kind {
	case PredicateText:
		if e.Type != index.IndexTypeText {
			return -1
		}
		return 0
	case PredicateGeoNear:
		if e.Type != index.IndexType2D && e.Type != index.IndexType2DSphere {
			return -1
		}
		if e.PositionOf(n.Path) < 0 {
			return -1
		}
		return e.PositionOf(n.Path)
	}

	// Text and geo indexes serve only their own predicate kinds.
	if e.Type == index.IndexTypeText || e.Type == index.IndexType2D ||
		e.Type == index.IndexType2DSphere || e.Type == index.IndexTypeColumnar {
		return -1
	}

	pos := e.PositionOf(n.Path)
	if pos < 0 {
		return -1
	}
	if e.Type == index.IndexTypeHashed && !isPointPredicate(n) {
		// Hashed indexes destroy range order.
		return -1
	}
	if e.Collation != ix.collation && isCollationSensitive(n) {
		return -1
	}
	if e.Sparse && matchesMissing(n) {
		// A sparse index has no entry for documents missing the field.
		return -1
	}
	if e.PartialFilter != nil && !ix.subsumesPartialFilter(n, e.PartialFilter) {
		return -1
	}
	return pos
}

func isPointPredicate(n *Predicate) bool {
	return (n.Kind == PredicateCompare && n.Op == OpEq) || n.Kind == PredicateIn
}

// isCollationSensitive reports whether the leaf compares strings, where
// index order under a non-matching collation diverges from predicate order.
func isCollationSensitive(n *Predicate) bool {
	check := func(v document.Value) bool {
		switch v.Kind() {
		case document.KindString, document.KindSymbol, document.KindObject, document.KindArray:
			return true
		}
		return false
	}
	if n.Kind == PredicateIn {
		for _, v := range n.In {
			if check(v) {
				return true
			}
		}
		return false
	}
	return n.Kind == PredicateCompare && check(n.Value)
}

// matchesMissing reports whether the leaf can match a document where the
// path is absent (which a sparse index cannot prove).
func matchesMissing(n *Predicate) bool {
	if n.Kind == PredicateCompare {
		if n.Op == OpNe {
			return true
		}
		if n.Op == OpEq && n.Value.Kind() == document.KindNull {
			return true
		}
	}
	return false
}

// subsumesPartialFilter reports whether the leaf's predicate guarantees the
// partial index filter. Only equality filters are analyzed; anything more
// complex conservatively disqualifies the index.
func (ix *PredicateIndexer) subsumesPartialFilter(n *Predicate, filter *document.Document) bool {
	for _, f := range filter.Keys() {
		want, _ := filter.GetValue(f)
		if n.Path != f {
			return false
		}
		switch {
		case n.Kind == PredicateCompare && n.Op == OpEq && n.Value.Compare(want) == 0:
		case n.Kind == PredicateCompare && n.Op == OpGt && n.Value.Compare(want) >= 0:
		case n.Kind == PredicateCompare && n.Op == OpGte && n.Value.Compare(want) >= 0:
		default:
			return false
		}
	}
	return true
}

// StripInvalidAssignments removes ratings that would build incorrect plans:
// on a multikey index, at most one leaf may be assigned per key-pattern
// position, since two predicates on the same array path need not be
// satisfied by the same array element.
func (ix *PredicateIndexer) StripInvalidAssignments(root *Predicate, indices candidateIndexes, tags *TagMap) {
	type slot struct{ idx, pos int }
	seen := map[slot]bool{}
	root.Walk(func(n *Predicate) bool {
		if !n.IsLeaf() {
			return true
		}
		tag := tags.Relevant(n)
		if tag == nil {
			return true
		}
		filter := func(list []int, pos func(i int) int) []int {
			out := list[:0]
			for _, i := range list {
				if indices[i].Multikey {
					s := slot{i, pos(i)}
					if seen[s] {
						continue
					}
					seen[s] = true
				}
				out = append(out, i)
			}
			return out
		}
		tag.FirstFields = filter(tag.FirstFields, func(int) int { return 0 })
		tag.NotFirstFields = filter(tag.NotFirstFields, func(i int) int {
			return indices[i].PositionOf(n.Path)
		})
		if len(tag.FirstFields) == 0 && len(tag.NotFirstFields) == 0 {
			tags.SetRelevant(n, nil)
		}
		return true
	})
}

// StripUnneededAssignments shrinks the enumeration space for queries with no
// projection, sort, or mandatory-index stage: once some leaf holds an
// equality assigned at position 0 of an index, assignments of that index to
// other non-equality leaves cannot reach a better plan and are dropped.
func (ix *PredicateIndexer) StripUnneededAssignments(root *Predicate, indices candidateIndexes, tags *TagMap) {
	equalityOwner := map[int]*Predicate{}
	root.Walk(func(n *Predicate) bool {
		if !n.IsLeaf() || !isPointPredicate(n) {
			return true
		}
		tag := tags.Relevant(n)
		if tag == nil {
			return true
		}
		for _, i := range tag.FirstFields {
			if equalityOwner[i] == nil {
				equalityOwner[i] = n
			}
		}
		return true
	})
	if len(equalityOwner) == 0 {
		return
	}
	root.Walk(func(n *Predicate) bool {
		if !n.IsLeaf() {
			return true
		}
		tag := tags.Relevant(n)
		if tag == nil {
			return true
		}
		keep := func(list []int) []int {
			out := list[:0]
			for _, i := range list {
				owner := equalityOwner[i]
				if owner != nil && owner != n && !isPointPredicate(n) {
					continue
				}
				out = append(out, i)
			}
			return out
		}
		tag.FirstFields = keep(tag.FirstFields)
		tag.NotFirstFields = keep(tag.NotFirstFields)
		if len(tag.FirstFields) == 0 && len(tag.NotFirstFields) == 0 {
			tags.SetRelevant(n, nil)
		}
		return true
	})
}
