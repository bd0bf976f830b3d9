package query

import "github.com/corvusdb/corvus/pkg/index"

// Planning annotations are kept out of the predicate tree in a TagMap keyed
// by node identity, populated by the PredicateIndexer and PlanEnumerator,
// consumed by the SolutionBuilder, and discarded when the planning attempt
// ends. The tree itself stays pure data and is safely reusable across
// attempts.

// RelevantTag lists, for one leaf, the relevant-index numbers that could
// satisfy it: FirstFields for indexes whose first key field is this leaf's
// path, NotFirstFields for indexes where the path appears later.
type RelevantTag struct {
	FirstFields    []int
	NotFirstFields []int
	Path           string
}

// IndexTag is the enumerator's concrete choice for one leaf: which index
// (by number into the candidate slice) and key-pattern position serve it.
type IndexTag struct {
	Index            int
	Position         int
	CanCombineBounds bool
}

// OrPushdownTag carries index destinations pushed into an OR branch during
// subplanning: the winning assignment of each branch is re-applied onto the
// original tree through these.
type OrPushdownTag struct {
	Destinations []IndexTag
}

// TagMap is the per-attempt annotation arena.
type TagMap struct {
	relevant map[*Predicate]*RelevantTag
	chosen   map[*Predicate]*IndexTag
	pushdown map[*Predicate]*OrPushdownTag
}

// NewTagMap returns an empty tag arena.
func NewTagMap() *TagMap {
	return &TagMap{
		relevant: map[*Predicate]*RelevantTag{},
		chosen:   map[*Predicate]*IndexTag{},
		pushdown: map[*Predicate]*OrPushdownTag{},
	}
}

func (m *TagMap) SetRelevant(n *Predicate, t *RelevantTag) { m.relevant[n] = t }
func (m *TagMap) Relevant(n *Predicate) *RelevantTag       { return m.relevant[n] }

func (m *TagMap) SetChosen(n *Predicate, t *IndexTag) { m.chosen[n] = t }
func (m *TagMap) Chosen(n *Predicate) *IndexTag       { return m.chosen[n] }

func (m *TagMap) SetPushdown(n *Predicate, t *OrPushdownTag) { m.pushdown[n] = t }
func (m *TagMap) Pushdown(n *Predicate) *OrPushdownTag       { return m.pushdown[n] }

// ClearChosen drops enumeration choices while keeping relevance ratings, so
// the enumerator can produce its next assignment.
func (m *TagMap) ClearChosen() {
	m.chosen = map[*Predicate]*IndexTag{}
}

// TaggedLeaves returns the leaves holding a chosen index tag, in pre-order.
func (m *TagMap) TaggedLeaves(root *Predicate) []*Predicate {
	var out []*Predicate
	root.Walk(func(n *Predicate) bool {
		if n.IsLeaf() && m.chosen[n] != nil {
			out = append(out, n)
		}
		return true
	})
	return out
}

// candidateIndexes is the planning-time candidate slice; tags index into it.
type candidateIndexes []*index.IndexEntry
