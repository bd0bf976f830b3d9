package query

import "sort"

// Assignment is one fully-enumerated choice of index per (satisfiable) leaf:
// a tagged tree in map form, keyed by node identity like the TagMap it came
// from.
type Assignment map[*Predicate]*IndexTag

// PlanEnumerator walks a rated predicate tree and produces distinct
// assignments of indexes to leaves, one per candidate plan. Enumeration is
// capped to keep pathological predicates from exploding the plan space.
type PlanEnumerator struct {
	MaxIndexedSolutions int
	IntersectionEnabled bool
}

// NewPlanEnumerator returns an enumerator with the given solution cap.
func NewPlanEnumerator(maxSolutions int, intersection bool) *PlanEnumerator {
	if maxSolutions <= 0 {
		maxSolutions = 64
	}
	return &PlanEnumerator{
		MaxIndexedSolutions: maxSolutions,
		IntersectionEnabled: intersection,
	}
}

// Enumerate produces the tagged-tree assignments for a rated tree. An empty
// result means no index can drive any plan.
func (e *PlanEnumerator) Enumerate(root *Predicate, indices candidateIndexes, tags *TagMap) []Assignment {
	out := e.enumerate(root, indices, tags)
	if len(out) > e.MaxIndexedSolutions {
		out = out[:e.MaxIndexedSolutions]
	}
	return out
}

func (e *PlanEnumerator) enumerate(node *Predicate, indices candidateIndexes, tags *TagMap) []Assignment {
	switch node.Kind {
	case PredicateOr:
		return e.enumerateOr(node, indices, tags)
	case PredicateAnd:
		return e.enumerateAnd(node, indices, tags)
	default:
		return e.enumerateAnd(&Predicate{Kind: PredicateAnd, Children: []*Predicate{node}}, indices, tags)
	}
}

// enumerateAnd produces one assignment per driving index: every leaf the
// index can serve is tagged to it. With intersection enabled, pairs of
// driving indexes produce additional assignments.
func (e *PlanEnumerator) enumerateAnd(node *Predicate, indices candidateIndexes, tags *TagMap) []Assignment {
	driving := e.drivingIndexes(node, tags)
	var out []Assignment
	for _, i := range driving {
		out = append(out, e.assignTo(node, indices, tags, i))
	}
	if e.IntersectionEnabled {
		for a := 0; a < len(driving); a++ {
			for b := a + 1; b < len(driving); b++ {
				merged := e.assignTo(node, indices, tags, driving[a])
				for n, t := range e.assignTo(node, indices, tags, driving[b]) {
					if merged[n] == nil {
						merged[n] = t
					}
				}
				out = append(out, merged)
			}
		}
	}
	return out
}

// drivingIndexes returns, in deterministic order, every index number that
// appears as a first-field rating of some direct or nested leaf.
func (e *PlanEnumerator) drivingIndexes(node *Predicate, tags *TagMap) []int {
	set := map[int]bool{}
	node.Walk(func(n *Predicate) bool {
		if !n.IsLeaf() {
			return true
		}
		if tag := tags.Relevant(n); tag != nil {
			for _, i := range tag.FirstFields {
				set[i] = true
			}
		}
		return true
	})
	out := make([]int, 0, len(set))
	for i := range set {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// assignTo tags every leaf under node that index i can serve. Leaves the
// index cannot serve stay untagged and become residual filters.
func (e *PlanEnumerator) assignTo(node *Predicate, indices candidateIndexes, tags *TagMap, i int) Assignment {
	a := Assignment{}
	node.Walk(func(n *Predicate) bool {
		if n.Kind == PredicateOr {
			// Leaves under an OR cannot be partially assigned; the OR is
			// planned by subplanning instead.
			return false
		}
		if !n.IsLeaf() {
			return true
		}
		tag := tags.Relevant(n)
		if tag == nil {
			return true
		}
		for _, c := range tag.FirstFields {
			if c == i {
				a[n] = &IndexTag{Index: i, Position: 0, CanCombineBounds: true}
				return true
			}
		}
		for _, c := range tag.NotFirstFields {
			if c == i {
				a[n] = &IndexTag{
					Index:            i,
					Position:         indices[i].PositionOf(n.Path),
					CanCombineBounds: true,
				}
				return true
			}
		}
		return true
	})
	return a
}

// enumerateOr requires every branch to be independently satisfiable and
// produces the cross product of branch assignments.
func (e *PlanEnumerator) enumerateOr(node *Predicate, indices candidateIndexes, tags *TagMap) []Assignment {
	out := []Assignment{{}}
	for _, child := range node.Children {
		branch := e.enumerate(child, indices, tags)
		if len(branch) == 0 {
			return nil // one unindexable branch sinks the whole OR
		}
		next := make([]Assignment, 0, len(out)*len(branch))
		for _, base := range out {
			for _, b := range branch {
				merged := Assignment{}
				for n, t := range base {
					merged[n] = t
				}
				for n, t := range b {
					merged[n] = t
				}
				next = append(next, merged)
				if len(next) >= e.MaxIndexedSolutions {
					break
				}
			}
			if len(next) >= e.MaxIndexedSolutions {
				break
			}
		}
		out = next
	}
	return out
}
