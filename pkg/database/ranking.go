package database

import (
	"sort"

	"github.com/corvusdb/corvus/pkg/document"
	"github.com/corvusdb/corvus/pkg/index"
	"github.com/corvusdb/corvus/pkg/query"
)

// rankSolutions orders candidate plans best first, preferring the plan whose
// index is most selective according to the collection's statistics. The
// planner's order is kept between plans that score the same.
func (c *Collection) rankSolutions(solutions []*query.Solution) []*query.Solution {
	if len(solutions) < 2 {
		return solutions
	}
	sort.SliceStable(solutions, func(i, j int) bool {
		return c.solutionScore(solutions[i]) > c.solutionScore(solutions[j])
	})
	return solutions
}

func (c *Collection) solutionScore(s *query.Solution) float64 {
	e := firstIndexOf(s.Root)
	if e == nil {
		// A bare collection scan ranks below any indexed plan.
		return 0
	}
	st := c.statsFor(e)
	if st == nil {
		return 0.5
	}
	return st.Selectivity()
}

func firstIndexOf(n *query.PlanNode) *index.IndexEntry {
	if n == nil {
		return nil
	}
	if n.Index != nil {
		return n.Index
	}
	for _, child := range n.Children {
		if e := firstIndexOf(child); e != nil {
			return e
		}
	}
	return nil
}

// statsFor returns an index's statistics, recomputing them first when writes
// have left them stale.
func (c *Collection) statsFor(e *index.IndexEntry) *index.IndexStats {
	st := c.indexStats[e.Name]
	if st == nil {
		return nil
	}
	if st.Stale() {
		c.recomputeStats(e, st)
	}
	return st
}

// recomputeStats rebuilds the distribution of the index's first key field
// from the stored documents.
func (c *Collection) recomputeStats(e *index.IndexEntry, st *index.IndexStats) {
	field := e.Fields()[0]
	distinct := make(map[string]struct{})
	total := 0
	min, max := document.Null(), document.Null()

	_ = c.scanDocs(1, func(rid int64, doc *document.Document) bool {
		v, ok := doc.GetPath(field)
		if !ok {
			if e.Sparse {
				return true
			}
			v = document.Null()
		}
		if total == 0 || v.Compare(min) < 0 {
			min = v
		}
		if total == 0 || v.Compare(max) > 0 {
			max = v
		}
		total++
		distinct[v.String()] = struct{}{}
		return true
	})
	st.SetStats(total, len(distinct), min, max)
}
