package database

import (
	"fmt"
	"sort"

	"github.com/corvusdb/corvus/pkg/document"
	"github.com/corvusdb/corvus/pkg/geo"
	"github.com/corvusdb/corvus/pkg/keystring"
	"github.com/corvusdb/corvus/pkg/query"
)

// ExecStats counts the work one plan execution performed.
type ExecStats struct {
	DocsExamined int64
	KeysExamined int64
	Returned     int64
}

type execPair struct {
	rid int64
	doc *document.Document
}

// executor walks an access-plan tree against the collection's stores.
type executor struct {
	c     *Collection
	stats ExecStats
}

func newExecutor(c *Collection) *executor {
	return &executor{c: c}
}

func (e *executor) run(n *query.PlanNode) ([]execPair, error) {
	pairs, err := e.exec(n)
	if err != nil {
		return nil, err
	}
	e.stats.Returned = int64(len(pairs))
	return pairs, nil
}

func (e *executor) exec(n *query.PlanNode) ([]execPair, error) {
	switch n.Kind {
	case query.NodeCollectionScan:
		return e.collScan(n)
	case query.NodeIndexScan:
		return e.indexScan(n)
	case query.NodeFetch:
		return e.fetchNode(n)
	case query.NodeOr:
		return e.union(n)
	case query.NodeAndHash, query.NodeAndSorted:
		return e.intersect(n)
	case query.NodeSort:
		return e.sortNode(n)
	case query.NodeSkip:
		pairs, err := e.exec(n.Children[0])
		if err != nil {
			return nil, err
		}
		if int64(len(pairs)) <= n.Count {
			return nil, nil
		}
		return pairs[n.Count:], nil
	case query.NodeLimit:
		pairs, err := e.exec(n.Children[0])
		if err != nil {
			return nil, err
		}
		if int64(len(pairs)) > n.Count {
			pairs = pairs[:n.Count]
		}
		return pairs, nil
	case query.NodeProjection:
		return e.project(n)
	case query.NodeColumnScan:
		pairs, err := e.collScan(n)
		if err != nil {
			return nil, err
		}
		return projectPairs(pairs, n.ProjectedFields), nil
	case query.NodeTextMatch:
		return e.textMatch(n)
	case query.NodeGeoNear:
		return e.geoNear(n)
	case query.NodeSearch:
		// External search plans degrade to a filtered scan.
		return e.collScan(n)
	}
	return nil, fmt.Errorf("cannot execute plan node %s", n.Kind)
}

func (e *executor) collScan(n *query.PlanNode) ([]execPair, error) {
	var out []execPair
	direction := n.Direction
	if direction == 0 {
		direction = 1
	}
	err := e.c.scanDocs(direction, func(rid int64, doc *document.Document) bool {
		e.stats.DocsExamined++
		if n.Filter != nil && !n.Filter.Matches(doc) {
			return true
		}
		out = append(out, execPair{rid, doc})
		return true
	})
	return out, err
}

func (e *executor) indexScan(n *query.PlanNode) ([]execPair, error) {
	store, ok := e.c.indexStores[n.Index.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, n.Index.Name)
	}

	ordering := keystring.OrderingFromKeyPattern(n.Index.KeyPattern)
	ranges := n.Bounds.EncodeKeyRanges(ordering)
	reverse := n.Direction < 0

	var out []execPair
	seen := make(map[int64]bool)
	for _, r := range ranges {
		var rids []int64
		err := store.Scan(r.Start, r.End, reverse, func(key, value []byte) bool {
			e.stats.KeysExamined++
			rids = append(rids, ridFromValue(value))
			return true
		})
		if err != nil {
			return nil, err
		}
		for _, rid := range rids {
			// Multikey indexes surface a document once per element.
			if seen[rid] {
				continue
			}
			seen[rid] = true
			doc, err := e.c.fetch(rid)
			if err != nil {
				return nil, err
			}
			e.stats.DocsExamined++
			if n.Filter != nil && !n.Filter.Matches(doc) {
				continue
			}
			out = append(out, execPair{rid, doc})
		}
	}
	return out, nil
}

// textMatch runs the query tokens through the inverted index and fetches the
// hits in relevance order.
func (e *executor) textMatch(n *query.PlanNode) ([]execPair, error) {
	idx, ok := e.c.textIndexes[n.Index.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, n.Index.Name)
	}
	if n.Leaf == nil {
		return nil, fmt.Errorf("text plan node has no search terms")
	}

	var out []execPair
	for _, hit := range idx.Search(n.Leaf.Search) {
		e.stats.KeysExamined++
		doc, err := e.c.fetch(hit.RecordID)
		if err != nil {
			return nil, err
		}
		e.stats.DocsExamined++
		if n.Filter != nil && !n.Filter.Matches(doc) {
			continue
		}
		out = append(out, execPair{hit.RecordID, doc})
	}
	return out, nil
}

// geoNear scans the collection, measures each document's distance from the
// query point and returns the survivors nearest first. Documents without a
// readable point at the indexed path are skipped.
func (e *executor) geoNear(n *query.PlanNode) ([]execPair, error) {
	if n.Leaf == nil {
		return nil, fmt.Errorf("geo plan node has no query point")
	}
	origin := geo.NewPoint(n.Leaf.Near[0], n.Leaf.Near[1])

	type scored struct {
		pair execPair
		dist float64
	}
	var hits []scored
	err := e.c.scanDocs(1, func(rid int64, doc *document.Document) bool {
		e.stats.DocsExamined++
		v, ok := doc.GetPath(n.Leaf.Path)
		if !ok {
			return true
		}
		p, perr := geo.PointFromValue(v)
		if perr != nil {
			return true
		}
		var dist float64
		if n.Leaf.Spherical {
			dist = geo.Haversine(origin, p)
		} else {
			dist = geo.Distance(origin, p)
		}
		if n.Leaf.MaxDistance > 0 && dist > n.Leaf.MaxDistance {
			return true
		}
		hits = append(hits, scored{execPair{rid, doc}, dist})
		return true
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].dist < hits[j].dist })

	out := make([]execPair, 0, len(hits))
	for _, h := range hits {
		// scanDocs decoded a fresh copy, so annotating it is safe.
		if n.Leaf.DistanceField != "" {
			h.pair.doc.SetPath(n.Leaf.DistanceField, document.Double(h.dist))
		}
		out = append(out, h.pair)
	}
	return out, nil
}

func (e *executor) fetchNode(n *query.PlanNode) ([]execPair, error) {
	pairs, err := e.exec(n.Children[0])
	if err != nil {
		return nil, err
	}
	if n.Filter == nil {
		return pairs, nil
	}
	out := pairs[:0]
	for _, p := range pairs {
		if n.Filter.Matches(p.doc) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (e *executor) union(n *query.PlanNode) ([]execPair, error) {
	var out []execPair
	seen := make(map[int64]bool)
	for _, child := range n.Children {
		pairs, err := e.exec(child)
		if err != nil {
			return nil, err
		}
		for _, p := range pairs {
			if seen[p.rid] {
				continue
			}
			seen[p.rid] = true
			out = append(out, p)
		}
	}
	if n.Filter != nil {
		kept := out[:0]
		for _, p := range out {
			if n.Filter.Matches(p.doc) {
				kept = append(kept, p)
			}
		}
		out = kept
	}
	return out, nil
}

func (e *executor) intersect(n *query.PlanNode) ([]execPair, error) {
	var out []execPair
	for i, child := range n.Children {
		pairs, err := e.exec(child)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			out = pairs
			continue
		}
		present := make(map[int64]bool, len(pairs))
		for _, p := range pairs {
			present[p.rid] = true
		}
		kept := out[:0]
		for _, p := range out {
			if present[p.rid] {
				kept = append(kept, p)
			}
		}
		out = kept
	}
	if n.Filter != nil {
		kept := out[:0]
		for _, p := range out {
			if n.Filter.Matches(p.doc) {
				kept = append(kept, p)
			}
		}
		out = kept
	}
	return out, nil
}

func (e *executor) sortNode(n *query.PlanNode) ([]execPair, error) {
	pairs, err := e.exec(n.Children[0])
	if err != nil {
		return nil, err
	}
	fields := n.SortPattern.Keys()
	dirs := make([]int, len(fields))
	for i, f := range fields {
		v, _ := n.SortPattern.GetValue(f)
		dirs[i] = 1
		if d, ok := v.AsDouble(); ok && d < 0 {
			dirs[i] = -1
		}
	}
	sort.SliceStable(pairs, func(i, j int) bool {
		for k, f := range fields {
			a := fieldOrNull(pairs[i].doc, f)
			b := fieldOrNull(pairs[j].doc, f)
			if cmp := a.Compare(b) * dirs[k]; cmp != 0 {
				return cmp < 0
			}
		}
		return false
	})
	// A top-k bound from an absorbed limit truncates the result here.
	if n.Count > 0 && int64(len(pairs)) > n.Count {
		pairs = pairs[:n.Count]
	}
	return pairs, nil
}

func (e *executor) project(n *query.PlanNode) ([]execPair, error) {
	pairs, err := e.exec(n.Children[0])
	if err != nil {
		return nil, err
	}
	return projectPairs(pairs, n.ProjectedFields), nil
}

func projectPairs(pairs []execPair, fields []string) []execPair {
	out := make([]execPair, 0, len(pairs))
	for _, p := range pairs {
		proj := document.NewDocument()
		for _, f := range fields {
			if v, ok := p.doc.GetPath(f); ok {
				proj.SetPath(f, v)
			}
		}
		out = append(out, execPair{p.rid, proj})
	}
	return out
}

func fieldOrNull(doc *document.Document, path string) document.Value {
	if v, ok := doc.GetPath(path); ok {
		return v
	}
	return document.Null()
}
