package query

import (
	"fmt"

	"github.com/corvusdb/corvus/pkg/document"
	"github.com/corvusdb/corvus/pkg/index"
)

// PlanNodeKind identifies a node of an access-plan tree.
type PlanNodeKind int

const (
	NodeCollectionScan PlanNodeKind = iota
	NodeIndexScan
	NodeFetch
	NodeAndHash
	NodeAndSorted
	NodeOr
	NodeSort
	NodeLimit
	NodeSkip
	NodeProjection
	NodeColumnScan
	NodeTextMatch
	NodeGeoNear
	NodeSearch
)

func (k PlanNodeKind) String() string {
	switch k {
	case NodeCollectionScan:
		return "COLLSCAN"
	case NodeIndexScan:
		return "IXSCAN"
	case NodeFetch:
		return "FETCH"
	case NodeAndHash:
		return "AND_HASH"
	case NodeAndSorted:
		return "AND_SORTED"
	case NodeOr:
		return "OR"
	case NodeSort:
		return "SORT"
	case NodeLimit:
		return "LIMIT"
	case NodeSkip:
		return "SKIP"
	case NodeProjection:
		return "PROJECTION"
	case NodeColumnScan:
		return "COLUMN_SCAN"
	case NodeTextMatch:
		return "TEXT_MATCH"
	case NodeGeoNear:
		return "GEO_NEAR"
	case NodeSearch:
		return "SEARCH"
	}
	return "UNKNOWN"
}

// PlanNode is one stage of an access-plan tree.
type PlanNode struct {
	Kind     PlanNodeKind
	Children []*PlanNode

	// IndexScan / TextMatch / GeoNear
	Index     *index.IndexEntry
	Bounds    *IndexBounds
	Direction int // 1 forward, -1 reverse

	// Residual filter applied at this node
	Filter *Predicate

	// Sort / Limit / Skip
	SortPattern *document.Document
	Count       int64

	// Projection
	ProjectedFields []string
	Covered         bool

	// CollectionScan
	ClusteredMin *document.Document
	ClusteredMax *document.Document

	// TextMatch / GeoNear: the mandatory leaf the scan satisfies, carrying
	// the search string or query geometry.
	Leaf *Predicate
}

// Solution is a complete access plan plus the cache blob that lets the plan
// be rebuilt without re-enumeration.
type Solution struct {
	Root      *PlanNode
	CacheData *SolutionCacheData
}

// Explain renders the plan tree for diagnostics, shaped for JSON output.
func (s *Solution) Explain() map[string]interface{} {
	return explainNode(s.Root)
}

func explainNode(n *PlanNode) map[string]interface{} {
	out := map[string]interface{}{"stage": n.Kind.String()}
	if n.Index != nil {
		out["indexName"] = n.Index.Name
		out["keyPattern"] = n.Index.KeyPattern.String()
		out["direction"] = directionName(n.Direction)
	}
	if n.Bounds != nil {
		out["indexBounds"] = n.Bounds.String()
	}
	if n.Filter != nil {
		out["filter"] = n.Filter.String()
	}
	if n.SortPattern != nil {
		out["sortPattern"] = n.SortPattern.String()
	}
	if n.Leaf != nil {
		switch n.Leaf.Kind {
		case PredicateText:
			out["search"] = n.Leaf.Search
		case PredicateGeoNear:
			out["near"] = n.Leaf.Near
			out["spherical"] = n.Leaf.Spherical
		}
	}
	if n.Count != 0 {
		out["count"] = n.Count
	}
	if len(n.ProjectedFields) > 0 {
		out["fields"] = n.ProjectedFields
		out["covered"] = n.Covered
	}
	if len(n.Children) > 0 {
		kids := make([]map[string]interface{}, len(n.Children))
		for i, c := range n.Children {
			kids[i] = explainNode(c)
		}
		out["inputStages"] = kids
	}
	return out
}

func directionName(d int) string {
	if d < 0 {
		return "backward"
	}
	return "forward"
}

// SolutionBuilder converts tagged trees into access-plan trees and appends
// the sort/covering analysis stages.
type SolutionBuilder struct{}

// BuildFromAssignment builds a solution for one enumerated assignment, or
// returns nil when the assignment cannot produce a coherent plan (which is
// not an error; the candidate is simply dropped).
func (sb *SolutionBuilder) BuildFromAssignment(q *CanonicalQuery, indices candidateIndexes, a Assignment) *Solution {
	if len(a) == 0 {
		return nil
	}
	root := sb.buildAccess(q.Filter, indices, a)
	if root == nil {
		return nil
	}
	root = sb.analyze(q, root)
	if root == nil {
		return nil
	}
	return &Solution{Root: root, CacheData: cacheDataFromAssignment(q.Filter, indices, a)}
}

// buildAccess builds the index-access portion: per-index scans combined with
// AND/OR nodes, wrapped in a Fetch carrying the residual filter.
func (sb *SolutionBuilder) buildAccess(filter *Predicate, indices candidateIndexes, a Assignment) *PlanNode {
	if filter.Kind == PredicateOr {
		var branches []*PlanNode
		for _, child := range filter.Children {
			b := sb.buildAccess(child, indices, a)
			if b == nil {
				return nil
			}
			branches = append(branches, b)
		}
		return &PlanNode{Kind: NodeOr, Children: branches}
	}

	byIndex := map[int][]*Predicate{}
	var residual []*Predicate
	collect := func(n *Predicate) {
		if tag := a[n]; tag != nil {
			byIndex[tag.Index] = append(byIndex[tag.Index], n)
		} else {
			residual = append(residual, n)
		}
	}
	if filter.Kind == PredicateAnd {
		for _, c := range filter.Children {
			if c.IsLeaf() {
				collect(c)
			} else {
				residual = append(residual, c)
			}
		}
	} else {
		collect(filter)
	}
	if len(byIndex) == 0 {
		return nil
	}

	var scans []*PlanNode
	for i := 0; i < len(indices); i++ {
		leaves, ok := byIndex[i]
		if !ok {
			continue
		}
		scans = append(scans, sb.buildScan(indices[i], leaves))
	}

	var access *PlanNode
	if len(scans) == 1 {
		access = scans[0]
	} else {
		kind := NodeAndHash
		if allPointScans(scans) {
			kind = NodeAndSorted
		}
		access = &PlanNode{Kind: kind, Children: scans}
	}

	fetch := &PlanNode{Kind: NodeFetch, Children: []*PlanNode{access}}
	if len(residual) > 0 {
		fetch.Filter = And(residual...)
	}
	return fetch
}

func (sb *SolutionBuilder) buildScan(e *index.IndexEntry, leaves []*Predicate) *PlanNode {
	for _, n := range leaves {
		switch n.Kind {
		case PredicateText:
			return &PlanNode{Kind: NodeTextMatch, Index: e, Direction: 1, Leaf: n}
		case PredicateGeoNear:
			return &PlanNode{Kind: NodeGeoNear, Index: e, Direction: 1, Leaf: n}
		}
	}
	return &PlanNode{
		Kind:      NodeIndexScan,
		Index:     e,
		Bounds:    buildBounds(e, leaves),
		Direction: 1,
	}
}

func allPointScans(scans []*PlanNode) bool {
	for _, s := range scans {
		if s.Bounds == nil || s.Bounds.IsSinglePointPrefix() != len(s.Bounds.Fields) {
			return false
		}
	}
	return true
}

// analyze appends sort, covering-projection, skip and limit stages to an
// access tree, in that order.
func (sb *SolutionBuilder) analyze(q *CanonicalQuery, root *PlanNode) *PlanNode {
	root = sb.analyzeSort(q, root)
	root = sb.analyzeProjection(q, root)
	if q.Skip > 0 {
		root = &PlanNode{Kind: NodeSkip, Count: q.Skip, Children: []*PlanNode{root}}
	}
	if q.Limit > 0 {
		root = &PlanNode{Kind: NodeLimit, Count: q.Limit, Children: []*PlanNode{root}}
	}
	return root
}

// analyzeSort either proves the index delivers the requested order (possibly
// by reversing the scan) or inserts a blocking Sort stage.
func (sb *SolutionBuilder) analyzeSort(q *CanonicalQuery, root *PlanNode) *PlanNode {
	if q.Sort == nil || q.Sort.Len() == 0 {
		return root
	}
	if scan := singleIndexScan(root); scan != nil {
		switch providesSort(scan.Index, q.Sort) {
		case 1:
			return root
		case -1:
			scan.Direction = -1
			return root
		}
	}
	sort := &PlanNode{Kind: NodeSort, SortPattern: q.Sort, Children: []*PlanNode{root}}
	if q.Limit > 0 {
		sort.Count = q.Limit + q.Skip // top-k bound for the blocking sort
	}
	return sort
}

// singleIndexScan returns the plan's only index scan if the plan is a
// linear chain over one, else nil.
func singleIndexScan(n *PlanNode) *PlanNode {
	switch n.Kind {
	case NodeIndexScan:
		return n
	case NodeFetch:
		return singleIndexScan(n.Children[0])
	}
	return nil
}

// providesSort reports whether the index's key pattern delivers the sort:
// 1 forward, -1 reversed, 0 not at all. Multikey indexes never provide a
// sort, since one document surfaces at several positions.
func providesSort(e *index.IndexEntry, sort *document.Document) int {
	if e == nil || e.Multikey || e.Type != index.IndexTypeBTree && e.Type != index.IndexTypeWildcard {
		return 0
	}
	keys := e.KeyPattern.Keys()
	want := sort.Keys()
	if len(want) > len(keys) {
		return 0
	}
	dir := 0
	for i, f := range want {
		if keys[i] != f {
			return 0
		}
		iv, _ := e.KeyPattern.GetValue(keys[i])
		sv, _ := sort.GetValue(f)
		id, sd := patternDir(iv), patternDir(sv)
		agree := 1
		if id != sd {
			agree = -1
		}
		if dir == 0 {
			dir = agree
		} else if dir != agree {
			return 0
		}
	}
	if dir == 0 {
		dir = 1
	}
	return dir
}

func patternDir(v document.Value) int {
	if d, ok := v.AsDouble(); ok && d < 0 {
		return -1
	}
	return 1
}

// analyzeProjection drops the Fetch when the index alone covers the
// projection and all residual filtering, attaching a covered Projection
// stage instead.
func (sb *SolutionBuilder) analyzeProjection(q *CanonicalQuery, root *PlanNode) *PlanNode {
	if len(q.Projection) == 0 {
		return root
	}
	proj := &PlanNode{Kind: NodeProjection, ProjectedFields: q.Projection, Children: []*PlanNode{root}}
	if root.Kind == NodeFetch && root.Filter == nil {
		scan := root.Children[0]
		if scan.Kind == NodeIndexScan && coversFields(scan.Index, q.Projection) {
			proj.Children = []*PlanNode{scan}
			proj.Covered = true
		}
	}
	return proj
}

func coversFields(e *index.IndexEntry, fields []string) bool {
	if e.Multikey {
		return false
	}
	for _, f := range fields {
		if e.PositionOf(f) < 0 {
			return false
		}
	}
	return true
}

// BuildCollectionScan builds the fallback scan, optionally bounded by
// clustered-collection min/max keys.
func (sb *SolutionBuilder) BuildCollectionScan(q *CanonicalQuery, direction int) *Solution {
	root := &PlanNode{
		Kind:         NodeCollectionScan,
		Direction:    direction,
		Filter:       q.Filter,
		ClusteredMin: q.Min,
		ClusteredMax: q.Max,
	}
	node := sb.analyze(q, root)
	return &Solution{
		Root:      node,
		CacheData: &SolutionCacheData{Type: CacheEntryCollScan, Direction: direction},
	}
}

// BuildWholeIndexScan builds a full scan of one index, used for hinted
// indexes, sort-satisfying scans and covering scans that have no predicate
// bounds.
func (sb *SolutionBuilder) BuildWholeIndexScan(q *CanonicalQuery, e *index.IndexEntry, direction int) *Solution {
	scan := &PlanNode{
		Kind:      NodeIndexScan,
		Index:     e,
		Bounds:    buildBounds(e, nil),
		Direction: direction,
	}
	fetch := &PlanNode{Kind: NodeFetch, Children: []*PlanNode{scan}}
	if q.Filter != nil {
		fetch.Filter = q.Filter
	}
	root := sb.analyze(q, fetch)
	return &Solution{
		Root: root,
		CacheData: &SolutionCacheData{
			Type:      CacheEntryWholeIxscan,
			IndexName: e.Name,
			Direction: direction,
		},
	}
}

// BuildColumnScan builds a column-store scan over the referenced fields.
func (sb *SolutionBuilder) BuildColumnScan(q *CanonicalQuery, e *index.IndexEntry) *Solution {
	fields := q.Filter.Fields()
	fields = append(fields, q.Projection...)
	root := &PlanNode{
		Kind:            NodeColumnScan,
		Index:           e,
		Filter:          q.Filter,
		ProjectedFields: dedupe(fields),
	}
	return &Solution{Root: sb.analyze(q, root)}
}

func dedupe(in []string) []string {
	seen := map[string]bool{}
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func (n *PlanNode) String() string {
	if n.Index != nil {
		return fmt.Sprintf("%s(%s)", n.Kind, n.Index.Name)
	}
	return n.Kind.String()
}
