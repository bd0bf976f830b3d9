package query

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/corvusdb/corvus/pkg/document"
	"github.com/corvusdb/corvus/pkg/index"
)

// Hint restricts planning to one index or forces a scan direction.
type Hint struct {
	IndexName  string
	KeyPattern *document.Document
	// Natural forces a collection scan: 1 forward, -1 reverse.
	Natural int
}

// CanonicalQuery is the planner's view of one query: normalized predicate,
// sort, projection and planning modifiers.
type CanonicalQuery struct {
	Filter     *Predicate
	Sort       *document.Document
	Projection []string
	Hint       *Hint
	Min        *document.Document
	Max        *document.Document
	Skip       int64
	Limit      int64
	Tailable   bool
	Collation  string

	// HasSearchPrefix is set by the search collaborator when the query's
	// attached pipeline begins with a search stage.
	HasSearchPrefix bool
}

// CollectionInfo carries the collection-level facts planning consults.
type CollectionInfo struct {
	DocumentCount int64
	SizeBytes     int64
	AvgDocBytes   int64
	// ClusteredKey is the clustered-collection key pattern, nil for
	// ordinary collections.
	ClusteredKey *document.Document
}

// PlannerOptions are the runtime-tunable planning knobs.
type PlannerOptions struct {
	MaxIndexedSolutions int
	IndexIntersection   bool
	NoTableScan         bool

	// Column-scan eligibility heuristics. MaxFields is a hard gate; the
	// remaining three are OR-ed.
	ColumnMaxFields              int
	ColumnMaxFilterFields        int
	ColumnMinCollectionSizeBytes int64
	ColumnMinAvgDocSizeBytes     int64
}

// DefaultPlannerOptions returns the default knobs.
func DefaultPlannerOptions() PlannerOptions {
	return PlannerOptions{
		MaxIndexedSolutions:          64,
		ColumnMaxFields:              12,
		ColumnMaxFilterFields:        3,
		ColumnMinCollectionSizeBytes: 20 << 20,
		ColumnMinAvgDocSizeBytes:     1 << 10,
	}
}

// QueryPlanner composes the predicate indexer, plan enumerator and solution
// builder into the full planning state machine.
type QueryPlanner struct {
	opts    PlannerOptions
	cache   *PlanCache
	builder SolutionBuilder
	log     *slog.Logger
}

// NewQueryPlanner creates a planner. The cache may be shared across
// planners; a nil logger disables planner tracing.
func NewQueryPlanner(opts PlannerOptions, cache *PlanCache, log *slog.Logger) *QueryPlanner {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &QueryPlanner{opts: opts, cache: cache, log: log}
}

// Plan produces the candidate solutions for a query against a catalog
// snapshot. Multiple solutions mean the caller should multi-plan and rank;
// a single solution is definitive.
func (p *QueryPlanner) Plan(q *CanonicalQuery, catalog *index.CatalogView, info CollectionInfo) ([]*Solution, error) {
	// Tailable cursors read the collection in natural order only.
	if q.Tailable {
		p.log.Debug("planner: tailable, forcing collection scan")
		return []*Solution{p.builder.BuildCollectionScan(q, 1)}, nil
	}

	hinted, direct, err := p.resolveHint(q, catalog, info)
	if err != nil {
		return nil, err
	}
	if direct != nil {
		return []*Solution{direct}, nil
	}

	fields := q.Filter.Fields()
	var candidates candidateIndexes
	if hinted != nil {
		candidates = index.ExpandIndexes(fields, []*index.IndexEntry{hinted}, true)
	} else {
		candidates = index.ExpandIndexes(fields, catalog.FindRelevantIndices(fields), false)
	}
	for _, e := range candidates {
		p.log.Debug("planner: relevant index", "index", e.Name)
	}

	tags := NewTagMap()
	indexer := NewPredicateIndexer(q.Collation)
	indexer.RateIndices(q.Filter, candidates, tags)
	indexer.StripInvalidAssignments(q.Filter, candidates, tags)
	if len(q.Projection) == 0 && q.Sort == nil && !p.hasMandatoryStage(q) {
		indexer.StripUnneededAssignments(q.Filter, candidates, tags)
	}

	if err := p.checkMandatoryIndexes(q, catalog, tags); err != nil {
		return nil, err
	}

	enum := NewPlanEnumerator(p.opts.MaxIndexedSolutions, p.opts.IndexIntersection)
	var assignments []Assignment
	if q.Filter != nil {
		assignments = enum.Enumerate(q.Filter, candidates, tags)
	}
	var solutions []*Solution
	for _, a := range assignments {
		if s := p.builder.BuildFromAssignment(q, candidates, a); s != nil {
			p.log.Debug("planner: adding solution", "root", s.Root.String())
			solutions = append(solutions, s)
		}
	}

	// A hinted index wins outright when it tagged a solution; otherwise it
	// degrades to a forced whole-index scan, except for wildcard indexes.
	if hinted != nil {
		if len(solutions) > 0 {
			return solutions, nil
		}
		if hinted.IsWildcard() {
			return nil, fmt.Errorf("%w: hinted wildcard index %s cannot answer the query",
				ErrNoQueryExecutionPlans, hinted.Name)
		}
		return []*Solution{p.builder.BuildWholeIndexScan(q, hinted, 1)}, nil
	}

	solutions = p.appendSortAndCoveringScans(q, catalog, solutions)

	if len(solutions) == 0 {
		if s := p.tryColumnScan(q, catalog, info); s != nil {
			return []*Solution{s}, nil
		}
		if q.HasSearchPrefix {
			return []*Solution{{Root: &PlanNode{Kind: NodeSearch}}}, nil
		}
	}

	if len(solutions) == 0 {
		if p.opts.NoTableScan {
			return nil, fmt.Errorf("%w: no indexed plan and notablescan is set",
				ErrNoQueryExecutionPlans)
		}
		return []*Solution{p.builder.BuildCollectionScan(q, 1)}, nil
	}
	return solutions, nil
}

// resolveHint handles $natural, clustered-key and columnar hints directly
// and narrows the candidate set for ordinary index hints.
func (p *QueryPlanner) resolveHint(q *CanonicalQuery, catalog *index.CatalogView, info CollectionInfo) (*index.IndexEntry, *Solution, error) {
	h := q.Hint
	if h == nil {
		return nil, nil, nil
	}
	if h.Natural != 0 {
		return nil, p.builder.BuildCollectionScan(q, h.Natural), nil
	}
	if h.KeyPattern != nil && info.ClusteredKey != nil && patternsEqual(h.KeyPattern, info.ClusteredKey) {
		// Clustered-key hints bypass indexed planning; min/max become scan
		// bounds on the clustered scan.
		return nil, p.builder.BuildCollectionScan(q, 1), nil
	}

	var matches []*index.IndexEntry
	switch {
	case h.IndexName != "":
		if e := catalog.FindByName(h.IndexName); e != nil {
			matches = append(matches, e)
		}
	case h.KeyPattern != nil:
		matches = catalog.FindByKeyPattern(h.KeyPattern)
	default:
		return nil, nil, fmt.Errorf("%w: hint specifies neither name nor key pattern", ErrBadHint)
	}
	if len(matches) == 0 {
		return nil, nil, fmt.Errorf("%w: %v", ErrIndexNotFound, h)
	}
	if len(matches) > 1 {
		return nil, nil, fmt.Errorf("%w: hint matched %d indexes", ErrBadHint, len(matches))
	}
	if matches[0].Type == index.IndexTypeColumnar {
		return nil, p.builder.BuildColumnScan(q, matches[0]), nil
	}
	return matches[0], nil, nil
}

func (p *QueryPlanner) hasMandatoryStage(q *CanonicalQuery) bool {
	return q.Filter.FirstOfKind(PredicateGeoNear) != nil ||
		q.Filter.FirstOfKind(PredicateText) != nil
}

// checkMandatoryIndexes enforces the $geoNear and $text index rules: a
// $geoNear with no rated geo index fails; $text requires exactly one text
// index and a rating on it.
func (p *QueryPlanner) checkMandatoryIndexes(q *CanonicalQuery, catalog *index.CatalogView, tags *TagMap) error {
	if geo := q.Filter.FirstOfKind(PredicateGeoNear); geo != nil {
		if tags.Relevant(geo) == nil {
			return fmt.Errorf("%w: no 2d/2dsphere index for $geoNear", ErrNoQueryExecutionPlans)
		}
	}
	if text := q.Filter.FirstOfKind(PredicateText); text != nil {
		count := 0
		for _, e := range catalog.Entries() {
			if e.Type == index.IndexTypeText {
				count++
			}
		}
		if count != 1 {
			return fmt.Errorf("%w: $text requires exactly one text index, found %d",
				ErrNoQueryExecutionPlans, count)
		}
		if tags.Relevant(text) == nil {
			return fmt.Errorf("%w: text index cannot satisfy $text predicate",
				ErrNoQueryExecutionPlans)
		}
	}
	return nil
}

// appendSortAndCoveringScans adds whole-index scans that exist purely to
// satisfy the requested sort order or to cover the projection without
// fetching, even when tagged solutions already exist.
func (p *QueryPlanner) appendSortAndCoveringScans(q *CanonicalQuery, catalog *index.CatalogView, solutions []*Solution) []*Solution {
	for _, e := range catalog.Entries() {
		if e.Sparse || e.Collation != q.Collation || e.IsWildcard() {
			continue
		}
		if e.PartialFilter != nil {
			continue
		}
		if q.Sort != nil && q.Sort.Len() > 0 {
			if dir := providesSort(e, q.Sort); dir != 0 {
				p.log.Debug("planner: whole-index sort scan", "index", e.Name, "direction", dir)
				solutions = append(solutions, p.builder.BuildWholeIndexScan(q, e, dir))
				continue
			}
		}
		if len(q.Projection) > 0 && coversFields(e, q.Projection) && coversFields(e, q.Filter.Fields()) {
			p.log.Debug("planner: whole-index covering scan", "index", e.Name)
			solutions = append(solutions, p.builder.BuildWholeIndexScan(q, e, 1))
		}
	}
	return solutions
}

// tryColumnScan applies the column-store eligibility heuristics: the
// referenced-field cap is a hard gate, then any of the filter-count or
// collection-size signals qualifies.
func (p *QueryPlanner) tryColumnScan(q *CanonicalQuery, catalog *index.CatalogView, info CollectionInfo) *Solution {
	var columnar *index.IndexEntry
	for _, e := range catalog.Entries() {
		if e.Type == index.IndexTypeColumnar {
			columnar = e
			break
		}
	}
	if columnar == nil {
		return nil
	}
	referenced := len(q.Filter.Fields()) + len(q.Projection)
	if len(q.Projection) == 0 || referenced > p.opts.ColumnMaxFields {
		return nil
	}
	filterFields := len(q.Filter.Fields())
	if filterFields <= p.opts.ColumnMaxFilterFields ||
		info.SizeBytes >= p.opts.ColumnMinCollectionSizeBytes ||
		info.AvgDocBytes >= p.opts.ColumnMinAvgDocSizeBytes {
		p.log.Debug("planner: column scan eligible", "index", columnar.Name)
		return p.builder.BuildColumnScan(q, columnar)
	}
	return nil
}

// PlanFromCache rebuilds a solution from a cached entry without
// re-enumeration. It fails with ErrNoQueryExecutionPlans when the cached
// indexes no longer resolve against the current catalog.
func (p *QueryPlanner) PlanFromCache(q *CanonicalQuery, catalog *index.CatalogView, data *SolutionCacheData) (*Solution, error) {
	switch data.Type {
	case CacheEntryCollScan:
		return p.builder.BuildCollectionScan(q, data.Direction), nil
	case CacheEntryWholeIxscan:
		e := catalog.FindByName(data.IndexName)
		if e == nil {
			return nil, fmt.Errorf("%w: cached index %s no longer exists",
				ErrNoQueryExecutionPlans, data.IndexName)
		}
		return p.builder.BuildWholeIndexScan(q, e, data.Direction), nil
	case CacheEntryUsesTags:
		fields := q.Filter.Fields()
		candidates := index.ExpandIndexes(fields, catalog.FindRelevantIndices(fields), false)
		a := Assignment{}
		if !resolveAssignment(q.Filter, data.Tree, candidates, a) {
			return nil, fmt.Errorf("%w: cached plan no longer resolves", ErrNoQueryExecutionPlans)
		}
		s := p.builder.BuildFromAssignment(q, candidates, a)
		if s == nil {
			return nil, fmt.Errorf("%w: cached plan failed to rebuild", ErrNoQueryExecutionPlans)
		}
		return s, nil
	}
	return nil, fmt.Errorf("%w: unknown cache entry type %d", ErrNoQueryExecutionPlans, data.Type)
}

// PlanSubqueries plans each branch of a top-level OR independently,
// returning the per-branch winning solutions. Branches may come from the
// plan cache; rankSolutions picks a winner when a branch multi-plans
// (ranking is the caller's collaborator).
func (p *QueryPlanner) PlanSubqueries(q *CanonicalQuery, catalog *index.CatalogView, info CollectionInfo,
	rankSolutions func([]*Solution) *Solution) ([]*Solution, error) {
	if q.Filter.Kind != PredicateOr {
		return nil, fmt.Errorf("%w: subplanning requires a top-level OR", ErrNoQueryExecutionPlans)
	}
	var winners []*Solution
	for _, branch := range q.Filter.Children {
		sub := &CanonicalQuery{Filter: branch, Collation: q.Collation}
		var winner *Solution
		if p.cache != nil {
			if data, ok := p.cache.Get(CacheKey(sub)); ok {
				if s, err := p.PlanFromCache(sub, catalog, data); err == nil {
					winner = s
				}
			}
		}
		if winner == nil {
			candidates, err := p.Plan(sub, catalog, info)
			if err != nil {
				return nil, fmt.Errorf("OR branch %s: %w", branch, err)
			}
			if len(candidates) == 1 {
				winner = candidates[0]
			} else {
				winner = rankSolutions(candidates)
			}
			if winner == nil {
				return nil, fmt.Errorf("%w: OR branch %s has no winner",
					ErrNoQueryExecutionPlans, branch)
			}
			if p.cache != nil && winner.CacheData != nil {
				p.cache.Put(CacheKey(sub), winner.CacheData)
			}
		}
		winners = append(winners, winner)
	}
	return winners, nil
}

// ChoosePlanForSubqueries composes the per-branch winners back into one
// plan over the original OR tree by re-applying each branch's winning index
// assignment. A branch whose winner is a clustered collection scan is
// allowed and collapses the whole query to a collection scan.
func (p *QueryPlanner) ChoosePlanForSubqueries(q *CanonicalQuery, catalog *index.CatalogView, info CollectionInfo, winners []*Solution) (*Solution, error) {
	fields := q.Filter.Fields()
	candidates := index.ExpandIndexes(fields, catalog.FindRelevantIndices(fields), false)
	a := Assignment{}
	for i, w := range winners {
		if w.CacheData == nil || w.CacheData.Type != CacheEntryUsesTags {
			if w.CacheData != nil && w.CacheData.Type == CacheEntryCollScan && info.ClusteredKey != nil {
				return p.builder.BuildCollectionScan(q, 1), nil
			}
			return nil, fmt.Errorf("%w: OR branch %d winner is not an indexed plan",
				ErrNoQueryExecutionPlans, i)
		}
		if !resolveAssignment(q.Filter.Children[i], w.CacheData.Tree, candidates, a) {
			return nil, fmt.Errorf("%w: OR branch %d assignment no longer resolves",
				ErrNoQueryExecutionPlans, i)
		}
	}
	s := p.builder.BuildFromAssignment(q, candidates, a)
	if s == nil {
		return nil, fmt.Errorf("%w: composite OR plan failed to build", ErrNoQueryExecutionPlans)
	}
	return s, nil
}

// Cache exposes the planner's cache for the inspection surface.
func (p *QueryPlanner) Cache() *PlanCache { return p.cache }

func patternsEqual(a, b *document.Document) bool {
	ka, kb := a.Keys(), b.Keys()
	if len(ka) != len(kb) {
		return false
	}
	for i := range ka {
		if ka[i] != kb[i] {
			return false
		}
		va, _ := a.GetValue(ka[i])
		vb, _ := b.GetValue(kb[i])
		if va.Compare(vb) != 0 {
			return false
		}
	}
	return true
}
