package aggregation

import (
	"io"
	"log/slog"

	"github.com/corvusdb/corvus/pkg/document"
	"github.com/corvusdb/corvus/pkg/index"
	"github.com/corvusdb/corvus/pkg/query"
)

// A $sample this far under the collection size runs on a storage-level
// random cursor instead of materializing the whole input.
const randomCursorSampleRatio = 20

// ExecutionPlan is the orchestrator's output: a winning access plan for the
// pipeline's leading query part, the stage prefix lowered into the engine,
// and the remainder the pipeline executor runs.
type ExecutionPlan struct {
	Query      *query.CanonicalQuery
	Candidates []*query.Solution
	Winner     *query.Solution

	// RandomSampleSize, when positive, replaces the access plan with a
	// storage random cursor yielding this many documents.
	RandomSampleSize int64

	// Pushed is the stage prefix the engine executes against the plan.
	Pushed *Pipeline
	// Remainder is executed by the pipeline layer over the engine's output.
	Remainder *Pipeline
}

// Orchestrator prepares a pipeline for execution: it optimizes the stage
// list, extracts the leading query-shaped prefix into a canonical query for
// the planner, and selects the engine pushdown prefix of what remains.
type Orchestrator struct {
	planner  *query.QueryPlanner
	pushdown PushdownOptions
	log      *slog.Logger
}

// NewOrchestrator wires the orchestrator to a planner. A nil logger disables
// tracing.
func NewOrchestrator(planner *query.QueryPlanner, pushdown PushdownOptions, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Orchestrator{planner: planner, pushdown: pushdown, log: log}
}

// PlanPipeline plans the pipeline against a collection. The pipeline is
// consumed: extracted stages leave it and the rest is handed to the plan.
func (o *Orchestrator) PlanPipeline(p *Pipeline, catalog *index.CatalogView, info query.CollectionInfo) (*ExecutionPlan, error) {
	p.Optimize()

	plan := &ExecutionPlan{Query: &query.CanonicalQuery{}}

	// A leading $sample small enough relative to the collection runs on a
	// random cursor; the stage itself disappears.
	if s, ok := p.At(0).(*SampleStage); ok &&
		info.DocumentCount > 0 && s.n*randomCursorSampleRatio <= info.DocumentCount {
		plan.RandomSampleSize = s.n
		p.PopFront()
		o.log.Debug("sample lowered to random cursor", "size", s.n)
	}

	o.extractQueryPrefix(p, plan.Query)

	deps := p.Dependencies()
	if !deps.NeedWholeDocument {
		plan.Query.Projection = deps.SortedFields()
	}

	if plan.RandomSampleSize == 0 {
		solutions, err := o.planner.Plan(plan.Query, catalog, info)
		if err != nil {
			return nil, err
		}
		plan.Candidates = solutions
		plan.Winner = solutions[0]
	}

	n := SelectPushdownPrefix(p, o.pushdown)
	pushed := make([]Stage, 0, n)
	for i := 0; i < n; i++ {
		pushed = append(pushed, p.PopFront())
	}
	plan.Pushed = NewPipeline(pushed, o.log)
	plan.Remainder = p
	return plan, nil
}

// extractQueryPrefix pulls the leading query-shaped stages off the pipeline
// into the canonical query: $geoNear or $search, then $match, then the
// $sort/$limit/$skip run the optimizer normalized.
func (o *Orchestrator) extractQueryPrefix(p *Pipeline, cq *query.CanonicalQuery) {
	switch s := p.At(0).(type) {
	case *GeoNearStage:
		leaf := query.GeoNear(s.key, s.spherical)
		leaf.Near = s.near
		leaf.MaxDistance = s.maxDistance
		leaf.DistanceField = s.distanceField
		cq.Filter = leaf
		if s.filter != nil {
			cq.Filter = query.And(leaf, s.filter)
		}
		p.PopFront()
	case *SearchStage:
		cq.HasSearchPrefix = true
		cq.Filter = query.Text(s.query)
		p.PopFront()
	}

	if m, ok := p.At(0).(*MatchStage); ok {
		if cq.Filter == nil {
			cq.Filter = m.predicate
		} else {
			cq.Filter = query.And(cq.Filter, m.predicate)
		}
		p.PopFront()
	}

	if s, ok := p.At(0).(*SortStage); ok {
		cq.Sort = s.pattern
		if s.limit > 0 {
			cq.Limit = s.limit
		}
		p.PopFront()
	}

	// Leading $limit/$skip compose into the query's skip-then-limit window.
	// The optimizer leaves these limit-first, but composition handles either
	// order.
	for {
		switch s := p.At(0).(type) {
		case *LimitStage:
			if cq.Limit == 0 || s.n < cq.Limit {
				cq.Limit = s.n
			}
			p.PopFront()
		case *SkipStage:
			if cq.Limit > 0 {
				if s.n >= cq.Limit {
					// The skip would swallow the whole window; leave it in
					// the pipeline rather than model an empty query.
					return
				}
				cq.Limit -= s.n
			}
			cq.Skip += s.n
			p.PopFront()
		default:
			return
		}
	}
}

// ExplainPlan renders the execution plan for an explain response.
func (o *Orchestrator) ExplainPlan(plan *ExecutionPlan) *document.Document {
	out := document.NewDocument()
	if plan.RandomSampleSize > 0 {
		out.Set("randomCursor", document.Int64(plan.RandomSampleSize))
	}
	if plan.Winner != nil {
		out.Set("winningPlan", document.String(plan.Winner.Root.String()))
	}
	pushed := make([]document.Value, 0, plan.Pushed.Len())
	for _, s := range plan.Pushed.Serialize() {
		pushed = append(pushed, document.Object(s))
	}
	out.Set("pushedStages", document.Array(pushed))
	rest := make([]document.Value, 0, plan.Remainder.Len())
	for _, s := range plan.Remainder.Serialize() {
		rest = append(rest, document.Object(s))
	}
	out.Set("pipeline", document.Array(rest))
	return out
}
