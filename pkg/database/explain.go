package database

import (
	"fmt"
	"strings"

	"github.com/corvusdb/corvus/pkg/aggregation"
	"github.com/corvusdb/corvus/pkg/query"
)

// Verbosity selects how much an explain runs: plan selection only, or plan
// selection plus a counted execution.
type Verbosity int

const (
	VerbosityQueryPlanner Verbosity = iota
	VerbosityExecutionStats
)

// ParseVerbosity maps the wire names onto the enum. Empty input selects
// queryPlanner.
func ParseVerbosity(s string) (Verbosity, error) {
	switch strings.TrimSpace(s) {
	case "", "queryPlanner":
		return VerbosityQueryPlanner, nil
	case "executionStats":
		return VerbosityExecutionStats, nil
	}
	return 0, fmt.Errorf("unknown explain verbosity %q", s)
}

// ExplainFind plans a query and renders the outcome, executing it when the
// verbosity asks for stats.
func (c *Collection) ExplainFind(q *query.CanonicalQuery, verbosity Verbosity) (map[string]interface{}, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	solutions, err := c.planner.Plan(q, c.catalog.Snapshot(), c.Info())
	if err != nil {
		return nil, err
	}
	solutions = c.rankSolutions(solutions)

	rejected := make([]interface{}, 0, len(solutions)-1)
	for _, s := range solutions[1:] {
		rejected = append(rejected, s.Explain())
	}
	out := map[string]interface{}{
		"queryPlanner": map[string]interface{}{
			"namespace":     c.name,
			"winningPlan":   solutions[0].Explain(),
			"rejectedPlans": rejected,
		},
	}

	if verbosity >= VerbosityExecutionStats {
		exec := newExecutor(c)
		pairs, err := exec.run(solutions[0].Root)
		if err != nil {
			return nil, err
		}
		out["executionStats"] = map[string]interface{}{
			"nReturned":         int64(len(pairs)),
			"totalDocsExamined": exec.stats.DocsExamined,
			"totalKeysExamined": exec.stats.KeysExamined,
		}
	}
	return out, nil
}

// ExplainAggregate plans a pipeline and renders the split between the access
// plan, the engine-pushed prefix and the remaining stages. The pipeline is
// consumed.
func (c *Collection) ExplainAggregate(p *aggregation.Pipeline, verbosity Verbosity) (map[string]interface{}, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	plan, err := c.orchestrator.PlanPipeline(p, c.catalog.Snapshot(), c.Info())
	if err != nil {
		return nil, err
	}

	planner := map[string]interface{}{"namespace": c.name}
	if plan.RandomSampleSize > 0 {
		planner["randomCursor"] = plan.RandomSampleSize
	}
	if plan.Winner != nil {
		planner["winningPlan"] = plan.Winner.Explain()
	}
	planner["pushedStages"] = plan.Pushed.Serialize()
	planner["pipeline"] = plan.Remainder.Serialize()
	out := map[string]interface{}{"queryPlanner": planner}

	if verbosity >= VerbosityExecutionStats {
		docs, stats, err := c.executePlan(plan)
		if err != nil {
			return nil, err
		}
		if docs, err = plan.Pushed.Execute(docs); err != nil {
			return nil, err
		}
		if docs, err = plan.Remainder.Execute(docs); err != nil {
			return nil, err
		}
		out["executionStats"] = map[string]interface{}{
			"nReturned":         int64(len(docs)),
			"totalDocsExamined": stats.DocsExamined,
			"totalKeysExamined": stats.KeysExamined,
		}
	}
	return out, nil
}
