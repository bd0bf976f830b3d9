package aggregation

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/corvusdb/corvus/pkg/document"
)

// Pipeline is an ordered list of stages with exclusive ownership: all
// structural edits go through the index-based methods below, so passes never
// hold references into the list across a mutation.
type Pipeline struct {
	stages []Stage
	log    *slog.Logger
}

// NewPipeline wraps a stage list. A nil logger disables optimizer tracing.
func NewPipeline(stages []Stage, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Pipeline{stages: stages, log: log}
}

// Len returns the number of stages.
func (p *Pipeline) Len() int { return len(p.stages) }

// At returns the stage at position i, or nil when out of range.
func (p *Pipeline) At(i int) Stage {
	if i < 0 || i >= len(p.stages) {
		return nil
	}
	return p.stages[i]
}

// Stages returns the stage list. Callers must not mutate it.
func (p *Pipeline) Stages() []Stage { return p.stages }

// Insert places a stage at position i.
func (p *Pipeline) Insert(i int, s Stage) {
	p.stages = append(p.stages, nil)
	copy(p.stages[i+1:], p.stages[i:])
	p.stages[i] = s
}

// Erase removes the stage at position i.
func (p *Pipeline) Erase(i int) {
	p.stages = append(p.stages[:i], p.stages[i+1:]...)
}

// PopFront removes and returns the first stage.
func (p *Pipeline) PopFront() Stage {
	if len(p.stages) == 0 {
		return nil
	}
	s := p.stages[0]
	p.stages = p.stages[1:]
	return s
}

// Append adds a stage at the end.
func (p *Pipeline) Append(s Stage) {
	p.stages = append(p.stages, s)
}

// Swap exchanges the stages at positions i and j.
func (p *Pipeline) Swap(i, j int) {
	p.stages[i], p.stages[j] = p.stages[j], p.stages[i]
}

// Validate checks position requirements.
func (p *Pipeline) Validate() error {
	for i, s := range p.stages {
		switch s.Constraints().Position {
		case PositionFirst:
			if i != 0 {
				return fmt.Errorf("%w: %s must be the first stage", ErrInvalidStage, s.Kind())
			}
		case PositionLast:
			if i != len(p.stages)-1 {
				return fmt.Errorf("%w: %s must be the last stage", ErrInvalidStage, s.Kind())
			}
		}
	}
	return nil
}

// Optimize runs stage swaps and stage-local rewrites to a fixed point. Every
// rewrite restarts the scan, so a pass never observes positions invalidated
// by its own edit.
func (p *Pipeline) Optimize() {
	for changed := true; changed; {
		changed = false
		for i := 0; i < len(p.stages); i++ {
			if p.optimizeAt(i) {
				changed = true
				break
			}
		}
	}
}

func (p *Pipeline) optimizeAt(i int) bool {
	if p.trySwapBefore(i) {
		return true
	}
	return p.stages[i].OptimizeAt(i, p)
}

// trySwapBefore attempts to move the stage after position i to before it,
// when the current stage's constraints allow the move. For $match only the
// independent part of the predicate moves; the dependent part stays behind.
func (p *Pipeline) trySwapBefore(i int) bool {
	if i+1 >= len(p.stages) {
		return false
	}
	cur, next := p.stages[i], p.stages[i+1]
	if next.Constraints().Position == PositionFirst {
		return false
	}

	switch next.Kind() {
	case StageMatch:
		// Adjacent matches merge instead of swapping.
		if cur.Kind() == StageMatch || !cur.Constraints().CanSwapWithMatch {
			return false
		}
		return p.pushMatchBefore(i)
	case StageLimit, StageSkip, StageSample:
		if !cur.Constraints().CanSwapWithSkippingOrLimiting {
			return false
		}
		p.log.Debug("pipeline: swapping stage earlier", "stage", next.Kind().String(), "past", cur.Kind().String())
		p.Swap(i, i+1)
		return true
	case StageProject, StageAddFields, StageUnset:
		if !cur.Constraints().CanSwapWithSingleDocTransform {
			return false
		}
		p.log.Debug("pipeline: swapping transform earlier", "past", cur.Kind().String())
		p.Swap(i, i+1)
		return true
	}
	return false
}

// pushMatchBefore splits the $match at i+1 against the modified paths of the
// stage at i and moves the independent part before it.
func (p *Pipeline) pushMatchBefore(i int) bool {
	match := p.stages[i+1].(*MatchStage)
	mp := p.stages[i].ModifiedPaths()
	independent, dependent := match.SplitByModifiedPaths(mp)
	if independent == nil {
		return false
	}
	p.log.Debug("pipeline: pushing match before stage", "stage", p.stages[i].Kind().String())
	if dependent == nil {
		p.Erase(i + 1)
	} else {
		p.stages[i+1] = NewMatchStage(dependent)
	}
	p.Insert(i, NewMatchStage(independent))
	return true
}

// Execute runs every stage over the batch.
func (p *Pipeline) Execute(docs []*document.Document) ([]*document.Document, error) {
	result := docs
	for _, stage := range p.stages {
		var err error
		result, err = stage.Execute(result)
		if err != nil {
			return nil, fmt.Errorf("stage %s failed: %w", stage.Kind(), err)
		}
	}
	return result, nil
}

// Dependencies computes the union of field dependencies of all stages. The
// scan stops at the first stage reporting an exhaustive set, since later
// stages only see fields that stage produces.
func (p *Pipeline) Dependencies() *Deps {
	deps := NewDeps()
	for _, s := range p.stages {
		if s.AddDependencies(deps) {
			return deps
		}
	}
	deps.NeedWholeDocument = true
	return deps
}

// Serialize renders the pipeline for explain output.
func (p *Pipeline) Serialize() []*document.Document {
	out := make([]*document.Document, len(p.stages))
	for i, s := range p.stages {
		out[i] = s.Serialize()
	}
	return out
}

func (p *Pipeline) String() string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Kind().String()
	}
	return fmt.Sprintf("%v", names)
}
