package aggregation

import (
	"fmt"
	"log/slog"

	"github.com/corvusdb/corvus/pkg/document"
)

// ParseFunc builds a stage from the value of its stage-name key.
type ParseFunc func(spec document.Value) (Stage, error)

// StageRegistry maps stage names to parsers. It is constructed once at
// process start and injected wherever pipelines are parsed; there is no
// global mutable registration.
type StageRegistry struct {
	parsers map[string]ParseFunc
}

// NewStageRegistry builds an empty registry.
func NewStageRegistry() *StageRegistry {
	return &StageRegistry{parsers: map[string]ParseFunc{}}
}

// NewDefaultRegistry builds a registry with every built-in stage.
func NewDefaultRegistry() *StageRegistry {
	r := NewStageRegistry()
	r.Register("$match", parseMatchStage)
	r.Register("$project", parseProjectStage)
	r.Register("$addFields", parseAddFieldsStage)
	r.Register("$set", parseAddFieldsStage)
	r.Register("$unset", parseUnsetStage)
	r.Register("$sort", parseSortStage)
	r.Register("$limit", parseLimitStage)
	r.Register("$skip", parseSkipStage)
	r.Register("$sample", parseSampleStage)
	r.Register("$unwind", parseUnwindStage)
	r.Register("$group", parseGroupStage)
	r.Register("$merge", parseMergeStage)
	r.Register("$search", parseSearchStage)
	r.Register("$geoNear", parseGeoNearStage)
	return r
}

// Register binds a stage name to its parser, replacing any previous binding.
func (r *StageRegistry) Register(name string, parse ParseFunc) {
	r.parsers[name] = parse
}

// ParseStage builds one stage from a single-key {"$name": spec} document.
func (r *StageRegistry) ParseStage(doc *document.Document) (Stage, error) {
	if doc.Len() != 1 {
		return nil, fmt.Errorf("%w: a stage must have exactly one key", ErrInvalidStage)
	}
	name := doc.Keys()[0]
	parse, ok := r.parsers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStage, name)
	}
	spec, _ := doc.GetValue(name)
	stage, err := parse(spec)
	if err != nil {
		return nil, err
	}
	return stage, nil
}

// ParsePipeline builds and validates a pipeline from an ordered list of
// stage documents.
func (r *StageRegistry) ParsePipeline(specs []*document.Document, log *slog.Logger) (*Pipeline, error) {
	if len(specs) == 0 {
		return nil, ErrEmptyPipeline
	}
	stages := make([]Stage, 0, len(specs))
	for i, spec := range specs {
		stage, err := r.ParseStage(spec)
		if err != nil {
			return nil, fmt.Errorf("stage %d: %w", i, err)
		}
		stages = append(stages, stage)
	}
	p := NewPipeline(stages, log)
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
