package aggregation

import (
	"fmt"
	"strings"

	"github.com/corvusdb/corvus/pkg/document"
)

// UnwindStage expands an array field into one output document per element.
type UnwindStage struct {
	path string
	// preserveEmpty keeps documents whose array is missing or empty.
	preserveEmpty bool
}

// NewUnwindStage builds an $unwind over the given dotted path.
func NewUnwindStage(path string, preserveEmpty bool) *UnwindStage {
	return &UnwindStage{path: path, preserveEmpty: preserveEmpty}
}

func parseUnwindStage(spec document.Value) (Stage, error) {
	switch spec.Kind() {
	case document.KindString:
		if !strings.HasPrefix(spec.Str(), "$") {
			return nil, fmt.Errorf("%w: $unwind path must start with $", ErrInvalidStage)
		}
		return NewUnwindStage(spec.Str()[1:], false), nil
	case document.KindObject:
		doc := spec.Document()
		pathV, ok := doc.GetValue("path")
		if !ok || pathV.Kind() != document.KindString || !strings.HasPrefix(pathV.Str(), "$") {
			return nil, fmt.Errorf("%w: $unwind requires a $-prefixed path", ErrInvalidStage)
		}
		preserve := false
		if pv, ok := doc.GetValue("preserveNullAndEmptyArrays"); ok {
			preserve = pv.Kind() == document.KindBool && pv.Bool()
		}
		return NewUnwindStage(pathV.Str()[1:], preserve), nil
	}
	return nil, fmt.Errorf("%w: $unwind requires a string or object", ErrInvalidStage)
}

// Path returns the unwound dotted path.
func (s *UnwindStage) Path() string { return s.path }

func (s *UnwindStage) Kind() StageKind { return StageUnwind }

func (s *UnwindStage) Constraints() StageConstraints {
	return StageConstraints{
		Stream:           Streaming,
		CanSwapWithMatch: true,
	}
}

func (s *UnwindStage) Distributed() *DistributedPlanLogic { return nil }

func (s *UnwindStage) EngineCompatibility() EngineCompat { return EngineFullyCompatible }

func (s *UnwindStage) ModifiedPaths() ModifiedPaths {
	return ModifiedPaths{Paths: []string{s.path}}
}

func (s *UnwindStage) AddDependencies(d *Deps) bool {
	d.Add(s.path)
	return false
}

func (s *UnwindStage) OptimizeAt(i int, p *Pipeline) bool { return false }

func (s *UnwindStage) Execute(docs []*document.Document) ([]*document.Document, error) {
	var result []*document.Document
	for _, doc := range docs {
		v, ok := doc.GetPath(s.path)
		if !ok || (v.Kind() == document.KindArray && len(v.Array()) == 0) {
			if s.preserveEmpty {
				result = append(result, doc)
			}
			continue
		}
		if v.Kind() != document.KindArray {
			result = append(result, doc)
			continue
		}
		for _, elem := range v.Array() {
			out := doc.Clone()
			out.SetPath(s.path, elem)
			result = append(result, out)
		}
	}
	return result, nil
}

func (s *UnwindStage) Serialize() *document.Document {
	body := document.D("path", document.String("$"+s.path))
	if s.preserveEmpty {
		body.Set("preserveNullAndEmptyArrays", document.Bool(true))
	}
	return document.D("$unwind", document.Object(body))
}
