package aggregation

import (
	"fmt"
	"strings"

	"github.com/corvusdb/corvus/pkg/document"
)

// ComputedField is one computed output of a transform stage: a copy (or
// rename) of a source path, optionally guarded by $ifNull.
type ComputedField struct {
	Name string
	// Source is the referenced dotted path (without the $ prefix).
	Source string
	// IfNullDefault, when set, replaces a missing/null source value.
	IfNullDefault *document.Value
}

// ProjectStage covers the single-document transforms: $project (inclusion or
// exclusion), $addFields, and $unset. The concrete kind determines modified
// paths, dependency behavior and serialization.
type ProjectStage struct {
	kind StageKind

	// Inclusion / exclusion / unset field lists.
	fields []string
	// exclusion is set for an exclusion-style $project.
	exclusion bool
	// computed fields, evaluated against the input document.
	computed []ComputedField
}

// NewInclusionProject builds a $project keeping only the named fields plus
// any computed outputs.
func NewInclusionProject(fields []string, computed ...ComputedField) *ProjectStage {
	return &ProjectStage{kind: StageProject, fields: fields, computed: computed}
}

// NewExclusionProject builds a $project dropping the named fields.
func NewExclusionProject(fields []string) *ProjectStage {
	return &ProjectStage{kind: StageProject, fields: fields, exclusion: true}
}

// NewAddFields builds an $addFields stage from computed outputs.
func NewAddFields(computed ...ComputedField) *ProjectStage {
	return &ProjectStage{kind: StageAddFields, computed: computed}
}

// NewUnset builds an $unset stage.
func NewUnset(fields ...string) *ProjectStage {
	return &ProjectStage{kind: StageUnset, fields: fields, exclusion: true}
}

func parseProjectStage(spec document.Value) (Stage, error) {
	if spec.Kind() != document.KindObject {
		return nil, fmt.Errorf("%w: $project requires an object", ErrInvalidStage)
	}
	var include, exclude []string
	var computed []ComputedField
	doc := spec.Document()
	for _, f := range doc.Keys() {
		v, _ := doc.GetValue(f)
		switch {
		case isFieldRef(v):
			computed = append(computed, ComputedField{Name: f, Source: v.Str()[1:]})
		case truthySpec(v):
			include = append(include, f)
		default:
			exclude = append(exclude, f)
		}
	}
	if len(include) > 0 || len(computed) > 0 {
		if len(exclude) > 0 {
			return nil, fmt.Errorf("%w: $project cannot mix inclusion and exclusion", ErrInvalidStage)
		}
		return NewInclusionProject(include, computed...), nil
	}
	return NewExclusionProject(exclude), nil
}

func parseAddFieldsStage(spec document.Value) (Stage, error) {
	if spec.Kind() != document.KindObject {
		return nil, fmt.Errorf("%w: $addFields requires an object", ErrInvalidStage)
	}
	var computed []ComputedField
	doc := spec.Document()
	for _, f := range doc.Keys() {
		v, _ := doc.GetValue(f)
		if !isFieldRef(v) {
			return nil, fmt.Errorf("%w: $addFields %s must be a field reference", ErrInvalidStage, f)
		}
		computed = append(computed, ComputedField{Name: f, Source: v.Str()[1:]})
	}
	return NewAddFields(computed...), nil
}

func parseUnsetStage(spec document.Value) (Stage, error) {
	switch spec.Kind() {
	case document.KindString:
		return NewUnset(spec.Str()), nil
	case document.KindArray:
		var fields []string
		for _, v := range spec.Array() {
			if v.Kind() != document.KindString {
				return nil, fmt.Errorf("%w: $unset array elements must be strings", ErrInvalidStage)
			}
			fields = append(fields, v.Str())
		}
		return NewUnset(fields...), nil
	}
	return nil, fmt.Errorf("%w: $unset requires a string or array", ErrInvalidStage)
}

func isFieldRef(v document.Value) bool {
	return v.Kind() == document.KindString && strings.HasPrefix(v.Str(), "$")
}

func truthySpec(v document.Value) bool {
	if d, ok := v.AsDouble(); ok {
		return d != 0
	}
	return v.Kind() == document.KindBool && v.Bool()
}

func (s *ProjectStage) Kind() StageKind { return s.kind }

func (s *ProjectStage) Constraints() StageConstraints {
	return StageConstraints{
		Stream:                        Streaming,
		CanSwapWithMatch:              true,
		CanSwapWithSkippingOrLimiting: true,
	}
}

func (s *ProjectStage) Distributed() *DistributedPlanLogic { return nil }

func (s *ProjectStage) EngineCompatibility() EngineCompat { return EngineFullyCompatible }

// IsAdditionsOnly reports whether the stage only adds fields, leaving every
// existing field in place. Pushdown pruning drops a trailing additions-only
// transform, since lowering it buys nothing.
func (s *ProjectStage) IsAdditionsOnly() bool {
	return s.kind == StageAddFields
}

// Renames returns the output-to-input map of pure-rename computed fields.
func (s *ProjectStage) Renames() map[string]string {
	if len(s.computed) == 0 {
		return nil
	}
	out := make(map[string]string, len(s.computed))
	for _, c := range s.computed {
		if c.IfNullDefault == nil {
			out[c.Name] = c.Source
		}
	}
	return out
}

func (s *ProjectStage) ModifiedPaths() ModifiedPaths {
	if s.exclusion {
		return ModifiedPaths{Paths: append([]string(nil), s.fields...)}
	}
	if s.kind == StageAddFields {
		paths := make([]string, 0, len(s.computed))
		for _, c := range s.computed {
			paths = append(paths, c.Name)
		}
		return ModifiedPaths{Paths: paths, Renames: s.Renames()}
	}
	// Inclusion projection: everything not kept is dropped.
	kept := append([]string(nil), s.fields...)
	return ModifiedPaths{AllPaths: true, Exceptions: kept, Renames: s.Renames()}
}

func (s *ProjectStage) AddDependencies(d *Deps) bool {
	for _, c := range s.computed {
		d.Add(c.Source)
	}
	if s.exclusion {
		return false
	}
	for _, f := range s.fields {
		d.Add(f)
	}
	// An inclusion projection passes through only what it names.
	return true
}

func (s *ProjectStage) OptimizeAt(i int, p *Pipeline) bool {
	// Adjacent $unset stages merge.
	if s.kind == StageUnset {
		if next, ok := p.At(i + 1).(*ProjectStage); ok && next.kind == StageUnset {
			s.fields = append(s.fields, next.fields...)
			p.Erase(i + 1)
			return true
		}
	}
	return false
}

func (s *ProjectStage) Execute(docs []*document.Document) ([]*document.Document, error) {
	result := make([]*document.Document, 0, len(docs))
	for _, doc := range docs {
		result = append(result, s.apply(doc))
	}
	return result, nil
}

func (s *ProjectStage) apply(doc *document.Document) *document.Document {
	if s.exclusion {
		out := doc.Clone()
		for _, f := range s.fields {
			out.Delete(f)
		}
		return out
	}
	var out *document.Document
	if s.kind == StageAddFields {
		out = doc.Clone()
	} else {
		out = document.NewDocument()
		for _, f := range s.fields {
			if v, ok := doc.GetPath(f); ok {
				out.SetPath(f, v)
			}
		}
	}
	for _, c := range s.computed {
		v, ok := doc.GetPath(c.Source)
		if (!ok || v.IsNull()) && c.IfNullDefault != nil {
			v = *c.IfNullDefault
			ok = true
		}
		if ok {
			out.SetPath(c.Name, v)
		}
	}
	return out
}

func (s *ProjectStage) Serialize() *document.Document {
	body := document.NewDocument()
	if s.kind == StageUnset {
		vals := make([]document.Value, len(s.fields))
		for i, f := range s.fields {
			vals[i] = document.String(f)
		}
		return document.D("$unset", document.Array(vals))
	}
	for _, f := range s.fields {
		if s.exclusion {
			body.Set(f, document.Int32(0))
		} else {
			body.Set(f, document.Int32(1))
		}
	}
	for _, c := range s.computed {
		body.Set(c.Name, document.String("$"+c.Source))
	}
	return document.D(s.kind.String(), document.Object(body))
}
