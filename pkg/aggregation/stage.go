// Package aggregation implements the pipeline layer: stage parsing through an
// explicit registry, local optimization rewrites, engine pushdown selection,
// and shard/merge splitting for distributed execution.
package aggregation

import (
	"strings"

	"github.com/corvusdb/corvus/pkg/document"
)

// StageKind is the closed set of stage types. Optimizer passes dispatch on
// kind plus concrete-type assertions instead of runtime type discovery.
type StageKind int

const (
	StageMatch StageKind = iota
	StageProject
	StageAddFields
	StageUnset
	StageSort
	StageLimit
	StageSkip
	StageGroup
	StageUnwind
	StageSample
	StageMerge
	StageSearch
	StageGeoNear
)

func (k StageKind) String() string {
	switch k {
	case StageMatch:
		return "$match"
	case StageProject:
		return "$project"
	case StageAddFields:
		return "$addFields"
	case StageUnset:
		return "$unset"
	case StageSort:
		return "$sort"
	case StageLimit:
		return "$limit"
	case StageSkip:
		return "$skip"
	case StageGroup:
		return "$group"
	case StageUnwind:
		return "$unwind"
	case StageSample:
		return "$sample"
	case StageMerge:
		return "$merge"
	case StageSearch:
		return "$search"
	case StageGeoNear:
		return "$geoNear"
	}
	return "$unknown"
}

// StreamType classifies whether a stage emits documents as they arrive or
// must consume its whole input first.
type StreamType int

const (
	Streaming StreamType = iota
	Blocking
)

// PositionRequirement restricts where in the pipeline a stage may appear.
type PositionRequirement int

const (
	PositionNone PositionRequirement = iota
	PositionFirst
	PositionLast
)

// DiskUseRequirement records whether a stage writes outside the pipeline.
type DiskUseRequirement int

const (
	DiskUseNone DiskUseRequirement = iota
	DiskUseWrites
)

// StageConstraints is the per-stage record the optimizer and splitter consult
// before moving a stage. Constraints are declarative: a pass may only perform
// a rewrite the constraints of every involved stage permit.
type StageConstraints struct {
	Stream   StreamType
	Position PositionRequirement
	DiskUse  DiskUseRequirement

	// CanSwapWithMatch permits a following $match (or its independent part)
	// to move before this stage.
	CanSwapWithMatch bool
	// CanSwapWithSkippingOrLimiting permits a following $limit, $skip or
	// $sample to move before this stage.
	CanSwapWithSkippingOrLimiting bool
	// CanSwapWithSingleDocTransform permits a following $project-like stage
	// to move before this stage.
	CanSwapWithSingleDocTransform bool
}

// DistributedPlanLogic declares how a stage behaves when a pipeline is split
// across shards. A nil logic means the stage runs wholesale on the shards.
type DistributedPlanLogic struct {
	// ShardsStage runs on every shard before merging; nil contributes
	// nothing to the shard side.
	ShardsStage Stage
	// MergingStages run at the merge point, in order.
	MergingStages []Stage
	// MergeSortPattern, when set, requires the merge point to combine shard
	// streams with an ordered merge on this pattern.
	MergeSortPattern *document.Document
	// NeedsSplit marks the stage as a split point. When false the stage is
	// deferred: its shard part is emitted immediately and following stages
	// may keep moving to the shard side as long as CanMovePast allows.
	NeedsSplit bool
	// CanMovePast is consulted only for deferred stages.
	CanMovePast func(Stage) bool
}

// EngineCompat is a stage's compatibility level with the lower execution
// engine, ordered from unusable to fully supported.
type EngineCompat int

const (
	EngineIncompatible EngineCompat = iota
	EngineTryCompatible
	EngineFullyCompatible
)

// ModifiedPaths describes which document paths a stage may change, plus the
// renames it applies. Swap decisions translate predicate paths backward
// through Renames before testing modification.
type ModifiedPaths struct {
	// AllPaths: the stage may rewrite the whole document; Exceptions lists
	// paths known to survive unmodified.
	AllPaths   bool
	Exceptions []string
	// Paths is the finite modified set when AllPaths is false.
	Paths []string
	// Renames maps output path -> input path for fields that are pure
	// renames (no array crossing).
	Renames map[string]string
}

// Modifies reports whether a dotted path may be changed by the stage. A path
// is affected by modifications at itself, any ancestor, or any descendant.
func (m ModifiedPaths) Modifies(path string) bool {
	if m.AllPaths {
		// An exception shields itself and its descendants only; an ancestor
		// of an exception may still have other subfields rewritten.
		for _, e := range m.Exceptions {
			if e == path || strings.HasPrefix(path, e+".") {
				return false
			}
		}
		return true
	}
	for _, p := range m.Paths {
		if pathsRelated(p, path) {
			return true
		}
	}
	return false
}

// RenameBack translates a post-stage path to its pre-stage name, returning
// the input unchanged when no rename applies.
func (m ModifiedPaths) RenameBack(path string) string {
	if m.Renames == nil {
		return path
	}
	if old, ok := m.Renames[path]; ok {
		return old
	}
	for newP, oldP := range m.Renames {
		if strings.HasPrefix(path, newP+".") {
			return oldP + path[len(newP):]
		}
	}
	return path
}

func pathsRelated(a, b string) bool {
	return a == b || strings.HasPrefix(a, b+".") || strings.HasPrefix(b, a+".")
}

// Deps accumulates the field dependencies of a pipeline suffix.
type Deps struct {
	Fields            map[string]bool
	NeedWholeDocument bool
}

// NewDeps returns an empty dependency set.
func NewDeps() *Deps {
	return &Deps{Fields: map[string]bool{}}
}

// Add records one referenced dotted path.
func (d *Deps) Add(path string) {
	if path != "" {
		d.Fields[path] = true
	}
}

// SortedFields returns the referenced paths in stable order.
func (d *Deps) SortedFields() []string {
	out := make([]string, 0, len(d.Fields))
	for f := range d.Fields {
		out = append(out, f)
	}
	sortStrings(out)
	return out
}

// Stage is one pipeline stage. Stages are owned exclusively by their
// Pipeline; passes reorder, insert and erase them only through the pipeline's
// index-based editing methods.
type Stage interface {
	Kind() StageKind
	Constraints() StageConstraints

	// Distributed returns the stage's shard-split behavior; nil means the
	// stage moves wholesale to the shard side.
	Distributed() *DistributedPlanLogic

	// EngineCompatibility reports how completely the lower engine can
	// execute this stage.
	EngineCompatibility() EngineCompat

	// ModifiedPaths declares the paths the stage may change.
	ModifiedPaths() ModifiedPaths

	// AddDependencies records the fields the stage reads. Returning true
	// means the dependency set is exhaustive: stages after this one see only
	// fields this stage produces, so no further upstream fields are needed.
	AddDependencies(d *Deps) bool

	// OptimizeAt performs stage-specific rewrites at position i, returning
	// true when the pipeline changed (the optimizer then restarts its scan).
	OptimizeAt(i int, p *Pipeline) bool

	// Execute runs the stage over a batch of documents.
	Execute(docs []*document.Document) ([]*document.Document, error)

	// Serialize renders the stage for explain output.
	Serialize() *document.Document
}

// cacheHolder is implemented by stages that hold a locally-computed
// non-correlated cache, which must be dropped when the stage migrates to the
// shard side.
type cacheHolder interface {
	AbandonCache()
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}
