package aggregation

import (
	"fmt"
	"math/rand"

	"github.com/corvusdb/corvus/pkg/document"
)

// LimitStage truncates the stream after n documents.
type LimitStage struct {
	n int64
}

// NewLimitStage builds a $limit.
func NewLimitStage(n int64) *LimitStage { return &LimitStage{n: n} }

func parseLimitStage(spec document.Value) (Stage, error) {
	n, ok := spec.AsInt64()
	if !ok || n <= 0 {
		return nil, fmt.Errorf("%w: $limit requires a positive integer", ErrInvalidStage)
	}
	return NewLimitStage(n), nil
}

// N returns the limit bound.
func (s *LimitStage) N() int64 { return s.n }

func (s *LimitStage) Kind() StageKind { return StageLimit }

func (s *LimitStage) Constraints() StageConstraints {
	// Reordering against $skip needs a count adjustment, so the generic swap
	// is disabled; SkipStage.OptimizeAt performs the adjusted move.
	return StageConstraints{Stream: Streaming}
}

func (s *LimitStage) Distributed() *DistributedPlanLogic {
	// Each shard needs at most n documents; the merge point applies the
	// final bound across the combined stream.
	return &DistributedPlanLogic{
		ShardsStage:   NewLimitStage(s.n),
		MergingStages: []Stage{s},
		NeedsSplit:    true,
	}
}

func (s *LimitStage) EngineCompatibility() EngineCompat { return EngineFullyCompatible }

func (s *LimitStage) ModifiedPaths() ModifiedPaths { return ModifiedPaths{} }

func (s *LimitStage) AddDependencies(d *Deps) bool { return false }

// OptimizeAt merges an immediately following $limit (the tighter bound wins).
func (s *LimitStage) OptimizeAt(i int, p *Pipeline) bool {
	next, ok := p.At(i + 1).(*LimitStage)
	if !ok {
		return false
	}
	if next.n < s.n {
		s.n = next.n
	}
	p.Erase(i + 1)
	return true
}

func (s *LimitStage) Execute(docs []*document.Document) ([]*document.Document, error) {
	if int64(len(docs)) <= s.n {
		return docs, nil
	}
	return docs[:s.n], nil
}

func (s *LimitStage) Serialize() *document.Document {
	return document.D("$limit", document.Int64(s.n))
}

// SkipStage drops the first n documents.
type SkipStage struct {
	n int64
}

// NewSkipStage builds a $skip.
func NewSkipStage(n int64) *SkipStage { return &SkipStage{n: n} }

func parseSkipStage(spec document.Value) (Stage, error) {
	n, ok := spec.AsInt64()
	if !ok || n < 0 {
		return nil, fmt.Errorf("%w: $skip requires a non-negative integer", ErrInvalidStage)
	}
	return &SkipStage{n: n}, nil
}

// N returns the skip count.
func (s *SkipStage) N() int64 { return s.n }

func (s *SkipStage) Kind() StageKind { return StageSkip }

func (s *SkipStage) Constraints() StageConstraints {
	return StageConstraints{Stream: Streaming}
}

func (s *SkipStage) Distributed() *DistributedPlanLogic {
	// Skipping can only happen once the shard streams are combined.
	return &DistributedPlanLogic{
		MergingStages: []Stage{s},
		NeedsSplit:    true,
	}
}

func (s *SkipStage) EngineCompatibility() EngineCompat { return EngineFullyCompatible }

func (s *SkipStage) ModifiedPaths() ModifiedPaths { return ModifiedPaths{} }

func (s *SkipStage) AddDependencies(d *Deps) bool { return false }

// OptimizeAt merges an immediately following $skip by summing the counts,
// and normalizes a following $limit to limit-before-skip order by widening
// the limit to cover the skipped documents.
func (s *SkipStage) OptimizeAt(i int, p *Pipeline) bool {
	switch next := p.At(i + 1).(type) {
	case *SkipStage:
		s.n += next.n
		p.Erase(i + 1)
		return true
	case *LimitStage:
		next.n += s.n
		p.Swap(i, i+1)
		return true
	}
	return false
}

func (s *SkipStage) Execute(docs []*document.Document) ([]*document.Document, error) {
	if int64(len(docs)) <= s.n {
		return nil, nil
	}
	return docs[s.n:], nil
}

func (s *SkipStage) Serialize() *document.Document {
	return document.D("$skip", document.Int64(s.n))
}

// SampleStage emits a uniform random sample of n documents. When it is the
// first stage over a large collection, the execution orchestrator replaces
// it with a storage-level random cursor instead of running it here.
type SampleStage struct {
	n   int64
	rnd *rand.Rand
}

// NewSampleStage builds a $sample. A nil source falls back to the global
// generator's seed behavior via rand.Int63.
func NewSampleStage(n int64, rnd *rand.Rand) *SampleStage {
	return &SampleStage{n: n, rnd: rnd}
}

func parseSampleStage(spec document.Value) (Stage, error) {
	if spec.Kind() != document.KindObject {
		return nil, fmt.Errorf("%w: $sample requires {size: n}", ErrInvalidStage)
	}
	size, ok := spec.Document().GetValue("size")
	if !ok {
		return nil, fmt.Errorf("%w: $sample requires a size", ErrInvalidStage)
	}
	n, ok := size.AsInt64()
	if !ok || n <= 0 {
		return nil, fmt.Errorf("%w: $sample size must be a positive integer", ErrInvalidStage)
	}
	return NewSampleStage(n, nil), nil
}

// N returns the sample size.
func (s *SampleStage) N() int64 { return s.n }

func (s *SampleStage) Kind() StageKind { return StageSample }

func (s *SampleStage) Constraints() StageConstraints {
	return StageConstraints{Stream: Blocking}
}

func (s *SampleStage) Distributed() *DistributedPlanLogic {
	// Shards sample independently; the merge point re-samples down to n.
	return &DistributedPlanLogic{
		ShardsStage:   NewSampleStage(s.n, s.rnd),
		MergingStages: []Stage{s},
		NeedsSplit:    true,
	}
}

func (s *SampleStage) EngineCompatibility() EngineCompat { return EngineIncompatible }

func (s *SampleStage) ModifiedPaths() ModifiedPaths { return ModifiedPaths{} }

func (s *SampleStage) AddDependencies(d *Deps) bool { return false }

func (s *SampleStage) OptimizeAt(i int, p *Pipeline) bool { return false }

func (s *SampleStage) Execute(docs []*document.Document) ([]*document.Document, error) {
	if int64(len(docs)) <= s.n {
		return docs, nil
	}
	// Partial Fisher-Yates over a copy.
	result := make([]*document.Document, len(docs))
	copy(result, docs)
	for i := int64(0); i < s.n; i++ {
		j := i + s.intn(int64(len(result))-i)
		result[i], result[j] = result[j], result[i]
	}
	return result[:s.n], nil
}

func (s *SampleStage) intn(n int64) int64 {
	if s.rnd != nil {
		return s.rnd.Int63n(n)
	}
	return rand.Int63n(n)
}

func (s *SampleStage) Serialize() *document.Document {
	return document.D("$sample", document.Object(
		document.D("size", document.Int64(s.n))))
}
