package aggregation

import (
	"io"
	"log/slog"

	"github.com/corvusdb/corvus/pkg/document"
	"github.com/corvusdb/corvus/pkg/sharding"
)

// SplitPipeline is the result of splitting a pipeline for sharded execution:
// the part every shard runs, the part the merge point runs over the combined
// streams, and an optional ordered-merge pattern.
type SplitPipeline struct {
	Shards *Pipeline
	Merge  *Pipeline
	// MergeSortPattern, when set, requires the merge point to combine the
	// shard streams with an ordered merge instead of concatenation.
	MergeSortPattern *document.Document
}

// SplitForShards consumes the pipeline and splits it at the first stage that
// cannot run independently on every shard. The input pipeline must already be
// optimized; it is drained by the split.
func SplitForShards(p *Pipeline, log *slog.Logger) *SplitPipeline {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	split := &SplitPipeline{
		Shards: NewPipeline(nil, log),
		Merge:  NewPipeline(nil, log),
	}

	// A stage whose distributed logic has NeedsSplit unset is deferred: its
	// shard part is emitted immediately, but its merging stages are held back
	// while later stages keep migrating to the shard side, as far as the
	// deferred stage's CanMovePast allows.
	var deferred []Stage
	var deferredLogic *DistributedPlanLogic

	for p.Len() > 0 {
		s := p.PopFront()

		if deferredLogic != nil && !canMovePast(deferredLogic, s) {
			for _, m := range deferred {
				split.Merge.Append(m)
			}
			split.Merge.Append(s)
			drainInto(p, split.Merge)
			deferredLogic = nil
			break
		}

		logic := s.Distributed()
		if logic == nil {
			split.Shards.Append(s)
			continue
		}
		if !logic.NeedsSplit {
			if deferredLogic != nil {
				panic("aggregation: at most one deferred stage at a time")
			}
			if logic.ShardsStage != nil {
				split.Shards.Append(logic.ShardsStage)
			}
			deferred = logic.MergingStages
			deferredLogic = logic
			continue
		}

		// Split point.
		if logic.ShardsStage != nil {
			split.Shards.Append(logic.ShardsStage)
		}
		for _, m := range deferred {
			split.Merge.Append(m)
		}
		deferredLogic = nil
		for _, m := range logic.MergingStages {
			split.Merge.Append(m)
		}
		split.MergeSortPattern = logic.MergeSortPattern
		drainInto(p, split.Merge)
		break
	}
	// Input exhausted without a split point: any deferred merge part still
	// runs at the merge point.
	if deferredLogic != nil {
		for _, m := range deferred {
			split.Merge.Append(m)
		}
	}

	log.Debug("pipeline split for shards",
		"shards", split.Shards.String(), "merge", split.Merge.String())

	moveLeadingMergeSortToShards(split)
	moveTrailingUnwindsToMerge(split)
	propagateLimitToShards(split)
	appendDependencyProjection(split)
	abandonShardCaches(split)
	return split
}

func canMovePast(logic *DistributedPlanLogic, s Stage) bool {
	return logic.CanMovePast != nil && logic.CanMovePast(s)
}

func drainInto(p *Pipeline, dst *Pipeline) {
	for p.Len() > 0 {
		dst.Append(p.PopFront())
	}
}

// moveLeadingMergeSortToShards turns a $sort at the head of the merge
// pipeline into per-shard sorts combined by an ordered merge, then migrates
// the merge pipeline's leading run of sort-compatible stages to the shard
// side so they execute closer to the data.
func moveLeadingMergeSortToShards(split *SplitPipeline) {
	if split.MergeSortPattern == nil {
		s, ok := split.Merge.At(0).(*SortStage)
		if !ok {
			return
		}
		split.Merge.Erase(0)
		split.Shards.Append(NewSortStage(s.pattern))
		split.MergeSortPattern = s.pattern
		if s.limit > 0 {
			split.Merge.Insert(0, NewLimitStage(s.limit))
		}
	}
	moveSortCompatiblePrefixToShards(split)
}

// moveSortCompatiblePrefixToShards applies when the shard pipeline ends in a
// $sort: merge-head stages that carry no distributed logic and leave every
// sort field intact (no rename, no rewrite) behave the same on either side
// of the ordered merge, so they move to the shards.
func moveSortCompatiblePrefixToShards(split *SplitPipeline) {
	sortStage, ok := split.Shards.At(split.Shards.Len() - 1).(*SortStage)
	if !ok {
		return
	}
	fields := sortStage.pattern.Keys()
	for split.Merge.Len() > 0 {
		s := split.Merge.At(0)
		if s.Distributed() != nil || !leavesFieldsIntact(s, fields) {
			return
		}
		split.Merge.Erase(0)
		split.Shards.Append(s)
	}
}

func leavesFieldsIntact(s Stage, fields []string) bool {
	mp := s.ModifiedPaths()
	for _, f := range fields {
		if mp.RenameBack(f) != f || mp.Modifies(f) {
			return false
		}
	}
	return true
}

// moveTrailingUnwindsToMerge pulls $unwind stages off the shard pipeline's
// tail. Unwinding multiplies documents, so running it after the network
// transfer moves less data.
func moveTrailingUnwindsToMerge(split *SplitPipeline) {
	for {
		last := split.Shards.Len() - 1
		u, ok := split.Shards.At(last).(*UnwindStage)
		if !ok {
			return
		}
		split.Shards.Erase(last)
		split.Merge.Insert(0, u)
	}
}

// propagateLimitToShards walks the merge pipeline backward collecting the
// tightest document bound that could move to the front, and applies it to the
// shard side: no shard ever needs to produce more documents than the merge
// point can consume. The pass is idempotent: an equal or tighter bound already
// on the shard side leaves the split unchanged.
func propagateLimitToShards(split *SplitPipeline) {
	limit := int64(-1)
	for i := split.Merge.Len() - 1; i >= 0; i-- {
		switch s := split.Merge.At(i).(type) {
		case *LimitStage:
			if limit < 0 || s.n < limit {
				limit = s.n
			}
		case *SkipStage:
			// Moving a collected bound left of a skip widens it.
			if limit >= 0 {
				limit += s.n
			}
		default:
			// A collected bound keeps moving left across stages that permit
			// limits to swap before them; anything else ends the walk with
			// the bounds gathered so far.
			if !s.Constraints().CanSwapWithSkippingOrLimiting {
				i = 0
			}
		}
	}
	if limit < 0 {
		return
	}

	switch last := split.Shards.At(split.Shards.Len() - 1).(type) {
	case *LimitStage:
		if last.n > limit {
			last.n = limit
		}
	case *SortStage:
		if last.limit == 0 || last.limit > limit {
			last.limit = limit
		}
	default:
		split.Shards.Append(NewLimitStage(limit))
	}
}

// appendDependencyProjection narrows the documents shards send over the wire
// to the fields the merge pipeline actually reads.
func appendDependencyProjection(split *SplitPipeline) {
	if shardsNarrowOutput(split.Shards) {
		return
	}
	deps := split.Merge.Dependencies()
	if split.MergeSortPattern != nil {
		for _, f := range split.MergeSortPattern.Keys() {
			deps.Add(f)
		}
	}
	if deps.NeedWholeDocument || len(deps.Fields) == 0 {
		return
	}
	split.Shards.Append(NewInclusionProject(deps.SortedFields()))
}

// shardsNarrowOutput reports whether some shard stage already restricts its
// output to an exhaustive field set.
func shardsNarrowOutput(shards *Pipeline) bool {
	for _, s := range shards.Stages() {
		if s.AddDependencies(NewDeps()) {
			return true
		}
	}
	return false
}

// abandonShardCaches drops locally-computed caches from stages migrating to
// the shards; each shard recomputes against its own state.
func abandonShardCaches(split *SplitPipeline) {
	for _, s := range split.Shards.Stages() {
		if h, ok := s.(cacheHolder); ok {
			h.AbandonCache()
		}
	}
}

// CheckIfEligibleForExchange reports whether the merge pipeline may be
// replaced by exchange-partitioned parallel writes: it must end in a $merge
// into a sharded collection, and every path of the target's shard key must
// flow through the merge pipeline unmodified (renames are followed).
func CheckIfEligibleForExchange(split *SplitPipeline, shardKey *sharding.KeyPattern) bool {
	last, ok := split.Merge.At(split.Merge.Len() - 1).(*MergeStage)
	if !ok || !last.Sharded() {
		return false
	}
	paths := append([]string(nil), shardKey.Paths()...)
	for i := split.Merge.Len() - 2; i >= 0; i-- {
		mp := split.Merge.At(i).ModifiedPaths()
		for j, path := range paths {
			renamed := mp.RenameBack(path)
			if renamed == path && mp.Modifies(path) {
				return false
			}
			paths[j] = renamed
		}
	}
	return true
}
