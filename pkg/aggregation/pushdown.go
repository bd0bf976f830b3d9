package aggregation

// PushdownFlags enables pushdown per stage type. Flags exist so individual
// stage lowerings can be switched off without touching the selection walk.
type PushdownFlags struct {
	Match   bool
	Project bool
	Sort    bool
	Limit   bool
	Skip    bool
	Group   bool
	Unwind  bool
	Search  bool
}

// DefaultPushdownFlags enables every lowering.
func DefaultPushdownFlags() PushdownFlags {
	return PushdownFlags{
		Match:   true,
		Project: true,
		Sort:    true,
		Limit:   true,
		Skip:    true,
		Group:   true,
		Unwind:  true,
		Search:  true,
	}
}

func (f PushdownFlags) allows(k StageKind) bool {
	switch k {
	case StageMatch:
		return f.Match
	case StageProject, StageAddFields, StageUnset:
		return f.Project
	case StageSort:
		return f.Sort
	case StageLimit:
		return f.Limit
	case StageSkip:
		return f.Skip
	case StageGroup:
		return f.Group
	case StageUnwind:
		return f.Unwind
	case StageSearch:
		return f.Search
	}
	return false
}

// PushdownOptions configures engine pushdown selection.
type PushdownOptions struct {
	Flags PushdownFlags
	// MinCompatibility is the weakest engine compatibility a stage may report
	// and still be lowered.
	MinCompatibility EngineCompat
	// FullPushdown keeps trailing additions-only transforms in the lowered
	// prefix; otherwise they are pruned, since lowering them buys nothing.
	FullPushdown bool
	// MaxStages caps the lowered prefix length; 0 means no cap.
	MaxStages int
}

// DefaultPushdownOptions lowers fully compatible stages with all flags on
// and no cap.
func DefaultPushdownOptions() PushdownOptions {
	return PushdownOptions{
		Flags:            DefaultPushdownFlags(),
		MinCompatibility: EngineFullyCompatible,
	}
}

// SelectPushdownPrefix returns how many leading stages of the pipeline can be
// lowered into the execution engine. Selection is strictly prefix-based: the
// walk stops at the first ineligible stage, and no stage after it is
// considered regardless of its own compatibility.
func SelectPushdownPrefix(p *Pipeline, opts PushdownOptions) int {
	n := 0
	for i := 0; i < p.Len(); i++ {
		s := p.At(i)
		if s.EngineCompatibility() < opts.MinCompatibility {
			break
		}
		if !opts.Flags.allows(s.Kind()) {
			break
		}
		n++
	}

	// Pruning: trim stages whose lowering cannot pay for itself, then apply
	// the hard cap. Each trim may expose another trimmable tail.
	for n > 0 {
		if opts.MaxStages > 0 && n > opts.MaxStages {
			n--
			continue
		}
		last := p.At(n - 1)
		if t, ok := last.(*ProjectStage); ok && t.IsAdditionsOnly() && !opts.FullPushdown {
			n--
			continue
		}
		// A trailing $unwind only multiplies the documents handed back, so
		// lowering it never pays, even under full pushdown.
		if _, ok := last.(*UnwindStage); ok {
			n--
			continue
		}
		break
	}
	return n
}
