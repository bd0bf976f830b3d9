package index

import (
	"sync"
	"time"

	"github.com/corvusdb/corvus/pkg/document"
)

// IndexStats holds statistics about an index, used by the planner as a
// tie-breaking signal between otherwise equivalent candidate plans.
type IndexStats struct {
	mu sync.RWMutex

	// Basic counts
	TotalEntries int // Total number of entries in the index
	UniqueKeys   int // Number of unique keys (cardinality)

	// Value distribution over the first key field
	MinValue document.Value
	MaxValue document.Value

	// Metadata
	LastUpdated time.Time // When statistics were last recalculated
	IsStale     bool      // True if stats need to be recalculated
}

// NewIndexStats creates a new statistics tracker
func NewIndexStats() *IndexStats {
	return &IndexStats{
		LastUpdated: time.Now(),
		IsStale:     true,
	}
}

// MarkStale marks statistics as needing recalculation, called after every
// index write.
func (s *IndexStats) MarkStale() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.IsStale = true
}

// Stale reports whether the statistics need recalculation.
func (s *IndexStats) Stale() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.IsStale
}

// SetStats replaces the statistics with freshly computed values
func (s *IndexStats) SetStats(totalEntries, uniqueKeys int, minVal, maxVal document.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.TotalEntries = totalEntries
	s.UniqueKeys = uniqueKeys
	s.MinValue = minVal
	s.MaxValue = maxVal
	s.LastUpdated = time.Now()
	s.IsStale = false
}

// Cardinality returns the number of unique keys
func (s *IndexStats) Cardinality() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.UniqueKeys
}

// Selectivity estimates how selective this index is (0.0 to 1.0).
// Lower values mean less selective; 1.0 means every entry is unique.
func (s *IndexStats) Selectivity() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.TotalEntries == 0 {
		return 1.0
	}
	return float64(s.UniqueKeys) / float64(s.TotalEntries)
}

// EstimateRangeSelectivity estimates the fraction of entries a range over
// the first key field would match. Without histograms this is a coarse
// heuristic: full ranges match everything, point lookups match 1/cardinality,
// everything else defaults to a moderate guess.
func (s *IndexStats) EstimateRangeSelectivity(start, end document.Value) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.TotalEntries == 0 {
		return 0.5
	}
	if start.Compare(end) == 0 {
		return 1.0 / float64(s.UniqueKeys+1)
	}
	if start.Kind() == document.KindMinKey && end.Kind() == document.KindMaxKey {
		return 1.0
	}
	return 0.3
}

// ToMap converts statistics to a map for display
func (s *IndexStats) ToMap() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]interface{}{
		"total_entries": s.TotalEntries,
		"unique_keys":   s.UniqueKeys,
		"cardinality":   s.UniqueKeys,
		"selectivity":   s.Selectivity(),
		"min_value":     s.MinValue.String(),
		"max_value":     s.MaxValue.String(),
		"last_updated":  s.LastUpdated,
		"is_stale":      s.IsStale,
	}
}
