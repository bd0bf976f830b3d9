package text

import (
	"math"
	"sort"
	"sync"
)

// Index is an inverted index over the text of one collection's text index:
// token -> postings keyed by record id, scored with BM25 at search time.
type Index struct {
	mu sync.RWMutex

	// token -> record id -> term frequency
	postings map[string]map[int64]int
	// record id -> token count, for length normalization
	docLengths  map[int64]int
	totalTokens int

	analyzer *Analyzer
}

// NewIndex creates an empty text index.
func NewIndex() *Index {
	return &Index{
		postings:   make(map[string]map[int64]int),
		docLengths: make(map[int64]int),
		analyzer:   NewAnalyzer(),
	}
}

// Add indexes a record's text. Re-adding a record id replaces its previous
// text.
func (idx *Index) Add(rid int64, text string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, ok := idx.docLengths[rid]; ok {
		idx.removeLocked(rid)
	}

	tokens := idx.analyzer.Analyze(text)
	for _, token := range tokens {
		m := idx.postings[token]
		if m == nil {
			m = make(map[int64]int)
			idx.postings[token] = m
		}
		m[rid]++
	}
	idx.docLengths[rid] = len(tokens)
	idx.totalTokens += len(tokens)
}

// Remove drops a record from the index.
func (idx *Index) Remove(rid int64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(rid)
}

func (idx *Index) removeLocked(rid int64) {
	length, ok := idx.docLengths[rid]
	if !ok {
		return
	}
	for token, m := range idx.postings {
		if _, ok := m[rid]; ok {
			delete(m, rid)
			if len(m) == 0 {
				delete(idx.postings, token)
			}
		}
	}
	delete(idx.docLengths, rid)
	idx.totalTokens -= length
}

// Result is one search hit.
type Result struct {
	RecordID int64
	Score    float64
}

// Search returns the records matching any query token, best score first.
// Ties break on record id so results are deterministic.
func (idx *Index) Search(query string) []Result {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	tokens := idx.analyzer.Analyze(query)
	if len(tokens) == 0 {
		return nil
	}

	scores := make(map[int64]float64)
	for _, token := range tokens {
		m := idx.postings[token]
		for rid, freq := range m {
			scores[rid] += idx.bm25(rid, freq, len(m))
		}
	}

	results := make([]Result, 0, len(scores))
	for rid, score := range scores {
		results = append(results, Result{RecordID: rid, Score: score})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].RecordID < results[j].RecordID
	})
	return results
}

// BM25 parameters: k1 saturates term frequency, b scales length
// normalization.
const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

func (idx *Index) bm25(rid int64, termFreq, docFreq int) float64 {
	n := float64(len(idx.docLengths))
	df := float64(docFreq)
	idf := math.Log((n-df+0.5)/(df+0.5) + 1.0)

	avgLength := 1.0
	if n > 0 {
		avgLength = float64(idx.totalTokens) / n
	}
	if avgLength == 0 {
		avgLength = 1
	}
	lengthNorm := 1.0 - bm25B + bm25B*(float64(idx.docLengths[rid])/avgLength)

	tf := float64(termFreq)
	return idf * (tf * (bm25K1 + 1.0)) / (tf + bm25K1*lengthNorm)
}

// Len returns the number of indexed records.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.docLengths)
}

// Terms returns the number of distinct indexed tokens.
func (idx *Index) Terms() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.postings)
}
