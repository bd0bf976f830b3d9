// Package text implements the analysis and scoring behind text search: a
// tokenizing analyzer with English stop words and Porter stemming, and a
// BM25-ranked inverted index keyed by record id.
package text

import (
	"strings"
	"unicode"
)

// Analyzer turns raw text into normalized search tokens.
type Analyzer struct {
	stopWords map[string]bool
}

// NewAnalyzer creates an analyzer with English stop words.
func NewAnalyzer() *Analyzer {
	return &Analyzer{stopWords: defaultStopWords()}
}

// Analyze tokenizes, lowercases, drops stop words and short tokens, and
// stems. The same analysis runs over stored text and over queries so their
// tokens line up.
func (a *Analyzer) Analyze(text string) []string {
	var result []string
	for _, token := range strings.FieldsFunc(text, isNonWord) {
		token = strings.ToLower(token)
		if len(token) < 2 || a.stopWords[token] {
			continue
		}
		result = append(result, stem(token))
	}
	return result
}

func isNonWord(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsNumber(r)
}

func defaultStopWords() map[string]bool {
	words := []string{
		"a", "an", "and", "are", "as", "at", "be", "but", "by",
		"for", "if", "in", "into", "is", "it", "no", "not", "of",
		"on", "or", "such", "that", "the", "their", "then", "there",
		"these", "they", "this", "to", "was", "will", "with",
		"i", "you", "he", "she", "we", "me", "him", "her",
		"us", "them", "what", "which", "who", "when", "where", "why",
		"how", "all", "each", "every", "both", "few", "more", "most",
		"other", "some", "can", "could", "may", "might", "must",
		"shall", "should", "would", "am", "been", "being", "have",
		"has", "had", "do", "does", "did", "doing",
	}
	stopWords := make(map[string]bool, len(words))
	for _, word := range words {
		stopWords[word] = true
	}
	return stopWords
}
