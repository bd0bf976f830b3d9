package text

import (
	"strings"
	"unicode"
)

// suffixRule rewrites one suffix when the remaining stem keeps at least
// minMeasure consonant-vowel sequences. Tables list longer suffixes first so
// "ational" wins over "ation".
type suffixRule struct {
	suffix  string
	replace string
}

var derivationalRules = []suffixRule{
	{"ization", "ize"},
	{"iveness", "ive"},
	{"fulness", "ful"},
	{"ousness", "ous"},
	{"ational", "ate"},
	{"tional", "tion"},
	{"biliti", "ble"},
	{"ation", "ate"},
	{"alism", "al"},
	{"aliti", "al"},
	{"iviti", "ive"},
	{"ousli", "ous"},
	{"entli", "ent"},
	{"enci", "ence"},
	{"anci", "ance"},
	{"izer", "ize"},
	{"alli", "al"},
	{"ator", "ate"},
	{"eli", "e"},
}

var simplificationRules = []suffixRule{
	{"icate", "ic"},
	{"ative", ""},
	{"alize", "al"},
	{"iciti", "ic"},
	{"ical", "ic"},
	{"ness", ""},
	{"ful", ""},
}

var residualSuffixes = []string{
	"ement", "ance", "ence", "able", "ible", "ment",
	"ant", "ent", "ion", "ism", "ate", "iti", "ous", "ive", "ize",
	"al", "er", "ic", "ou",
}

// stem reduces an English word to its root with a Porter-style suffix
// stripper, so "planning", "planned" and "plans" all index under "plan".
func stem(word string) string {
	word = strings.ToLower(word)
	if len(word) < 3 {
		return word
	}
	word = stripPlural(word)
	word = stripTense(word)
	word = yToI(word)
	word = applyRules(word, derivationalRules, 0)
	word = applyRules(word, simplificationRules, 0)
	word = stripResidual(word)
	return trimTail(word)
}

func stripPlural(word string) string {
	switch {
	case strings.HasSuffix(word, "sses"), strings.HasSuffix(word, "ies"):
		return word[:len(word)-2]
	case strings.HasSuffix(word, "ss"):
		return word
	case strings.HasSuffix(word, "s") && len(word) > 3:
		return word[:len(word)-1]
	}
	return word
}

func stripTense(word string) string {
	if strings.HasSuffix(word, "eed") {
		if measure(word[:len(word)-3]) > 0 {
			return word[:len(word)-1]
		}
		return word
	}
	for _, suffix := range []string{"ed", "ing"} {
		if !strings.HasSuffix(word, suffix) {
			continue
		}
		root := word[:len(word)-len(suffix)]
		if hasVowel(root) {
			return restoreAfterStrip(root)
		}
		return word
	}
	return word
}

// restoreAfterStrip repairs a stem left by -ed/-ing removal: restore a
// trailing e for -ate/-ble/-ize roots, undo consonant doubling, and give
// short roots their e back ("hoping" stems through "hop" to "hope").
func restoreAfterStrip(root string) string {
	switch {
	case strings.HasSuffix(root, "at"),
		strings.HasSuffix(root, "bl"),
		strings.HasSuffix(root, "iz"):
		return root + "e"
	}
	if n := len(root); n >= 2 && root[n-1] == root[n-2] {
		last := rune(root[n-1])
		if isConsonant(last) && last != 'l' && last != 's' && last != 'z' {
			return root[:n-1]
		}
	}
	if measure(root) == 1 && endsCVC(root) {
		return root + "e"
	}
	return root
}

func yToI(word string) string {
	if strings.HasSuffix(word, "y") && hasVowel(word[:len(word)-1]) {
		return word[:len(word)-1] + "i"
	}
	return word
}

func applyRules(word string, rules []suffixRule, minMeasure int) string {
	for _, r := range rules {
		if !strings.HasSuffix(word, r.suffix) {
			continue
		}
		root := word[:len(word)-len(r.suffix)]
		if measure(root) > minMeasure {
			return root + r.replace
		}
		return word
	}
	return word
}

func stripResidual(word string) string {
	for _, suffix := range residualSuffixes {
		if !strings.HasSuffix(word, suffix) {
			continue
		}
		root := word[:len(word)-len(suffix)]
		if measure(root) <= 1 {
			return word
		}
		// -ion only drops after s or t (decision, adoption).
		if suffix == "ion" && len(root) > 0 &&
			root[len(root)-1] != 's' && root[len(root)-1] != 't' {
			return word
		}
		return root
	}
	return word
}

// trimTail drops a final e and collapses a final double l once the stem is
// long enough to survive without them.
func trimTail(word string) string {
	if strings.HasSuffix(word, "e") {
		root := word[:len(word)-1]
		if m := measure(root); m > 1 || (m == 1 && !endsCVC(root)) {
			word = root
		}
	}
	if strings.HasSuffix(word, "ll") && measure(word) > 1 {
		return word[:len(word)-1]
	}
	return word
}

// measure counts vowel-to-consonant transitions, the Porter proxy for how
// many syllables a stem keeps.
func measure(word string) int {
	count := 0
	sawVowel := false
	for _, r := range word {
		if isVowel(r) {
			sawVowel = true
		} else if sawVowel {
			count++
			sawVowel = false
		}
	}
	return count
}

func hasVowel(word string) bool {
	for _, r := range word {
		if isVowel(r) {
			return true
		}
	}
	return false
}

func isVowel(r rune) bool {
	switch unicode.ToLower(r) {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	}
	return false
}

func isConsonant(r rune) bool {
	return !isVowel(r) && unicode.IsLetter(r)
}

// endsCVC reports a consonant-vowel-consonant tail whose final consonant is
// not w, x or y.
func endsCVC(word string) bool {
	runes := []rune(word)
	n := len(runes)
	if n < 3 {
		return false
	}
	last := runes[n-1]
	return isConsonant(runes[n-3]) && isVowel(runes[n-2]) && isConsonant(last) &&
		last != 'w' && last != 'x' && last != 'y'
}
