// Package langdetect resolves the "auto" source-language sentinel with a
// deterministic heuristic over a bounded text sample: a Unicode script
// vote first, then stop-word scoring for Latin-script languages. It is a
// routing aid, not a linguistic authority; ambiguous text falls back to
// English.
package langdetect

import (
	"strings"
	"unicode"
)

// sampleRunes bounds how much text the heuristic inspects.
const sampleRunes = 256

// Latin-script stop words, per language. Short, high-frequency words that
// rarely overlap across these languages.
var stopWords = map[string][]string{
	"en": {"the", "and", "is", "of", "to", "in", "that", "it", "was", "with"},
	"es": {"el", "la", "los", "las", "que", "es", "en", "un", "una", "por"},
	"fr": {"le", "la", "les", "est", "que", "des", "une", "dans", "pour", "pas"},
	"de": {"der", "die", "das", "und", "ist", "nicht", "ein", "eine", "mit", "auf"},
	"it": {"il", "la", "che", "di", "non", "una", "per", "sono", "con", "del"},
	"pt": {"o", "a", "os", "as", "que", "não", "uma", "para", "com", "mais"},
	"nl": {"de", "het", "een", "van", "en", "dat", "niet", "zijn", "voor", "maar"},
}

// Detect returns the most likely ISO 639-1 code for the text. It is
// deterministic: equal evidence always resolves the same way.
func Detect(text string) string {
	sample := sampleText(text)
	if sample == "" {
		return "en"
	}

	if lang := detectScript(sample); lang != "" {
		return lang
	}

	return detectLatin(sample)
}

func sampleText(text string) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) > sampleRunes {
		runes = runes[:sampleRunes]
	}
	return string(runes)
}

// detectScript votes by Unicode script. Non-Latin scripts identify a
// language (or a conventional default for shared scripts) directly.
func detectScript(sample string) string {
	counts := make(map[string]int)
	var total int

	for _, r := range sample {
		if !unicode.IsLetter(r) {
			continue
		}
		total++
		switch {
		case unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r):
			counts["ja"]++
		case unicode.Is(unicode.Han, r):
			counts["zh"]++
		case unicode.Is(unicode.Hangul, r):
			counts["ko"]++
		case unicode.Is(unicode.Cyrillic, r):
			counts["ru"]++
		case unicode.Is(unicode.Arabic, r):
			counts["ar"]++
		case unicode.Is(unicode.Hebrew, r):
			counts["he"]++
		case unicode.Is(unicode.Greek, r):
			counts["el"]++
		case unicode.Is(unicode.Thai, r):
			counts["th"]++
		case unicode.Is(unicode.Devanagari, r):
			counts["hi"]++
		}
	}

	if total == 0 {
		return ""
	}

	// Kana anywhere means Japanese even when Han characters dominate.
	if counts["ja"] > 0 {
		counts["zh"] = 0
	}

	best, bestCount := "", 0
	for lang, n := range counts {
		if n > bestCount || (n == bestCount && lang < best) {
			best, bestCount = lang, n
		}
	}

	// Require a clear non-Latin majority; mixed text stays with the
	// stop-word pass.
	if bestCount*2 > total {
		return best
	}
	return ""
}

func detectLatin(sample string) string {
	words := strings.FieldsFunc(strings.ToLower(sample), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	if len(words) == 0 {
		return "en"
	}

	present := make(map[string]int, len(words))
	for _, w := range words {
		present[w]++
	}

	best, bestScore := "en", 0
	for lang, stops := range stopWords {
		score := 0
		for _, s := range stops {
			score += present[s]
		}
		if score > bestScore || (score == bestScore && score > 0 && lang < best) {
			best, bestScore = lang, score
		}
	}

	return best
}
