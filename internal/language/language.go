// Package language implements the pure per-utterance language tagging and
// optional translation described in §4.G: Devanagari/Roman-Hindi detection,
// and an LLM-backed translation step that always has a no-translation
// fallback.
package language

import (
	"context"
	"strings"
	"unicode"
)

// romanHindiTokens is a small curated list of common Roman-transliterated
// Hindi words. Two or more hits tags the utterance as Hindi even with no
// Devanagari script present.
var romanHindiTokens = []string{
	"hai", "hoon", "nahi", "kya", "mujhe", "aap", "kal", "abhi", "bilkul",
	"theek", "accha", "karna", "chahiye", "kripya", "dhanyavad",
}

// Translator performs the single LLM completion §4.G allows for translation.
// Implemented by internal/llm; kept as an interface here so this package has
// no dependency on the LLM transport.
type Translator interface {
	TranslateToHindi(ctx context.Context, text string) (string, error)
}

// DetectInputLanguage tags transcript text as "hi" or "en" per §4.G: any
// Devanagari codepoint, or at least two strong Roman-Hindi tokens, means
// Hindi; otherwise English.
func DetectInputLanguage(text string) string {
	if containsDevanagari(text) {
		return "hi"
	}
	if countRomanHindiHits(text) >= 2 {
		return "hi"
	}
	return "en"
}

func containsDevanagari(text string) bool {
	for _, r := range text {
		if unicode.Is(unicode.Devanagari, r) {
			return true
		}
	}
	return false
}

func countRomanHindiHits(text string) int {
	lower := strings.ToLower(text)
	words := make(map[string]struct{})
	for _, w := range strings.Fields(lower) {
		words[strings.Trim(w, ".,!?")] = struct{}{}
	}
	hits := 0
	for _, tok := range romanHindiTokens {
		if _, ok := words[tok]; ok {
			hits++
		}
	}
	return hits
}

// TranslateIfNeeded is a no-op unless target is "hi" and the detected input
// language was "hi"; it also skips translation if text already contains
// Devanagari. On any provider error it falls back to the original text —
// translation failures never abort a turn (§4.F failure semantics).
func TranslateIfNeeded(ctx context.Context, tr Translator, text, target, inputLang string) string {
	if target != "hi" || inputLang != "hi" {
		return text
	}
	if containsDevanagari(text) {
		return text
	}
	if tr == nil {
		return text
	}

	translated, err := tr.TranslateToHindi(ctx, text)
	if err != nil || translated == "" {
		return text
	}
	return translated
}
