package utils

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultChunkSize is the longest bubble sent in a paced message.
const DefaultChunkSize = 200

// Break characters in priority order: a line break wins over sentence punctuation,
// which wins over a comma, which wins over a plain space.
var breakGroups = []string{"\n", ".!?", ",", " "}

// SplitText splits text into chunks of at most maxLen runes, cutting at the
// last natural break inside each window. Chunks are trimmed and never empty.
func SplitText(text string, maxLen int) []string {
	if maxLen <= 0 {
		maxLen = DefaultChunkSize
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var parts []string
	rest := []rune(text)
	for len(rest) > 0 {
		if len(rest) <= maxLen {
			parts = appendChunk(parts, string(rest))
			break
		}

		window := rest[:maxLen]
		splitAt := -1
		for _, group := range breakGroups {
			if idx := lastIndexAny(window, group); idx != -1 {
				splitAt = idx + 1
				break
			}
		}
		if splitAt == -1 {
			splitAt = maxLen
		}

		parts = appendChunk(parts, string(rest[:splitAt]))
		rest = []rune(strings.TrimSpace(string(rest[splitAt:])))
	}
	return parts
}

func appendChunk(parts []string, chunk string) []string {
	chunk = strings.TrimSpace(chunk)
	if chunk == "" {
		return parts
	}
	return append(parts, chunk)
}

func lastIndexAny(window []rune, chars string) int {
	for i := len(window) - 1; i >= 0; i-- {
		if strings.ContainsRune(chars, window[i]) {
			return i
		}
	}
	return -1
}

// FoldText lowercases and strips diacritics so "Não" and "nao" compare equal.
func FoldText(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(folded)
}

// ContainsAnyKeyword reports whether any keyword occurs in text as a substring,
// ignoring case and accents.
func ContainsAnyKeyword(text string, keywords []string) bool {
	folded := FoldText(text)
	for _, kw := range keywords {
		kw = FoldText(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(folded, kw) {
			return true
		}
	}
	return false
}

// ContainsAnyPhrase is ContainsAnyKeyword restricted to whole words, so the
// keyword "pare" does not fire on "parece".
func ContainsAnyPhrase(text string, phrases []string) bool {
	words := splitWords(FoldText(text))
	for _, phrase := range phrases {
		target := splitWords(FoldText(phrase))
		if len(target) == 0 {
			continue
		}
		if containsSequence(words, target) {
			return true
		}
	}
	return false
}

func splitWords(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func containsSequence(words, target []string) bool {
	for i := 0; i+len(target) <= len(words); i++ {
		match := true
		for j := range target {
			if words[i+j] != target[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
