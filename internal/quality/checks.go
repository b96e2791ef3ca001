package quality

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// refusalPatterns are lower-cased phrases that mark a model declining the task
var refusalPatterns = []string{
	"i'm sorry, but i can't help with that",
	"i cannot help with that",
	"i can't assist with that",
	"i'm unable to help with that",
	"i apologize, but i cannot",
	"i'm not able to assist",
	"i cannot provide",
	"i cannot generate",
	"i'm sorry, i cannot",
	"i'm sorry, but i cannot",
	"as an ai",
	"i don't feel comfortable",
}

// IsRefusal reports whether text contains a refusal pattern
func IsRefusal(text string) bool {
	_, ok := RefusalPattern(text)
	return ok
}

// RefusalPattern returns the first refusal pattern found in text
func RefusalPattern(text string) (string, bool) {
	lower := strings.ToLower(strings.ReplaceAll(text, "’", "'"))
	for _, pattern := range refusalPatterns {
		if strings.Contains(lower, pattern) {
			return pattern, true
		}
	}
	return "", false
}

// incompleteMinRunes keeps short structured answers (labels, numbers) from
// being judged on their last character.
const incompleteMinRunes = 100

// IsIncomplete reports whether text looks cut off mid-sentence, with a
// short description when it does.
func IsIncomplete(text string) (bool, string) {
	trimmed := strings.TrimSpace(text)
	if utf8.RuneCountInString(trimmed) < incompleteMinRunes {
		return false, ""
	}

	last, _ := utf8.DecodeLastRuneInString(trimmed)
	switch last {
	case '.', '!', '?', '"', '\'', '`', ')', ']', '}', '。', '！', '？', '”':
		return false, ""
	}

	words := strings.Fields(trimmed)
	lastWord := strings.TrimRight(words[len(words)-1], ".,;:!?\"'")
	if utf8.RuneCountInString(lastWord) > 2 {
		if r, _ := utf8.DecodeLastRuneInString(lastWord); unicode.IsLower(r) {
			return true, fmt.Sprintf("last word %q suggests mid-sentence cutoff", lastWord)
		}
	}
	return true, "no terminal punctuation at end"
}

// shingleSize is the number of words per shingle
const shingleSize = 3

// Similarity is the Jaccard similarity of the word shingles of a and b after
// lower-casing and dropping punctuation. Texts shorter than a shingle are
// compared word by word.
func Similarity(a, b string) float64 {
	wa, wb := words(a), words(b)
	if len(wa) == 0 || len(wb) == 0 {
		return 0
	}
	size := shingleSize
	if len(wa) < size || len(wb) < size {
		size = 1
	}
	sa, sb := shingles(wa, size), shingles(wb, size)

	inter := 0
	for s := range sa {
		if _, ok := sb[s]; ok {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	return float64(inter) / float64(union)
}

func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func shingles(words []string, size int) map[string]struct{} {
	out := make(map[string]struct{}, len(words))
	for i := 0; i+size <= len(words); i++ {
		out[strings.Join(words[i:i+size], " ")] = struct{}{}
	}
	return out
}
