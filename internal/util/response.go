package util

import (
	"regexp"
	"strings"
)

var (
	thinkTagRegex        = regexp.MustCompile(`(?i)<think(?:ing)?>([\s\S]*?)</think(?:ing)?>`)
	chineseThinkTagRegex = regexp.MustCompile(`<思考>([\s\S]*?)</思考>`)
)

// metaPhrases mark the point where a model drifts into talking about its
// own output. Everything from the earliest match onwards is dropped.
var metaPhrases = []string{
	"let's start over",
	"i realize i wrote a confusing mixture",
	"i'll rewrite and incorporate all",
	"we don't want too many lines",
	"i hope this helps",
	"let me know if you",
	"feel free to ask",
}

// CleanOptions controls post-processing of raw model text
type CleanOptions struct {
	StripReasoning bool // drop <think> blocks from the content
	KeepReasoning  bool // prepend separately returned reasoning wrapped in <think>
	CleanMeta      bool // trim trailing self-referential chatter
}

// CleanResponse normalises backend content before a strategy parses it
func CleanResponse(content, reasoning string, opts CleanOptions) string {
	if opts.StripReasoning {
		content = StripThinkTags(content)
	}
	if opts.CleanMeta {
		content = CleanMeta(content)
	}
	if opts.KeepReasoning {
		content = CombineReasoningAndContent(reasoning, content)
	}
	return strings.TrimSpace(content)
}

// ContainsThinkTags reports whether the text carries reasoning tags
func ContainsThinkTags(s string) bool {
	return thinkTagRegex.MatchString(s) || chineseThinkTagRegex.MatchString(s)
}

// SplitThinkAndAnswer separates tagged reasoning from the final answer
func SplitThinkAndAnswer(s string) (thinking, answer string) {
	var parts []string
	for _, re := range []*regexp.Regexp{thinkTagRegex, chineseThinkTagRegex} {
		for _, m := range re.FindAllStringSubmatch(s, -1) {
			parts = append(parts, strings.TrimSpace(m[1]))
		}
	}
	return strings.Join(parts, "\n\n"), StripThinkTags(s)
}

// StripThinkTags removes reasoning tags and their content
func StripThinkTags(s string) string {
	s = thinkTagRegex.ReplaceAllString(s, "")
	s = chineseThinkTagRegex.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// CombineReasoningAndContent wraps reasoning in <think> tags ahead of the answer
func CombineReasoningAndContent(reasoning, content string) string {
	if strings.TrimSpace(reasoning) == "" {
		return content
	}
	return "<think>\n" + strings.TrimSpace(reasoning) + "\n</think>\n\n" + content
}

// CleanMeta trims trailing meta chatter. If the whole response is chatter
// it is returned unchanged so the quality battery can judge it.
func CleanMeta(content string) string {
	trimmed := strings.TrimSpace(content)
	lower := strings.ToLower(trimmed)

	cut := len(trimmed)
	for _, phrase := range metaPhrases {
		if idx := strings.Index(lower, phrase); idx >= 0 && idx < cut {
			cut = idx
		}
	}

	if result := strings.TrimSpace(trimmed[:cut]); result != "" {
		return result
	}
	return trimmed
}
