package backend

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter returns the number of tokens in text
type TokenCounter func(text string) int

// TokenEstimator counts tokens with the cl100k_base encoding. The encoding
// is loaded on first use; if it cannot be loaded the estimator falls back
// to a character-based approximation.
type TokenEstimator struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewTokenEstimator creates a lazily initialised estimator
func NewTokenEstimator() *TokenEstimator {
	return &TokenEstimator{}
}

// Count returns the token count of text
func (e *TokenEstimator) Count(text string) int {
	e.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			e.enc = enc
		}
	})
	if e.enc == nil {
		return ApproxTokens(text)
	}
	return len(e.enc.Encode(text, nil, nil))
}

// ApproxTokens estimates roughly three characters per token
func ApproxTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return max(1, n/3)
}

// estimateUsage fills usage from the prompt and completion text
func estimateUsage(count TokenCounter, system, prompt, completion string) Usage {
	p := count(system) + count(prompt)
	c := count(completion)
	return Usage{PromptTokens: p, CompletionTokens: c, TotalTokens: p + c, Estimated: true}
}
