// Package backend talks to inference servers. Adapters translate a Request
// into one call and classify every failure; they never retry.
package backend

import (
	"context"
	"time"
)

// Kind identifies an adapter implementation
type Kind string

const (
	// KindHosted is a hosted OpenAI-compatible API reached through the openai-go SDK
	KindHosted Kind = "hosted"
	// KindLocal is a self-hosted OpenAI-compatible server (vLLM, llama.cpp, Ollama)
	KindLocal Kind = "local"
)

// Backend is the contract every inference adapter fulfils
type Backend interface {
	Name() string
	Kind() Kind
	// Submit performs exactly one request. Failures are returned as *Failure
	// unless ctx itself was cancelled, in which case ctx.Err() is returned.
	Submit(ctx context.Context, req *Request) (*Response, error)
	Capabilities() Capabilities
	// Ping checks that the server is reachable
	Ping(ctx context.Context) error
}

// Capabilities advertises what an adapter can do
type Capabilities struct {
	MaxConcurrency    int
	SupportsStreaming bool
	SupportsBatch     bool
}

// Request is a single chat completion. Zero sampling fields fall back to
// the backend's configured values.
type Request struct {
	Model       string
	System      string
	Prompt      string
	Temperature float64
	TopP        float64
	MaxTokens   int
	JSONMode    bool
	Metadata    map[string]string
}

// Response is the normalised result of a successful request
type Response struct {
	Text         string
	Reasoning    string
	FinishReason string
	Model        string
	Usage        Usage
	Latency      time.Duration
}

// Usage reports token accounting. Estimated is set when the server did not
// report usage and the counts come from the local tokenizer.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Estimated        bool
}

// EffectiveConcurrency is the in-flight limit a job actually gets
func EffectiveConcurrency(job, ceiling int) int {
	if ceiling <= 0 {
		return max(job, 1)
	}
	if job <= 0 {
		return ceiling
	}
	return min(job, ceiling)
}
