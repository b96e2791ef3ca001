package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/lamim/synthforge/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHosted(url string) *Hosted {
	cfg := config.BackendConfig{
		Kind:               config.BackendHosted,
		BaseURL:            url,
		ModelName:          "gpt-test",
		Temperature:        0.5,
		TopP:               1.0,
		MaxOutputTokens:    128,
		MaxConcurrency:     2,
		HTTPTimeoutSeconds: 5,
	}
	return NewHosted("hosted", cfg, "sk-test", testLogger())
}

func TestHosted_Submit_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-test", body["model"])
		assert.EqualValues(t, 128, body["max_tokens"])
		msgs, ok := body["messages"].([]any)
		require.True(t, ok)
		assert.Len(t, msgs, 2)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "gpt-test",
			"choices": [{
				"index": 0,
				"message": {"role": "assistant", "content": "Hello there", "reasoning_content": "hmm"},
				"finish_reason": "stop",
				"logprobs": null
			}],
			"usage": {"prompt_tokens": 9, "completion_tokens": 2, "total_tokens": 11}
		}`))
	}))
	defer server.Close()

	h := newTestHosted(server.URL + "/v1")
	resp, err := h.Submit(context.Background(), &Request{System: "sys", Prompt: "hi"})
	require.NoError(t, err)

	assert.Equal(t, "Hello there", resp.Text)
	assert.Equal(t, "hmm", resp.Reasoning)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, "gpt-test", resp.Model)
	assert.Equal(t, Usage{PromptTokens: 9, CompletionTokens: 2, TotalTokens: 11}, resp.Usage)
}

func TestHosted_Submit_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retry     string
		wantClass Class
		wantRetry time.Duration
	}{
		{"rate limited", http.StatusTooManyRequests, "2", ClassTransient, 2 * time.Second},
		{"unauthorized", http.StatusUnauthorized, "", ClassRejected, 0},
		{"bad request", http.StatusBadRequest, "", ClassRejected, 0},
		{"unavailable", http.StatusServiceUnavailable, "", ClassUnavailable, 0},
		{"gateway", http.StatusBadGateway, "", ClassTransient, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls++
				if tt.retry != "" {
					w.Header().Set("Retry-After", tt.retry)
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error": {"message": "nope", "type": "invalid_request_error"}}`))
			}))
			defer server.Close()

			_, err := newTestHosted(server.URL).Submit(context.Background(), &Request{Prompt: "hi"})
			require.Error(t, err)

			var f *Failure
			require.True(t, errors.As(err, &f))
			assert.Equal(t, tt.wantClass, f.Class)
			assert.Equal(t, tt.status, f.StatusCode)
			assert.Equal(t, tt.wantRetry, f.RetryAfter)
			assert.Equal(t, 1, calls, "the SDK must not retry on its own")
		})
	}
}

func TestHosted_Submit_EmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "x", "object": "chat.completion", "model": "gpt-test", "choices": []}`))
	}))
	defer server.Close()

	_, err := newTestHosted(server.URL).Submit(context.Background(), &Request{Prompt: "hi"})
	require.Error(t, err)
	assert.Equal(t, ClassRejected, Classify(err))
	assert.True(t, errors.Is(err, ErrEmptyResponse))
}

func TestHosted_Submit_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := newTestHosted(url).Submit(context.Background(), &Request{Prompt: "hi"})
	require.Error(t, err)
	assert.Equal(t, ClassUnavailable, Classify(err))
}

func TestReasoningFromRaw(t *testing.T) {
	assert.Equal(t, "r", reasoningFromRaw(`{"content": "c", "reasoning_content": "r"}`))
	assert.Empty(t, reasoningFromRaw(`{"content": "c"}`))
	assert.Empty(t, reasoningFromRaw(""))
	assert.Empty(t, reasoningFromRaw("not json"))
}
