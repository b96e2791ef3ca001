package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/lamim/synthforge/internal/config"
)

// DefaultHTTPTimeout applies when a backend has no http_timeout_seconds
const DefaultHTTPTimeout = 120 * time.Second

// Local talks to a self-hosted OpenAI-compatible server over net/http.
// It optionally streams so reasoning_content from reasoning models is kept.
type Local struct {
	name       string
	cfg        config.BackendConfig
	apiKey     string
	httpClient *http.Client
	timeout    time.Duration
	countTok   TokenCounter
	logger     *slog.Logger
}

// LocalOption customises a Local adapter
type LocalOption func(*Local)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(c *http.Client) LocalOption {
	return func(l *Local) { l.httpClient = c }
}

// WithTokenCounter replaces the tokenizer used when the server omits usage
func WithTokenCounter(count TokenCounter) LocalOption {
	return func(l *Local) { l.countTok = count }
}

// NewLocal creates a local adapter
func NewLocal(name string, cfg config.BackendConfig, apiKey string, logger *slog.Logger, opts ...LocalOption) *Local {
	timeout := time.Duration(cfg.HTTPTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	l := &Local{
		name:       name,
		cfg:        cfg,
		apiKey:     apiKey,
		httpClient: &http.Client{},
		timeout:    timeout,
		countTok:   NewTokenEstimator().Count,
		logger:     logger.With("backend", name),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Local) Name() string { return l.name }

func (l *Local) Kind() Kind { return KindLocal }

func (l *Local) Capabilities() Capabilities {
	return Capabilities{MaxConcurrency: l.cfg.MaxConcurrency, SupportsStreaming: true}
}

// Ping issues GET <base>/models. Any HTTP answer counts as reachable.
func (l *Local) Ping(ctx context.Context) error {
	return pingHTTP(ctx, l.httpClient, l.name, l.cfg.BaseURL, l.apiKey)
}

// Submit sends one chat completion request
func (l *Local) Submit(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	wire := l.buildRequest(req)

	var (
		resp *Response
		err  error
	)
	if l.cfg.UseStreaming {
		resp, err = l.doStreamingRequest(reqCtx, wire)
	} else {
		resp, err = l.doRequest(reqCtx, wire)
	}
	if err != nil {
		// The caller gave up; that is not the backend's fault
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	if resp.Usage.TotalTokens == 0 {
		resp.Usage = estimateUsage(l.countTok, req.System, req.Prompt, resp.Text)
	}
	resp.Latency = time.Since(start)

	l.logger.Debug("Request completed",
		"model", resp.Model,
		"latency_ms", resp.Latency.Milliseconds(),
		"completion_tokens", resp.Usage.CompletionTokens,
		"has_reasoning", resp.Reasoning != "")
	return resp, nil
}

func (l *Local) buildRequest(req *Request) chatCompletionRequest {
	wire := chatCompletionRequest{
		Model:       firstNonEmpty(req.Model, l.cfg.ModelName),
		Temperature: firstNonZero(req.Temperature, l.cfg.Temperature),
		TopP:        firstNonZero(req.TopP, l.cfg.TopP),
		MaxTokens:   req.MaxTokens,
		N:           1,
	}
	if wire.MaxTokens == 0 {
		wire.MaxTokens = l.cfg.MaxOutputTokens
	}
	if req.System != "" {
		wire.Messages = append(wire.Messages, chatMessage{Role: "system", Content: req.System})
	}
	wire.Messages = append(wire.Messages, chatMessage{Role: "user", Content: req.Prompt})
	if req.JSONMode || l.cfg.UseJSONMode {
		wire.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	if l.cfg.UseStreaming {
		wire.Stream = true
		wire.StreamOptions = &streamOptions{IncludeUsage: true}
	}
	return wire
}

func (l *Local) newHTTPRequest(ctx context.Context, wire chatCompletionRequest) (*http.Request, func(), error) {
	buf := getBuffer()
	if err := json.NewEncoder(buf).Encode(wire); err != nil {
		putBuffer(buf)
		return nil, nil, &Failure{Class: ClassRejected, Message: "failed to encode request", Backend: l.name, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint(l.cfg.BaseURL, "chat/completions"), bytes.NewReader(buf.Bytes()))
	if err != nil {
		putBuffer(buf)
		return nil, nil, &Failure{Class: ClassRejected, Message: "failed to create request", Backend: l.name, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if wire.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	if l.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+l.apiKey)
	}
	return httpReq, func() { putBuffer(buf) }, nil
}

func (l *Local) doRequest(ctx context.Context, wire chatCompletionRequest) (*Response, error) {
	httpReq, release, err := l.newHTTPRequest(ctx, wire)
	if err != nil {
		return nil, err
	}
	defer release()

	httpResp, err := l.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportFailure(l.name, err)
	}
	defer func() {
		if err := httpResp.Body.Close(); err != nil {
			l.logger.Warn("Failed to close response body", "error", err)
		}
	}()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, transportFailure(l.name, err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, statusFailure(l.name, httpResp.StatusCode, errorMessage(httpResp.StatusCode, body), httpResp.Header)
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &Failure{Class: ClassTransient, StatusCode: http.StatusOK, Message: "malformed response body", Backend: l.name, Err: err}
	}
	if len(parsed.Choices) == 0 {
		return nil, &Failure{Class: ClassRejected, StatusCode: http.StatusOK, Message: ErrEmptyResponse.Error(), Backend: l.name, Err: ErrEmptyResponse}
	}

	choice := parsed.Choices[0]
	resp := &Response{
		Text:         choice.Message.Content,
		Reasoning:    choice.Message.ReasoningContent,
		FinishReason: choice.FinishReason,
		Model:        parsed.Model,
	}
	if parsed.Usage != nil {
		resp.Usage = Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		}
	}
	return resp, nil
}

func (l *Local) doStreamingRequest(ctx context.Context, wire chatCompletionRequest) (*Response, error) {
	httpReq, release, err := l.newHTTPRequest(ctx, wire)
	if err != nil {
		return nil, err
	}
	defer release()

	httpResp, err := l.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportFailure(l.name, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(httpResp.Body)
		return nil, statusFailure(l.name, httpResp.StatusCode, errorMessage(httpResp.StatusCode, body), httpResp.Header)
	}

	var (
		content   strings.Builder
		reasoning strings.Builder
		resp      = &Response{}
		sawChoice bool
		done      bool
	)

	scanner := bufio.NewScanner(httpResp.Body)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			done = true
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			l.logger.Warn("Failed to parse stream chunk", "error", err)
			continue
		}
		if resp.Model == "" {
			resp.Model = chunk.Model
		}
		if chunk.Usage != nil {
			resp.Usage = Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		sawChoice = true
		delta := chunk.Choices[0].Delta
		content.WriteString(delta.Content)
		reasoning.WriteString(delta.ReasoningContent)
		if fr := chunk.Choices[0].FinishReason; fr != nil && *fr != "" {
			resp.FinishReason = *fr
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, transportFailure(l.name, errors.Wrap(err, "stream reading error"))
	}
	if !done && resp.FinishReason == "" {
		return nil, &Failure{Class: ClassTransient, StatusCode: http.StatusOK, Message: "stream ended before completion", Backend: l.name, Err: io.ErrUnexpectedEOF}
	}
	if !sawChoice {
		return nil, &Failure{Class: ClassRejected, StatusCode: http.StatusOK, Message: ErrEmptyResponse.Error(), Backend: l.name, Err: ErrEmptyResponse}
	}

	resp.Text = content.String()
	resp.Reasoning = reasoning.String()
	return resp, nil
}

// pingHTTP checks reachability with GET <base>/models
func pingHTTP(ctx context.Context, client *http.Client, name, baseURL, apiKey string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint(baseURL, "models"), nil)
	if err != nil {
		return &Failure{Class: ClassRejected, Message: "invalid base URL", Backend: name, Err: err}
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	resp, err := client.Do(req)
	if err != nil {
		return transportFailure(name, err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode == http.StatusServiceUnavailable {
		return statusFailure(name, resp.StatusCode, "service unavailable", resp.Header)
	}
	return nil
}

func endpoint(baseURL, path string) string {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return baseURL + path
}

// errorMessage prefers the OpenAI error envelope and falls back to the raw body
func errorMessage(status int, body []byte) string {
	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		return errResp.Error.Message
	}
	const maxBody = 512
	text := strings.TrimSpace(string(body))
	if len(text) > maxBody {
		text = text[:maxBody] + "..."
	}
	if text == "" {
		return fmt.Sprintf("request failed with status %d", status)
	}
	return text
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func firstNonZero(a, b float64) float64 {
	if a != 0 {
		return a
	}
	return b
}
