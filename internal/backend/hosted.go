package backend

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/lamim/synthforge/internal/config"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

// Hosted calls a hosted OpenAI-compatible API through the openai-go SDK.
// SDK retries are disabled; retrying is the orchestrator's job.
type Hosted struct {
	name       string
	cfg        config.BackendConfig
	apiKey     string
	client     openai.Client
	httpClient *http.Client
	timeout    time.Duration
	logger     *slog.Logger
}

// NewHosted creates a hosted adapter
func NewHosted(name string, cfg config.BackendConfig, apiKey string, logger *slog.Logger) *Hosted {
	timeout := time.Duration(cfg.HTTPTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	baseURL := cfg.BaseURL
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	httpClient := &http.Client{}

	client := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
		option.WithMaxRetries(0),
		option.WithHTTPClient(httpClient),
	)

	return &Hosted{
		name:       name,
		cfg:        cfg,
		apiKey:     apiKey,
		client:     client,
		httpClient: httpClient,
		timeout:    timeout,
		logger:     logger.With("backend", name),
	}
}

func (h *Hosted) Name() string { return h.name }

func (h *Hosted) Kind() Kind { return KindHosted }

func (h *Hosted) Capabilities() Capabilities {
	return Capabilities{MaxConcurrency: h.cfg.MaxConcurrency}
}

func (h *Hosted) Ping(ctx context.Context) error {
	return pingHTTP(ctx, h.httpClient, h.name, h.cfg.BaseURL, h.apiKey)
}

// Submit sends one chat completion request
func (h *Hosted) Submit(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(firstNonEmpty(req.Model, h.cfg.ModelName)),
		Messages:    h.messages(req),
		Temperature: openai.Float(firstNonZero(req.Temperature, h.cfg.Temperature)),
		TopP:        openai.Float(firstNonZero(req.TopP, h.cfg.TopP)),
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = h.cfg.MaxOutputTokens
	}
	if maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(maxTokens))
	}
	if req.JSONMode || h.cfg.UseJSONMode {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{Type: "json_object"},
		}
	}

	completion, err := h.client.Chat.Completions.New(reqCtx, params)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, h.classify(err)
	}
	if len(completion.Choices) == 0 {
		return nil, &Failure{Class: ClassRejected, StatusCode: http.StatusOK, Message: ErrEmptyResponse.Error(), Backend: h.name, Err: ErrEmptyResponse}
	}

	choice := completion.Choices[0]
	resp := &Response{
		Text:         choice.Message.Content,
		Reasoning:    reasoningFromRaw(choice.Message.RawJSON()),
		FinishReason: string(choice.FinishReason),
		Model:        completion.Model,
		Usage: Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
		Latency: time.Since(start),
	}

	h.logger.Debug("Request completed",
		"model", resp.Model,
		"latency_ms", resp.Latency.Milliseconds(),
		"total_tokens", resp.Usage.TotalTokens)
	return resp, nil
}

func (h *Hosted) messages(req *Request) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	return append(msgs, openai.UserMessage(req.Prompt))
}

// classify turns an SDK error into a *Failure
func (h *Hosted) classify(err error) *Failure {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		var header http.Header
		if apiErr.Response != nil {
			header = apiErr.Response.Header
		}
		f := statusFailure(h.name, apiErr.StatusCode, apiErr.Error(), header)
		f.Err = err
		return f
	}
	return transportFailure(h.name, err)
}

// reasoningFromRaw extracts the non-standard reasoning_content field that
// some providers add to the assistant message.
func reasoningFromRaw(raw string) string {
	if raw == "" {
		return ""
	}
	var extra struct {
		ReasoningContent string `json:"reasoning_content"`
	}
	if err := json.Unmarshal([]byte(raw), &extra); err != nil {
		return ""
	}
	return extra.ReasoningContent
}
