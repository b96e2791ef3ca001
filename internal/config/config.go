package config

import (
	"os"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
)

// Strategy kinds accepted in [strategy].kind
const (
	StrategyExpand   = "expand"
	StrategyAugment  = "augment"
	StrategyRewrite  = "rewrite"
	StrategyClassify = "classify"
	StrategyQA       = "qa"
	StrategyCustom   = "custom"
)

// Backend kinds accepted in [backends.<name>].kind
const (
	BackendHosted = "hosted"
	BackendLocal  = "local"
)

// Checkpoint store kinds accepted in [checkpoint].store
const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
)

// Config represents the complete job configuration
type Config struct {
	Job        JobConfig                `toml:"job"`
	Input      InputConfig              `toml:"input"`
	Output     OutputConfig             `toml:"output"`
	Strategy   StrategyConfig           `toml:"strategy"`
	Quality    QualityConfig            `toml:"quality"`
	Retry      RetryConfig              `toml:"retry"`
	Checkpoint CheckpointConfig         `toml:"checkpoint"`
	Backends   map[string]BackendConfig `toml:"backends"`
	Metrics    MetricsConfig            `toml:"metrics"`
}

// JobConfig holds the job-level knobs
type JobConfig struct {
	Name                string `toml:"name"`
	Backend             string `toml:"backend"`                // Key into [backends]
	ChunkSize           int    `toml:"chunk_size"`             // Records per chunk (default 500)
	Concurrency         int    `toml:"concurrency"`            // In-flight requests for this job (default 8)
	GraceTimeoutSeconds int    `toml:"grace_timeout_seconds"`  // Drain window for in-flight requests on cancel (default 30)
	GiveUpAfterSeconds  int    `toml:"give_up_after_seconds"`  // Fail the job after the backend is unavailable this long (default 600)
	ResumeFromJob       string `toml:"resume_from_job"`        // Job directory name to resume
}

// InputConfig describes the input dataset
type InputConfig struct {
	Path   string `toml:"path"`
	Format string `toml:"format"` // "jsonl", "json" or empty to infer from extension
}

// OutputConfig describes where job directories are created
type OutputConfig struct {
	Dir string `toml:"dir"` // Parent directory for job_<timestamp> directories (default "output")
}

// StrategyConfig selects and parameterises the generation strategy
type StrategyConfig struct {
	Kind           string   `toml:"kind"`
	Count          int      `toml:"count"`           // Variations per record for expand (default 5)
	SourceField    string   `toml:"source_field"`    // Field the strategy reads
	TargetField    string   `toml:"target_field"`    // Field the generated value is written to
	SelectedFields []string `toml:"selected_fields"` // Restrict the fields shown to the model
	LabelSet       []string `toml:"label_set"`       // Allowed labels for classify
	QuestionField  string   `toml:"question_field"`  // Output key for the question in qa (default "instruction")
	SystemPrompt   string   `toml:"system_prompt"`
	QuestionPrompt string   `toml:"question_prompt"` // Extra guidance placed before the question
	AnswerPrompt   string   `toml:"answer_prompt"`   // Answer style guidance placed after the question
	Template       string   `toml:"template"`        // text/template prompt; defaults per kind
	TemplatePack   string   `toml:"template_pack"`   // YAML file with named custom templates
	TemplateName   string   `toml:"template_name"`   // Entry to use from template_pack
	MergeJSON      bool     `toml:"merge_json"`      // custom: merge JSON object responses into the record
	StripReasoning bool     `toml:"strip_reasoning"` // Remove <think> blocks from responses
	KeepReasoning  bool     `toml:"keep_reasoning"`  // Prepend separate reasoning content in <think> tags
	CleanMeta      bool     `toml:"clean_meta"`      // Trim trailing meta chatter from responses
}

// QualityConfig configures the quality battery
type QualityConfig struct {
	MinLength              int      `toml:"min_length"`               // Minimum generated length in runes (default 10)
	MaxLength              int      `toml:"max_length"`               // Maximum generated length in runes (default 200000)
	RequiredFields         []string `toml:"required_fields"`          // Output fields that must be present and non-empty
	DuplicateThreshold     float64  `toml:"duplicate_threshold"`      // Similarity to the source at or above which output is rejected (default 0.9)
	MinScore               float64  `toml:"min_score"`                // Heuristic score below which output is flagged (default 0.7)
	DisableRefusalCheck    bool     `toml:"disable_refusal_check"`    // Skip refusal pattern rejection
	FlagIncomplete         bool     `toml:"flag_incomplete"`          // Flag outputs that look cut off mid-sentence
	DisableDuplicateCheck  bool     `toml:"disable_duplicate_check"`  // Skip near-duplicate-of-input rejection
	DisableHeuristicScore  bool     `toml:"disable_heuristic_score"`  // Skip heuristic score flagging
}

// RetryConfig configures the per-request retry state machine
type RetryConfig struct {
	MaxRetries          int     `toml:"max_retries"`           // Retries after the first attempt (default 3, -1 disables retries)
	BaseDelayMillis     int     `toml:"base_delay_millis"`     // First backoff delay (default 2000)
	MaxDelaySeconds     int     `toml:"max_delay_seconds"`     // Backoff cap (default 120)
	RateLimitMultiplier float64 `toml:"rate_limit_multiplier"` // Growth factor for rate-limited attempts (default 3)
}

// CheckpointConfig selects the checkpoint store
type CheckpointConfig struct {
	Store string `toml:"store"` // "file" (default) or "sqlite"
	Path  string `toml:"path"`  // SQLite database path; defaults to <job dir>/checkpoints.db
}

// BackendConfig represents configuration for a single inference backend
type BackendConfig struct {
	Kind               string  `toml:"kind"` // "hosted" or "local"
	BaseURL            string  `toml:"base_url"`
	ModelName          string  `toml:"model_name"`
	APIKeyEnv          string  `toml:"api_key_env"` // Environment variable holding the key (optional)
	Temperature        float64 `toml:"temperature"`
	TopP               float64 `toml:"top_p"`
	MaxOutputTokens    int     `toml:"max_output_tokens"`
	ContextSize        int     `toml:"context_size"`
	RateLimitPerMinute int     `toml:"rate_limit_per_minute"`
	MaxConcurrency     int     `toml:"max_concurrency"`       // Ceiling shared by all jobs using this backend
	HTTPTimeoutSeconds int     `toml:"http_timeout_seconds"`  // Per-request timeout (default 120)
	CooldownSeconds    int     `toml:"cooldown_seconds"`      // Circuit breaker pause after an unavailable failure (default 30)
	UseJSONMode        bool    `toml:"use_json_mode"`
	UseStreaming       bool    `toml:"use_streaming"` // local only: SSE streaming to capture reasoning_content
}

// MetricsConfig configures the optional Prometheus endpoint
type MetricsConfig struct {
	ListenAddr string `toml:"listen_addr"` // e.g. ":2112"; empty disables the endpoint
}

// Secrets holds credentials loaded from environment variables
type Secrets struct {
	APIKeys map[string]string
}

const (
	// MaxConcurrency is the maximum allowed concurrency
	MaxConcurrency = 1024
	// MaxChunkSize is the maximum records per chunk
	MaxChunkSize = 100000
	// MaxCount is the maximum expand fan-out per record
	MaxCount = 100
)

var validStrategies = []string{StrategyExpand, StrategyAugment, StrategyRewrite, StrategyClassify, StrategyQA, StrategyCustom}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Input.Path == "" {
		return errors.New("input.path is required")
	}
	switch c.Input.Format {
	case "", "jsonl", "json":
	default:
		return errors.Newf("input.format must be jsonl or json (got %s)", c.Input.Format)
	}

	if c.Job.ChunkSize < 1 || c.Job.ChunkSize > MaxChunkSize {
		return errors.Newf("job.chunk_size must be between 1 and %d (got %d)", MaxChunkSize, c.Job.ChunkSize)
	}
	if c.Job.Concurrency < 1 || c.Job.Concurrency > MaxConcurrency {
		return errors.Newf("job.concurrency must be between 1 and %d (got %d)", MaxConcurrency, c.Job.Concurrency)
	}
	if c.Job.GraceTimeoutSeconds < 0 {
		return errors.New("job.grace_timeout_seconds must not be negative")
	}
	if c.Job.GiveUpAfterSeconds < 1 {
		return errors.New("job.give_up_after_seconds must be at least 1")
	}

	if err := c.validateStrategy(); err != nil {
		return err
	}
	if err := c.validateQuality(); err != nil {
		return err
	}

	if c.Retry.MaxRetries < -1 || c.Retry.MaxRetries > 20 {
		return errors.Newf("retry.max_retries must be between -1 and 20 (got %d)", c.Retry.MaxRetries)
	}
	if c.Retry.RateLimitMultiplier < 1 {
		return errors.Newf("retry.rate_limit_multiplier must be at least 1 (got %.2f)", c.Retry.RateLimitMultiplier)
	}

	switch c.Checkpoint.Store {
	case StoreFile, StoreSQLite:
	default:
		return errors.Newf("checkpoint.store must be file or sqlite (got %s)", c.Checkpoint.Store)
	}

	if len(c.Backends) == 0 {
		return errors.New("at least one [backends.<name>] section is required")
	}
	if c.Job.Backend == "" {
		if len(c.Backends) > 1 {
			return errors.New("job.backend is required when more than one backend is configured")
		}
	} else if _, ok := c.Backends[c.Job.Backend]; !ok {
		return errors.Newf("job.backend %q is not defined in [backends]", c.Job.Backend)
	}
	for name, bc := range c.Backends {
		if err := validateBackendConfig(name, bc); err != nil {
			return err
		}
	}

	return nil
}

func (c *Config) validateStrategy() error {
	s := c.Strategy
	if !slices.Contains(validStrategies, s.Kind) {
		return errors.Newf("strategy.kind must be one of: %s (got %q)", strings.Join(validStrategies, ", "), s.Kind)
	}
	if s.Count < 1 || s.Count > MaxCount {
		return errors.Newf("strategy.count must be between 1 and %d (got %d)", MaxCount, s.Count)
	}
	if s.TargetField == "" {
		return errors.New("strategy.target_field must not be empty")
	}
	if s.Kind == StrategyClassify && len(s.LabelSet) == 0 {
		return errors.New("strategy.label_set is required for classify")
	}
	if s.Kind == StrategyCustom && s.Template == "" && s.TemplatePack == "" {
		return errors.New("strategy.template or strategy.template_pack is required for custom")
	}
	if s.TemplatePack != "" && s.TemplateName == "" {
		return errors.New("strategy.template_name is required with strategy.template_pack")
	}
	if s.StripReasoning && s.KeepReasoning {
		return errors.New("strategy.strip_reasoning and strategy.keep_reasoning are mutually exclusive")
	}
	return nil
}

func (c *Config) validateQuality() error {
	q := c.Quality
	if q.MinLength < 0 {
		return errors.New("quality.min_length must not be negative")
	}
	if q.MaxLength < q.MinLength {
		return errors.Newf("quality.max_length (%d) must not be below quality.min_length (%d)", q.MaxLength, q.MinLength)
	}
	if q.DuplicateThreshold <= 0 || q.DuplicateThreshold > 1.0 {
		return errors.Newf("quality.duplicate_threshold must be in (0, 1] (got %.2f)", q.DuplicateThreshold)
	}
	if q.MinScore < 0 || q.MinScore > 1.0 {
		return errors.Newf("quality.min_score must be between 0.0 and 1.0 (got %.2f)", q.MinScore)
	}
	return nil
}

func validateBackendConfig(name string, bc BackendConfig) error {
	if bc.Kind != BackendHosted && bc.Kind != BackendLocal {
		return errors.Newf("backends.%s.kind must be hosted or local (got %q)", name, bc.Kind)
	}
	if bc.BaseURL == "" {
		return errors.Newf("backends.%s.base_url is required", name)
	}
	if bc.ModelName == "" {
		return errors.Newf("backends.%s.model_name is required", name)
	}
	if bc.Temperature < 0 || bc.Temperature > 2 {
		return errors.Newf("backends.%s.temperature must be between 0 and 2", name)
	}
	if bc.TopP < 0 || bc.TopP > 1 {
		return errors.Newf("backends.%s.top_p must be between 0 and 1", name)
	}
	if bc.MaxOutputTokens < 1 {
		return errors.Newf("backends.%s.max_output_tokens must be at least 1", name)
	}
	if bc.MaxOutputTokens > bc.ContextSize {
		return errors.Newf("backends.%s.max_output_tokens (%d) must not exceed context_size (%d)", name, bc.MaxOutputTokens, bc.ContextSize)
	}
	if bc.RateLimitPerMinute < 1 {
		return errors.Newf("backends.%s.rate_limit_per_minute must be at least 1", name)
	}
	if bc.MaxConcurrency < 1 || bc.MaxConcurrency > MaxConcurrency {
		return errors.Newf("backends.%s.max_concurrency must be between 1 and %d", name, MaxConcurrency)
	}
	if bc.UseStreaming && bc.Kind != BackendLocal {
		return errors.Newf("backends.%s.use_streaming is only supported for local backends", name)
	}
	return nil
}

// ActiveBackend returns the name and config of the backend the job dispatches to
func (c *Config) ActiveBackend() (string, BackendConfig) {
	if c.Job.Backend != "" {
		return c.Job.Backend, c.Backends[c.Job.Backend]
	}
	for name, bc := range c.Backends {
		return name, bc
	}
	return "", BackendConfig{}
}

// InputFormat returns the configured format or infers it from the file extension
func (c *Config) InputFormat() string {
	if c.Input.Format != "" {
		return c.Input.Format
	}
	if strings.HasSuffix(strings.ToLower(c.Input.Path), ".json") {
		return "json"
	}
	return "jsonl"
}

// LoadSecrets loads API keys from environment variables
func LoadSecrets(backends map[string]BackendConfig) *Secrets {
	secrets := &Secrets{
		APIKeys: make(map[string]string),
	}

	if key := os.Getenv("API_KEY"); key != "" {
		secrets.APIKeys["generic"] = key
	}
	for env, provider := range map[string]string{
		"OPENAI_API_KEY":     "openai",
		"NVIDIA_API_KEY":     "nvidia",
		"TOGETHER_API_KEY":   "together",
		"OPENROUTER_API_KEY": "openrouter",
	} {
		if key := os.Getenv(env); key != "" {
			secrets.APIKeys[provider] = key
		}
	}

	// Explicit per-backend variables win over provider detection
	for name, bc := range backends {
		if bc.APIKeyEnv == "" {
			continue
		}
		if key := os.Getenv(bc.APIKeyEnv); key != "" {
			secrets.APIKeys["backend:"+name] = key
		}
	}

	return secrets
}

// GetAPIKey returns the API key for a named backend
func (s *Secrets) GetAPIKey(name string, bc BackendConfig) string {
	if key := s.APIKeys["backend:"+name]; key != "" {
		return key
	}
	if provider := GetProviderName(bc.BaseURL); provider != "generic" {
		if key := s.APIKeys[provider]; key != "" {
			return key
		}
	}
	// Local servers usually run without auth; empty is fine
	return s.APIKeys["generic"]
}

// GetProviderName extracts a provider name from a base URL
func GetProviderName(baseURL string) string {
	switch {
	case strings.Contains(baseURL, "openai.com"):
		return "openai"
	case strings.Contains(baseURL, "nvidia.com"):
		return "nvidia"
	case strings.Contains(baseURL, "together.xyz"), strings.Contains(baseURL, "together.ai"):
		return "together"
	case strings.Contains(baseURL, "openrouter.ai"):
		return "openrouter"
	}
	return "generic"
}
