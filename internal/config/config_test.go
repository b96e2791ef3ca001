package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func minimalTOML(inputPath string) string {
	return fmt.Sprintf(`
[job]
name = "demo"

[input]
path = %q

[strategy]
kind = "expand"
count = 3

[backends.main]
kind = "local"
base_url = "http://localhost:8000/v1"
model_name = "qwen"
`, inputPath)
}

func TestParse_AppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalTOML("in.jsonl")))
	require.NoError(t, err)

	assert.Equal(t, 500, cfg.Job.ChunkSize)
	assert.Equal(t, 8, cfg.Job.Concurrency)
	assert.Equal(t, 30, cfg.Job.GraceTimeoutSeconds)
	assert.Equal(t, 600, cfg.Job.GiveUpAfterSeconds)
	assert.Equal(t, "output", cfg.Output.Dir)

	assert.Equal(t, 3, cfg.Strategy.Count)
	assert.Equal(t, "output", cfg.Strategy.TargetField)
	assert.Equal(t, GetDefaultExpandTemplate(), cfg.Strategy.Template)

	assert.Equal(t, 10, cfg.Quality.MinLength)
	assert.Equal(t, 200000, cfg.Quality.MaxLength)
	assert.InDelta(t, 0.9, cfg.Quality.DuplicateThreshold, 1e-9)

	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, 2000, cfg.Retry.BaseDelayMillis)
	assert.Equal(t, StoreFile, cfg.Checkpoint.Store)

	bc := cfg.Backends["main"]
	assert.Equal(t, BackendLocal, bc.Kind)
	assert.Equal(t, 60, bc.RateLimitPerMinute)
	assert.Equal(t, 8, bc.MaxConcurrency)
	assert.Equal(t, 30, bc.CooldownSeconds)

	name, active := cfg.ActiveBackend()
	assert.Equal(t, "main", name)
	assert.Equal(t, "qwen", active.ModelName)
}

func TestParse_StrategyDefaults(t *testing.T) {
	tests := []struct {
		name       string
		strategy   string
		wantTarget string
		wantCount  int
	}{
		{"classify writes label", `kind = "classify"` + "\n" + `label_set = ["a", "b"]`, "label", 1},
		{"rewrite targets source field", `kind = "rewrite"` + "\n" + `source_field = "text"`, "text", 1},
		{"rewrite without source", `kind = "rewrite"`, "output", 1},
		{"qa", `kind = "qa"`, "output", 1},
		{"expand default count", `kind = "expand"`, "output", 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := fmt.Sprintf(`
[input]
path = "in.jsonl"

[strategy]
%s

[backends.main]
base_url = "https://api.openai.com/v1"
model_name = "gpt-4o-mini"
`, tt.strategy)
			cfg, err := Parse([]byte(data))
			require.NoError(t, err)
			assert.Equal(t, tt.wantTarget, cfg.Strategy.TargetField)
			assert.Equal(t, tt.wantCount, cfg.Strategy.Count)
			assert.Equal(t, BackendHosted, cfg.Backends["main"].Kind)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing input", func(c *Config) { c.Input.Path = "" }, "input.path is required"},
		{"bad format", func(c *Config) { c.Input.Format = "csv" }, "input.format"},
		{"concurrency too high", func(c *Config) { c.Job.Concurrency = 2000 }, "job.concurrency"},
		{"chunk size zero", func(c *Config) { c.Job.ChunkSize = 0 }, "job.chunk_size"},
		{"unknown strategy", func(c *Config) { c.Strategy.Kind = "summarize" }, "strategy.kind"},
		{"classify without labels", func(c *Config) {
			c.Strategy.Kind = StrategyClassify
			c.Strategy.LabelSet = nil
		}, "label_set is required"},
		{"custom without template", func(c *Config) {
			c.Strategy.Kind = StrategyCustom
			c.Strategy.Template = ""
		}, "template or strategy.template_pack"},
		{"pack without name", func(c *Config) { c.Strategy.TemplatePack = "pack.yaml" }, "template_name"},
		{"reasoning flags conflict", func(c *Config) {
			c.Strategy.StripReasoning = true
			c.Strategy.KeepReasoning = true
		}, "mutually exclusive"},
		{"max below min length", func(c *Config) { c.Quality.MaxLength = 5 }, "quality.max_length"},
		{"duplicate threshold out of range", func(c *Config) { c.Quality.DuplicateThreshold = 1.5 }, "duplicate_threshold"},
		{"unknown job backend", func(c *Config) { c.Job.Backend = "missing" }, "not defined"},
		{"bad store", func(c *Config) { c.Checkpoint.Store = "redis" }, "checkpoint.store"},
		{"streaming on hosted", func(c *Config) {
			bc := c.Backends["main"]
			bc.Kind = BackendHosted
			bc.UseStreaming = true
			c.Backends["main"] = bc
		}, "use_streaming"},
		{"tokens exceed context", func(c *Config) {
			bc := c.Backends["main"]
			bc.MaxOutputTokens = 100000
			c.Backends["main"] = bc
		}, "must not exceed context_size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(minimalTOML("in.jsonl")))
			require.NoError(t, err)

			tt.mutate(cfg)
			err = cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_MultipleBackendsRequireSelection(t *testing.T) {
	cfg, err := Parse([]byte(minimalTOML("in.jsonl")))
	require.NoError(t, err)

	cfg.Backends["other"] = cfg.Backends["main"]
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job.backend is required")

	cfg.Job.Backend = "other"
	assert.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	inputPath := filepath.Join(dir, "input.jsonl")
	require.NoError(t, os.WriteFile(inputPath, []byte(`{"text":"hello"}`+"\n"), 0644))

	configPath := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(configPath, []byte(minimalTOML(inputPath)), 0644))

	cfg, secrets, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, inputPath, cfg.Input.Path)
	assert.NotNil(t, secrets)
}

func TestLoad_MissingInput(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(configPath, []byte(minimalTOML(filepath.Join(dir, "nope.jsonl"))), 0644))

	_, _, err := Load(configPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "input.path")
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()

	// Missing file is tolerated
	assert.NoError(t, LoadEnvFile(filepath.Join(dir, "absent.env")))

	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("SYNTHFORGE_TEST_KEY=\"abc123\"\n# comment\n"), 0644))
	t.Cleanup(func() { _ = os.Unsetenv("SYNTHFORGE_TEST_KEY") })

	require.NoError(t, LoadEnvFile(envPath))
	assert.Equal(t, "abc123", os.Getenv("SYNTHFORGE_TEST_KEY"))
}

func TestSecrets_GetAPIKey(t *testing.T) {
	t.Setenv("API_KEY", "generic-key")
	t.Setenv("OPENAI_API_KEY", "openai-key")
	t.Setenv("MY_LOCAL_KEY", "local-key")

	backends := map[string]BackendConfig{
		"hosted": {BaseURL: "https://api.openai.com/v1"},
		"local":  {BaseURL: "http://localhost:8000/v1", APIKeyEnv: "MY_LOCAL_KEY"},
		"other":  {BaseURL: "https://example.com/v1"},
	}
	secrets := LoadSecrets(backends)

	assert.Equal(t, "openai-key", secrets.GetAPIKey("hosted", backends["hosted"]))
	assert.Equal(t, "local-key", secrets.GetAPIKey("local", backends["local"]))
	assert.Equal(t, "generic-key", secrets.GetAPIKey("other", backends["other"]))
}

func TestGetProviderName(t *testing.T) {
	tests := map[string]string{
		"https://api.openai.com/v1":           "openai",
		"https://integrate.api.nvidia.com/v1": "nvidia",
		"https://api.together.xyz/v1":         "together",
		"https://openrouter.ai/api/v1":        "openrouter",
		"http://localhost:11434/v1":           "generic",
	}
	for url, want := range tests {
		assert.Equal(t, want, GetProviderName(url), url)
	}
}

func TestInputFormat(t *testing.T) {
	cfg := &Config{Input: InputConfig{Path: "data/records.JSON"}}
	assert.Equal(t, "json", cfg.InputFormat())

	cfg.Input.Path = "data/records.jsonl"
	assert.Equal(t, "jsonl", cfg.InputFormat())

	cfg.Input.Format = "json"
	assert.Equal(t, "json", cfg.InputFormat())
}
