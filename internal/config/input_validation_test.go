package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidateJobName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string // substring of expected error, empty for valid
	}{
		{name: "plain", input: "support-tickets-v2"},
		{name: "empty", input: ""},
		{name: "too_long", input: strings.Repeat("a", MaxJobNameLength+1), want: "exceeds maximum length"},
		{name: "null_byte", input: "job\x00name", want: "invalid control characters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateJobName(tt.input)
			if tt.want == "" {
				if err != nil {
					t.Errorf("validateJobName(%q) returned unexpected error: %v", tt.input, err)
				}
				return
			}
			if err == nil {
				t.Errorf("validateJobName(%q) expected error, got nil", tt.input)
			} else if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("validateJobName(%q) error = %v, want substring %q", tt.input, err, tt.want)
			}
		})
	}
}

func TestValidateModelName(t *testing.T) {
	valid := []string{"gpt-4o-mini", "meta/llama-3.1-70b-instruct", "qwen2.5:7b"}
	for _, m := range valid {
		if err := validateModelName(m, "main"); err != nil {
			t.Errorf("validateModelName(%q) returned unexpected error: %v", m, err)
		}
	}

	if err := validateModelName(strings.Repeat("m", MaxModelNameLength+1), "main"); err == nil {
		t.Error("expected error for overlong model name")
	}
	if err := validateModelName("model\x1b", "main"); err == nil {
		t.Error("expected error for control characters in model name")
	}
}

func TestValidateBaseURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"https://api.openai.com/v1", false},
		{"http://localhost:8080/v1", false},
		{"http://127.0.0.1:11434/v1", false},
		{"ftp://example.com", true},
		{"file:///etc/passwd", true},
		{"https://", true},
		{"://broken", true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			err := validateBaseURL(tt.url, "main")
			if (err != nil) != tt.wantErr {
				t.Errorf("validateBaseURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestValidateTemplateSizes(t *testing.T) {
	cfg := &Config{Strategy: StrategyConfig{Template: "{{.Sample}}"}}
	if err := cfg.validateTemplateSizes(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg.Strategy.AnswerPrompt = strings.Repeat("x", MaxTemplateSize+1)
	err := cfg.validateTemplateSizes()
	if err == nil || !strings.Contains(err.Error(), "strategy.answer_prompt") {
		t.Errorf("expected answer_prompt size error, got %v", err)
	}
}

func TestContainsControlChars(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"normal text", false},
		{"line\nbreak", false},
		{"tab\there", false},
		{"crlf\r\n", false},
		{"null\x00", true},
		{"escape\x1b[0m", true},
		{"delete\x7f", true},
	}

	for _, tt := range tests {
		if got := containsControlChars(tt.input); got != tt.want {
			t.Errorf("containsControlChars(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestValidateInputs_Integration(t *testing.T) {
	dir := t.TempDir()
	inputPath := filepath.Join(dir, "records.jsonl")
	if err := os.WriteFile(inputPath, []byte(`{"text":"a"}`+"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	newConfig := func() *Config {
		cfg, err := Parse([]byte(minimalTOML(inputPath)))
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		return cfg
	}

	if err := newConfig().ValidateInputs(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad scheme", func(c *Config) {
			bc := c.Backends["main"]
			bc.BaseURL = "gopher://example.com"
			c.Backends["main"] = bc
		}, "http or https"},
		{"missing input", func(c *Config) { c.Input.Path = filepath.Join(dir, "missing.jsonl") }, "input.path"},
		{"missing pack", func(c *Config) {
			c.Strategy.TemplatePack = filepath.Join(dir, "pack.yaml")
			c.Strategy.TemplateName = "x"
		}, "template_pack"},
		{"empty label", func(c *Config) { c.Strategy.LabelSet = []string{"ok", ""} }, "label_set"},
		{"too many labels", func(c *Config) {
			c.Strategy.LabelSet = make([]string, MaxLabelCount+1)
			for i := range c.Strategy.LabelSet {
				c.Strategy.LabelSet[i] = "l"
			}
		}, "exceeds"},
		{"control chars in job name", func(c *Config) { c.Job.Name = "bad\x00" }, "job.name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newConfig()
			tt.mutate(cfg)
			err := cfg.ValidateInputs()
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want substring %q", err, tt.want)
			}
		})
	}
}
