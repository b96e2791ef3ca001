package config

import (
	"os"
	"path/filepath"
	"testing"
)

// BenchmarkLoad benchmarks config loading
func BenchmarkLoad(b *testing.B) {
	tempDir := b.TempDir()
	inputPath := filepath.Join(tempDir, "input.jsonl")
	if err := os.WriteFile(inputPath, []byte(`{"text":"hello"}`+"\n"), 0644); err != nil {
		b.Fatal(err)
	}
	configPath := filepath.Join(tempDir, "config.toml")
	if err := os.WriteFile(configPath, []byte(minimalTOML(inputPath)), 0644); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := Load(configPath); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkValidate benchmarks validation of an already-defaulted config
func BenchmarkValidate(b *testing.B) {
	cfg, err := Parse([]byte(minimalTOML("input.jsonl")))
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := cfg.Validate(); err != nil {
			b.Fatal(err)
		}
	}
}
