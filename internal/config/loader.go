package config

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Load reads and parses the configuration file and environment variables
func Load(configPath string) (*Config, *Secrets, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to read config file")
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, nil, err
	}

	if err := cfg.ValidateInputs(); err != nil {
		return nil, nil, errors.Wrap(err, "input validation failed")
	}

	return cfg, LoadSecrets(cfg.Backends), nil
}

// Parse decodes TOML, applies defaults and validates the result.
// It does not touch the filesystem.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return &cfg, nil
}

// LoadEnvFile loads KEY=VALUE pairs into the process environment.
// A missing file is not an error; the environment alone is enough to run.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "failed to load env file %s", path)
	}
	return nil
}

// Quality battery defaults
const (
	DefaultMinLength          = 10
	DefaultMaxLength          = 200000
	DefaultDuplicateThreshold = 0.9
	DefaultMinScore           = 0.7
)

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.Job.ChunkSize == 0 {
		cfg.Job.ChunkSize = 500
	}
	if cfg.Job.Concurrency == 0 {
		cfg.Job.Concurrency = 8
	}
	if cfg.Job.GraceTimeoutSeconds == 0 {
		cfg.Job.GraceTimeoutSeconds = 30
	}
	if cfg.Job.GiveUpAfterSeconds == 0 {
		cfg.Job.GiveUpAfterSeconds = 600
	}
	if cfg.Output.Dir == "" {
		cfg.Output.Dir = "output"
	}

	// Strategy defaults
	if cfg.Strategy.Count == 0 {
		if cfg.Strategy.Kind == StrategyExpand {
			cfg.Strategy.Count = 5
		} else {
			cfg.Strategy.Count = 1
		}
	}
	if cfg.Strategy.TargetField == "" {
		switch cfg.Strategy.Kind {
		case StrategyClassify:
			cfg.Strategy.TargetField = "label"
		case StrategyRewrite:
			if cfg.Strategy.SourceField != "" {
				cfg.Strategy.TargetField = cfg.Strategy.SourceField
			} else {
				cfg.Strategy.TargetField = "output"
			}
		default:
			cfg.Strategy.TargetField = "output"
		}
	}
	if cfg.Strategy.QuestionField == "" {
		cfg.Strategy.QuestionField = "instruction"
	}
	if cfg.Strategy.Template == "" && cfg.Strategy.Kind != StrategyCustom {
		cfg.Strategy.Template = GetDefaultTemplate(cfg.Strategy.Kind)
	}

	// Quality defaults
	if cfg.Quality.MinLength == 0 {
		cfg.Quality.MinLength = DefaultMinLength
	}
	if cfg.Quality.MaxLength == 0 {
		cfg.Quality.MaxLength = DefaultMaxLength
	}
	if cfg.Quality.DuplicateThreshold == 0 {
		cfg.Quality.DuplicateThreshold = DefaultDuplicateThreshold
	}
	if cfg.Quality.MinScore == 0 {
		cfg.Quality.MinScore = DefaultMinScore
	}

	// Retry defaults
	// NOTE: TOML can't distinguish 0 from unset, so 0 means default (3)
	// and -1 means no retries.
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry.MaxRetries = 3
	}
	if cfg.Retry.BaseDelayMillis == 0 {
		cfg.Retry.BaseDelayMillis = 2000
	}
	if cfg.Retry.MaxDelaySeconds == 0 {
		cfg.Retry.MaxDelaySeconds = 120
	}
	if cfg.Retry.RateLimitMultiplier == 0 {
		cfg.Retry.RateLimitMultiplier = 3
	}

	if cfg.Checkpoint.Store == "" {
		cfg.Checkpoint.Store = StoreFile
	}

	for name, bc := range cfg.Backends {
		if bc.Kind == "" {
			bc.Kind = BackendHosted
		}
		if bc.Temperature == 0 {
			bc.Temperature = 0.7
		}
		if bc.TopP == 0 {
			bc.TopP = 1.0
		}
		if bc.MaxOutputTokens == 0 {
			bc.MaxOutputTokens = 4096
		}
		if bc.ContextSize == 0 {
			bc.ContextSize = 16384
		}
		if bc.RateLimitPerMinute == 0 {
			bc.RateLimitPerMinute = 60
		}
		if bc.MaxConcurrency == 0 {
			bc.MaxConcurrency = 8
		}
		if bc.HTTPTimeoutSeconds == 0 {
			bc.HTTPTimeoutSeconds = 120
		}
		if bc.CooldownSeconds == 0 {
			bc.CooldownSeconds = 30
		}
		cfg.Backends[name] = bc
	}
}
