// Package config loads cpc settings from defaults, a YAML or TOML file and
// CPC_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/born-ml/charprefix/internal/estimate"
	"github.com/born-ml/charprefix/internal/logutil"
	"github.com/born-ml/charprefix/internal/provider"
	"github.com/born-ml/charprefix/internal/sampling"
)

// ErrUnsupportedFormat is returned for config files that are neither YAML nor TOML.
var ErrUnsupportedFormat = errors.New("unsupported config format")

// Config is the full cpc configuration.
type Config struct {
	Sampling  SamplingConfig  `yaml:"sampling" toml:"sampling"`
	Estimator EstimatorConfig `yaml:"estimator" toml:"estimator"`
	Tokenizer TokenizerConfig `yaml:"tokenizer" toml:"tokenizer"`
	Provider  ProviderConfig  `yaml:"provider" toml:"provider"`
	Log       LogConfig       `yaml:"log" toml:"log"`
}

// SamplingConfig holds request defaults.
type SamplingConfig struct {
	MaxTokens     int      `yaml:"max_tokens" toml:"max_tokens"`
	Temperature   float64  `yaml:"temperature" toml:"temperature"`
	TopP          float64  `yaml:"top_p" toml:"top_p"`
	TopK          int      `yaml:"top_k" toml:"top_k"`
	StopSequences []string `yaml:"stop_sequences" toml:"stop_sequences"`
	Seed          int64    `yaml:"seed" toml:"seed"`

	// PromptPrefix frames every backend prompt.
	PromptPrefix string `yaml:"prompt_prefix" toml:"prompt_prefix"`
}

// EstimatorConfig tunes the tiered estimator.
type EstimatorConfig struct {
	TierTimeout time.Duration `yaml:"tier_timeout" toml:"tier_timeout"`

	// Concurrency bounds in-flight candidate completions. 0 = unbounded.
	Concurrency int `yaml:"concurrency" toml:"concurrency"`

	// CandidatesPerStep fixes the candidate count. 0 = adaptive.
	CandidatesPerStep int `yaml:"candidates_per_step" toml:"candidates_per_step"`

	Candidates estimate.CandidateSettings `yaml:"candidates" toml:"candidates"`
}

// TokenizerConfig selects the local tokenizer.
type TokenizerConfig struct {
	// Name is a tiktoken encoding or model name, "charhash", or a path to
	// a HuggingFace tokenizer.json or its directory.
	Name string `yaml:"name" toml:"name"`
}

// ProviderConfig selects the backend. An empty Name runs on the emergency
// tier alone.
type ProviderConfig struct {
	Name        string        `yaml:"name" toml:"name"`
	Model       string        `yaml:"model" toml:"model"`
	APIKey      string        `yaml:"api_key" toml:"api_key"`
	BaseURL     string        `yaml:"base_url" toml:"base_url"`
	Timeout     time.Duration `yaml:"timeout" toml:"timeout"`
	TopLogprobs int           `yaml:"top_logprobs" toml:"top_logprobs"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	req := sampling.DefaultRequest()
	return &Config{
		Sampling: SamplingConfig{
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
			TopP:        req.TopP,
			TopK:        req.TopK,
			Seed:        req.Seed,
		},
		Estimator: EstimatorConfig{
			TierTimeout: estimate.DefaultTierTimeout,
			Concurrency: 8,
			Candidates:  estimate.DefaultCandidateSettings(),
		},
		Tokenizer: TokenizerConfig{Name: "cl100k_base"},
		Log:       LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults. The format follows the extension:
// .yaml, .yml or .toml.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path) //nolint:gosec // G304: Path comes from trusted caller
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	return cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	req := c.Request("")
	if err := req.Validate(); err != nil {
		return fmt.Errorf("sampling: %w", err)
	}

	e := c.Estimator
	switch {
	case e.TierTimeout < 0:
		return fmt.Errorf("estimator: tier_timeout must be >= 0, got %v", e.TierTimeout)
	case e.Concurrency < 0:
		return fmt.Errorf("estimator: concurrency must be >= 0, got %d", e.Concurrency)
	case e.CandidatesPerStep < 0:
		return fmt.Errorf("estimator: candidates_per_step must be >= 0, got %d", e.CandidatesPerStep)
	case e.Candidates.Temperature < 0 || math.IsNaN(float64(e.Candidates.Temperature)):
		return fmt.Errorf("estimator: candidate temperature must be >= 0, got %v", e.Candidates.Temperature)
	case e.Candidates.TopP < 0 || e.Candidates.TopP > 1:
		return fmt.Errorf("estimator: candidate top_p must be in [0, 1], got %v", e.Candidates.TopP)
	}

	if c.Tokenizer.Name == "" {
		return errors.New("tokenizer: name is required")
	}

	if c.Provider.Name != "" {
		if err := c.ProviderConfig().Validate(); err != nil {
			return fmt.Errorf("provider %s: %w", c.Provider.Name, err)
		}
	}

	if _, err := logutil.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log: unknown format %q", c.Log.Format)
	}

	return nil
}

// Request builds a sampling request for prefix from the sampling section.
func (c *Config) Request(prefix string) sampling.Request {
	s := c.Sampling
	req := sampling.Request{
		Prefix:        prefix,
		MaxTokens:     s.MaxTokens,
		Temperature:   s.Temperature,
		TopP:          s.TopP,
		TopK:          s.TopK,
		StopSequences: append([]string(nil), s.StopSequences...),
		Seed:          s.Seed,
		Params:        estimate.Params{},
	}
	if s.PromptPrefix != "" {
		req.Params[estimate.ParamPromptPrefix] = s.PromptPrefix
	}
	if n := c.Estimator.CandidatesPerStep; n > 0 {
		req.Params[estimate.ParamCandidatesPerStep] = n
	}
	return req
}

// ProviderConfig converts the provider section.
func (c *Config) ProviderConfig() provider.Config {
	p := c.Provider
	return provider.Config{
		Model:       p.Model,
		APIKey:      p.APIKey,
		BaseURL:     p.BaseURL,
		Timeout:     p.Timeout,
		TopLogprobs: p.TopLogprobs,
	}
}

// EstimatorOptions returns the tiered estimator options.
func (c *Config) EstimatorOptions(logger *slog.Logger) []estimate.Option {
	return []estimate.Option{
		estimate.WithTierTimeout(c.Estimator.TierTimeout),
		estimate.WithLogger(logger),
	}
}

// CandidateOptions returns the candidates tier options.
func (c *Config) CandidateOptions() []estimate.CandidatesOption {
	return []estimate.CandidatesOption{
		estimate.WithCandidateSettings(c.Estimator.Candidates),
		estimate.WithConcurrency(c.Estimator.Concurrency),
	}
}

// Logger builds the configured logger writing to w.
func (c *Config) Logger(w io.Writer) (*slog.Logger, error) {
	level, err := logutil.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	return logutil.NewLogger(w, level, c.Log.Format), nil
}
