package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every variable read by LoadFromEnv.
const EnvPrefix = "CPC_"

// dotEnvDepth is how many directories LoadDotEnv climbs.
const dotEnvDepth = 5

// LoadDotEnv loads the nearest .env file from dir or one of its parents.
// Variables already set in the environment are not overridden. A missing
// file is not an error. It returns the loaded path, if any.
func LoadDotEnv(dir string) (string, error) {
	for range dotEnvDepth {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			if err := godotenv.Load(envPath); err != nil {
				return "", fmt.Errorf("could not load %s: %w", envPath, err)
			}
			return envPath, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", nil
}

// LoadFromEnv overrides fields from CPC_* environment variables.
//
// Supported variables:
//   - CPC_PROVIDER, CPC_MODEL, CPC_API_KEY, CPC_BASE_URL, CPC_PROVIDER_TIMEOUT
//   - CPC_TOKENIZER
//   - CPC_MAX_TOKENS, CPC_TEMPERATURE, CPC_TOP_P, CPC_TOP_K, CPC_SEED
//   - CPC_STOP (comma-separated, \n escapes allowed)
//   - CPC_PROMPT_PREFIX
//   - CPC_TIER_TIMEOUT, CPC_CONCURRENCY, CPC_CANDIDATES_PER_STEP
//   - CPC_LOG_LEVEL, CPC_LOG_FORMAT
//
// When CPC_API_KEY is unset, OPENAI_API_KEY or GEMINI_API_KEY is used
// for the matching provider. Malformed values are reported together and
// leave the field unchanged.
func (c *Config) LoadFromEnv() error {
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok && v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = f
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = d
		}
	}

	str("PROVIDER", &c.Provider.Name)
	str("MODEL", &c.Provider.Model)
	str("API_KEY", &c.Provider.APIKey)
	str("BASE_URL", &c.Provider.BaseURL)
	duration("PROVIDER_TIMEOUT", &c.Provider.Timeout)

	str("TOKENIZER", &c.Tokenizer.Name)

	integer("MAX_TOKENS", &c.Sampling.MaxTokens)
	float("TEMPERATURE", &c.Sampling.Temperature)
	float("TOP_P", &c.Sampling.TopP)
	integer("TOP_K", &c.Sampling.TopK)
	if v, ok := os.LookupEnv(EnvPrefix + "SEED"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sSEED: %w", EnvPrefix, err))
		} else {
			c.Sampling.Seed = n
		}
	}
	if v, ok := os.LookupEnv(EnvPrefix + "STOP"); ok && v != "" {
		c.Sampling.StopSequences = SplitStops(v)
	}
	str("PROMPT_PREFIX", &c.Sampling.PromptPrefix)

	duration("TIER_TIMEOUT", &c.Estimator.TierTimeout)
	integer("CONCURRENCY", &c.Estimator.Concurrency)
	integer("CANDIDATES_PER_STEP", &c.Estimator.CandidatesPerStep)

	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	c.ResolveAPIKey()

	return errors.Join(errs...)
}

// ResolveAPIKey fills an empty API key from the vendor variable of the
// selected provider. Call it again after anything that changes the
// provider name.
func (c *Config) ResolveAPIKey() {
	if c.Provider.APIKey != "" {
		return
	}
	switch c.Provider.Name {
	case "openai":
		c.Provider.APIKey = os.Getenv("OPENAI_API_KEY")
	case "gemini":
		c.Provider.APIKey = os.Getenv("GEMINI_API_KEY")
	}
}

var escapes = strings.NewReplacer(`\n`, "\n", `\t`, "\t", `\r`, "\r")

// Unescape expands \n, \t and \r so stop sequences can be typed on a
// command line.
func Unescape(s string) string {
	return escapes.Replace(s)
}

// SplitStops splits a comma-separated stop list and unescapes each part.
func SplitStops(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = Unescape(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
