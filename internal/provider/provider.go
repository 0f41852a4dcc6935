// Package provider connects hosted language models to the estimation tiers.
//
// A provider turns a Config into a Backend. A Backend exposes the
// capabilities the model actually has: top log-probabilities for the
// direct tier, short completions for the candidates tier, or both.
// Providers register themselves from init; import
// internal/provider/providers to make all of them available.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/born-ml/charprefix/internal/estimate"
	"github.com/born-ml/charprefix/internal/tokenizer"
)

// Config selects and authenticates a backend.
type Config struct {
	Model   string        `yaml:"model" toml:"model"`
	APIKey  string        `yaml:"api_key" toml:"api_key"`
	BaseURL string        `yaml:"base_url" toml:"base_url"`
	Timeout time.Duration `yaml:"timeout" toml:"timeout"`

	// TopLogprobs is how many alternatives the direct tier asks for.
	// Zero uses the provider default.
	TopLogprobs int `yaml:"top_logprobs" toml:"top_logprobs"`
}

// Validate checks the fields every provider needs.
func (c Config) Validate() error {
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative, got %s", c.Timeout)
	}
	if c.TopLogprobs < 0 {
		return fmt.Errorf("top_logprobs must be non-negative, got %d", c.TopLogprobs)
	}
	return nil
}

// Backend is a connected model. Either source may be nil when the model
// does not support it.
type Backend struct {
	Name       string
	Logprobs   estimate.LogprobSource
	Candidates estimate.CandidateSource

	closer func() error
}

// NewBackend creates a backend. close may be nil.
func NewBackend(name string, logprobs estimate.LogprobSource, candidates estimate.CandidateSource, closeFn func() error) *Backend {
	return &Backend{
		Name:       name,
		Logprobs:   logprobs,
		Candidates: candidates,
		closer:     closeFn,
	}
}

// Close releases the underlying client.
func (b *Backend) Close() error {
	if b == nil || b.closer == nil {
		return nil
	}
	return b.closer()
}

// DefaultRetry retries transient backend errors a few times. The tier
// deadline still bounds the whole attempt.
func DefaultRetry() estimate.Retry {
	return estimate.Retry{
		Attempts:  3,
		Backoff:   200 * time.Millisecond,
		Retryable: IsRetryable,
	}
}

// Tiers returns the estimation tiers this backend can serve, most precise
// first. The emergency tier is not included. Both tiers retry transient
// errors under DefaultRetry unless opts say otherwise.
func (b *Backend) Tiers(tok tokenizer.Tokenizer, logger *slog.Logger, opts ...estimate.CandidatesOption) []estimate.Tier {
	retry := DefaultRetry()

	var tiers []estimate.Tier
	if b.Logprobs != nil {
		tiers = append(tiers, estimate.NewDirect(b.Logprobs, tok, logger, estimate.WithDirectRetry(retry)))
	}
	if b.Candidates != nil {
		opts = append([]estimate.CandidatesOption{
			estimate.WithCandidatesLogger(logger),
			estimate.WithCandidateRetry(retry),
		}, opts...)
		tiers = append(tiers, estimate.NewCandidates(b.Candidates, tok, opts...))
	}
	return tiers
}

// Factory creates a Backend from the given configuration.
type Factory func(ctx context.Context, cfg Config) (*Backend, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register adds a provider factory to the registry. Providers call this in
// their init function. Panics if name is already registered.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("provider %q already registered", name))
	}
	registry[name] = factory
}

// New creates a Backend using the named provider.
// Returns ErrUnknownProvider if the provider is not registered.
func New(ctx context.Context, name string, cfg Config) (*Backend, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s config: %w", name, err)
	}
	return factory(ctx, cfg)
}

// Available returns the names of all registered providers, sorted.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsConfigError reports whether err came from Config validation or an
// unknown provider name rather than from the backend.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrUnknownProvider) || errors.Is(err, ErrMissingAPIKey)
}
