// Package sampling generates text that is guaranteed to start with a given
// character prefix, on models that are reachable only through a next-token
// distribution estimate.
//
// This package wraps the internal sampling and estimation implementations
// and provides a clean public API.
//
// Components:
//   - PrefixSampler: the constrained step loop
//   - Estimator: next-token distribution source, usually a Tiered stack
//   - Tiered: direct log-probabilities, parallel candidates, then a static fallback
//
// Example usage:
//
//	import (
//	    "github.com/born-ml/charprefix/sampling"
//	    "github.com/born-ml/charprefix/tokenizer"
//	)
//
//	tok, _ := tokenizer.NewTikToken("cl100k_base")
//	s, closeFn, err := sampling.NewForProvider(ctx, "openai", sampling.ProviderConfig{APIKey: key}, tok)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer closeFn()
//
//	req := sampling.DefaultRequest()
//	req.Prefix = "func main("
//	res, err := s.Sample(ctx, req)
package sampling

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/born-ml/charprefix/internal/estimate"
	"github.com/born-ml/charprefix/internal/provider"
	_ "github.com/born-ml/charprefix/internal/provider/providers"
	"github.com/born-ml/charprefix/internal/sampling"
	"github.com/born-ml/charprefix/internal/tokenizer"
)

// Requests and results

// Request describes one constrained generation.
//
// Parameters:
//   - Prefix: Literal text the output must start with
//   - MaxTokens: Maximum number of tokens to generate
//   - Temperature: Controls randomness (0 = greedy, 1 = unchanged)
//   - TopP: Nucleus sampling mass (0 = disabled)
//   - TopK: Limits sampling to top K tokens (0 = disabled)
//   - StopSequences: Strings that end generation once past the prefix
//   - Seed: Random seed for reproducibility (-1 = random)
//   - Params: Opaque options forwarded to the estimator
type Request = sampling.Request

// DefaultRequest returns the default request settings.
//
// Defaults:
//   - MaxTokens: 500
//   - Temperature: 0.7
//   - TopP: 0.9
//   - TopK: 40
//   - Seed: -1 (random)
func DefaultRequest() Request {
	return sampling.DefaultRequest()
}

// Result is the outcome of a sampling run.
type Result = sampling.Result

// Step is one streamed sampling event.
type Step = sampling.Step

// Status is the terminal state of a sampling run.
type Status = sampling.Status

// Terminal states.
const (
	StatusCompleted           = sampling.StatusCompleted
	StatusStoppedOnSequence   = sampling.StatusStoppedOnSequence
	StatusMaxTokensReached    = sampling.StatusMaxTokensReached
	StatusPrefixUnsatisfiable = sampling.StatusPrefixUnsatisfiable
	StatusCancelled           = sampling.StatusCancelled
)

// ErrInvalidRequest is wrapped by every request validation error.
var ErrInvalidRequest = sampling.ErrInvalidRequest

// PrefixSampler

// PrefixSampler runs prefix-constrained generation.
type PrefixSampler = sampling.PrefixSampler

// Option configures a PrefixSampler.
type Option = sampling.Option

// WithLogger sets the sampler logger.
func WithLogger(logger *slog.Logger) Option {
	return sampling.WithLogger(logger)
}

// NewPrefixSampler creates a sampler over tok and est.
func NewPrefixSampler(tok tokenizer.Tokenizer, est Estimator, opts ...Option) *PrefixSampler {
	return sampling.NewPrefixSampler(tok, est, opts...)
}

// Estimation

// Estimator returns next-token distributions.
type Estimator = estimate.Estimator

// EstimatorFunc adapts a function to Estimator.
type EstimatorFunc = estimate.EstimatorFunc

// Distribution is a next-token distribution.
type Distribution = estimate.Distribution

// TokenProb is one entry of a Distribution.
type TokenProb = estimate.TokenProb

// Params carries estimator options.
type Params = estimate.Params

// Tier is one estimation strategy in a Tiered stack.
type Tier = estimate.Tier

// Tiered tries each tier in order and falls back to a static distribution.
type Tiered = estimate.Tiered

// TieredOption configures a Tiered estimator.
type TieredOption = estimate.Option

// NewTiered creates a tiered estimator. The static fallback is always last.
func NewTiered(tok tokenizer.Tokenizer, tiers []Tier, opts ...TieredOption) *Tiered {
	return estimate.NewTiered(tok, tiers, opts...)
}

// Providers

// ProviderConfig selects and authenticates a hosted backend.
type ProviderConfig = provider.Config

// Providers returns the names of the registered backends.
func Providers() []string {
	return provider.Available()
}

// NewForProvider connects the named backend and returns a sampler over all
// the tiers it supports. The returned function closes the backend.
func NewForProvider(ctx context.Context, name string, cfg ProviderConfig, tok tokenizer.Tokenizer, opts ...Option) (*PrefixSampler, func() error, error) {
	backend, err := provider.New(ctx, name, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect %s: %w", name, err)
	}

	logger := slog.Default()
	tiers := backend.Tiers(tok, logger)
	est := estimate.NewTiered(tok, tiers, estimate.WithLogger(logger))
	return sampling.NewPrefixSampler(tok, est, opts...), backend.Close, nil
}
