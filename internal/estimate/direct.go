package estimate

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/born-ml/charprefix/internal/tokenizer"
)

// TokenLogprob is one alternative reported for the next position.
type TokenLogprob struct {
	Token   string
	Logprob float64
}

// LogprobSource is a backend that reports top log-probabilities for the
// next token.
type LogprobSource interface {
	TopLogprobs(ctx context.Context, prompt Prompt) ([]TokenLogprob, error)
}

// Direct converts backend log-probabilities into a distribution over the
// local tokenizer's ids.
type Direct struct {
	src    LogprobSource
	tok    tokenizer.Tokenizer
	retry  Retry
	logger *slog.Logger
}

// DirectOption configures a Direct tier.
type DirectOption func(*Direct)

// WithDirectRetry retries failed log-probability calls under r.
func WithDirectRetry(r Retry) DirectOption {
	return func(d *Direct) {
		d.retry = r
	}
}

// NewDirect creates the log-probability tier.
func NewDirect(src LogprobSource, tok tokenizer.Tokenizer, logger *slog.Logger, opts ...DirectOption) *Direct {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Direct{src: src, tok: tok, logger: logger}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Name returns "direct".
func (d *Direct) Name() string { return "direct" }

// Estimate asks the backend for top log-probabilities. Each returned token
// string is mapped to the first id it encodes to; strings that do not encode
// are dropped.
func (d *Direct) Estimate(ctx context.Context, history []int, params Params) (Distribution, error) {
	prompt, err := BuildPrompt(d.tok, history, params)
	if err != nil {
		return nil, err
	}

	var entries []TokenLogprob
	err = d.retry.do(ctx, func(ctx context.Context) error {
		var err error
		entries, err = d.src.TopLogprobs(ctx, prompt)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch logprobs: %w", err)
	}

	dist := make(Distribution, 0, len(entries))
	for _, e := range entries {
		id, ok := tokenizer.FirstID(d.tok, e.Token)
		if !ok {
			d.logger.Debug("dropping unencodable token", "token", e.Token)
			continue
		}
		dist = append(dist, TokenProb{ID: id, Prob: math.Exp(e.Logprob)})
	}

	if len(dist) == 0 {
		return nil, ErrEmptyDistribution
	}
	return dist, nil
}
