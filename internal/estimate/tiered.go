package estimate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/born-ml/charprefix/internal/tokenizer"
)

// DefaultTierTimeout bounds a single tier attempt.
const DefaultTierTimeout = 15 * time.Second

// Tiered tries each tier in order and falls back to a static emergency
// distribution when all of them fail.
type Tiered struct {
	tiers     []Tier
	emergency *Emergency
	timeout   time.Duration
	logger    *slog.Logger
}

// Option configures a Tiered estimator.
type Option func(*Tiered)

// WithTierTimeout sets the budget of each tier attempt. Zero disables it.
func WithTierTimeout(d time.Duration) Option {
	return func(t *Tiered) {
		t.timeout = d
	}
}

// WithLogger sets the logger used to report degradation.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tiered) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithEmergency replaces the emergency tier built from the tokenizer.
func WithEmergency(e *Emergency) Option {
	return func(t *Tiered) {
		if e != nil {
			t.emergency = e
		}
	}
}

// NewTiered creates an estimator over tiers, tried in order. The emergency
// tier is always last and is built from tok unless WithEmergency is given.
func NewTiered(tok tokenizer.Tokenizer, tiers []Tier, opts ...Option) *Tiered {
	t := &Tiered{
		tiers:   tiers,
		timeout: DefaultTierTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.emergency == nil {
		t.emergency = NewEmergency(tok, t.logger)
	}
	return t
}

// Tiers returns the names of the configured tiers, emergency included.
func (t *Tiered) Tiers() []string {
	names := make([]string, 0, len(t.tiers)+1)
	for _, tier := range t.tiers {
		names = append(names, tier.Name())
	}
	return append(names, t.emergency.Name())
}

// EstimateNextTokenDistribution returns the first usable distribution.
func (t *Tiered) EstimateNextTokenDistribution(ctx context.Context, history []int, params Params) Distribution {
	logger := t.logger
	if id := params.String(ParamRunID); id != "" {
		logger = logger.With("run_id", id)
	}

	for _, tier := range t.tiers {
		if ctx.Err() != nil {
			logger.Debug("skipping tiers", "tier", tier.Name(), "cause", ctx.Err())
			break
		}

		dist, err := t.attempt(ctx, tier, history, params)
		if err == nil {
			return dist
		}
		logger.Warn("estimation tier degraded", "tier", tier.Name(), "cause", err)
	}

	return t.emergency.Distribution()
}

type tierResult struct {
	dist Distribution
	err  error
}

// attempt runs one tier under its own deadline. The tier runs on its own
// goroutine so a backend that ignores its context cannot stall the step.
func (t *Tiered) attempt(ctx context.Context, tier Tier, history []int, params Params) (Distribution, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	done := make(chan tierResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- tierResult{err: fmt.Errorf("%w: %v", ErrTierPanic, r)}
			}
		}()
		dist, err := tier.Estimate(ctx, history, params)
		done <- tierResult{dist: dist, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, &TierError{Tier: tier.Name(), Err: fmt.Errorf("%w: %w", ErrTierTimeout, ctx.Err())}
	case res := <-done:
		switch {
		case res.err != nil && ctx.Err() != nil:
			return nil, &TierError{Tier: tier.Name(), Err: fmt.Errorf("%w: %w", ErrTierTimeout, res.err)}
		case res.err != nil:
			return nil, &TierError{Tier: tier.Name(), Err: res.err}
		case !res.dist.Usable():
			return nil, &TierError{Tier: tier.Name(), Err: ErrEmptyDistribution}
		}
		return res.dist, nil
	}
}
