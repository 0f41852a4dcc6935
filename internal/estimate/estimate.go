// Package estimate produces next-token probability distributions from
// language model backends of varying capability.
//
// A Tiered estimator walks an ordered list of tiers: exact log-probabilities
// when the backend exposes them, a distribution approximated from parallel
// single-token completions when it does not, and a static emergency
// distribution that cannot fail. Degradation between tiers is logged and
// never reported to the caller.
package estimate

import (
	"context"
	"math"
)

// TokenProb is a token id with its (possibly unnormalized) probability.
type TokenProb struct {
	ID   int
	Prob float64
}

// Distribution is an ordered list of token probabilities. Entries need not
// sum to one and ids may repeat.
type Distribution []TokenProb

// Usable reports whether d has at least one finite, positive entry.
func (d Distribution) Usable() bool {
	for _, tp := range d {
		if tp.Prob > 0 && !math.IsInf(tp.Prob, 0) && !math.IsNaN(tp.Prob) {
			return true
		}
	}
	return false
}

// Estimator returns the next-token distribution for a token history.
//
// Implementations must not panic and must always return something: failure
// is expressed by falling back, not by an error.
type Estimator interface {
	EstimateNextTokenDistribution(ctx context.Context, history []int, params Params) Distribution
}

// Tier is one strategy in a Tiered estimator.
type Tier interface {
	Name() string
	Estimate(ctx context.Context, history []int, params Params) (Distribution, error)
}

// EstimatorFunc adapts a function to the Estimator interface.
type EstimatorFunc func(ctx context.Context, history []int, params Params) Distribution

// EstimateNextTokenDistribution calls f.
func (f EstimatorFunc) EstimateNextTokenDistribution(ctx context.Context, history []int, params Params) Distribution {
	return f(ctx, history, params)
}
