package estimate

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyDistribution means a tier produced no usable probabilities.
	ErrEmptyDistribution = errors.New("empty distribution")

	// ErrNoUsableCandidate means no candidate completion mapped to a token.
	ErrNoUsableCandidate = errors.New("no usable candidate")

	// ErrTierPanic means a tier panicked.
	ErrTierPanic = errors.New("tier panicked")

	// ErrTierTimeout means a tier did not answer within its budget.
	ErrTierTimeout = errors.New("tier timed out")
)

// TierError records why a tier was skipped.
type TierError struct {
	Tier string
	Err  error
}

func (e *TierError) Error() string {
	return fmt.Sprintf("%s tier: %v", e.Tier, e.Err)
}

func (e *TierError) Unwrap() error {
	return e.Err
}
