// Package sampling generates token sequences whose decoded text is
// guaranteed to start with a given literal prefix.
//
// The model is only reachable through an estimate.Estimator, so the
// constraint is enforced locally: at every step the next-token distribution
// is restricted to tokens that keep the prefix reachable, then temperature,
// top-k and top-p are applied before drawing.
package sampling

import (
	"errors"
	"fmt"
	"math"

	"github.com/born-ml/charprefix/internal/estimate"
)

// ErrInvalidRequest is wrapped by every request validation error.
var ErrInvalidRequest = errors.New("invalid request")

// Status is the terminal state of a sampling run.
type Status string

const (
	// StatusCompleted means the prefix was produced and generation ended
	// naturally.
	StatusCompleted Status = "completed"
	// StatusStoppedOnSequence means a stop sequence was produced.
	StatusStoppedOnSequence Status = "stopped_on_sequence"
	// StatusMaxTokensReached means the token budget ran out after the prefix
	// was produced.
	StatusMaxTokensReached Status = "max_tokens_reached"
	// StatusPrefixUnsatisfiable means no token could continue the prefix.
	StatusPrefixUnsatisfiable Status = "prefix_unsatisfiable"
	// StatusCancelled means the context ended the run.
	StatusCancelled Status = "cancelled"
)

// Success reports whether the run produced the full prefix.
func (s Status) Success() bool {
	switch s {
	case StatusCompleted, StatusStoppedOnSequence, StatusMaxTokensReached:
		return true
	default:
		return false
	}
}

// Request describes one constrained generation.
type Request struct {
	// Prefix is the literal text the output must start with.
	Prefix string

	// MaxTokens is the maximum number of tokens to generate.
	MaxTokens int

	// Temperature controls randomness. 0 = greedy, 1 = unchanged.
	Temperature float64

	// TopP (nucleus sampling) keeps the smallest set reaching mass P. 0 = disabled.
	TopP float64

	// TopK limits sampling to the top K tokens. 0 = disabled.
	TopK int

	// StopSequences end generation once they appear past the prefix.
	StopSequences []string

	// Seed for reproducibility. -1 = random.
	Seed int64

	// Params are passed to the estimator untouched, apart from the prefix
	// and run id.
	Params estimate.Params
}

// DefaultRequest returns the defaults used by the CLI and config layer.
func DefaultRequest() Request {
	return Request{
		MaxTokens:   500,
		Temperature: 0.7,
		TopP:        0.9,
		TopK:        40,
		Seed:        -1,
	}
}

// Validate checks the request bounds.
func (r Request) Validate() error {
	switch {
	case r.MaxTokens <= 0:
		return fmt.Errorf("%w: max tokens must be positive, got %d", ErrInvalidRequest, r.MaxTokens)
	case r.Temperature < 0 || math.IsNaN(r.Temperature) || math.IsInf(r.Temperature, 0):
		return fmt.Errorf("%w: temperature must be a finite value >= 0, got %v", ErrInvalidRequest, r.Temperature)
	case r.TopP < 0 || r.TopP > 1 || math.IsNaN(r.TopP):
		return fmt.Errorf("%w: top_p must be in (0, 1] or 0 to disable, got %v", ErrInvalidRequest, r.TopP)
	case r.TopK < 0:
		return fmt.Errorf("%w: top_k must be >= 0, got %d", ErrInvalidRequest, r.TopK)
	}
	for i, s := range r.StopSequences {
		if s == "" {
			return fmt.Errorf("%w: stop sequence %d is empty", ErrInvalidRequest, i)
		}
	}
	return nil
}

// Result is the outcome of a sampling run. Failures are reported through
// Status together with the tokens produced so far.
type Result struct {
	Tokens []int
	Status Status
	// Text is the decoded token sequence.
	Text string
	// Steps counts estimator round trips.
	Steps int
	RunID string
}

// Step is one streamed sampling event.
type Step struct {
	TokenID int
	Token   string
	// Remaining is the part of the prefix still to be produced.
	Remaining string
	Done      bool
	Status    Status
}
