package estimate

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"unicode"

	"github.com/mitchellh/mapstructure"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/born-ml/charprefix/internal/tokenizer"
)

const (
	// minCandidates is the floor of the per-step candidate count.
	minCandidates = 10
	// maxProbeRunes is how many leading characters of a candidate are tried.
	maxProbeRunes = 3
	// positionDecay weights candidate i by exp(-positionDecay*i).
	positionDecay = 0.5
)

// CandidateSettings are the decoding settings used for candidate
// completions. They are deliberately looser than typical sampling settings
// so repeated calls disagree.
type CandidateSettings struct {
	Temperature     float32 `mapstructure:"temperature" yaml:"temperature" toml:"temperature"`
	TopP            float32 `mapstructure:"top_p" yaml:"top_p" toml:"top_p"`
	TopK            int32   `mapstructure:"top_k" yaml:"top_k" toml:"top_k"`
	MaxOutputTokens int32   `mapstructure:"max_output_tokens" yaml:"max_output_tokens" toml:"max_output_tokens"`
}

// DefaultCandidateSettings returns the settings used when none are given.
func DefaultCandidateSettings() CandidateSettings {
	return CandidateSettings{
		Temperature:     0.9,
		TopP:            0.98,
		TopK:            60,
		MaxOutputTokens: 1,
	}
}

// CandidateSource is a backend that can produce a short completion.
type CandidateSource interface {
	Complete(ctx context.Context, prompt Prompt, settings CandidateSettings) (string, error)
}

// Candidates approximates the next-token distribution by sampling many
// one-token completions concurrently and weighting them by dispatch order.
type Candidates struct {
	src      CandidateSource
	tok      tokenizer.Tokenizer
	settings CandidateSettings
	limit    int
	retry    Retry
	logger   *slog.Logger
}

// CandidatesOption configures a Candidates tier.
type CandidatesOption func(*Candidates)

// WithCandidateSettings replaces the default decoding settings.
func WithCandidateSettings(s CandidateSettings) CandidatesOption {
	return func(c *Candidates) {
		c.settings = s
	}
}

// WithConcurrency bounds in-flight completions. Zero means unbounded.
func WithConcurrency(n int) CandidatesOption {
	return func(c *Candidates) {
		c.limit = n
	}
}

// WithCandidateRetry retries each failed completion under r.
func WithCandidateRetry(r Retry) CandidatesOption {
	return func(c *Candidates) {
		c.retry = r
	}
}

// WithCandidatesLogger sets the logger.
func WithCandidatesLogger(logger *slog.Logger) CandidatesOption {
	return func(c *Candidates) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCandidates creates the parallel-candidate tier.
func NewCandidates(src CandidateSource, tok tokenizer.Tokenizer, opts ...CandidatesOption) *Candidates {
	c := &Candidates{
		src:      src,
		tok:      tok,
		settings: DefaultCandidateSettings(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns "candidates".
func (c *Candidates) Name() string { return "candidates" }

// CandidateCount returns the adaptive number of completions for prefix:
// max(10, round(10 * (1 + (min(len/2, 5) + special) / 10))), where special
// counts characters that are neither letters nor digits.
func CandidateCount(prefix string) int {
	var length, special int
	for _, r := range prefix {
		length++
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			special++
		}
	}

	complexity := math.Min(float64(length)/2, 5) + float64(special)
	// 10 * (1 + c/10) simplified to keep halves exact before rounding.
	n := int(math.Round(10 + complexity))
	return max(minCandidates, n)
}

// Estimate dispatches the candidate completions and folds them into a
// distribution. Individual failures contribute nothing.
func (c *Candidates) Estimate(ctx context.Context, history []int, params Params) (Distribution, error) {
	prompt, err := BuildPrompt(c.tok, history, params)
	if err != nil {
		return nil, err
	}

	n := CandidateCount(params.String(ParamPrefix))
	if override, ok := params.Int(ParamCandidatesPerStep); ok && override > 0 {
		n = max(minCandidates, override)
	}
	settings := c.settingsFor(params)

	texts := make([]string, n)
	var g errgroup.Group
	if c.limit > 0 {
		g.SetLimit(c.limit)
	}
	for i := range n {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Warn("candidate panicked", "index", i, "panic", r)
				}
			}()
			var text string
			err := c.retry.do(ctx, func(ctx context.Context) error {
				var err error
				text, err = c.src.Complete(ctx, prompt, settings)
				return err
			})
			if err != nil {
				c.logger.Debug("candidate failed", "index", i, "error", err)
				return nil
			}
			texts[i] = text
			return nil
		})
	}
	_ = g.Wait()

	dist := c.fold(texts)
	if len(dist) == 0 {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrNoUsableCandidate, ctx.Err())
		}
		return nil, ErrNoUsableCandidate
	}
	return dist, nil
}

// fold maps each candidate to a token id and accumulates positional weights.
// The result is normalized and ordered by first appearance.
func (c *Candidates) fold(texts []string) Distribution {
	index := make(map[int]int)
	var ids []int
	var weights []float64
	for i, text := range texts {
		if text == "" {
			continue
		}
		id, ok := c.firstKnownID(text)
		if !ok {
			c.logger.Debug("candidate has no known token", "index", i)
			continue
		}
		w := math.Exp(-positionDecay * float64(i))
		if j, seen := index[id]; seen {
			weights[j] += w
			continue
		}
		index[id] = len(ids)
		ids = append(ids, id)
		weights = append(weights, w)
	}

	if len(ids) == 0 {
		return nil
	}

	floats.Scale(1/floats.Sum(weights), weights)
	dist := make(Distribution, len(ids))
	for i, id := range ids {
		dist[i] = TokenProb{ID: id, Prob: weights[i]}
	}
	return dist
}

// firstKnownID encodes the first one to three characters of text until one
// of them yields an id.
func (c *Candidates) firstKnownID(text string) (int, bool) {
	runes := []rune(text)
	for l := 1; l <= min(maxProbeRunes, len(runes)); l++ {
		if id, ok := tokenizer.FirstID(c.tok, string(runes[:l])); ok {
			return id, true
		}
	}
	return 0, false
}

// settingsFor applies candidate_settings overrides from params.
func (c *Candidates) settingsFor(params Params) CandidateSettings {
	settings := c.settings
	raw, ok := params[ParamCandidateSettings]
	if !ok {
		return settings
	}
	if err := mapstructure.WeakDecode(raw, &settings); err != nil {
		c.logger.Warn("ignoring candidate settings", "error", err)
		return c.settings
	}
	return settings
}
