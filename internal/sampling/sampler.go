package sampling

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/google/uuid"

	"github.com/born-ml/charprefix/internal/estimate"
	"github.com/born-ml/charprefix/internal/logutil"
	"github.com/born-ml/charprefix/internal/tokenizer"
	"github.com/born-ml/charprefix/internal/trie"
)

// PrefixSampler runs prefix-constrained generation. It owns its tokenizer,
// trie and estimator and is safe for concurrent Sample calls.
type PrefixSampler struct {
	tok    tokenizer.Tokenizer
	trie   *trie.Trie
	est    estimate.Estimator
	eos    int
	vocab  int
	logger *slog.Logger
}

// Option configures a PrefixSampler.
type Option func(*samplerOptions)

type samplerOptions struct {
	logger *slog.Logger
	trie   *trie.Trie
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *samplerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithTrie reuses a trie already built from the same tokenizer.
func WithTrie(t *trie.Trie) Option {
	return func(o *samplerOptions) {
		o.trie = t
	}
}

// NewPrefixSampler creates a sampler. Unless WithTrie is given the
// vocabulary trie is built from tok, which decodes every token once.
func NewPrefixSampler(tok tokenizer.Tokenizer, est estimate.Estimator, opts ...Option) *PrefixSampler {
	o := samplerOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	t := o.trie
	if t == nil {
		t, _ = trie.Build(tok, trie.WithLogger(o.logger))
	}

	return &PrefixSampler{
		tok:    tok,
		trie:   t,
		est:    est,
		eos:    tokenizer.EosToken(tok),
		vocab:  tok.VocabSize(),
		logger: o.logger,
	}
}

// Trie returns the vocabulary trie.
func (s *PrefixSampler) Trie() *trie.Trie {
	return s.trie
}

// Sample generates tokens for req. The error is non-nil only when req is
// invalid; every other outcome is a Status on the result.
func (s *PrefixSampler) Sample(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.run(ctx, req, nil), nil
}

// SampleText is Sample followed by decoding. The text is empty unless the
// run succeeded.
func (s *PrefixSampler) SampleText(ctx context.Context, req Request) (string, *Result, error) {
	res, err := s.Sample(ctx, req)
	if err != nil {
		return "", nil, err
	}
	if !res.Status.Success() {
		return "", res, nil
	}
	return res.Text, res, nil
}

// SampleStream runs Sample in the background and reports every emitted
// token. The channel is closed after the step with Done set. Once ctx is
// cancelled, steps the consumer is not reading are dropped, so a cancelled
// stream may close without a Done step.
func (s *PrefixSampler) SampleStream(ctx context.Context, req Request) (<-chan Step, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ch := make(chan Step, 1)
	go func() {
		defer close(ch)
		s.run(ctx, req, func(step Step) {
			select {
			case ch <- step:
			case <-ctx.Done():
			}
		})
	}()

	return ch, nil
}

// run is the step loop.
func (s *PrefixSampler) run(ctx context.Context, req Request, emit func(Step)) *Result {
	runID := uuid.NewString()
	logger := s.logger.With("run_id", runID)
	rng := newRNG(req.Seed)

	params := req.Params.Clone()
	params[estimate.ParamPrefix] = req.Prefix
	params[estimate.ParamRunID] = runID

	res := &Result{RunID: runID, Tokens: make([]int, 0, min(req.MaxTokens, 1024))}
	remaining := req.Prefix

	finish := func(status Status) *Result {
		res.Status = status
		res.Text = s.decode(res.Tokens, logger)
		logger.Debug("sampling finished", "status", status, "tokens", len(res.Tokens), "steps", res.Steps)
		if emit != nil {
			emit(Step{TokenID: -1, Remaining: remaining, Done: true, Status: status})
		}
		return res
	}

	for {
		if ctx.Err() != nil {
			return finish(StatusCancelled)
		}
		res.Steps++

		pending := remaining != ""
		keep := s.inVocab
		if pending {
			candidates := s.trie.WithPrefix(remaining).Union(s.trie.PrefixesOf(remaining))
			if candidates.Empty() {
				logger.Info("prefix unsatisfiable", "remaining", remaining)
				return finish(StatusPrefixUnsatisfiable)
			}
			keep = candidates.Has
		}

		dist := s.estimate(ctx, res.Tokens, params, logger)
		if ctx.Err() != nil {
			return finish(StatusCancelled)
		}

		p := newPool(dist, keep)
		if p.len() == 0 {
			if pending {
				logger.Info("no estimated token continues prefix", "remaining", remaining, "estimated", len(dist))
				return finish(StatusPrefixUnsatisfiable)
			}
			return finish(StatusCompleted)
		}

		p.normalize()
		p.temperature(req.Temperature)
		p.topK(req.TopK)
		p.topP(req.TopP)
		id := p.draw(rng.Float64())

		if !pending && id == s.eos {
			return finish(StatusCompleted)
		}

		text := s.decode([]int{id}, logger)
		next, ok := advance(remaining, text)
		if !ok {
			logger.Warn("sampled token does not continue prefix", "id", id, "text", text, "remaining", remaining)
			return finish(StatusPrefixUnsatisfiable)
		}

		res.Tokens = append(res.Tokens, id)
		satisfiedNow := pending && next == ""
		remaining = next
		logutil.Trace(ctx, logger, "sampled token", "step", res.Steps, "id", id, "text", text, "remaining", remaining, "pool", p.len())

		done, status := s.checkStopConditions(res.Tokens, remaining, satisfiedNow, req)
		if emit != nil {
			emit(Step{TokenID: id, Token: text, Remaining: remaining})
		}
		if done {
			return finish(status)
		}
	}
}

// checkStopConditions checks if generation should stop after a token.
func (s *PrefixSampler) checkStopConditions(tokens []int, remaining string, satisfiedNow bool, req Request) (bool, Status) {
	if remaining == "" && len(req.StopSequences) > 0 {
		text, err := s.tok.Decode(tokens)
		if err == nil && stopIndex(text, len(req.Prefix), req.StopSequences) >= 0 {
			return true, StatusStoppedOnSequence
		}
	}

	if len(tokens) >= req.MaxTokens {
		switch {
		case remaining != "":
			return true, StatusPrefixUnsatisfiable
		case satisfiedNow:
			return true, StatusCompleted
		default:
			return true, StatusMaxTokensReached
		}
	}

	return false, ""
}

func (s *PrefixSampler) inVocab(id int) bool {
	return id >= 0 && id < s.vocab
}

// estimate calls the estimator, treating a panic as an empty distribution.
func (s *PrefixSampler) estimate(ctx context.Context, history []int, params estimate.Params, logger *slog.Logger) (dist estimate.Distribution) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("estimator panicked", "panic", r)
			dist = nil
		}
	}()
	return s.est.EstimateNextTokenDistribution(ctx, history, params)
}

func (s *PrefixSampler) decode(tokens []int, logger *slog.Logger) string {
	if len(tokens) == 0 {
		return ""
	}
	text, err := s.tok.Decode(tokens)
	if err != nil {
		logger.Warn("failed to decode tokens", "error", fmt.Errorf("decode %d tokens: %w", len(tokens), err))
		return ""
	}
	return text
}

// newRNG seeds a PCG source. A negative seed draws one at random.
func newRNG(seed int64) *rand.Rand {
	s := uint64(seed) //nolint:gosec // G115: seed bits are reinterpreted, not truncated
	if seed < 0 {
		s = rand.Uint64() //nolint:gosec // User requested random seed
	}
	return rand.New(rand.NewPCG(s, s^0x9E3779B9)) //nolint:gosec // Intentional deterministic seed for reproducibility
}
