package trie

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/born-ml/charprefix/internal/parallel"
)

// ErrDecodePanic marks a token whose decoder panicked during construction.
var ErrDecodePanic = errors.New("decoder panicked")

// Source is the part of a tokenizer the trie needs to enumerate a vocabulary.
type Source interface {
	Decode(tokens []int) (string, error)
	VocabSize() int
}

// BuildStats summarizes a Build.
type BuildStats struct {
	Added   int
	Skipped int
	Empty   int
}

// BuildOption configures Build.
type BuildOption func(*buildOptions)

type buildOptions struct {
	logger *slog.Logger
	par    parallel.Config
}

// WithLogger sets the logger used to report skipped tokens.
func WithLogger(logger *slog.Logger) BuildOption {
	return func(o *buildOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithParallel decodes the vocabulary across goroutines. The source must be
// safe for concurrent Decode calls. Insertion stays in id order.
func WithParallel(cfg parallel.Config) BuildOption {
	return func(o *buildOptions) {
		o.par = cfg
	}
}

// Build decodes every id in [0, VocabSize) and inserts it.
//
// A token that fails to decode, or whose decoder panics, is logged and left
// out of the trie; construction never fails as a whole.
func Build(src Source, opts ...BuildOption) (*Trie, BuildStats) {
	o := buildOptions{logger: slog.Default(), par: parallel.Sequential()}
	for _, opt := range opts {
		opt(&o)
	}

	size := src.VocabSize()
	texts := make([]string, size)
	errs := make([]error, size)
	parallel.For(size, o.par, func(id int) {
		texts[id], errs[id] = decodeOne(src, id)
	})

	t := New()
	var stats BuildStats
	for id, text := range texts {
		if err := errs[id]; err != nil {
			stats.Skipped++
			o.logger.Warn("skipping token", "id", id, "error", err)
			continue
		}
		if text == "" {
			stats.Empty++
		}
		t.Add(id, text)
		stats.Added++
	}

	o.logger.Debug("trie built", "vocab", size, "added", stats.Added, "skipped", stats.Skipped, "nodes", t.Size())
	return t, stats
}

func decodeOne(src Source, id int) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrDecodePanic, r)
		}
	}()

	text, err = src.Decode([]int{id})
	if err != nil {
		return "", fmt.Errorf("failed to decode token %d: %w", id, err)
	}
	return text, nil
}
