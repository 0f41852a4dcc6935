package estimate

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/born-ml/charprefix/internal/tokenizer"
)

const (
	fallbackChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_(){}[]:;,. \n\t"

	// uniformFallbackSize is the id range used when no character encodes.
	uniformFallbackSize = 30
)

// fallbackWeight favors whitespace and punctuation over plain identifiers.
func fallbackWeight(r rune) float64 {
	switch {
	case strings.ContainsRune(" \n\t.,;:()", r):
		return 3.0
	case strings.ContainsRune("{}[]", r):
		return 2.5
	case r == '_':
		return 2.0
	default:
		return 1.0
	}
}

// Emergency is a static distribution over common code characters. It is
// computed once and never fails.
type Emergency struct {
	dist Distribution
}

// NewEmergency encodes the fallback characters with tok. If none of them
// encode, the distribution is uniform over the first ids of the vocabulary.
func NewEmergency(tok tokenizer.Tokenizer, logger *slog.Logger) *Emergency {
	if logger == nil {
		logger = slog.Default()
	}

	index := make(map[int]int)
	var dist Distribution
	for _, r := range fallbackChars {
		id, ok := safeFirstID(tok, string(r))
		if !ok {
			continue
		}
		if j, seen := index[id]; seen {
			dist[j].Prob += fallbackWeight(r)
			continue
		}
		index[id] = len(dist)
		dist = append(dist, TokenProb{ID: id, Prob: fallbackWeight(r)})
	}

	if len(dist) == 0 {
		n := uniformFallbackSize
		if size := safeVocabSize(tok); size > 0 {
			n = min(n, size)
		}
		logger.Warn("no fallback character encodes, using uniform ids", "ids", n)
		dist = make(Distribution, n)
		for i := range dist {
			dist[i] = TokenProb{ID: i, Prob: 1}
		}
	}

	var total float64
	for _, tp := range dist {
		total += tp.Prob
	}
	for i := range dist {
		dist[i].Prob /= total
	}

	return &Emergency{dist: dist}
}

// Name returns "emergency".
func (e *Emergency) Name() string { return "emergency" }

// Estimate returns the static distribution.
func (e *Emergency) Estimate(context.Context, []int, Params) (Distribution, error) {
	return e.Distribution(), nil
}

// Distribution returns a copy of the static distribution.
func (e *Emergency) Distribution() Distribution {
	return slices.Clone(e.dist)
}

func safeFirstID(tok tokenizer.Tokenizer, text string) (id int, ok bool) {
	if tok == nil {
		return 0, false
	}
	defer func() {
		if recover() != nil {
			id, ok = 0, false
		}
	}()
	return tokenizer.FirstID(tok, text)
}

func safeVocabSize(tok tokenizer.Tokenizer) (n int) {
	if tok == nil {
		return 0
	}
	defer func() {
		if recover() != nil {
			n = 0
		}
	}()
	return tok.VocabSize()
}
