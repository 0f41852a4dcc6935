package tokenizer

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// DefaultCharHashVocabSize is the id space used when none is given.
	DefaultCharHashVocabSize = 50000
	// DefaultCharHashCacheSize is the number of encoded texts kept.
	DefaultCharHashCacheSize = 1000

	// prefixScanLimit bounds how many recent cache entries are checked for a
	// reusable prefix.
	prefixScanLimit = 10
)

// CharHash is a deterministic one-token-per-character tokenizer for models
// that do not expose their vocabulary.
//
// Each character maps to xxhash(char) mod vocabSize. Printable ASCII plus
// newline and tab are registered up front; other characters are registered
// on first encode. On a hash collision the first registered character keeps
// the id. Ids never registered decode to the empty string.
type CharHash struct {
	mu        sync.Mutex
	vocabSize int
	charToID  map[rune]int
	idToChar  map[int]rune
	cache     *lru.Cache[string, []int]
}

// CharHashOption configures a CharHash.
type CharHashOption func(*charHashOptions)

type charHashOptions struct {
	vocabSize int
	cacheSize int
}

// WithVocabSize sets the id space.
func WithVocabSize(n int) CharHashOption {
	return func(o *charHashOptions) {
		o.vocabSize = n
	}
}

// WithCacheSize sets the number of cached encodings.
func WithCacheSize(n int) CharHashOption {
	return func(o *charHashOptions) {
		o.cacheSize = n
	}
}

// NewCharHash creates a character-hash tokenizer.
func NewCharHash(opts ...CharHashOption) (*CharHash, error) {
	o := charHashOptions{
		vocabSize: DefaultCharHashVocabSize,
		cacheSize: DefaultCharHashCacheSize,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if o.vocabSize <= 0 {
		return nil, fmt.Errorf("vocab size must be positive, got %d", o.vocabSize)
	}

	cache, err := lru.New[string, []int](o.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create encode cache: %w", err)
	}

	c := &CharHash{
		vocabSize: o.vocabSize,
		charToID:  make(map[rune]int),
		idToChar:  make(map[int]rune),
		cache:     cache,
	}

	for r := rune(0x20); r < 0x7f; r++ {
		c.register(r)
	}
	c.register('\n')
	c.register('\t')

	return c, nil
}

// register assigns r its id. Caller holds mu or owns c exclusively.
func (c *CharHash) register(r rune) int {
	if id, ok := c.charToID[r]; ok {
		return id
	}
	id := int(xxhash.Sum64String(string(r)) % uint64(c.vocabSize)) //nolint:gosec // G115: bounded by vocabSize
	c.charToID[r] = id
	if _, taken := c.idToChar[id]; !taken {
		c.idToChar[id] = r
	}
	return id
}

// Encode converts text to one id per character.
//
// Results are cached by text; on a miss the longest cached prefix among the
// most recently used entries is reused and only the remainder is encoded.
func (c *CharHash) Encode(text string) ([]int, error) {
	if ids, ok := c.cache.Get(text); ok {
		return slices.Clone(ids), nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var prefix string
	var prefixIDs []int
	keys := c.cache.Keys()
	for i, n := len(keys)-1, 0; i >= 0 && n < prefixScanLimit; i, n = i-1, n+1 {
		k := keys[i]
		if len(k) > len(prefix) && strings.HasPrefix(text, k) {
			if ids, ok := c.cache.Peek(k); ok {
				prefix, prefixIDs = k, ids
			}
		}
	}

	ids := make([]int, 0, len(prefixIDs)+len(text)-len(prefix))
	ids = append(ids, prefixIDs...)
	for _, r := range text[len(prefix):] {
		ids = append(ids, c.register(r))
	}

	c.cache.Add(text, ids)
	return slices.Clone(ids), nil
}

// Decode converts ids back to text.
func (c *CharHash) Decode(tokens []int) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var sb strings.Builder
	for _, id := range tokens {
		if r, ok := c.idToChar[id]; ok {
			sb.WriteRune(r)
		}
	}
	return sb.String(), nil
}

// VocabSize returns the id space.
func (c *CharHash) VocabSize() int {
	return c.vocabSize
}

// Name returns the tokenizer name.
func (c *CharHash) Name() string {
	return "charhash"
}
