package tokenizer

import (
	"fmt"
	"slices"
	"strings"

	"github.com/born-ml/charprefix/internal/trie"
)

// Vocab is a tokenizer over an explicit id to text table.
//
// Encoding is greedy longest-match: at each position the longest token whose
// text matches is taken. Ids below VocabSize with no entry decode to the
// empty string.
type Vocab struct {
	texts   []string
	present []bool
	index   *trie.Trie
	eos     int
}

// NewVocab creates a tokenizer from an id to text table.
func NewVocab(entries map[int]string) (*Vocab, error) {
	size := 0
	for id := range entries {
		if id < 0 {
			return nil, fmt.Errorf("negative token id %d", id)
		}
		size = max(size, id+1)
	}

	v := &Vocab{
		texts:   make([]string, size),
		present: make([]bool, size),
		index:   trie.New(),
		eos:     -1,
	}

	ids := make([]int, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		text := entries[id]
		v.texts[id] = text
		v.present[id] = true
		if text != "" {
			v.index.Add(id, text)
		}
	}

	return v, nil
}

// SetEosToken marks id as the end-of-text token.
func (v *Vocab) SetEosToken(id int) {
	v.eos = id
}

// EosToken returns the end-of-text id, or -1.
func (v *Vocab) EosToken() int {
	return v.eos
}

// Encode converts text to token IDs.
func (v *Vocab) Encode(text string) ([]int, error) {
	var ids []int
	for pos := 0; pos < len(text); {
		id, n, ok := v.index.LongestMatch(text[pos:])
		if !ok {
			return nil, fmt.Errorf("%w: %q at byte %d", ErrUnknownText, text[pos:], pos)
		}
		ids = append(ids, id)
		pos += n
	}
	return ids, nil
}

// Decode converts token IDs back to text.
func (v *Vocab) Decode(tokens []int) (string, error) {
	var sb strings.Builder
	for _, id := range tokens {
		if id < 0 || id >= len(v.texts) {
			return "", fmt.Errorf("token id %d out of range [0, %d)", id, len(v.texts))
		}
		sb.WriteString(v.texts[id])
	}
	return sb.String(), nil
}

// VocabSize returns one past the largest id.
func (v *Vocab) VocabSize() int {
	return len(v.texts)
}

// Has reports whether id has an entry.
func (v *Vocab) Has(id int) bool {
	return id >= 0 && id < len(v.present) && v.present[id]
}
