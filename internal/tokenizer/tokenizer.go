package tokenizer

import "errors"

// ErrUnknownText is returned when text contains a character no token covers.
var ErrUnknownText = errors.New("no token covers text")

// Tokenizer is the core interface for text tokenization.
//
// All tokenizer implementations (tiktoken, char-hash, vocabulary) must
// implement this interface. Implementations must be safe for concurrent use.
type Tokenizer interface {
	// Encode converts text to token IDs.
	Encode(text string) ([]int, error)

	// Decode converts token IDs back to text.
	Decode(tokens []int) (string, error)

	// VocabSize returns the total vocabulary size. Valid ids are
	// 0..VocabSize()-1.
	VocabSize() int
}

// EndOfText is implemented by tokenizers that define an end-of-text token.
type EndOfText interface {
	// EosToken returns the end-of-sequence token ID, or -1 if none.
	EosToken() int
}

// EosToken returns tok's end-of-text id, or -1 when it has none.
func EosToken(tok Tokenizer) int {
	if e, ok := tok.(EndOfText); ok {
		return e.EosToken()
	}
	return -1
}

// FirstID encodes text and returns its first token id.
func FirstID(tok Tokenizer, text string) (int, bool) {
	ids, err := tok.Encode(text)
	if err != nil || len(ids) == 0 {
		return 0, false
	}
	return ids[0], true
}
