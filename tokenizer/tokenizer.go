// Package tokenizer provides the tokenizers the prefix sampler can run on.
//
// This package wraps the internal tokenizer implementations and provides
// a clean public API.
//
// Supported tokenizers:
//   - TikToken: OpenAI BPE encodings (cl100k_base, o200k_base, ...)
//   - HuggingFace: the vocabulary of a tokenizer.json
//   - CharHash: one token per character, for backends without a public vocabulary
//   - Vocab: an explicit id to text table
//
// Example usage:
//
//	import "github.com/born-ml/charprefix/tokenizer"
//
//	tok, err := tokenizer.AutoLoad("gpt-4o")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	tokens, err := tok.Encode("Hello, world!")
//	if err != nil {
//	    log.Fatal(err)
//	}
package tokenizer

import (
	"github.com/born-ml/charprefix/internal/tokenizer"
)

// Tokenizer is the core interface for text tokenization.
//
// All tokenizer implementations must implement this interface.
type Tokenizer = tokenizer.Tokenizer

// EndOfText is implemented by tokenizers with an end-of-text token.
type EndOfText = tokenizer.EndOfText

// Vocab is a greedy longest-match tokenizer over an explicit table.
type Vocab = tokenizer.Vocab

// CharHash maps each character to a hashed id.
type CharHash = tokenizer.CharHash

// CharHashOption configures a CharHash tokenizer.
type CharHashOption = tokenizer.CharHashOption

// ErrUnknownText is returned when text cannot be encoded.
var ErrUnknownText = tokenizer.ErrUnknownText

// NewTikToken creates a new TikToken tokenizer with the specified encoding.
//
// Supported encodings: "o200k_base", "cl100k_base", "p50k_base", "r50k_base".
func NewTikToken(encodingName string) (Tokenizer, error) {
	return tokenizer.NewTikToken(encodingName)
}

// NewTikTokenForModel creates a TikToken tokenizer for a specific model.
//
// Example models: "gpt-4o", "gpt-4", "gpt-3.5-turbo".
func NewTikTokenForModel(modelName string) (Tokenizer, error) {
	return tokenizer.NewTikTokenForModel(modelName)
}

// NewVocab creates a tokenizer from an id to text table.
func NewVocab(entries map[int]string) (*Vocab, error) {
	return tokenizer.NewVocab(entries)
}

// NewCharHash creates a character-hash tokenizer.
func NewCharHash(opts ...CharHashOption) (*CharHash, error) {
	return tokenizer.NewCharHash(opts...)
}

// WithVocabSize sets the CharHash id range.
func WithVocabSize(n int) CharHashOption {
	return tokenizer.WithVocabSize(n)
}

// WithCacheSize sets the CharHash encode cache size.
func WithCacheSize(n int) CharHashOption {
	return tokenizer.WithCacheSize(n)
}

// LoadFromHuggingFace loads a tokenizer from a HuggingFace model directory
// or tokenizer.json file.
func LoadFromHuggingFace(modelPath string) (Tokenizer, error) {
	return tokenizer.LoadFromHuggingFace(modelPath)
}

// AutoLoad attempts to automatically load the correct tokenizer.
//
// It tries multiple strategies:
//  1. "charhash" selects the character-hash tokenizer
//  2. Load from a HuggingFace tokenizer.json path
//  3. Load tiktoken by model name
//  4. Load tiktoken by encoding name
func AutoLoad(pathOrName string) (Tokenizer, error) {
	return tokenizer.AutoLoad(pathOrName)
}

// EosToken returns the end-of-text id of tok, or -1.
func EosToken(tok Tokenizer) int {
	return tokenizer.EosToken(tok)
}
