package tokenizer

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

const (
	// encodingO200kBase is the encoding name for GPT-4o.
	encodingO200kBase = "o200k_base"
	// encodingCL100kBase is the encoding name for GPT-4 and GPT-3.5-turbo.
	encodingCL100kBase = "cl100k_base"
	// encodingP50kBase is the encoding name for GPT-3.
	encodingP50kBase = "p50k_base"
	// encodingR50kBase is the encoding name for older GPT-3 models.
	encodingR50kBase = "r50k_base"
)

// TikToken wraps the pkoukk/tiktoken-go library for OpenAI tokenizers.
//
// Supported encodings:
//   - o200k_base: GPT-4o
//   - cl100k_base: GPT-4, GPT-3.5-turbo, text-embedding-ada-002
//   - p50k_base: GPT-3, Codex
//   - r50k_base: GPT-3, davinci-002, babbage-002
type TikToken struct {
	encoding *tiktoken.Tiktoken
	name     string
	family   string
}

// NewTikToken creates a new TikToken tokenizer with the specified encoding.
func NewTikToken(encodingName string) (*TikToken, error) {
	encoding, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("failed to load tiktoken encoding %q: %w", encodingName, err)
	}

	return &TikToken{
		encoding: encoding,
		name:     encodingName,
		family:   encodingName,
	}, nil
}

// NewTikTokenForModel creates a TikToken tokenizer for a specific model.
//
// Example models: "gpt-4", "gpt-4o", "gpt-3.5-turbo".
func NewTikTokenForModel(modelName string) (*TikToken, error) {
	encoding, err := tiktoken.EncodingForModel(modelName)
	if err != nil {
		return nil, fmt.Errorf("failed to load tiktoken for model %q: %w", modelName, err)
	}

	family := encodingCL100kBase
	if name, ok := tiktoken.MODEL_TO_ENCODING[modelName]; ok {
		family = name
	} else {
		for prefix, name := range tiktoken.MODEL_PREFIX_TO_ENCODING {
			if strings.HasPrefix(modelName, prefix) {
				family = name
				break
			}
		}
	}

	return &TikToken{
		encoding: encoding,
		name:     modelName,
		family:   family,
	}, nil
}

// Encode converts text to token IDs. Special-token text is encoded as
// ordinary text.
func (t *TikToken) Encode(text string) ([]int, error) {
	return t.encoding.Encode(text, nil, nil), nil
}

// Decode converts token IDs back to text. Ids outside the encoding decode to
// the empty string.
func (t *TikToken) Decode(tokens []int) (string, error) {
	return t.encoding.Decode(tokens), nil
}

// VocabSize returns the total vocabulary size, special tokens included.
func (t *TikToken) VocabSize() int {
	switch t.family {
	case encodingO200kBase:
		return 200019
	case encodingCL100kBase:
		return 100277
	case encodingP50kBase:
		return 50281
	case encodingR50kBase:
		return 50257
	default:
		return 100277
	}
}

// EosToken returns the <|endoftext|> token ID.
func (t *TikToken) EosToken() int {
	switch t.family {
	case encodingO200kBase:
		return 199999
	case encodingCL100kBase:
		return 100257
	case encodingP50kBase, encodingR50kBase:
		return 50256
	default:
		return -1
	}
}

// Name returns the tokenizer name.
func (t *TikToken) Name() string {
	return t.name
}
