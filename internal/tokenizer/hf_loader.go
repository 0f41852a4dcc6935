package tokenizer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// HFTokenizerType identifies the tokenizer implementation type.
type HFTokenizerType string

const (
	// HFTypeBPE indicates Byte-Pair Encoding tokenizer.
	HFTypeBPE HFTokenizerType = "BPE"

	// HFTypeWordPiece indicates WordPiece tokenizer (BERT-style).
	HFTypeWordPiece HFTokenizerType = "WordPiece"

	// HFTypeUnigram indicates Unigram tokenizer (SentencePiece-style).
	HFTypeUnigram HFTokenizerType = "Unigram"

	// HFTypeUnknown indicates an unknown or unsupported tokenizer type.
	HFTypeUnknown HFTokenizerType = "Unknown"
)

// CharHashName selects the character-hash tokenizer in AutoLoad.
const CharHashName = "charhash"

// hfTokenizerFile mirrors the parts of tokenizer.json the loader reads.
type hfTokenizerFile struct {
	Model struct {
		Type  string          `json:"type"`
		Vocab json.RawMessage `json:"vocab"`
	} `json:"model"`
	Decoder      *hfSection `json:"decoder"`
	PreTokenizer *hfSection `json:"pre_tokenizer"`
	AddedTokens  []struct {
		ID      int    `json:"id"`
		Content string `json:"content"`
		Special bool   `json:"special"`
	} `json:"added_tokens"`
}

// LoadVocabFromHuggingFace loads the vocabulary of a tokenizer.json as a
// Vocab tokenizer.
//
// Byte-level (GPT-2 style) and Metaspace (SentencePiece style) token strings
// are mapped back to the text they decode to, so the vocabulary can be used
// for character-level prefix matching. Encoding is greedy longest-match and
// does not reproduce the model's merge order.
func LoadVocabFromHuggingFace(path string) (*Vocab, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: Path comes from trusted caller
	if err != nil {
		return nil, fmt.Errorf("failed to read tokenizer.json: %w", err)
	}

	var file hfTokenizerFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse tokenizer.json: %w", err)
	}

	raw, err := parseHFVocab(file.Model.Vocab)
	if err != nil {
		return nil, err
	}

	mapText := func(s string) string { return s }
	switch {
	case isType(file.Decoder, "ByteLevel"), isType(file.PreTokenizer, "ByteLevel"):
		mapText = byteLevelText
	case isType(file.Decoder, "Metaspace"), isType(file.PreTokenizer, "Metaspace"), file.Model.Type == string(HFTypeUnigram):
		mapText = func(s string) string { return strings.ReplaceAll(s, "▁", " ") }
	}

	entries := make(map[int]string, len(raw)+len(file.AddedTokens))
	for token, id := range raw {
		entries[id] = mapText(token)
	}

	eos := -1
	for _, added := range file.AddedTokens {
		entries[added.ID] = added.Content
		if !added.Special {
			continue
		}
		content := strings.ToLower(added.Content)
		if eos < 0 && (strings.Contains(content, "eos") || content == "</s>" || content == "<|endoftext|>") {
			eos = added.ID
		}
	}

	v, err := NewVocab(entries)
	if err != nil {
		return nil, fmt.Errorf("failed to build vocabulary: %w", err)
	}
	v.SetEosToken(eos)
	return v, nil
}

type hfSection struct {
	Type string `json:"type"`
}

func isType(section *hfSection, want string) bool {
	return section != nil && section.Type == want
}

// parseHFVocab accepts both the BPE/WordPiece object form and the Unigram
// list-of-pairs form.
func parseHFVocab(raw json.RawMessage) (map[string]int, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("tokenizer.json has no model.vocab")
	}

	var byToken map[string]int
	if err := json.Unmarshal(raw, &byToken); err == nil {
		return byToken, nil
	}

	var pairs [][2]any
	if err := json.Unmarshal(raw, &pairs); err != nil {
		return nil, fmt.Errorf("failed to parse model.vocab: %w", err)
	}
	byToken = make(map[string]int, len(pairs))
	for i, p := range pairs {
		if s, ok := p[0].(string); ok {
			byToken[s] = i
		}
	}
	return byToken, nil
}

// byteDecoder inverts the GPT-2 bytes-to-unicode table.
var byteDecoder = func() map[rune]byte {
	m := make(map[rune]byte, 256)
	n := 0
	for b := 0; b < 256; b++ {
		printable := (b >= '!' && b <= '~') || (b >= 0xA1 && b <= 0xAC) || (b >= 0xAE && b <= 0xFF)
		if printable {
			m[rune(b)] = byte(b)
			continue
		}
		m[rune(256+n)] = byte(b)
		n++
	}
	return m
}()

func byteLevelText(s string) string {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		b, ok := byteDecoder[r]
		if !ok {
			return s
		}
		out = append(out, b)
	}
	return string(out)
}

// DetectHFTokenizerType returns the model type recorded in tokenizer.json.
func DetectHFTokenizerType(path string) (HFTokenizerType, error) {
	data, err := os.ReadFile(path) //nolint:gosec // Loading tokenizer from user-specified path is intentional.
	if err != nil {
		return HFTypeUnknown, fmt.Errorf("failed to read tokenizer.json: %w", err)
	}

	var file hfTokenizerFile
	if err := json.Unmarshal(data, &file); err != nil {
		return HFTypeUnknown, fmt.Errorf("failed to parse tokenizer.json: %w", err)
	}

	switch HFTokenizerType(file.Model.Type) {
	case HFTypeBPE, HFTypeWordPiece, HFTypeUnigram:
		return HFTokenizerType(file.Model.Type), nil
	default:
		return HFTypeUnknown, nil
	}
}

// LoadFromHuggingFace loads a tokenizer from a HuggingFace model directory
// or a tokenizer.json path.
func LoadFromHuggingFace(path string) (*Vocab, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, "tokenizer.json")
	}

	kind, err := DetectHFTokenizerType(path)
	if err != nil {
		return nil, err
	}
	if kind == HFTypeUnknown {
		return nil, fmt.Errorf("unknown tokenizer type in %s", path)
	}

	return LoadVocabFromHuggingFace(path)
}

// AutoLoad attempts to automatically load the correct tokenizer.
//
// It tries multiple strategies:
//  1. "charhash" selects the character-hash tokenizer
//  2. Load from a HuggingFace model directory or tokenizer.json
//  3. Load tiktoken by model name
//  4. Load tiktoken by encoding name
func AutoLoad(pathOrName string) (Tokenizer, error) {
	if pathOrName == CharHashName {
		return NewCharHash()
	}

	if _, err := os.Stat(pathOrName); err == nil {
		tok, err := LoadFromHuggingFace(pathOrName)
		if err != nil {
			return nil, fmt.Errorf("failed to load tokenizer from %q: %w", pathOrName, err)
		}
		return tok, nil
	}

	if tok, err := NewTikTokenForModel(pathOrName); err == nil {
		return tok, nil
	}

	if tok, err := NewTikToken(pathOrName); err == nil {
		return tok, nil
	}

	return nil, fmt.Errorf("failed to auto-load tokenizer from %q", pathOrName)
}
