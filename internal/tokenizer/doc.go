// Package tokenizer provides the tokenizers used for prefix-constrained
// sampling.
//
// Implementations:
//   - TikToken: OpenAI encodings (o200k_base, cl100k_base, p50k_base, r50k_base)
//   - CharHash: deterministic one-id-per-character tokenizer for models whose
//     vocabulary is not published
//   - Vocab: explicit id to text table, loadable from a HuggingFace tokenizer.json
//
// Example usage:
//
//	tok, err := tokenizer.NewTikToken("cl100k_base")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	ids, err := tok.Encode("func main()")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	text, err := tok.Decode(ids)
//	if err != nil {
//	    log.Fatal(err)
//	}
package tokenizer
