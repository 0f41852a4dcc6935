package estimate

import "maps"

// Well-known parameter keys.
const (
	// ParamPrefix is the literal prefix the sampler is enforcing.
	ParamPrefix = "prefix"
	// ParamPromptPrefix is instruction text placed before the generated text.
	ParamPromptPrefix = "prompt_prefix"
	// ParamCandidatesPerStep overrides the adaptive candidate count.
	ParamCandidatesPerStep = "candidates_per_step"
	// ParamCandidateSettings overrides candidate decoding settings. The value
	// is a map decoded into CandidateSettings.
	ParamCandidateSettings = "candidate_settings"
	// ParamMessages is a conversation placed before the instruction. The
	// value is a list of role/content maps decoded into []Message.
	ParamMessages = "messages"
	// ParamRunID tags log lines with the sampling run.
	ParamRunID = "run_id"
)

// Params carries provider-specific options through the sampler to the
// estimator. The sampler treats it as opaque.
type Params map[string]any

// Clone returns a shallow copy of p. A nil p yields an empty map.
func (p Params) Clone() Params {
	out := make(Params, len(p)+2)
	maps.Copy(out, p)
	return out
}

// With returns a copy of p with key set to value.
func (p Params) With(key string, value any) Params {
	out := p.Clone()
	out[key] = value
	return out
}

// String returns the string value for key.
func (p Params) String(key string) string {
	s, _ := p[key].(string)
	return s
}

// Int returns the integer value for key. Float values from decoded JSON or
// YAML are truncated.
func (p Params) Int(key string) (int, bool) {
	switch v := p[key].(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
