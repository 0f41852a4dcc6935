package estimate

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/born-ml/charprefix/internal/tokenizer"
)

// Message is one turn of a caller-supplied conversation.
type Message struct {
	Role    string `mapstructure:"role"`
	Content string `mapstructure:"content"`
}

// Prompt is what a backend is asked to continue.
type Prompt struct {
	// Messages is an optional conversation that precedes the instruction.
	Messages []Message
	// Instruction is optional text that frames the continuation.
	Instruction string
	// Text is the generated text so far.
	Text string
}

// String joins the conversation, instruction and text the way
// completion-style backends expect them.
func (p Prompt) String() string {
	parts := make([]string, 0, len(p.Messages)+2)
	for _, m := range p.Messages {
		if m.Content != "" {
			parts = append(parts, m.Content)
		}
	}
	if p.Instruction != "" {
		parts = append(parts, p.Instruction)
	}
	return strings.Join(append(parts, p.Text), "\n")
}

// BuildPrompt decodes history and attaches the conversation and prompt
// prefix from params.
func BuildPrompt(tok tokenizer.Tokenizer, history []int, params Params) (Prompt, error) {
	p := Prompt{Instruction: params.String(ParamPromptPrefix)}

	if raw, ok := params[ParamMessages]; ok && raw != nil {
		if err := mapstructure.Decode(raw, &p.Messages); err != nil {
			return Prompt{}, fmt.Errorf("invalid %s param: %w", ParamMessages, err)
		}
	}

	if len(history) == 0 {
		return p, nil
	}

	text, err := tok.Decode(history)
	if err != nil {
		return Prompt{}, fmt.Errorf("failed to decode history: %w", err)
	}
	p.Text = text
	return p, nil
}
