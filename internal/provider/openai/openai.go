// Package openai provides a backend on the OpenAI chat completions API.
// It serves both the direct tier, through top log-probabilities, and the
// candidates tier.
package openai

import (
	"context"
	"errors"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/born-ml/charprefix/internal/estimate"
	"github.com/born-ml/charprefix/internal/provider"
)

const (
	// Name is the registry name of this provider.
	Name = "openai"

	// DefaultModel is used when the config names none.
	DefaultModel = "gpt-4o-mini"

	// MaxTopLogprobs is the largest top_logprobs the API accepts.
	MaxTopLogprobs = 20
)

func init() {
	provider.Register(Name, func(_ context.Context, cfg provider.Config) (*provider.Backend, error) {
		c, err := New(cfg)
		if err != nil {
			return nil, err
		}
		return provider.NewBackend(Name, c, c, nil), nil
	})
}

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Client implements estimate.LogprobSource and estimate.CandidateSource.
type Client struct {
	api         chatClient
	model       string
	topLogprobs int
}

// New creates a client from cfg.
func New(cfg provider.Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, provider.ErrMissingAPIKey
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	top := cfg.TopLogprobs
	if top <= 0 || top > MaxTopLogprobs {
		top = MaxTopLogprobs
	}

	return &Client{
		api:         openai.NewClientWithConfig(clientConfig),
		model:       model,
		topLogprobs: top,
	}, nil
}

// TopLogprobs asks for a single greedy token and returns the alternatives
// reported for it.
func (c *Client) TopLogprobs(ctx context.Context, prompt estimate.Prompt) ([]estimate.TokenLogprob, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages(prompt),
		MaxTokens:   1,
		Temperature: 0,
		LogProbs:    true,
		TopLogProbs: c.topLogprobs,
	})
	if err != nil {
		return nil, wrapError("logprobs", err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].LogProbs == nil || len(resp.Choices[0].LogProbs.Content) == 0 {
		return nil, provider.NewError(Name, "logprobs", provider.ErrNoOutput, false)
	}

	top := resp.Choices[0].LogProbs.Content[0].TopLogProbs
	out := make([]estimate.TokenLogprob, 0, len(top))
	for _, t := range top {
		out = append(out, estimate.TokenLogprob{Token: t.Token, Logprob: t.LogProb})
	}
	return out, nil
}

// Complete returns one short completion under settings. TopK has no
// equivalent in this API and is ignored.
func (c *Client) Complete(ctx context.Context, prompt estimate.Prompt, settings estimate.CandidateSettings) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages(prompt),
		Temperature: settings.Temperature,
		TopP:        settings.TopP,
	}
	if settings.MaxOutputTokens > 0 {
		req.MaxTokens = int(settings.MaxOutputTokens)
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", wrapError("complete", err)
	}
	if len(resp.Choices) == 0 {
		return "", provider.NewError(Name, "complete", provider.ErrNoOutput, false)
	}
	return resp.Choices[0].Message.Content, nil
}

// messages sends the caller's conversation, then the instruction as a user
// turn, then the text generated so far as a partial assistant turn. When the
// conversation already ends with an assistant turn and there is no
// instruction, the generated text continues that turn.
func messages(prompt estimate.Prompt) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(prompt.Messages)+2)
	for _, m := range prompt.Messages {
		role := m.Role
		if role == "" {
			role = openai.ChatMessageRoleUser
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	if prompt.Instruction != "" || (len(msgs) == 0 && prompt.Text == "") {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: prompt.Instruction,
		})
	}
	if prompt.Text == "" {
		return msgs
	}

	if last := len(msgs) - 1; last >= 0 && msgs[last].Role == openai.ChatMessageRoleAssistant {
		msgs[last].Content += prompt.Text
		return msgs
	}
	return append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleAssistant,
		Content: prompt.Text,
	})
}

func wrapError(op string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.HTTPStatusCode
		return provider.NewError(Name, op, provider.WrapStatus(err, code), provider.RetryableStatus(code))
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		code := reqErr.HTTPStatusCode
		return provider.NewError(Name, op, provider.WrapStatus(err, code), provider.RetryableStatus(code))
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return provider.NewError(Name, op, err, false)
	}
	return provider.NewError(Name, op, err, provider.RetryableMessage(err.Error()))
}
