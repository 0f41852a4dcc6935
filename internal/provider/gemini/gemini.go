// Package gemini provides a Google Gemini backend. Gemini does not report
// token log-probabilities, so it serves the candidates tier only.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/born-ml/charprefix/internal/estimate"
	"github.com/born-ml/charprefix/internal/provider"
)

const (
	// Name is the registry name of this provider.
	Name = "gemini"

	// DefaultModel is used when the config names none.
	DefaultModel = "gemini-2.0-flash"
)

func init() {
	provider.Register(Name, func(ctx context.Context, cfg provider.Config) (*provider.Backend, error) {
		c, err := New(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return provider.NewBackend(Name, nil, c, c.Close), nil
	})
}

// contentGenerator is the part of *genai.GenerativeModel the client uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// Client implements estimate.CandidateSource.
type Client struct {
	model    string
	newModel func(name string, settings estimate.CandidateSettings) contentGenerator
	closer   func() error
}

// New creates a client from cfg.
func New(ctx context.Context, cfg provider.Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, provider.ErrMissingAPIKey
	}

	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(cfg.BaseURL))
	}

	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	return &Client{
		model: model,
		newModel: func(name string, settings estimate.CandidateSettings) contentGenerator {
			m := client.GenerativeModel(name)
			configure(m, settings)
			return m
		},
		closer: client.Close,
	}, nil
}

// Complete returns one short completion under settings. Each call uses a
// fresh model handle so concurrent calls never share generation config.
func (c *Client) Complete(ctx context.Context, prompt estimate.Prompt, settings estimate.CandidateSettings) (string, error) {
	m := c.newModel(c.model, settings)

	resp, err := m.GenerateContent(ctx, genai.Text(prompt.String()))
	if err != nil {
		return "", wrapError("complete", err)
	}

	text := responseText(resp)
	if text == "" {
		return "", provider.NewError(Name, "complete", provider.ErrNoOutput, false)
	}
	return text, nil
}

// Close releases the underlying client.
func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}

// configure applies the candidate settings that are set.
func configure(m *genai.GenerativeModel, s estimate.CandidateSettings) {
	m.SetTemperature(s.Temperature)
	if s.TopP > 0 {
		m.SetTopP(s.TopP)
	}
	if s.TopK > 0 {
		m.SetTopK(s.TopK)
	}
	if s.MaxOutputTokens > 0 {
		m.SetMaxOutputTokens(s.MaxOutputTokens)
	}
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return sb.String()
}

func wrapError(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return provider.NewError(Name, op, provider.WrapStatus(err, apiErr.Code), provider.RetryableStatus(apiErr.Code))
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return provider.NewError(Name, op, err, false)
	}
	return provider.NewError(Name, op, err, provider.RetryableMessage(err.Error()))
}
