// Package llm abstracts the text-generation backend behind a single
// Generate call so the toolbox and the decision layer never depend on a
// concrete provider.
package llm

import (
	"context"
	"errors"
	"fmt"

	genai "google.golang.org/genai"
)

// ErrEmptyResponse is returned when the backend answers with no usable
// text candidate.
var ErrEmptyResponse = errors.New("llm: empty response")

// Client generates text from a prompt. Implementations must be safe for
// concurrent use.
type Client interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Name() string
	Close() error
}

// GeminiClient is a thin wrapper around the official genai client. It
// only covers the API call itself; retries and feedback loops live in
// the engine, not here.
type GeminiClient struct {
	cli   *genai.Client
	model string
}

// NewGeminiClient dials the Gemini API. The genai client reads
// GEMINI_API_KEY from the environment.
func NewGeminiClient(ctx context.Context, model string) (*GeminiClient, error) {
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &GeminiClient{cli: cli, model: model}, nil
}

func (g *GeminiClient) Name() string { return "Gemini:" + g.model }
func (g *GeminiClient) Close() error { return nil }

// Generate sends the prompt and returns the first candidate's text.
func (g *GeminiClient) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.cli.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: prompt}}}},
		nil,
	)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Candidates[0].Content.Parts[0].Text, nil
}
