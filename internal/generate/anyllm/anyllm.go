// Package anyllm provides a [generate.NoteGenerator] backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and
// more. It lets practices run note generation against a local model without
// touching the pipeline.
//
// Usage:
//
//	g, err := anyllm.New("ollama", "llama3.1")
//	g, err := anyllm.New("anthropic", "claude-3-5-sonnet-latest", anyllmlib.WithAPIKey("sk-ant-..."))
package anyllm

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/softclaw/vetscribe/internal/generate"
)

// Generator implements [generate.NoteGenerator] by wrapping any-llm-go.
type Generator struct {
	backend anyllmlib.Provider
	model   string
}

// Compile-time interface check.
var _ generate.NoteGenerator = (*Generator)(nil)

// New creates a Generator backed by the given provider name.
//
// providerName is one of: "openai", "anthropic", "gemini", "ollama",
// "mistral". model is the specific model to use. opts are any-llm-go
// configuration options (e.g. anyllmlib.WithAPIKey, anyllmlib.WithBaseURL);
// without an API key option the provider falls back to its environment
// variable.
func New(providerName, model string, opts ...anyllmlib.Option) (*Generator, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}
	return &Generator{backend: backend, model: model}, nil
}

// createBackend creates the underlying any-llm-go provider.
func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama, mistral", providerName)
	}
}

// GenerateSoap implements [generate.NoteGenerator].
func (g *Generator) GenerateSoap(ctx context.Context, transcript string, patient generate.PatientContext, visitType string, tmpl generate.SoapTemplate) (string, error) {
	return g.complete(ctx,
		generate.SoapSystemPrompt,
		generate.SoapPrompt(transcript, patient, visitType, tmpl),
		generate.SoapMaxTokens,
	)
}

// GenerateSummary implements [generate.NoteGenerator].
func (g *Generator) GenerateSummary(ctx context.Context, transcript string) (string, error) {
	return g.complete(ctx,
		generate.SummarySystemPrompt,
		generate.SummaryPrompt(transcript),
		generate.SummaryMaxTokens,
	)
}

// AnalyzeDental implements [generate.NoteGenerator].
func (g *Generator) AnalyzeDental(ctx context.Context, text, species string) (*generate.DentalAnalysis, error) {
	raw, err := g.complete(ctx,
		generate.DentalSystemPrompt,
		generate.DentalPrompt(text, species),
		generate.DentalMaxTokens,
	)
	if err != nil {
		return nil, err
	}
	return generate.ParseDentalAnalysis(raw)
}

// complete runs a single deterministic completion against the backend.
func (g *Generator) complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error) {
	temperature := 0.0
	params := anyllmlib.CompletionParams{
		Model: g.model,
		Messages: []anyllmlib.Message{
			{Role: anyllmlib.RoleSystem, Content: systemPrompt},
			{Role: anyllmlib.RoleUser, Content: userPrompt},
		},
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	}

	resp, err := g.backend.Completion(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("anyllm: empty choices in response")
	}
	return resp.Choices[0].Message.ContentString(), nil
}
