// Package openai provides [generate.Transcriber] and [generate.NoteGenerator]
// implementations backed by the OpenAI API: whisper-1 for transcription and
// a chat-completion model for note generation.
package openai

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/softclaw/vetscribe/internal/generate"
)

// DefaultNoteModel is the chat model used when none is configured. Scribe
// output wants determinism over creativity, so all requests run at
// temperature zero.
const DefaultNoteModel = "gpt-4o-mini"

// Client implements [generate.Transcriber] and [generate.NoteGenerator]
// against the OpenAI API.
type Client struct {
	client    oai.Client
	noteModel string
}

// Compile-time interface checks.
var (
	_ generate.Transcriber   = (*Client)(nil)
	_ generate.NoteGenerator = (*Client)(nil)
)

// config holds optional configuration for the client.
type config struct {
	baseURL   string
	noteModel string
	timeout   time.Duration
}

// Option is a functional option for Client.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithNoteModel selects the chat model used for note generation.
func WithNoteModel(model string) Option {
	return func(c *config) {
		c.noteModel = model
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI-backed Client.
func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}

	cfg := &config{noteModel: DefaultNoteModel}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Client{
		client:    oai.NewClient(reqOpts...),
		noteModel: cfg.noteModel,
	}, nil
}

// Transcribe implements [generate.Transcriber] using whisper-1.
func (c *Client) Transcribe(ctx context.Context, audio io.Reader, filename, contentType string) (string, error) {
	if filename == "" {
		filename = "recording.webm"
	}
	if contentType == "" {
		contentType = "audio/webm"
	}

	resp, err := c.client.Audio.Transcriptions.New(ctx, oai.AudioTranscriptionNewParams{
		Model: oai.AudioModelWhisper1,
		File:  oai.File(audio, filename, contentType),
	})
	if err != nil {
		return "", fmt.Errorf("openai: transcribe: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// GenerateSoap implements [generate.NoteGenerator].
func (c *Client) GenerateSoap(ctx context.Context, transcript string, patient generate.PatientContext, visitType string, tmpl generate.SoapTemplate) (string, error) {
	return c.complete(ctx,
		generate.SoapSystemPrompt,
		generate.SoapPrompt(transcript, patient, visitType, tmpl),
		generate.SoapMaxTokens,
	)
}

// GenerateSummary implements [generate.NoteGenerator].
func (c *Client) GenerateSummary(ctx context.Context, transcript string) (string, error) {
	return c.complete(ctx,
		generate.SummarySystemPrompt,
		generate.SummaryPrompt(transcript),
		generate.SummaryMaxTokens,
	)
}

// AnalyzeDental implements [generate.NoteGenerator].
func (c *Client) AnalyzeDental(ctx context.Context, text, species string) (*generate.DentalAnalysis, error) {
	raw, err := c.complete(ctx,
		generate.DentalSystemPrompt,
		generate.DentalPrompt(text, species),
		generate.DentalMaxTokens,
	)
	if err != nil {
		return nil, err
	}
	return generate.ParseDentalAnalysis(raw)
}

// complete runs a single deterministic chat completion.
func (c *Client) complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error) {
	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.noteModel),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(systemPrompt),
			oai.UserMessage(userPrompt),
		},
		Temperature:         param.NewOpt(0.0),
		MaxCompletionTokens: param.NewOpt(int64(maxTokens)),
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: empty choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}
