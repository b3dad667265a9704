// Command vetscribed is the vetscribe clinical recording server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/softclaw/vetscribe/internal/app"
	"github.com/softclaw/vetscribe/internal/config"
	"github.com/softclaw/vetscribe/internal/generate"
	"github.com/softclaw/vetscribe/internal/generate/anyllm"
	"github.com/softclaw/vetscribe/internal/generate/openai"
	"github.com/softclaw/vetscribe/internal/resilience"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "vetscribed: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "vetscribed: %v\n", err)
		}
		return 1
	}

	logger, level := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("vetscribed starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, providers,
		app.WithLogger(logger),
		app.WithLogLevelVar(level),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	if err := application.WatchConfig(*configPath); err != nil {
		slog.Warn("config watching disabled", "err", err)
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the matching
// backend from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// Whisper transcription via the OpenAI audio API.
	reg.RegisterTranscriber("openai", func(entry config.ProviderEntry) (generate.Transcriber, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		return openai.New(entry.APIKey, opts...)
	})

	// Note generation via the OpenAI chat API, with its own model knob.
	reg.RegisterNotes("openai", func(entry config.ProviderEntry) (generate.NoteGenerator, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, openai.WithNoteModel(entry.Model))
		}
		return openai.New(entry.APIKey, opts...)
	})

	// anthropic, gemini and mistral share the same pattern: optional APIKey
	// plus optional BaseURL, routed through any-llm-go.
	for _, providerName := range []string{"anthropic", "gemini", "mistral"} {
		reg.RegisterNotes(providerName, func(entry config.ProviderEntry) (generate.NoteGenerator, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterNotes("ollama", func(entry config.ProviderEntry) (generate.NoteGenerator, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})
}

// buildProviders instantiates the providers named in cfg using the registry.
// Configured transcriber and notes fallbacks are layered behind their
// primaries with per-backend circuit breakers.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	p := &app.Providers{}

	if name := cfg.Providers.Transcriber.Name; name != "" {
		tr, err := reg.CreateTranscriber(cfg.Providers.Transcriber)
		if err != nil {
			if errors.Is(err, config.ErrProviderNotRegistered) {
				return nil, fmt.Errorf("unknown transcriber provider %q", name)
			}
			return nil, fmt.Errorf("create transcriber provider %q: %w", name, err)
		}
		p.Transcriber = tr
	}

	if name := cfg.Providers.Notes.Name; name != "" {
		notes, err := reg.CreateNotes(cfg.Providers.Notes)
		if err != nil {
			if errors.Is(err, config.ErrProviderNotRegistered) {
				return nil, fmt.Errorf("unknown notes provider %q", name)
			}
			return nil, fmt.Errorf("create notes provider %q: %w", name, err)
		}
		p.Notes = notes
	}

	if len(cfg.Providers.TranscriberFallbacks) > 0 && p.Transcriber != nil {
		fb := resilience.NewTranscriberFallback(p.Transcriber, cfg.Providers.Transcriber.Name, resilience.FallbackConfig{})
		for _, entry := range cfg.Providers.TranscriberFallbacks {
			backup, err := reg.CreateTranscriber(entry)
			if err != nil {
				return nil, fmt.Errorf("create transcriber fallback %q: %w", entry.Name, err)
			}
			fb.AddFallback(entry.Name, backup)
			slog.Info("registered transcriber fallback", "provider", entry.Name, "model", entry.Model)
		}
		p.Transcriber = fb
	}

	if len(cfg.Providers.NotesFallbacks) > 0 && p.Notes != nil {
		fb := resilience.NewNotesFallback(p.Notes, cfg.Providers.Notes.Name, resilience.FallbackConfig{})
		for _, entry := range cfg.Providers.NotesFallbacks {
			backup, err := reg.CreateNotes(entry)
			if err != nil {
				return nil, fmt.Errorf("create notes fallback %q: %w", entry.Name, err)
			}
			fb.AddFallback(entry.Name, backup)
			slog.Info("registered notes fallback", "provider", entry.Name, "model", entry.Model)
		}
		p.Notes = fb
	}

	return p, nil
}

// newLogger builds the process logger with a swappable level, so a config
// reload can adjust verbosity without restarting.
func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lv := new(slog.LevelVar)
	switch level {
	case config.LogDebug:
		lv.Set(slog.LevelDebug)
	case config.LogWarn:
		lv.Set(slog.LevelWarn)
	case config.LogError:
		lv.Set(slog.LevelError)
	default:
		lv.Set(slog.LevelInfo)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv})), lv
}
