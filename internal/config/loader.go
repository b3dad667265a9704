package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"transcriber": {"openai"},
	"notes":       {"openai", "anthropic", "gemini", "ollama", "mistral"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" || tls.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Storage: the three fields stand or fall together. An empty section
	// means recordings stay local-only with no playback links.
	storageSet := cfg.Storage.Root != "" || cfg.Storage.BaseURL != "" || cfg.Storage.Secret != ""
	if storageSet {
		if cfg.Storage.Root == "" {
			errs = append(errs, errors.New("storage.root is required when storage is configured"))
		}
		if cfg.Storage.BaseURL == "" {
			errs = append(errs, errors.New("storage.base_url is required when storage is configured"))
		}
		if cfg.Storage.Secret == "" {
			errs = append(errs, errors.New("storage.secret is required when storage is configured"))
		}
	}
	if cfg.Storage.SignedURLTTL < 0 {
		errs = append(errs, fmt.Errorf("storage.signed_url_ttl %v must not be negative", cfg.Storage.SignedURLTTL))
	}

	validateProviderName("transcriber", cfg.Providers.Transcriber.Name)
	validateProviderName("notes", cfg.Providers.Notes.Name)
	for i, entry := range cfg.Providers.TranscriberFallbacks {
		if entry.Name == "" {
			errs = append(errs, fmt.Errorf("providers.transcriber_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("transcriber", entry.Name)
	}
	for i, entry := range cfg.Providers.NotesFallbacks {
		if entry.Name == "" {
			errs = append(errs, fmt.Errorf("providers.notes_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("notes", entry.Name)
	}

	if cfg.Providers.Transcriber.Name == "" {
		slog.Warn("no transcriber provider configured; transcripts must be entered manually")
	}
	if cfg.Providers.Notes.Name == "" {
		slog.Warn("no notes provider configured; SOAP notes, summaries, and dental charts will be unavailable")
	}

	if cfg.Database.URL == "" {
		slog.Warn("database.url is empty; appointments will be kept in memory and lost on restart")
	}

	if cfg.Drafts.RetentionDays < 0 {
		errs = append(errs, fmt.Errorf("drafts.retention_days %d must not be negative", cfg.Drafts.RetentionDays))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
