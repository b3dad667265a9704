package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/softclaw/vetscribe/internal/generate"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory
// has been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	transcriber map[string]func(ProviderEntry) (generate.Transcriber, error)
	notes       map[string]func(ProviderEntry) (generate.NoteGenerator, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		transcriber: make(map[string]func(ProviderEntry) (generate.Transcriber, error)),
		notes:       make(map[string]func(ProviderEntry) (generate.NoteGenerator, error)),
	}
}

// RegisterTranscriber registers a speech-to-text provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterTranscriber(name string, factory func(ProviderEntry) (generate.Transcriber, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcriber[name] = factory
}

// RegisterNotes registers a note-generation provider factory under name.
func (r *Registry) RegisterNotes(name string, factory func(ProviderEntry) (generate.NoteGenerator, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes[name] = factory
}

// CreateTranscriber instantiates a speech-to-text provider using the factory
// registered under entry.Name. Returns [ErrProviderNotRegistered] if no
// factory has been registered for that name.
func (r *Registry) CreateTranscriber(entry ProviderEntry) (generate.Transcriber, error) {
	r.mu.RLock()
	factory, ok := r.transcriber[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: transcriber/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateNotes instantiates a note-generation provider using the factory
// registered under entry.Name.
func (r *Registry) CreateNotes(entry ProviderEntry) (generate.NoteGenerator, error) {
	r.mu.RLock()
	factory, ok := r.notes[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: notes/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
