package resilience

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/softclaw/vetscribe/internal/generate"
)

// NotesFallback implements [generate.NoteGenerator] with automatic failover
// across multiple note-generation backends. Each backend has its own circuit
// breaker; when the primary fails or its breaker is open, the next healthy
// fallback is tried.
type NotesFallback struct {
	group *FallbackGroup[generate.NoteGenerator]
}

var _ generate.NoteGenerator = (*NotesFallback)(nil)

// NewNotesFallback creates a [NotesFallback] with primary as the preferred
// backend.
func NewNotesFallback(primary generate.NoteGenerator, primaryName string, cfg FallbackConfig) *NotesFallback {
	return &NotesFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional note generator as a fallback.
func (f *NotesFallback) AddFallback(name string, gen generate.NoteGenerator) {
	f.group.AddFallback(name, gen)
}

// GenerateSoap asks the first healthy backend for a SOAP note.
func (f *NotesFallback) GenerateSoap(ctx context.Context, transcript string, patient generate.PatientContext, visitType string, tmpl generate.SoapTemplate) (string, error) {
	return ExecuteWithResult(f.group, func(g generate.NoteGenerator) (string, error) {
		return g.GenerateSoap(ctx, transcript, patient, visitType, tmpl)
	})
}

// GenerateSummary asks the first healthy backend for a client summary.
func (f *NotesFallback) GenerateSummary(ctx context.Context, transcript string) (string, error) {
	return ExecuteWithResult(f.group, func(g generate.NoteGenerator) (string, error) {
		return g.GenerateSummary(ctx, transcript)
	})
}

// AnalyzeDental asks the first healthy backend for a dental extraction.
//
// A malformed-response error counts as a backend failure for breaker
// accounting, but failover still applies: a fallback model may well produce
// a parseable extraction where the primary did not.
func (f *NotesFallback) AnalyzeDental(ctx context.Context, text, species string) (*generate.DentalAnalysis, error) {
	return ExecuteWithResult(f.group, func(g generate.NoteGenerator) (*generate.DentalAnalysis, error) {
		return g.AnalyzeDental(ctx, text, species)
	})
}

// TranscriberFallback implements [generate.Transcriber] with automatic
// failover across speech-to-text backends.
type TranscriberFallback struct {
	group *FallbackGroup[generate.Transcriber]
}

var _ generate.Transcriber = (*TranscriberFallback)(nil)

// NewTranscriberFallback creates a [TranscriberFallback] with primary as the
// preferred backend.
func NewTranscriberFallback(primary generate.Transcriber, primaryName string, cfg FallbackConfig) *TranscriberFallback {
	return &TranscriberFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional transcriber as a fallback.
func (f *TranscriberFallback) AddFallback(name string, t generate.Transcriber) {
	f.group.AddFallback(name, t)
}

// Transcribe sends the audio to the first healthy backend.
//
// Failover needs to replay the audio, so the reader is buffered into a
// [io.ReadSeeker] equivalent before the first attempt when it is not one
// already; callers passing large blobs should pass a seekable reader.
func (f *TranscriberFallback) Transcribe(ctx context.Context, audio io.Reader, filename, contentType string) (string, error) {
	seeker, err := seekable(audio)
	if err != nil {
		return "", err
	}
	return ExecuteWithResult(f.group, func(t generate.Transcriber) (string, error) {
		if _, err := seeker.Seek(0, io.SeekStart); err != nil {
			return "", err
		}
		return t.Transcribe(ctx, seeker, filename, contentType)
	})
}

// seekable returns r as an [io.ReadSeeker], buffering it fully when it is
// not one already.
func seekable(r io.Reader) (io.ReadSeeker, error) {
	if rs, ok := r.(io.ReadSeeker); ok {
		return rs, nil
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("resilience: buffer audio for failover: %w", err)
	}
	return bytes.NewReader(data), nil
}
