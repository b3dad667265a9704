// Package generate defines the provider interfaces for the two external model
// calls the artifact pipeline makes: speech-to-text transcription and
// clinical note generation. Concrete backends live in subpackages
// ([github.com/softclaw/vetscribe/internal/generate/openai] and
// [github.com/softclaw/vetscribe/internal/generate/anyllm]); tests use the
// mock subpackage.
//
// Implementors must be safe for concurrent use.
package generate

import (
	"context"
	"errors"
	"io"
)

// ErrMalformedResponse is returned when the model replied but its output
// could not be parsed into the expected structure. The request itself
// succeeded, so retrying without changing the input is unlikely to help.
var ErrMalformedResponse = errors.New("generate: malformed model response")

// PatientContext is the signalment block injected into note prompts. Empty
// fields render as "Unknown" so the model never guesses at missing data.
type PatientContext struct {
	Name    string
	Species string
	Breed   string
	Age     string
	Sex     string
	Weight  string
	Owner   string
}

// SoapTemplate selects the note format label used in the SOAP prompt.
// The zero value renders as "SOAP".
type SoapTemplate struct {
	Label string
}

// DentalAnalysis is the structured extraction returned by
// [NoteGenerator.AnalyzeDental]. Findings maps a Triadan tooth number (or
// "general") to a condition string. An empty Findings map is a valid result:
// it means the model found no dental pathology in the text.
type DentalAnalysis struct {
	Findings      map[string]string `json:"findings"`
	Summary       string            `json:"summary"`
	RawExtraction string            `json:"raw_extraction"`
}

// Transcriber converts recorded audio into text.
type Transcriber interface {
	// Transcribe sends the audio to the speech-to-text backend and returns
	// the transcript with surrounding whitespace trimmed. filename and
	// contentType describe the audio container for backends that need them.
	Transcribe(ctx context.Context, audio io.Reader, filename, contentType string) (string, error)
}

// NoteGenerator produces the text artifacts derived from a transcript.
type NoteGenerator interface {
	// GenerateSoap organises the transcript into a structured clinical note.
	GenerateSoap(ctx context.Context, transcript string, patient PatientContext, visitType string, tmpl SoapTemplate) (string, error)

	// GenerateSummary writes a short client-facing visit summary from the
	// transcript alone.
	GenerateSummary(ctx context.Context, transcript string) (string, error)

	// AnalyzeDental extracts dental findings from clinical text. A response
	// the model produced but the backend could not parse is reported as
	// [ErrMalformedResponse].
	AnalyzeDental(ctx context.Context, text, species string) (*DentalAnalysis, error)
}
