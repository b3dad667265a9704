// Package mock provides test doubles for the generate provider interfaces.
//
// Zero values for response fields cause methods to return zero values and nil
// errors. Set Err fields to inject failures. Call counters let tests assert
// how many external requests a pipeline operation actually made.
package mock

import (
	"context"
	"io"
	"sync"

	"github.com/softclaw/vetscribe/internal/generate"
)

// Transcriber is a mock implementation of [generate.Transcriber].
type Transcriber struct {
	mu sync.Mutex

	// Text is returned by Transcribe.
	Text string

	// Err, if non-nil, is returned instead of Text.
	Err error

	// Calls counts Transcribe invocations.
	Calls int

	// LastAudio holds the bytes of the most recent audio argument.
	LastAudio []byte

	// LastContentType records the most recent contentType argument.
	LastContentType string
}

var _ generate.Transcriber = (*Transcriber)(nil)

// Transcribe implements [generate.Transcriber].
func (t *Transcriber) Transcribe(ctx context.Context, audio io.Reader, filename, contentType string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Calls++
	t.LastContentType = contentType
	if audio != nil {
		data, _ := io.ReadAll(audio)
		t.LastAudio = data
	}
	if t.Err != nil {
		return "", t.Err
	}
	return t.Text, nil
}

// NoteGenerator is a mock implementation of [generate.NoteGenerator].
type NoteGenerator struct {
	mu sync.Mutex

	// Soap is returned by GenerateSoap.
	Soap string
	// SoapErr, if non-nil, is returned instead of Soap.
	SoapErr error
	// SoapCalls counts GenerateSoap invocations.
	SoapCalls int
	// LastPatient records the most recent patient argument.
	LastPatient generate.PatientContext
	// LastTemplate records the most recent template argument.
	LastTemplate generate.SoapTemplate

	// Summary is returned by GenerateSummary.
	Summary string
	// SummaryErr, if non-nil, is returned instead of Summary.
	SummaryErr error
	// SummaryCalls counts GenerateSummary invocations.
	SummaryCalls int

	// Dental is returned by AnalyzeDental.
	Dental *generate.DentalAnalysis
	// DentalErr, if non-nil, is returned instead of Dental.
	DentalErr error
	// DentalCalls counts AnalyzeDental invocations.
	DentalCalls int
	// LastDentalText records the most recent text argument.
	LastDentalText string

	// Block, if non-nil, is received from once per call before returning,
	// letting tests hold concurrent callers inside the generator.
	Block chan struct{}
}

var _ generate.NoteGenerator = (*NoteGenerator)(nil)

// GenerateSoap implements [generate.NoteGenerator].
func (g *NoteGenerator) GenerateSoap(ctx context.Context, transcript string, patient generate.PatientContext, visitType string, tmpl generate.SoapTemplate) (string, error) {
	g.mu.Lock()
	g.SoapCalls++
	g.LastPatient = patient
	g.LastTemplate = tmpl
	block := g.Block
	g.mu.Unlock()

	if block != nil {
		<-block
	}
	if g.SoapErr != nil {
		return "", g.SoapErr
	}
	return g.Soap, nil
}

// GenerateSummary implements [generate.NoteGenerator].
func (g *NoteGenerator) GenerateSummary(ctx context.Context, transcript string) (string, error) {
	g.mu.Lock()
	g.SummaryCalls++
	block := g.Block
	g.mu.Unlock()

	if block != nil {
		<-block
	}
	if g.SummaryErr != nil {
		return "", g.SummaryErr
	}
	return g.Summary, nil
}

// Counts returns the call counters under the mock's lock, for tests that
// poll while callers are held inside a method via Block.
func (g *NoteGenerator) Counts() (soap, summary, dental int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.SoapCalls, g.SummaryCalls, g.DentalCalls
}

// AnalyzeDental implements [generate.NoteGenerator].
func (g *NoteGenerator) AnalyzeDental(ctx context.Context, text, species string) (*generate.DentalAnalysis, error) {
	g.mu.Lock()
	g.DentalCalls++
	g.LastDentalText = text
	block := g.Block
	g.mu.Unlock()

	if block != nil {
		<-block
	}
	if g.DentalErr != nil {
		return nil, g.DentalErr
	}
	if g.Dental != nil {
		return g.Dental, nil
	}
	return &generate.DentalAnalysis{Findings: map[string]string{}}, nil
}
