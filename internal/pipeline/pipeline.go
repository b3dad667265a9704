// Package pipeline orchestrates the derived-artifact chain for an
// appointment: audio to transcript, transcript to SOAP note and client
// summary, SOAP note to dental chart.
//
// Stages are triggered independently and may run concurrently for the same
// appointment; a singleflight group keyed by appointment and stage coalesces
// duplicate triggers so one external model call serves all concurrent
// requesters. Every stage follows the same write discipline: the in-memory
// artifact cache is updated first and the database write is best-effort,
// logged and swallowed on failure, so a flaky database never costs the user
// a finished artifact.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/softclaw/vetscribe/internal/appointment"
	"github.com/softclaw/vetscribe/internal/dental"
	"github.com/softclaw/vetscribe/internal/generate"
	"github.com/softclaw/vetscribe/internal/observe"
	"github.com/softclaw/vetscribe/internal/vocab"
)

// Stage names used in singleflight keys and metrics attributes.
const (
	StageTranscript = "transcript"
	StageSoap       = "soap"
	StageSummary    = "summary"
	StageDental     = "dental"
)

// Pipeline errors.
var (
	// ErrPrecondition is returned when a stage's required input artifact is
	// missing. No external call is made.
	ErrPrecondition = errors.New("pipeline: required input artifact missing")

	// ErrGeneration is returned when the external model call fails. The
	// input artifacts are intact, so the stage can simply be re-triggered.
	ErrGeneration = errors.New("pipeline: artifact generation failed")

	// ErrNoChartData is returned when dental chart generation cannot
	// produce a chart: either the record never mentioned dental work, or
	// the model's extraction came back unusable. Callers should surface
	// this as "review the record manually", not as a transient failure.
	ErrNoChartData = errors.New("pipeline: no dental data available")

	// ErrNotFound is returned when the appointment does not exist.
	ErrNotFound = errors.New("pipeline: appointment not found")
)

// Artifacts is the current derived-artifact set for one appointment. It is a
// value snapshot; mutating it does not affect the pipeline's cache.
type Artifacts struct {
	Transcript    string
	SoapNote      string
	ClientSummary string
	DentalChart   *dental.Chart

	// DentalEligible reports whether the current SOAP note mentions dental
	// work. It is recomputed whenever the note changes; the raw transcript
	// does not feed the gate, because passing chatter ("owner asked about
	// teeth") must not unlock charting.
	DentalEligible bool
}

// Option is a functional option for [Pipeline].
type Option func(*Pipeline)

// WithNormalizer enables veterinary vocabulary normalisation on new
// transcripts.
func WithNormalizer(n *vocab.Normalizer) Option {
	return func(p *Pipeline) {
		p.normalizer = n
	}
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(p *Pipeline) {
		p.log = log
	}
}

// Pipeline runs artifact generation stages for appointments. It is safe for
// concurrent use.
type Pipeline struct {
	transcriber  generate.Transcriber
	notes        generate.NoteGenerator
	appointments appointment.Store
	normalizer   *vocab.Normalizer
	metrics      *observe.Metrics
	log          *slog.Logger

	group singleflight.Group
	now   func() time.Time

	mu    sync.Mutex
	cache map[string]*Artifacts
}

// New creates a [Pipeline]. appointments must be non-nil: stages load their
// inputs from it and persist their outputs to it.
func New(transcriber generate.Transcriber, notes generate.NoteGenerator, appointments appointment.Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		transcriber:  transcriber,
		notes:        notes,
		appointments: appointments,
		log:          slog.Default(),
		now:          time.Now,
		cache:        make(map[string]*Artifacts),
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p
}

// Load seeds the artifact cache for appointmentID from the database and
// returns the snapshot. Call it when a visit record is opened so later
// stage triggers and [Pipeline.Artifacts] reads see persisted state.
func (p *Pipeline) Load(ctx context.Context, appointmentID string) (Artifacts, error) {
	appt, err := p.appointments.Get(ctx, appointmentID)
	if err != nil {
		return Artifacts{}, fmt.Errorf("pipeline: load %s: %w", appointmentID, err)
	}
	if appt == nil {
		return Artifacts{}, fmt.Errorf("pipeline: load %s: %w", appointmentID, ErrNotFound)
	}

	a := &Artifacts{
		Transcript:    appt.Transcription,
		SoapNote:      appt.SoapNote,
		ClientSummary: appt.ClientSummary,
		DentalChart:   appt.DentalChart,
	}
	a.DentalEligible = dental.MentionsDental(a.SoapNote)

	p.mu.Lock()
	p.cache[appointmentID] = a
	p.mu.Unlock()
	return *a, nil
}

// Artifacts returns the cached artifact snapshot for appointmentID. The
// second return is false when the appointment has not been loaded and no
// stage has run for it.
func (p *Pipeline) Artifacts(appointmentID string) (Artifacts, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.cache[appointmentID]
	if !ok {
		return Artifacts{}, false
	}
	return *a, true
}

// GenerateTranscript runs speech-to-text over audio and stores the result as
// the appointment's transcript. Concurrent triggers for the same appointment
// coalesce into one transcription call.
func (p *Pipeline) GenerateTranscript(ctx context.Context, appointmentID string, audio []byte, filename, contentType string) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("pipeline: transcribe %s: empty audio: %w", appointmentID, ErrPrecondition)
	}

	v, err, _ := p.group.Do(appointmentID+"/"+StageTranscript, func() (any, error) {
		return p.runTranscript(ctx, appointmentID, audio, filename, contentType)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (p *Pipeline) runTranscript(ctx context.Context, appointmentID string, audio []byte, filename, contentType string) (string, error) {
	ctx, span := observe.StartSpan(ctx, "pipeline.transcript")
	defer span.End()
	start := p.now()

	text, err := p.transcriber.Transcribe(ctx, bytes.NewReader(audio), filename, contentType)
	p.metrics.RecordStage(ctx, StageTranscript, time.Since(start).Seconds(), err)
	if err != nil {
		return "", fmt.Errorf("pipeline: transcribe %s: %v: %w", appointmentID, err, ErrGeneration)
	}

	p.mu.Lock()
	normalizer := p.normalizer
	p.mu.Unlock()
	if normalizer != nil {
		normalized, corrections := normalizer.Normalize(text)
		if len(corrections) > 0 {
			p.log.Info("vocabulary corrections applied",
				"appointment_id", appointmentID, "corrections", len(corrections))
		}
		text = normalized
	}

	p.setTranscript(ctx, appointmentID, text)
	return text, nil
}

// SetTranscript replaces the appointment's transcript with manually entered
// or edited text. Derived artifacts and the dental gate decision are left in
// place; the gate reads the SOAP note, so it moves only when the note is
// regenerated from the new transcript.
func (p *Pipeline) SetTranscript(ctx context.Context, appointmentID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("pipeline: set transcript %s: empty text: %w", appointmentID, ErrPrecondition)
	}
	p.setTranscript(ctx, appointmentID, text)
	return nil
}

// SetNormalizer swaps the vocabulary normalizer. A nil normalizer disables
// correction. Safe to call while transcriptions are in flight; stages already
// running keep the normalizer they started with.
func (p *Pipeline) SetNormalizer(n *vocab.Normalizer) {
	p.mu.Lock()
	p.normalizer = n
	p.mu.Unlock()
}

// setTranscript applies the optimistic cache update and the best-effort
// database write shared by generated and manual transcripts.
func (p *Pipeline) setTranscript(ctx context.Context, appointmentID, text string) {
	p.mu.Lock()
	p.artifactsLocked(appointmentID).Transcript = text
	p.mu.Unlock()

	p.persist(ctx, appointmentID, appointment.Fields{Transcription: &text})
}

// GenerateSoap organises the transcript into a SOAP note using tmpl as the
// note format (the zero template renders as plain SOAP). It fails fast with
// [ErrPrecondition] when no transcript exists; the external model is never
// called on a precondition failure. Concurrent triggers coalesce and share
// the winning trigger's template.
func (p *Pipeline) GenerateSoap(ctx context.Context, appointmentID string, tmpl generate.SoapTemplate) (string, error) {
	v, err, _ := p.group.Do(appointmentID+"/"+StageSoap, func() (any, error) {
		return p.runSoap(ctx, appointmentID, tmpl)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (p *Pipeline) runSoap(ctx context.Context, appointmentID string, tmpl generate.SoapTemplate) (string, error) {
	transcript, ok := p.transcriptFor(appointmentID)
	if !ok {
		return "", fmt.Errorf("pipeline: soap %s: no transcript: %w", appointmentID, ErrPrecondition)
	}

	appt, err := p.appointments.Get(ctx, appointmentID)
	if err != nil {
		return "", fmt.Errorf("pipeline: soap %s: %w", appointmentID, err)
	}

	var patient generate.PatientContext
	var visitType string
	if appt != nil {
		patient = generate.PatientContext{
			Name:    appt.PatientName,
			Species: appt.Species,
			Owner:   appt.OwnerName,
		}
		visitType = appt.VisitType
	}

	ctx, span := observe.StartSpan(ctx, "pipeline.soap")
	defer span.End()
	start := p.now()

	note, err := p.notes.GenerateSoap(ctx, transcript, patient, visitType, tmpl)
	p.metrics.RecordStage(ctx, StageSoap, time.Since(start).Seconds(), err)
	if err != nil {
		return "", fmt.Errorf("pipeline: soap %s: %v: %w", appointmentID, err, ErrGeneration)
	}

	p.mu.Lock()
	a := p.artifactsLocked(appointmentID)
	a.SoapNote = note
	a.DentalEligible = dental.MentionsDental(note)
	p.mu.Unlock()

	p.persist(ctx, appointmentID, appointment.Fields{SoapNote: &note})
	return note, nil
}

// GenerateSummary writes the client-facing visit summary. It reads only the
// transcript, so it can run in parallel with [Pipeline.GenerateSoap].
func (p *Pipeline) GenerateSummary(ctx context.Context, appointmentID string) (string, error) {
	v, err, _ := p.group.Do(appointmentID+"/"+StageSummary, func() (any, error) {
		return p.runSummary(ctx, appointmentID)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (p *Pipeline) runSummary(ctx context.Context, appointmentID string) (string, error) {
	transcript, ok := p.transcriptFor(appointmentID)
	if !ok {
		return "", fmt.Errorf("pipeline: summary %s: no transcript: %w", appointmentID, ErrPrecondition)
	}

	ctx, span := observe.StartSpan(ctx, "pipeline.summary")
	defer span.End()
	start := p.now()

	summary, err := p.notes.GenerateSummary(ctx, transcript)
	p.metrics.RecordStage(ctx, StageSummary, time.Since(start).Seconds(), err)
	if err != nil {
		return "", fmt.Errorf("pipeline: summary %s: %v: %w", appointmentID, err, ErrGeneration)
	}

	p.mu.Lock()
	p.artifactsLocked(appointmentID).ClientSummary = summary
	p.mu.Unlock()

	p.persist(ctx, appointmentID, appointment.Fields{ClientSummary: &summary})
	return summary, nil
}

// GenerateDentalChart extracts dental findings from the appointment's
// clinical text and assembles the chart artifact.
//
// Preconditions: a SOAP note must exist and must actually mention dental
// work. The note alone is gated and submitted; the raw transcript is not,
// so an owner's passing question about teeth cannot turn a lameness visit
// into a dental record. Notes that never mention dental work fail with
// [ErrNoChartData] before any model call, because a chart extracted from a
// non-dental record would be fabricated.
//
// A model extraction with zero findings is a valid healthy-mouth chart. A
// model response that cannot be parsed also surfaces as [ErrNoChartData]:
// retrying the same text tends to reproduce the same malformed reply, so
// the operator is pointed at manual review instead.
func (p *Pipeline) GenerateDentalChart(ctx context.Context, appointmentID string) (*dental.Chart, error) {
	v, err, _ := p.group.Do(appointmentID+"/"+StageDental, func() (any, error) {
		return p.runDental(ctx, appointmentID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*dental.Chart), nil
}

func (p *Pipeline) runDental(ctx context.Context, appointmentID string) (*dental.Chart, error) {
	p.mu.Lock()
	soap := p.artifactsLocked(appointmentID).SoapNote
	p.mu.Unlock()

	if soap == "" {
		return nil, fmt.Errorf("pipeline: dental %s: no soap note: %w", appointmentID, ErrPrecondition)
	}
	if !dental.MentionsDental(soap) {
		return nil, fmt.Errorf("pipeline: dental %s: note has no dental mentions: %w", appointmentID, ErrNoChartData)
	}

	species := "dog"
	appt, err := p.appointments.Get(ctx, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("pipeline: dental %s: %w", appointmentID, err)
	}
	if appt != nil && appt.Species != "" {
		species = strings.ToLower(appt.Species)
	}

	ctx, span := observe.StartSpan(ctx, "pipeline.dental")
	defer span.End()
	start := p.now()

	analysis, err := p.notes.AnalyzeDental(ctx, soap, species)
	p.metrics.RecordStage(ctx, StageDental, time.Since(start).Seconds(), err)
	if err != nil {
		if errors.Is(err, generate.ErrMalformedResponse) {
			return nil, fmt.Errorf("pipeline: dental %s: %v: %w", appointmentID, err, ErrNoChartData)
		}
		return nil, fmt.Errorf("pipeline: dental %s: %v: %w", appointmentID, err, ErrGeneration)
	}

	chart := dental.BuildChart(species, analysis.Findings)

	p.mu.Lock()
	p.artifactsLocked(appointmentID).DentalChart = chart
	p.mu.Unlock()

	p.persist(ctx, appointmentID, appointment.Fields{DentalChart: chart})
	return chart, nil
}

// transcriptFor returns the cached transcript, reporting ok=false when it is
// empty.
func (p *Pipeline) transcriptFor(appointmentID string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t := p.artifactsLocked(appointmentID).Transcript
	return t, t != ""
}

// artifactsLocked returns the cache entry for appointmentID, creating it if
// absent. Callers must hold p.mu.
func (p *Pipeline) artifactsLocked(appointmentID string) *Artifacts {
	a, ok := p.cache[appointmentID]
	if !ok {
		a = &Artifacts{}
		p.cache[appointmentID] = a
	}
	return a
}

// persist writes fields to the appointment store best-effort. The artifact
// already lives in the cache, so persistence failures are logged and
// swallowed rather than failing the stage.
func (p *Pipeline) persist(ctx context.Context, appointmentID string, fields appointment.Fields) {
	if err := p.appointments.UpdateFields(ctx, appointmentID, fields); err != nil {
		p.log.Warn("artifact generated but appointment update failed",
			"appointment_id", appointmentID, "error", err)
	}
}
