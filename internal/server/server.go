// Package server exposes the vetscribe HTTP API: appointment CRUD, artifact
// generation triggers, email draft management, signed media playback, and a
// WebSocket ingest endpoint for live capture sessions.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/softclaw/vetscribe/internal/appointment"
	"github.com/softclaw/vetscribe/internal/capture"
	"github.com/softclaw/vetscribe/internal/draftcache"
	"github.com/softclaw/vetscribe/internal/health"
	"github.com/softclaw/vetscribe/internal/observe"
	"github.com/softclaw/vetscribe/internal/pipeline"
	"github.com/softclaw/vetscribe/internal/storage"
	"github.com/softclaw/vetscribe/internal/upload"
)

// Deps carries the collaborators a [Server] routes requests to. Appointments
// and Pipeline are required; the rest disable their endpoints when nil.
type Deps struct {
	Appointments appointment.Store
	Pipeline     *pipeline.Pipeline
	Uploads      *upload.Manager
	Captures     *capture.Manager
	Drafts       *draftcache.Cache

	// Media serves signed playback URLs minted by the upload manager. Nil
	// disables the /media routes (recordings stored elsewhere).
	Media *storage.FSStore

	Health  *health.Handler
	Metrics *observe.Metrics
	Logger  *slog.Logger
}

// Server is the HTTP API front end. Construct with [New], mount via
// [Server.Handler].
type Server struct {
	appointments appointment.Store
	pipeline     *pipeline.Pipeline
	uploads      *upload.Manager
	captures     *capture.Manager
	drafts       *draftcache.Cache
	media        *storage.FSStore
	health       *health.Handler
	metrics      *observe.Metrics
	log          *slog.Logger
}

// New creates a [Server] from deps.
func New(deps Deps) *Server {
	s := &Server{
		appointments: deps.Appointments,
		pipeline:     deps.Pipeline,
		uploads:      deps.Uploads,
		captures:     deps.Captures,
		drafts:       deps.Drafts,
		media:        deps.Media,
		health:       deps.Health,
		metrics:      deps.Metrics,
		log:          deps.Logger,
	}
	if s.health == nil {
		s.health = health.New()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

// Handler builds the full route table wrapped in the observability
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/appointments", s.handleCreateAppointment)
	mux.HandleFunc("GET /api/appointments", s.handleListAppointments)
	mux.HandleFunc("GET /api/appointments/{id}", s.handleGetAppointment)
	mux.HandleFunc("DELETE /api/appointments/{id}", s.handleDeleteAppointment)

	mux.HandleFunc("POST /api/appointments/{id}/transcribe", s.handleTranscribe)
	mux.HandleFunc("POST /api/appointments/{id}/transcribe-upload", s.handleTranscribeUpload)
	mux.HandleFunc("POST /api/appointments/{id}/retry-upload", s.handleRetryUpload)
	mux.HandleFunc("PUT /api/appointments/{id}/transcript", s.handleSetTranscript)
	mux.HandleFunc("POST /api/appointments/{id}/soap", s.handleGenerateSoap)
	mux.HandleFunc("POST /api/appointments/{id}/summary", s.handleGenerateSummary)
	mux.HandleFunc("POST /api/appointments/{id}/dental", s.handleGenerateDental)
	mux.HandleFunc("GET /api/appointments/{id}/artifacts", s.handleGetArtifacts)
	mux.HandleFunc("GET /api/appointments/{id}/audio-url", s.handleAudioURL)

	if s.drafts != nil {
		mux.HandleFunc("GET /api/drafts", s.handleListDrafts)
		mux.HandleFunc("GET /api/drafts/{id}", s.handleGetDraft)
		mux.HandleFunc("PUT /api/drafts/{id}", s.handlePutDraft)
		mux.HandleFunc("POST /api/drafts/{id}/send-attempts", s.handleSendAttempt)
		mux.HandleFunc("DELETE /api/drafts/{id}", s.handleDeleteDraft)
	}

	if s.media != nil {
		mux.HandleFunc("GET /media/{object...}", s.handleMedia)
	}
	if s.captures != nil {
		mux.HandleFunc("GET /ws/capture", s.handleCaptureSocket)
	}

	s.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	return observe.Middleware(s.metrics)(mux)
}

// errorBody is the JSON error envelope for all API failures.
type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encode response"}`, http.StatusInternalServerError)
	}
}

// writeError maps domain errors onto HTTP status codes so clients can
// distinguish "fix your request" from "retry later".
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, appointment.ErrNotFound), errors.Is(err, pipeline.ErrNotFound),
		errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, pipeline.ErrPrecondition):
		status = http.StatusConflict
	case errors.Is(err, pipeline.ErrNoChartData):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, upload.ErrNoPendingRecording):
		status = http.StatusNotFound
	case errors.Is(err, pipeline.ErrGeneration), errors.Is(err, upload.ErrUploadFailed):
		status = http.StatusBadGateway
	case errors.Is(err, capture.ErrSessionActive), errors.Is(err, capture.ErrSupersedeRequired):
		status = http.StatusConflict
	case errors.Is(err, storage.ErrStaleURL), errors.Is(err, storage.ErrUnauthorized):
		status = http.StatusForbidden
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "error", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
