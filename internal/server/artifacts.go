package server

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"path"

	"github.com/softclaw/vetscribe/internal/dental"
	"github.com/softclaw/vetscribe/internal/generate"
)

// handleTranscribe runs speech-to-text over the appointment's stored
// recording. The audio is fetched back out of blob storage rather than
// accepted in the request body, so a transcription retry never depends on
// the client still holding the bytes. When the recording never reached
// storage, the copy the upload manager retained in memory is used instead:
// a failed upload must not block transcription.
func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	appt, err := s.appointments.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if appt == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "appointment not found"})
		return
	}
	if s.uploads == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "audio storage is not configured"})
		return
	}

	var audio []byte
	var filename, contentType string
	switch {
	case appt.AudioPath != "":
		audio, err = s.uploads.FetchAudio(r.Context(), appt.AudioPath)
		if err != nil {
			s.writeError(w, err)
			return
		}
		filename = path.Base(appt.AudioPath)
		contentType = mime.TypeByExtension(path.Ext(filename))
	default:
		rec, ok := s.uploads.PendingRecording(id)
		if !ok {
			writeJSON(w, http.StatusConflict, errorBody{Error: "appointment has no stored recording"})
			return
		}
		audio = rec.Blob
		filename = "recording"
		contentType = rec.ContentType
	}

	text, err := s.pipeline.GenerateTranscript(r.Context(), id, audio, filename, contentType)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"transcription": text})
}

// maxAudioUpload bounds uploaded audio files.
const maxAudioUpload = 100 << 20

// handleTranscribeUpload runs speech-to-text over an audio file supplied in
// the request, for visits recorded outside a live capture session.
func (s *Server) handleTranscribeUpload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	appt, err := s.appointments.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if appt == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "appointment not found"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxAudioUpload)
	file, header, err := r.FormFile("audio")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: `multipart field "audio" is required: ` + err.Error()})
		return
	}
	defer file.Close()
	audio, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "read audio upload: " + err.Error()})
		return
	}

	text, err := s.pipeline.GenerateTranscript(r.Context(), id, audio, header.Filename, header.Header.Get("Content-Type"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"transcription": text})
}

// handleRetryUpload re-attempts a failed recording upload from the blob the
// upload manager retained in memory.
func (s *Server) handleRetryUpload(w http.ResponseWriter, r *http.Request) {
	if s.uploads == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "audio storage is not configured"})
		return
	}

	stored, err := s.uploads.RetryPending(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := map[string]any{
		"path":            stored.Path,
		"durationSeconds": stored.DurationSeconds,
	}
	if url, err := s.uploads.PlayableURL(stored.Path); err == nil {
		resp["url"] = url
	}
	writeJSON(w, http.StatusOK, resp)
}

type setTranscriptRequest struct {
	Transcription string `json:"transcription"`
}

func (s *Server) handleSetTranscript(w http.ResponseWriter, r *http.Request) {
	var req setTranscriptRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
		return
	}
	id := r.PathValue("id")
	if err := s.pipeline.SetTranscript(r.Context(), id, req.Transcription); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"transcription": req.Transcription})
}

// soapRequest is the optional POST body selecting a note template. An empty
// body yields the plain SOAP format.
type soapRequest struct {
	Template *struct {
		Label string `json:"label"`
	} `json:"template"`
}

func (s *Server) handleGenerateSoap(w http.ResponseWriter, r *http.Request) {
	var req soapRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
		return
	}
	var tmpl generate.SoapTemplate
	if req.Template != nil {
		tmpl.Label = req.Template.Label
	}

	note, err := s.pipeline.GenerateSoap(r.Context(), r.PathValue("id"), tmpl)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"soapNote": note})
}

func (s *Server) handleGenerateSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.pipeline.GenerateSummary(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"clientSummary": summary})
}

type dentalResponse struct {
	DentalChart *dental.Chart `json:"dentalChart"`
}

func (s *Server) handleGenerateDental(w http.ResponseWriter, r *http.Request) {
	chart, err := s.pipeline.GenerateDentalChart(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dentalResponse{DentalChart: chart})
}

// artifactsResponse is the full derived-artifact view for one appointment,
// including the dental gate decision so a client can hide the chart action
// instead of discovering the refusal on click.
type artifactsResponse struct {
	Transcription  string        `json:"transcription"`
	SoapNote       string        `json:"soapNote"`
	ClientSummary  string        `json:"clientSummary"`
	DentalChart    *dental.Chart `json:"dentalChart,omitempty"`
	DentalEligible bool          `json:"dentalEligible"`
}

func (s *Server) handleGetArtifacts(w http.ResponseWriter, r *http.Request) {
	arts, err := s.pipeline.Load(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, artifactsResponse{
		Transcription:  arts.Transcript,
		SoapNote:       arts.SoapNote,
		ClientSummary:  arts.ClientSummary,
		DentalChart:    arts.DentalChart,
		DentalEligible: arts.DentalEligible,
	})
}

func (s *Server) handleAudioURL(w http.ResponseWriter, r *http.Request) {
	appt, err := s.appointments.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if appt == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "appointment not found"})
		return
	}
	if appt.AudioPath == "" {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "appointment has no stored recording"})
		return
	}
	if s.uploads == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "audio storage is not configured"})
		return
	}

	url, err := s.uploads.PlayableURL(appt.AudioPath)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}
