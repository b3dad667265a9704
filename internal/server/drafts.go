package server

import (
	"net/http"

	"github.com/softclaw/vetscribe/internal/draftcache"
)

func (s *Server) handleListDrafts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.drafts.List())
}

func (s *Server) handleGetDraft(w http.ResponseWriter, r *http.Request) {
	d, ok := s.drafts.Get(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no draft for appointment"})
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// putDraftRequest carries a partial draft update; absent fields leave the
// stored value untouched.
type putDraftRequest struct {
	Subject        *string `json:"subject"`
	Body           *string `json:"body"`
	RecipientEmail *string `json:"recipientEmail"`
}

func (s *Server) handlePutDraft(w http.ResponseWriter, r *http.Request) {
	var req putDraftRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
		return
	}

	d, err := s.drafts.Upsert(r.Context(), r.PathValue("id"), draftcache.Patch{
		Subject:        req.Subject,
		Body:           req.Body,
		RecipientEmail: req.RecipientEmail,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type sendAttemptRequest struct {
	Status    string `json:"status"`
	Method    string `json:"method"`
	Recipient string `json:"recipient"`
}

func (s *Server) handleSendAttempt(w http.ResponseWriter, r *http.Request) {
	var req sendAttemptRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
		return
	}

	status := draftcache.SendStatus(req.Status)
	if status != draftcache.SendStatusSent && status != draftcache.SendStatusFailed {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: `status must be "sent" or "failed"`})
		return
	}
	method := draftcache.SendMethod(req.Method)
	if method == "" {
		method = draftcache.SendMethodEmail
	}
	if method != draftcache.SendMethodEmail && method != draftcache.SendMethodSMS {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: `method must be "email" or "sms"`})
		return
	}

	d, err := s.drafts.RecordSendAttempt(r.Context(), r.PathValue("id"), status, method, req.Recipient)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleDeleteDraft(w http.ResponseWriter, r *http.Request) {
	if err := s.drafts.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
