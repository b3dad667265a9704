package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/softclaw/vetscribe/internal/appointment"
)

// createAppointmentRequest is the POST /api/appointments body. The ID is
// client-supplied so the practice-management system's identifiers carry
// through; server-side generation would force a mapping table.
type createAppointmentRequest struct {
	ID          string `json:"id"`
	PatientName string `json:"patientName"`
	OwnerName   string `json:"ownerName"`
	Species     string `json:"species"`
	VisitType   string `json:"visitType"`
}

func (s *Server) handleCreateAppointment(w http.ResponseWriter, r *http.Request) {
	var req createAppointmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
		return
	}

	appt := &appointment.Appointment{
		ID:          req.ID,
		PatientName: req.PatientName,
		OwnerName:   req.OwnerName,
		Species:     req.Species,
		VisitType:   req.VisitType,
	}
	if err := appt.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if err := s.appointments.Create(r.Context(), appt); err != nil {
		if errors.Is(err, appointment.ErrDuplicate) {
			writeJSON(w, http.StatusConflict, errorBody{Error: fmt.Sprintf("appointment %s already exists", req.ID)})
			return
		}
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, appt)
}

func (s *Server) handleListAppointments(w http.ResponseWriter, r *http.Request) {
	appts, err := s.appointments.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if appts == nil {
		appts = []appointment.Appointment{}
	}
	writeJSON(w, http.StatusOK, appts)
}

func (s *Server) handleGetAppointment(w http.ResponseWriter, r *http.Request) {
	appt, err := s.appointments.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if appt == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "appointment not found"})
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (s *Server) handleDeleteAppointment(w http.ResponseWriter, r *http.Request) {
	if err := s.appointments.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
