// Package appointment persists the visit record that every derived artifact
// hangs off: the transcript, the SOAP note, the client summary, the dental
// chart and the stored audio reference all live on one appointment row.
package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/softclaw/vetscribe/internal/dental"
)

// ErrNotFound is returned by write operations that target an appointment
// that does not exist. Get reports absence as (nil, nil) instead.
var ErrNotFound = errors.New("appointment: not found")

// ErrDuplicate is returned by Create when an appointment with the same ID
// already exists.
var ErrDuplicate = errors.New("appointment already exists")

// Status values for [Appointment.Status].
const (
	StatusScheduled  = "scheduled"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

// Appointment is one patient visit and the artifacts derived from it.
// Artifact fields are empty until the corresponding pipeline stage has run.
type Appointment struct {
	ID          string `json:"id"`
	PatientName string `json:"patientName"`
	OwnerName   string `json:"ownerName"`
	Species     string `json:"species"`
	VisitType   string `json:"visitType"`
	Status      string `json:"status"`

	Transcription string        `json:"transcription,omitempty"`
	SoapNote      string        `json:"soapNote,omitempty"`
	ClientSummary string        `json:"clientSummary,omitempty"`
	DentalChart   *dental.Chart `json:"dentalChart,omitempty"`

	// AudioPath references the current stored recording, if any. A new
	// upload for the same appointment replaces it.
	AudioPath            string `json:"audioPath,omitempty"`
	AudioDurationSeconds int    `json:"audioDurationSeconds,omitempty"`
	AudioSizeBytes       int64  `json:"audioSizeBytes,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate checks that the appointment has the fields every store requires.
func (a *Appointment) Validate() error {
	var errs []error
	if a.ID == "" {
		errs = append(errs, errors.New("id must not be empty"))
	}
	if a.PatientName == "" {
		errs = append(errs, errors.New("patientName must not be empty"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("appointment: invalid: %w", errors.Join(errs...))
	}
	return nil
}

// Fields is a partial update. Nil members are left untouched, so a pipeline
// stage persisting its own artifact never clobbers a sibling written
// concurrently.
type Fields struct {
	Status        *string
	Transcription *string
	SoapNote      *string
	ClientSummary *string
	DentalChart   *dental.Chart
	ClearChart    bool

	AudioPath            *string
	AudioDurationSeconds *int
	AudioSizeBytes       *int64
}

// Empty reports whether the update would touch nothing.
func (f Fields) Empty() bool {
	return f.Status == nil && f.Transcription == nil && f.SoapNote == nil &&
		f.ClientSummary == nil && f.DentalChart == nil && !f.ClearChart &&
		f.AudioPath == nil && f.AudioDurationSeconds == nil && f.AudioSizeBytes == nil
}

// Store provides persistence for appointments.
// Implementations must be safe for concurrent use.
type Store interface {
	// Create inserts a new appointment. The appointment is validated before
	// insertion. Returns an error if the ID already exists.
	Create(ctx context.Context, appt *Appointment) error

	// Get retrieves an appointment by ID. Returns (nil, nil) if not found.
	Get(ctx context.Context, id string) (*Appointment, error)

	// UpdateFields applies a partial update, touching only the non-nil
	// members of fields. Returns [ErrNotFound] if the ID does not exist.
	UpdateFields(ctx context.Context, id string, fields Fields) error

	// List returns all appointments ordered by creation time, newest first.
	List(ctx context.Context) ([]Appointment, error)

	// Delete removes an appointment by ID. Deleting a non-existent
	// appointment is not an error.
	Delete(ctx context.Context, id string) error
}
