package appointment

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-memory [Store] for tests and single-process development
// setups. All methods copy on the way in and out so callers cannot mutate
// stored state through retained pointers.
type MemStore struct {
	mu    sync.RWMutex
	appts map[string]*Appointment
	now   func() time.Time
}

// Compile-time interface check.
var _ Store = (*MemStore)(nil)

// NewMemStore creates an empty [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{
		appts: make(map[string]*Appointment),
		now:   time.Now,
	}
}

// Create inserts a new appointment.
func (s *MemStore) Create(ctx context.Context, appt *Appointment) error {
	if err := appt.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.appts[appt.ID]; ok {
		return fmt.Errorf("appointment: id %q: %w", appt.ID, ErrDuplicate)
	}

	now := s.now()
	appt.Status = defaultStatus(appt.Status)
	appt.CreatedAt = now
	appt.UpdatedAt = now
	cp := *appt
	s.appts[appt.ID] = &cp
	return nil
}

// Get retrieves an appointment by ID. Returns (nil, nil) if not found.
func (s *MemStore) Get(ctx context.Context, id string) (*Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	appt, ok := s.appts[id]
	if !ok {
		return nil, nil
	}
	cp := *appt
	return &cp, nil
}

// UpdateFields applies a partial update to an existing appointment.
func (s *MemStore) UpdateFields(ctx context.Context, id string, fields Fields) error {
	if fields.Empty() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	appt, ok := s.appts[id]
	if !ok {
		return fmt.Errorf("appointment: update %q: %w", id, ErrNotFound)
	}

	if fields.Status != nil {
		appt.Status = *fields.Status
	}
	if fields.Transcription != nil {
		appt.Transcription = *fields.Transcription
	}
	if fields.SoapNote != nil {
		appt.SoapNote = *fields.SoapNote
	}
	if fields.ClientSummary != nil {
		appt.ClientSummary = *fields.ClientSummary
	}
	if fields.DentalChart != nil {
		chart := *fields.DentalChart
		appt.DentalChart = &chart
	} else if fields.ClearChart {
		appt.DentalChart = nil
	}
	if fields.AudioPath != nil {
		appt.AudioPath = *fields.AudioPath
	}
	if fields.AudioDurationSeconds != nil {
		appt.AudioDurationSeconds = *fields.AudioDurationSeconds
	}
	if fields.AudioSizeBytes != nil {
		appt.AudioSizeBytes = *fields.AudioSizeBytes
	}
	appt.UpdatedAt = s.now()
	return nil
}

// List returns all appointments, newest first.
func (s *MemStore) List(ctx context.Context) ([]Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	appts := make([]Appointment, 0, len(s.appts))
	for _, appt := range s.appts {
		appts = append(appts, *appt)
	}
	sort.Slice(appts, func(i, j int) bool {
		return appts[i].CreatedAt.After(appts[j].CreatedAt)
	})
	return appts, nil
}

// Delete removes an appointment by ID.
func (s *MemStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.appts, id)
	return nil
}
