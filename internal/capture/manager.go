package capture

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/softclaw/vetscribe/internal/appointment"
)

// Manager enforces the one-active-session-per-client invariant and the
// supersede confirmation: starting a new recording for an appointment that
// already references a stored recording is a deliberate, confirmed action,
// because only one "current" recording is kept per appointment.
type Manager struct {
	appointments appointment.Store

	mu     sync.Mutex
	active map[string]*Session // keyed by client ID
}

// NewManager creates a [Manager]. appointments may be nil, in which case the
// supersede check is skipped (useful for tests that exercise only session
// lifecycle).
func NewManager(appointments appointment.Store) *Manager {
	return &Manager{
		appointments: appointments,
		active:       make(map[string]*Session),
	}
}

// Start creates and starts a session for clientID against appointmentID.
//
// It fails with [ErrSessionActive] when the client already holds an active
// session, and with [ErrSupersedeRequired] when the appointment already has
// a stored recording and supersede is false.
func (m *Manager) Start(ctx context.Context, clientID, appointmentID, contentType string, src Source, supersede bool) (*Session, error) {
	if !m.reserve(clientID) {
		return nil, ErrSessionActive
	}

	if m.appointments != nil && !supersede {
		appt, err := m.appointments.Get(ctx, appointmentID)
		if err != nil {
			m.unreserve(clientID)
			return nil, fmt.Errorf("capture: check appointment: %w", err)
		}
		if appt != nil && appt.AudioPath != "" {
			m.unreserve(clientID)
			return nil, ErrSupersedeRequired
		}
	}

	sess := NewSession(uuid.NewString(), appointmentID, clientID, contentType)
	if err := sess.Start(ctx, src); err != nil {
		m.unreserve(clientID)
		return nil, err
	}

	m.mu.Lock()
	m.active[clientID] = sess
	m.mu.Unlock()
	return sess, nil
}

// reserve claims the client slot with a placeholder idle session so that
// concurrent Start calls for the same client cannot both acquire the device.
// Returns false when the client already holds a live session.
func (m *Manager) reserve(clientID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.active[clientID]; ok {
		state := existing.State()
		if state == StateRecording || state == StatePaused || existing.AppointmentID == appointmentPlaceholder {
			return false
		}
		// A stopped session that was never cleaned up; replace it.
	}
	m.active[clientID] = NewSession("", appointmentPlaceholder, clientID, "")
	return true
}

// unreserve drops the placeholder claimed by reserve after a failed Start.
func (m *Manager) unreserve(clientID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.active[clientID]; ok && sess.AppointmentID == appointmentPlaceholder {
		delete(m.active, clientID)
	}
}

// appointmentPlaceholder marks a reserved-but-not-started client slot.
const appointmentPlaceholder = "\x00reserved"

// Stop ends the client's active session and returns the assembled recording.
func (m *Manager) Stop(clientID string) (*Recording, error) {
	m.mu.Lock()
	sess, ok := m.active[clientID]
	if ok {
		delete(m.active, clientID)
	}
	m.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("capture: client %s: %w", clientID, ErrInvalidTransition)
	}
	return sess.Stop()
}

// Session returns the client's active session, if any.
func (m *Manager) Session(clientID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.active[clientID]
	return sess, ok
}

// Release force-drops a client's session without assembling a recording,
// e.g. when the ingest connection dies. Buffered chunks are discarded with
// the session; the device is released.
func (m *Manager) Release(clientID string) {
	m.mu.Lock()
	sess, ok := m.active[clientID]
	if ok {
		delete(m.active, clientID)
	}
	m.mu.Unlock()

	if ok {
		_, _ = sess.Stop()
	}
}

// ActiveCount returns the number of live sessions across all clients.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}
