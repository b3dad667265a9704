// Package capture owns the client-side recording session: exclusive device
// access, the ordered chunk buffer, and the Idle → Recording ⇄ Paused →
// Stopped state machine.
//
// Audio arrives as short fixed-interval chunks (the ingest transport emits
// roughly one per second) so no single chunk ever spans the whole recording;
// this bounds per-chunk memory and sidesteps platform caps on single
// continuous captures. [Session.Stop] assembles the chunks in emission order
// into one contiguous blob — the unit handed to the upload manager.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Session errors.
var (
	// ErrDeviceDenied is returned by [Session.Start] when the audio source
	// refuses access (user declined the permission prompt, or no device).
	ErrDeviceDenied = errors.New("capture: device access denied")

	// ErrInvalidTransition is returned when a lifecycle call is not valid
	// in the session's current state.
	ErrInvalidTransition = errors.New("capture: invalid state transition")

	// ErrSessionActive is returned by [Manager.Start] while another session
	// is still holding the device for the same client.
	ErrSessionActive = errors.New("capture: a recording session is already active")

	// ErrSupersedeRequired is returned by [Manager.Start] when the target
	// appointment already references a stored recording and the caller did
	// not confirm that it will be superseded.
	ErrSupersedeRequired = errors.New("capture: appointment already has a recording; confirmation required")
)

// State is the lifecycle state of a [Session].
type State int

const (
	StateIdle State = iota
	StateRecording
	StatePaused
	StateStopped
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Source is the audio device abstraction. Acquire requests exclusive access
// and Release returns it; both are called exactly once per session.
type Source interface {
	Acquire(ctx context.Context) error
	Release()
}

// Recording is the assembled output of a stopped session.
type Recording struct {
	// Blob is the ordered concatenation of every chunk appended during the
	// session, including chunks emitted before a pause.
	Blob []byte

	// ContentType is the MIME type of the assembled audio.
	ContentType string

	// ElapsedSeconds is the total recorded time, excluding paused spans.
	ElapsedSeconds int
}

// Session is one recording session. It exclusively owns its [Source] and
// chunk buffer from Start until Stop. A stopped session is terminal: start a
// new session to record again.
//
// Session is safe for concurrent use; the ingest transport appends chunks
// while control calls arrive from the UI.
type Session struct {
	ID            string
	AppointmentID string
	ClientID      string

	contentType string
	now         func() time.Time

	mu         sync.Mutex
	state      State
	source     Source
	chunks     [][]byte
	totalBytes int

	// elapsed accumulates completed recording spans; spanStart marks the
	// beginning of the current span while in StateRecording.
	elapsed   time.Duration
	spanStart time.Time
}

// NewSession creates an idle session for the given appointment and client.
func NewSession(id, appointmentID, clientID, contentType string) *Session {
	if contentType == "" {
		contentType = "audio/webm"
	}
	return &Session{
		ID:            id,
		AppointmentID: appointmentID,
		ClientID:      clientID,
		contentType:   contentType,
		now:           time.Now,
		state:         StateIdle,
	}
}

// Start acquires the source and begins recording. Valid only from Idle.
// A source refusal is surfaced as [ErrDeviceDenied].
func (s *Session) Start(ctx context.Context, src Source) error {
	s.mu.Lock()
	if s.state != StateIdle {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("capture: start from %s: %w", state, ErrInvalidTransition)
	}
	s.mu.Unlock()

	// Acquire outside the lock: permission prompts can take arbitrarily long.
	if err := src.Acquire(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceDenied, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.source = src
	s.chunks = nil
	s.totalBytes = 0
	s.elapsed = 0
	s.spanStart = s.now()
	s.state = StateRecording
	return nil
}

// AppendChunk adds one emitted chunk to the buffer. Chunks are only accepted
// while recording; the transport stops emitting during a pause, so anything
// arriving in another state indicates a protocol error.
func (s *Session) AppendChunk(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRecording {
		return fmt.Errorf("capture: chunk while %s: %w", s.state, ErrInvalidTransition)
	}

	cp := make([]byte, len(data))
	copy(cp, data)
	s.chunks = append(s.chunks, cp)
	s.totalBytes += len(cp)
	return nil
}

// Pause suspends recording without releasing the device. Valid only from
// Recording.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRecording {
		return fmt.Errorf("capture: pause from %s: %w", s.state, ErrInvalidTransition)
	}
	s.elapsed += s.now().Sub(s.spanStart)
	s.state = StatePaused
	return nil
}

// Resume continues a paused recording. Valid only from Paused.
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePaused {
		return fmt.Errorf("capture: resume from %s: %w", s.state, ErrInvalidTransition)
	}
	s.spanStart = s.now()
	s.state = StateRecording
	return nil
}

// Stop ends the session, releases the device, and returns the assembled
// recording. Valid from Recording or Paused. Already-emitted chunks are
// never discarded — they are all part of the returned blob.
func (s *Session) Stop() (*Recording, error) {
	s.mu.Lock()
	if s.state != StateRecording && s.state != StatePaused {
		state := s.state
		s.mu.Unlock()
		return nil, fmt.Errorf("capture: stop from %s: %w", state, ErrInvalidTransition)
	}

	if s.state == StateRecording {
		s.elapsed += s.now().Sub(s.spanStart)
	}

	blob := make([]byte, 0, s.totalBytes)
	for _, chunk := range s.chunks {
		blob = append(blob, chunk...)
	}

	rec := &Recording{
		Blob:           blob,
		ContentType:    s.contentType,
		ElapsedSeconds: int(s.elapsed.Round(time.Second) / time.Second),
	}

	src := s.source
	s.source = nil
	s.chunks = nil
	s.state = StateStopped
	s.mu.Unlock()

	if src != nil {
		src.Release()
	}
	return rec, nil
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ElapsedSeconds returns the recorded time so far, excluding paused spans.
func (s *Session) ElapsedSeconds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	elapsed := s.elapsed
	if s.state == StateRecording {
		elapsed += s.now().Sub(s.spanStart)
	}
	return int(elapsed.Round(time.Second) / time.Second)
}
