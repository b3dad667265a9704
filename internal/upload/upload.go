// Package upload moves finished recordings into durable blob storage and
// keeps the owning appointment's audio reference current.
//
// Upload failure handling is deliberately simple: one retry after a fixed
// delay, always under a fresh object path so a partially written first
// attempt can never be confused with the retry's object. Terminal failures
// (quota, authorization) skip the retry entirely.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/softclaw/vetscribe/internal/appointment"
	"github.com/softclaw/vetscribe/internal/capture"
	"github.com/softclaw/vetscribe/internal/observe"
	"github.com/softclaw/vetscribe/internal/storage"
)

// ErrUploadFailed is returned when a recording could not be persisted after
// the retry. The Manager retains the assembled blob in memory, so the user
// can retry the upload or transcribe directly without re-recording.
var ErrUploadFailed = errors.New("upload: recording upload failed")

// ErrNoPendingRecording is returned by [Manager.RetryPending] when no failed
// upload is retained for the appointment.
var ErrNoPendingRecording = errors.New("upload: no retained recording")

const (
	defaultRetryDelay = 2 * time.Second
	defaultSignTTL    = time.Hour
)

// StoredRecording describes a recording that reached durable storage.
type StoredRecording struct {
	Path            string
	ContentType     string
	DurationSeconds int
	SizeBytes       int64
	UploadedAt      time.Time
}

// Option is a functional option for [Manager].
type Option func(*Manager)

// WithRetryDelay sets the fixed delay before the single upload retry.
// Default: 2s.
func WithRetryDelay(d time.Duration) Option {
	return func(m *Manager) {
		m.retryDelay = d
	}
}

// WithSignTTL sets the validity window for minted playback URLs.
// Default: 1h.
func WithSignTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		m.signTTL = ttl
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) {
		m.log = log
	}
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(met *observe.Metrics) Option {
	return func(m *Manager) {
		m.metrics = met
	}
}

// Manager uploads recordings and mints playback URLs. Minted URLs are cached
// per object path for the lifetime of the Manager so repeated playback of
// the same recording does not re-sign on every request.
type Manager struct {
	store        storage.Store
	appointments appointment.Store
	log          *slog.Logger
	metrics      *observe.Metrics

	retryDelay time.Duration
	signTTL    time.Duration
	sleep      func(time.Duration)
	now        func() time.Time

	mu       sync.Mutex
	urlCache map[string]string
	pending  map[string]*capture.Recording
}

// NewManager creates a [Manager]. appointments may be nil when no visit
// record should be updated (e.g. ad-hoc transcription uploads).
func NewManager(store storage.Store, appointments appointment.Store, opts ...Option) *Manager {
	m := &Manager{
		store:        store,
		appointments: appointments,
		log:          slog.Default(),
		retryDelay:   defaultRetryDelay,
		signTTL:      defaultSignTTL,
		sleep:        time.Sleep,
		now:          time.Now,
		urlCache:     make(map[string]string),
		pending:      make(map[string]*capture.Recording),
	}
	for _, o := range opts {
		o(m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	return m
}

// Upload persists rec for appointmentID and returns the stored reference.
//
// The appointment's audio fields are updated best-effort after the blob is
// safely stored: a failed record update is logged and swallowed, because the
// recording itself is durable and the reference can be repaired later.
//
// When the upload fails terminally, the blob is the only copy of the visit's
// audio: it is retained in memory under appointmentID for
// [Manager.RetryPending] or direct transcription via
// [Manager.PendingRecording].
func (m *Manager) Upload(ctx context.Context, appointmentID string, rec *capture.Recording) (*StoredRecording, error) {
	if rec == nil || len(rec.Blob) == 0 {
		return nil, fmt.Errorf("upload: empty recording: %w", ErrUploadFailed)
	}
	prefix := "recordings/" + appointmentID
	start := m.now()

	path, err := m.store.Put(ctx, prefix, rec.Blob, rec.ContentType)
	if err != nil {
		if storage.IsTerminal(err) || ctx.Err() != nil {
			m.metrics.RecordUpload(ctx, time.Since(start).Seconds(), err)
			m.retain(appointmentID, rec)
			return nil, fmt.Errorf("upload: store recording: %v: %w", err, ErrUploadFailed)
		}

		m.log.Warn("recording upload failed, retrying once",
			"appointment_id", appointmentID, "error", err)
		m.sleep(m.retryDelay)
		m.metrics.RecordUploadRetry(ctx)

		// The retry writes a brand-new object; nothing references the
		// failed attempt's path.
		path, err = m.store.Put(ctx, prefix, rec.Blob, rec.ContentType)
		if err != nil {
			m.metrics.RecordUpload(ctx, time.Since(start).Seconds(), err)
			m.retain(appointmentID, rec)
			return nil, fmt.Errorf("upload: store recording after retry: %v: %w", err, ErrUploadFailed)
		}
	}
	m.metrics.RecordUpload(ctx, time.Since(start).Seconds(), nil)

	m.mu.Lock()
	delete(m.pending, appointmentID)
	m.mu.Unlock()

	stored := &StoredRecording{
		Path:            path,
		ContentType:     rec.ContentType,
		DurationSeconds: rec.ElapsedSeconds,
		SizeBytes:       int64(len(rec.Blob)),
		UploadedAt:      m.now(),
	}

	if m.appointments != nil {
		fields := appointment.Fields{
			AudioPath:            &stored.Path,
			AudioDurationSeconds: &stored.DurationSeconds,
			AudioSizeBytes:       &stored.SizeBytes,
		}
		if err := m.appointments.UpdateFields(ctx, appointmentID, fields); err != nil {
			m.log.Warn("recording stored but appointment update failed",
				"appointment_id", appointmentID, "path", path, "error", err)
		}
	}

	return stored, nil
}

// retain parks rec under appointmentID so the audio survives the capture
// session's teardown after a failed upload.
func (m *Manager) retain(appointmentID string, rec *capture.Recording) {
	m.mu.Lock()
	m.pending[appointmentID] = rec
	m.mu.Unlock()
	m.log.Warn("recording retained in memory after failed upload",
		"appointment_id", appointmentID, "size_bytes", len(rec.Blob))
}

// PendingRecording returns the recording retained after a failed upload for
// appointmentID, if any. The recording is shared with the Manager; callers
// must not mutate the blob.
func (m *Manager) PendingRecording(appointmentID string) (*capture.Recording, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.pending[appointmentID]
	return rec, ok
}

// RetryPending re-attempts the upload of the recording retained for
// appointmentID. A successful retry drops the retained copy; a failed one
// keeps it. Returns [ErrNoPendingRecording] when nothing is retained.
func (m *Manager) RetryPending(ctx context.Context, appointmentID string) (*StoredRecording, error) {
	rec, ok := m.PendingRecording(appointmentID)
	if !ok {
		return nil, fmt.Errorf("upload: retry %s: %w", appointmentID, ErrNoPendingRecording)
	}
	return m.Upload(ctx, appointmentID, rec)
}

// PlayableURL returns a signed playback URL for path, minting one on first
// use and serving the cached URL afterwards.
func (m *Manager) PlayableURL(path string) (string, error) {
	m.mu.Lock()
	if url, ok := m.urlCache[path]; ok {
		m.mu.Unlock()
		return url, nil
	}
	m.mu.Unlock()

	return m.mintURL(path)
}

// mintURL signs a fresh URL for path and replaces any cached entry.
func (m *Manager) mintURL(path string) (string, error) {
	url, err := m.store.SignedURL(path, m.signTTL)
	if err != nil {
		return "", fmt.Errorf("upload: sign url for %s: %w", path, err)
	}

	m.mu.Lock()
	m.urlCache[path] = url
	m.mu.Unlock()
	return url, nil
}

// FetchAudio reads the stored audio behind path. A cached URL that has gone
// stale is re-minted and the read retried once; any other failure surfaces
// unchanged.
func (m *Manager) FetchAudio(ctx context.Context, path string) ([]byte, error) {
	url, err := m.PlayableURL(path)
	if err != nil {
		return nil, err
	}

	data, err := m.store.Get(ctx, url)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, storage.ErrStaleURL) {
		return nil, fmt.Errorf("upload: fetch audio %s: %w", path, err)
	}

	url, err = m.mintURL(path)
	if err != nil {
		return nil, err
	}
	data, err = m.store.Get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("upload: fetch audio %s after re-sign: %w", path, err)
	}
	return data, nil
}
