// Package draftcache keeps per-appointment email drafts for the client
// communication workflow. Drafts are working copies, not sent mail: they
// live in a local SQLite-backed cache, expire after a retention window of
// inactivity, and carry an append-only history of send attempts.
package draftcache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/softclaw/vetscribe/internal/kvstore"
	"github.com/softclaw/vetscribe/internal/observe"
)

const namespace = "drafts"

// DefaultRetention is how long a draft survives without modification.
const DefaultRetention = 7 * 24 * time.Hour

// SendStatus records the outcome of one send attempt.
type SendStatus string

const (
	SendStatusSent   SendStatus = "sent"
	SendStatusFailed SendStatus = "failed"
)

// SendMethod is the channel a send attempt went out on.
type SendMethod string

const (
	SendMethodEmail SendMethod = "email"
	SendMethodSMS   SendMethod = "sms"
)

// SendRecord is one entry in a draft's send history.
type SendRecord struct {
	SentAt    time.Time  `json:"sentAt"`
	Status    SendStatus `json:"status"`
	Method    SendMethod `json:"method"`
	Recipient string     `json:"recipient"`
}

// Draft is the cached email draft for one appointment.
type Draft struct {
	AppointmentID  string       `json:"appointmentId"`
	Subject        string       `json:"subject"`
	Body           string       `json:"body"`
	RecipientEmail string       `json:"recipientEmail"`
	LastModified   time.Time    `json:"lastModified"`
	SentHistory    []SendRecord `json:"sentHistory,omitempty"`
}

// Patch carries a partial draft update. Nil members leave the stored value
// untouched.
type Patch struct {
	Subject        *string
	Body           *string
	RecipientEmail *string
}

// Event describes a cache mutation delivered to subscribers.
type Event struct {
	Op            string // "upsert", "send", "delete", "expire"
	AppointmentID string
}

// Option is a functional option for [Cache].
type Option func(*Cache)

// WithRetention overrides the draft retention window.
func WithRetention(d time.Duration) Option {
	return func(c *Cache) {
		c.retention = d
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(c *Cache) {
		c.log = log
	}
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Cache) {
		c.metrics = m
	}
}

// Cache is the draft store. Every mutation is flushed to the backing
// key/value store before it returns, so a crash never loses more than the
// in-flight edit. It is safe for concurrent use.
type Cache struct {
	store     *kvstore.Store
	retention time.Duration
	log       *slog.Logger
	metrics   *observe.Metrics
	now       func() time.Time

	mu     sync.Mutex
	drafts map[string]*Draft
	subs   []func(Event)
}

// Open loads the draft cache from store. Drafts past the retention window
// are dropped and removed from the backing store so they cannot resurrect
// on the next start.
func Open(ctx context.Context, store *kvstore.Store, opts ...Option) (*Cache, error) {
	c := &Cache{
		store:     store,
		retention: DefaultRetention,
		log:       slog.Default(),
		now:       time.Now,
		drafts:    make(map[string]*Draft),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}

	entries, err := store.All(ctx, namespace)
	if err != nil {
		return nil, fmt.Errorf("draftcache: load: %w", err)
	}
	cutoff := c.now().Add(-c.retention)
	kept := make(map[string][]byte, len(entries))
	for key, raw := range entries {
		var d Draft
		if err := json.Unmarshal(raw, &d); err != nil {
			c.log.Warn("dropping unreadable draft", "appointment_id", key, "error", err)
			continue
		}
		if d.LastModified.Before(cutoff) {
			c.log.Info("purging expired draft", "appointment_id", key)
			continue
		}
		c.drafts[d.AppointmentID] = &d
		kept[key] = raw
	}
	// Rewrite the namespace in one transaction so dropped drafts cannot
	// resurrect on the next start.
	if len(kept) != len(entries) {
		if err := store.ReplaceAll(ctx, namespace, kept); err != nil {
			return nil, fmt.Errorf("draftcache: purge expired drafts: %w", err)
		}
	}
	return c, nil
}

// Subscribe registers fn to be called after every cache mutation. Callbacks
// run synchronously on the mutating goroutine and must not call back into
// the cache.
func (c *Cache) Subscribe(fn func(Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, fn)
}

// Get returns the draft for appointmentID. ok is false when no live draft
// exists; a draft past the retention window counts as absent.
func (c *Cache) Get(appointmentID string) (Draft, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.drafts[appointmentID]
	if !ok || c.expired(d) {
		return Draft{}, false
	}
	return c.snapshot(d), true
}

// List returns all live drafts, most recently modified first.
func (c *Cache) List() []Draft {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Draft, 0, len(c.drafts))
	for _, d := range c.drafts {
		if c.expired(d) {
			continue
		}
		out = append(out, c.snapshot(d))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastModified.After(out[j].LastModified)
	})
	return out
}

// Upsert merges patch into the draft for appointmentID, creating it if
// needed, and stamps LastModified. This is the single write path for draft
// content; send history goes through [Cache.RecordSendAttempt].
func (c *Cache) Upsert(ctx context.Context, appointmentID string, patch Patch) (Draft, error) {
	c.mu.Lock()
	d, ok := c.drafts[appointmentID]
	if !ok || c.expired(d) {
		d = &Draft{AppointmentID: appointmentID}
		c.drafts[appointmentID] = d
	}
	if patch.Subject != nil {
		d.Subject = *patch.Subject
	}
	if patch.Body != nil {
		d.Body = *patch.Body
	}
	if patch.RecipientEmail != nil {
		d.RecipientEmail = *patch.RecipientEmail
	}
	d.LastModified = c.now()
	snap := c.snapshot(d)
	c.mu.Unlock()

	if err := c.flush(ctx, &snap); err != nil {
		return Draft{}, err
	}
	c.metrics.RecordDraftWrite(ctx, "upsert")
	c.notify(Event{Op: "upsert", AppointmentID: appointmentID})
	return snap, nil
}

// RecordSendAttempt appends a send record to the draft's history. The
// history is append-only; failed attempts stay visible next to successful
// ones. A send attempt counts as activity and refreshes the retention
// window.
func (c *Cache) RecordSendAttempt(ctx context.Context, appointmentID string, status SendStatus, method SendMethod, recipient string) (Draft, error) {
	c.mu.Lock()
	d, ok := c.drafts[appointmentID]
	if !ok || c.expired(d) {
		c.mu.Unlock()
		return Draft{}, fmt.Errorf("draftcache: record send: no draft for %s", appointmentID)
	}
	d.SentHistory = append(d.SentHistory, SendRecord{
		SentAt:    c.now(),
		Status:    status,
		Method:    method,
		Recipient: recipient,
	})
	d.LastModified = c.now()
	snap := c.snapshot(d)
	c.mu.Unlock()

	if err := c.flush(ctx, &snap); err != nil {
		return Draft{}, err
	}
	c.metrics.RecordDraftWrite(ctx, "send")
	c.notify(Event{Op: "send", AppointmentID: appointmentID})
	return snap, nil
}

// Delete removes the draft for appointmentID. Deleting an absent draft is
// not an error.
func (c *Cache) Delete(ctx context.Context, appointmentID string) error {
	c.mu.Lock()
	_, existed := c.drafts[appointmentID]
	delete(c.drafts, appointmentID)
	c.mu.Unlock()

	if err := c.store.Delete(ctx, namespace, appointmentID); err != nil {
		return fmt.Errorf("draftcache: delete %s: %w", appointmentID, err)
	}
	if existed {
		c.metrics.RecordDraftWrite(ctx, "delete")
		c.notify(Event{Op: "delete", AppointmentID: appointmentID})
	}
	return nil
}

func (c *Cache) flush(ctx context.Context, d *Draft) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("draftcache: marshal %s: %w", d.AppointmentID, err)
	}
	if err := c.store.Set(ctx, namespace, d.AppointmentID, raw); err != nil {
		return fmt.Errorf("draftcache: flush %s: %w", d.AppointmentID, err)
	}
	return nil
}

func (c *Cache) notify(ev Event) {
	c.mu.Lock()
	subs := make([]func(Event), len(c.subs))
	copy(subs, c.subs)
	c.mu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}

// SetRetention changes the retention window for subsequent reads. Shortening
// it makes older drafts disappear immediately; they are purged from the
// backing store on the next Open.
func (c *Cache) SetRetention(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.retention = d
	c.mu.Unlock()
}

func (c *Cache) expired(d *Draft) bool {
	return c.now().Sub(d.LastModified) > c.retention
}

// snapshot deep-copies d so callers cannot mutate cached state.
func (c *Cache) snapshot(d *Draft) Draft {
	out := *d
	if d.SentHistory != nil {
		out.SentHistory = make([]SendRecord, len(d.SentHistory))
		copy(out.SentHistory, d.SentHistory)
	}
	return out
}
