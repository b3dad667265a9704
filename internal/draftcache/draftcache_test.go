package draftcache

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/softclaw/vetscribe/internal/kvstore"
)

func strPtr(s string) *string { return &s }

func openTestKV(t *testing.T) *kvstore.Store {
	t.Helper()
	s, err := kvstore.Open(filepath.Join(t.TempDir(), "drafts.db"))
	if err != nil {
		t.Fatalf("kvstore.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func openTestCache(t *testing.T, kv *kvstore.Store, opts ...Option) *Cache {
	t.Helper()
	opts = append(opts, WithLogger(slog.New(slog.DiscardHandler)))
	c, err := Open(context.Background(), kv, opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return c
}

func TestUpsertCreatesAndMerges(t *testing.T) {
	t.Parallel()
	c := openTestCache(t, openTestKV(t))
	ctx := context.Background()

	d, err := c.Upsert(ctx, "a1", Patch{
		Subject: strPtr("Biscuit's visit recap"),
		Body:    strPtr("Hi Dana,"),
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if d.Subject != "Biscuit's visit recap" || d.Body != "Hi Dana," {
		t.Errorf("draft = %+v", d)
	}
	if d.LastModified.IsZero() {
		t.Error("LastModified not stamped")
	}

	d, err = c.Upsert(ctx, "a1", Patch{RecipientEmail: strPtr("dana@example.com")})
	if err != nil {
		t.Fatalf("Upsert patch: %v", err)
	}
	if d.Subject != "Biscuit's visit recap" {
		t.Errorf("patch clobbered subject: %q", d.Subject)
	}
	if d.RecipientEmail != "dana@example.com" {
		t.Errorf("recipient = %q", d.RecipientEmail)
	}
}

func TestDraftSurvivesReopen(t *testing.T) {
	t.Parallel()
	kv := openTestKV(t)
	ctx := context.Background()

	c := openTestCache(t, kv)
	if _, err := c.Upsert(ctx, "a1", Patch{Subject: strPtr("recap")}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	c2 := openTestCache(t, kv)
	d, ok := c2.Get("a1")
	if !ok {
		t.Fatal("draft missing after reopen")
	}
	if d.Subject != "recap" {
		t.Errorf("subject = %q", d.Subject)
	}
}

func TestRetentionWindow(t *testing.T) {
	t.Parallel()
	kv := openTestKV(t)
	ctx := context.Background()

	c := openTestCache(t, kv)
	if _, err := c.Upsert(ctx, "old", Patch{Subject: strPtr("eight days old")}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if _, err := c.Upsert(ctx, "fresh", Patch{Subject: strPtr("six days old")}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	// Reopen with a clock 6 days ahead: both drafts live. Then 8 days
	// ahead: the older one is purged and must not resurrect afterwards.
	base := time.Now()
	c6 := openTestCache(t, kv)
	c6.now = func() time.Time { return base.Add(6 * 24 * time.Hour) }
	if _, ok := c6.Get("old"); !ok {
		t.Error("6-day-old draft reported absent")
	}

	c8 := openTestCache(t, kv)
	c8.now = func() time.Time { return base.Add(8 * 24 * time.Hour) }
	if _, ok := c8.Get("old"); ok {
		t.Error("8-day-old draft still served")
	}
	if len(c8.List()) != 0 {
		t.Errorf("List = %v, want empty at 8 days", c8.List())
	}
}

func TestExpiredDraftPurgedAtOpen(t *testing.T) {
	t.Parallel()
	kv := openTestKV(t)
	ctx := context.Background()

	c := openTestCache(t, kv)
	c.now = func() time.Time { return time.Now().Add(-8 * 24 * time.Hour) }
	if _, err := c.Upsert(ctx, "a1", Patch{Subject: strPtr("stale")}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	c2 := openTestCache(t, kv)
	if _, ok := c2.Get("a1"); ok {
		t.Fatal("expired draft survived reopen")
	}
	// Purge must reach the backing store, not just the memory map.
	raw, err := kv.Get(ctx, "drafts", "a1")
	if err != nil {
		t.Fatalf("kv.Get: %v", err)
	}
	if raw != nil {
		t.Error("expired draft still in backing store")
	}
}

func TestRecordSendAttemptAppends(t *testing.T) {
	t.Parallel()
	kv := openTestKV(t)
	c := openTestCache(t, kv)
	ctx := context.Background()

	if _, err := c.Upsert(ctx, "a1", Patch{Subject: strPtr("recap")}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if _, err := c.RecordSendAttempt(ctx, "a1", SendStatusFailed, SendMethodEmail, "dana@example.com"); err != nil {
		t.Fatalf("RecordSendAttempt: %v", err)
	}
	d, err := c.RecordSendAttempt(ctx, "a1", SendStatusSent, SendMethodSMS, "+15550100")
	if err != nil {
		t.Fatalf("RecordSendAttempt: %v", err)
	}

	if len(d.SentHistory) != 2 {
		t.Fatalf("history length = %d, want 2", len(d.SentHistory))
	}
	if d.SentHistory[0].Status != SendStatusFailed || d.SentHistory[1].Status != SendStatusSent {
		t.Errorf("history = %+v", d.SentHistory)
	}
	if d.SentHistory[0].Method != SendMethodEmail || d.SentHistory[1].Method != SendMethodSMS {
		t.Errorf("methods = [%s, %s]", d.SentHistory[0].Method, d.SentHistory[1].Method)
	}

	// History survives a reload.
	c2 := openTestCache(t, kv)
	d2, ok := c2.Get("a1")
	if !ok || len(d2.SentHistory) != 2 {
		t.Errorf("reloaded history = %+v (ok=%v)", d2.SentHistory, ok)
	}
}

func TestRecordSendAttemptWithoutDraft(t *testing.T) {
	t.Parallel()
	c := openTestCache(t, openTestKV(t))
	if _, err := c.RecordSendAttempt(context.Background(), "nope", SendStatusSent, SendMethodEmail, "x@example.com"); err == nil {
		t.Fatal("expected error for missing draft")
	}
}

func TestDelete(t *testing.T) {
	t.Parallel()
	kv := openTestKV(t)
	c := openTestCache(t, kv)
	ctx := context.Background()

	if _, err := c.Upsert(ctx, "a1", Patch{Subject: strPtr("recap")}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := c.Delete(ctx, "a1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := c.Get("a1"); ok {
		t.Error("draft still present after delete")
	}
	if err := c.Delete(ctx, "a1"); err != nil {
		t.Fatalf("Delete absent: %v", err)
	}
}

func TestListNewestFirst(t *testing.T) {
	t.Parallel()
	c := openTestCache(t, openTestKV(t))
	ctx := context.Background()

	base := time.Now()
	c.now = func() time.Time { return base }
	if _, err := c.Upsert(ctx, "first", Patch{Subject: strPtr("one")}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	c.now = func() time.Time { return base.Add(time.Minute) }
	if _, err := c.Upsert(ctx, "second", Patch{Subject: strPtr("two")}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got := c.List()
	if len(got) != 2 {
		t.Fatalf("List length = %d", len(got))
	}
	if got[0].AppointmentID != "second" || got[1].AppointmentID != "first" {
		t.Errorf("order = [%s, %s]", got[0].AppointmentID, got[1].AppointmentID)
	}
}

func TestSubscribe(t *testing.T) {
	t.Parallel()
	c := openTestCache(t, openTestKV(t))
	ctx := context.Background()

	var events []Event
	c.Subscribe(func(ev Event) { events = append(events, ev) })

	if _, err := c.Upsert(ctx, "a1", Patch{Subject: strPtr("recap")}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if _, err := c.RecordSendAttempt(ctx, "a1", SendStatusSent, SendMethodEmail, "dana@example.com"); err != nil {
		t.Fatalf("RecordSendAttempt: %v", err)
	}
	if err := c.Delete(ctx, "a1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	want := []string{"upsert", "send", "delete"}
	if len(events) != len(want) {
		t.Fatalf("events = %+v", events)
	}
	for i, op := range want {
		if events[i].Op != op || events[i].AppointmentID != "a1" {
			t.Errorf("event %d = %+v, want op %s", i, events[i], op)
		}
	}
}
