package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// fakeSource is a scriptable [Source] for tests.
type fakeSource struct {
	acquireErr error
	acquired   bool
	released   bool
}

func (f *fakeSource) Acquire(ctx context.Context) error {
	if f.acquireErr != nil {
		return f.acquireErr
	}
	f.acquired = true
	return nil
}

func (f *fakeSource) Release() { f.released = true }

// startedSession returns a session in StateRecording with a controllable clock.
func startedSession(t *testing.T) (*Session, *fakeSource, *time.Time) {
	t.Helper()
	sess := NewSession("s1", "appt-1", "client-1", "audio/webm")
	current := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	sess.now = func() time.Time { return current }

	src := &fakeSource{}
	if err := sess.Start(context.Background(), src); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return sess, src, &current
}

func TestSession_StopAssemblesChunksInOrder(t *testing.T) {
	sess, src, clock := startedSession(t)

	var want bytes.Buffer
	for i := 0; i < 65; i++ {
		chunk := []byte(fmt.Sprintf("chunk-%02d|", i))
		want.Write(chunk)
		if err := sess.AppendChunk(chunk); err != nil {
			t.Fatalf("AppendChunk(%d): %v", i, err)
		}
	}
	*clock = clock.Add(65 * time.Second)

	rec, err := sess.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !bytes.Equal(rec.Blob, want.Bytes()) {
		t.Error("blob is not the ordered concatenation of emitted chunks")
	}
	if rec.ElapsedSeconds != 65 {
		t.Errorf("ElapsedSeconds = %d, want 65", rec.ElapsedSeconds)
	}
	if !src.released {
		t.Error("source not released on stop")
	}
	if sess.State() != StateStopped {
		t.Errorf("state = %v, want stopped", sess.State())
	}
}

func TestSession_DeviceDenied(t *testing.T) {
	sess := NewSession("s1", "appt-1", "client-1", "")
	src := &fakeSource{acquireErr: errors.New("permission dismissed")}

	err := sess.Start(context.Background(), src)
	if !errors.Is(err, ErrDeviceDenied) {
		t.Fatalf("Start = %v, want ErrDeviceDenied", err)
	}
	if sess.State() != StateIdle {
		t.Errorf("state = %v, want idle after denied start", sess.State())
	}
}

func TestSession_PauseExcludedFromElapsed(t *testing.T) {
	sess, _, clock := startedSession(t)

	*clock = clock.Add(10 * time.Second)
	if err := sess.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	// Time passing while paused must not count.
	*clock = clock.Add(30 * time.Second)
	if err := sess.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	*clock = clock.Add(5 * time.Second)
	rec, err := sess.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if rec.ElapsedSeconds != 15 {
		t.Errorf("ElapsedSeconds = %d, want 15", rec.ElapsedSeconds)
	}
}

func TestSession_ChunksSurvivePause(t *testing.T) {
	sess, _, _ := startedSession(t)

	if err := sess.AppendChunk([]byte("before")); err != nil {
		t.Fatalf("AppendChunk: %v", err)
	}
	if err := sess.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := sess.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if err := sess.AppendChunk([]byte("|after")); err != nil {
		t.Fatalf("AppendChunk: %v", err)
	}

	rec, err := sess.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if string(rec.Blob) != "before|after" {
		t.Errorf("blob = %q, want %q", rec.Blob, "before|after")
	}
}

func TestSession_InvalidTransitions(t *testing.T) {
	sess := NewSession("s1", "appt-1", "client-1", "")

	if err := sess.Pause(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Pause from idle = %v, want ErrInvalidTransition", err)
	}
	if err := sess.Resume(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Resume from idle = %v, want ErrInvalidTransition", err)
	}
	if _, err := sess.Stop(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Stop from idle = %v, want ErrInvalidTransition", err)
	}
	if err := sess.AppendChunk([]byte("x")); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("AppendChunk from idle = %v, want ErrInvalidTransition", err)
	}

	started, _, _ := startedSession(t)
	if err := started.Resume(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Resume while recording = %v, want ErrInvalidTransition", err)
	}
	if err := started.Start(context.Background(), &fakeSource{}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Start while recording = %v, want ErrInvalidTransition", err)
	}
}

func TestSession_StopFromPaused(t *testing.T) {
	sess, src, _ := startedSession(t)
	if err := sess.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if _, err := sess.Stop(); err != nil {
		t.Fatalf("Stop from paused: %v", err)
	}
	if !src.released {
		t.Error("source not released")
	}
}
