package storage

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T, opts ...FSOption) *FSStore {
	t.Helper()
	s, err := NewFSStore(t.TempDir(), "http://localhost:8080/media", []byte("test-secret"))
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func TestFSStore_PutMintsFreshPaths(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p1, err := s.Put(ctx, "users/u1/appointments/a1", []byte("first"), "audio/webm")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	p2, err := s.Put(ctx, "users/u1/appointments/a1", []byte("second"), "audio/webm")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	if p1 == p2 {
		t.Fatalf("expected distinct paths, both = %q", p1)
	}
	if !strings.HasPrefix(p1, "users/u1/appointments/a1/") {
		t.Errorf("path %q not namespaced under prefix", p1)
	}
	if !strings.HasSuffix(p1, ".webm") {
		t.Errorf("path %q missing content-type extension", p1)
	}
}

func TestFSStore_SignedURLRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	want := []byte("audio bytes")
	path, err := s.Put(ctx, "users/u1/appointments/a1", want, "audio/wav")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	url, err := s.SignedURL(path, time.Hour)
	if err != nil {
		t.Fatalf("SignedURL: %v", err)
	}
	got, err := s.Get(ctx, url)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("Get = %q, want %q", got, want)
	}
}

func TestFSStore_ExpiredURLIsStale(t *testing.T) {
	current := time.Now()
	s := newTestStore(t)
	s.now = func() time.Time { return current }
	ctx := context.Background()

	path, err := s.Put(ctx, "users/u1/appointments/a1", []byte("x"), "audio/webm")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	url, err := s.SignedURL(path, time.Hour)
	if err != nil {
		t.Fatalf("SignedURL: %v", err)
	}

	// Advance past the TTL.
	current = current.Add(2 * time.Hour)

	if _, err := s.Get(ctx, url); !errors.Is(err, ErrStaleURL) {
		t.Fatalf("Get after expiry = %v, want ErrStaleURL", err)
	}
}

func TestFSStore_TamperedSignatureRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	path, err := s.Put(ctx, "users/u1/appointments/a1", []byte("x"), "audio/webm")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	url, err := s.SignedURL(path, time.Hour)
	if err != nil {
		t.Fatalf("SignedURL: %v", err)
	}

	tampered := strings.Replace(url, "sig=", "sig=ff", 1)
	if _, err := s.Get(ctx, tampered); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Get with tampered sig = %v, want ErrUnauthorized", err)
	}
}

func TestFSStore_PrefixEscapeIsNeutralised(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	path, err := s.Put(ctx, "../../etc", []byte("x"), "audio/webm")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if strings.Contains(path, "..") {
		t.Fatalf("path %q escapes the store root", path)
	}
}

func TestIsTerminal(t *testing.T) {
	if !IsTerminal(ErrQuotaExceeded) || !IsTerminal(ErrUnauthorized) {
		t.Error("quota and auth errors must be terminal")
	}
	if IsTerminal(errors.New("connection reset")) {
		t.Error("generic network errors must be retryable")
	}
	if IsTerminal(nil) {
		t.Error("nil is not terminal")
	}
}
