// Package storage defines the durable blob-storage collaborator used to
// persist finished audio recordings.
//
// Stored paths are opaque references, not public URLs: reading a blob back
// requires a freshly minted, time-limited signed URL from [Store.SignedURL].
// Paths are namespaced per owning user/appointment by the caller-supplied
// prefix, preventing cross-tenant access by construction.
package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors used by [Store] implementations. The upload manager
// classifies errors with these: quota and authorization failures are
// terminal, everything else is treated as transient and retried once.
var (
	// ErrStaleURL indicates a signed URL whose token has expired or no
	// longer validates. Callers should mint a fresh URL and retry.
	ErrStaleURL = errors.New("storage: signed url expired")

	// ErrUnauthorized indicates the caller is not permitted to perform the
	// operation. Never retried.
	ErrUnauthorized = errors.New("storage: unauthorized")

	// ErrQuotaExceeded indicates the storage quota is exhausted. Never
	// retried.
	ErrQuotaExceeded = errors.New("storage: quota exceeded")

	// ErrNotFound indicates the referenced object does not exist.
	ErrNotFound = errors.New("storage: object not found")
)

// Store is the durable blob-storage collaborator.
type Store interface {
	// Put persists data under a fresh path below prefix and returns the
	// path. Every call mints a new path — objects are immutable once
	// written, so a re-upload after a partial failure never collides with
	// the failed attempt's object.
	Put(ctx context.Context, prefix string, data []byte, contentType string) (path string, err error)

	// SignedURL mints a time-limited URL granting read access to path.
	// The URL must not be assumed valid past ttl; on [ErrStaleURL] from
	// [Store.Get] the caller re-mints.
	SignedURL(path string, ttl time.Duration) (string, error)

	// Get fetches the bytes behind a previously minted signed URL.
	Get(ctx context.Context, url string) ([]byte, error)
}

// IsTerminal reports whether err is a storage failure that must not be
// retried (quota or authorization). Transient device/network errors return
// false and are eligible for the upload manager's single retry.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrQuotaExceeded) || errors.Is(err, ErrUnauthorized)
}
