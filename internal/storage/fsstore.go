package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Compile-time interface check.
var _ Store = (*FSStore)(nil)

// extensions maps audio content types to file extensions. Unknown types get
// ".bin" — the extension is cosmetic, the stored path is what matters.
var extensions = map[string]string{
	"audio/webm": ".webm",
	"audio/wav":  ".wav",
	"audio/mp4":  ".m4a",
	"audio/mpeg": ".mp3",
	"audio/ogg":  ".ogg",
}

// FSStore is a [Store] backed by the local filesystem with HMAC-signed,
// expiring access URLs. It is the default backend for single-node
// deployments; the signed-URL scheme matches what an object store would
// provide so callers are agnostic to the backend.
type FSStore struct {
	root    string
	baseURL string
	secret  []byte
	now     func() time.Time
}

// FSOption is a functional option for [NewFSStore].
type FSOption func(*FSStore)

// WithClock overrides the time source. Used in tests to exercise expiry.
func WithClock(now func() time.Time) FSOption {
	return func(s *FSStore) {
		s.now = now
	}
}

// NewFSStore creates an [FSStore] rooted at dir. baseURL is the external
// prefix under which signed URLs are served (e.g. "http://localhost:8080/media").
// secret keys the HMAC signatures; it must be non-empty and stable across
// restarts or previously minted URLs stop validating.
func NewFSStore(dir, baseURL string, secret []byte) (*FSStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("storage: root dir must not be empty")
	}
	if len(secret) == 0 {
		return nil, fmt.Errorf("storage: signing secret must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create root: %w", err)
	}
	return &FSStore{
		root:    dir,
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		now:     time.Now,
	}, nil
}

// Put implements [Store.Put]. The stored path is prefix/<uuid><ext>.
func (s *FSStore) Put(ctx context.Context, prefix string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	ext, ok := extensions[contentType]
	if !ok {
		ext = ".bin"
	}
	objPath := path.Join(cleanPrefix(prefix), uuid.NewString()+ext)

	full := filepath.Join(s.root, filepath.FromSlash(objPath))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("storage: create prefix dir: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("storage: write object: %w", err)
	}
	return objPath, nil
}

// SignedURL implements [Store.SignedURL].
func (s *FSStore) SignedURL(objPath string, ttl time.Duration) (string, error) {
	if objPath == "" {
		return "", fmt.Errorf("storage: path must not be empty")
	}
	expires := s.now().Add(ttl).Unix()
	sig := s.sign(objPath, expires)
	return fmt.Sprintf("%s/%s?expires=%d&sig=%s", s.baseURL, objPath, expires, sig), nil
}

// Get implements [Store.Get]. It verifies the URL's signature and expiry
// before reading the object.
func (s *FSStore) Get(ctx context.Context, signedURL string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	u, err := url.Parse(signedURL)
	if err != nil {
		return nil, fmt.Errorf("storage: parse url: %w", err)
	}
	objPath := strings.TrimPrefix(strings.TrimPrefix(signedURL, s.baseURL), "/")
	if i := strings.IndexByte(objPath, '?'); i >= 0 {
		objPath = objPath[:i]
	}

	q := u.Query()
	expires, err := strconv.ParseInt(q.Get("expires"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("storage: bad expires param: %w", ErrStaleURL)
	}
	if err := s.Verify(objPath, expires, q.Get("sig")); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(objPath)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("storage: %s: %w", objPath, ErrNotFound)
		}
		return nil, fmt.Errorf("storage: read object: %w", err)
	}
	return data, nil
}

// Verify checks a signature/expiry pair for objPath. Exposed so the media
// HTTP handler can validate incoming requests without reconstructing a URL.
func (s *FSStore) Verify(objPath string, expires int64, sig string) error {
	if s.now().Unix() > expires {
		return ErrStaleURL
	}
	want := s.sign(objPath, expires)
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return ErrUnauthorized
	}
	return nil
}

// ReadObject reads a stored object directly by path, bypassing URL checks.
// Used by the media handler after [Verify] has passed.
func (s *FSStore) ReadObject(objPath string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(objPath)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("storage: %s: %w", objPath, ErrNotFound)
		}
		return nil, fmt.Errorf("storage: read object: %w", err)
	}
	return data, nil
}

// sign computes the hex HMAC-SHA256 over path and expiry.
func (s *FSStore) sign(objPath string, expires int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s\n%d", objPath, expires)
	return hex.EncodeToString(mac.Sum(nil))
}

// cleanPrefix normalises a caller-supplied namespace prefix, stripping any
// attempt to escape the store root.
func cleanPrefix(prefix string) string {
	cleaned := path.Clean("/" + prefix)
	return strings.TrimPrefix(cleaned, "/")
}
