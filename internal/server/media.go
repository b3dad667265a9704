package server

import (
	"mime"
	"net/http"
	"path"
	"strconv"
)

// handleMedia serves stored recordings against their signed playback URLs.
// The object path, expiry, and signature all come from the URL minted by the
// upload manager; a request that was not minted by this server fails
// verification.
func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	objPath := r.PathValue("object")

	expires, err := strconv.ParseInt(r.URL.Query().Get("expires"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid expires parameter"})
		return
	}
	sig := r.URL.Query().Get("sig")

	if err := s.media.Verify(objPath, expires, sig); err != nil {
		s.writeError(w, err)
		return
	}

	data, err := s.media.ReadObject(objPath)
	if err != nil {
		s.writeError(w, err)
		return
	}

	contentType := mime.TypeByExtension(path.Ext(objPath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, no-store")
	_, _ = w.Write(data)
}
