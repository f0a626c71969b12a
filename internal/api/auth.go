package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/zeebo/blake3"
)

var (
	errNoCredentials  = errors.New("missing Authorization header")
	errBadCredentials = errors.New("Authorization header must be 'Bearer <key>'")
	errWrongKey       = errors.New("invalid API key")
)

// bearerKey returns the key carried by an "Authorization: Bearer <key>"
// header. The scheme is matched case-insensitively.
func bearerKey(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", errNoCredentials
	}
	scheme, key, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", errBadCredentials
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errBadCredentials
	}
	return key, nil
}

// keysMatch compares digests so the comparison time does not depend on
// where, or whether, the lengths differ. An empty configured key never
// matches.
func keysMatch(provided, configured string) bool {
	if configured == "" || provided == "" {
		return false
	}
	a := blake3.Sum256([]byte(provided))
	b := blake3.Sum256([]byte(configured))
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}

// authMiddleware rejects requests without the configured bearer key.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, err := bearerKey(r)
		if err == nil && !keysMatch(key, s.config.APIKey) {
			err = errWrongKey
		}
		if err != nil {
			s.logger.Debug("rejected request", "path", r.URL.Path, "reason", err.Error())
			w.Header().Set("WWW-Authenticate", `Bearer realm="vkore"`)
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}
