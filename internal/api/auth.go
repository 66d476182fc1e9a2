package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

var (
	errNoKey         = errors.New("missing API key")
	errBadAuthHeader = errors.New("authorization header must use the Bearer scheme")
)

// requestKey finds the caller's key. The query form exists for /events,
// since browser EventSource cannot set headers.
func requestKey(r *http.Request) (string, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, key, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return "", errBadAuthHeader
		}
		if key = strings.TrimSpace(key); key != "" {
			return key, nil
		}
		return "", errNoKey
	}
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key, nil
	}
	if r.URL.Path == "/events" {
		if key := r.URL.Query().Get("api_key"); key != "" {
			return key, nil
		}
	}
	return "", errNoKey
}

func keyMatches(got, want string) bool {
	return want != "" && subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// authMiddleware requires the configured key on every route it wraps. An
// empty key disables the check.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.APIKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		key, err := requestKey(r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		if !keyMatches(key, s.config.APIKey) {
			s.writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}
