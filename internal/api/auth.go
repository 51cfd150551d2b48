package api

import (
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// APIKeyAuthenticator validates bearer tokens against configured bcrypt
// hashes. With no hashes configured the gateway runs open, for local and
// test setups.
type APIKeyAuthenticator struct {
	hashes [][]byte
}

func NewAPIKeyAuthenticator(hashes []string) *APIKeyAuthenticator {
	a := &APIKeyAuthenticator{}
	for _, h := range hashes {
		if h != "" {
			a.hashes = append(a.hashes, []byte(h))
		}
	}
	return a
}

func (a *APIKeyAuthenticator) Enabled() bool {
	return len(a.hashes) > 0
}

func (a *APIKeyAuthenticator) Authenticate(key string) bool {
	if key == "" {
		return false
	}
	for _, hash := range a.hashes {
		if bcrypt.CompareHashAndPassword(hash, []byte(key)) == nil {
			return true
		}
	}
	return false
}

// Middleware rejects requests without a valid API key. No-op when no
// keys are configured.
func (a *APIKeyAuthenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		if !a.Authenticate(extractAPIKey(r)) {
			writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractAPIKey(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	// WebSocket clients cannot always set headers.
	return r.URL.Query().Get("api_key")
}
