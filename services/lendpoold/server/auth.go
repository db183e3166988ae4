package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"nftlend/services/lendpoold/config"
)

type authenticator struct {
	tokens         []string
	allowAnonymous bool
}

func newAuthenticator(cfg config.AuthConfig) *authenticator {
	tokens := make([]string, 0, len(cfg.APITokens))
	for _, token := range cfg.APITokens {
		if trimmed := strings.TrimSpace(token); trimmed != "" {
			tokens = append(tokens, trimmed)
		}
	}
	return &authenticator{tokens: tokens, allowAnonymous: cfg.AllowAnonymous}
}

func (a *authenticator) allow(r *http.Request) bool {
	if a.allowAnonymous {
		return true
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return false
	}
	presented := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	for _, token := range a.tokens {
		if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) == 1 {
			return true
		}
	}
	return false
}

// middleware rejects unauthenticated requests with 401 before they reach the
// handlers.
func (a *authenticator) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.allow(r) {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
