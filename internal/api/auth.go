package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"
)

// KeyAuth resolves the Authorization header into the tenant key that scopes
// every record and registration.
type KeyAuth struct {
	keys   [][]byte
	logger *slog.Logger
}

// NewKeyAuth accepts any non-empty key when allowed is empty.
func NewKeyAuth(allowed []string, logger *slog.Logger) *KeyAuth {
	a := &KeyAuth{logger: logger.With("component", "KeyAuth")}
	for _, k := range allowed {
		if k = strings.TrimSpace(k); k != "" {
			a.keys = append(a.keys, []byte(k))
		}
	}
	return a
}

func (a *KeyAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get("Authorization"))
		key = strings.TrimSpace(strings.TrimPrefix(key, "Bearer "))
		if key == "" {
			response.WriteJSONError(w, http.StatusUnauthorized, "Missing Authorization")
			return
		}
		if !a.allowed(key) {
			a.logger.Warn("Rejected unknown key", "remote", r.RemoteAddr)
			response.WriteJSONError(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r.WithContext(middleware.ContextWithUserID(r.Context(), key)))
	})
}

func (a *KeyAuth) allowed(key string) bool {
	if len(a.keys) == 0 {
		return true
	}
	match := 0
	for _, k := range a.keys {
		match |= subtle.ConstantTimeCompare(k, []byte(key))
	}
	return match == 1
}
