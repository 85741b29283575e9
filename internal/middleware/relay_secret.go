package middleware

import (
	"net/http"

	"github.com/innovfix/onlycare-calls/internal/audit"
	apperrors "github.com/innovfix/onlycare-calls/internal/errors"
	"github.com/innovfix/onlycare-calls/internal/relay"
	"github.com/innovfix/onlycare-calls/internal/util"
)

// RelaySecretMiddleware guards the relay's internal endpoints. Only the
// orchestrator knows the shared secret.
type RelaySecretMiddleware struct {
	secret string
}

func NewRelaySecretMiddleware(secret string) *RelaySecretMiddleware {
	return &RelaySecretMiddleware{secret: secret}
}

func (m *RelaySecretMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		provided := r.Header.Get(relay.SecretHeader)
		if m.secret == "" || !util.ConstantTimeEqual(provided, m.secret) {
			audit.LogFromRequest(r, audit.Event{Type: audit.EventRelaySecretMismatch})
			writeError(w, apperrors.Unauthorized("Invalid relay secret"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
