package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/mailstream/mailstream/internal/response"
)

// ServiceTokenHeader carries the shared secret for service-to-service calls
const ServiceTokenHeader = "X-Service-Token"

// ServiceAuth requires the configured service token on every request.
// Without a configured token the endpoints are unavailable.
func (m *Middleware) ServiceAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		expected := m.cfg.Security.ServiceAuthToken
		if expected == "" {
			m.log.Error().Str("path", r.URL.Path).Msg("service auth token is not configured")
			response.Error(w, http.StatusServiceUnavailable, "service_unavailable", "Service authentication is not configured")
			return
		}

		token := r.Header.Get(ServiceTokenHeader)
		if token == "" {
			response.Error(w, http.StatusUnauthorized, "unauthorized", "Missing service authentication token")
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
			response.Error(w, http.StatusForbidden, "forbidden", "Invalid service authentication token")
			return
		}

		next.ServeHTTP(w, r)
	})
}
