/**
 * @description
 * This file contains custom middleware for the HTTP router. The billing
 * service is internal-only: callers are other platform services, so requests
 * authenticate with a shared internal API key rather than end-user tokens.
 *
 * @dependencies
 * - crypto/subtle, net/http, strings: Standard Go libraries.
 */

package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

const internalAPIKeyHeader = "X-Internal-Api-Key"

// InternalAPIKeyMiddleware creates a middleware that validates the shared
// internal API key. An empty configured key rejects every request rather than
// failing open.
func InternalAPIKeyMiddleware(apiKey string) func(http.Handler) http.Handler {
	expected := strings.TrimSpace(apiKey)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if expected == "" {
				http.Error(w, "Service misconfigured: internal API key not set", http.StatusServiceUnavailable)
				return
			}

			provided := strings.TrimSpace(r.Header.Get(internalAPIKeyHeader))
			if provided == "" {
				http.Error(w, "Internal API key required", http.StatusUnauthorized)
				return
			}
			if subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
				http.Error(w, "Invalid internal API key", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
