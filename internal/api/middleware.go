/**
 * @description
 * This file contains custom middleware for the HTTP router.
 */
package api

import (
	"crypto/subtle"
	"net/http"
)

// internalAPIKeyHeader carries the shared key for service-to-service calls.
const internalAPIKeyHeader = "X-Internal-Api-Key"

// InternalAuthMiddleware guards internal endpoints (report upload) with a
// shared API key. The comparison is constant time.
func InternalAuthMiddleware(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get(internalAPIKeyHeader)
			if apiKey == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
				respondWithError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
