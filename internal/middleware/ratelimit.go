package middleware

import (
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimit limits requests per tenant, falling back to the client address before auth.
func RateLimit(requestLimit int, windowLength time.Duration) func(http.Handler) http.Handler {
	return limit(requestLimit, windowLength, func(r *http.Request) string {
		if tenantID := GetTenantID(r.Context()); tenantID != "" {
			return "tenant:" + tenantID
		}
		return ""
	})
}

// UserRateLimit limits requests per operator. It guards field edits, where one noisy
// dashboard must not use up its tenant's budget.
func UserRateLimit(requestLimit int, windowLength time.Duration) func(http.Handler) http.Handler {
	return limit(requestLimit, windowLength, func(r *http.Request) string {
		if tenantID, userID := GetTenantID(r.Context()), GetUserID(r.Context()); userID != "" {
			return "user:" + tenantID + "/" + userID
		}
		return ""
	})
}

func limit(requestLimit int, windowLength time.Duration, key func(r *http.Request) string) func(http.Handler) http.Handler {
	retryAfter := int(math.Ceil(windowLength.Seconds()))
	body := fmt.Sprintf(`{"error":"rate limit exceeded","retry_after":%d}`, retryAfter)

	return httprate.Limit(
		requestLimit,
		windowLength,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if k := key(r); k != "" {
				return k, nil
			}
			return httprate.KeyByIP(r)
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", fmt.Sprint(retryAfter))
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(body))
		}),
	)
}
