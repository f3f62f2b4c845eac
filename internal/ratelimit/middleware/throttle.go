package middleware

import (
	"net/http"

	"golang.org/x/time/rate"

	"kwscope/internal/platform/httputil"
)

// GlobalThrottle caps total per-instance request throughput with a local
// token bucket, in front of any per-client accounting. It protects the
// process itself, so it deliberately does not use the shared backend.
// An rps of zero disables the throttle.
func GlobalThrottle(rps float64, burst int) func(http.Handler) http.Handler {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				w.Header().Set("Retry-After", "1")
				httputil.WriteJSON(w, http.StatusServiceUnavailable, &httputil.ErrorResponse{
					Error:      "service_overloaded",
					Message:    "Service is temporarily overloaded. Please try again later.",
					RetryAfter: 1,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
