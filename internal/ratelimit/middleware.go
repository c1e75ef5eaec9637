package ratelimit

import (
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/af-corp/chorus/internal/auth"
	"github.com/af-corp/chorus/internal/config"
	"github.com/af-corp/chorus/internal/httputil"
	"github.com/af-corp/chorus/internal/telemetry"
)

const (
	headerLimit      = "X-RateLimit-Limit-Requests"
	headerRemaining  = "X-RateLimit-Remaining-Requests"
	headerReset      = "X-RateLimit-Reset-Requests"
	headerRetryAfter = "Retry-After"
)

// Middleware enforces the per-key requests-per-minute limit. A limit of zero or less
// lets the request through without touching Redis.
func Middleware(limiter *Limiter, defaults func() config.RateLimitConfig, metrics *telemetry.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info, _ := auth.AuthFromContext(r.Context())
			rpm := RequestsPerMinute(info, defaults())
			if rpm <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			subject := auth.Subject(r.Context())
			d, _ := limiter.Check(r.Context(), "rpm:"+subject, rpm, time.Minute)

			h := w.Header()
			h.Set(headerLimit, strconv.FormatInt(rpm, 10))
			h.Set(headerRemaining, strconv.FormatInt(d.Remaining, 10))
			h.Set(headerReset, d.ResetAt.UTC().Format(time.RFC3339))

			if d.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			reqID := h.Get("X-Request-ID")
			slog.Warn("rate limit exceeded", "request_id", reqID, "subject", subject, "limit", rpm)
			if metrics != nil {
				metrics.RecordRateLimitHit("rpm")
			}
			h.Set(headerRetryAfter, strconv.Itoa(retrySeconds(d.RetryAfter)))
			httputil.WriteRateLimitError(w, reqID, fmt.Sprintf(
				"Rate limit of %d requests per minute exceeded, retry in %ds", rpm, retrySeconds(d.RetryAfter)))
		})
	}
}

// RequestsPerMinute resolves the caller's RPM limit, falling back to the configured default.
func RequestsPerMinute(info *auth.AuthInfo, defaults config.RateLimitConfig) int64 {
	if info != nil && info.RPMLimit != nil {
		return int64(*info.RPMLimit)
	}
	return int64(defaults.DefaultRPM)
}

// DailyCallLimit returns the caller's model-call quota for today.
func DailyCallLimit(info *auth.AuthInfo, defaults config.RateLimitConfig) int64 {
	if info != nil && info.DailyCallLimit != nil {
		return int64(*info.DailyCallLimit)
	}
	return int64(defaults.DefaultDailyModelCalls)
}

func retrySeconds(d time.Duration) int {
	return max(int(math.Ceil(d.Seconds())), 1)
}
