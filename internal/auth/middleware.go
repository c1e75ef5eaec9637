package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/af-corp/chorus/internal/httputil"
)

const bearerUsage = "Use: Authorization: Bearer <api-key>"

// bearerToken extracts the API key from the Authorization header. The scheme is
// case-insensitive. On failure it returns the message to send back.
func bearerToken(r *http.Request) (string, string) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", "Missing Authorization header. " + bearerUsage
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", "Invalid Authorization format. " + bearerUsage
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", "Empty API key"
	}
	if !strings.HasPrefix(token, keyBrand+"-") {
		return "", "Invalid API key"
	}
	return token, ""
}

// Middleware authenticates requests by API key and attaches the caller's AuthInfo.
func Middleware(store KeyStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := w.Header().Get("X-Request-ID")

			token, problem := bearerToken(r)
			if problem != "" {
				httputil.WriteAuthError(w, reqID, problem)
				return
			}

			meta, err := store.Lookup(r.Context(), HashKey(token))
			if err != nil {
				slog.Error("key lookup failed", "request_id", reqID, "key_prefix", KeyPrefix(token), "error", err)
				httputil.WriteInternalError(w, reqID, "Internal error during authentication")
				return
			}
			if meta == nil {
				slog.Warn("unknown, revoked or expired api key", "request_id", reqID, "key_prefix", KeyPrefix(token))
				httputil.WriteAuthError(w, reqID, "Invalid API key")
				return
			}

			slog.Debug("authenticated", "request_id", reqID, "key_prefix", meta.Prefix, "owner", meta.Owner)
			next.ServeHTTP(w, r.WithContext(ContextWithAuth(r.Context(), &AuthInfo{
				KeyID:            meta.ID,
				Name:             meta.Name,
				Owner:            meta.Owner,
				AllowedProviders: meta.AllowedProviders,
				RPMLimit:         meta.RPMLimit,
				DailyCallLimit:   meta.DailyCallLimit,
			})))
		})
	}
}
