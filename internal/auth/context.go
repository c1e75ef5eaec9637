package auth

import "context"

type contextKey string

const authContextKey contextKey = "chorus_auth"

// AuthInfo is the authenticated caller attached to a request context.
type AuthInfo struct {
	KeyID            string
	Name             string
	Owner            string
	AllowedProviders []string
	RPMLimit         *int
	DailyCallLimit   *int
}

func ContextWithAuth(ctx context.Context, info *AuthInfo) context.Context {
	return context.WithValue(ctx, authContextKey, info)
}

func AuthFromContext(ctx context.Context) (*AuthInfo, bool) {
	info, ok := ctx.Value(authContextKey).(*AuthInfo)
	return info, ok
}

// Subject names the caller for rate limit and quota buckets. Unauthenticated requests share one bucket.
func Subject(ctx context.Context) string {
	if info, ok := AuthFromContext(ctx); ok && info.KeyID != "" {
		return info.KeyID
	}
	return "anonymous"
}
