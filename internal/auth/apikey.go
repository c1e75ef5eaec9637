package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"
)

const (
	keyBrand     = "chorus"
	alphanumeric = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// GenerateKey creates a key of the form chorus-{env}-{32 random alphanumeric chars}.
func GenerateKey(env string) (string, error) {
	random, err := randomString(32)
	if err != nil {
		return "", fmt.Errorf("generate random: %w", err)
	}
	return fmt.Sprintf("%s-%s-%s", keyBrand, env, random), nil
}

// HashKey returns the SHA-256 hex digest of an API key.
func HashKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

// KeyPrefix returns the display-safe part of a key: chorus-{env}-{first 8 random chars}.
func KeyPrefix(key string) string {
	parts := strings.SplitN(key, "-", 3)
	if len(parts) != 3 {
		if len(key) > 16 {
			return key[:16]
		}
		return key
	}
	random := parts[2]
	if len(random) > 8 {
		random = random[:8]
	}
	return parts[0] + "-" + parts[1] + "-" + random
}

func randomString(n int) (string, error) {
	b := make([]byte, n)
	limit := big.NewInt(int64(len(alphanumeric)))
	for i := range b {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b[i] = alphanumeric[idx.Int64()]
	}
	return string(b), nil
}

// KeyMetadata is the cached view of an api_keys row.
type KeyMetadata struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Owner  string `json:"owner"`
	Prefix string `json:"key_prefix"`
	// AllowedProviders restricts which providers a key's bots may fan out to. Empty allows all.
	AllowedProviders []string  `json:"allowed_providers"`
	RPMLimit         *int      `json:"rpm_limit,omitempty"`
	DailyCallLimit   *int      `json:"daily_call_limit,omitempty"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// ParseDuration parses a duration string like "365d", "30d", "24h".
func ParseDuration(s string) (time.Duration, error) {
	if len(s) == 0 {
		return 0, fmt.Errorf("empty duration")
	}
	if days, ok := strings.CutSuffix(s, "d"); ok {
		var n int
		if _, err := fmt.Sscanf(days, "%d", &n); err != nil {
			return 0, fmt.Errorf("parse days: %w", err)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}
