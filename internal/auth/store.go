package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const (
	redisCacheTTL  = 5 * time.Minute
	redisKeyPrefix = "chorus:key:"
)

// KeyStore looks up API key metadata by hash. A nil result means the key is unknown, revoked or expired.
type KeyStore interface {
	Lookup(ctx context.Context, keyHash string) (*KeyMetadata, error)
}

// CachedKeyStore implements KeyStore with PostgreSQL and a Redis read-through cache.
type CachedKeyStore struct {
	db    *pgxpool.Pool
	redis *redis.Client
}

func NewCachedKeyStore(db *pgxpool.Pool, rdb *redis.Client) *CachedKeyStore {
	return &CachedKeyStore{db: db, redis: rdb}
}

func (s *CachedKeyStore) Lookup(ctx context.Context, keyHash string) (*KeyMetadata, error) {
	if s.redis != nil {
		if cached, err := s.redis.Get(ctx, redisKeyPrefix+keyHash).Bytes(); err == nil {
			var meta KeyMetadata
			if err := json.Unmarshal(cached, &meta); err == nil && time.Now().Before(meta.ExpiresAt) {
				return &meta, nil
			}
		}
	}

	meta, err := s.lookupDB(ctx, keyHash)
	if err != nil || meta == nil {
		return nil, err
	}

	if s.redis != nil {
		if data, err := json.Marshal(meta); err == nil {
			s.redis.Set(ctx, redisKeyPrefix+keyHash, data, redisCacheTTL)
		}
	}
	return meta, nil
}

func (s *CachedKeyStore) lookupDB(ctx context.Context, keyHash string) (*KeyMetadata, error) {
	var meta KeyMetadata
	var allowed []byte
	err := s.db.QueryRow(ctx, `
		SELECT id, name, owner, key_prefix, allowed_providers, rpm_limit, daily_call_limit, expires_at
		FROM api_keys
		WHERE key_hash = $1
		  AND status = 'active'
		  AND expires_at > NOW()
	`, keyHash).Scan(&meta.ID, &meta.Name, &meta.Owner, &meta.Prefix, &allowed, &meta.RPMLimit, &meta.DailyCallLimit, &meta.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query api_keys: %w", err)
	}
	if len(allowed) > 0 {
		if err := json.Unmarshal(allowed, &meta.AllowedProviders); err != nil {
			return nil, fmt.Errorf("decode allowed_providers of key %s: %w", meta.ID, err)
		}
	}

	go func() {
		bgCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.db.Exec(bgCtx, `UPDATE api_keys SET last_used_at = NOW() WHERE id = $1`, meta.ID)
	}()

	return &meta, nil
}

// NewKey describes a key to insert. The raw key is never stored.
type NewKey struct {
	Name             string
	Owner            string
	AllowedProviders []string
	RPMLimit         *int
	DailyCallLimit   *int
	ExpiresAt        time.Time
}

// Create stores the hash of rawKey and returns the new key id.
func (s *CachedKeyStore) Create(ctx context.Context, rawKey string, k NewKey) (string, error) {
	if k.AllowedProviders == nil {
		k.AllowedProviders = []string{}
	}
	allowed, err := json.Marshal(k.AllowedProviders)
	if err != nil {
		return "", fmt.Errorf("encode allowed providers: %w", err)
	}

	var id string
	err = s.db.QueryRow(ctx, `
		INSERT INTO api_keys (key_hash, key_prefix, name, owner, allowed_providers, rpm_limit, daily_call_limit, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, HashKey(rawKey), KeyPrefix(rawKey), k.Name, k.Owner, allowed, k.RPMLimit, k.DailyCallLimit, k.ExpiresAt).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert api key: %w", err)
	}
	return id, nil
}

// Revoke disables a key by prefix and drops any cached copy.
func (s *CachedKeyStore) Revoke(ctx context.Context, prefix string) (int64, error) {
	rows, err := s.db.Query(ctx, `UPDATE api_keys SET status = 'revoked' WHERE key_prefix = $1 AND status = 'active' RETURNING key_hash`, prefix)
	if err != nil {
		return 0, fmt.Errorf("revoke api key %s: %w", prefix, err)
	}
	hashes, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return 0, fmt.Errorf("revoke api key %s: %w", prefix, err)
	}
	if s.redis != nil {
		for _, h := range hashes {
			s.redis.Del(ctx, redisKeyPrefix+h)
		}
	}
	return int64(len(hashes)), nil
}
