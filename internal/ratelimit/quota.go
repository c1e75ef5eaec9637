package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type QuotaResult struct {
	Allowed bool
	Used    int64
	Limit   int64
}

// QuotaTracker counts model calls per subject per UTC day.
type QuotaTracker struct {
	rdb *redis.Client
	now func() time.Time
}

func NewQuotaTracker(rdb *redis.Client) *QuotaTracker {
	return &QuotaTracker{rdb: rdb, now: time.Now}
}

func (q *QuotaTracker) key(subject string) string {
	return fmt.Sprintf("%squota:calls:%s:%s", keyPrefix, subject, q.now().UTC().Format("2006-01-02"))
}

// Check reports whether subject still has calls left today. A limit <= 0 means unlimited.
// When Redis fails the returned result still allows the call and err says why.
func (q *QuotaTracker) Check(ctx context.Context, subject string, limit int64) (QuotaResult, error) {
	if q.rdb == nil || limit <= 0 {
		return QuotaResult{Allowed: true, Limit: limit}, nil
	}
	used, err := q.rdb.Get(ctx, q.key(subject)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return QuotaResult{Allowed: true, Limit: limit}, fmt.Errorf("read model call quota for %s: %w", subject, err)
	}
	return QuotaResult{Allowed: used < limit, Used: used, Limit: limit}, nil
}

// Record charges calls model calls to subject's counter for today.
func (q *QuotaTracker) Record(ctx context.Context, subject string, calls int64) error {
	if q.rdb == nil || calls <= 0 {
		return nil
	}
	now := q.now().UTC()
	endOfDay := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)

	key := q.key(subject)
	pipe := q.rdb.Pipeline()
	pipe.IncrBy(ctx, key, calls)
	pipe.Expire(ctx, key, endOfDay.Sub(now)+time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record %d model calls for %s: %w", calls, subject, err)
	}
	return nil
}
