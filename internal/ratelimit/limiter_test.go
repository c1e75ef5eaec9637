package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLimiter_NilRedis_FailOpen(t *testing.T) {
	l := NewLimiter(nil)
	result, err := l.Check(context.Background(), "test:key", 60, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed {
		t.Error("expected allowed when Redis is nil")
	}
	if result.Remaining != 59 {
		t.Errorf("expected remaining=59, got %d", result.Remaining)
	}
}

func TestLimiter_NilRedis_MultipleChecks(t *testing.T) {
	l := NewLimiter(nil)
	for i := range 100 {
		result, _ := l.Check(context.Background(), "test:key", 10, time.Minute)
		if !result.Allowed {
			t.Fatalf("expected allowed on check %d", i)
		}
	}
}

func TestDecide(t *testing.T) {
	now := time.Date(2026, 3, 9, 12, 0, 30, 0, time.UTC)
	oldest := now.Add(-20 * time.Second)

	t.Run("admitted", func(t *testing.T) {
		d := decide(now, time.Minute, 10, 4, true, oldest)
		if !d.Allowed || d.Remaining != 6 || d.RetryAfter != 0 {
			t.Errorf("unexpected decision %+v", d)
		}
		if want := oldest.Add(time.Minute); !d.ResetAt.Equal(want) {
			t.Errorf("ResetAt = %v, want %v", d.ResetAt, want)
		}
	})

	t.Run("rejected waits for oldest entry", func(t *testing.T) {
		d := decide(now, time.Minute, 10, 10, false, oldest)
		if d.Allowed || d.Remaining != 0 {
			t.Errorf("unexpected decision %+v", d)
		}
		if d.RetryAfter != 40*time.Second {
			t.Errorf("RetryAfter = %v, want 40s", d.RetryAfter)
		}
	})

	t.Run("rejected never retries immediately", func(t *testing.T) {
		d := decide(now, time.Minute, 1, 1, false, now.Add(-time.Minute))
		if d.RetryAfter != time.Second {
			t.Errorf("RetryAfter = %v, want 1s", d.RetryAfter)
		}
	})
}

func TestQuotaTracker_NilRedis(t *testing.T) {
	q := NewQuotaTracker(nil)
	res, err := q.Check(context.Background(), "key-1", 100)
	if err != nil || !res.Allowed || res.Limit != 100 {
		t.Errorf("expected fail-open result, got %+v, %v", res, err)
	}
	if err := q.Record(context.Background(), "key-1", 5); err != nil {
		t.Errorf("Record should be a no-op without redis: %v", err)
	}
}

func TestQuotaTracker_KeyIsPerDay(t *testing.T) {
	q := NewQuotaTracker(nil)
	q.now = func() time.Time { return time.Date(2026, 3, 9, 23, 30, 0, 0, time.UTC) }
	if got := q.key("key-1"); got != "chorus:quota:calls:key-1:2026-03-09" {
		t.Errorf("unexpected key %s", got)
	}
}
