package provider

import (
	"sort"
	"sync"
	"time"

	"github.com/af-corp/chorus/internal/types"
)

// HealthTracker manages one circuit breaker per provider.
type HealthTracker struct {
	mu       sync.RWMutex
	breakers map[types.Provider]*CircuitBreaker

	failureThreshold      int
	recoveryProbeInterval time.Duration
}

func NewHealthTracker(failureThreshold int, recoveryProbeInterval time.Duration) *HealthTracker {
	return &HealthTracker{
		breakers:              make(map[types.Provider]*CircuitBreaker),
		failureThreshold:      failureThreshold,
		recoveryProbeInterval: recoveryProbeInterval,
	}
}

// GetBreaker returns (or lazily creates) the circuit breaker for a provider.
func (ht *HealthTracker) GetBreaker(p types.Provider) *CircuitBreaker {
	ht.mu.RLock()
	cb, ok := ht.breakers[p]
	ht.mu.RUnlock()
	if ok {
		return cb
	}

	ht.mu.Lock()
	defer ht.mu.Unlock()
	if cb, ok := ht.breakers[p]; ok {
		return cb
	}
	cb = NewCircuitBreaker(ht.failureThreshold, ht.recoveryProbeInterval)
	ht.breakers[p] = cb
	return cb
}

func (ht *HealthTracker) IsAvailable(p types.Provider) bool {
	return ht.GetBreaker(p).Allow()
}

func (ht *HealthTracker) RecordSuccess(p types.Provider) {
	ht.GetBreaker(p).RecordSuccess()
}

func (ht *HealthTracker) RecordFailure(p types.Provider) {
	ht.GetBreaker(p).RecordFailure()
}

// ProviderStatus is a point-in-time view of one provider's breaker.
type ProviderStatus struct {
	Provider    types.Provider `json:"provider"`
	State       string         `json:"state"`
	Failures    int            `json:"consecutive_failures"`
	LastFailure *time.Time     `json:"last_failure,omitempty"`
}

// Snapshot returns the status of every provider seen so far, sorted by name.
func (ht *HealthTracker) Snapshot() []ProviderStatus {
	ht.mu.RLock()
	names := make([]types.Provider, 0, len(ht.breakers))
	for p := range ht.breakers {
		names = append(names, p)
	}
	ht.mu.RUnlock()
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	out := make([]ProviderStatus, 0, len(names))
	for _, p := range names {
		state, streak, lastFailure := ht.GetBreaker(p).status()
		st := ProviderStatus{
			Provider: p,
			State:    state.String(),
			Failures: streak,
		}
		if !lastFailure.IsZero() {
			st.LastFailure = &lastFailure
		}
		out = append(out, st)
	}
	return out
}
