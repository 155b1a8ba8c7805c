package dispatch

import (
	"sync"
	"time"
)

// BreakerConfig trips a plugin after Threshold consecutive failures and keeps
// it out of dispatch for ResetAfter.
type BreakerConfig struct {
	Threshold  int
	ResetAfter time.Duration
}

var defaultBreaker = BreakerConfig{Threshold: 3, ResetAfter: time.Minute}

type breakerState struct {
	failures  int
	openUntil time.Time
}

// breakers tracks consecutive failures per plugin.
type breakers struct {
	mu       sync.Mutex
	defaults BreakerConfig
	per      map[string]BreakerConfig
	state    map[string]*breakerState
}

func newBreakers(defaults BreakerConfig, per map[string]BreakerConfig) *breakers {
	if defaults.Threshold <= 0 {
		defaults.Threshold = defaultBreaker.Threshold
	}
	if defaults.ResetAfter <= 0 {
		defaults.ResetAfter = defaultBreaker.ResetAfter
	}
	return &breakers{
		defaults: defaults,
		per:      per,
		state:    make(map[string]*breakerState),
	}
}

func (b *breakers) config(name string) BreakerConfig {
	cfg, ok := b.per[name]
	if !ok {
		return b.defaults
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = b.defaults.Threshold
	}
	if cfg.ResetAfter <= 0 {
		cfg.ResetAfter = b.defaults.ResetAfter
	}
	return cfg
}

// Allow reports whether name may be called at now. An expired quarantine
// closes the breaker.
func (b *breakers) Allow(name string, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.state[name]
	if !ok || st.openUntil.IsZero() {
		return true
	}
	if now.Before(st.openUntil) {
		return false
	}
	st.openUntil = time.Time{}
	st.failures = 0
	return true
}

// Failure records a failed call and returns the quarantine deadline when
// this failure tripped the breaker.
func (b *breakers) Failure(name string, now time.Time) (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.state[name]
	if !ok {
		st = &breakerState{}
		b.state[name] = st
	}
	st.failures++
	cfg := b.config(name)
	if st.failures < cfg.Threshold || !st.openUntil.IsZero() {
		return time.Time{}, false
	}
	st.openUntil = now.Add(cfg.ResetAfter)
	return st.openUntil, true
}

func (b *breakers) Success(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.state, name)
}

// Quarantined returns the plugins whose breaker is open at now.
func (b *breakers) Quarantined(now time.Time) map[string]time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]time.Time)
	for name, st := range b.state {
		if !st.openUntil.IsZero() && now.Before(st.openUntil) {
			out[name] = st.openUntil
		}
	}
	return out
}
