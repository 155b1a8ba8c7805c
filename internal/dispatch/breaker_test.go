package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerTripsAtThreshold(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b := newBreakers(BreakerConfig{Threshold: 3, ResetAfter: time.Minute}, nil)

	for i := 0; i < 2; i++ {
		_, tripped := b.Failure("relayer-a", now)
		assert.False(t, tripped)
	}
	assert.True(t, b.Allow("relayer-a", now))

	until, tripped := b.Failure("relayer-a", now)
	assert.True(t, tripped)
	assert.Equal(t, now.Add(time.Minute), until)
	assert.False(t, b.Allow("relayer-a", now.Add(30*time.Second)))

	_, again := b.Failure("relayer-a", now)
	assert.False(t, again, "an open breaker does not trip twice")

	assert.True(t, b.Allow("relayer-a", now.Add(time.Minute)))
	assert.Empty(t, b.Quarantined(now.Add(time.Minute)))
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	now := time.Now()
	b := newBreakers(BreakerConfig{Threshold: 2}, nil)

	b.Failure("relayer-a", now)
	b.Success("relayer-a")
	_, tripped := b.Failure("relayer-a", now)
	assert.False(t, tripped)
}

func TestBreakerPerPluginOverride(t *testing.T) {
	now := time.Now()
	b := newBreakers(BreakerConfig{}, map[string]BreakerConfig{"fragile": {Threshold: 1}})

	_, tripped := b.Failure("fragile", now)
	assert.True(t, tripped)
	assert.Contains(t, b.Quarantined(now), "fragile")
	assert.Equal(t, defaultBreaker.ResetAfter, b.config("fragile").ResetAfter)

	_, tripped = b.Failure("sturdy", now)
	assert.False(t, tripped)
	assert.Equal(t, defaultBreaker, b.config("sturdy"))
}
