package httpapi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestRateLimiterStoreAllowsUpToBurstThenBlocks(t *testing.T) {
	store := NewRateLimiterStore(rate.Limit(1), 2, 10)

	assert.True(t, store.Allow("alice"))
	assert.True(t, store.Allow("alice"))
	assert.False(t, store.Allow("alice"))
}

func TestRateLimiterStoreTracksKeysIndependently(t *testing.T) {
	store := NewRateLimiterStore(rate.Limit(1), 1, 10)

	require.True(t, store.Allow("alice"))
	assert.False(t, store.Allow("alice"))
	assert.True(t, store.Allow("bob"), "bob's bucket must be independent of alice's")
}

func TestRateLimiterStoreEvictsOldestWhenFull(t *testing.T) {
	store := NewRateLimiterStore(rate.Limit(1), 1, 2)

	require.True(t, store.Allow("alice"))
	store.limiters["alice"].lastUsed = time.Now().Add(-time.Hour)
	require.True(t, store.Allow("bob"))
	require.Len(t, store.limiters, 2)

	require.True(t, store.Allow("carol"))

	assert.Len(t, store.limiters, 2)
	_, aliceStillTracked := store.limiters["alice"]
	assert.False(t, aliceStillTracked, "oldest entry should have been evicted to make room")
}

func TestNewRateLimiterStoreDefaultsMaxEntries(t *testing.T) {
	store := NewRateLimiterStore(rate.Limit(1), 1, 0)
	assert.Equal(t, 10000, store.maxEntries)
}
