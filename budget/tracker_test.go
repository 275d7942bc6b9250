package budget

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/rivermint/chatforge/config"
	"github.com/rivermint/chatforge/internal/apperror"
	"github.com/rivermint/chatforge/store"
)

func newTestTracker(t *testing.T, cfg config.BudgetConfig) (*Tracker, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	return New(client, cfg, nil), srv
}

func TestReserveAllowsWhenDisabled(t *testing.T) {
	tracker := New(nil, config.BudgetConfig{Enabled: true, MaxBudget: 1}, nil)
	err := tracker.Reserve(context.Background(), "user-1", "provider-1")
	require.NoError(t, err)
}

func TestReserveAllowsUnderBudget(t *testing.T) {
	tracker, srv := newTestTracker(t, config.BudgetConfig{Enabled: true, MaxBudget: 1000, BudgetPeriodDays: 30})
	defer srv.Close()

	err := tracker.Reserve(context.Background(), "user-1", "provider-1")
	require.NoError(t, err)
}

func TestRecordSpendThenReserveRejectsOverBudget(t *testing.T) {
	tracker, srv := newTestTracker(t, config.BudgetConfig{Enabled: true, MaxBudget: 100, BudgetPeriodDays: 30})
	defer srv.Close()

	err := tracker.RecordSpend(context.Background(), "user-1", "provider-1", store.TokenUsage{TotalTokens: 150})
	require.NoError(t, err)

	err = tracker.Reserve(context.Background(), "user-1", "provider-1")
	require.Error(t, err)
	appErr := apperror.AsError(err)
	require.Equal(t, apperror.KindNotAuthorized, appErr.Kind)
}

func TestRecordSpendAccumulatesAndSetsExpiry(t *testing.T) {
	tracker, srv := newTestTracker(t, config.BudgetConfig{Enabled: true, MaxBudget: 1000, BudgetPeriodDays: 1})
	defer srv.Close()

	ctx := context.Background()
	require.NoError(t, tracker.RecordSpend(ctx, "user-1", "provider-1", store.TokenUsage{TotalTokens: 40}))
	require.NoError(t, tracker.RecordSpend(ctx, "user-1", "provider-1", store.TokenUsage{TotalTokens: 60}))

	key := tracker.periodKey("user-1")
	val, err := srv.Get(key)
	require.NoError(t, err)
	require.Equal(t, "100", val)

	ttl := srv.TTL(key)
	require.Greater(t, ttl, time.Duration(0))
}

func TestRecordSpendIsNoOpForZeroUsage(t *testing.T) {
	tracker, srv := newTestTracker(t, config.BudgetConfig{Enabled: true, MaxBudget: 1000, BudgetPeriodDays: 30})
	defer srv.Close()

	require.NoError(t, tracker.RecordSpend(context.Background(), "user-1", "provider-1", store.TokenUsage{}))

	key := tracker.periodKey("user-1")
	require.False(t, srv.Exists(key))
}
