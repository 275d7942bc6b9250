// Package budget implements the per-subject spend tracker (SPEC_FULL.md
// §5 EXPANSION): Redis `INCRBY`-based spend counters keyed by
// (subject, period), consulted by the Generation Loop before a stream
// opens and updated from final token usage once a generation completes.
// A nil Redis client or budget.enabled=false makes every method a
// no-op pass-through — the budget tracker is never a hard dependency.
package budget

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rivermint/chatforge/config"
	"github.com/rivermint/chatforge/internal/apperror"
	"github.com/rivermint/chatforge/store"
)

const (
	keyPrefix      = "chatforge:budget:"
	redisOpTimeout = 3 * time.Second
)

// Tracker enforces config.BudgetConfig against Redis-backed spend
// counters. Spend is measured in total tokens: the spec defines no
// dollar-cost model, so MaxBudget/WarnThreshold are read as token
// counts rather than currency (see DESIGN.md).
type Tracker struct {
	client *redis.Client
	cfg    config.BudgetConfig
	log    *slog.Logger
}

// New builds a Tracker. client may be nil (no Redis configured); cfg's
// Enabled flag is checked independently, matching a misconfiguration
// (enabled=true, no client) degrading to a no-op rather than panicking.
func New(client *redis.Client, cfg config.BudgetConfig, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{client: client, cfg: cfg, log: logger}
}

func (t *Tracker) enabled() bool {
	return t.cfg.Enabled && t.client != nil
}

// Reserve checks subjectID's current-period spend against MaxBudget
// before a generation is allowed to start. It does not itself deduct
// anything — the deduction happens in RecordSpend once actual usage is
// known, since a stream's token cost is unknowable in advance.
func (t *Tracker) Reserve(ctx context.Context, subjectID, chatProviderID string) error {
	if !t.enabled() {
		return nil
	}

	opCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	spend, err := t.client.Get(opCtx, t.periodKey(subjectID)).Int64()
	if err != nil && err != redis.Nil {
		t.log.Warn("budget: failed to read spend counter, allowing request through", "subject_id", subjectID, "error", err)
		return nil
	}

	if t.cfg.MaxBudget > 0 && float64(spend) >= t.cfg.MaxBudget {
		return apperror.NotAuthorized(fmt.Sprintf("subject %q has exceeded its budget for this period", subjectID))
	}
	if t.cfg.WarnThreshold > 0 && t.cfg.MaxBudget > 0 && float64(spend) >= t.cfg.MaxBudget*t.cfg.WarnThreshold {
		t.log.Warn("budget: subject approaching limit", "subject_id", subjectID, "chat_provider_id", chatProviderID, "spend", spend, "max_budget", t.cfg.MaxBudget)
	}
	return nil
}

// RecordSpend increments subjectID's current-period counter by the
// generation's total token usage, setting the period's expiry on first
// write so stale buckets self-clean instead of accumulating forever.
func (t *Tracker) RecordSpend(ctx context.Context, subjectID, chatProviderID string, usage store.TokenUsage) error {
	if !t.enabled() || usage.TotalTokens <= 0 {
		return nil
	}

	opCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	key := t.periodKey(subjectID)
	pipe := t.client.Pipeline()
	incr := pipe.IncrBy(opCtx, key, int64(usage.TotalTokens))
	pipe.ExpireNX(opCtx, key, t.periodDuration())
	if _, err := pipe.Exec(opCtx); err != nil {
		return apperror.InternalError("failed to record budget spend", err)
	}

	t.log.Debug("budget: recorded spend", "subject_id", subjectID, "chat_provider_id", chatProviderID, "tokens", usage.TotalTokens, "new_total", incr.Val())
	return nil
}

func (t *Tracker) periodDuration() time.Duration {
	days := t.cfg.BudgetPeriodDays
	if days <= 0 {
		days = 30
	}
	return time.Duration(days) * 24 * time.Hour
}

// periodKey buckets subjectID's counter by the current period window so
// spend resets at each period boundary without an explicit reset job.
func (t *Tracker) periodKey(subjectID string) string {
	bucket := time.Now().Unix() / int64(t.periodDuration().Seconds())
	return fmt.Sprintf("%s%s:%d", keyPrefix, subjectID, bucket)
}
