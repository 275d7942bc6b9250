package policy

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/rivermint/chatforge/store"
)

// ProjectionSource supplies the attribute projection a snapshot rebuild
// reads from. *store.Store satisfies this by delegating to its Driver.
type ProjectionSource interface {
	PolicyProjection(ctx context.Context) (*store.PolicyProjection, error)
}

const invalidateChannel = "policy:invalidate"

// Cache is the Policy Cache: a compiled program set plus a JSON snapshot of
// authorization-relevant attributes, guarded by a dirty flag (spec §4.2).
type Cache struct {
	programs programs

	mu       sync.RWMutex
	snap     *snapshot
	dirty    bool

	redis *redis.Client
}

// New builds a Cache with its CEL programs compiled and an empty snapshot
// marked dirty, so the first RebuildIfNeeded call loads it.
func New(redisClient *redis.Client) (*Cache, error) {
	progs, err := newPrograms()
	if err != nil {
		return nil, err
	}
	c := &Cache{
		programs: progs,
		snap:     emptySnapshot(),
		dirty:    true,
		redis:    redisClient,
	}
	return c, nil
}

// Invalidate marks the snapshot stale. If a Redis client is configured, it
// also publishes to policy:invalidate so sibling processes pick it up —
// additive to the single-process semantics, a no-op without Redis.
func (c *Cache) Invalidate(ctx context.Context) {
	c.mu.Lock()
	c.dirty = true
	c.mu.Unlock()

	if c.redis == nil {
		return
	}
	if err := c.redis.Publish(ctx, invalidateChannel, "1").Err(); err != nil {
		slog.Warn("policy cache: failed to publish invalidation", "error", err)
	}
}

// RebuildIfNeeded re-queries the projection source and reloads the snapshot
// when dirty; otherwise it's a no-op.
func (c *Cache) RebuildIfNeeded(ctx context.Context, source ProjectionSource) error {
	c.mu.RLock()
	needsRebuild := c.dirty
	c.mu.RUnlock()
	if !needsRebuild {
		return nil
	}

	projection, err := source.PolicyProjection(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to rebuild policy snapshot")
	}

	c.mu.Lock()
	c.snap = snapshotFromProjection(projection)
	c.dirty = false
	c.mu.Unlock()
	return nil
}

// Authorize evaluates (subject, resource, action) against the current
// snapshot. The resource-kind x action matrix is closed and compile-time
// enumerable; an unrecognized combination panics rather than denying,
// per spec's "programmer error, not a denial."
func (c *Cache) Authorize(subject Subject, resource Resource, action Action) (Decision, error) {
	c.mu.RLock()
	snap := c.snap
	c.mu.RUnlock()

	owner, hasOwner := snap.owner(resource.Kind, resource.ID)
	isOwner := hasOwner && owner == subject.ID

	role, hasGrant := snap.grantFor(resource.Kind, resource.ID, subject)

	allowed, err := c.programs.eval(resource.Kind, action, celInputs{
		isOwner:   isOwner,
		hasGrant:  hasGrant,
		grantRole: string(role),
	})
	if err != nil {
		return DecisionDeny, err
	}
	if allowed {
		return DecisionAllow, nil
	}
	return DecisionDeny, nil
}

// Clone gives a per-request snapshot view with its own independent dirty
// bit: a concurrent global Invalidate does not force this clone to reload
// mid-request (spec §4.2 concurrency note).
func (c *Cache) Clone() *Cache {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return &Cache{
		programs: c.programs,
		snap:     c.snap,
		dirty:    c.dirty,
		redis:    c.redis,
	}
}

// SubscribeInvalidations runs until ctx is done, marking the cache dirty on
// every message received on policy:invalidate. No-op if Redis isn't
// configured. Intended to run as a single long-lived goroutine per process.
func (c *Cache) SubscribeInvalidations(ctx context.Context) {
	if c.redis == nil {
		return
	}
	sub := c.redis.Subscribe(ctx, invalidateChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			c.mu.Lock()
			c.dirty = true
			c.mu.Unlock()
		}
	}
}
