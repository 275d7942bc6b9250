package httpapi

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterStore is a small keyed limiter store: one golang.org/x/time/rate
// limiter per subject id, generalising the teacher's single global
// `globalAILimiter = middleware.NewRateLimiter(); globalAILimiter.Allow(userKey)`
// singleton into a per-subject map. The map is capped; once full, the
// least-recently-used entry is evicted to make room, the same bound the
// teacher's limiter held on its own keyspace.
type RateLimiterStore struct {
	mu         sync.Mutex
	limiters   map[string]*limiterEntry
	limit      rate.Limit
	burst      int
	maxEntries int
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// NewRateLimiterStore builds a store issuing limit-per-second/burst limiters,
// capped at maxEntries concurrently tracked subjects.
func NewRateLimiterStore(limit rate.Limit, burst, maxEntries int) *RateLimiterStore {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &RateLimiterStore{
		limiters:   make(map[string]*limiterEntry),
		limit:      limit,
		burst:      burst,
		maxEntries: maxEntries,
	}
}

// Allow reports whether a request for key (the subject id) may proceed now,
// creating that subject's limiter on first use.
func (s *RateLimiterStore) Allow(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.limiters[key]
	if !ok {
		if len(s.limiters) >= s.maxEntries {
			s.evictOldestLocked()
		}
		e = &limiterEntry{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.limiters[key] = e
	}
	e.lastUsed = time.Now()
	return e.limiter.Allow()
}

func (s *RateLimiterStore) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	for k, e := range s.limiters {
		if oldestKey == "" || e.lastUsed.Before(oldestAt) {
			oldestKey = k
			oldestAt = e.lastUsed
		}
	}
	if oldestKey != "" {
		delete(s.limiters, oldestKey)
	}
}
