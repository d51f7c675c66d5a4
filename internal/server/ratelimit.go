package server

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// как часто чистить неактивных клиентов
	cleanupInterval = 5 * time.Minute
	// клиент без запросов дольше этого забывается
	maxVisitorAge = 30 * time.Minute
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter ограничивает запросы по ключу (IP клиента): perMinute запросов в минуту, с тем же запасом.
type rateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	now      func() time.Time
}

// newRateLimiter возвращает nil при perMinute <= 0: ограничение выключено.
func newRateLimiter(perMinute int) *rateLimiter {
	if perMinute <= 0 {
		return nil
	}
	return &rateLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    perMinute,
		now:      time.Now,
	}
}

func (rl *rateLimiter) allow(key string) bool {
	if rl == nil {
		return true
	}
	rl.mu.Lock()
	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[key] = v
	}
	now := rl.now()
	v.lastSeen = now
	rl.mu.Unlock()

	return v.limiter.AllowN(now, 1)
}

// cleanupStale удаляет клиентов, не приходивших дольше maxAge. Без этого карта растёт неограниченно.
func (rl *rateLimiter) cleanupStale(maxAge time.Duration) {
	if rl == nil {
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	for key, v := range rl.visitors {
		if now.Sub(v.lastSeen) > maxAge {
			delete(rl.visitors, key)
		}
	}
}

func (rl *rateLimiter) size() int {
	if rl == nil {
		return 0
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.visitors)
}

// run периодически чистит неактивных клиентов до отмены контекста.
func (rl *rateLimiter) run(ctx context.Context) {
	if rl == nil {
		return
	}
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.cleanupStale(maxVisitorAge)
		case <-ctx.Done():
			return
		}
	}
}
