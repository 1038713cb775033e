package ratelimiter

import (
	"sync"
	"time"
)

// FixedWindowRateLimiter counts inbound updates per Telegram user and
// forgets a user one window after their first update.
type FixedWindowRateLimiter struct {
	sync.RWMutex
	clients map[int64]int // user id -> updates in the current window
	limit   int
	window  time.Duration
}

func NewFixedWindowLimiter(limit int, window time.Duration) *FixedWindowRateLimiter {
	return &FixedWindowRateLimiter{
		clients: make(map[int64]int),
		limit:   limit,
		window:  window,
	}
}

func (rl *FixedWindowRateLimiter) Allow(userID int64) (bool, time.Duration) {
	rl.Lock()
	defer rl.Unlock()

	count, exists := rl.clients[userID]
	if exists && count >= rl.limit {
		return false, rl.window
	}

	if !exists {
		time.AfterFunc(rl.window, func() { rl.reset(userID) })
	}
	rl.clients[userID]++
	return true, 0
}

func (rl *FixedWindowRateLimiter) reset(userID int64) {
	rl.Lock()
	delete(rl.clients, userID)
	rl.Unlock()
}
