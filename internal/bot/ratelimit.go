package bot

import (
	"sync"
	"time"
)

// RateLimiter throttles each user per action in memory. The admin is never limited.
type RateLimiter struct {
	mu       sync.Mutex
	lastCall map[int64]map[string]time.Time
	limits   map[string]time.Duration
	fallback time.Duration
	adminID  int64
	now      func() time.Time
}

func NewRateLimiter(adminID int64) *RateLimiter {
	return &RateLimiter{
		lastCall: make(map[int64]map[string]time.Time),
		limits: map[string]time.Duration{
			"/start":        2 * time.Second,
			"test_vpn":      10 * time.Second,
			"new_subscribe": 5 * time.Second,
			"renew":         5 * time.Second,
			"my_keys":       3 * time.Second,
		},
		fallback: time.Second,
		adminID:  adminID,
		now:      time.Now,
	}
}

// IsLimited reports whether the user called action too recently. A call that is not
// limited is recorded.
func (r *RateLimiter) IsLimited(userID int64, action string) bool {
	if r.adminID != 0 && userID == r.adminID {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if r.lastCall[userID] == nil {
		r.lastCall[userID] = make(map[string]time.Time)
	}
	limit, ok := r.limits[action]
	if !ok {
		limit = r.fallback
	}
	if last, seen := r.lastCall[userID][action]; seen && now.Sub(last) < limit {
		return true
	}
	r.lastCall[userID][action] = now
	return false
}

// Forget drops entries older than maxAge so the map does not grow with every user ever seen.
func (r *RateLimiter) Forget(maxAge time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-maxAge)
	for user, calls := range r.lastCall {
		for action, at := range calls {
			if at.Before(cutoff) {
				delete(calls, action)
			}
		}
		if len(calls) == 0 {
			delete(r.lastCall, user)
		}
	}
}
