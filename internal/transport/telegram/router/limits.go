package router

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/time/rate"
)

// UserLimits hands out one token bucket per user. Buckets of users who have
// been quiet for the TTL are evicted.
type UserLimits struct {
	cache *ttlcache.Cache[int64, *rate.Limiter]
	limit rate.Limit
	burst int
}

// NewUserLimits allows perMinute requests per user with the given burst.
// perMinute <= 0 disables limiting.
func NewUserLimits(perMinute, burst int, ttl time.Duration) *UserLimits {
	if perMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = perMinute
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &UserLimits{
		cache: ttlcache.New[int64, *rate.Limiter](
			ttlcache.WithTTL[int64, *rate.Limiter](ttl),
		),
		limit: rate.Limit(float64(perMinute) / 60),
		burst: burst,
	}
}

// Allow consumes one token for userID.
func (u *UserLimits) Allow(userID int64) bool {
	if u == nil {
		return true
	}
	item, _ := u.cache.GetOrSet(userID, rate.NewLimiter(u.limit, u.burst))
	return item.Value().Allow()
}

// Len is the number of users currently tracked.
func (u *UserLimits) Len() int {
	if u == nil {
		return 0
	}
	return u.cache.Len()
}

// DeleteExpired drops idle users. The app calls it periodically.
func (u *UserLimits) DeleteExpired() {
	if u != nil {
		u.cache.DeleteExpired()
	}
}
