package middleware

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/hierenlab/hieren-api/utils/cache"
	"github.com/hierenlab/hieren-api/utils/response"
)

// Failed-login throttling. Attempts are counted per IP inside a rolling
// window; crossing a threshold locks the IP out for progressively longer.
const (
	attemptKeyPrefix = "login:attempts:"
	lockKeyPrefix    = "login:lock:"
	attemptWindow    = 15 * time.Minute
)

// BruteForceProtection throttles failed logins through Redis. Every Redis
// failure fails open: a broken cache must not lock users out.
type BruteForceProtection struct {
	redisCache *cache.RedisCache
}

func NewBruteForceProtection(redisCache *cache.RedisCache) *BruteForceProtection {
	return &BruteForceProtection{redisCache: redisCache}
}

// CheckAndRecordAttempt rejects requests from currently locked IPs with a
// 429 and a Retry-After hint
func (b *BruteForceProtection) CheckAndRecordAttempt() fiber.Handler {
	return func(c *fiber.Ctx) error {
		lockKey := lockKeyPrefix + c.IP()

		locked, err := b.redisCache.Exists(c.Context(), lockKey)
		if err != nil {
			return c.Next()
		}
		if !locked {
			return c.Next()
		}

		ttl, _ := b.redisCache.TTL(c.Context(), lockKey)
		retryAfter := int(ttl.Seconds())
		if retryAfter < 0 {
			retryAfter = 60
		}

		c.Set("Retry-After", fmt.Sprintf("%d", retryAfter))
		return response.TooManyRequests(c, fmt.Sprintf("Too many failed attempts. Try again in %d seconds", retryAfter))
	}
}

// RecordFailedAttempt counts a failed login and applies the progressive
// lockout schedule
func (b *BruteForceProtection) RecordFailedAttempt(c *fiber.Ctx, ip, email string) error {
	ctx := c.Context()
	attemptKey := attemptKeyPrefix + ip

	attempts, err := b.redisCache.Increment(ctx, attemptKey)
	if err != nil {
		return nil
	}
	if attempts == 1 {
		b.redisCache.Expire(ctx, attemptKey, attemptWindow)
	}

	var lockDuration time.Duration
	switch {
	case attempts >= 25:
		lockDuration = 24 * time.Hour
	case attempts >= 10:
		lockDuration = time.Hour
	case attempts >= 5:
		lockDuration = 2 * time.Minute
	default:
		return nil
	}

	return b.redisCache.Set(ctx, lockKeyPrefix+ip, "locked", lockDuration)
}

// RecordSuccessfulAttempt clears the counter and any lock after a good login
func (b *BruteForceProtection) RecordSuccessfulAttempt(c *fiber.Ctx, ip string) error {
	ctx := c.Context()
	b.redisCache.Delete(ctx, attemptKeyPrefix+ip)
	b.redisCache.Delete(ctx, lockKeyPrefix+ip)
	return nil
}
