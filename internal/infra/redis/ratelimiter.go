package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/playrelay/push-dispatch/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultSendsPerSec int64 = 100
	waitStep                 = 10 * time.Millisecond
	waitStepMax              = 50 * time.Millisecond
	windowSeconds            = 1
)

// allowScript implements a fixed one-second counting window. The key embeds
// the unix second, so the counter and its TTL roll over together.
var allowScript = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
  return 0
end
return 1
`)

var _ ratelimit.RateLimiter = (*RateLimiter)(nil)

// RateLimiter is a Redis-backed per-platform send limiter, shared across
// all dispatch workers (and instances, if the service is scaled out).
type RateLimiter struct {
	client      *goredis.Client
	sendsPerSec int64
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewRateLimiter(client *goredis.Client, sendsPerSec int) (*RateLimiter, error) {
	return newRateLimiter(client, int64(sendsPerSec), time.Now, sleepWithContext)
}

func newRateLimiter(
	client *goredis.Client,
	sendsPerSec int64,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*RateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if sendsPerSec <= 0 {
		sendsPerSec = defaultSendsPerSec
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &RateLimiter{
		client:      client,
		sendsPerSec: sendsPerSec,
		now:         nowFn,
		sleep:       sleepFn,
	}, nil
}

func (r *RateLimiter) Allow(ctx context.Context, platform string) (bool, error) {
	if r == nil || r.client == nil {
		return false, fmt.Errorf("rate limiter is not initialized")
	}

	normalized := strings.ToLower(strings.TrimSpace(platform))
	if normalized == "" {
		return false, fmt.Errorf("platform is required")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	key := fmt.Sprintf("push:ratelimit:%s:%d", normalized, r.now().UTC().Unix())
	result, err := allowScript.Run(ctx, r.client, []string{key}, r.sendsPerSec, windowSeconds).Int()
	if err != nil {
		return false, fmt.Errorf("failed to evaluate rate limit: %w", err)
	}

	return result == 1, nil
}

func (r *RateLimiter) Wait(ctx context.Context, platform string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	wait := waitStep
	for {
		allowed, err := r.Allow(ctx, platform)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		if err := r.sleep(ctx, wait); err != nil {
			return err
		}

		wait += waitStep
		if wait > waitStepMax {
			wait = waitStepMax
		}
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
