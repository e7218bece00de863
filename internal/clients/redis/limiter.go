package redis

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/truenorthhq/truenorth-backend/internal/platform/envutil"
	"github.com/truenorthhq/truenorth-backend/internal/platform/logger"
)

// RateLimiter caps chat turns per user over a fixed window. Exceeding it
// maps to HTTP 429 at the handler; there is no server-side backoff.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Close() error
}

type rateLimiter struct {
	log    *logger.Logger
	rdb    *goredis.Client
	limit  int
	window time.Duration
	prefix string
}

func NewRateLimiter(log *logger.Logger) (RateLimiter, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &rateLimiter{
		log:    log.With("client", "RedisRateLimiter"),
		rdb:    rdb,
		limit:  envutil.Int("CHAT_RATE_LIMIT", 20),
		window: envutil.Seconds("CHAT_RATE_WINDOW", 60*time.Second),
		prefix: envutil.Str("CHAT_RATE_PREFIX", "chat_rate"),
	}, nil
}

func (l *rateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if l == nil || l.rdb == nil {
		return true, nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return false, fmt.Errorf("missing rate limit key")
	}

	bucket := fmt.Sprintf("%s:%s:%d", l.prefix, key, time.Now().Unix()/int64(l.window.Seconds()))

	n, err := l.rdb.Incr(ctx, bucket).Result()
	if err != nil {
		return false, fmt.Errorf("redis incr: %w", err)
	}
	if n == 1 {
		if err := l.rdb.Expire(ctx, bucket, l.window).Err(); err != nil {
			l.log.Warn("rate bucket expire failed", "error", err)
		}
	}
	return n <= int64(l.limit), nil
}

func (l *rateLimiter) Close() error {
	if l == nil || l.rdb == nil {
		return nil
	}
	return l.rdb.Close()
}
