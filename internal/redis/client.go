package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options configures the shared client. Zero values fall back to the defaults below.
type Options struct {
	Addr     string
	Username string
	Password string
	DB       int
	PoolSize int
	Timeout  time.Duration
}

func (o Options) redisOptions() *redis.Options {
	if o.PoolSize <= 0 {
		o.PoolSize = 10
	}
	if o.Timeout <= 0 {
		o.Timeout = 2 * time.Second
	}
	return &redis.Options{
		Addr:         o.Addr,
		Username:     o.Username,
		Password:     o.Password,
		DB:           o.DB,
		DialTimeout:  o.Timeout,
		ReadTimeout:  o.Timeout,
		WriteTimeout: o.Timeout,
		PoolSize:     o.PoolSize,
		MinIdleConns: 1,
	}
}

// NewClient connects and pings once so a bad address fails at startup
// instead of on the first OTP request.
func NewClient(ctx context.Context, opts Options) (*redis.Client, error) {
	rdb := redis.NewClient(opts.redisOptions())

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis %s: %w", opts.Addr, err)
	}
	return rdb, nil
}
