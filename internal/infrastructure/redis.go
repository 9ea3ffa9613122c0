package infrastructure

import (
	"context"
	"time"

	"chargeline/internal/lazy"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// newRedisHandle dials redis on first use. The connection is checked with a
// PING so a dead server is reported as a failed dial and retried later.
func newRedisHandle(addr string, logger *zap.Logger) *lazy.Handle[*redis.Client] {
	return lazy.New(func(ctx context.Context) (*redis.Client, error) {
		rdb := redis.NewClient(&redis.Options{
			Addr:        addr,
			DialTimeout: 5 * time.Second,
			ReadTimeout: 3 * time.Second,
		})

		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, err
		}

		logger.Info("connected to redis", zap.String("addr", addr))
		return rdb, nil
	}, (*redis.Client).Close)
}
