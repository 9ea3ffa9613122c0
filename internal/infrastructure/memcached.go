package infrastructure

import (
	"context"
	"time"

	"chargeline/internal/lazy"
	"chargeline/internal/storage/memcachestore"

	"github.com/bradfitz/gomemcache/memcache"
	"go.uber.org/zap"
)

func newMemcachedHandle(addr string, logger *zap.Logger) *lazy.Handle[memcachestore.Client] {
	return lazy.New(func(ctx context.Context) (memcachestore.Client, error) {
		mc := memcache.New(addr)
		mc.Timeout = 3 * time.Second
		mc.MaxIdleConns = 16

		if err := mc.Ping(); err != nil {
			return nil, err
		}

		logger.Info("connected to memcached", zap.String("addr", addr))
		return mc, nil
	}, nil)
}
