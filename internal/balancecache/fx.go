package balancecache

import (
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/entitle/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewFromConfig picks the redis backend when a client is available and falls
// back to the in-process cache otherwise.
func NewFromConfig(cfg config.Config, client *redis.Client, log *zap.Logger) BalanceCache {
	ttl := time.Duration(cfg.Cache.TTLSeconds) * time.Second
	if client != nil {
		return NewRedisCache(client, log, ttl)
	}
	return NewMemoryCache(ttl)
}

var Module = fx.Module("balance.cache",
	fx.Provide(NewFromConfig),
)
