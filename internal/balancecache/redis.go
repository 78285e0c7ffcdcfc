package balancecache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"
	entitlementdomain "github.com/smallbiznis/entitle/internal/entitlement/domain"
	"go.uber.org/zap"
)

// redisCache stores one redis hash per customer so a single DEL invalidates
// every view the customer owns.
type redisCache struct {
	client *redis.Client
	log    *zap.Logger
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, log *zap.Logger, ttl time.Duration) BalanceCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &redisCache{
		client: client,
		log:    log.Named("balance.cache"),
		ttl:    ttl,
	}
}

func (c *redisCache) Get(ctx context.Context, orgID, customerID, entityID, featureID string) ([]entitlementdomain.BalanceView, bool) {
	raw, err := c.client.HGet(ctx, customerKey(orgID, customerID), fieldKey(entityID, featureID)).Result()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn("cache read failed", zap.Error(err))
		}
		return nil, false
	}

	var views []entitlementdomain.BalanceView
	if err := json.Unmarshal([]byte(raw), &views); err != nil {
		return nil, false
	}
	return views, true
}

func (c *redisCache) Set(ctx context.Context, orgID, customerID, entityID, featureID string, views []entitlementdomain.BalanceView) {
	payload, err := json.Marshal(views)
	if err != nil {
		return
	}

	key := customerKey(orgID, customerID)
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, key, fieldKey(entityID, featureID), payload)
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Warn("cache write failed", zap.Error(err))
	}
}

func (c *redisCache) InvalidateCustomer(ctx context.Context, orgID, customerID string) {
	if err := c.client.Del(ctx, customerKey(orgID, customerID)).Err(); err != nil {
		c.log.Warn("cache invalidate failed", zap.Error(err))
	}
}
