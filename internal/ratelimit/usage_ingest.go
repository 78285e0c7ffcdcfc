package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
)

const keyUsageIngestOrg = "usage:report:org:%s"

const (
	defaultIngestRate  = 200.0
	defaultIngestBurst = 400
)

// UsageIngestLimiter throttles per-org usage reports. A nil limiter allows
// everything, so wiring redis stays optional.
type UsageIngestLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewUsageIngestLimiter(client *redis.Client) *UsageIngestLimiter {
	if client == nil {
		return nil
	}
	return &UsageIngestLimiter{
		bucket: NewTokenBucket(client),
		rate:   defaultIngestRate,
		burst:  defaultIngestBurst,
	}
}

func (l *UsageIngestLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *UsageIngestLimiter) AllowOrg(ctx context.Context, orgID string) (bool, error) {
	if !l.Enabled() {
		return true, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyUsageIngestOrg, strings.TrimSpace(orgID)), l.rate, l.burst)
}
