package balancecache

import (
	"context"
	"sync"
	"time"

	entitlementdomain "github.com/smallbiznis/entitle/internal/entitlement/domain"
)

type memoryEntry struct {
	views     []entitlementdomain.BalanceView
	expiresAt time.Time
}

type memoryCache struct {
	mu        sync.RWMutex
	customers map[string]map[string]memoryEntry
	ttl       time.Duration
}

// NewMemoryCache returns an in-process balance cache.
func NewMemoryCache(ttl time.Duration) BalanceCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &memoryCache{
		customers: make(map[string]map[string]memoryEntry),
		ttl:       ttl,
	}
}

func (c *memoryCache) Get(_ context.Context, orgID, customerID, entityID, featureID string) ([]entitlementdomain.BalanceView, bool) {
	key := customerKey(orgID, customerID)
	field := fieldKey(entityID, featureID)

	c.mu.RLock()
	fields, ok := c.customers[key]
	var entry memoryEntry
	if ok {
		entry, ok = fields[field]
	}
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		if fields, exists := c.customers[key]; exists {
			delete(fields, field)
		}
		c.mu.Unlock()
		return nil, false
	}
	return entry.views, true
}

func (c *memoryCache) Set(_ context.Context, orgID, customerID, entityID, featureID string, views []entitlementdomain.BalanceView) {
	key := customerKey(orgID, customerID)
	field := fieldKey(entityID, featureID)

	c.mu.Lock()
	fields, ok := c.customers[key]
	if !ok {
		fields = make(map[string]memoryEntry)
		c.customers[key] = fields
	}
	fields[field] = memoryEntry{views: views, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}

func (c *memoryCache) InvalidateCustomer(_ context.Context, orgID, customerID string) {
	c.mu.Lock()
	delete(c.customers, customerKey(orgID, customerID))
	c.mu.Unlock()
}
