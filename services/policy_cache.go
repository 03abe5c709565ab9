// services/policy_cache.go
package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"referral-commission-service/models"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// PolicyCache holds the current policy between reads. Implementations must
// make Invalidate visible to the next Get of the same cache.
type PolicyCache interface {
	Get(ctx context.Context) (*models.CommissionPolicy, bool)
	Set(ctx context.Context, p *models.CommissionPolicy)
	Invalidate(ctx context.Context)
}

// MemoryPolicyCache is a process-local cache with a TTL. Other processes
// observe a replaced policy after at most TTL.
type MemoryPolicyCache struct {
	mu       sync.RWMutex
	ttl      time.Duration
	now      func() time.Time
	policy   *models.CommissionPolicy
	loadedAt time.Time
}

func NewMemoryPolicyCache(ttl time.Duration) *MemoryPolicyCache {
	return &MemoryPolicyCache{ttl: ttl, now: time.Now}
}

func (c *MemoryPolicyCache) Get(_ context.Context) (*models.CommissionPolicy, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.policy == nil || c.now().Sub(c.loadedAt) >= c.ttl {
		return nil, false
	}
	cp := *c.policy
	return &cp, true
}

func (c *MemoryPolicyCache) Set(_ context.Context, p *models.CommissionPolicy) {
	cp := *p
	c.mu.Lock()
	c.policy = &cp
	c.loadedAt = c.now()
	c.mu.Unlock()
}

func (c *MemoryPolicyCache) Invalidate(_ context.Context) {
	c.mu.Lock()
	c.policy = nil
	c.mu.Unlock()
}

const policyCacheKey = "referrals:commission_policy"

// RedisPolicyCache shares the cached policy between instances, so a replace
// is visible to all of them as soon as the key is deleted.
type RedisPolicyCache struct {
	client *redis.Client
	ttl    time.Duration
	log    logrus.FieldLogger
}

func NewRedisPolicyCache(client *redis.Client, ttl time.Duration, log logrus.FieldLogger) *RedisPolicyCache {
	return &RedisPolicyCache{client: client, ttl: ttl, log: log}
}

func (c *RedisPolicyCache) Get(ctx context.Context) (*models.CommissionPolicy, bool) {
	raw, err := c.client.Get(ctx, policyCacheKey).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.WithError(err).Warn("[POLICY] redis read failed, falling back to database")
		}
		return nil, false
	}
	var p models.CommissionPolicy
	if err := json.Unmarshal(raw, &p); err != nil {
		c.log.WithError(err).Warn("[POLICY] discarding undecodable cached policy")
		return nil, false
	}
	p.ID = models.PolicyRowID
	return &p, true
}

func (c *RedisPolicyCache) Set(ctx context.Context, p *models.CommissionPolicy) {
	raw, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, policyCacheKey, raw, c.ttl).Err(); err != nil {
		c.log.WithError(err).Warn("[POLICY] redis write failed")
	}
}

func (c *RedisPolicyCache) Invalidate(ctx context.Context) {
	if err := c.client.Del(ctx, policyCacheKey).Err(); err != nil {
		c.log.WithError(err).Error("[POLICY] redis invalidation failed; instances may serve the previous policy until TTL")
	}
}
