package keychain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache fronts the keychain table with a Redis layer so every replica
// resolving the same execution's tasks shares one kind-dispatch flow
// instead of each hitting KMS and the credential source independently.
type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func cacheKey(catalogID int64, executionID *int64, name string) string {
	if executionID != nil {
		return fmt.Sprintf("keychain:%d:%d:%s", catalogID, *executionID, name)
	}
	return fmt.Sprintf("keychain:%d:shared:%s", catalogID, name)
}

// Get returns the cached payload, if present and unexpired.
func (c *Cache) Get(ctx context.Context, catalogID int64, executionID *int64, name string) (map[string]interface{}, bool) {
	if c.client == nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, cacheKey(catalogID, executionID, name)).Bytes()
	if err != nil {
		return nil, false
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, false
	}
	return payload, true
}

// Set caches a resolved payload until expiresAt.
func (c *Cache) Set(ctx context.Context, catalogID int64, executionID *int64, name string, payload map[string]interface{}, expiresAt time.Time) error {
	if c.client == nil {
		return nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("keychain: marshal cache payload: %w", err)
	}
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	return c.client.Set(ctx, cacheKey(catalogID, executionID, name), raw, ttl).Err()
}

// Invalidate removes a cached entry, used after an auto-renew sweep rewrites it.
func (c *Cache) Invalidate(ctx context.Context, catalogID int64, executionID *int64, name string) error {
	if c.client == nil {
		return nil
	}
	return c.client.Del(ctx, cacheKey(catalogID, executionID, name)).Err()
}
