package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"safetrade-chat/internal/domain/conversation"
	"safetrade-chat/internal/domain/user"
)

// Key patterns:
//   - user:{user_id} profile, UserTTL
//   - listing:{listing_id} listing summary, ListingTTL
type CacheConfig struct {
	UserTTL    time.Duration
	ListingTTL time.Duration
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		UserTTL:    5 * time.Minute,
		ListingTTL: 5 * time.Minute,
	}
}

// CacheStore caches the display lookups served by the user service. A miss
// is reported as ok=false with a nil error.
type CacheStore struct {
	client *goredis.Client
	config CacheConfig
}

func NewCacheStore(client *goredis.Client, config CacheConfig) *CacheStore {
	if config.UserTTL <= 0 {
		config.UserTTL = DefaultCacheConfig().UserTTL
	}
	if config.ListingTTL <= 0 {
		config.ListingTTL = DefaultCacheConfig().ListingTTL
	}
	return &CacheStore{client: client, config: config}
}

func userCacheKey(userID string) string       { return fmt.Sprintf("user:%s", userID) }
func listingCacheKey(listingID string) string { return fmt.Sprintf("listing:%s", listingID) }

func (c *CacheStore) GetProfile(ctx context.Context, userID string) (user.Profile, bool, error) {
	var p user.Profile
	ok, err := c.get(ctx, userCacheKey(userID), &p)
	return p, ok, err
}

func (c *CacheStore) SetProfile(ctx context.Context, p user.Profile) error {
	return c.set(ctx, userCacheKey(p.ID), p, c.config.UserTTL)
}

func (c *CacheStore) InvalidateProfile(ctx context.Context, userID string) error {
	return c.client.Del(ctx, userCacheKey(userID)).Err()
}

func (c *CacheStore) GetListing(ctx context.Context, listingID string) (conversation.ListingSummary, bool, error) {
	var l conversation.ListingSummary
	ok, err := c.get(ctx, listingCacheKey(listingID), &l)
	return l, ok, err
}

func (c *CacheStore) SetListing(ctx context.Context, l conversation.ListingSummary) error {
	return c.set(ctx, listingCacheKey(l.ID), l, c.config.ListingTTL)
}

func (c *CacheStore) get(ctx context.Context, key string, v any) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		// a corrupt entry is treated as a miss and dropped
		_ = c.client.Del(ctx, key).Err()
		return false, nil
	}
	return true, nil
}

func (c *CacheStore) set(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}
