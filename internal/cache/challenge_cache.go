package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ChallengeData is a pending 3-D Secure challenge awaiting the payer.
type ChallengeData struct {
	ChargeID string    `json:"chargeId"`
	HTML     string    `json:"html"`
	CachedAt time.Time `json:"cachedAt"`
}

// ChallengeCache holds 3-D Secure challenge pages in Redis between the
// gateway returning them and the frontend collecting them. Challenges are
// short-lived by nature; the TTL matches the window gateways give the payer
// to complete the flow.
type ChallengeCache struct {
	redis *RedisClient
	ttl   time.Duration
}

// NewChallengeCache creates a new ChallengeCache.
func NewChallengeCache(redis *RedisClient, ttl time.Duration) *ChallengeCache {
	return &ChallengeCache{redis: redis, ttl: ttl}
}

func (c *ChallengeCache) key(chargeID string) string {
	return fmt.Sprintf("challenge:3ds:%s", chargeID)
}

// StoreChallenge stores the challenge page for a charge.
func (c *ChallengeCache) StoreChallenge(ctx context.Context, chargeID, html string) error {
	data := ChallengeData{ChargeID: chargeID, HTML: html, CachedAt: time.Now()}
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal challenge data: %w", err)
	}
	if err := c.redis.Set(ctx, c.key(chargeID), string(jsonData), c.ttl); err != nil {
		return fmt.Errorf("failed to store challenge: %w", err)
	}
	return nil
}

// FetchChallenge returns the stored challenge page for a charge. The entry
// stays until it expires so a reloaded payment page can fetch it again.
func (c *ChallengeCache) FetchChallenge(ctx context.Context, chargeID string) (string, error) {
	jsonData, err := c.redis.Get(ctx, c.key(chargeID))
	if err != nil {
		return "", err
	}
	var data ChallengeData
	if err := json.Unmarshal([]byte(jsonData), &data); err != nil {
		return "", fmt.Errorf("failed to unmarshal challenge data: %w", err)
	}
	return data.HTML, nil
}
