package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/redis/go-redis/v9"
)

// RedisCache implements ProfileCache using Redis. Used in the pro tier
// so profiles and velocity counters are shared across scoring nodes.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new Redis cache.
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// GetProfile retrieves a stored profile. Returns nil, nil on miss.
func (c *RedisCache) GetProfile(ctx context.Context, userID string) (*domain.UserProfile, error) {
	if userID == "" {
		return nil, fmt.Errorf("userID is required")
	}

	val, err := c.client.Get(ctx, profileKey(userID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var profile domain.UserProfile
	if err := json.Unmarshal(val, &profile); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}
	return &profile, nil
}

// SetProfile stores a profile with TTL.
func (c *RedisCache) SetProfile(ctx context.Context, userID string, profile *domain.UserProfile, ttl time.Duration) error {
	if userID == "" {
		return fmt.Errorf("userID is required")
	}
	if profile == nil {
		return fmt.Errorf("profile is required")
	}

	bytes, err := json.Marshal(profile)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, profileKey(userID), bytes, ttl).Err()
}

// IncrementCounter atomically increments a counter using Redis INCR with EXPIRE.
func (c *RedisCache) IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error) {
	if key == "" {
		return 0, fmt.Errorf("key is required")
	}

	// Lua script for atomic increment with TTL on first touch
	script := redis.NewScript(`
		local current = redis.call('INCR', KEYS[1])
		if current == 1 then
			redis.call('PEXPIRE', KEYS[1], ARGV[1])
		end
		return current
	`)

	result, err := script.Run(ctx, c.client, []string{counterKey(key)}, window.Milliseconds()).Int64()
	if err != nil {
		return 0, err
	}

	return result, nil
}

// Ping checks Redis connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func profileKey(userID string) string {
	return "kestrel:profile:" + userID
}

func counterKey(key string) string {
	return "kestrel:counter:" + key
}
