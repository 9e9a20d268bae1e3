// Package cache provides user-profile storage for the feature extractor.
package cache

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// New creates a profile cache based on configuration.
// Community tier: in-process LRU. Pro tier: Redis, shared across nodes.
func New(cfg domain.CacheConfig) (domain.ProfileCache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil

	case "redis":
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}
