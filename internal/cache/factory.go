package cache

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/darkcode/darkcode-server/internal/config"
)

// New selects a cache backend from the configuration. When the redis
// backend is configured but unreachable the server degrades to the
// memory backend instead of refusing to start; admin sessions then
// simply do not survive restarts.
func New(cfg config.Config, logger zerolog.Logger) Cache {
	switch cfg.CacheBackend {
	case BackendRedis:
		c, err := NewRedis(cfg.Redis, logger)
		if err != nil {
			logger.Warn().
				Err(err).
				Str("event", "cache.redis_fallback").
				Str("addr", cfg.Redis.Addr).
				Msg("redis unavailable, falling back to in-memory cache")
			return NewMemory(time.Minute)
		}
		return c
	default:
		return NewMemory(time.Minute)
	}
}
