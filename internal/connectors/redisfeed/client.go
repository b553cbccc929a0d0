package redisfeed

import (
	"github.com/redis/go-redis/v9"
	"github.com/you/flash-arb/internal/config"
)

// NewClient builds the shared Redis client from config.
func NewClient(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		DB:       cfg.Redis.DB,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
	})
}

// quoteKey is quote:<venue>:<base>:<quote> with hex addresses in checksum form.
func quoteKey(ns, venue, base, quote string) string {
	return ns + venue + ":" + base + ":" + quote
}
