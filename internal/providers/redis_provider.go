package providers

import "github.com/go-redis/redis/v8"

// NewRedisProvider returns a raw client for concerns that sit beside the
// document store, such as the shared parse rate limiter.
func NewRedisProvider(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr})
}
