package database

import (
	"github.com/bradfitz/gomemcache/memcache"
	"github.com/redis/go-redis/v9"
)

// NewRedis connects the client used for membership-verdict caching and the
// indexed-record signal channel.
func NewRedis(addr string, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// NewMemcached connects the client caching immutable transaction bodies.
// Bodies are content-addressed by txid, so entries never need invalidation.
func NewMemcached(server string) *memcache.Client {
	return memcache.New(server)
}
