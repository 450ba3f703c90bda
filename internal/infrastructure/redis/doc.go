// Package redis provides Redis connectivity for MealBridge Core.
//
// It wraps the go-redis v9 library with the connection management and
// health monitoring patterns used by the other infrastructure packages.
//
// # Purpose
//
// Redis backs the ephemeral token blacklist: revoked bearer tokens are
// stored with a TTL matching their remaining lifetime so the store stays
// bounded in size and self-cleaning.
//
// # Usage
//
//	client, err := redis.Connect(cfg.Redis)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	blacklist := auth.NewRedisBlacklist(client.Unwrap())
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying go-redis client maintains its own connection pool.
package redis
