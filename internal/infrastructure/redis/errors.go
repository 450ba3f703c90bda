package redis

import "errors"

// Sentinel errors for Redis operations.
//
// These errors can be checked using errors.Is() for specific handling:
//
//	if errors.Is(err, redis.ErrNotConnected) {
//	    // Handle disconnected state
//	}
var (
	// ErrNotConnected indicates the client is not connected to Redis.
	ErrNotConnected = errors.New("redis: not connected")

	// ErrConnectionFailed indicates the initial connection attempt failed.
	ErrConnectionFailed = errors.New("redis: connection failed")
)
