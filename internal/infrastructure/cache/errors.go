package cache

import "errors"

// Sentinel errors for Redis cache operations.
var (
	// ErrDisabled indicates the Redis cache is disabled in config.
	ErrDisabled = errors.New("cache: disabled in configuration")

	// ErrConnectionFailed indicates the initial ping failed.
	ErrConnectionFailed = errors.New("cache: connection failed")

	// ErrCorruptEntry indicates a cached value could not be decoded.
	ErrCorruptEntry = errors.New("cache: corrupt entry")
)
