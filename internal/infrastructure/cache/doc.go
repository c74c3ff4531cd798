// Package cache provides a Redis-backed node cache for NodeLink Core.
//
// It implements node.Cache on top of redis/go-redis v9 so several NodeLink
// replicas can share one read-through cache in front of the registry
// database. Nodes are stored as JSON under KeyPrefix+id with the configured
// TTL; a missing key is a cache miss, not an error.
//
// # Usage
//
//	c, err := cache.Connect(ctx, cfg.Redis)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Close()
//
//	registry.SetCache(c)
//
// The registry never fails an operation because of a cache error; it logs
// the failure and reads the database instead.
package cache
