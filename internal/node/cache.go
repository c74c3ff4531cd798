package node

import (
	"context"
	"sync"
)

// Cache is a read-through store of nodes keyed by ID, consulted by the
// Registry before the Repository. Implementations must return copies that
// callers can modify freely.
//
// A cache failure never fails a registry operation; the Registry logs it
// and falls back to the Repository.
type Cache interface {
	// Get returns the cached node and whether it was present.
	Get(ctx context.Context, id string) (*Node, bool, error)

	// Set stores the node, replacing any previous entry.
	Set(ctx context.Context, n *Node) error

	// Delete removes the entry for id, if any.
	Delete(ctx context.Context, id string) error
}

// MemoryCache is the default in-process Cache. It stores deep copies so
// neither the caller nor the cache can observe the other's mutations.
type MemoryCache struct {
	mu    sync.RWMutex
	nodes map[string]*Node
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{nodes: make(map[string]*Node)}
}

// Get returns a deep copy of the cached node.
func (c *MemoryCache) Get(_ context.Context, id string) (*Node, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n, ok := c.nodes[id]
	if !ok {
		return nil, false, nil
	}
	return n.DeepCopy(), true, nil
}

// Set stores a deep copy of n.
func (c *MemoryCache) Set(_ context.Context, n *Node) error {
	if n == nil {
		return nil
	}

	c.mu.Lock()
	c.nodes[n.ID] = n.DeepCopy()
	c.mu.Unlock()
	return nil
}

// Delete removes the entry for id.
func (c *MemoryCache) Delete(_ context.Context, id string) error {
	c.mu.Lock()
	delete(c.nodes, id)
	c.mu.Unlock()
	return nil
}

// Len returns the number of cached nodes.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.nodes)
}
