package node

import (
	"context"
	"fmt"
	"time"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry provides node management with caching and the
// one-active-node-per-account rule. It wraps a Repository.
//
// Writes to one node are serialised by a per-node lock, and writes that
// may activate a node also hold a per-account lock. The Repository repeats
// the account check inside its transaction, so the rule also holds across
// processes sharing a database.
//
// All public methods are thread-safe. No method holds a lock while calling
// anything other than the Repository and the Cache.
type Registry struct {
	repo   Repository
	cache  Cache
	locks  *keyedMutex
	logger Logger
	now    func() time.Time
}

// NewRegistry creates a new node registry backed by an in-memory cache.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  NewMemoryCache(),
		locks:  newKeyedMutex(),
		logger: noopLogger{},
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetCache replaces the read-through cache. Call before first use.
func (r *Registry) SetCache(cache Cache) {
	r.cache = cache
}

// Create validates the input and persists a new node.
//
// Status defaults to active and TopicSub defaults to the generated ID.
// Returns ErrActiveNodeExists when the node would be a second active node
// for its account.
func (r *Registry) Create(ctx context.Context, in Input) (*Node, error) {
	now := r.now()
	n := &Node{
		ID:        GenerateID(),
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	applyInput(n, in)

	if err := ValidateNode(n); err != nil {
		return nil, err
	}

	unlock := r.locks.Lock(accountLockKey(n.AccountID))
	err := r.repo.Create(ctx, n)
	unlock()
	if err != nil {
		return nil, err
	}

	r.cacheSet(ctx, n)
	r.logger.Info("node created", "id", n.ID, "account_id", n.AccountID, "status", n.Status.Text())
	return n.DeepCopy(), nil
}

// Get retrieves a node by ID.
// Returns ErrNodeNotFound if the node does not exist.
// The returned node is a copy; callers can safely modify it.
//
// A cache miss is filled under the node lock, the same lock every write
// holds while it commits and caches, so a snapshot read before a
// concurrent write can never replace the newer cache entry.
func (r *Registry) Get(ctx context.Context, id string) (*Node, error) {
	if n, ok := r.cacheGet(ctx, id); ok {
		return n, nil
	}

	unlock := r.locks.Lock(nodeLockKey(id))
	defer unlock()

	// A writer holding the lock may have cached a newer node meanwhile.
	if n, ok := r.cacheGet(ctx, id); ok {
		return n, nil
	}

	n, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	r.cacheSet(ctx, n)
	return n, nil
}

// Update replaces every mutable field of a node.
// A nil Input.Status keeps the stored status.
func (r *Registry) Update(ctx context.Context, id string, in Input) (*Node, error) {
	return r.mutate(ctx, id, in.AccountID, func(n *Node) error {
		applyInput(n, in)
		return ValidateNode(n)
	})
}

// Patch merges the set fields of p into the node.
func (r *Registry) Patch(ctx context.Context, id string, p Patch) (*Node, error) {
	var accountID string
	if p.AccountID != nil {
		accountID = *p.AccountID
	}

	return r.mutate(ctx, id, accountID, func(n *Node) error {
		applyPatch(n, p)
		return ValidateNode(n)
	})
}

// ChangeStatus sets the node's status. Activating a node whose account
// already has another active node returns ErrActiveNodeExists and leaves
// the stored node unchanged.
func (r *Registry) ChangeStatus(ctx context.Context, id string, status Status) (*Node, error) {
	if err := ValidateStatus(status); err != nil {
		return nil, err
	}

	return r.mutate(ctx, id, "", func(n *Node) error {
		n.Status = status
		return nil
	})
}

// SoftDelete marks the node deleted. Deleting a deleted node succeeds.
func (r *Registry) SoftDelete(ctx context.Context, id string) error {
	_, err := r.mutate(ctx, id, "", func(n *Node) error {
		n.Status = StatusDeleted
		return nil
	})
	return err
}

// Search returns one page of nodes ordered by creation time, then ID.
// Without a status filter, deleted nodes are excluded.
func (r *Registry) Search(ctx context.Context, f Filter, page, size int) (*Page, error) {
	if err := ValidatePage(page, size); err != nil {
		return nil, err
	}
	if err := ValidateFilter(f); err != nil {
		return nil, err
	}

	nodes, total, err := r.repo.Search(ctx, f, page, size)
	if err != nil {
		return nil, fmt.Errorf("searching nodes: %w", err)
	}

	return &Page{
		Items:      nodes,
		Page:       page,
		Size:       size,
		Total:      total,
		TotalPages: (total + size - 1) / size,
	}, nil
}

// FindActiveForAccount returns the account's active node, or nil when the
// account has none.
func (r *Registry) FindActiveForAccount(ctx context.Context, accountID string) (*Node, error) {
	if err := ValidateAccountID(accountID); err != nil {
		return nil, err
	}
	return r.repo.FindActiveForAccount(ctx, accountID)
}

// GetByAccount returns the account's active node.
// Returns ErrNodeNotFound when the account has none.
func (r *Registry) GetByAccount(ctx context.Context, accountID string) (*Node, error) {
	n, err := r.FindActiveForAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, fmt.Errorf("%w: no active node for account %q", ErrNodeNotFound, accountID)
	}
	return n, nil
}

// ListAll returns every node regardless of status.
func (r *Registry) ListAll(ctx context.Context) ([]Node, error) {
	return r.repo.ListAll(ctx)
}

// ListDevices returns the node's sub-devices.
func (r *Registry) ListDevices(ctx context.Context, id string) ([]SubDevice, error) {
	n, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return ListDevices(n), nil
}

// AddDevice adds a sub-device to the node.
// Returns ErrSubDeviceExists if the name is taken (case-insensitive).
func (r *Registry) AddDevice(ctx context.Context, id, name, kind string) (*Node, error) {
	return r.mutate(ctx, id, "", func(n *Node) error {
		return AddDevice(n, name, kind)
	})
}

// RemoveDevice removes a sub-device from the node. Removing an absent
// sub-device succeeds.
func (r *Registry) RemoveDevice(ctx context.Context, id, name string) (*Node, error) {
	return r.mutate(ctx, id, "", func(n *Node) error {
		RemoveDevice(n, name)
		return nil
	})
}

// UpdateDevice renames and/or retypes a sub-device. Empty newName or
// newKind leave that field unchanged. A missing sub-device is not an error.
func (r *Registry) UpdateDevice(ctx context.Context, id, name, newName, newKind string) (*Node, error) {
	return r.mutate(ctx, id, "", func(n *Node) error {
		if !RenameOrRetype(n, name, newName, newKind) {
			r.logger.Debug("sub-device update changed nothing", "id", id, "name", name)
		}
		return nil
	})
}

// RecordMessage stores an inbound payload and the time it was seen.
// Only message, last_seen and updated_at are written.
func (r *Registry) RecordMessage(ctx context.Context, id, payload string, seenAt time.Time) (*Node, error) {
	unlock := r.locks.Lock(nodeLockKey(id))
	defer unlock()

	n, err := r.repo.RecordMessage(ctx, id, payload, seenAt.UTC())
	if err != nil {
		return nil, err
	}

	r.cacheSet(ctx, n)
	return n.DeepCopy(), nil
}

// mutate runs a read-modify-write of one node under its node lock and the
// lock of every account the node belongs to before or after the change.
// extraAccount is the account an Update or Patch moves the node to, if any.
func (r *Registry) mutate(ctx context.Context, id, extraAccount string, fn MutateFunc) (*Node, error) {
	unlockNode := r.locks.Lock(nodeLockKey(id))
	defer unlockNode()

	current, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	keys := []string{accountLockKey(current.AccountID)}
	if extraAccount != "" {
		keys = append(keys, accountLockKey(extraAccount))
	}
	unlockAccounts := r.locks.Lock(keys...)
	defer unlockAccounts()

	n, err := r.repo.Mutate(ctx, id, func(n *Node) error {
		if err := fn(n); err != nil {
			return err
		}
		n.UpdatedAt = r.now()
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.cacheSet(ctx, n)
	r.logger.Debug("node updated", "id", n.ID, "status", n.Status.Text())
	return n.DeepCopy(), nil
}

func (r *Registry) cacheGet(ctx context.Context, id string) (*Node, bool) {
	n, ok, err := r.cache.Get(ctx, id)
	if err != nil {
		r.logger.Warn("node cache read failed", "id", id, "error", err)
		return nil, false
	}
	return n, ok
}

func (r *Registry) cacheSet(ctx context.Context, n *Node) {
	if err := r.cache.Set(ctx, n); err != nil {
		r.logger.Warn("node cache write failed", "id", n.ID, "error", err)
		if err := r.cache.Delete(ctx, n.ID); err != nil {
			r.logger.Warn("node cache invalidate failed", "id", n.ID, "error", err)
		}
	}
}
