package node

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for node persistence operations.
//
// Implementations own the one-active-node-per-account check: Create and
// Mutate run it inside the same transaction as the write, so the Registry's
// in-process lock is not the only thing standing between two concurrent
// activations.
type Repository interface {
	// GetByID retrieves a node by its unique identifier.
	// Returns ErrNodeNotFound if the node does not exist.
	GetByID(ctx context.Context, id string) (*Node, error)

	// ListAll retrieves every node regardless of status, oldest first.
	ListAll(ctx context.Context) ([]Node, error)

	// Search returns one page of nodes matching the filter and the total
	// number of matches. Arguments are assumed to be validated.
	Search(ctx context.Context, f Filter, page, size int) ([]Node, int, error)

	// FindActiveForAccount returns the account's active node, or nil.
	FindActiveForAccount(ctx context.Context, accountID string) (*Node, error)

	// Create inserts a new node. When the node is active and its account
	// already has an active node it returns ErrActiveNodeExists.
	Create(ctx context.Context, n *Node) error

	// Mutate loads the node inside a transaction, applies fn and writes the
	// result back. If the result is active, the account check runs with the
	// node itself excluded. An error from fn aborts without writing.
	Mutate(ctx context.Context, id string, fn MutateFunc) (*Node, error)

	// RecordMessage updates only message, last_seen and updated_at.
	RecordMessage(ctx context.Context, id, payload string, seenAt time.Time) (*Node, error)
}

// MutateFunc changes a node loaded by Repository.Mutate.
type MutateFunc func(n *Node) error

// nodeColumns is the column list every node query selects, in scan order.
const nodeColumns = `id, account_id, name, mac_address, firmware_version, metadata,
			topic_pub, topic_sub, message, last_seen, status, created_at, updated_at`

// querier is the subset of *sql.DB and *sql.Tx the repositories use, so
// lookups can run inside or outside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// searchWhere builds the WHERE clause and arguments for a filter.
// placeholder renders the n-th (1-based) bind parameter for the dialect.
func searchWhere(f Filter, placeholder func(n int) string) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, placeholder(len(args))))
	}
	contains := func(column, value string) {
		if value == "" {
			return
		}
		add("LOWER("+column+") LIKE %s ESCAPE '\\'", "%"+escapeLike(strings.ToLower(value))+"%")
	}

	if f.AccountID != "" {
		add("account_id = %s", f.AccountID)
	}
	contains("name", f.Name)
	contains("mac_address", f.MACAddress)
	contains("topic_pub", f.TopicPub)
	contains("topic_sub", f.TopicSub)
	if f.FirmwareVersion != nil {
		add("firmware_version = %s", *f.FirmwareVersion)
	}
	if f.Status != nil {
		add("status = %s", int(*f.Status))
	} else {
		clauses = append(clauses, fmt.Sprintf("status <> %d", int(StatusDeleted)))
	}

	return "WHERE " + strings.Join(clauses, " AND "), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// activeConflict reports whether found blocks activating excludeID.
func activeConflict(found *Node, excludeID string) bool {
	return found != nil && found.ID != excludeID
}
