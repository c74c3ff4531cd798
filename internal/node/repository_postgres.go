package node

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/lib/pq"
)

// PostgreSQL error codes the repository maps onto domain errors.
const (
	pgUniqueViolation = "23505"
	pgCheckViolation  = "23514"

	// activeIndexName is the partial unique index backing the active-node rule.
	activeIndexName = "idx_nodes_one_active_per_account"
)

// PostgresRepository implements Repository using PostgreSQL.
//
// metadata is stored as json text, which keeps key order. Read-modify-write sequences lock the row
// with SELECT ... FOR UPDATE, and the active-node check takes a
// transaction-scoped advisory lock keyed by account, so two activations
// for the same account serialise even when they touch different rows.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a new PostgreSQL-backed repository.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID retrieves a node by its unique identifier.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Node, error) {
	return pgGet(ctx, r.db, id, false)
}

// ListAll retrieves every node regardless of status.
func (r *PostgresRepository) ListAll(ctx context.Context) ([]Node, error) {
	query := `
		SELECT ` + nodeColumns + `
		FROM nodes
		ORDER BY created_at, id`

	return pgQueryNodes(ctx, r.db, query)
}

// Search returns one page of matching nodes and the total match count.
func (r *PostgresRepository) Search(ctx context.Context, f Filter, page, size int) ([]Node, int, error) {
	where, args := searchWhere(f, pgPlaceholder)

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM nodes "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting nodes: %w", err)
	}
	if total == 0 {
		return []Node{}, 0, nil
	}

	query := `
		SELECT ` + nodeColumns + `
		FROM nodes
		` + where + `
		ORDER BY created_at, id
		LIMIT ` + pgPlaceholder(len(args)+1) + ` OFFSET ` + pgPlaceholder(len(args)+2) //nolint:gosec // placeholders only

	nodes, err := pgQueryNodes(ctx, r.db, query, append(args, size, (page-1)*size)...)
	if err != nil {
		return nil, 0, err
	}
	return nodes, total, nil
}

// FindActiveForAccount returns the account's active node, or nil.
func (r *PostgresRepository) FindActiveForAccount(ctx context.Context, accountID string) (*Node, error) {
	return pgFindActive(ctx, r.db, accountID)
}

// Create inserts a new node, checking the active-node rule under the
// account's advisory lock.
func (r *PostgresRepository) Create(ctx context.Context, n *Node) error {
	metadata, err := n.Metadata.encodeStorage()
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if n.Status == StatusActive {
		if err := pgCheckActive(ctx, tx, n.AccountID, n.ID); err != nil {
			return err
		}
	}

	query := `
		INSERT INTO nodes (` + nodeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err = tx.ExecContext(ctx, query,
		n.ID,
		n.AccountID,
		n.Name,
		nullableString(n.MACAddress),
		nullableInt64(n.FirmwareVersion),
		nullableText(metadata),
		n.TopicPub,
		n.TopicSub,
		nullableString(n.Message),
		pgNullableTime(n.LastSeen),
		int(n.Status),
		n.CreatedAt.UTC(),
		n.UpdatedAt.UTC(),
	)
	if err != nil {
		return pgWriteError("inserting node", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing node insert: %w", err)
	}
	return nil
}

// Mutate applies fn to the row-locked node inside one transaction.
func (r *PostgresRepository) Mutate(ctx context.Context, id string, fn MutateFunc) (*Node, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	n, err := pgGet(ctx, tx, id, true)
	if err != nil {
		return nil, err
	}

	if err := fn(n); err != nil {
		return nil, err
	}

	if n.Status == StatusActive {
		if err := pgCheckActive(ctx, tx, n.AccountID, id); err != nil {
			return nil, err
		}
	}

	metadata, err := n.Metadata.encodeStorage()
	if err != nil {
		return nil, err
	}

	query := `
		UPDATE nodes SET
			account_id = $1, name = $2, mac_address = $3, firmware_version = $4,
			metadata = $5, topic_pub = $6, topic_sub = $7, status = $8, updated_at = $9
		WHERE id = $10`

	_, err = tx.ExecContext(ctx, query,
		n.AccountID,
		n.Name,
		nullableString(n.MACAddress),
		nullableInt64(n.FirmwareVersion),
		nullableText(metadata),
		n.TopicPub,
		n.TopicSub,
		int(n.Status),
		n.UpdatedAt.UTC(),
		id,
	)
	if err != nil {
		return nil, pgWriteError("updating node", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing node update: %w", err)
	}
	return n, nil
}

// RecordMessage stores an inbound payload without touching other fields.
func (r *PostgresRepository) RecordMessage(ctx context.Context, id, payload string, seenAt time.Time) (*Node, error) {
	query := `
		UPDATE nodes SET message = $1, last_seen = $2, updated_at = $2
		WHERE id = $3
		RETURNING ` + nodeColumns

	n, err := scanPostgresNode(r.db.QueryRowContext(ctx, query, payload, seenAt.UTC(), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNodeNotFound
		}
		return nil, fmt.Errorf("recording node message: %w", err)
	}
	return n, nil
}

// pgCheckActive takes the account's advisory lock and fails when another
// node of the account is active. The lock is released at commit/rollback.
func pgCheckActive(ctx context.Context, tx *sql.Tx, accountID, excludeID string) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, accountID); err != nil {
		return fmt.Errorf("locking account: %w", err)
	}

	found, err := pgFindActive(ctx, tx, accountID)
	if err != nil {
		return err
	}
	if activeConflict(found, excludeID) {
		return ErrActiveNodeExists
	}
	return nil
}

func pgGet(ctx context.Context, q querier, id string, forUpdate bool) (*Node, error) {
	query := `
		SELECT ` + nodeColumns + `
		FROM nodes
		WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	n, err := scanPostgresNode(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNodeNotFound
		}
		return nil, fmt.Errorf("querying node by id: %w", err)
	}
	return n, nil
}

func pgFindActive(ctx context.Context, q querier, accountID string) (*Node, error) {
	query := `
		SELECT ` + nodeColumns + `
		FROM nodes
		WHERE account_id = $1 AND status = $2
		ORDER BY created_at, id
		LIMIT 1`

	n, err := scanPostgresNode(q.QueryRowContext(ctx, query, accountID, int(StatusActive)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil //nolint:nilnil // no active node is not an error
		}
		return nil, fmt.Errorf("querying active node: %w", err)
	}
	return n, nil
}

func pgQueryNodes(ctx context.Context, q querier, query string, args ...any) ([]Node, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying nodes: %w", err)
	}
	defer rows.Close()

	nodes := []Node{}
	for rows.Next() {
		n, err := scanPostgresNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning node: %w", err)
		}
		nodes = append(nodes, *n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating nodes: %w", err)
	}

	return nodes, nil
}

// scanPostgresNode scans a row or rows result into a Node.
func scanPostgresNode(scanner rowScanner) (*Node, error) {
	var n Node
	var mac, metadata, message sql.NullString
	var firmware sql.NullInt64
	var lastSeen sql.NullTime
	var status int

	err := scanner.Scan(
		&n.ID,
		&n.AccountID,
		&n.Name,
		&mac,
		&firmware,
		&metadata,
		&n.TopicPub,
		&n.TopicSub,
		&message,
		&lastSeen,
		&status,
		&n.CreatedAt,
		&n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	n.Status = Status(status)
	n.CreatedAt = n.CreatedAt.UTC()
	n.UpdatedAt = n.UpdatedAt.UTC()
	if mac.Valid {
		n.MACAddress = &mac.String
	}
	if firmware.Valid {
		n.FirmwareVersion = &firmware.Int64
	}
	if message.Valid {
		n.Message = &message.String
	}
	if lastSeen.Valid {
		t := lastSeen.Time.UTC()
		n.LastSeen = &t
	}

	if metadata.Valid {
		n.Metadata, err = ParseMetadata([]byte(metadata.String))
		if err != nil {
			return nil, fmt.Errorf("unmarshalling metadata: %w", err)
		}
	}

	return &n, nil
}

// pgWriteError maps constraint failures onto domain errors.
func pgWriteError(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pgUniqueViolation:
			if pqErr.Constraint == activeIndexName {
				return ErrActiveNodeExists
			}
			return ErrNodeExists
		case pgCheckViolation:
			return fmt.Errorf("%w: %s", ErrInvalidStatus, pqErr.Message)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func pgPlaceholder(n int) string {
	return "$" + strconv.Itoa(n)
}

func pgNullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
