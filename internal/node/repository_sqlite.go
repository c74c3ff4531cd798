package node

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

// sqliteTimeFormat is fixed width so that text order equals time order.
const sqliteTimeFormat = "2006-01-02T15:04:05.000000Z"

// SQLiteRepository implements Repository using SQLite.
//
// The connection is expected to come from database.Open, which sets
// _txlock=immediate: every transaction takes the write lock when it
// begins, so the active-node check and the write that follows it cannot
// interleave with another writer.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetByID retrieves a node by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Node, error) {
	return sqliteGet(ctx, r.db, id)
}

// ListAll retrieves every node regardless of status.
func (r *SQLiteRepository) ListAll(ctx context.Context) ([]Node, error) {
	query := `
		SELECT ` + nodeColumns + `
		FROM nodes
		ORDER BY created_at, id`

	return sqliteQueryNodes(ctx, r.db, query)
}

// Search returns one page of matching nodes and the total match count.
func (r *SQLiteRepository) Search(ctx context.Context, f Filter, page, size int) ([]Node, int, error) {
	where, args := searchWhere(f, func(int) string { return "?" })

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
		LIMIT ? OFFSET ?`

	nodes, err := sqliteQueryNodes(ctx, r.db, query, append(args, size, (page-1)*size)...)
	if err != nil {
		return nil, 0, err
	}
	return nodes, total, nil
}

// FindActiveForAccount returns the account's active node, or nil.
func (r *SQLiteRepository) FindActiveForAccount(ctx context.Context, accountID string) (*Node, error) {
	return sqliteFindActive(ctx, r.db, accountID)
}

// Create inserts a new node, checking the active-node rule in the same
// transaction.
func (r *SQLiteRepository) Create(ctx context.Context, n *Node) error {
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
		found, err := sqliteFindActive(ctx, tx, n.AccountID)
		if err != nil {
			return err
		}
		if activeConflict(found, n.ID) {
			return ErrActiveNodeExists
		}
	}

	query := `
		INSERT INTO nodes (` + nodeColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

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
		sqliteNullableTime(n.LastSeen),
		int(n.Status),
		sqliteTime(n.CreatedAt),
		sqliteTime(n.UpdatedAt),
	)
	if err != nil {
		return sqliteWriteError("inserting node", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing node insert: %w", err)
	}
	return nil
}

// Mutate applies fn to the stored node inside one transaction.
func (r *SQLiteRepository) Mutate(ctx context.Context, id string, fn MutateFunc) (*Node, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	n, err := sqliteGet(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if err := fn(n); err != nil {
		return nil, err
	}

	if n.Status == StatusActive {
		found, err := sqliteFindActive(ctx, tx, n.AccountID)
		if err != nil {
			return nil, err
		}
		if activeConflict(found, id) {
			return nil, ErrActiveNodeExists
		}
	}

	metadata, err := n.Metadata.encodeStorage()
	if err != nil {
		return nil, err
	}

	query := `
		UPDATE nodes SET
			account_id = ?, name = ?, mac_address = ?, firmware_version = ?,
			metadata = ?, topic_pub = ?, topic_sub = ?, status = ?, updated_at = ?
		WHERE id = ?`

	_, err = tx.ExecContext(ctx, query,
		n.AccountID,
		n.Name,
		nullableString(n.MACAddress),
		nullableInt64(n.FirmwareVersion),
		nullableText(metadata),
		n.TopicPub,
		n.TopicSub,
		int(n.Status),
		sqliteTime(n.UpdatedAt),
		id,
	)
	if err != nil {
		return nil, sqliteWriteError("updating node", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing node update: %w", err)
	}
	return n, nil
}

// RecordMessage stores an inbound payload without touching other fields.
func (r *SQLiteRepository) RecordMessage(ctx context.Context, id, payload string, seenAt time.Time) (*Node, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	result, err := tx.ExecContext(ctx,
		`UPDATE nodes SET message = ?, last_seen = ?, updated_at = ? WHERE id = ?`,
		payload, sqliteTime(seenAt), sqliteTime(seenAt), id,
	)
	if err != nil {
		return nil, fmt.Errorf("recording node message: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, ErrNodeNotFound
	}

	n, err := sqliteGet(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing node message: %w", err)
	}
	return n, nil
}

func sqliteGet(ctx context.Context, q querier, id string) (*Node, error) {
	query := `
		SELECT ` + nodeColumns + `
		FROM nodes
		WHERE id = ?`

	n, err := scanSQLiteNode(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNodeNotFound
		}
		return nil, fmt.Errorf("querying node by id: %w", err)
	}
	return n, nil
}

func sqliteFindActive(ctx context.Context, q querier, accountID string) (*Node, error) {
	query := `
		SELECT ` + nodeColumns + `
		FROM nodes
		WHERE account_id = ? AND status = ?
		ORDER BY created_at, id
		LIMIT 1`

	n, err := scanSQLiteNode(q.QueryRowContext(ctx, query, accountID, int(StatusActive)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil //nolint:nilnil // no active node is not an error
		}
		return nil, fmt.Errorf("querying active node: %w", err)
	}
	return n, nil
}

func sqliteQueryNodes(ctx context.Context, q querier, query string, args ...any) ([]Node, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying nodes: %w", err)
	}
	defer rows.Close()

	nodes := []Node{}
	for rows.Next() {
		n, err := scanSQLiteNode(rows)
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

// scanSQLiteNode scans a row or rows result into a Node.
func scanSQLiteNode(scanner rowScanner) (*Node, error) {
	var n Node
	var mac, metadata, message, lastSeen sql.NullString
	var firmware sql.NullInt64
	var status int
	var createdAt, updatedAt string

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
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	n.Status = Status(status)
	if mac.Valid {
		n.MACAddress = &mac.String
	}
	if firmware.Valid {
		n.FirmwareVersion = &firmware.Int64
	}
	if message.Valid {
		n.Message = &message.String
	}

	if metadata.Valid {
		n.Metadata, err = ParseMetadata([]byte(metadata.String))
		if err != nil {
			return nil, fmt.Errorf("unmarshalling metadata: %w", err)
		}
	}

	if lastSeen.Valid {
		t, err := time.Parse(sqliteTimeFormat, lastSeen.String)
		if err == nil {
			n.LastSeen = &t
		}
	}

	n.CreatedAt, err = time.Parse(sqliteTimeFormat, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	n.UpdatedAt, err = time.Parse(sqliteTimeFormat, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &n, nil
}

// sqliteWriteError maps constraint failures onto domain errors.
func sqliteWriteError(op string, err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		switch {
		case sqliteErr.ExtendedCode == sqlite3.ErrConstraintCheck:
			return fmt.Errorf("%w: %s", ErrInvalidStatus, sqliteErr.Error())
		case strings.Contains(sqliteErr.Error(), "nodes.account_id"):
			return ErrActiveNodeExists
		case sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey,
			strings.Contains(sqliteErr.Error(), "nodes.id"):
			return ErrNodeExists
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func sqliteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeFormat)
}

// sqliteNullableTime returns a sql.NullString for optional time pointers.
func sqliteNullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: sqliteTime(*t), Valid: true}
}

// nullableString returns a sql.NullString for optional string pointers.
func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// nullableInt64 returns a sql.NullInt64 for optional integer pointers.
func nullableInt64(i *int64) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *i, Valid: true}
}

// nullableText returns a sql.NullString for an encoded document. SQLite
// STRICT tables reject a []byte bound to a TEXT column.
func nullableText(b []byte) sql.NullString {
	if b == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
