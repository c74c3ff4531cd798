package node

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pgColumns = []string{
	"id", "account_id", "name", "mac_address", "firmware_version", "metadata",
	"topic_pub", "topic_sub", "message", "last_seen", "status", "created_at", "updated_at",
}

func setupMockPostgres(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PostgresRepository) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	return db, mock, NewPostgresRepository(db)
}

func pgNodeRow(id, account string, status Status, at time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(pgColumns).AddRow(
		id, account, "Hub", nil, int64(3), []byte(`{"devices":[{"name":"light","type":"switch"}]}`),
		"", id, nil, nil, int64(status), at, at,
	)
}

func q(query string) string { return regexp.QuoteMeta(query) }

func expectActiveCheck(mock sqlmock.Sqlmock, account string, rows *sqlmock.Rows) {
	mock.ExpectExec(q(`SELECT pg_advisory_xact_lock(hashtext($1))`)).
		WithArgs(account).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(q(`WHERE account_id = $1 AND status = $2`)).
		WithArgs(account, int(StatusActive)).
		WillReturnRows(rows)
}

func TestPostgresRepository_CreateActive(t *testing.T) {
	_, mock, repo := setupMockPostgres(t)
	n := testNode("n-1", "acct-1", StatusActive)

	mock.ExpectBegin()
	expectActiveCheck(mock, "acct-1", sqlmock.NewRows(pgColumns))
	mock.ExpectExec(q(`INSERT INTO nodes`)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Create(context.Background(), n))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_CreateInactiveSkipsLock(t *testing.T) {
	_, mock, repo := setupMockPostgres(t)

	mock.ExpectBegin()
	mock.ExpectExec(q(`INSERT INTO nodes`)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Create(context.Background(), testNode("n-1", "acct-1", StatusInactive)))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_CreateConflict(t *testing.T) {
	_, mock, repo := setupMockPostgres(t)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	expectActiveCheck(mock, "acct-1", pgNodeRow("other", "acct-1", StatusActive, at))
	mock.ExpectRollback()

	err := repo.Create(context.Background(), testNode("n-1", "acct-1", StatusActive))
	assert.ErrorIs(t, err, ErrActiveNodeExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_CreateConstraintErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"active index", &pq.Error{Code: pgUniqueViolation, Constraint: activeIndexName}, ErrActiveNodeExists},
		{"primary key", &pq.Error{Code: pgUniqueViolation, Constraint: "nodes_pkey"}, ErrNodeExists},
		{"status check", &pq.Error{Code: pgCheckViolation, Message: "violates check"}, ErrInvalidStatus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, mock, repo := setupMockPostgres(t)

			mock.ExpectBegin()
			mock.ExpectExec(q(`INSERT INTO nodes`)).WillReturnError(tt.err)
			mock.ExpectRollback()

			err := repo.Create(context.Background(), testNode("n-1", "acct-1", StatusInactive))
			assert.ErrorIs(t, err, tt.want)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresRepository_GetByID(t *testing.T) {
	_, mock, repo := setupMockPostgres(t)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(q(`FROM nodes WHERE id = $1`)).
		WithArgs("n-1").
		WillReturnRows(pgNodeRow("n-1", "acct-1", StatusActive, at))

	n, err := repo.GetByID(context.Background(), "n-1")
	require.NoError(t, err)
	assert.Equal(t, "acct-1", n.AccountID)
	assert.Equal(t, StatusActive, n.Status)
	assert.Equal(t, int64(3), *n.FirmwareVersion)
	assert.Nil(t, n.Message)
	assert.True(t, n.CreatedAt.Equal(at))
	assert.Equal(t, []SubDevice{{Name: "light", Type: "switch"}}, ListDevices(n))

	mock.ExpectQuery(q(`FROM nodes WHERE id = $1`)).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err = repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNodeNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_MutateLocksRowAndAccount(t *testing.T) {
	_, mock, repo := setupMockPostgres(t)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(q(`WHERE id = $1 FOR UPDATE`)).
		WithArgs("n-1").
		WillReturnRows(pgNodeRow("n-1", "acct-1", StatusInactive, at))
	expectActiveCheck(mock, "acct-1", sqlmock.NewRows(pgColumns))
	mock.ExpectExec(q(`UPDATE nodes SET`)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	n, err := repo.Mutate(context.Background(), "n-1", func(n *Node) error {
		n.Status = StatusActive
		n.UpdatedAt = at.Add(time.Minute)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, StatusActive, n.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_MutateConflictRollsBack(t *testing.T) {
	_, mock, repo := setupMockPostgres(t)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(q(`WHERE id = $1 FOR UPDATE`)).
		WithArgs("n-1").
		WillReturnRows(pgNodeRow("n-1", "acct-1", StatusInactive, at))
	expectActiveCheck(mock, "acct-1", pgNodeRow("n-2", "acct-1", StatusActive, at))
	mock.ExpectRollback()

	_, err := repo.Mutate(context.Background(), "n-1", func(n *Node) error {
		n.Status = StatusActive
		return nil
	})
	assert.ErrorIs(t, err, ErrActiveNodeExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_MutateNotFound(t *testing.T) {
	_, mock, repo := setupMockPostgres(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q(`FOR UPDATE`)).WithArgs("missing").WillReturnRows(sqlmock.NewRows(pgColumns))
	mock.ExpectRollback()

	_, err := repo.Mutate(context.Background(), "missing", func(*Node) error {
		t.Error("fn called for a missing node")
		return nil
	})
	assert.ErrorIs(t, err, ErrNodeNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_RecordMessage(t *testing.T) {
	_, mock, repo := setupMockPostgres(t)
	seen := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	row := sqlmock.NewRows(pgColumns).AddRow(
		"n-1", "acct-1", "Hub", nil, nil, nil,
		"", "n-1", "21.5", seen, int64(StatusActive), seen.Add(-time.Hour), seen,
	)
	mock.ExpectQuery(q(`UPDATE nodes SET message = $1, last_seen = $2, updated_at = $2 WHERE id = $3 RETURNING`)).
		WithArgs("21.5", seen, "n-1").
		WillReturnRows(row)

	n, err := repo.RecordMessage(context.Background(), "n-1", "21.5", seen)
	require.NoError(t, err)
	require.NotNil(t, n.Message)
	assert.Equal(t, "21.5", *n.Message)
	require.NotNil(t, n.LastSeen)
	assert.True(t, n.LastSeen.Equal(seen))
	assert.True(t, n.Metadata.IsZero())

	mock.ExpectQuery(q(`UPDATE nodes SET message`)).
		WithArgs("x", seen, "missing").
		WillReturnRows(sqlmock.NewRows(pgColumns))

	_, err = repo.RecordMessage(context.Background(), "missing", "x", seen)
	assert.ErrorIs(t, err, ErrNodeNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_Search(t *testing.T) {
	_, mock, repo := setupMockPostgres(t)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	filter := Filter{AccountID: "acct-1", Name: "Hub_"}

	mock.ExpectQuery(q(`SELECT COUNT(*) FROM nodes WHERE account_id = $1 AND LOWER(name) LIKE $2 ESCAPE '\' AND status <> 0`)).
		WithArgs("acct-1", `%hub\_%`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(q(`ORDER BY created_at, id LIMIT $3 OFFSET $4`)).
		WithArgs("acct-1", `%hub\_%`, 2, 2).
		WillReturnRows(pgNodeRow("n-3", "acct-1", StatusActive, at))

	nodes, total, err := repo.Search(context.Background(), filter, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, nodes, 1)
	assert.Equal(t, "n-3", nodes[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_SearchEmptySkipsPageQuery(t *testing.T) {
	_, mock, repo := setupMockPostgres(t)

	mock.ExpectQuery(q(`SELECT COUNT(*) FROM nodes WHERE status = $1`)).
		WithArgs(int(StatusInactive)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	nodes, total, err := repo.Search(context.Background(), Filter{Status: StatusPtr(StatusInactive)}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.NotNil(t, nodes)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgWriteError_PassesThroughOtherErrors(t *testing.T) {
	cause := errors.New("connection reset")
	err := pgWriteError("updating node", cause)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrConflict)
}
