package jobqueue

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noetl/noetl-sub007/internal/idgen"
)

func setupTestQueue(t *testing.T) (*Queue, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "sqlmock")

	ids, err := idgen.NewGenerator(1)
	require.NoError(t, err)

	return NewQueue(sqlxDB, ids, nil), mock
}

func entryCols() []string {
	return []string{
		"queue_id", "execution_id", "catalog_id", "node_id", "action", "context",
		"priority", "status", "attempts", "max_attempts", "available_at",
		"worker_id", "lease_until", "last_heartbeat", "created_at",
	}
}

func TestEnqueueReturnsNewRow(t *testing.T) {
	q, mock := setupTestQueue(t)
	mock.ExpectQuery(`INSERT INTO queue_entries`).
		WillReturnRows(sqlmock.NewRows([]string{"queue_id"}).AddRow(int64(42)))

	id, created, err := q.Enqueue(context.Background(), 1, 2, "1:fetch", nil, nil, 0, 0)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(42), id)
}

func TestEnqueueDuplicateIsNoOp(t *testing.T) {
	q, mock := setupTestQueue(t)
	mock.ExpectQuery(`INSERT INTO queue_entries`).
		WillReturnRows(sqlmock.NewRows([]string{"queue_id"}))

	id, created, err := q.Enqueue(context.Background(), 1, 2, "1:fetch", nil, nil, 0, 0)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, int64(0), id)
}

func TestLeaseNoWork(t *testing.T) {
	q, mock := setupTestQueue(t)
	mock.ExpectQuery(`UPDATE queue_entries`).WillReturnRows(sqlmock.NewRows(entryCols()))

	_, err := q.Lease(context.Background(), "worker-1", 60)
	assert.ErrorIs(t, err, ErrNoWork)
}

func TestLeaseReturnsClaimedRow(t *testing.T) {
	q, mock := setupTestQueue(t)
	now := time.Now()
	mock.ExpectQuery(`UPDATE queue_entries`).
		WillReturnRows(sqlmock.NewRows(entryCols()).AddRow(
			int64(1), int64(100), int64(200), "100:fetch", []byte(`{}`), []byte(`{}`),
			5, string(StatusLeased), 1, 3, now,
			sql.NullString{String: "worker-1", Valid: true}, sql.NullTime{Time: now, Valid: true}, sql.NullTime{}, now,
		))

	entry, err := q.Lease(context.Background(), "worker-1", 60)
	require.NoError(t, err)
	assert.Equal(t, int64(1), entry.QueueID)
	assert.Equal(t, string(StatusLeased), entry.Status)
}

func TestFailGoesDeadAtMaxAttempts(t *testing.T) {
	q, mock := setupTestQueue(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT \* FROM queue_entries WHERE queue_id = \$1`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(entryCols()).AddRow(
			int64(1), int64(100), int64(200), "100:fetch", []byte(`{}`), []byte(`{}`),
			5, string(StatusLeased), 3, 3, now,
			sql.NullString{}, sql.NullTime{}, sql.NullTime{}, now,
		))

	mock.ExpectQuery(`UPDATE queue_entries SET status = \$1 WHERE queue_id = \$2`).
		WillReturnRows(sqlmock.NewRows(entryCols()).AddRow(
			int64(1), int64(100), int64(200), "100:fetch", []byte(`{}`), []byte(`{}`),
			5, string(StatusDead), 3, 3, now,
			sql.NullString{}, sql.NullTime{}, sql.NullTime{}, now,
		))

	entry, err := q.Fail(context.Background(), 1, true, 60, "boom")
	require.NoError(t, err)
	assert.Equal(t, string(StatusDead), entry.Status)
}

func TestFailRetriesWhenAttemptsRemain(t *testing.T) {
	q, mock := setupTestQueue(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT \* FROM queue_entries WHERE queue_id = \$1`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(entryCols()).AddRow(
			int64(1), int64(100), int64(200), "100:fetch", []byte(`{}`), []byte(`{}`),
			5, string(StatusLeased), 1, 3, now,
			sql.NullString{}, sql.NullTime{}, sql.NullTime{}, now,
		))

	mock.ExpectQuery(`UPDATE queue_entries`).
		WillReturnRows(sqlmock.NewRows(entryCols()).AddRow(
			int64(1), int64(100), int64(200), "100:fetch", []byte(`{}`), []byte(`{}`),
			5, string(StatusRetry), 1, 3, now,
			sql.NullString{}, sql.NullTime{}, sql.NullTime{}, now,
		))

	entry, err := q.Fail(context.Background(), 1, true, 60, "transient")
	require.NoError(t, err)
	assert.Equal(t, string(StatusRetry), entry.Status)
}

func TestReapReturnsAffectedCount(t *testing.T) {
	q, mock := setupTestQueue(t)
	mock.ExpectExec(`UPDATE queue_entries`).WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := q.Reap(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
