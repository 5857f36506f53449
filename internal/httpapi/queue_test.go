package httpapi

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/noetl/noetl-sub007/internal/jobqueue"
)

func queueEntryCols() []string {
	return []string{
		"queue_id", "execution_id", "catalog_id", "node_id", "action", "context",
		"priority", "status", "attempts", "max_attempts", "available_at",
		"worker_id", "lease_until", "last_heartbeat", "created_at",
	}
}

func TestHandleQueueLeaseNoWorkReturns204(t *testing.T) {
	ts := newTestServer(t)
	ts.mock.ExpectQuery(`UPDATE queue_entries`).WillReturnRows(sqlmock.NewRows(queueEntryCols()))

	req := httptest.NewRequest("POST", "/queue/lease", strings.NewReader(`{"worker_id": "w1"}`))
	rec := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(rec, req)

	require.Equal(t, 204, rec.Code)
	require.Empty(t, rec.Body.String())
}

func TestHandleQueueLeaseReturnsJob(t *testing.T) {
	ts := newTestServer(t)
	ts.mock.ExpectQuery(`UPDATE queue_entries`).WillReturnRows(sqlmock.NewRows(queueEntryCols()).AddRow(
		int64(1), int64(7), int64(100), "7:a", []byte(`{}`), []byte(`{}`),
		5, string(jobqueue.StatusLeased), 1, 3, time.Now(), "w1", time.Now(), time.Now(), time.Now(),
	))

	req := httptest.NewRequest("POST", "/queue/lease", strings.NewReader(`{"worker_id": "w1"}`))
	rec := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code, rec.Body.String())
	require.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestHandleQueueLeaseRequiresWorkerID(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest("POST", "/queue/lease", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(rec, req)

	require.Equal(t, 400, rec.Code)
}

func TestHandleQueueSizeDefaultsToQueued(t *testing.T) {
	ts := newTestServer(t)
	ts.mock.ExpectQuery(`SELECT count\(\*\) FROM queue_entries WHERE status = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	req := httptest.NewRequest("GET", "/queue/size", nil)
	rec := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	require.JSONEq(t, `{"status":"queued","count":3}`, rec.Body.String())
}

func TestHandleQueueHeartbeatInvalidID(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest("POST", "/queue/not-a-number/heartbeat", nil)
	rec := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(rec, req)

	require.Equal(t, 400, rec.Code)
}
