package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noetl/noetl-sub007/internal/jobqueue"
)

func TestClientLeaseReturnsErrNoWorkOn204(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, http.DefaultTransport)
	entry, err := client.Lease(context.Background(), "worker-1", 60)
	assert.Nil(t, entry)
	assert.ErrorIs(t, err, ErrNoWork)
}

func TestClientLeaseDecodesJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/queue/lease", r.URL.Path)
		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "worker-1", req["worker_id"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "ok",
			"job": jobqueue.Entry{
				QueueID:     42,
				ExecutionID: 7,
				CatalogID:   3,
				NodeID:      "7:fetch",
				Action:      json.RawMessage(`{"type":"http_request"}`),
			},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, http.DefaultTransport)
	entry, err := client.Lease(context.Background(), "worker-1", 60)
	require.NoError(t, err)
	assert.Equal(t, int64(42), entry.QueueID)
	assert.Equal(t, "7:fetch", entry.NodeID)
}

func TestClientCompleteSurfacesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, http.DefaultTransport)
	err := client.Complete(context.Background(), 42)
	assert.Error(t, err)
}

func TestClientEmitEventPostsExpectedBody(t *testing.T) {
	var captured EmitEvent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/events", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, http.DefaultTransport)
	err := client.EmitEvent(context.Background(), EmitEvent{
		ExecutionID: 7,
		CatalogID:   3,
		EventType:   "action_completed",
		NodeID:      "7:fetch",
		Status:      "COMPLETED",
	})
	require.NoError(t, err)
	assert.Equal(t, "action_completed", captured.EventType)
	assert.Equal(t, int64(7), captured.ExecutionID)
}
