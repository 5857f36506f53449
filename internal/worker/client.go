// Package worker is the reference lease/execute/complete loop that talks to
// the control plane's HTTP queue endpoints — a boundary demo, not a plugin
// executor: it proves the queue/event contract round-trips, the way
// gorax's internal/worker/worker.go polls its own executions table, but
// over HTTP against cmd/server rather than a second direct database
// connection, since this engine's worker is meant to run as its own
// replica set.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/noetl/noetl-sub007/internal/jobqueue"
)

// Client is the worker-facing subset of cmd/server's HTTP API: lease,
// heartbeat, complete, fail and event emission.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient wires a Client against baseURL using transport (already wrapped
// with tracing.HTTPClientMiddleware by the caller, if tracing is enabled).
func NewClient(baseURL string, transport http.RoundTripper) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Transport: transport, Timeout: 30 * time.Second},
	}
}

// ErrNoWork mirrors jobqueue.ErrNoWork for the HTTP boundary: the control
// plane reports "nothing leasable" as 204 No Content, not an error status.
var ErrNoWork = jobqueue.ErrNoWork

// Lease claims the next available job for workerID, or ErrNoWork if the
// queue is empty right now.
func (c *Client) Lease(ctx context.Context, workerID string, leaseSeconds int) (*jobqueue.Entry, error) {
	body, err := json.Marshal(map[string]interface{}{
		"worker_id":     workerID,
		"lease_seconds": leaseSeconds,
	})
	if err != nil {
		return nil, fmt.Errorf("worker: marshal lease request: %w", err)
	}

	resp, err := c.post(ctx, "/queue/lease", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, ErrNoWork
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("lease", resp)
	}

	var payload struct {
		Job jobqueue.Entry `json:"job"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("worker: decode lease response: %w", err)
	}
	return &payload.Job, nil
}

// Heartbeat extends queueID's lease and records liveness.
func (c *Client) Heartbeat(ctx context.Context, queueID int64, extendSeconds int) error {
	body, err := json.Marshal(map[string]interface{}{"extend_seconds": extendSeconds})
	if err != nil {
		return fmt.Errorf("worker: marshal heartbeat request: %w", err)
	}
	resp, err := c.post(ctx, fmt.Sprintf("/queue/%d/heartbeat", queueID), body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError("heartbeat", resp)
	}
	return nil
}

// EmitEvent posts a worker-reported event (action_completed, action_error,
// ...), matching emitEventRequest in internal/httpapi/execution.go.
type EmitEvent struct {
	ExecutionID int64                  `json:"execution_id"`
	CatalogID   int64                  `json:"catalog_id"`
	EventType   string                 `json:"event_type"`
	NodeID      string                 `json:"node_id"`
	NodeName    string                 `json:"node_name"`
	NodeType    string                 `json:"node_type"`
	Status      string                 `json:"status"`
	Result      map[string]interface{} `json:"result,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

// EmitEvent appends ev through the control plane's generic event endpoint.
func (c *Client) EmitEvent(ctx context.Context, ev EmitEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("worker: marshal event: %w", err)
	}
	resp, err := c.post(ctx, "/events", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return statusError("emit event", resp)
	}
	return nil
}

// Complete marks queueID done and triggers broker re-evaluation.
func (c *Client) Complete(ctx context.Context, queueID int64) error {
	resp, err := c.post(ctx, fmt.Sprintf("/queue/%d/complete", queueID), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError("complete", resp)
	}
	return nil
}

// Fail reports a worker-side failure for queueID.
func (c *Client) Fail(ctx context.Context, queueID int64, retry bool, retryDelaySeconds int, lastError string) error {
	body, err := json.Marshal(map[string]interface{}{
		"retry":               retry,
		"retry_delay_seconds": retryDelaySeconds,
		"error":               lastError,
	})
	if err != nil {
		return fmt.Errorf("worker: marshal fail request: %w", err)
	}
	resp, err := c.post(ctx, fmt.Sprintf("/queue/%d/fail", queueID), body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError("fail", resp)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("worker: build request %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("worker: request %s: %w", path, err)
	}
	return resp, nil
}

func statusError(op string, resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("worker: %s failed: %s: %s", op, resp.Status, string(b))
}
