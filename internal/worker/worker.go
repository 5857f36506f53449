package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/noetl/noetl-sub007/internal/config"
	"github.com/noetl/noetl-sub007/internal/eventlog"
	"github.com/noetl/noetl-sub007/internal/jobqueue"
)

// Worker runs a fixed-size pool of lease/execute/report loops against a
// control plane's HTTP queue endpoints, grounded on gorax's
// internal/worker/worker.go processLoop — concurrency-many goroutines, each
// polling for work and falling back to a short sleep when none is
// available, rather than a single shared blocking call.
type Worker struct {
	id     string
	client *Client
	logger *slog.Logger

	concurrency  int
	leaseSeconds int
	pollInterval time.Duration
	heartbeat    time.Duration

	wg sync.WaitGroup

	leasedTotal    atomic.Int64
	completedTotal atomic.Int64
	failedTotal    atomic.Int64
}

// New builds a Worker from cfg.Worker. id is this replica's worker id;
// callers that want a stable identity across restarts can pass one, or
// leave empty to have New generate a uuid-based one, the way jobqueue's
// worker_id column expects a free-form string.
func New(cfg config.WorkerConfig, id string, client *Client, logger *slog.Logger) *Worker {
	if id == "" {
		id = "worker-" + uuid.NewString()
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Worker{
		id:           id,
		client:       client,
		logger:       logger,
		concurrency:  concurrency,
		leaseSeconds: cfg.LeaseSeconds,
		pollInterval: time.Duration(cfg.PollInterval) * time.Second,
		heartbeat:    time.Duration(cfg.HeartbeatInterval) * time.Second,
	}
}

// Start launches the worker pool and blocks until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("starting worker pool", "worker_id", w.id, "concurrency", w.concurrency)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.processLoop(ctx, i)
	}

	<-ctx.Done()
	return ctx.Err()
}

// Wait blocks until every loop goroutine has returned.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) processLoop(ctx context.Context, slot int) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		entry, err := w.client.Lease(ctx, fmt.Sprintf("%s-%d", w.id, slot), w.leaseSeconds)
		if err != nil {
			if errors.Is(err, ErrNoWork) {
				sleep(ctx, w.pollInterval)
				continue
			}
			w.logger.Error("lease request failed", "error", err, "worker_id", w.id)
			sleep(ctx, w.pollInterval)
			continue
		}

		w.leasedTotal.Add(1)
		w.process(ctx, entry)
	}
}

// process runs the leased entry's action to completion and reports the
// outcome. It is a boundary demo, not a plugin dispatcher: the "execution"
// here is a stand-in that always succeeds, echoing the action back as the
// step result, so the lease -> event -> complete round trip can be
// exercised without a real plugin runtime.
func (w *Worker) process(ctx context.Context, entry *jobqueue.Entry) {
	stepName := stepNameFromNodeID(entry.NodeID)

	if err := w.client.EmitEvent(ctx, EmitEvent{
		ExecutionID: entry.ExecutionID,
		CatalogID:   entry.CatalogID,
		EventType:   string(eventlog.EventActionStarted),
		NodeID:      entry.NodeID,
		NodeName:    stepName,
		Status:      eventlog.StatusRunning,
	}); err != nil {
		w.logger.Error("failed to post action_started", "error", err, "queue_id", entry.QueueID)
	}

	stop := w.startHeartbeat(ctx, entry.QueueID)
	result, execErr := w.execute(ctx, entry)
	stop()

	if execErr != nil {
		w.report(ctx, entry, stepName, execErr)
		return
	}

	if err := w.client.EmitEvent(ctx, EmitEvent{
		ExecutionID: entry.ExecutionID,
		CatalogID:   entry.CatalogID,
		EventType:   string(eventlog.EventActionCompleted),
		NodeID:      entry.NodeID,
		NodeName:    stepName,
		Status:      eventlog.StatusCompleted,
		Result:      result,
	}); err != nil {
		w.logger.Error("failed to post action_completed", "error", err, "queue_id", entry.QueueID)
	}

	if err := w.client.Complete(ctx, entry.QueueID); err != nil {
		w.logger.Error("failed to mark queue entry complete", "error", err, "queue_id", entry.QueueID)
		return
	}
	w.completedTotal.Add(1)
}

// execute stands in for a plugin runtime: it decodes the leased action and
// returns it unchanged as the result, so downstream transitions have
// something non-empty to render against.
func (w *Worker) execute(ctx context.Context, entry *jobqueue.Entry) (map[string]interface{}, error) {
	var action map[string]interface{}
	if len(entry.Action) > 0 {
		if err := json.Unmarshal(entry.Action, &action); err != nil {
			return nil, fmt.Errorf("decode action: %w", err)
		}
	}
	return map[string]interface{}{"echoed_action": action}, nil
}

func (w *Worker) report(ctx context.Context, entry *jobqueue.Entry, stepName string, execErr error) {
	if err := w.client.EmitEvent(ctx, EmitEvent{
		ExecutionID: entry.ExecutionID,
		CatalogID:   entry.CatalogID,
		EventType:   string(eventlog.EventActionError),
		NodeID:      entry.NodeID,
		NodeName:    stepName,
		Status:      eventlog.StatusFailed,
		Error:       execErr.Error(),
	}); err != nil {
		w.logger.Error("failed to post action_error", "error", err, "queue_id", entry.QueueID)
	}

	retry := entry.Attempts < entry.MaxAttempts
	if err := w.client.Fail(ctx, entry.QueueID, retry, 0, execErr.Error()); err != nil {
		w.logger.Error("failed to report queue entry failure", "error", err, "queue_id", entry.QueueID)
		return
	}
	w.failedTotal.Add(1)
}

// startHeartbeat runs a background ticker that extends entry's lease until
// the returned stop func is called.
func (w *Worker) startHeartbeat(ctx context.Context, queueID int64) func() {
	if w.heartbeat <= 0 {
		return func() {}
	}
	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(w.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := w.client.Heartbeat(hbCtx, queueID, w.leaseSeconds); err != nil {
					w.logger.Warn("heartbeat failed", "error", err, "queue_id", queueID)
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// Stats reports the pool's lifetime counters, surfaced by HealthServer.
func (w *Worker) Stats() (leased, completed, failed int64) {
	return w.leasedTotal.Load(), w.completedTotal.Load(), w.failedTotal.Load()
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		d = time.Second
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// stepNameFromNodeID extracts the step name half of a "executionID:step"
// node id, matching internal/execution/completion.go's stepNameFromNodeID.
func stepNameFromNodeID(nodeID string) string {
	if idx := strings.Index(nodeID, ":"); idx >= 0 {
		return nodeID[idx+1:]
	}
	return nodeID
}
