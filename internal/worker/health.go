package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// HealthServer exposes liveness/readiness endpoints for the worker
// process, grounded on gorax's internal/worker/health.go.
type HealthServer struct {
	worker *Worker
	server *http.Server
}

// HealthResponse is the /health response body.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Leased    int64     `json:"leased_total"`
	Completed int64     `json:"completed_total"`
	Failed    int64     `json:"failed_total"`
}

// NewHealthServer wires a health server bound to ":port".
func NewHealthServer(w *Worker, port string) *HealthServer {
	hs := &HealthServer{worker: w}

	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", hs.handleLive)
	mux.HandleFunc("/health/ready", hs.handleReady)
	mux.HandleFunc("/health", hs.handleHealth)

	hs.server = &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return hs
}

// Start blocks serving health checks until Shutdown is called.
func (hs *HealthServer) Start() error {
	return hs.server.ListenAndServe()
}

// Shutdown gracefully stops the health server.
func (hs *HealthServer) Shutdown(ctx context.Context) error {
	return hs.server.Shutdown(ctx)
}

func (hs *HealthServer) handleLive(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (hs *HealthServer) handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (hs *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	leased, completed, failed := hs.worker.Stats()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Leased:    leased,
		Completed: completed,
		Failed:    failed,
	})
}
