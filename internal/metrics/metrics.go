package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors exposed by the control plane and
// the reference worker.
type Metrics struct {
	// Execution metrics
	ExecutionsTotal  *prometheus.CounterVec
	ExecutionActive  *prometheus.GaugeVec
	ExecutionDuration *prometheus.HistogramVec

	// Step metrics
	StepsTotal   *prometheus.CounterVec
	StepDuration *prometheus.HistogramVec

	// Job queue metrics
	QueueDepth      *prometheus.GaugeVec
	LeaseLatency    *prometheus.HistogramVec
	ActiveWorkers   prometheus.Gauge
	ReapedJobsTotal prometheus.Counter

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Broker / render metrics
	BrokerEvaluationsTotal   *prometheus.CounterVec
	BrokerEvaluationDuration *prometheus.HistogramVec
	RenderEvaluationsTotal   *prometheus.CounterVec
	RenderCacheHitsTotal     prometheus.Counter
	RenderCacheMissesTotal   prometheus.Counter

	// Keychain metrics
	KeychainResolutionsTotal *prometheus.CounterVec
	KeychainCacheHitsTotal   prometheus.Counter
	KeychainCacheMissesTotal prometheus.Counter

	// Database metrics
	DBConnectionsOpen  *prometheus.GaugeVec
	DBConnectionsIdle  *prometheus.GaugeVec
	DBConnectionsInUse *prometheus.GaugeVec
	DBQueryDuration    *prometheus.HistogramVec
	DBQueriesTotal     *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all collectors initialized.
func NewMetrics() *Metrics {
	return &Metrics{
		ExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "noetl_executions_total",
				Help: "Total number of playbook executions by final status",
			},
			[]string{"catalog_path", "status"},
		),
		ExecutionActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "noetl_executions_active",
				Help: "Number of currently running executions",
			},
			[]string{"catalog_path"},
		),
		ExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "noetl_execution_duration_seconds",
				Help:    "Execution wall-clock duration in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 900},
			},
			[]string{"catalog_path"},
		),
		StepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "noetl_steps_total",
				Help: "Total number of step completions by type and status",
			},
			[]string{"step_type", "status"},
		),
		StepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "noetl_step_duration_seconds",
				Help:    "Step execution duration in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"step_type"},
		),
		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "noetl_queue_depth",
				Help: "Current job queue depth by status",
			},
			[]string{"status"},
		),
		LeaseLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "noetl_lease_latency_seconds",
				Help:    "Time between a job becoming available and being leased",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{},
		),
		ActiveWorkers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "noetl_active_workers",
				Help: "Number of workers currently holding a lease",
			},
		),
		ReapedJobsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "noetl_reaped_jobs_total",
				Help: "Total number of queue entries reclaimed after lease expiry",
			},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "noetl_http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "noetl_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		BrokerEvaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "noetl_broker_evaluations_total",
				Help: "Total number of broker evaluation passes by outcome",
			},
			[]string{"outcome"},
		),
		BrokerEvaluationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "noetl_broker_evaluation_duration_seconds",
				Help:    "Broker evaluation duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{},
		),
		RenderEvaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "noetl_render_evaluations_total",
				Help: "Total number of template/predicate evaluations by status",
			},
			[]string{"status"},
		),
		RenderCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "noetl_render_cache_hits_total",
				Help: "Total number of compiled-expression cache hits",
			},
		),
		RenderCacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "noetl_render_cache_misses_total",
				Help: "Total number of compiled-expression cache misses",
			},
		),
		KeychainResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "noetl_keychain_resolutions_total",
				Help: "Total number of keychain entry resolutions by kind and status",
			},
			[]string{"kind", "status"},
		),
		KeychainCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "noetl_keychain_cache_hits_total",
				Help: "Total number of keychain cache hits",
			},
		),
		KeychainCacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "noetl_keychain_cache_misses_total",
				Help: "Total number of keychain cache misses",
			},
		),
		DBConnectionsOpen: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "noetl_db_connections_open",
				Help: "Number of open database connections",
			},
			[]string{"pool"},
		),
		DBConnectionsIdle: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "noetl_db_connections_idle",
				Help: "Number of idle database connections",
			},
			[]string{"pool"},
		),
		DBConnectionsInUse: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "noetl_db_connections_in_use",
				Help: "Number of database connections in use",
			},
			[]string{"pool"},
		),
		DBQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "noetl_db_query_duration_seconds",
				Help:    "Database query duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"operation", "table"},
		),
		DBQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "noetl_db_queries_total",
				Help: "Total number of database queries by operation and status",
			},
			[]string{"operation", "table", "status"},
		),
	}
}

// Register registers all metrics with the provided registry.
func (m *Metrics) Register(registry *prometheus.Registry) error {
	collectors := []prometheus.Collector{
		m.ExecutionsTotal, m.ExecutionActive, m.ExecutionDuration,
		m.StepsTotal, m.StepDuration,
		m.QueueDepth, m.LeaseLatency, m.ActiveWorkers, m.ReapedJobsTotal,
		m.HTTPRequestsTotal, m.HTTPRequestDuration,
		m.BrokerEvaluationsTotal, m.BrokerEvaluationDuration,
		m.RenderEvaluationsTotal, m.RenderCacheHitsTotal, m.RenderCacheMissesTotal,
		m.KeychainResolutionsTotal, m.KeychainCacheHitsTotal, m.KeychainCacheMissesTotal,
		m.DBConnectionsOpen, m.DBConnectionsIdle, m.DBConnectionsInUse,
		m.DBQueryDuration, m.DBQueriesTotal,
	}

	for _, collector := range collectors {
		if err := registry.Register(collector); err != nil {
			return err
		}
	}

	return nil
}

// RecordExecution records a finished execution with status and duration.
func (m *Metrics) RecordExecution(catalogPath, status string, durationSeconds float64) {
	m.ExecutionsTotal.WithLabelValues(catalogPath, status).Inc()
	m.ExecutionDuration.WithLabelValues(catalogPath).Observe(durationSeconds)
}

func (m *Metrics) IncActiveExecutions(catalogPath string) {
	m.ExecutionActive.WithLabelValues(catalogPath).Inc()
}

func (m *Metrics) DecActiveExecutions(catalogPath string) {
	m.ExecutionActive.WithLabelValues(catalogPath).Dec()
}

// RecordStep records a step completion with type, status, and duration.
func (m *Metrics) RecordStep(stepType, status string, durationSeconds float64) {
	m.StepsTotal.WithLabelValues(stepType, status).Inc()
	m.StepDuration.WithLabelValues(stepType).Observe(durationSeconds)
}

func (m *Metrics) SetQueueDepth(status string, depth float64) {
	m.QueueDepth.WithLabelValues(status).Set(depth)
}

func (m *Metrics) RecordLeaseLatency(seconds float64) {
	m.LeaseLatency.WithLabelValues().Observe(seconds)
}

func (m *Metrics) SetActiveWorkers(count float64) {
	m.ActiveWorkers.Set(count)
}

func (m *Metrics) IncReapedJobs(n int) {
	m.ReapedJobsTotal.Add(float64(n))
}

func (m *Metrics) RecordHTTPRequest(method, path, status string, durationSeconds float64) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(durationSeconds)
}

func (m *Metrics) RecordBrokerEvaluation(outcome string, durationSeconds float64) {
	m.BrokerEvaluationsTotal.WithLabelValues(outcome).Inc()
	m.BrokerEvaluationDuration.WithLabelValues().Observe(durationSeconds)
}

func (m *Metrics) RecordRenderEvaluation(status string) {
	m.RenderEvaluationsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordRenderCacheHit()  { m.RenderCacheHitsTotal.Inc() }
func (m *Metrics) RecordRenderCacheMiss() { m.RenderCacheMissesTotal.Inc() }

func (m *Metrics) RecordKeychainResolution(kind, status string) {
	m.KeychainResolutionsTotal.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) RecordKeychainCacheHit()  { m.KeychainCacheHitsTotal.Inc() }
func (m *Metrics) RecordKeychainCacheMiss() { m.KeychainCacheMissesTotal.Inc() }

// SetDBConnectionPoolStats sets database connection pool statistics.
func (m *Metrics) SetDBConnectionPoolStats(poolName string, open, idle, inUse int) {
	m.DBConnectionsOpen.WithLabelValues(poolName).Set(float64(open))
	m.DBConnectionsIdle.WithLabelValues(poolName).Set(float64(idle))
	m.DBConnectionsInUse.WithLabelValues(poolName).Set(float64(inUse))
}

// RecordDBQuery records a database query with operation, table, status, and duration.
func (m *Metrics) RecordDBQuery(operation, table, status string, durationSeconds float64) {
	m.DBQueriesTotal.WithLabelValues(operation, table, status).Inc()
	m.DBQueryDuration.WithLabelValues(operation, table).Observe(durationSeconds)
}
