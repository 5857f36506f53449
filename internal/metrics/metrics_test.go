package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics(t *testing.T) {
	m := NewMetrics()

	assert.NotNil(t, m)
	assert.NotNil(t, m.ExecutionsTotal)
	assert.NotNil(t, m.ExecutionDuration)
	assert.NotNil(t, m.StepsTotal)
	assert.NotNil(t, m.StepDuration)
	assert.NotNil(t, m.QueueDepth)
	assert.NotNil(t, m.ActiveWorkers)
	assert.NotNil(t, m.HTTPRequestsTotal)
	assert.NotNil(t, m.HTTPRequestDuration)
	assert.NotNil(t, m.BrokerEvaluationsTotal)
	assert.NotNil(t, m.KeychainResolutionsTotal)
}

func TestRegisterMetrics(t *testing.T) {
	m := NewMetrics()
	registry := prometheus.NewRegistry()

	require.NoError(t, m.Register(registry))
}

func gatherMetric(t *testing.T, registry *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

func TestRecordExecution(t *testing.T) {
	m := NewMetrics()
	registry := prometheus.NewRegistry()
	require.NoError(t, m.Register(registry))

	m.RecordExecution("workflows/daily-report", "completed", 1.5)

	family := gatherMetric(t, registry, "noetl_executions_total")
	require.NotNil(t, family)
	assert.Equal(t, float64(1), family.Metric[0].Counter.GetValue())
}

func TestRecordStep(t *testing.T) {
	m := NewMetrics()
	registry := prometheus.NewRegistry()
	require.NoError(t, m.Register(registry))

	m.RecordStep("http", "completed", 0.5)

	family := gatherMetric(t, registry, "noetl_steps_total")
	require.NotNil(t, family)
	assert.Equal(t, float64(1), family.Metric[0].Counter.GetValue())
}

func TestSetQueueDepth(t *testing.T) {
	m := NewMetrics()
	registry := prometheus.NewRegistry()
	require.NoError(t, m.Register(registry))

	m.SetQueueDepth("queued", 42)

	family := gatherMetric(t, registry, "noetl_queue_depth")
	require.NotNil(t, family)
	assert.Equal(t, float64(42), family.Metric[0].Gauge.GetValue())
}

func TestSetActiveWorkers(t *testing.T) {
	m := NewMetrics()
	registry := prometheus.NewRegistry()
	require.NoError(t, m.Register(registry))

	m.SetActiveWorkers(5)

	family := gatherMetric(t, registry, "noetl_active_workers")
	require.NotNil(t, family)
	assert.Equal(t, float64(5), family.Metric[0].Gauge.GetValue())
}

func TestRecordHTTPRequest(t *testing.T) {
	m := NewMetrics()
	registry := prometheus.NewRegistry()
	require.NoError(t, m.Register(registry))

	m.RecordHTTPRequest("GET", "/executions", "200", 0.1)

	total := gatherMetric(t, registry, "noetl_http_requests_total")
	require.NotNil(t, total)
	duration := gatherMetric(t, registry, "noetl_http_request_duration_seconds")
	require.NotNil(t, duration)
}

func TestRecordBrokerEvaluation(t *testing.T) {
	m := NewMetrics()
	registry := prometheus.NewRegistry()
	require.NoError(t, m.Register(registry))

	m.RecordBrokerEvaluation("decisions_emitted", 0.02)

	family := gatherMetric(t, registry, "noetl_broker_evaluations_total")
	require.NotNil(t, family)
	assert.Equal(t, float64(1), family.Metric[0].Counter.GetValue())
}

func TestRecordKeychainResolution(t *testing.T) {
	m := NewMetrics()
	registry := prometheus.NewRegistry()
	require.NoError(t, m.Register(registry))

	m.RecordKeychainResolution("oauth2", "resolved")
	m.RecordKeychainCacheHit()
	m.RecordKeychainCacheMiss()

	family := gatherMetric(t, registry, "noetl_keychain_resolutions_total")
	require.NotNil(t, family)
}
