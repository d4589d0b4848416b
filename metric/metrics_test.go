package metric

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/ruleengine/mock"
)

func TestRecordExecution(t *testing.T) {
	m := New("metrics.test", DefaultConfig())
	m.RecordExecution("r1", "success", 25*time.Millisecond)
	m.RecordExecution("r1", "success", 5*time.Millisecond)
	m.RecordExecution("r1", "action_error", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.executions.WithLabelValues("r1", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.executions.WithLabelValues("r1", "action_error")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.duration))
}

func TestRecordStatusExclusiveGauge(t *testing.T) {
	m := New("metrics.test", DefaultConfig())
	m.RecordStatus("r1", "IDLE")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.status.WithLabelValues("r1", "IDLE")))

	m.RecordStatus("r1", "RUNNING")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.status.WithLabelValues("r1", "IDLE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.status.WithLabelValues("r1", "RUNNING")))
}

func TestNilReceiverIsSafe(t *testing.T) {
	var m *RuleMetrics
	m.RecordExecution("r1", "success", time.Millisecond)
	m.RecordStatus("r1", "IDLE")
}

func TestHandlerServesExposition(t *testing.T) {
	m := New("metrics.test", DefaultConfig())
	m.RecordExecution("r1", "success", time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "ruleengine_rule_executions_total")
}

func TestModularModuleSurface(t *testing.T) {
	app := mock.NewTestApplication()
	m := New("metrics.test", DefaultConfig())
	assert.Equal(t, "metrics.test", m.Name())
	require.NoError(t, m.Init(app))

	var svc interface{}
	require.NoError(t, app.GetService("metrics.test", &svc))
	assert.Same(t, m, svc)
}
