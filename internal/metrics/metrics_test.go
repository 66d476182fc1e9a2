package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecordsExecutions(t *testing.T) {
	t.Parallel()

	m := New()
	m.ObserveExecution("background", OutcomeSuccess, 2*time.Second)
	m.ObserveExecution("background", OutcomeSuccess, time.Second)
	m.ObserveExecution("background", OutcomeTimeout, 3*time.Second)
	m.SetQueue(2, 5)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.executions.WithLabelValues("background", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.executions.WithLabelValues("background", OutcomeTimeout)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.running))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.queued))
}

func TestMetricsHandlerExposesNames(t *testing.T) {
	t.Parallel()

	m := New()
	m.SetScripts(4)
	m.ObserveQueueWait(time.Second)
	m.HistoryWriteFailed()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	for _, name := range []string{
		"scriptsrunner_running_scripts",
		"scriptsrunner_known_scripts 4",
		"scriptsrunner_queue_wait_seconds_count 1",
		"scriptsrunner_history_write_errors_total 1",
	} {
		assert.Contains(t, string(body), name)
	}
}
