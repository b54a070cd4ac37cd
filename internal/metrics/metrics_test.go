package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RunStarted()
		m.FrameDecoded()
		m.FrameSampled()
		m.DetectionWritten(3)
		m.DetectionFault()
		m.DeliveryFault()
		m.SubscriberAdded()
		m.SubscriberRemoved()
		m.Upload("accepted")
		m.RunFinished("completed", 1.5)
	})
}

func TestRunCounters(t *testing.T) {
	m := New()
	m.RunStarted()
	m.DetectionWritten(2)
	m.DetectionWritten(1)
	m.RunFinished("completed", 3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("completed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.detections))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.boxes))
	assert.Zero(t, testutil.ToFloat64(m.activeRuns))
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.FrameDecoded()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "sightline_frames_decoded_total 1")
}
