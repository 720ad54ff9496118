package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorRecordsMoves(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	require.NoError(t, err)

	c.MoveCompleted(800, -533, 10*time.Millisecond)
	c.MoveCompleted(0, 0, time.Millisecond)

	assert.Equal(t, 800.0, testutil.ToFloat64(c.Steps.WithLabelValues("yaw")))
	assert.Equal(t, 533.0, testutil.ToFloat64(c.Steps.WithLabelValues("pitch")))
	assert.Equal(t, uint64(1), histogramSampleCount(t, reg, "turret_move_duration_seconds"))
}

func histogramSampleCount(t *testing.T, reg *prometheus.Registry, name string) uint64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			return m.GetHistogram().GetSampleCount()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func TestCollectorSessions(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	require.NoError(t, err)

	c.SessionOpened()
	assert.Equal(t, 1.0, testutil.ToFloat64(c.SessionActive))
	c.SessionRejected()
	c.SessionEnded("closed")
	assert.Equal(t, 0.0, testutil.ToFloat64(c.SessionActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Sessions.WithLabelValues("closed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Sessions.WithLabelValues("rejected")))
}

func TestCollectorCountersAndGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	require.NoError(t, err)

	c.CommandHandled("fire", "ok")
	c.CommandHandled("fire", "ok")
	c.Fired()
	c.Tripped()
	c.SetPosition(45, -30)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.Commands.WithLabelValues("fire", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Fires))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Trips))
	assert.Equal(t, 45.0, testutil.ToFloat64(c.Position.WithLabelValues("yaw")))
	assert.Equal(t, -30.0, testutil.ToFloat64(c.Position.WithLabelValues("pitch")))
}

func TestNewCollectorReusesExisting(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewCollector(reg)
	require.NoError(t, err)
	second, err := NewCollector(reg)
	require.NoError(t, err)

	second.Fired()
	assert.Equal(t, 1.0, testutil.ToFloat64(first.Fires))
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.CommandHandled("get_angles", "ok")
		c.MoveCompleted(1, 1, time.Millisecond)
		c.Fired()
		c.Tripped()
		c.SessionOpened()
		c.SessionEnded("closed")
		c.SessionRejected()
		c.SetPosition(1, 2)
	})
}

func TestHandlerExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	require.NoError(t, err)
	c.Fired()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "turret_fires_total 1"))
}
