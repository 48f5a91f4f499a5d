package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.Operations.WithLabelValues("stroke").Add(3)
	m.ActiveRooms.Set(2)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.Operations.WithLabelValues("stroke")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `sketchsync_draw_operations_total{kind="stroke"} 3`)
	assert.Contains(t, rec.Body.String(), "sketchsync_rooms_active 2")
}

func TestInstancesAreIsolated(t *testing.T) {
	a, b := New(), New()
	a.ChatMessages.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.ChatMessages))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.ChatMessages))
}
