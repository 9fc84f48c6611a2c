package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNewWithoutRegistererStillCounts(t *testing.T) {
	m, err := New(nil)
	require.NoError(t, err)

	m.Broadcasts.WithLabelValues("add").Inc()
	m.Broadcasts.WithLabelValues("add").Inc()
	require.Equal(t, 2.0, testutil.ToFloat64(m.Broadcasts.WithLabelValues("add")))
}

// TestNewRejectsDuplicateRegistration checks that two maps cannot silently share a registry.
func TestNewRejectsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)

	_, err = New(reg)
	require.Error(t, err)
}

func TestHandlerServesRegisteredMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)
	m.StoreEntries.Set(3)
	m.StateTransfers.WithLabelValues("merge", "ok").Inc()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.True(t, strings.Contains(body, "replmap_store_entries 3"), body)
	require.Contains(t, body, `replmap_state_transfers_total{result="ok",role="merge"} 1`)
}
