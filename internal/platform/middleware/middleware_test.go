package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"greenwallet/internal/platform/metrics"
)

func TestLatencyUsesRoutePattern(t *testing.T) {
	m := metrics.New()

	router := chi.NewRouter()
	router.Use(Latency(m))
	router.Delete("/wallet/events/{kind}/{provider}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	for _, path := range []string{"/wallet/events/vaccination/GGD", "/wallet/events/test/RIVM"} {
		req := httptest.NewRequest(http.MethodDelete, path, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	// Distinct paths matching the same route land in a single series.
	assert.Equal(t, 1, testutil.CollectAndCount(m.HTTPRequestDuration))
}
