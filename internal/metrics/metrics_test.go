package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.AuthzDecision("cases", "create", true, "role")
	m.AuthzDecision("cases", "delete", false, "none")
	m.LedgerEntry("Used", -3)
	m.LedgerEntry("Used", -2)
	m.CaseOutcome("create", nil)
	m.CaseOutcome("create", errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuthzDecisionsTotal.WithLabelValues("cases", "create", "allow", "role")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuthzDecisionsTotal.WithLabelValues("cases", "delete", "deny", "none")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.LedgerEntriesTotal.WithLabelValues("Used")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.LedgerUnitsTotal.WithLabelValues("Used")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CaseOutcomesTotal.WithLabelValues("create", "failure")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.AuthzDecision("a", "b", true, "c")
		m.LedgerEntry("Used", 1)
		m.CaseOutcome("create", nil)
	})
}

func TestGinMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	registry := prometheus.NewRegistry()
	m := New(registry)

	r := gin.New()
	r.Use(m.GinMiddleware())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/metrics", Handler(registry))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/ping", "204")))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "medsales_http_requests_total")
}
