package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	AuthzDecisionsTotal *prometheus.CounterVec
	AuthzCacheTotal     *prometheus.CounterVec

	LedgerEntriesTotal *prometheus.CounterVec
	LedgerUnitsTotal   *prometheus.CounterVec

	CaseOutcomesTotal *prometheus.CounterVec
}

// New creates and registers all collectors on registry
func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medsales_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "medsales_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		AuthzDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medsales_authz_decisions_total",
				Help: "Authorization decisions by outcome and deciding source",
			},
			[]string{"resource", "action", "outcome", "source"},
		),
		AuthzCacheTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medsales_authz_cache_total",
				Help: "Decision cache lookups by result",
			},
			[]string{"result"},
		),
		LedgerEntriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medsales_inventory_ledger_entries_total",
				Help: "Inventory ledger rows written by transaction type",
			},
			[]string{"type"},
		),
		LedgerUnitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medsales_inventory_ledger_units_total",
				Help: "Absolute units moved through the ledger by transaction type",
			},
			[]string{"type"},
		),
		CaseOutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medsales_case_workflow_total",
				Help: "Case workflow operations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuthzDecisionsTotal,
		m.AuthzCacheTotal,
		m.LedgerEntriesTotal,
		m.LedgerUnitsTotal,
		m.CaseOutcomesTotal,
	)
	return m
}

func (m *Metrics) AuthzDecision(resource, action string, allowed bool, source string) {
	if m == nil {
		return
	}
	outcome := "deny"
	if allowed {
		outcome = "allow"
	}
	m.AuthzDecisionsTotal.WithLabelValues(resource, action, outcome, source).Inc()
}

func (m *Metrics) AuthzCache(result string) {
	if m == nil {
		return
	}
	m.AuthzCacheTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) LedgerEntry(txType string, quantity int) {
	if m == nil {
		return
	}
	m.LedgerEntriesTotal.WithLabelValues(txType).Inc()
	if quantity < 0 {
		quantity = -quantity
	}
	m.LedgerUnitsTotal.WithLabelValues(txType).Add(float64(quantity))
}

func (m *Metrics) CaseOutcome(operation string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.CaseOutcomesTotal.WithLabelValues(operation, outcome).Inc()
}

// GinMiddleware records request counts and latency using the route template as the path label.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler exposes the registry for scraping
func Handler(registry *prometheus.Registry) gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
