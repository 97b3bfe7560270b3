// Package metrics exposes the prometheus collectors for the encryption
// core. The failure policy for unencrypted writes is deliberately observable
// here: fail-open must never be silent.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var EncryptionOperations = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "strongroom",
	Name:      "encryption_operations_total",
	Help:      "A counter of envelope encryption operations by outcome.",
}, []string{"operation", "result"})

var BlobsStoredUnencrypted = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "strongroom",
	Name:      "blobs_stored_unencrypted_total",
	Help:      "A counter of writes that proceeded without encryption under the fail-open policy.",
})

var RotationProgress = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "strongroom",
	Name:      "rotation_progress_ratio",
	Help:      "Progress of the tenant's most recent key rotation job, processed/total.",
}, []string{"tenant"})

var AuditEventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "strongroom",
	Name:      "audit_events_dropped_total",
	Help:      "A counter of audit events dropped because the buffer was full.",
})

// Register adds the encryption collectors, the standard process metrics, and
// the standard go metrics to promRegistry.
func Register(promRegistry prometheus.Registerer) {
	promRegistry.MustRegister(EncryptionOperations)
	promRegistry.MustRegister(BlobsStoredUnencrypted)
	promRegistry.MustRegister(RotationProgress)
	promRegistry.MustRegister(AuditEventsDropped)
	promRegistry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	promRegistry.MustRegister(collectors.NewGoCollector())
}

// NewHandler creates a new gin.Engine, and adds a 'GET /metrics' handler to it.
// The handler serves prometheus metrics from the promRegistry.
func NewHandler(promRegistry *prometheus.Registry) *gin.Engine {
	engine := gin.New()
	engine.GET("/metrics", func(c *gin.Context) {
		handler := promhttp.InstrumentMetricHandler(
			promRegistry,
			promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
		handler.ServeHTTP(c.Writer, c.Request)
	})
	return engine
}
