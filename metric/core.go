package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "aasbridge"

// Metrics are the process-level metrics every deployment exports.
type Metrics struct {
	ServiceStatus     *prometheus.GaugeVec
	ErrorsTotal       *prometheus.CounterVec
	HealthCheckStatus *prometheus.GaugeVec

	NATSConnected      prometheus.Gauge
	NATSReconnects     prometheus.Counter
	NATSCircuitBreaker prometheus.Gauge
}

// NewMetrics creates the core metrics. They are not registered yet.
func NewMetrics() *Metrics {
	return &Metrics{
		ServiceStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "status",
			Help:      "Service status (0=stopped, 1=starting, 2=running, 3=stopping, 4=failed)",
		}, []string{"service"}),

		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "errors",
			Name:      "total",
			Help:      "Total number of errors by component and class",
		}, []string{"service", "class"}),

		HealthCheckStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "status",
			Help:      "Health check status (0=unhealthy, 1=healthy)",
		}, []string{"service"}),

		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "nats",
			Name:      "connected",
			Help:      "NATS connection status (0=disconnected, 1=connected)",
		}),

		NATSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "nats",
			Name:      "reconnects_total",
			Help:      "Total number of NATS reconnections",
		}),

		NATSCircuitBreaker: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "nats",
			Name:      "circuit_breaker",
			Help:      "NATS circuit breaker status (0=closed, 1=open)",
		}),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.ServiceStatus, c.ErrorsTotal, c.HealthCheckStatus,
		c.NATSConnected, c.NATSReconnects, c.NATSCircuitBreaker,
	}
}

// RecordServiceStatus updates service status metric
func (c *Metrics) RecordServiceStatus(service string, status int) {
	c.ServiceStatus.WithLabelValues(service).Set(float64(status))
}

// RecordError increments the error counter for an error class.
func (c *Metrics) RecordError(service, class string) {
	c.ErrorsTotal.WithLabelValues(service, class).Inc()
}

// RecordHealthStatus updates health check status
func (c *Metrics) RecordHealthStatus(service string, healthy bool) {
	c.HealthCheckStatus.WithLabelValues(service).Set(boolToFloat(healthy))
}

// RecordNATSStatus updates NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	c.NATSConnected.Set(boolToFloat(connected))
}

// RecordNATSReconnect increments reconnection counter
func (c *Metrics) RecordNATSReconnect() {
	c.NATSReconnects.Inc()
}

// RecordCircuitBreakerState updates circuit breaker status
func (c *Metrics) RecordCircuitBreakerState(open bool) {
	c.NATSCircuitBreaker.Set(boolToFloat(open))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
