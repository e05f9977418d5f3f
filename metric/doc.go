// Package metric provides the Prometheus registry shared by all components,
// the bridge's domain metrics and the HTTP endpoint that exports them.
//
// Components create their metrics through the MetricsRegistrar interface so
// duplicate registrations surface as invalid-class errors instead of panics:
//
//	registry := metric.NewMetricsRegistry()
//	syncMetrics, err := metric.NewSyncMetrics(registry)
//	if err != nil {
//		return err
//	}
//	syncMetrics.RecordService("success")
//
// SyncMetrics and NegotiationMetrics accept nil receivers, so components can
// run without metrics in tests.
package metric
