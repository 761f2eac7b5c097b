// Package metric provides the Prometheus registry shared by the gateway.
//
// NewMetricsRegistry registers the gateway-wide metrics (Metrics) together
// with the Go runtime collectors. Components that own further metrics
// register them through the MetricsRegistrar interface, keyed by component
// and metric name so a second registration of the same pair is rejected:
//
//	registry := metric.NewMetricsRegistry()
//	registry.CoreMetrics().RecordRequest("get", "ok", elapsed)
//
//	depth := prometheus.NewGauge(prometheus.GaugeOpts{Name: "natsfe_queue_depth"})
//	if err := registry.RegisterGauge("natsfe", "queue_depth", depth); err != nil {
//		return err
//	}
//
// Handler exposes the registry for scraping; the HTTP front-end mounts it at
// /metrics.
package metric
