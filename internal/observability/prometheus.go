package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nutripay"

var (
	requestsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "rpc", "requests_total"),
		"Inbound RPCs by method.", []string{"method"}, nil)
	requestErrorsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "rpc", "errors_total"),
		"Inbound RPCs that returned an error.", []string{"method"}, nil)
	inFlightDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "rpc", "in_flight"),
		"Inbound RPCs currently executing.", []string{"method"}, nil)
	gatewayCallsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "gateway", "calls_total"),
		"Processor round trips by operation.", []string{"op"}, nil)
	gatewayErrorsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "gateway", "errors_total"),
		"Processor round trips that failed in transport.", []string{"op"}, nil)
	gatewayLatencyDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "gateway", "avg_latency_ms"),
		"Mean processor latency by operation.", []string{"op"}, nil)
	outcomesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "payment", "outcomes_total"),
		"Finished purchase attempts by terminal state and error kind.", []string{"state", "error_kind"}, nil)
	rateLimitWaitsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "gateway", "rate_limit_waits_total"),
		"Times a processor call waited on the client-side rate limiter.", nil, nil)
)

type collector struct {
	metrics *Metrics
}

// NewCollector exposes m to Prometheus. Values are read from Snapshot on
// every scrape.
func NewCollector(m *Metrics) prometheus.Collector {
	return &collector{metrics: m}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- requestsDesc
	ch <- requestErrorsDesc
	ch <- inFlightDesc
	ch <- gatewayCallsDesc
	ch <- gatewayErrorsDesc
	ch <- gatewayLatencyDesc
	ch <- outcomesDesc
	ch <- rateLimitWaitsDesc
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.metrics.Snapshot()
	for method, stats := range snap.Methods {
		ch <- prometheus.MustNewConstMetric(requestsDesc, prometheus.CounterValue, float64(stats.Count), method)
		ch <- prometheus.MustNewConstMetric(requestErrorsDesc, prometheus.CounterValue, float64(stats.Errors), method)
		ch <- prometheus.MustNewConstMetric(inFlightDesc, prometheus.GaugeValue, float64(stats.InFlight), method)
	}
	for op, stats := range snap.Gateway {
		ch <- prometheus.MustNewConstMetric(gatewayCallsDesc, prometheus.CounterValue, float64(stats.Count), op)
		ch <- prometheus.MustNewConstMetric(gatewayErrorsDesc, prometheus.CounterValue, float64(stats.Errors), op)
		ch <- prometheus.MustNewConstMetric(gatewayLatencyDesc, prometheus.GaugeValue, stats.AvgLatencyMs, op)
	}
	for _, o := range snap.Outcomes {
		ch <- prometheus.MustNewConstMetric(outcomesDesc, prometheus.CounterValue, float64(o.Count), o.State, o.ErrorKind)
	}
	ch <- prometheus.MustNewConstMetric(rateLimitWaitsDesc, prometheus.CounterValue, float64(snap.RateLimitWaits))
}

// PrometheusHandler serves m in the Prometheus text format from a private registry.
func PrometheusHandler(m *Metrics) (http.Handler, error) {
	registry := prometheus.NewRegistry()
	if err := registry.Register(NewCollector(m)); err != nil {
		return nil, err
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}
