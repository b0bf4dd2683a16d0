package metrics

import (
    "net/http"
    "sync"
    "time"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/collectors"
    "github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
    // Registry is the dedicated Prometheus registry for the API
    Registry = prometheus.NewRegistry()
    // HTTPRequests counts requests by method, path, and status
    HTTPRequests = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
        []string{"method", "path", "status"},
    )
    // HTTPDuration records request durations in seconds
    HTTPDuration = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
        []string{"method", "path", "status"},
    )

    // Runs counts finished MCLP runs by solver and final status
    Runs = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "mclp_runs_total", Help: "MCLP runs by solver and status."},
        []string{"solver", "status"},
    )
    // RunDuration records wall time of a whole run, from matrix load to summary
    RunDuration = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "mclp_run_duration_seconds", Help: "MCLP run duration in seconds.", Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300}},
        []string{"solver"},
    )
    // Coverage tracks the share of demand covered by the last run per solver
    Coverage = prometheus.NewGaugeVec(
        prometheus.GaugeOpts{Name: "mclp_demand_coverage_percent", Help: "Percent of demand covered by the last completed run."},
        []string{"solver"},
    )
    // RunsInFlight is the number of runs currently executing
    RunsInFlight = prometheus.NewGauge(
        prometheus.GaugeOpts{Name: "mclp_runs_in_flight", Help: "Runs currently executing."},
    )

    // WebhookDeliveries counts webhook delivery outcomes by event type and status
    WebhookDeliveries = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
        []string{"event_type", "status"},
    )
    // WebhookLatency tracks webhook delivery latencies in milliseconds
    WebhookLatency = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
        []string{"event_type", "status"},
    )
)

// RegisterDefault registers collectors to the default registry.
func RegisterDefault() {
    regOnce.Do(func(){
        Registry.MustRegister(HTTPRequests)
        Registry.MustRegister(HTTPDuration)
        Registry.MustRegister(Runs)
        Registry.MustRegister(RunDuration)
        Registry.MustRegister(Coverage)
        Registry.MustRegister(RunsInFlight)
        Registry.MustRegister(WebhookDeliveries)
        Registry.MustRegister(WebhookLatency)
        // Go/process collectors on our registry
        Registry.MustRegister(collectors.NewGoCollector())
        Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
    })
}

var regOnce sync.Once

// Handler exposes Registry in the Prometheus text format.
func Handler() http.Handler {
    RegisterDefault()
    return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// ObserveRun records the outcome of one run. percent is ignored for failures.
func ObserveRun(solver, status string, elapsed time.Duration, percent float64) {
    Runs.WithLabelValues(solver, status).Inc()
    RunDuration.WithLabelValues(solver).Observe(elapsed.Seconds())
    if status == "completed" {
        Coverage.WithLabelValues(solver).Set(percent)
    }
}

// ObserveWebhook records one delivery attempt.
func ObserveWebhook(eventType, status string, latencyMs int) {
    WebhookDeliveries.WithLabelValues(eventType, status).Inc()
    WebhookLatency.WithLabelValues(eventType, status).Observe(float64(latencyMs))
}
