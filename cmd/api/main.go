package main

import (
    "bufio"
    "context"
    "errors"
    "log"
    "net"
    "net/http"
    "os"
    "os/signal"
    "strconv"
    "strings"
    "syscall"
    "time"

    "mclp/internal/api"
    "mclp/internal/buildinfo"
    "mclp/internal/config"
    "mclp/internal/metrics"
)

func main() {
    logger := log.New(os.Stderr, "", log.LstdFlags)
    cfg := config.Default()
    if path := os.Getenv("MCLP_CONFIG"); path != "" {
        c, err := config.Load(path)
        if err != nil { logger.Fatalf("config: %v", err) }
        cfg = c
    }
    if err := cfg.ApplyEnv(os.Getenv); err != nil { logger.Fatalf("config: %v", err) }
    if err := cfg.Validate(); err != nil { logger.Fatalf("config: %v", err) }

    srvDeps, err := api.NewServer(cfg, logger)
    if err != nil {
        logger.Fatalf("failed to init server: %v", err)
    }

    mux := http.NewServeMux()

    // Runs
    mux.HandleFunc("/v1/runs", srvDeps.Limited(srvDeps.RunsHandler))
    mux.HandleFunc("/v1/runs/", srvDeps.RunByIDHandler) // includes /coverage, /events/stream, /ws

    // Subscriptions
    mux.HandleFunc("/v1/subscriptions", srvDeps.Limited(srvDeps.SubscriptionsHandler))
    mux.HandleFunc("/v1/subscriptions/", srvDeps.Limited(srvDeps.SubscriptionByIDHandler))

    // Health
    mux.HandleFunc("/healthz", srvDeps.HealthHandler)
    mux.HandleFunc("/readyz", srvDeps.ReadyHandler)

    // Admin
    mux.HandleFunc("/v1/admin/solver-metrics", srvDeps.SolverMetricsHandler)
    mux.HandleFunc("/v1/admin/webhook-deliveries", srvDeps.WebhookDeliveriesHandler)
    mux.HandleFunc("/v1/admin/webhook-deliveries/", srvDeps.WebhookDeliveryRetryHandler)
    mux.HandleFunc("/v1/admin/webhook-dlq", srvDeps.WebhookDLQHandler)
    mux.HandleFunc("/v1/admin/webhook-dlq/", srvDeps.WebhookDLQHandler)

    // Ops and docs
    mux.Handle("/metrics", metrics.Handler())
    mux.HandleFunc("/debug/vars", srvDeps.DebugJSON)
    mux.HandleFunc("/openapi.yaml", srvDeps.OpenAPIHandler)
    mux.HandleFunc("/openapi.json", srvDeps.OpenAPIJSONHandler)
    mux.HandleFunc("/docs", srvDeps.DocsHandler)
    mux.HandleFunc("/docs/console", srvDeps.SwaggerHandler)

    addr := ":" + cfg.Server.Port
    srv := &http.Server{
        Addr:              addr,
        Handler:           logMiddleware(logger, mux),
        ReadHeaderTimeout: 5 * time.Second,
    }

    ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
    defer stop()

    // Start webhook worker
    worker := srvDeps.NewWebhookWorker()
    worker.Start()

    go func() {
        logger.Printf("%s listening on %s", buildinfo.String("mclp-api"), addr)
        if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
            logger.Fatalf("server error: %v", err)
        }
    }()

    <-ctx.Done()
    logger.Printf("shutting down")
    shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
    defer cancel()
    if err := srv.Shutdown(shutdownCtx); err != nil {
        logger.Printf("shutdown: %v", err)
    }
    close(worker.Stop)
    srvDeps.Close()
}

type statusWriter struct {
    http.ResponseWriter
    status int
}

func (w *statusWriter) WriteHeader(code int) {
    w.status = code
    w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
    if f, ok := w.ResponseWriter.(http.Flusher); ok { f.Flush() }
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
    h, ok := w.ResponseWriter.(http.Hijacker)
    if !ok { return nil, nil, errors.New("response writer does not support hijacking") }
    w.status = http.StatusSwitchingProtocols
    return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func logMiddleware(logger *log.Logger, next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        start := time.Now()
        sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
        next.ServeHTTP(sw, r)
        dur := time.Since(start)
        status := strconv.Itoa(sw.status)
        route := routeLabel(r.URL.Path)
        metrics.HTTPRequests.WithLabelValues(r.Method, route, status).Inc()
        metrics.HTTPDuration.WithLabelValues(r.Method, route, status).Observe(dur.Seconds())
        logger.Printf("%s %s %s %d %v", r.RemoteAddr, r.Method, r.URL.Path, sw.status, dur)
    })
}

// knownRoutes are the metric labels the mux can serve; anything else is "other".
var knownRoutes = map[string]bool{
    "/v1/runs": true, "/v1/runs/{id}": true, "/v1/runs/{id}/coverage": true,
    "/v1/runs/{id}/events/stream": true, "/v1/runs/{id}/ws": true,
    "/v1/subscriptions": true, "/v1/subscriptions/{id}": true,
    "/v1/admin/solver-metrics": true,
    "/v1/admin/webhook-deliveries": true, "/v1/admin/webhook-deliveries/{id}/retry": true,
    "/v1/admin/webhook-dlq": true, "/v1/admin/webhook-dlq/{id}/requeue": true,
    "/healthz": true, "/readyz": true, "/metrics": true, "/debug/vars": true,
    "/openapi.yaml": true, "/openapi.json": true, "/docs": true, "/docs/console": true,
}

// routeLabel replaces ids in the path so metric labels stay bounded.
func routeLabel(path string) string {
    parts := strings.Split(strings.Trim(path, "/"), "/")
    if len(parts) >= 3 && parts[0] == "v1" {
        switch parts[1] {
        case "runs", "subscriptions":
            parts[2] = "{id}"
        case "admin":
            if len(parts) >= 4 { parts[3] = "{id}" }
        }
    }
    label := "/" + strings.Join(parts, "/")
    if !knownRoutes[label] { return "other" }
    return label
}
