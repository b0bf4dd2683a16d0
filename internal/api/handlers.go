package api

import (
    "bytes"
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "net/http"
    "path/filepath"
    "strconv"
    "strings"
    "time"

    "mclp/internal/distmatrix"
    "mclp/internal/model"
    "mclp/internal/store"
)

// RunsHandler handles POST/GET /v1/runs
func (s *Server) RunsHandler(w http.ResponseWriter, r *http.Request) {
    if r.URL.Path != "/v1/runs" { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    switch r.Method {
    case http.MethodPost:
        s.createRun(w, r)
    case http.MethodGet:
        _, tenant := s.withTenant(r)
        status := r.URL.Query().Get("status")
        cursor := r.URL.Query().Get("cursor")
        limit := 100
        if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
        items, next, err := s.Store.ListRuns(r.Context(), tenant, status, cursor, limit)
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "List runs failed", err.Error(), r.URL.Path)
            return
        }
        writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
    _, tenant := s.withTenant(r)
    limit := s.Cfg.Server.MaxUploadBytes
    if limit <= 0 { limit = 32 << 20 }
    r.Body = http.MaxBytesReader(w, r.Body, limit)

    var req model.RunRequest
    var src distmatrix.Source
    ct := r.Header.Get("Content-Type")
    if strings.HasPrefix(ct, "multipart/form-data") {
        var err error
        req, src, err = readMultipartRun(r, limit)
        if err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid upload", err.Error(), r.URL.Path)
            return
        }
    } else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }
    if err := validateRunRequest(&req, src != nil); err != nil {
        writeInvalid(w, "Invalid run request", err, r.URL.Path)
        return
    }
    job, err := s.prepareRun(tenant, req, src)
    if err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid run request", err.Error(), r.URL.Path)
        return
    }
    run, err := s.Store.CreateRun(r.Context(), job.run)
    if err != nil {
        writeProblem(w, http.StatusInternalServerError, "Create run failed", err.Error(), r.URL.Path)
        return
    }
    job.run = run

    if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
        done := s.execute(r.Context(), job)
        status := http.StatusOK
        if done.Status == model.RunFailed { status = http.StatusUnprocessableEntity }
        writeJSON(w, status, done)
        return
    }
    s.start(job)
    w.Header().Set("Location", "/v1/runs/"+run.ID)
    writeJSON(w, http.StatusAccepted, run)
}

// readMultipartRun reads a matrix upload in form field "file" and the run
// settings from the other form fields.
func readMultipartRun(r *http.Request, limit int64) (model.RunRequest, distmatrix.Source, error) {
    var req model.RunRequest
    if err := r.ParseMultipartForm(limit); err != nil { return req, nil, err }
    f, hdr, err := r.FormFile("file")
    if err != nil { return req, nil, fmt.Errorf("form field file: %w", err) }
    defer f.Close()
    body, err := io.ReadAll(f)
    if err != nil { return req, nil, err }

    form := r.MultipartForm.Value
    get := func(k string) string {
        if v := form[k]; len(v) > 0 { return strings.TrimSpace(v[0]) }
        return ""
    }
    var errs []error
    num := func(k string, dst any) {
        v := get(k)
        if v == "" { return }
        var err error
        switch d := dst.(type) {
        case *float64:
            *d, err = strconv.ParseFloat(v, 64)
        case *int:
            *d, err = strconv.Atoi(v)
        case *bool:
            *d, err = strconv.ParseBool(v)
        }
        if err != nil { errs = append(errs, fmt.Errorf("%s: %w", k, err)) }
    }
    req.Label = get("label")
    req.FacilityVariable = get("facilityVariable")
    req.Solver = get("solver")
    req.Validation = get("validation")
    req.Delimiter = get("delimiter")
    num("serviceDistance", &req.ServiceDistance)
    num("numFacility", &req.NumFacility)
    num("timeLimitMs", &req.TimeLimitMs)
    num("useServiceableDemand", &req.UseServiceableDemand)
    fields := model.RunFields{FacilityID: get("fields.facilityId"), DemandID: get("fields.demandId"), Demand: get("fields.demand"), Distance: get("fields.distance")}
    if fields != (model.RunFields{}) { req.Fields = &fields }
    if v := get("requiredFields"); v != "" {
        for _, p := range strings.Split(v, ",") { req.RequiredFields = append(req.RequiredFields, strings.TrimSpace(p)) }
    }
    if err := errors.Join(errs...); err != nil { return req, nil, err }

    comma, _ := firstRune(req.Delimiter)
    src := distmatrix.ReaderSource{
        Label:   filepath.Base(hdr.Filename),
        Format:  distmatrix.FormatOf(hdr.Filename),
        Reader:  bytes.NewReader(body),
        Options: distmatrix.Options{Comma: comma, Sheet: get("sheet")},
    }
    return req, src, nil
}

// RunByIDHandler handles GET /v1/runs/{id}, /v1/runs/{id}/coverage,
// /v1/runs/{id}/events/stream and /v1/runs/{id}/ws
func (s *Server) RunByIDHandler(w http.ResponseWriter, r *http.Request) {
    path := r.URL.Path
    rest := strings.TrimPrefix(path, "/v1/runs/")
    if rest == path || rest == "" {
        writeProblem(w, http.StatusNotFound, "Not Found", "missing id", path)
        return
    }
    if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
    parts := strings.Split(strings.Trim(rest, "/"), "/")
    id := parts[0]
    _, tenant := s.withTenant(r)
    run, err := s.Store.GetRun(r.Context(), tenant, id)
    if errors.Is(err, store.ErrNotFound) {
        writeProblem(w, http.StatusNotFound, "Run not found", id, path)
        return
    }
    if err != nil {
        writeProblem(w, http.StatusInternalServerError, "Get run failed", err.Error(), path)
        return
    }
    switch {
    case len(parts) == 1:
        writeJSON(w, http.StatusOK, run)
    case len(parts) == 2 && parts[1] == "coverage":
        doc, err := s.Store.GetCoverage(r.Context(), tenant, id)
        if errors.Is(err, store.ErrNotFound) {
            writeProblem(w, http.StatusNotFound, "Coverage not available", "run status is "+run.Status, path)
            return
        }
        if err != nil { writeProblem(w, 500, "Get coverage failed", err.Error(), path); return }
        w.Header().Set("Content-Type", "application/json")
        w.WriteHeader(http.StatusOK)
        _, _ = w.Write(doc)
    case len(parts) == 3 && parts[1] == "events" && parts[2] == "stream":
        s.streamRunEvents(w, r, run)
    case len(parts) == 2 && parts[1] == "ws":
        s.RunWSHandler(w, r, run)
    default:
        writeProblem(w, http.StatusNotFound, "Not Found", "", path)
    }
}

// streamRunEvents serves run events as server-sent events until the run
// finishes or the client goes away.
func (s *Server) streamRunEvents(w http.ResponseWriter, r *http.Request, run model.Run) {
    flusher, ok := w.(http.Flusher)
    if !ok { writeProblem(w, 500, "Streaming unsupported", "", r.URL.Path); return }
    w.Header().Set("Content-Type", "text/event-stream")
    w.Header().Set("Cache-Control", "no-cache")
    w.Header().Set("Connection", "keep-alive")
    ch := s.Broker.Subscribe(run.ID)
    defer s.Broker.Unsubscribe(run.ID, ch)

    send := func(typ string, data any) {
        b, _ := json.Marshal(data)
        fmt.Fprintf(w, "event: %s\n", typ)
        fmt.Fprintf(w, "data: %s\n\n", string(b))
        flusher.Flush()
    }
    // the run may have finished before the subscription; replay its state
    if cur, err := s.Store.GetRun(r.Context(), run.TenantID, run.ID); err == nil { run = cur }
    send("snapshot", run)
    if run.Done() { return }

    heartbeat := time.NewTicker(15 * time.Second)
    defer heartbeat.Stop()
    for {
        select {
        case <-r.Context().Done():
            return
        case evt, ok := <-ch:
            if !ok { return }
            send(evt.Type, evt.Data)
            if evt.Type == model.EventRunCompleted || evt.Type == model.EventRunFailed { return }
        case <-heartbeat.C:
            send("heartbeat", map[string]any{"runId": run.ID, "ts": time.Now().UTC().Format(time.RFC3339)})
        }
    }
}

// SolverMetricsHandler handles GET /v1/admin/solver-metrics?runId=
func (s *Server) SolverMetricsHandler(w http.ResponseWriter, r *http.Request) {
    if r.URL.Path != "/v1/admin/solver-metrics" || r.Method != http.MethodGet { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    _, tenant := s.withTenant(r)
    runID := r.URL.Query().Get("runId")
    if runID == "" { writeProblem(w, 400, "Missing runId", "", r.URL.Path); return }
    items, err := s.Store.ListSolverMetrics(r.Context(), tenant, runID)
    if err != nil { writeProblem(w, 500, "List solver metrics failed", err.Error(), r.URL.Path); return }
    writeJSON(w, 200, map[string]any{"runId": runID, "items": items})
}

// SubscriptionsHandler handles POST/GET /v1/subscriptions
func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
    _, tenant := s.withTenant(r)
    switch r.Method {
    case http.MethodPost:
        var req model.SubscriptionRequest
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        if req.TenantID == "" { req.TenantID = tenant }
        if req.URL == "" || len(req.Events) == 0 {
            writeProblem(w, http.StatusBadRequest, "Invalid subscription", "url and events are required", r.URL.Path)
            return
        }
        sub, err := s.Store.CreateSubscription(r.Context(), req)
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "Create subscription failed", err.Error(), r.URL.Path)
            return
        }
        writeJSON(w, http.StatusCreated, sub)
    case http.MethodGet:
        cursor := r.URL.Query().Get("cursor")
        limit := 100
        if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
        items, next, err := s.Store.ListSubscriptions(r.Context(), tenant, cursor, limit)
        if err != nil { writeProblem(w, 500, "List subscriptions failed", err.Error(), r.URL.Path); return }
        writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// Subscription delete
func (s *Server) SubscriptionByIDHandler(w http.ResponseWriter, r *http.Request) {
    if !strings.HasPrefix(r.URL.Path, "/v1/subscriptions/") { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    if r.Method != http.MethodDelete { w.WriteHeader(405); return }
    _, tenant := s.withTenant(r)
    id := strings.TrimPrefix(r.URL.Path, "/v1/subscriptions/")
    if err := s.Store.DeleteSubscription(r.Context(), tenant, id); err != nil { writeProblem(w, 500, "Delete subscription failed", err.Error(), r.URL.Path); return }
    w.WriteHeader(204)
}

// Admin: webhook deliveries list and retry
func (s *Server) WebhookDeliveriesHandler(w http.ResponseWriter, r *http.Request) {
    if r.URL.Path != "/v1/admin/webhook-deliveries" { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    if r.Method != http.MethodGet { w.WriteHeader(405); return }
    _, tenant := s.withTenant(r)
    status := r.URL.Query().Get("status")
    cursor := r.URL.Query().Get("cursor")
    limit := 100
    if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
    items, next, err := s.Store.ListWebhookDeliveries(r.Context(), tenant, status, cursor, limit)
    if err != nil { writeProblem(w, 500, "List deliveries failed", err.Error(), r.URL.Path); return }
    writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
}

func (s *Server) WebhookDeliveryRetryHandler(w http.ResponseWriter, r *http.Request) {
    if !strings.HasPrefix(r.URL.Path, "/v1/admin/webhook-deliveries/") || !strings.HasSuffix(r.URL.Path, "/retry") { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    if r.Method != http.MethodPost { w.WriteHeader(405); return }
    _, tenant := s.withTenant(r)
    id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/admin/webhook-deliveries/"), "/retry")
    err := s.Store.RetryWebhookDelivery(r.Context(), tenant, id)
    if errors.Is(err, store.ErrNotFound) { writeProblem(w, 404, "Delivery not found", id, r.URL.Path); return }
    if err != nil { writeProblem(w, 500, "Retry delivery failed", err.Error(), r.URL.Path); return }
    writeJSON(w, 202, map[string]int{"accepted": 1})
}

// Admin: webhook DLQ list and requeue
func (s *Server) WebhookDLQHandler(w http.ResponseWriter, r *http.Request) {
    _, tenant := s.withTenant(r)
    switch {
    case r.URL.Path == "/v1/admin/webhook-dlq" && r.Method == http.MethodGet:
        cursor := r.URL.Query().Get("cursor")
        limit := 100
        if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
        items, next, err := s.Store.ListWebhookDLQ(r.Context(), tenant, cursor, limit)
        if err != nil { writeProblem(w, 500, "List DLQ failed", err.Error(), r.URL.Path); return }
        writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
    case strings.HasPrefix(r.URL.Path, "/v1/admin/webhook-dlq/") && strings.HasSuffix(r.URL.Path, "/requeue") && r.Method == http.MethodPost:
        id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/admin/webhook-dlq/"), "/requeue")
        err := s.Store.RequeueWebhookDLQ(r.Context(), tenant, id)
        if errors.Is(err, store.ErrNotFound) { writeProblem(w, 404, "DLQ entry not found", id, r.URL.Path); return }
        if err != nil { writeProblem(w, 500, "Requeue failed", err.Error(), r.URL.Path); return }
        writeJSON(w, 202, map[string]int{"accepted": 1})
    default:
        writeProblem(w, 404, "Not Found", "", r.URL.Path)
    }
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, 200, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
    ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
    defer cancel()
    if err := s.Store.Ping(ctx); err != nil { writeProblem(w, 503, "Not Ready", err.Error(), r.URL.Path); return }
    writeJSON(w, 200, map[string]string{"status": "ready"})
}
