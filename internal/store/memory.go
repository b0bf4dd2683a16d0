package store

import (
    "context"
    "sort"
    "sync"
    "time"

    "github.com/google/uuid"
    "mclp/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
    mu       sync.Mutex
    runs     map[string]model.Run                   // id -> run
    byTen    map[string][]string                    // tenant -> run ids, creation order
    coverage map[string][]byte                      // run id -> coverage JSON
    solverMx map[string][]map[string]any            // run id -> metrics per solver
    subs     map[string][]model.Subscription        // tenant -> subscriptions
    // Webhooks queue state
    deliveries map[string]*memDelivery              // id -> delivery state
    deliveriesByTenant map[string][]string          // tenant -> delivery ids
    dlq      []map[string]any                       // dead-lettered deliveries
}

func NewMemory() *Memory {
    return &Memory{
        runs: map[string]model.Run{},
        byTen: map[string][]string{},
        coverage: map[string][]byte{},
        solverMx: map[string][]map[string]any{},
        subs: map[string][]model.Subscription{},
        deliveries: map[string]*memDelivery{},
        deliveriesByTenant: map[string][]string{},
        dlq: []map[string]any{},
    }
}

// memDelivery augments WebhookDelivery with scheduling/metrics
type memDelivery struct {
    WebhookDelivery
    NextAttemptAt time.Time
    LastError     string
    ResponseCode  int
    LatencyMs     int
    DeliveredAt   *time.Time
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

// Runs
func (m *Memory) CreateRun(ctx context.Context, run model.Run) (model.Run, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if run.ID == "" { run.ID = uuid.New().String() }
    if run.Status == "" { run.Status = model.RunQueued }
    if run.CreatedAt.IsZero() { run.CreatedAt = time.Now().UTC() }
    m.runs[run.ID] = run
    m.byTen[run.TenantID] = append(m.byTen[run.TenantID], run.ID)
    return run, nil
}

func (m *Memory) GetRun(ctx context.Context, tenantID, runID string) (model.Run, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    r, ok := m.runs[runID]
    if !ok || r.TenantID != tenantID { return model.Run{}, ErrNotFound }
    return r, nil
}

func (m *Memory) ListRuns(ctx context.Context, tenantID, status, cursor string, limit int) ([]model.Run, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    ids := m.byTen[tenantID]
    start := 0
    if cursor != "" {
        for i, id := range ids {
            if id == cursor { start = i + 1; break }
        }
    }
    if limit <= 0 { limit = 100 }
    out := []model.Run{}
    var next string
    for i := start; i < len(ids) && len(out) < limit; i++ {
        r := m.runs[ids[i]]
        if status == "" || r.Status == status { out = append(out, r) }
        next = ids[i]
    }
    if len(out) < limit { next = "" }
    return out, next, nil
}

func (m *Memory) UpdateRun(ctx context.Context, run model.Run) error {
    m.mu.Lock(); defer m.mu.Unlock()
    cur, ok := m.runs[run.ID]
    if !ok || cur.TenantID != run.TenantID { return ErrNotFound }
    run.CreatedAt = cur.CreatedAt
    m.runs[run.ID] = run
    return nil
}

// Coverage
func (m *Memory) SaveCoverage(ctx context.Context, tenantID, runID string, doc []byte) error {
    m.mu.Lock(); defer m.mu.Unlock()
    r, ok := m.runs[runID]
    if !ok || r.TenantID != tenantID { return ErrNotFound }
    m.coverage[runID] = append([]byte(nil), doc...)
    return nil
}

func (m *Memory) GetCoverage(ctx context.Context, tenantID, runID string) ([]byte, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    r, ok := m.runs[runID]
    if !ok || r.TenantID != tenantID { return nil, ErrNotFound }
    doc, ok := m.coverage[runID]
    if !ok { return nil, ErrNotFound }
    return doc, nil
}

// Solver metrics, upserted per solver
func (m *Memory) SaveSolverMetrics(ctx context.Context, tenantID, runID, solver string, metrics map[string]any) error {
    m.mu.Lock(); defer m.mu.Unlock()
    row := map[string]any{}
    for k, v := range metrics { row[k] = v }
    row["solver"] = solver
    items := m.solverMx[runID]
    for i := range items {
        if items[i]["solver"] == solver { items[i] = row; return nil }
    }
    m.solverMx[runID] = append(items, row)
    return nil
}

func (m *Memory) ListSolverMetrics(ctx context.Context, tenantID, runID string) ([]map[string]any, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if r, ok := m.runs[runID]; !ok || r.TenantID != tenantID { return []map[string]any{}, nil }
    out := append([]map[string]any(nil), m.solverMx[runID]...)
    if out == nil { out = []map[string]any{} }
    sort.Slice(out, func(i, j int) bool { return out[i]["solver"].(string) < out[j]["solver"].(string) })
    return out, nil
}

// Subscriptions
func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    s := model.Subscription{ID: uuid.New().String(), TenantID: req.TenantID, URL: req.URL, Events: req.Events, Secret: req.Secret}
    m.subs[req.TenantID] = append(m.subs[req.TenantID], s)
    return s, nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    var out []model.Subscription
    for _, s := range m.subs[tenantID] {
        for _, e := range s.Events { if e == eventType || e == "*" { out = append(out, s); break } }
    }
    return out, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    list := m.subs[tenantID]
    start := 0
    if cursor != "" {
        for i := range list { if list[i].ID == cursor { start = i+1; break } }
    }
    if limit <= 0 { limit = 100 }
    end := start + limit
    if end > len(list) { end = len(list) }
    items := append([]model.Subscription(nil), list[start:end]...)
    next := ""
    if end < len(list) { next = list[end-1].ID }
    return items, next, nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, tenantID, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    arr := m.subs[tenantID]
    out := make([]model.Subscription, 0, len(arr))
    for _, s := range arr { if s.ID != id { out = append(out, s) } }
    m.subs[tenantID] = out
    return nil
}

// Webhook deliveries
func (m *Memory) EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    id := uuid.New().String()
    d := &memDelivery{WebhookDelivery: WebhookDelivery{ID: id, TenantID: tenantID, SubscriptionID: subscriptionID, EventType: eventType, URL: url, Secret: secret, Payload: payload, Status: DeliveryPending, Attempts: 0}, NextAttemptAt: time.Now()}
    m.deliveries[id] = d
    m.deliveriesByTenant[tenantID] = append(m.deliveriesByTenant[tenantID], id)
    return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    now := time.Now()
    out := []WebhookDelivery{}
    for _, id := range m.iterDeliveryIDs() {
        d := m.deliveries[id]
        if d == nil { continue }
        if d.Retryable() && !d.NextAttemptAt.After(now) {
            out = append(out, d.WebhookDelivery)
            if limit > 0 && len(out) >= limit { break }
        }
    }
    return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.deliveries[id]
    if d == nil { return nil }
    d.Attempts++
    d.ResponseCode = responseCode
    d.LatencyMs = latencyMs
    if success {
        d.Status = DeliveryDelivered
        now := time.Now()
        d.DeliveredAt = &now
    } else {
        d.Status = DeliveryRetry
        d.LastError = lastError
        if nextAttemptAt != nil { d.NextAttemptAt = *nextAttemptAt } else { d.NextAttemptAt = time.Now().Add(1 * time.Minute) }
    }
    return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.deliveries[id]
    tenant := ""
    if d != nil { d.Status = DeliveryFailed; d.Attempts++; d.LastError = lastError; tenant = d.TenantID }
    m.dlq = append(m.dlq, map[string]any{"id": id, "tenantId": tenant, "lastError": lastError, "responseCode": responseCode, "latencyMs": latencyMs})
    return nil
}

func (m *Memory) ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]map[string]any, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    out := []map[string]any{}
    ids := m.deliveriesByTenant[tenantID]
    for _, id := range ids {
        d := m.deliveries[id]
        if d == nil { continue }
        if status == "" || d.Status == status {
            item := map[string]any{"id": d.ID, "eventType": d.EventType, "status": d.Status, "attempts": d.Attempts, "url": d.URL}
            if !d.NextAttemptAt.IsZero() { item["nextAttemptAt"] = d.NextAttemptAt }
            if d.LastError != "" { item["lastError"] = d.LastError }
            out = append(out, item)
        }
    }
    return out, "", nil
}

func (m *Memory) RetryWebhookDelivery(ctx context.Context, tenantID, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.deliveries[id]
    if d == nil || d.TenantID != tenantID { return ErrNotFound }
    d.Status = DeliveryPending
    d.NextAttemptAt = time.Now()
    return nil
}

func (m *Memory) ListWebhookDLQ(ctx context.Context, tenantID, cursor string, limit int) ([]map[string]any, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    out := []map[string]any{}
    for _, it := range m.dlq {
        if it["tenantId"] == tenantID { out = append(out, it) }
    }
    return out, "", nil
}

func (m *Memory) RequeueWebhookDLQ(ctx context.Context, tenantID, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    for i, it := range m.dlq {
        if it["id"] != id || it["tenantId"] != tenantID { continue }
        m.dlq = append(m.dlq[:i], m.dlq[i+1:]...)
        if d := m.deliveries[id]; d != nil {
            d.Status = DeliveryPending
            d.Attempts = 0
            d.NextAttemptAt = time.Now()
        }
        return nil
    }
    return ErrNotFound
}

// helper: iterate delivery IDs by tenant order
func (m *Memory) iterDeliveryIDs() []string {
    ids := []string{}
    for _, lst := range m.deliveriesByTenant {
        ids = append(ids, lst...)
    }
    return ids
}
