package store

import (
    "context"
    "crypto/sha256"
    "database/sql"
    "embed"
    "encoding/hex"
    "encoding/json"
    "errors"
    "fmt"
    "io/fs"
    "os"
    "path/filepath"
    "sort"
    "time"

    "github.com/google/uuid"
    _ "github.com/jackc/pgx/v5/stdlib"

    "mclp/internal/model"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Postgres struct {
    db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
    db, err := sql.Open("pgx", dsn)
    if err != nil {
        return nil, err
    }
    if err := db.Ping(); err != nil {
        return nil, err
    }
    return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

// Migrate applies the embedded schema. Statements are idempotent.
func (p *Postgres) Migrate(ctx context.Context) error {
    return p.migrateFS(ctx, migrations, "migrations")
}

// MigrateDir applies every .sql file under dir in lexical order.
func (p *Postgres) MigrateDir(ctx context.Context, dir string) error {
    return p.migrateFS(ctx, os.DirFS(dir), ".")
}

func (p *Postgres) migrateFS(ctx context.Context, fsys fs.FS, dir string) error {
    entries, err := fs.ReadDir(fsys, dir)
    if err != nil { return err }
    names := []string{}
    for _, e := range entries {
        if !e.IsDir() && filepath.Ext(e.Name()) == ".sql" { names = append(names, e.Name()) }
    }
    sort.Strings(names)
    for _, name := range names {
        b, err := fs.ReadFile(fsys, filepath.ToSlash(filepath.Join(dir, name)))
        if err != nil { return err }
        if _, err := p.db.ExecContext(ctx, string(b)); err != nil {
            return fmt.Errorf("migration %s: %w", name, err)
        }
    }
    return nil
}

// Runs
const runColumns = `id::text, tenant_id, COALESCE(label,''), COALESCE(source,''), status, params, result, COALESCE(error,''), COALESCE(error_field,''), created_at, started_at, finished_at`

func (p *Postgres) CreateRun(ctx context.Context, run model.Run) (model.Run, error) {
    if run.ID == "" { run.ID = uuid.New().String() }
    if run.Status == "" { run.Status = model.RunQueued }
    if run.CreatedAt.IsZero() { run.CreatedAt = time.Now().UTC() }
    params, err := json.Marshal(run.Params)
    if err != nil { return model.Run{}, err }
    _, err = p.db.ExecContext(ctx, `INSERT INTO runs (id, tenant_id, label, source, status, params, created_at) VALUES ($1,$2,$3,$4,$5,$6::jsonb,$7)`,
        run.ID, run.TenantID, nullIfEmpty(run.Label), nullIfEmpty(run.Source), run.Status, string(params), run.CreatedAt)
    if err != nil { return model.Run{}, err }
    return run, nil
}

func (p *Postgres) GetRun(ctx context.Context, tenantID, runID string) (model.Run, error) {
    if _, err := uuid.Parse(runID); err != nil { return model.Run{}, ErrNotFound }
    row := p.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE tenant_id=$1 AND id=$2`, tenantID, runID)
    r, err := scanRun(row)
    if errors.Is(err, sql.ErrNoRows) { return r, ErrNotFound }
    return r, err
}

func (p *Postgres) ListRuns(ctx context.Context, tenantID, status, cursor string, limit int) ([]model.Run, string, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    q := `SELECT ` + runColumns + ` FROM runs WHERE tenant_id=$1`
    args := []any{tenantID}
    if status != "" {
        args = append(args, status)
        q += fmt.Sprintf(` AND status=$%d`, len(args))
    }
    if cursor != "" {
        if _, err := uuid.Parse(cursor); err != nil { return nil, "", fmt.Errorf("invalid cursor") }
        args = append(args, cursor)
        q += fmt.Sprintf(` AND (created_at, id) > (SELECT created_at, id FROM runs WHERE id=$%d)`, len(args))
    }
    args = append(args, limit)
    q += fmt.Sprintf(` ORDER BY created_at, id LIMIT $%d`, len(args))
    rows, err := p.db.QueryContext(ctx, q, args...)
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []model.Run{}
    var last string
    for rows.Next() {
        r, err := scanRun(rows)
        if err != nil { return nil, "", err }
        out = append(out, r)
        last = r.ID
    }
    if err := rows.Err(); err != nil { return nil, "", err }
    next := ""
    if len(out) == limit { next = last }
    return out, next, nil
}

func (p *Postgres) UpdateRun(ctx context.Context, run model.Run) error {
    var result any
    if run.Result != nil {
        b, err := json.Marshal(run.Result)
        if err != nil { return err }
        result = string(b)
    }
    res, err := p.db.ExecContext(ctx, `UPDATE runs SET status=$3, result=$4::jsonb, error=$5, error_field=$6, started_at=$7, finished_at=$8, source=COALESCE($9, source) WHERE tenant_id=$1 AND id=$2`,
        run.TenantID, run.ID, run.Status, result, nullIfEmpty(run.Error), nullIfEmpty(run.ErrorField), run.StartedAt, run.FinishedAt, nullIfEmpty(run.Source))
    if err != nil { return err }
    if n, _ := res.RowsAffected(); n == 0 { return ErrNotFound }
    return nil
}

type rowScanner interface{ Scan(dest ...any) error }

func scanRun(s rowScanner) (model.Run, error) {
    var r model.Run
    var params, result []byte
    var started, finished sql.NullTime
    if err := s.Scan(&r.ID, &r.TenantID, &r.Label, &r.Source, &r.Status, &params, &result, &r.Error, &r.ErrorField, &r.CreatedAt, &started, &finished); err != nil {
        return r, err
    }
    if len(params) > 0 { _ = json.Unmarshal(params, &r.Params) }
    if len(result) > 0 {
        var res model.RunResult
        if json.Unmarshal(result, &res) == nil { r.Result = &res }
    }
    if started.Valid { t := started.Time; r.StartedAt = &t }
    if finished.Valid { t := finished.Time; r.FinishedAt = &t }
    return r, nil
}

// Coverage
func (p *Postgres) SaveCoverage(ctx context.Context, tenantID, runID string, doc []byte) error {
    _, err := p.db.ExecContext(ctx, `INSERT INTO run_coverage (run_id, tenant_id, doc) VALUES ($1,$2,$3::jsonb)
        ON CONFLICT (run_id) DO UPDATE SET doc=EXCLUDED.doc, created_at=now()`, runID, tenantID, string(doc))
    return err
}

func (p *Postgres) GetCoverage(ctx context.Context, tenantID, runID string) ([]byte, error) {
    if _, err := uuid.Parse(runID); err != nil { return nil, ErrNotFound }
    var doc []byte
    err := p.db.QueryRowContext(ctx, `SELECT doc FROM run_coverage WHERE tenant_id=$1 AND run_id=$2`, tenantID, runID).Scan(&doc)
    if errors.Is(err, sql.ErrNoRows) { return nil, ErrNotFound }
    return doc, err
}

// Solver metrics
func (p *Postgres) SaveSolverMetrics(ctx context.Context, tenantID, runID, solver string, metrics map[string]any) error {
    b, err := json.Marshal(metrics)
    if err != nil { return err }
    _, err = p.db.ExecContext(ctx, `INSERT INTO solver_metrics (run_id, tenant_id, solver, metrics) VALUES ($1,$2,$3,$4::jsonb)
        ON CONFLICT (run_id, solver) DO UPDATE SET metrics=EXCLUDED.metrics, created_at=now()`, runID, tenantID, solver, string(b))
    return err
}

func (p *Postgres) ListSolverMetrics(ctx context.Context, tenantID, runID string) ([]map[string]any, error) {
    out := []map[string]any{}
    if _, err := uuid.Parse(runID); err != nil { return out, nil }
    rows, err := p.db.QueryContext(ctx, `SELECT solver, metrics FROM solver_metrics WHERE tenant_id=$1 AND run_id=$2 ORDER BY solver`, tenantID, runID)
    if err != nil { return nil, err }
    defer rows.Close()
    for rows.Next() {
        var solver string
        var raw []byte
        if err := rows.Scan(&solver, &raw); err != nil { return nil, err }
        item := map[string]any{}
        _ = json.Unmarshal(raw, &item)
        item["solver"] = solver
        out = append(out, item)
    }
    return out, rows.Err()
}

// Subscriptions
func (p *Postgres) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
    id := uuid.New().String()
    ev, _ := json.Marshal(req.Events)
    _, err := p.db.ExecContext(ctx, `INSERT INTO subscriptions (id, tenant_id, url, events, secret) VALUES ($1,$2,$3,$4::jsonb,$5)`, id, req.TenantID, req.URL, string(ev), nullIfEmpty(req.Secret))
    if err != nil { return model.Subscription{}, err }
    return model.Subscription{ID: id, TenantID: req.TenantID, URL: req.URL, Events: req.Events, Secret: req.Secret}, nil
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, url, COALESCE(secret,''), events FROM subscriptions WHERE tenant_id=$1 AND (events @> $2::jsonb OR events @> '["*"]'::jsonb)`, tenantID, fmt.Sprintf("[%q]", eventType))
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.Subscription{}
    for rows.Next() {
        var s model.Subscription
        var events []byte
        if err := rows.Scan(&s.ID, &s.URL, &s.Secret, &events); err != nil { return nil, err }
        s.TenantID = tenantID
        _ = json.Unmarshal(events, &s.Events)
        out = append(out, s)
    }
    return out, rows.Err()
}

func (p *Postgres) ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    var rows *sql.Rows
    var err error
    if cursor != "" {
        rows, err = p.db.QueryContext(ctx, `SELECT id::text, url, COALESCE(secret,''), events FROM subscriptions WHERE tenant_id=$1 AND id::text > $2 ORDER BY id LIMIT $3`, tenantID, cursor, limit)
    } else {
        rows, err = p.db.QueryContext(ctx, `SELECT id::text, url, COALESCE(secret,''), events FROM subscriptions WHERE tenant_id=$1 ORDER BY id LIMIT $2`, tenantID, limit)
    }
    if err != nil { return nil, "", err }
    defer rows.Close()
    var out []model.Subscription
    var last string
    for rows.Next() {
        var s model.Subscription
        var ev []byte
        if err := rows.Scan(&s.ID, &s.URL, &s.Secret, &ev); err != nil { return nil, "", err }
        s.TenantID = tenantID
        _ = json.Unmarshal(ev, &s.Events)
        out = append(out, s)
        last = s.ID
    }
    next := ""
    if len(out) == limit { next = last }
    return out, next, nil
}

func (p *Postgres) DeleteSubscription(ctx context.Context, tenantID, id string) error {
    _, err := p.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE tenant_id=$1 AND id::text=$2`, tenantID, id)
    return err
}

// Webhook deliveries
func (p *Postgres) EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
    id := uuid.New().String()
    dk := computeDedupKey(payload)
    _, err := p.db.ExecContext(ctx, `INSERT INTO webhook_deliveries (id, tenant_id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at, dedup_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,'pending',0,now(),$8)
        ON CONFLICT (tenant_id, event_type, url, dedup_key) DO NOTHING`, id, tenantID, nullIfEmpty(subscriptionID), eventType, url, nullIfEmpty(secret), payload, dk)
    if err != nil { return "", err }
    return id, nil
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, tenant_id, COALESCE(subscription_id::text,''), event_type, url, COALESCE(secret,''), payload, status, attempts
        FROM webhook_deliveries WHERE status IN ('pending','retry') AND next_attempt_at <= now() ORDER BY next_attempt_at ASC LIMIT $1`, limit)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []WebhookDelivery{}
    for rows.Next() {
        var d WebhookDelivery
        var payload []byte
        if err := rows.Scan(&d.ID, &d.TenantID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &payload, &d.Status, &d.Attempts); err != nil { return nil, err }
        d.Payload = payload
        out = append(out, d)
    }
    return out, rows.Err()
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
    if !success {
        if nextAttemptAt == nil { t := time.Now().Add(1 * time.Minute); nextAttemptAt = &t }
        _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='retry', last_error=$1, next_attempt_at=$2, updated_at=now(), response_code=$4, latency_ms=$5 WHERE id=$3`, nullIfEmpty(lastError), *nextAttemptAt, id, responseCode, latencyMs)
        return err
    }
    _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='delivered', delivered_at=now(), updated_at=now(), response_code=$2, latency_ms=$3 WHERE id=$1`, id, responseCode, latencyMs)
    return err
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return err }
    defer func(){ _ = tx.Rollback() }()
    _, err = tx.ExecContext(ctx, `UPDATE webhook_deliveries SET status='failed', attempts=attempts+1, last_error=$2, updated_at=now(), response_code=$3, latency_ms=$4 WHERE id=$1`, id, nullIfEmpty(lastError), responseCode, latencyMs)
    if err != nil { return err }
    // move to DLQ
    _, err = tx.ExecContext(ctx, `INSERT INTO webhook_dlq (id, tenant_id, delivery_id, event_type, url, secret, payload, attempts, last_error, response_code, latency_ms)
        SELECT gen_random_uuid(), tenant_id, id, event_type, url, secret, payload, attempts, $2, $3, $4 FROM webhook_deliveries WHERE id=$1`, id, nullIfEmpty(lastError), responseCode, latencyMs)
    if err != nil { return err }
    return tx.Commit()
}

func (p *Postgres) ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]map[string]any, string, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    q := `SELECT id::text, event_type, status, attempts, next_attempt_at, COALESCE(last_error,''), url FROM webhook_deliveries WHERE tenant_id=$1`
    args := []any{tenantID}
    if status != "" { args = append(args, status); q += fmt.Sprintf(` AND status=$%d`, len(args)) }
    if cursor != "" { args = append(args, cursor); q += fmt.Sprintf(` AND id::text > $%d`, len(args)) }
    args = append(args, limit)
    q += fmt.Sprintf(` ORDER BY id LIMIT $%d`, len(args))
    rows, err := p.db.QueryContext(ctx, q, args...)
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []map[string]any{}
    var last string
    for rows.Next() {
        var id, typ, st, lastErr, url string
        var attempts int
        var nextAt sql.NullTime
        if err := rows.Scan(&id, &typ, &st, &attempts, &nextAt, &lastErr, &url); err != nil { return nil, "", err }
        m := map[string]any{"id": id, "eventType": typ, "status": st, "attempts": attempts, "url": url}
        if nextAt.Valid { m["nextAttemptAt"] = nextAt.Time }
        if lastErr != "" { m["lastError"] = lastErr }
        out = append(out, m)
        last = id
    }
    next := ""
    if len(out) == limit { next = last }
    return out, next, nil
}

func (p *Postgres) RetryWebhookDelivery(ctx context.Context, tenantID, id string) error {
    res, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='pending', next_attempt_at=now() WHERE tenant_id=$1 AND id::text=$2`, tenantID, id)
    if err != nil { return err }
    if n, _ := res.RowsAffected(); n == 0 { return ErrNotFound }
    return nil
}

func (p *Postgres) ListWebhookDLQ(ctx context.Context, tenantID, cursor string, limit int) ([]map[string]any, string, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    q := `SELECT id::text, COALESCE(delivery_id::text,''), event_type, url, COALESCE(last_error,''), attempts, created_at, COALESCE(response_code,0), COALESCE(latency_ms,0) FROM webhook_dlq WHERE tenant_id=$1`
    args := []any{tenantID}
    if cursor != "" { args = append(args, cursor); q += fmt.Sprintf(` AND id::text > $%d`, len(args)) }
    args = append(args, limit)
    q += fmt.Sprintf(` ORDER BY id LIMIT $%d`, len(args))
    rows, err := p.db.QueryContext(ctx, q, args...)
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []map[string]any{}
    var last string
    for rows.Next() {
        var id, delID, et, url, errStr string
        var attempts int
        var created time.Time
        var code, latency int
        if err := rows.Scan(&id, &delID, &et, &url, &errStr, &attempts, &created, &code, &latency); err != nil { return nil, "", err }
        out = append(out, map[string]any{"id": id, "deliveryId": delID, "eventType": et, "url": url, "lastError": errStr, "attempts": attempts, "createdAt": created, "responseCode": code, "latencyMs": latency})
        last = id
    }
    next := ""
    if len(out) == limit { next = last }
    return out, next, nil
}

func (p *Postgres) RequeueWebhookDLQ(ctx context.Context, tenantID, id string) error {
    var delID string
    err := p.db.QueryRowContext(ctx, `SELECT COALESCE(delivery_id::text,'') FROM webhook_dlq WHERE tenant_id=$1 AND id::text=$2`, tenantID, id).Scan(&delID)
    if errors.Is(err, sql.ErrNoRows) { return ErrNotFound }
    if err != nil { return err }
    // the original delivery row still holds the dedup key, so reset it in place
    if _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='pending', attempts=0, next_attempt_at=now(), updated_at=now() WHERE id::text=$1`, delID); err != nil { return err }
    _, err = p.db.ExecContext(ctx, `DELETE FROM webhook_dlq WHERE tenant_id=$1 AND id::text=$2`, tenantID, id)
    return err
}

func computeDedupKey(payload []byte) string {
    // try to parse JSON and use id
    var m map[string]any
    if json.Unmarshal(payload, &m) == nil {
        if v, ok := m["id"].(string); ok && v != "" {
            return v
        }
    }
    sum := sha256.Sum256(payload)
    return hex.EncodeToString(sum[:8])
}

func nullIfEmpty(s string) any { if s == "" { return nil }; return s }
