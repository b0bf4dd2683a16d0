// Package api implements the HTTP service that runs MCLP studies on demand.
package api

import (
    "context"
    "io"
    "log"
    "net/http"
    "strings"
    "sync"

    "mclp/internal/config"
    "mclp/internal/opt"
    "mclp/internal/store"
    "mclp/internal/webhooks"
)

const defaultTenant = "t_demo"

type Server struct {
    Cfg     config.Config
    Store   store.Store
    Pub     *webhooks.Publisher
    Broker  EventBroker
    Logger  *log.Logger
    Limiter *RateLimiter
    // NewSolver builds the solver of a run; tests swap it.
    NewSolver func(opt.Config) (opt.Solver, error)

    ctx    context.Context
    cancel context.CancelFunc
    runs   sync.WaitGroup
}

// NewServer creates a Server. If no database URL is configured, uses the
// in-memory store; without a Redis URL events stay in process.
func NewServer(cfg config.Config, logger *log.Logger) (*Server, error) {
    if logger == nil { logger = log.New(io.Discard, "", 0) }
    var s store.Store
    if dsn := strings.TrimSpace(cfg.Server.DatabaseURL); dsn == "" {
        s = store.NewMemory()
    } else {
        sp, err := store.NewPostgres(dsn)
        if err != nil {
            return nil, err
        }
        if cfg.Server.Migrate {
            if err := sp.Migrate(context.Background()); err != nil {
                return nil, err
            }
        }
        s = sp
    }
    // Broker selection
    var broker EventBroker
    if cfg.Server.RedisURL != "" {
        if rb, err := NewRedisBroker(cfg.Server.RedisURL); err == nil {
            broker = rb
        } else {
            logger.Printf("redis broker unavailable, using in-process events: %v", err)
            broker = NewBroker()
        }
    } else {
        broker = NewBroker()
    }
    ctx, cancel := context.WithCancel(context.Background())
    pub := webhooks.NewPublisher(s, cfg.Server.WebhookURL, cfg.Server.WebhookSecret, logger)
    return &Server{
        Cfg:       cfg,
        Store:     s,
        Pub:       pub,
        Broker:    broker,
        Logger:    logger,
        Limiter:   NewRateLimiter(cfg.Server.RateRPS, cfg.Server.RateBurst),
        NewSolver: opt.New,
        ctx:       ctx,
        cancel:    cancel,
    }, nil
}

func (s *Server) withTenant(r *http.Request) (context.Context, string) {
    tenant := strings.TrimSpace(r.Header.Get("X-Tenant-Id"))
    if tenant == "" { tenant = defaultTenant }
    ctx := context.WithValue(r.Context(), ctxKeyTenant{}, tenant)
    return ctx, tenant
}

type ctxKeyTenant struct{}

// NewWebhookWorker creates a background worker for webhook deliveries.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
    return webhooks.NewWorker(s.Store, s.Cfg.Server.WebhookMaxAttempts)
}

// Wait blocks until every background run has finished.
func (s *Server) Wait() { s.runs.Wait() }

// Close cancels background runs and waits for them.
func (s *Server) Close() {
    s.cancel()
    s.runs.Wait()
}
