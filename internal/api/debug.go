package api

import (
    "encoding/json"
    "net/http"
    "time"

    "mclp/internal/buildinfo"
)

func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
    c := s.Cfg.Server
    info := map[string]any{
        "build": buildinfo.Info(),
        "time":  time.Now().UTC().Format(time.RFC3339),
        "config": map[string]any{
            "PORT": c.Port,
            "SOLVER": s.Cfg.Solver.Name,
            "RATE_RPS": c.RateRPS,
            "RATE_BURST": c.RateBurst,
            "WEBHOOK_MAX_ATTEMPTS": c.WebhookMaxAttempts,
            "MAX_UPLOAD_BYTES": c.MaxUploadBytes,
            "HAS_DATABASE_URL": c.DatabaseURL != "",
            "HAS_REDIS_URL": c.RedisURL != "",
            "HAS_WEBHOOK_URL": c.WebhookURL != "",
        },
    }
    w.Header().Set("Content-Type", "application/json")
    _ = json.NewEncoder(w).Encode(info)
}
