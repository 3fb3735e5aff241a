package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/rickgao/effekt/internal/version"
)

// Pinger reports the health of a dependency such as the audit database.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthReport is the body of GET /health.
type HealthReport struct {
	Status  string      `json:"status"`
	Server  ServerStats `json:"server"`
	AuditDB string      `json:"audit_db,omitempty"`
}

// NewAdminRouter returns the admin HTTP handler for s:
//
//	GET /health   server state and counters (503 unless running)
//	GET /clients  registry snapshot
//	GET /version  build information
//	GET /relay    WebSocket relay endpoint
//
// db may be nil when session auditing is disabled.
func NewAdminRouter(s *Server, db Pinger, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	// Long-lived WebSocket connections stay outside the request timeout.
	r.Get("/relay", s.HandleWS)

	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(10 * time.Second))
		r.Get("/health", healthHandler(s, db, logger))
		r.Get("/clients", clientsHandler(s, logger))
		r.Get("/version", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, version.Get(), logger)
		})
	})

	return r
}

func healthHandler(s *Server, db Pinger, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthReport{
			Status: "ok",
			Server: s.Stats(),
		}
		status := http.StatusOK

		if s.State() != StateRunning {
			resp.Status = "unavailable"
			status = http.StatusServiceUnavailable
		}

		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()

			if err := db.Ping(ctx); err != nil {
				logger.Warn("audit database ping failed", "error", err)
				resp.AuditDB = "down"
				if status == http.StatusOK {
					resp.Status = "degraded"
				}
			} else {
				resp.AuditDB = "ok"
			}
		}

		writeJSON(w, status, resp, logger)
	}
}

func clientsHandler(s *Server, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, s.Clients(), logger)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to write JSON response", "error", err)
	}
}
