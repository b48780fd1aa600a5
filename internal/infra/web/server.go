// File: internal/infra/web/server.go
package web

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"subscription-billing/internal/infra/sched"
	"subscription-billing/internal/usecase"
)

// CleanupController is the slice of the reaper the HTTP layer exposes.
type CleanupController interface {
	Stats() sched.CleanupStats
	ForceCleanup(ctx context.Context) (int, error)
	Healthy() bool
}

type Server struct {
	lifecycle usecase.PaymentLifecycle
	cleanup   CleanupController
	apiKey    string
	log       *zerolog.Logger
}

func NewServer(lifecycle usecase.PaymentLifecycle, cleanup CleanupController, apiKey string, logger *zerolog.Logger) *Server {
	l := logger.With().Str("component", "WebServer").Logger()
	return &Server{
		lifecycle: lifecycle,
		cleanup:   cleanup,
		apiKey:    apiKey,
		log:       &l,
	}
}

// Router builds the full route tree. The webhook endpoint authenticates via
// the gateway signature, not the admin API key, so it stays outside the
// bearer-protected group.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(TraceID(s.log))
	r.Use(RequestLog(s.log))
	r.Use(Recover(s.log))
	r.Use(Timeout(30 * time.Second))

	r.Post("/webhook/payment", s.handleWebhook)
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(s.authMiddleware)
		api.Post("/links", s.handleCreateLink)
		api.Post("/links/recalculate", s.handleBulkRecalculate)
		api.Post("/links/{linkID}/mark-success", s.handleMarkSuccess)
		api.Post("/links/{linkID}/recalculate", s.handleRecalculate)
		api.Get("/cleanup/stats", s.handleCleanupStats)
		api.Post("/cleanup/run", s.handleCleanupRun)
	})

	return r
}

// authMiddleware provides simple Bearer token authentication for the admin API.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			s.log.Error().Msg("admin API key is not configured")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		tokenParts := strings.Split(authHeader, " ")
		if len(tokenParts) != 2 || strings.ToLower(tokenParts[0]) != "bearer" {
			http.Error(w, "Unauthorized: Malformed token", http.StatusUnauthorized)
			return
		}

		if tokenParts[1] != s.apiKey {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}
