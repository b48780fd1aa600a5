// File: internal/infra/web/handlers.go
package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"subscription-billing/internal/domain"
	"subscription-billing/internal/domain/ports/repository"
	"subscription-billing/internal/infra/logging"
	"subscription-billing/internal/usecase"
)

// Webhook authentication headers. Signature is HMAC over the timestamp and
// the raw body; both must be present.
const (
	headerSignature = "X-Webhook-Signature"
	headerTimestamp = "X-Webhook-Timestamp"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// handleWebhook receives gateway event deliveries. It always answers 200 for
// accepted events, including ones that resolve to no-ops, so the provider
// does not redeliver.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	sig := r.Header.Get(headerSignature)
	ts := r.Header.Get(headerTimestamp)

	if err := s.lifecycle.HandleWebhook(r.Context(), raw, sig, ts); err != nil {
		l := logging.With(r.Context(), s.log)
		if errors.Is(err, domain.ErrUnauthenticated) {
			l.Warn().Msg("webhook signature rejected")
			writeError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
		l.Error().Err(err).Msg("webhook processing failed")
		writeError(w, http.StatusInternalServerError, "processing failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateLink(w http.ResponseWriter, r *http.Request) {
	var req usecase.CreateLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := s.lifecycle.CreateLink(r.Context(), req)
	if err != nil {
		var conflict *domain.ConflictError
		switch {
		case errors.As(err, &conflict):
			writeJSON(w, http.StatusConflict, map[string]any{
				"error":            "pending payment already exists",
				"existing_link_id": conflict.ExistingLinkID,
			})
		case errors.Is(err, domain.ErrInvalidArgument):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrGatewayUnavailable):
			writeError(w, http.StatusBadGateway, "payment gateway unavailable")
		default:
			writeError(w, http.StatusInternalServerError, "failed to create payment link")
		}
		return
	}

	resp := map[string]any{"link": res.Link}
	if res.Warning != "" {
		resp["warning"] = res.Warning
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleMarkSuccess(w http.ResponseWriter, r *http.Request) {
	linkID := chi.URLParam(r, "linkID")
	if linkID == "" {
		writeError(w, http.StatusBadRequest, "link id is required")
		return
	}

	link, err := s.lifecycle.ManualMarkSuccess(r.Context(), linkID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "payment link not found")
		case errors.Is(err, domain.ErrAlreadyTerminal):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, domain.ErrOperationFailed):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, domain.ErrGatewayUnavailable):
			writeError(w, http.StatusBadGateway, "payment gateway unavailable")
		default:
			writeError(w, http.StatusInternalServerError, "failed to mark success")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"link": link})
}

func (s *Server) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	linkID := chi.URLParam(r, "linkID")
	if linkID == "" {
		writeError(w, http.StatusBadRequest, "link id is required")
		return
	}
	force := r.URL.Query().Get("force") == "true"

	link, err := s.lifecycle.RecalculateFees(r.Context(), linkID, force)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "payment link not found")
		case errors.Is(err, domain.ErrInvalidArgument):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "fee recalculation failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"link": link})
}

func (s *Server) handleBulkRecalculate(w http.ResponseWriter, r *http.Request) {
	var filter repository.RecalcFilter
	if err := json.NewDecoder(r.Body).Decode(&filter); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	report, err := s.lifecycle.BulkRecalculate(r.Context(), filter)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "bulk recalculation failed")
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleCleanupStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cleanup.Stats())
}

func (s *Server) handleCleanupRun(w http.ResponseWriter, r *http.Request) {
	count, err := s.cleanup.ForceCleanup(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "cleanup run failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"expired": count})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	healthy := s.cleanup == nil || s.cleanup.Healthy()
	status := "ok"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":         status,
		"reaper_healthy": healthy,
	})
}
