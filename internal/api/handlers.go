package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/maltedev/store-scraper/internal/jobs"
	"github.com/maltedev/store-scraper/internal/models"
	"github.com/maltedev/store-scraper/internal/ratelimit"
)

// Outbox backlog thresholds reported by /health.
const (
	pendingWarnThreshold    = 1000
	deadLetterFailThreshold = 100
)

// HealthChecker reports backend details for /health.
type HealthChecker interface {
	Health(ctx context.Context) (map[string]any, error)
}

type Handlers struct {
	jobs    *jobs.Manager
	health  HealthChecker
	limiter *ratelimit.Limiter
	logger  *slog.Logger
}

func NewHandlers(jobs *jobs.Manager, health HealthChecker, limiter *ratelimit.Limiter, logger *slog.Logger) *Handlers {
	return &Handlers{
		jobs:    jobs,
		health:  health,
		limiter: limiter,
		logger:  logger.With("component", "api"),
	}
}

type KeywordRequest struct {
	Keyword string `json:"keyword"`
	APIKey  string `json:"api-key"`
}

type StatusResponse struct {
	RequestID string               `json:"request-id"`
	Status    models.RequestStatus `json:"status"`
}

type ResultsResponse struct {
	RequestID string                `json:"request-id"`
	Status    models.RequestStatus  `json:"status"`
	Products  []models.Product      `json:"products"`
	Stores    []models.StoreOutcome `json:"stores"`
}

// SubmitKeyword queues a keyword for every enabled store.
func (h *Handlers) SubmitKeyword(w http.ResponseWriter, r *http.Request) {
	var req KeywordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// Callers without a valid key are limited by address.
	key, err := h.jobs.Authenticate(r.Context(), req.APIKey)
	if err != nil {
		if !h.limiter.Allow("ip:" + clientIP(r)) {
			h.respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		h.respondFailure(w, err)
		return
	}
	if !h.limiter.Allow("key:" + strconv.FormatInt(key.ID, 10)) {
		h.respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	created, err := h.jobs.Submit(r.Context(), req.APIKey, req.Keyword)
	if err != nil {
		h.respondFailure(w, err)
		return
	}

	h.respondJSON(w, http.StatusAccepted, StatusResponse{
		RequestID: created.ID.String(),
		Status:    created.Status,
	})
}

func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requestID(w, r)
	if !ok {
		return
	}

	req, err := h.jobs.Status(r.Context(), id)
	if err != nil {
		h.respondFailure(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, StatusResponse{
		RequestID: req.ID.String(),
		Status:    req.Status,
	})
}

// GetResults returns the products stored so far and the per-store outcomes.
func (h *Handlers) GetResults(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requestID(w, r)
	if !ok {
		return
	}

	results, err := h.jobs.Results(r.Context(), id)
	if err != nil {
		h.respondFailure(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, ResultsResponse{
		RequestID: results.Request.ID.String(),
		Status:    results.Request.Status,
		Products:  results.Products,
		Stores:    results.Stores,
	})
}

func (h *Handlers) ListStores(w http.ResponseWriter, r *http.Request) {
	infos, err := h.jobs.Stores(r.Context())
	if err != nil {
		h.respondFailure(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"stores": infos})
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{"status": "ok"}
	if h.health == nil {
		h.respondJSON(w, http.StatusOK, health)
		return
	}

	details, err := h.health.Health(r.Context())
	if err != nil {
		h.logger.Error("health check failed", "error", err)
		health["status"] = "error"
		health["message"] = "backend unavailable"
		h.respondJSON(w, http.StatusServiceUnavailable, health)
		return
	}
	for k, v := range details {
		health[k] = v
	}

	status := http.StatusOK
	if n, ok := details["outbox_pending"].(int64); ok && n > pendingWarnThreshold {
		health["status"] = "warning"
		health["message"] = "High number of pending outbox events"
	}
	if n, ok := details["outbox_dead_letter"].(int64); ok && n > deadLetterFailThreshold {
		health["status"] = "error"
		health["message"] = "High number of dead letter events"
		status = http.StatusServiceUnavailable
	}

	h.respondJSON(w, status, health)
}

// RateLimitByClient limits read endpoints per client address.
func (h *Handlers) RateLimitByClient(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.limiter.Allow("ip:" + clientIP(r)) {
			h.respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (h *Handlers) requestID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("request-id"))
	if raw == "" {
		h.respondError(w, http.StatusBadRequest, "request-id is required")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request-id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handlers) respondFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrValidation):
		h.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrUnauthorized):
		h.respondError(w, http.StatusUnauthorized, "invalid or inactive api-key")
	case errors.Is(err, models.ErrRequestNotFound):
		h.respondError(w, http.StatusNotFound, "request not found")
	default:
		h.logger.Error("request failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
