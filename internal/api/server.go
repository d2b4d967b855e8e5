package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"storefront-notifier/internal/config"
	"storefront-notifier/internal/models"
	"storefront-notifier/internal/queue"
	"storefront-notifier/internal/ratelimit"
	"storefront-notifier/internal/telemetry"
)

// Server exposes the operator facade over the queue manager. Callers scope
// themselves with the X-Store-ID header; an empty header is the platform
// operator view.
type Server struct {
	cfg     config.Config
	manager *queue.Manager
	limiter *ratelimit.TokenBucket
	valid   *validator.Validate
}

// New constructs the API server. limiter may be nil to disable rate limiting.
func New(cfg config.Config, manager *queue.Manager, limiter *ratelimit.TokenBucket) *Server {
	return &Server{
		cfg:     cfg,
		manager: manager,
		limiter: limiter,
		valid:   validator.New(),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Post("/notifications", s.handleEnqueue)
	r.Get("/notifications", s.handleList)
	r.Get("/notifications/stats", s.handleStats)
	r.Post("/notifications/cleanup", s.handleCleanup)
	r.Get("/notifications/{id}", s.handleGet)
	r.Post("/notifications/{id}/retry", s.handleRetry)
	r.Post("/notifications/{id}/cancel", s.handleCancel)
	r.Post("/notifications/{id}/prioritize", s.handlePrioritize)
	return r
}

type payloadRequest struct {
	CustomerName    string `json:"customer_name" validate:"required"`
	CustomerPhone   string `json:"customer_phone" validate:"required"`
	StoreName       string `json:"store_name"`
	DeliveryType    string `json:"delivery_type" validate:"omitempty,oneof=delivery pickup"`
	DeliveryAddress string `json:"delivery_address"`
	NewStatus       string `json:"new_status"`
	ETA             string `json:"eta"`
}

type enqueueRequest struct {
	OrderID  string         `json:"order_id" validate:"required"`
	Kind     string         `json:"kind" validate:"required"`
	Priority *int           `json:"priority" validate:"omitempty,min=0,max=2"`
	Payload  payloadRequest `json:"payload" validate:"required"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	storeID := storeFromRequest(r)
	if storeID == "" {
		writeError(w, http.StatusBadRequest, "X-Store-ID header is required")
		return
	}

	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := s.valid.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if s.limiter != nil {
		allowed, _, err := s.limiter.AllowStore(r.Context(), storeID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "rate limit error")
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			writeError(w, http.StatusTooManyRequests, "rate limited")
			return
		}
	}

	priority := models.PriorityNormal
	if req.Priority != nil {
		priority = *req.Priority
	}
	job, err := s.manager.Enqueue(r.Context(), queue.EnqueueParams{
		StoreID: storeID,
		OrderID: req.OrderID,
		Kind:    req.Kind,
		Payload: models.OrderPayload{
			CustomerName:    req.Payload.CustomerName,
			CustomerPhone:   req.Payload.CustomerPhone,
			StoreName:       req.Payload.StoreName,
			DeliveryType:    req.Payload.DeliveryType,
			DeliveryAddress: req.Payload.DeliveryAddress,
			NewStatus:       req.Payload.NewStatus,
			ETA:             req.Payload.ETA,
		},
		Priority: priority,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.manager.Stats(r.Context(), storeFromRequest(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		writeError(w, http.StatusBadRequest, "status query parameter is required")
		return
	}
	jobs, err := s.manager.JobsByStatus(r.Context(), storeFromRequest(r), status, 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if jobs == nil {
		jobs = []models.NotificationJob{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	job, found, err := s.manager.Job(r.Context(), storeFromRequest(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	s.command(w, r, s.manager.RetryJob, "retry scheduled")
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.command(w, r, s.manager.CancelJob, "cancelled")
}

func (s *Server) handlePrioritize(w http.ResponseWriter, r *http.Request) {
	s.command(w, r, s.manager.PrioritizeJob, "prioritized")
}

type cleanupRequest struct {
	OlderThanHours int `json:"older_than_hours" validate:"min=1"`
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	req := cleanupRequest{OlderThanHours: s.cfg.CleanupRetentionHours}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
		if err := s.valid.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	removed, err := s.manager.Cleanup(r.Context(), time.Duration(req.OlderThanHours)*time.Hour)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"removed": removed})
}

func (s *Server) command(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, storeID, id string) (bool, error), result string) {
	ok, err := fn(r.Context(), storeFromRequest(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		// Cross-tenant hits land here too; existence is never leaked.
		writeError(w, http.StatusNotFound, "job not found or not eligible")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": result})
}

func storeFromRequest(r *http.Request) string {
	return r.Header.Get("X-Store-ID")
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
