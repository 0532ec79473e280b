package control

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vuive/marketsync/internal/core/domain"
	"github.com/vuive/marketsync/internal/infra/storage"
	"github.com/vuive/marketsync/internal/sync/deadletter"
	"github.com/vuive/marketsync/internal/sync/queue"
)

func (a *App) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/jobs", a.handleSubmitJob)
		r.Post("/batches", a.handleSubmitBatch)
		r.Get("/batches/{id}", a.handleBatchStatus)
		r.Get("/queue/stats", a.handleQueueStats)
		r.Post("/queue/pause", a.handlePause)
		r.Post("/queue/resume", a.handleResume)
		r.Get("/dlq/stats", a.handleDLQStats)
		r.Post("/dlq/retry", a.handleDLQBulkRetry)
		r.Post("/dlq/{id}/retry", a.handleDLQRetry)
	})
	r.Get("/healthz", a.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (a *App) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req queue.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	jobID, err := a.queue.AddSyncJob(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

type batchRequest struct {
	ProductIDs     []string        `json:"product_ids"`
	Platform       domain.Platform `json:"platform"`
	BatchID        string          `json:"batch_id,omitempty"`
	OrganizationID string          `json:"organization_id,omitempty"`
	CreatedBy      string          `json:"created_by,omitempty"`
}

func (a *App) handleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.BatchID == "" {
		req.BatchID = uuid.NewString()
	}
	jobIDs, err := a.queue.AddBatchJobs(r.Context(), domain.BatchSyncJob{
		ProductIDs:     req.ProductIDs,
		Platform:       req.Platform,
		BatchID:        req.BatchID,
		OrganizationID: req.OrganizationID,
		CreatedBy:      req.CreatedBy,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"batch_id": req.BatchID,
		"job_ids":  jobIDs,
	})
}

func (a *App) handleBatchStatus(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "id")
	status, err := a.queue.GetBatchStatus(r.Context(), batchID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if status.Total == 0 {
		writeError(w, http.StatusNotFound, "batch not found")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (a *App) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.queue.GetQueueStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *App) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := a.queue.Pause(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

func (a *App) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := a.queue.Resume(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

func (a *App) handleDLQStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.dlq.GetStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *App) handleDLQRetry(w http.ResponseWriter, r *http.Request) {
	result, err := a.dlq.Retry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, storage.ErrDeadLetterNotFound) {
			writeError(w, http.StatusNotFound, "dead letter job not found")
			return
		}
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *App) handleDLQBulkRetry(w http.ResponseWriter, r *http.Request) {
	var filter deadletter.BulkRetryFilter
	if err := json.NewDecoder(r.Body).Decode(&filter); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	result, err := a.dlq.BulkRetry(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{"status": "ok"}
	healthy := true
	if a.db != nil {
		if err := a.db.Health(r.Context()); err != nil {
			checks["database"] = err.Error()
			healthy = false
		} else {
			checks["database"] = "ok"
		}
	}
	if a.redis != nil {
		if err := a.redis.Health(r.Context()); err != nil {
			checks["redis"] = err.Error()
			healthy = false
		} else {
			checks["redis"] = "ok"
		}
	}
	status := http.StatusOK
	if !healthy {
		checks["status"] = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, checks)
}
