package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ensemble"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/predictor"
	"github.com/opensource-finance/kestrel/internal/registry"
	"github.com/opensource-finance/kestrel/internal/repository"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	pipeline   *pipeline.Pipeline
	registry   *registry.Registry
	aggregator *metrics.Aggregator
	repo       domain.Repository
	cache      domain.ProfileCache
	bus        domain.EventBus
	version    string
}

// NewHandler creates a new API handler.
func NewHandler(p *pipeline.Pipeline, reg *registry.Registry, agg *metrics.Aggregator, repo domain.Repository, cache domain.ProfileCache, bus domain.EventBus, version string) *Handler {
	return &Handler{
		pipeline:   p,
		registry:   reg,
		aggregator: agg,
		repo:       repo,
		cache:      cache,
		bus:        bus,
		version:    version,
	}
}

// Score handles POST /score: synchronous scoring of one transaction.
func (h *Handler) Score(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.ScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tx := req.ToTransaction(uuid.New().String())

	result, err := h.pipeline.Score(ctx, tx)
	if err != nil {
		switch {
		case errors.Is(err, ensemble.ErrNoActiveModels), errors.Is(err, ensemble.ErrNoViableModels):
			slog.Error("scoring unavailable",
				"tx_id", tx.ID,
				"trace_id", GetTraceID(ctx),
				"error", err,
			)
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			slog.Error("scoring failed",
				"tx_id", tx.ID,
				"trace_id", GetTraceID(ctx),
				"error", err,
			)
			writeError(w, http.StatusInternalServerError, "scoring failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, result.ToResponse())
}

// Ingest handles POST /ingest: fire-and-forget submission. The worker
// scores the transaction off the bus; the caller gets the assigned
// transaction id back immediately.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "event bus not available")
		return
	}

	var req domain.ScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tx := req.ToTransaction(uuid.New().String())

	payload, err := json.Marshal(tx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode transaction")
		return
	}
	if err := h.bus.Publish(ctx, domain.TopicTransactionIngested, payload); err != nil {
		slog.Error("failed to publish ingested transaction",
			"tx_id", tx.ID,
			"error", err,
		)
		writeError(w, http.StatusServiceUnavailable, "failed to enqueue transaction")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"transaction_id": tx.ID,
		"status":         "accepted",
	})
}

// GetResult handles GET /results/{id}.
func (h *Handler) GetResult(w http.ResponseWriter, r *http.Request) {
	resultID := chi.URLParam(r, "id")
	if resultID == "" {
		writeError(w, http.StatusBadRequest, "result id is required")
		return
	}
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	result, err := h.repo.GetResult(r.Context(), resultID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "result not found")
			return
		}
		slog.Error("failed to get result", "id", resultID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load result")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// GetTransactionResult handles GET /transactions/{id}/result.
func (h *Handler) GetTransactionResult(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "id")
	if txID == "" {
		writeError(w, http.StatusBadRequest, "transaction id is required")
		return
	}
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	result, err := h.repo.GetResultByTransaction(r.Context(), txID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no result for transaction")
			return
		}
		slog.Error("failed to get result by transaction", "tx_id", txID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load result")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ListAlerts handles GET /alerts: recent flagged results, newest first.
// Query params: hours (lookback, default 24), limit (default 100).
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	hours := 24
	if v := r.URL.Query().Get("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "hours must be a positive integer")
			return
		}
		hours = n
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	since := time.Now().Add(-time.Duration(hours) * time.Hour)
	results, err := h.repo.ListFlaggedResults(r.Context(), since, limit)
	if err != nil {
		slog.Error("failed to list flagged results", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load alerts")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": results,
		"count":  len(results),
	})
}

// GetAllMetrics handles GET /metrics: snapshots for every granularity.
func (h *Handler) GetAllMetrics(w http.ResponseWriter, r *http.Request) {
	out := make(map[domain.Granularity]*domain.MetricSnapshot, len(domain.Granularities()))
	for _, g := range domain.Granularities() {
		if snap, ok := h.aggregator.Snapshot(g); ok {
			out[g] = snap
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// GetMetrics handles GET /metrics/{granularity}.
func (h *Handler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	g := domain.Granularity(chi.URLParam(r, "granularity"))
	if !g.Valid() {
		writeError(w, http.StatusBadRequest, "granularity must be one of 1h, 24h, 7d, 30d")
		return
	}

	snap, ok := h.aggregator.Snapshot(g)
	if !ok {
		writeError(w, http.StatusNotFound, "no metrics for granularity")
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

// ListModels handles GET /models.
func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	models := h.registry.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"models":  models,
		"count":   len(models),
		"version": h.registry.Version(),
	})
}

// GetModel handles GET /models/{id}.
func (h *Handler) GetModel(w http.ResponseWriter, r *http.Request) {
	modelID := chi.URLParam(r, "id")

	meta, err := h.registry.Get(modelID)
	if err != nil {
		writeError(w, http.StatusNotFound, "model not found")
		return
	}

	writeJSON(w, http.StatusOK, meta)
}

// RegisterModelRequest is the request body for POST /models.
type RegisterModelRequest struct {
	ID      string  `json:"id"`
	Type    string  `json:"type"`
	Version string  `json:"version,omitempty"`
	Weight  float64 `json:"weight"`
	Active  bool    `json:"active"`
}

// RegisterModel handles POST /models. The predictor is built from the
// type tag; registrations are persisted so the registry can be rebuilt
// at startup.
func (h *Handler) RegisterModel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req RegisterModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	modelType := domain.ModelType(req.Type)
	pred, err := predictor.New(modelType)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	meta := domain.ModelMetadata{
		ID:      req.ID,
		Type:    modelType,
		Version: req.Version,
		Weight:  req.Weight,
		Active:  req.Active,
	}
	if err := h.registry.Register(meta, pred); err != nil {
		writeRegistryError(w, err)
		return
	}

	h.persistModel(ctx, req.ID)

	slog.Info("model registered",
		"model_id", req.ID,
		"type", req.Type,
		"weight", req.Weight,
	)
	writeJSON(w, http.StatusCreated, meta)
}

// UpdateModelWeightRequest is the request body for PUT /models/{id}/weight.
type UpdateModelWeightRequest struct {
	Weight float64 `json:"weight"`
}

// UpdateModelWeight handles PUT /models/{id}/weight.
func (h *Handler) UpdateModelWeight(w http.ResponseWriter, r *http.Request) {
	modelID := chi.URLParam(r, "id")

	var req UpdateModelWeightRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	if err := h.registry.UpdateWeight(modelID, req.Weight); err != nil {
		writeRegistryError(w, err)
		return
	}

	h.persistModel(r.Context(), modelID)

	meta, _ := h.registry.Get(modelID)
	writeJSON(w, http.StatusOK, meta)
}

// ActivateModel handles PUT /models/{id}/activate.
func (h *Handler) ActivateModel(w http.ResponseWriter, r *http.Request) {
	h.setModelActive(w, r, true)
}

// DeactivateModel handles PUT /models/{id}/deactivate. Deactivating the
// last active model is allowed; subsequent scoring calls fail until a
// model is activated again.
func (h *Handler) DeactivateModel(w http.ResponseWriter, r *http.Request) {
	h.setModelActive(w, r, false)
}

func (h *Handler) setModelActive(w http.ResponseWriter, r *http.Request, active bool) {
	modelID := chi.URLParam(r, "id")

	var err error
	if active {
		err = h.registry.Activate(modelID)
	} else {
		err = h.registry.Deactivate(modelID)
	}
	if err != nil {
		writeRegistryError(w, err)
		return
	}

	h.persistModel(r.Context(), modelID)

	meta, _ := h.registry.Get(modelID)
	writeJSON(w, http.StatusOK, meta)
}

// DeregisterModel handles DELETE /models/{id}.
func (h *Handler) DeregisterModel(w http.ResponseWriter, r *http.Request) {
	modelID := chi.URLParam(r, "id")

	if err := h.registry.Deregister(modelID); err != nil {
		writeRegistryError(w, err)
		return
	}

	if h.repo != nil {
		if err := h.repo.DeleteModelConfig(r.Context(), modelID); err != nil && !errors.Is(err, repository.ErrNotFound) {
			slog.Error("failed to delete model config", "model_id", modelID, "error", err)
		}
	}

	slog.Info("model deregistered", "model_id", modelID)
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "deregistered",
	})
}

// persistModel mirrors the registry entry into the repository so the
// registration survives restart. Failures are logged, not surfaced: the
// live registry is authoritative for this process.
func (h *Handler) persistModel(ctx context.Context, modelID string) {
	if h.repo == nil {
		return
	}
	meta, err := h.registry.Get(modelID)
	if err != nil {
		return
	}
	cfg := &domain.ModelConfig{
		ID:      meta.ID,
		Type:    meta.Type,
		Version: meta.Version,
		Weight:  meta.Weight,
		Active:  meta.Active,
	}
	if err := h.repo.SaveModelConfig(ctx, cfg); err != nil {
		slog.Error("failed to persist model config", "model_id", modelID, "error", err)
	}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic. Scoring
// needs at least one active model.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if len(h.registry.ListActive()) == 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready":  "false",
			"reason": "no active models",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func writeRegistryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrDuplicateModel):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, registry.ErrModelNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, registry.ErrInvalidWeight), errors.Is(err, registry.ErrInvalidModelType):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
