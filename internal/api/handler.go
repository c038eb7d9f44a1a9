package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/skoll/overseer/internal/budget"
	"github.com/skoll/overseer/internal/cache"
	"github.com/skoll/overseer/internal/ledger"
	"github.com/skoll/overseer/internal/orchestrator"
	"github.com/skoll/overseer/internal/provider"
	"github.com/skoll/overseer/internal/registry"
	"github.com/skoll/overseer/internal/routing"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	service  *orchestrator.Service
	registry *registry.Registry
	router   *routing.Router
	selector *routing.Selector
	catalog  *provider.Catalog
	usage    *ledger.Ledger
	cache    *cache.Cache
	budget   *budget.Controller
	logger   *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(
	service *orchestrator.Service,
	reg *registry.Registry,
	router *routing.Router,
	selector *routing.Selector,
	catalog *provider.Catalog,
	usage *ledger.Ledger,
	responseCache *cache.Cache,
	budgetCtl *budget.Controller,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		service:  service,
		registry: reg,
		router:   router,
		selector: selector,
		catalog:  catalog,
		usage:    usage,
		cache:    responseCache,
		budget:   budgetCtl,
		logger:   logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		// Orchestration routes
		r.Post("/tasks", h.orchestrateTask)
		r.Post("/recommendations", h.recommendAgents)

		// Message routing routes
		r.Post("/messages", h.routeMessage)
		r.Post("/messages/batch", h.routeBatch)

		// Agent registry routes
		r.Get("/agents", h.listAgents)
		r.Post("/agents", h.registerAgent)
		r.Get("/agents/{name}", h.getAgent)
		r.Get("/agents/{name}/alternatives", h.agentAlternatives)

		// Provider and budget routes
		r.Get("/providers", h.listProviders)
		r.Get("/budgets", h.listBudgets)
		r.Put("/budgets/{id}", h.setBudget)
		r.Put("/speed/{id}", h.setSpeedThreshold)

		// Usage routes
		r.Get("/metrics", h.metrics)
		r.Get("/usage", h.recentUsage)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "overseer"})
}

func (h *Handler) orchestrateTask(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.TaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	report, err := h.service.Orchestrate(r.Context(), &req)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, orchestrator.ErrEmptyTask):
			status = http.StatusBadRequest
		case errors.Is(err, registry.ErrNoSuitableAgent):
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type recommendRequest struct {
	Task string `json:"task"`
}

func (h *Handler) recommendAgents(w http.ResponseWriter, r *http.Request) {
	var req recommendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Task) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "task is required"})
		return
	}
	recs := h.registry.Recommend(req.Task)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"task":            req.Task,
		"recommendations": recs,
	})
}

func (h *Handler) routeMessage(w http.ResponseWriter, r *http.Request) {
	var req routing.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "prompt is required"})
		return
	}

	result, err := h.router.Route(r.Context(), &req)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, routing.ErrNoProviders):
			status = http.StatusServiceUnavailable
		case errors.Is(err, routing.ErrAllProvidersFailed):
			status = http.StatusBadGateway
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type batchRequest struct {
	Requests []*routing.Request `json:"requests"`
}

type batchItemResponse struct {
	Index  int             `json:"index"`
	Result *routing.Result `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

func (h *Handler) routeBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if len(req.Requests) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "requests are required"})
		return
	}

	items := h.router.BatchRoute(r.Context(), req.Requests)
	out := make([]batchItemResponse, len(items))
	for i, item := range items {
		out[i] = batchItemResponse{Index: item.Index, Result: item.Result}
		if item.Err != nil {
			out[i].Error = item.Err.Error()
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": out})
}

func (h *Handler) listAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.List())
}

func (h *Handler) registerAgent(w http.ResponseWriter, r *http.Request) {
	var def registry.Definition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := h.registry.Register(&def); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	stored, _ := h.registry.Get(def.Name)
	writeJSON(w, http.StatusCreated, stored)
}

func (h *Handler) getAgent(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	def, ok := h.registry.Get(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (h *Handler) agentAlternatives(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, ok := h.registry.Get(name); !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"agent":        name,
		"alternatives": h.registry.Alternatives(name),
	})
}

func (h *Handler) listProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.catalog.Profiles())
}

func (h *Handler) listBudgets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.budget.Windows())
}

type budgetRequest struct {
	DailyUSD float64 `json:"daily_usd"`
}

// budgetIdentifier maps the URL segment onto a controller identifier; the
// literal "global" addresses the global window.
func budgetIdentifier(id string) string {
	if id == "global" {
		return budget.GlobalID
	}
	return id
}

func (h *Handler) setBudget(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req budgetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.DailyUSD < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "daily_usd must not be negative"})
		return
	}

	h.budget.SetDailyBudget(budgetIdentifier(id), req.DailyUSD)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"identifier": id,
		"daily_usd":  req.DailyUSD,
	})
}

type speedRequest struct {
	ThresholdMs int64 `json:"threshold_ms"`
}

func (h *Handler) setSpeedThreshold(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req speedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.ThresholdMs < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "threshold_ms must not be negative"})
		return
	}

	h.selector.SetSpeedThreshold(id, req.ThresholdMs)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"identifier":   id,
		"threshold_ms": req.ThresholdMs,
	})
}

func (h *Handler) metrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"usage":   h.usage.Metrics(),
		"cache":   h.cache.Stats(),
		"budgets": h.budget.Windows(),
	})
}

func (h *Handler) recentUsage(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, h.usage.Recent(limit))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
