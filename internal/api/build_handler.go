package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/shaiso/iib/internal/domain"
	"github.com/shaiso/iib/internal/mq"
	"github.com/shaiso/iib/internal/repo"
	"github.com/shaiso/iib/internal/telemetry"
)

// ListBuilds возвращает список запросов с фильтрацией.
// GET /api/v1/builds?state=...&limit=...&offset=...
func (h *Handler) ListBuilds(w http.ResponseWriter, r *http.Request) {
	filter := repo.RequestFilter{
		Limit:  parseInt(r.URL.Query().Get("limit"), 50),
		Offset: parseInt(r.URL.Query().Get("offset"), 0),
	}

	if state := r.URL.Query().Get("state"); state != "" {
		filter.State = domain.RequestState(state)
		if !filter.State.IsValid() {
			BadRequest(w, "invalid state: "+state)
			return
		}
	}

	requests, err := h.store.List(r.Context(), filter)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]BuildResponse, len(requests))
	for i, req := range requests {
		result[i] = BuildFromDomain(req)
	}

	List(w, result, len(result))
}

// CreateBuild создаёт запрос и ставит его оркестратору.
// POST /api/v1/builds
func (h *Handler) CreateBuild(w http.ResponseWriter, r *http.Request) {
	var body CreateBuildRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if err := body.Validate(); err != nil {
		BadRequest(w, err.Error())
		return
	}

	req := body.ToDomain()
	if err := h.store.Create(r.Context(), req); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	logger := telemetry.WithRequestID(h.logger, req.ID)
	logger.Info("request created", "bundles", req.Bundles, "from_index", req.FromIndex, "add_arches", req.AddArches)

	job := domain.AddRequestJobFrom(req)
	if err := h.dispatcher.Submit(r.Context(), job, mq.RequestsRoute, mq.FailRequest(req.ID)); err != nil {
		logger.Error("failed to schedule the request", "error", err)
		if _, err := h.store.SetState(r.Context(), req.ID, domain.RequestStateFailed,
			"Failed to schedule the request for the workers"); err != nil {
			logger.Error("failed to mark the request as failed", "error", err)
		}
		InternalError(w, h.logger, err)
		return
	}

	telemetry.RequestsTotal.WithLabelValues(string(domain.RequestStateQueued)).Inc()
	Created(w, BuildFromDomain(*req))
}

// GetBuild возвращает запрос по ID.
// GET /api/v1/builds/{id}
func (h *Handler) GetBuild(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		BadRequest(w, "invalid build id")
		return
	}

	req, err := h.store.Get(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "build not found") {
		return
	}

	Success(w, BuildFromDomain(*req))
}

// parseInt парсит строку в int с дефолтным значением.
func parseInt(s string, defaultVal int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}
