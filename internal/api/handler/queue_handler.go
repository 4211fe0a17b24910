package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apimw "github.com/notifyhub/repo-trigger/internal/api/middleware"
	"github.com/notifyhub/repo-trigger/internal/config"
	"github.com/notifyhub/repo-trigger/internal/registry"
	"github.com/notifyhub/repo-trigger/internal/service"
)

// QueueLister enumerates the queues visible to a set of credentials.
// *channel.Factory implements it.
type QueueLister interface {
	ListQueues(ctx context.Context, region, credentialsRef string) ([]string, error)
}

// QueueHandler exposes monitor status and runtime queue reconfiguration.
type QueueHandler struct {
	registry *registry.Registry
	subs     *service.SubscriptionService
	lister   QueueLister
	logger   *zap.Logger
}

func NewQueueHandler(reg *registry.Registry, subs *service.SubscriptionService, lister QueueLister, logger *zap.Logger) *QueueHandler {
	return &QueueHandler{registry: reg, subs: subs, lister: lister, logger: logger}
}

// List handles GET /api/v1/queues
//
// @Summary  Monitor status of every configured queue
// @Tags     queues
// @Produce  json
// @Success  200  {array}  domain.MonitorStatus
// @Router   /api/v1/queues [get]
func (h *QueueHandler) List(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.registry.Status())
}

// Put handles PUT /api/v1/queues/{id}. It creates the queue or replaces its
// monitor; subscribers and dedup state survive a replacement.
//
// @Summary  Add or reconfigure a queue
// @Tags     queues
// @Accept   json
// @Produce  json
// @Param    id    path      string            true  "Queue UUID"
// @Param    body  body      config.QueueSpec  true  "Queue configuration"
// @Success  200   {object}  domain.MonitorStatus
// @Failure  422   {object}  map[string]string
// @Router   /api/v1/queues/{id} [put]
func (h *QueueHandler) Put(w http.ResponseWriter, r *http.Request) {
	var spec config.QueueSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	spec.UUID = chi.URLParam(r, "id")

	cfg, err := config.NewQueueConfig(spec)
	if err != nil {
		mapError(w, err)
		return
	}

	_, existed := h.registry.Get(cfg.ID)
	if err := h.registry.Reconfigure(r.Context(), cfg); err != nil {
		h.logger.Warn("reconfigure queue failed",
			zap.String("correlation_id", apimw.GetCorrelationID(r.Context())),
			zap.String("queue_id", cfg.ID),
			zap.Error(err),
		)
		mapError(w, err)
		return
	}
	if !existed {
		// Persisted subscriptions of a re-added queue are attached again.
		if _, err := h.subs.Restore(r.Context()); err != nil {
			h.logger.Error("restore subscriptions failed", zap.String("queue_id", cfg.ID), zap.Error(err))
		}
	}

	m, ok := h.registry.Get(cfg.ID)
	if !ok {
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	respondJSON(w, http.StatusOK, m.Status())
}

// Delete handles DELETE /api/v1/queues/{id}
//
// @Summary  Stop and remove a queue
// @Tags     queues
// @Param    id   path  string  true  "Queue UUID"
// @Success  204
// @Failure  404  {object}  map[string]string
// @Router   /api/v1/queues/{id} [delete]
func (h *QueueHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Remove(chi.URLParam(r, "id")); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Discover handles GET /api/v1/queues/discover
//
// @Summary  List queue URLs reachable with the given credentials
// @Tags     queues
// @Produce  json
// @Param    region          query     string  true   "AWS region"
// @Param    credentialsRef  query     string  false  "Profile name or static:<name>"
// @Success  200             {object}  map[string]any
// @Failure  422             {object}  map[string]string
// @Failure  502             {object}  map[string]string
// @Router   /api/v1/queues/discover [get]
func (h *QueueHandler) Discover(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	urls, err := h.lister.ListQueues(r.Context(), q.Get("region"), q.Get("credentialsRef"))
	if err != nil {
		h.logger.Warn("queue discovery failed",
			zap.String("correlation_id", apimw.GetCorrelationID(r.Context())),
			zap.Error(err),
		)
		mapError(w, err)
		return
	}
	if urls == nil {
		urls = []string{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"data": urls, "total": len(urls)})
}
