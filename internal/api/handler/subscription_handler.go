package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apimw "github.com/notifyhub/repo-trigger/internal/api/middleware"
	"github.com/notifyhub/repo-trigger/internal/domain"
	"github.com/notifyhub/repo-trigger/internal/service"
)

// SubscriptionHandler handles subscription CRUD endpoints.
type SubscriptionHandler struct {
	svc    *service.SubscriptionService
	logger *zap.Logger
}

func NewSubscriptionHandler(svc *service.SubscriptionService, logger *zap.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{svc: svc, logger: logger}
}

// Create handles POST /api/v1/subscriptions
//
// @Summary     Subscribe a build target to repository changes
// @Tags        subscriptions
// @Accept      json
// @Produce     json
// @Param       body  body      domain.CreateSubscriptionRequest  true  "Subscription payload"
// @Success     201   {object}  domain.Subscription
// @Failure     404   {object}  map[string]string
// @Failure     422   {object}  map[string]string
// @Router      /api/v1/subscriptions [post]
func (h *SubscriptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	sub, err := h.svc.Create(r.Context(), req)
	if err != nil {
		h.logger.Warn("create subscription failed",
			zap.String("correlation_id", apimw.GetCorrelationID(r.Context())),
			zap.Error(err),
		)
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, sub)
}

// GetByID handles GET /api/v1/subscriptions/{id}
//
// @Summary  Get a subscription by ID
// @Tags     subscriptions
// @Produce  json
// @Param    id   path      string  true  "Subscription UUID"
// @Success  200  {object}  domain.Subscription
// @Failure  404  {object}  map[string]string
// @Router   /api/v1/subscriptions/{id} [get]
func (h *SubscriptionHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	sub, err := h.svc.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sub)
}

// List handles GET /api/v1/subscriptions
//
// @Summary  List subscriptions, optionally of one queue
// @Tags     subscriptions
// @Produce  json
// @Param    queue_id  query     string  false  "Queue UUID"
// @Success  200       {object}  map[string]any
// @Router   /api/v1/subscriptions [get]
func (h *SubscriptionHandler) List(w http.ResponseWriter, r *http.Request) {
	subs, err := h.svc.List(r.Context(), r.URL.Query().Get("queue_id"))
	if err != nil {
		h.logger.Error("list subscriptions failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list subscriptions")
		return
	}
	if subs == nil {
		subs = []*domain.Subscription{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"data": subs, "total": len(subs)})
}

// Delete handles DELETE /api/v1/subscriptions/{id}
//
// @Summary  Delete a subscription
// @Tags     subscriptions
// @Param    id   path  string  true  "Subscription UUID"
// @Success  204
// @Failure  404  {object}  map[string]string
// @Router   /api/v1/subscriptions/{id} [delete]
func (h *SubscriptionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
