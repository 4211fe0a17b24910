package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/notifyhub/repo-trigger/internal/api/handler"
	apimw "github.com/notifyhub/repo-trigger/internal/api/middleware"
	"github.com/notifyhub/repo-trigger/internal/registry"
	"github.com/notifyhub/repo-trigger/internal/service"
)

// NewRouter wires the chi router, attaches all middleware, and registers
// every route.
func NewRouter(
	reg *registry.Registry,
	subs *service.SubscriptionService,
	lister handler.QueueLister,
	gatherer prometheus.Gatherer,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(chimw.RequestSize(1 << 20))
	r.Use(apimw.CorrelationID)
	r.Use(apimw.RequestLogger(logger))

	qh := handler.NewQueueHandler(reg, subs, lister, logger)
	sh := handler.NewSubscriptionHandler(subs, logger)
	hh := handler.NewHealthHandler(reg)

	r.Get("/health", hh.Health)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		// /discover is registered before /{id} so it is not taken as an id.
		r.Get("/queues/discover", qh.Discover)
		r.Get("/queues", qh.List)
		r.Put("/queues/{id}", qh.Put)
		r.Delete("/queues/{id}", qh.Delete)

		r.Post("/subscriptions", sh.Create)
		r.Get("/subscriptions", sh.List)
		r.Get("/subscriptions/{id}", sh.GetByID)
		r.Delete("/subscriptions/{id}", sh.Delete)
	})

	return r
}
