package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/engagex/internal/bridge"
	"github.com/ignite/engagex/internal/metrics"
	"github.com/ignite/engagex/internal/service/campaign"
	"github.com/ignite/engagex/internal/service/delivery"
	"github.com/ignite/engagex/internal/service/sendingdomain"
	"github.com/ignite/engagex/internal/tracking"
)

// Deps are the collaborators behind the routes. Tracking, Webhook, Jobs,
// Locks and Health are optional.
type Deps struct {
	Campaigns *campaign.Service
	Domains   *sendingdomain.Service
	Engine    *delivery.Engine
	Verifier  *bridge.Verifier

	Jobs     JobEnqueuer
	Locks    Locks
	Tracking *tracking.Handler
	Webhook  http.Handler
	Health   *HealthChecker

	AllowedOrigins []string
}

// NewRouter configures every route. Everything under /api requires a
// signed identity; the organization comes from that identity only.
func NewRouter(d Deps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	origins := d.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type",
			bridge.HeaderData, bridge.HeaderSignature, bridge.HeaderTimestamp},
		MaxAge: 300,
	}))

	if d.Health != nil {
		r.Get("/health", d.Health.HandleHealth)
		r.Get("/health/live", d.Health.HandleLiveness)
		r.Get("/health/ready", d.Health.HandleReadiness)
	}
	r.Handle("/metrics", metrics.Handler())

	if d.Tracking != nil {
		d.Tracking.Routes(r)
	}
	if d.Webhook != nil {
		r.Post("/webhooks/ses", d.Webhook.ServeHTTP)
	}

	h := &handlers{
		campaigns: d.Campaigns,
		domains:   d.Domains,
		engine:    d.Engine,
		jobs:      d.Jobs,
		locks:     d.Locks,
	}
	r.Route("/api", func(r chi.Router) {
		r.Use(bridge.Middleware(d.Verifier))

		r.Route("/domains", func(r chi.Router) {
			r.Post("/", h.registerDomain)
			r.Get("/", h.listDomains)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getDomain)
				r.Delete("/", h.deleteDomain)
				r.Post("/verify", h.verifyDomain)
				r.Post("/records", h.regenerateRecords)
				r.Post("/publish", h.publishRecords)
			})
		})

		r.Route("/campaigns", func(r chi.Router) {
			r.Post("/", h.createCampaign)
			r.Get("/", h.listCampaigns)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getCampaign)
				r.Put("/", h.updateCampaign)
				r.Delete("/", h.deleteCampaign)
				r.Post("/duplicate", h.duplicateCampaign)
				r.Post("/schedule", h.scheduleCampaign)
				r.Post("/send", h.sendCampaign)
				r.Post("/pause", h.pauseCampaign)
				r.Post("/resume", h.resumeCampaign)
				r.Post("/retry", h.retryCampaign)
				r.Get("/stats", h.campaignStats)
				r.Get("/recipients", h.listRecipients)
				r.Get("/events", h.listEvents)
				r.Post("/recipients/{rid}/events", h.recordEvent)
			})
		})
	})

	return r
}
