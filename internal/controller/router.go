package controller

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/unclebandit/campaign-dispatch/internal/metrics"
)

// Router assembles the HTTP surface: admin routes scoped under
// /workspaces/{workspaceID}, provider webhooks, health and metrics.
type Router struct {
	Campaigns      *CampaignController
	Subscribers    *SubscriberController
	EmailServices  *EmailServiceController
	Webhooks       http.Handler
	AllowedOrigins []string
}

func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Instrument)
	r.Use(middleware.Recoverer)
	if len(rt.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: rt.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", RequestIDHeader},
			ExposedHeaders: []string{RequestIDHeader},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/workspaces/{workspaceID}", func(r chi.Router) {
		if rt.Campaigns != nil {
			rt.Campaigns.Routes(r)
		}
		if rt.Subscribers != nil {
			rt.Subscribers.Routes(r)
		}
		if rt.EmailServices != nil {
			rt.EmailServices.Routes(r)
		}
	})

	if rt.Webhooks != nil {
		r.Method(http.MethodPost, "/webhooks/{workspaceID}/{provider}", rt.Webhooks)
	}
	return r
}
