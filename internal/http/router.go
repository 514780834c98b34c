package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/robertarktes/event-ticketing/internal/observability"
	"github.com/robertarktes/event-ticketing/internal/scannertoken"
)

type RouterConfig struct {
	Logger    observability.Logger
	JWTSecret []byte
	Scanners  *scannertoken.Issuer
	// RateLimiter and Idempotency are optional.
	RateLimiter     limiter
	RateLimitPerMin int
	Idempotency     replayStore
}

func SetupRouter(h *Handlers, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(RequestIDMiddleware)
	r.Use(otelhttp.NewMiddleware("ezt-api"))
	r.Use(LoggerMiddleware(cfg.Logger))

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(JWTMiddleware(cfg.JWTSecret))
		r.Use(RateLimitMiddleware(cfg.RateLimiter, cfg.RateLimitPerMin))

		r.Get("/v1/events", h.ListEvents)
		r.Get("/v1/events/{id}/ticket-types", h.ListTicketTypes)
		r.Get("/v1/events/{id}/contacts", h.PromoterContacts)

		r.With(IdempotencyMiddleware(cfg.Idempotency)).Post("/v1/purchases", h.CreatePurchase)
		r.Get("/v1/purchases/{id}", h.GetPurchase)
		r.Post("/v1/purchases/{id}/payment", h.InitiatePayment)
		r.Post("/v1/purchases/{id}/proof", h.SubmitProof)

		r.Group(func(r chi.Router) {
			r.Use(RequireActor)
			r.Post("/v1/events", h.CreateEvent)
			r.Patch("/v1/events/{id}", h.UpdateEvent)
			r.Post("/v1/events/{id}/publish", h.PublishEvent)
			r.Post("/v1/events/{id}/ticket-types", h.CreateTicketType)
			r.Get("/v1/events/{id}/summary", h.EventSummary)
			r.Get("/v1/promoter/events", h.ListPromoterEvents)
			r.Get("/v1/promoter/events/{id}", h.PromoterEvent)
			r.Patch("/v1/ticket-types/{id}", h.UpdateTicketType)
			r.Delete("/v1/ticket-types/{id}", h.DeleteTicketType)
			r.Get("/v1/approvals", h.PendingApprovals)
			r.Post("/v1/purchases/{id}/approve", h.ApprovePurchase)
			r.Post("/v1/purchases/{id}/reject", h.RejectPurchase)
			r.Post("/v1/scanner/tokens", h.IssueScannerToken)
		})
	})

	r.Group(func(r chi.Router) {
		// gate devices often share one address, so scans are not rate limited
		r.Use(ScannerMiddleware(cfg.Scanners))
		r.Post("/v1/scan/entry", h.ScanEntry)
		r.Post("/v1/scan/exit", h.ScanExit)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	})

	return r
}
