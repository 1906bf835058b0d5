package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/bookwise/booking-core/internal/booking"
)

type RouterConfig struct {
	Manager             *booking.Manager
	Ledger              *booking.Ledger
	PgPool              *pgxpool.Pool
	Redis               *redis.Client
	Env                 string
	Version             string
	StripeWebhookSecret string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Route("/businesses/{id}", func(r chi.Router) {
		r.Get("/slots", listSlotsHandler(cfg.Manager))
	})

	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", createAppointmentHandler(cfg.Manager))
		r.Get("/{id}", getAppointmentHandler(cfg.Manager))
		r.Post("/{id}/confirm", confirmAppointmentHandler(cfg.Manager))
		r.Post("/{id}/cancel", cancelAppointmentHandler(cfg.Manager))
	})

	r.Route("/customers/{id}", func(r chi.Router) {
		r.Get("/appointments", listCustomerAppointmentsHandler(cfg.Manager))
		r.Get("/purchases", listCustomerPurchasesHandler(cfg.Manager))
		r.Get("/entitlements", listEntitlementsHandler(cfg.Ledger))
		r.Post("/registrations", registerCustomerHandler(cfg.Manager))
		r.Delete("/registrations/{businessID}", deregisterCustomerHandler(cfg.Manager))
	})

	r.Post("/purchases", createPurchaseHandler(cfg.Ledger))
	r.Post("/payments/webhook", stripeWebhookHandler(cfg.Ledger, cfg.StripeWebhookSecret))

	return r
}
