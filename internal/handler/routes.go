package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/leadrelay/internal/middleware"
	"github.com/capitalize-ai/leadrelay/pkg/logger"
)

// Handlers groups the endpoint handlers mounted by NewRouter.
type Handlers struct {
	Health        *HealthHandler
	Leads         *LeadHandler
	Conversations *ConversationHandler
	Socket        *SocketHandler
	Stream        *StreamHandler
}

// RouterOptions configures authentication and rate limiting of the API routes.
type RouterOptions struct {
	JWTSecret         string
	RateLimitRequests int
	RateLimitWindow   time.Duration
	// EditLimitRequests bounds field edits per operator within RateLimitWindow.
	EditLimitRequests int
}

// NewRouter mounts every endpoint with the global middleware chain.
func NewRouter(h Handlers, opts RouterOptions, log *logger.Logger) http.Handler {
	editLimit := opts.EditLimitRequests
	if editLimit <= 0 {
		editLimit = opts.RateLimitRequests
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())

	// Health endpoints (no auth required)
	r.Get("/health", h.Health.Health)
	r.Get("/ready", h.Health.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(opts.JWTSecret))
		r.Use(middleware.RateLimit(opts.RateLimitRequests, opts.RateLimitWindow))

		r.Get("/me/areas", h.Leads.MyAreas)
		r.Get("/ws", h.Socket.Serve)

		// Leads
		r.Route("/leads", func(r chi.Router) {
			r.Post("/", h.Leads.Create)
			r.Get("/", h.Leads.List)
			r.Get("/stream", h.Stream.Stream)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.Leads.Get)
				r.With(middleware.UserRateLimit(editLimit, opts.RateLimitWindow)).
					Patch("/fields/{field}", h.Leads.UpdateField)
			})
		})

		// Conversations
		r.With(middleware.RequireScope(middleware.ScopeResolve)).
			Post("/conversations/resolve", h.Conversations.Resolve)
		r.Get("/conversations/{id}", h.Conversations.Get)
		r.With(middleware.RequireScope(middleware.ScopeWebhook)).
			Post("/webhooks/whatsapp", h.Conversations.Webhook)
	})

	return r
}
