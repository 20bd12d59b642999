package http

import (
	"net/http"
	"time"

	"github.com/atinyakov/cardsync/internal/middleware"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Handlers bundles everything the router mounts.
type Handlers struct {
	Auth   *AuthHandler
	Status *StatusHandler
	Cards  *CardsHandler
	Health *HealthHandler
	// Tokens guards every /api route except set_http_data.
	Tokens middleware.TokenValidator
}

// RouterOptions tunes the cross-cutting middleware.
type RouterOptions struct {
	AllowedOrigins []string
	// RateLimitRequests per RateLimitWindow and client IP; zero disables it.
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// NewRouter constructs the HTTP handler that serves the cardsync API.
//
// Routes:
//
//	GET   /health                          → Health
//	GET   /metrics                         → Prometheus
//	POST  /api/set_http_data               → Auth.SetHTTPData
//	POST  /api/set_user_status             → Status.SetUserStatus        (token)
//	POST  /api/users_card_status           → Status.UsersCardStatus      (token)
//	GET   /api/get_cards_by_category       → Status.GetCardsByCategory   (token)
//	GET   /api/users/{userID}/cards        → Cards.GetUserCards          (token)
//	PATCH /api/users/{userID}/cards/{cardID} → Cards.UpdateCard          (token)
//	POST  /api/cards/delete                → Cards.DeleteCards           (token)
func NewRouter(h Handlers, opts RouterOptions, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.WithRequestLogging(logger))
	r.Use(chiMiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", middleware.TokenHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if opts.RateLimitRequests > 0 {
		r.Use(httprate.LimitByIP(opts.RateLimitRequests, opts.RateLimitWindow))
	}

	r.Get("/health", h.Health.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(chiMiddleware.AllowContentType("application/json"))

		r.Post("/set_http_data", h.Auth.SetHTTPData)

		r.Group(func(r chi.Router) {
			r.Use(middleware.TokenAuth(h.Tokens, logger))

			r.Post("/set_user_status", h.Status.SetUserStatus)
			r.Post("/users_card_status", h.Status.UsersCardStatus)
			r.Get("/get_cards_by_category", h.Status.GetCardsByCategory)

			r.Get("/users/{userID}/cards", h.Cards.GetUserCards)
			r.Patch("/users/{userID}/cards/{cardID}", h.Cards.UpdateCard)
			r.Post("/cards/delete", h.Cards.DeleteCards)
		})
	})

	return r
}
