package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/lomi/client/internal/middleware"
)

// Dependencies aggregates collaborators required by the control API.
type Dependencies struct {
	Session        SessionService
	Gate           GateService
	Onboarding     OnboardingService
	Limiter        middleware.RateLimiter
	AllowedOrigins []string
	Logger         *slog.Logger
}

// NewRouter builds the control API handler.
func NewRouter(deps Dependencies) http.Handler {
	health := HealthHandler{Gate: deps.Gate}
	sessions := SessionHandler{Session: deps.Session, Gate: deps.Gate}
	progress := OnboardingHandler{Onboarding: deps.Onboarding}
	events := NewEventsHandler(deps.Gate, deps.AllowedOrigins)

	r := mux.NewRouter()
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.RateLimit(deps.Limiter))
	r.Use(middleware.RequireOrigin(middleware.NewOriginPolicy(deps.AllowedOrigins)))

	r.HandleFunc("/healthz", health.Handle)
	r.HandleFunc("/session", sessions.Get).Methods(http.MethodGet)
	r.HandleFunc("/session/retry", sessions.Retry).Methods(http.MethodPost)
	r.HandleFunc("/session/logout", sessions.Logout).Methods(http.MethodPost)
	r.HandleFunc("/session/user/refresh", sessions.RefreshUser).Methods(http.MethodPost)
	r.HandleFunc("/onboarding", progress.Get).Methods(http.MethodGet)
	r.HandleFunc("/onboarding/refresh", progress.Refresh).Methods(http.MethodPost)
	r.HandleFunc("/onboarding/progress", progress.Update).Methods(http.MethodPatch)
	r.HandleFunc("/onboarding/next", progress.Next).Methods(http.MethodGet)
	r.HandleFunc("/events", events.Handle).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins: deps.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
	})
	return c.Handler(r)
}
