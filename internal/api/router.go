package api

import (
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"go.uber.org/zap"

	"github.com/hackgods/telehealth-slot-reservation/internal/auth"
)

type RouterConfig struct {
	Handlers *Handlers
	Health   *HealthHandler
	Tokens   *auth.Tokens
	Log      *zap.Logger
	// CORSOrigins lists browser origins allowed cross-origin. Empty means
	// same-origin only.
	CORSOrigins []string
	// RateLimit is requests per minute per client IP on the lock, otp and
	// confirm routes. Zero disables it.
	RateLimit int
}

func NewRouter(cfg RouterConfig) http.Handler {
	h := cfg.Handlers
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(corsOptions(cfg.CORSOrigins)))
	}

	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}

	authenticate := auth.Authenticate(cfg.Tokens, authFailure)

	r.Route("/appointments", func(r chi.Router) {
		r.Get("/available-slots", h.availableSlots)

		r.Group(func(r chi.Router) {
			r.Use(authenticate)
			r.Use(auth.RequireRole(authFailure, auth.RolePatient))

			r.Group(func(r chi.Router) {
				if cfg.RateLimit > 0 {
					r.Use(httprate.LimitByIP(cfg.RateLimit, time.Minute))
				}
				r.Post("/lock", h.lockSlot)
				r.Post("/otp", h.requestOTP)
				r.Post("/confirm", h.confirmBooking)
			})
			r.Post("/unlock", h.unlockSlot)
			r.Get("/me", h.myAppointments)
		})

		r.With(authenticate, auth.RequireRole(authFailure, auth.RoleDoctor)).
			Get("/doctor", h.doctorAppointments)
	})

	r.Route("/doctors/{doctorId}", func(r chi.Router) {
		r.Get("/", h.getDoctor)
		r.Get("/availability", h.getAvailability)
		r.With(authenticate, auth.RequireRole(authFailure, auth.RoleDoctor)).
			Put("/availability", h.putAvailability)
	})

	return r
}

// corsOptions never pairs credentials with a wildcard origin.
func corsOptions(origins []string) cors.Options {
	return cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: !slices.Contains(origins, "*"),
		MaxAge:           300,
	}
}
