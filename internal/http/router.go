package http

import (
	"crypto/rsa"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robertarktes/seat-booking/internal/observability"
)

// Guards are the optional request filters of the booking API. Zero values
// switch the matching middleware off.
type Guards struct {
	JWTKey        *rsa.PublicKey
	Limiter       Limiter
	RatePerMinute int
	Idempotency   IdempotencyStore
}

func SetupRouter(h *Handlers, logger observability.Logger, g Guards) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)
	r.Use(MetricsMiddleware)

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(JWTMiddleware(g.JWTKey))
		r.Use(RateLimitMiddleware(g.Limiter, g.RatePerMinute))
		r.Use(IdempotencyMiddleware(g.Idempotency))

		r.Route("/v1/events", func(r chi.Router) {
			r.Post("/", h.CreateEvent)
			r.Get("/", h.ListEvents)
			r.Route("/{eventID}", func(r chi.Router) {
				r.Get("/", h.GetEvent)
				r.Get("/availability", h.EventAvailability)
				r.Get("/sectors/{sector}/availability", h.SectorAvailability)
				r.Post("/seats/{seatID}/hold", h.HoldSeat)
				r.Post("/seats/{seatID}/confirm", h.ConfirmSeat)
				r.Post("/seats/{seatID}/release", h.ReleaseSeat)
			})
		})

		r.Route("/v1/charts", func(r chi.Router) {
			r.Post("/", h.CreateChart)
			r.Get("/", h.ListCharts)
			r.Get("/{chartID}", h.GetChart)
		})
	})

	return r
}
