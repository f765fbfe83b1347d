package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/campuscare/counselling-booking/internal/auth"
	"github.com/campuscare/counselling-booking/internal/booking"
	"github.com/campuscare/counselling-booking/internal/payment"
)

type RouterConfig struct {
	Auth      *auth.Service
	Booking   *booking.Service
	Payment   *payment.Service
	PgPool    *pgxpool.Pool
	Redis     *redis.Client
	JWTSecret string
	Env       string
	Version   string
	Logger    *zerolog.Logger
	RateRPS   float64
	RateBurst int
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(MetricsMiddleware)
	if cfg.RateRPS > 0 {
		r.Use(RateLimitMiddleware(cfg.RateRPS, cfg.RateBurst))
	}

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", promhttp.Handler())

	// Auth endpoints
	r.Route("/auth", func(r chi.Router) {
		r.Post("/register/student", registerHandler(cfg.Auth, booking.RoleStudent))
		r.Post("/register/counsellor", registerHandler(cfg.Auth, booking.RoleCounsellor))
		r.Post("/login/student", loginHandler(cfg.Auth, booking.RoleStudent))
		r.Post("/login/counsellor", loginHandler(cfg.Auth, booking.RoleCounsellor))
	})

	// Open slot listing needs a login but either role may browse.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.JWTSecret))
		r.Get("/slots", listOpenSlotsHandler(cfg.Booking))
	})

	// Counsellor endpoints
	r.Route("/counsellor", func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.JWTSecret))
		r.Use(RequireRole(booking.RoleCounsellor))

		r.Post("/slots", publishSlotHandler(cfg.Booking))
		r.Delete("/slots/{id}", cancelSlotHandler(cfg.Booking))
		r.Get("/appointments", counsellorAppointmentsHandler(cfg.Booking))
		r.Delete("/appointments/{id}", counsellorCancelAppointmentHandler(cfg.Booking))
	})

	// Student endpoints
	r.Route("/student", func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.JWTSecret))
		r.Use(RequireRole(booking.RoleStudent))

		r.Post("/appointments", bookAppointmentHandler(cfg.Booking))
		r.Get("/appointments", studentAppointmentsHandler(cfg.Booking))
		r.Delete("/appointments/{id}", studentCancelAppointmentHandler(cfg.Booking))
		r.Post("/payment/orders/{appointmentID}", createOrderHandler(cfg.Payment))
	})

	// Gateway callback: no auth, the payload hash is verified instead.
	r.Post("/payment/verify", verifyPaymentHandler(cfg.Payment))
	r.Get("/payment/verify", verifyPaymentHandler(cfg.Payment))

	return r
}
