package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/caresched/slot-reservation/internal/booking"
)

type RouterConfig struct {
	Coordinator *booking.Coordinator
	PgPool      *pgxpool.Pool
	Redis       *redis.Client
	Logger      *zap.Logger
	Env         string
	Version     string
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	if cfg.PgPool != nil && cfg.Redis != nil {
		health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
		r.Get("/health/live", health.Liveness)
		r.Get("/health/ready", health.Readiness)
	}

	r.Post("/providers/{providerID}/slots", createSlotHandler(cfg.Coordinator))
	r.Get("/providers/{providerID}/slots", listSlotsHandler(cfg.Coordinator))

	r.Post("/reservations", createReservationHandler(cfg.Coordinator))
	r.Get("/reservations/{id}", getReservationHandler(cfg.Coordinator))
	r.Post("/reservations/{id}/confirm", confirmReservationHandler(cfg.Coordinator))
	r.Post("/reservations/{id}/cancel", cancelReservationHandler(cfg.Coordinator))

	return r
}
