package main

import (
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bimzik/backend/internal/dashboard"
	"github.com/bimzik/backend/internal/handlers"
	"github.com/bimzik/backend/internal/ledger"
	"github.com/bimzik/backend/internal/middleware"
	"github.com/bimzik/backend/internal/router"
)

type routeDeps struct {
	pool          *pgxpool.Pool
	auth          middleware.TokenValidator
	validator     middleware.SchemaValidator
	jobs          handlers.GenerationService
	projects      handlers.ProjectService
	payments      handlers.PaymentService
	notifications handlers.Subscriber
	ledger        ledger.Service
	logger        *slog.Logger
}

// buildRouter wires the HTTP handlers onto the service layer.
func buildRouter(d routeDeps) http.Handler {
	return router.New(router.Deps{
		Auth:      d.auth,
		Validator: d.validator,
		Generation: &handlers.GenerationHandler{
			Jobs:   d.jobs,
			Logger: d.logger,
		},
		Projects: &handlers.ProjectHandler{
			Projects: d.projects,
			Logger:   d.logger,
		},
		Payments: &handlers.PaymentHandler{
			Payments: d.payments,
			Logger:   d.logger,
		},
		Notifications: &handlers.NotificationHandler{
			Jobs:   d.jobs,
			Notify: d.notifications,
			Logger: d.logger,
		},
		Wallet: dashboard.NewHandler(d.ledger, d.logger),
		Health: handlers.Health(d.pool),
	})
}
