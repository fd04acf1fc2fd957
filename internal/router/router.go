package router

import (
	"net/http"

	"github.com/bimzik/backend/internal/dashboard"
	"github.com/bimzik/backend/internal/handlers"
	"github.com/bimzik/backend/internal/middleware"
	"github.com/bimzik/backend/internal/validation"
)

type Deps struct {
	Auth          middleware.TokenValidator
	Validator     middleware.SchemaValidator
	Generation    *handlers.GenerationHandler
	Projects      *handlers.ProjectHandler
	Payments      *handlers.PaymentHandler
	Notifications *handlers.NotificationHandler
	Wallet        *dashboard.Handler
	Health        http.HandlerFunc
}

// New returns an http.Handler that serves the API under /api/v1.
func New(d Deps) http.Handler {
	mux := http.NewServeMux()
	base := "/api/v1"

	user := middleware.RequireUser(d.Auth)
	authed := func(h http.HandlerFunc) http.Handler { return user(h) }
	// validated checks the body against schema after authentication.
	validated := func(schema string, h http.HandlerFunc) http.Handler {
		return user(middleware.ValidateBody(d.Validator, schema)(h))
	}

	mux.HandleFunc("GET /healthz", d.Health)

	mux.Handle("POST "+base+"/projects", validated(validation.SchemaProjectCreate, d.Projects.Create))
	mux.Handle("GET "+base+"/projects", authed(d.Projects.List))
	mux.Handle("GET "+base+"/projects/{id}", authed(d.Projects.Get))
	mux.Handle("GET "+base+"/projects/{id}/audio", authed(d.Projects.Audio))
	mux.HandleFunc("GET "+base+"/share/{id}", d.Projects.Share)

	mux.Handle("POST "+base+"/generate", validated(validation.SchemaGenerate, d.Generation.Generate))
	mux.Handle("POST "+base+"/generate/lyrics", validated(validation.SchemaLyrics, d.Generation.GenerateLyrics))
	mux.Handle("GET "+base+"/generate/jobs/{id}", authed(d.Generation.GetJob))
	mux.Handle("POST "+base+"/artifacts/{id}/video", authed(d.Generation.RequestVideo))

	mux.Handle("GET "+base+"/wallet", authed(d.Wallet.GetWallet))
	mux.Handle("GET "+base+"/wallet/transactions", authed(d.Wallet.ListTransactions))

	mux.HandleFunc("GET "+base+"/payments/packages", d.Payments.ListPackages)
	mux.Handle("POST "+base+"/payments/initiate", validated(validation.SchemaPaymentInitiate, d.Payments.Initiate))
	mux.Handle("POST "+base+"/payments/charge", validated(validation.SchemaPaymentCharge, d.Payments.Charge))
	mux.Handle("POST "+base+"/payments/verify", validated(validation.SchemaPaymentVerify, d.Payments.Verify))
	mux.Handle("GET "+base+"/payments/{tx_ref}/status", authed(d.Payments.Status))
	// The provider calls the webhook without a token; the service checks its signature.
	mux.HandleFunc("POST "+base+"/payments/webhook", d.Payments.Webhook)

	mux.Handle("POST "+base+"/notifications/subscribe", validated(validation.SchemaSubscribe, d.Notifications.Subscribe))

	return mux
}
