package httpserver

import (
	"net/http"

	"voltlink/internal/relay/http/handlers"
	"voltlink/internal/relay/http/middleware"
)

// RouterDeps collects handler dependencies.
type RouterDeps struct {
	AuthHandlers     *handlers.AuthHandlers
	CommandsHandlers *handlers.CommandsHandlers
	SessionsHandlers *handlers.SessionsHandlers
	EventsHandlers   *handlers.EventsHandlers
	EventsWSHandler  *handlers.EventsWSHandler
	HealthHandler    http.HandlerFunc
}

// NewRouter wires HTTP routes with middleware.
func NewRouter(deps RouterDeps, authMiddleware func(http.Handler) http.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /health", deps.HealthHandler)
	mux.Handle("POST /v1/auth/token", http.HandlerFunc(deps.AuthHandlers.Token))

	authenticated := func(handler http.HandlerFunc) http.Handler {
		return middleware.Chain(handler, authMiddleware)
	}

	mux.Handle("POST /v1/commands/remoteStart", authenticated(deps.CommandsHandlers.RemoteStart))
	mux.Handle("POST /v1/commands/remoteStop", authenticated(deps.CommandsHandlers.RemoteStop))

	mux.Handle("GET /v1/sessions/active/{chargeBoxID}", authenticated(deps.SessionsHandlers.Active))
	mux.Handle("GET /v1/sessions/{transactionID}", authenticated(deps.SessionsHandlers.Transaction))
	mux.Handle("GET /v1/billing/me/transactions", authenticated(deps.SessionsHandlers.Billing))

	mux.Handle("GET /v1/events/ws", authenticated(deps.EventsWSHandler.Bridge))
	mux.Handle("GET /v1/events/{chargeBoxID}", authenticated(deps.EventsHandlers.Stream))

	mux.Handle("GET /v1/debug/ocpp/last-tx/{chargeBoxID}", authenticated(deps.SessionsHandlers.LastTransaction))
	mux.Handle("GET /v1/debug/ocpp/status/{chargeBoxID}", authenticated(deps.SessionsHandlers.ChargePointStatus))
	mux.Handle("GET /v1/debug/commands/{chargeBoxID}", authenticated(deps.CommandsHandlers.RecentCommands))

	return mux
}
