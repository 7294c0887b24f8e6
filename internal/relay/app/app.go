package app

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"voltlink/internal/relay/auth"
	"voltlink/internal/relay/cache"
	"voltlink/internal/relay/config"
	httpserver "voltlink/internal/relay/http"
	"voltlink/internal/relay/http/handlers"
	"voltlink/internal/relay/http/middleware"
	"voltlink/internal/relay/repository"
	"voltlink/internal/relay/upstream"
	libredis "voltlink/libs/redis"

	libdb "voltlink/libs/db"
)

// App wires relay dependencies.
type App struct {
	server *httpserver.Server
	logger *zap.Logger
	db     *sql.DB
}

// New constructs application graph. Redis and Postgres are optional: the
// relay degrades to pure pass-through when either is not configured.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	up := upstream.New(cfg.Upstream.BaseURL, cfg.Upstream.APIKey, cfg.UpstreamTimeout())

	var sessions *cache.ActiveSessionsStore
	if cfg.Redis.Addr != "" {
		client, err := libredis.NewClient(cfg.Redis.Addr, cfg.Redis.Password)
		if err != nil {
			return nil, err
		}
		sessions = cache.NewActiveSessionsStore(client, cfg.ActiveSessionTTL())
	} else {
		logger.Info("redis not configured, session cache disabled")
	}

	var (
		db      *sql.DB
		auditor handlers.CommandAuditor
	)
	if cfg.Postgres.DSN != "" {
		pool, err := libdb.NewPostgres(cfg.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		db = pool
		auditor = repository.NewCommandLogRepo(pool)
	} else {
		logger.Info("postgres not configured, command audit disabled")
	}

	tokens := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.TokenTTL())
	hasher := auth.NewBcryptHasher(0)

	router := httpserver.NewRouter(httpserver.RouterDeps{
		AuthHandlers:     handlers.NewAuthHandlers(cfg.Auth.AppID, cfg.Auth.AppSecretHash, hasher, tokens, logger),
		CommandsHandlers: handlers.NewCommandsHandlers(up, auditor, sessions, logger),
		SessionsHandlers: handlers.NewSessionsHandlers(up, sessions, logger),
		EventsHandlers:   handlers.NewEventsHandlers(up, logger),
		EventsWSHandler:  handlers.NewEventsWSHandler(up, logger),
		HealthHandler:    handlers.NewHealthHandler(),
	}, middleware.AuthMiddleware(tokens))

	server := httpserver.NewServer(
		cfg.HTTPAddress(),
		router,
		logger,
		middleware.RecoveryMiddleware(logger),
		middleware.LoggingMiddleware(logger),
	)

	return &App{
		server: server,
		logger: logger,
		db:     db,
	}, nil
}

// Run starts serving HTTP traffic.
func (a *App) Run(ctx context.Context) error {
	return a.server.Run(ctx)
}

// Close releases resources.
func (a *App) Close() {
	if a.db != nil {
		_ = a.db.Close()
	}
}
