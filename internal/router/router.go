package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/waveroom/backend/internal/config"
	"github.com/waveroom/backend/internal/db"
	"github.com/waveroom/backend/internal/handlers"
	"github.com/waveroom/backend/internal/middleware"
	"github.com/waveroom/backend/internal/room"
	"github.com/waveroom/backend/internal/services"
)

func New(cfg *config.Config, queries *db.Queries, hub *room.Hub) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.NewRealIPMiddleware(cfg.TrustedProxies).Handler)
	r.Use(middleware.RequestContextMiddleware)
	r.Use(middleware.CORSMiddleware(cfg.CORSAllowedOrigins))

	// Services
	authService := services.NewAuthService(cfg.JWTSecret, cfg.HostTokenDuration, cfg.ListenerTokenDuration)
	inviteCodeService := services.NewInviteCodeService(queries)

	// Handlers
	configHandler := handlers.NewConfigHandler(cfg)
	sentryTunnelHandler := handlers.NewSentryTunnelHandler(cfg)
	roomHandler := handlers.NewRoomHandler(queries, authService, inviteCodeService, hub)
	wsHandler := handlers.NewWSHandler(cfg, queries, authService, hub)

	// Rate limiter for join attempts (invite codes are guessable by brute force)
	joinRateLimiter := middleware.NewRateLimiter(cfg.JoinRateLimitPerMinute)

	// Routes
	r.Route("/api", func(r chi.Router) {
		// Health check
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"status":"ok"}`))
		})

		// Public configuration (frontend Sentry DSN, environment)
		r.Get("/config", configHandler.PublicConfig)

		// Sentry envelope proxy for the frontend
		r.Post("/sentry-tunnel", sentryTunnelHandler.Tunnel)

		// Room management
		r.Route("/rooms", func(r chi.Router) {
			// Create room (caller becomes host)
			r.Post("/", roomHandler.Create)

			// Join room with hashed invite code (rate limited, no auth)
			r.With(joinRateLimiter.Middleware).Post("/join", roomHandler.Join)

			r.Route("/{id}", func(r chi.Router) {
				// Websocket sync channel. Authenticates itself from the
				// token query parameter, so it sits outside AuthMiddleware.
				r.Get("/ws", wsHandler.Connect)

				// Protected room routes
				r.Group(func(r chi.Router) {
					r.Use(middleware.AuthMiddleware(authService))
					r.Use(middleware.UpdateRequestContextMiddleware)

					r.Get("/", roomHandler.Get)

					// Host-only routes
					r.Group(func(r chi.Router) {
						r.Use(middleware.HostOnlyMiddleware)
						r.Put("/settings", roomHandler.UpdateSettings)
						r.Delete("/", roomHandler.Delete)
					})
				})
			})
		})
	})

	return r
}
