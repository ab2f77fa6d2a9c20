package api

import (
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/veilchat/relay/internal/api/auth"
	"github.com/veilchat/relay/internal/api/handlers"
	apimiddleware "github.com/veilchat/relay/internal/api/middleware"
	"github.com/veilchat/relay/internal/logger"
	"github.com/veilchat/relay/internal/ws"
	"github.com/veilchat/relay/pkg/blob"
	"github.com/veilchat/relay/pkg/metrics"
	"github.com/veilchat/relay/pkg/relay/store"
)

// maxBodyBytes bounds JSON request bodies (and file uploads) at 10 MiB.
const maxBodyBytes = 10 << 20

// NewRouter creates and configures the chi router with all middleware
// and routes.
//
// Middleware stack, in order: request id, real IP extraction, request
// logging, panic recovery, request timeout, body size limit. Rate
// limits apply per route class after the global stack.
func NewRouter(jwtService *auth.JWTService, relayStore store.Store, gateway *ws.Gateway, blobs blob.Store) http.Handler {
	// Per-route rate limit policies (per client IP).
	challengeLimit := apimiddleware.NewRateLimiter(10, time.Minute)
	verifyLimit := apimiddleware.NewRateLimiter(5, time.Minute)
	logoutLimit := apimiddleware.NewRateLimiter(10, time.Minute)
	apiLimit := apimiddleware.NewRateLimiter(300, 15*time.Minute)
	fileLimit := apimiddleware.NewRateLimiter(100, 15*time.Minute)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))
	r.Use(chimiddleware.RequestSize(maxBodyBytes))

	healthHandler := handlers.NewHealthHandler(relayStore)
	userHandler := handlers.NewUserHandler(relayStore)
	authHandler := handlers.NewAuthHandler(relayStore, jwtService)
	keyHandler := handlers.NewKeyHandler(relayStore, relayStore)
	messageHandler := handlers.NewMessageHandler(relayStore, gateway.Registry())

	requireAuth := apimiddleware.Auth(jwtService, relayStore)

	// Probes and metrics - unauthenticated
	r.Get("/health", healthHandler.Liveness)
	r.Get("/health/ready", healthHandler.Readiness)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	// Websocket handshake authenticates itself (auth frame + device
	// re-check) during connection setup.
	r.Get("/ws", gateway.HandleConnection)

	r.Route("/api", func(r chi.Router) {
		// Registration and directory lookups - unauthenticated
		r.Route("/users", func(r chi.Router) {
			r.With(apiLimit.Middleware).Post("/register", userHandler.Register)
			r.With(apiLimit.Middleware).Get("/by-username/{username}", userHandler.GetByUsername)
			r.With(apiLimit.Middleware).Get("/{id}", userHandler.GetByID)
			r.With(apiLimit.Middleware).Put("/{id}/identity", userHandler.UpdateIdentity)
		})

		// Challenge-response login
		r.Route("/auth", func(r chi.Router) {
			r.With(challengeLimit.Middleware).Post("/challenge", authHandler.Challenge)
			r.With(verifyLimit.Middleware).Post("/verify", authHandler.Verify)

			r.Group(func(r chi.Router) {
				r.Use(logoutLimit.Middleware)
				r.Use(requireAuth)
				r.Post("/logout", authHandler.Logout)
			})
		})

		// Key directory - authenticated
		r.Route("/keys", func(r chi.Router) {
			r.Use(apiLimit.Middleware)
			r.Use(requireAuth)

			r.Post("/signed-pre-key", keyHandler.UploadSignedPreKey)
			r.Post("/one-time-pre-keys", keyHandler.UploadOneTimePreKeys)
			r.Get("/bundle/{userId}", keyHandler.GetBundle)
			r.Get("/one-time-pre-keys/count/{userId}", keyHandler.CountOneTimeKeys)
		})

		// Relay - authenticated
		r.Route("/messages", func(r chi.Router) {
			r.Use(apiLimit.Middleware)
			r.Use(requireAuth)

			r.Post("/send", messageHandler.Send)
			r.Get("/offline", messageHandler.FetchOffline)
			r.Delete("/batch", messageHandler.AckDelete)
		})

		// Blob store collaborator - authenticated, separate rate class
		if blobs != nil {
			fileHandler := handlers.NewFileHandler(blobs)
			r.Route("/files", func(r chi.Router) {
				r.Use(fileLimit.Middleware)
				r.Use(requireAuth)

				r.Post("/upload", fileHandler.Upload)
				r.Get("/{key}", fileHandler.Download)
				r.Delete("/{key}", fileHandler.Delete)
			})
		}
	})

	return r
}

// requestLogger attaches a LogContext, then logs and measures every
// request on the way out.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		clientIP := r.RemoteAddr
		if host, _, err := net.SplitHostPort(clientIP); err == nil {
			clientIP = host
		}

		lc := &logger.LogContext{
			RequestID: chimiddleware.GetReqID(r.Context()),
			ClientIP:  clientIP,
			StartTime: start,
		}
		ctx := logger.WithContext(r.Context(), lc)

		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}

		metrics.ObserveRequest(r.Method, route, ww.Status(), time.Since(start))
		logger.DebugCtx(ctx, "request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", logger.Duration(start))
	})
}
